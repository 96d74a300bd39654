package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Storage mirrors contact profile pictures into an S3-compatible bucket.
type Storage struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

// Config holds MinIO configuration
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	PublicURL string
}

// New creates a new Storage instance
func New(cfg Config) (*Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	publicURL := cfg.PublicURL
	if publicURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		publicURL = fmt.Sprintf("%s://%s", scheme, cfg.Endpoint)
	}

	s := &Storage{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(publicURL, "/"),
	}

	if err := s.ensureBucket(context.Background()); err != nil {
		return nil, err
	}

	return s, nil
}

// ensureBucket creates the bucket with a public read policy if it doesn't exist
func (s *Storage) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if exists {
		return nil
	}

	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}

	if err := s.client.SetBucketPolicy(ctx, s.bucket, publicReadPolicy(s.bucket)); err != nil {
		return fmt.Errorf("failed to set bucket policy: %w", err)
	}
	return nil
}

func publicReadPolicy(bucket string) string {
	return fmt.Sprintf(`{
		"Version": "2012-10-17",
		"Statement": [
			{
				"Effect": "Allow",
				"Principal": {"AWS": ["*"]},
				"Action": ["s3:GetObject"],
				"Resource": ["arn:aws:s3:::%s/avatars/*"]
			}
		]
	}`, bucket)
}

// UploadFile stores data under folder/filename and returns its public URL.
func (s *Storage) UploadFile(ctx context.Context, folder, filename string, data []byte, contentType string) (string, error) {
	objectKey := path.Join(folder, filename)

	_, err := s.client.PutObject(ctx, s.bucket, objectKey, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload file: %w", err)
	}

	return s.GetPublicURL(objectKey), nil
}

// DeleteFile removes a file from storage
func (s *Storage) DeleteFile(ctx context.Context, objectKey string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, objectKey, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// DeleteByURL removes an object this storage published. URLs from
// elsewhere (the gateway CDN) are left alone and reported as not owned.
func (s *Storage) DeleteByURL(ctx context.Context, fullURL string) (bool, error) {
	key, err := s.ExtractObjectKey(fullURL)
	if err != nil {
		return false, nil
	}
	return true, s.DeleteFile(ctx, key)
}

// Ping checks the bucket is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}

// GetPublicURL returns the public URL for an object
func (s *Storage) GetPublicURL(objectKey string) string {
	return joinPublicURL(s.publicURL, s.bucket, objectKey)
}

// ExtractObjectKey extracts the object key from a URL produced by GetPublicURL
func (s *Storage) ExtractObjectKey(fullURL string) (string, error) {
	return objectKeyFromURL(fullURL, s.bucket)
}

func joinPublicURL(publicURL, bucket, objectKey string) string {
	return fmt.Sprintf("%s/%s/%s", publicURL, bucket, objectKey)
}

func objectKeyFromURL(fullURL, bucket string) (string, error) {
	parsed, err := url.Parse(fullURL)
	if err != nil {
		return "", err
	}
	prefix := "/" + bucket + "/"
	if !strings.HasPrefix(parsed.Path, prefix) {
		return "", fmt.Errorf("url %q is not in bucket %s", fullURL, bucket)
	}
	return strings.TrimPrefix(parsed.Path, prefix), nil
}

// AvatarFolder is where mirrored profile pictures live.
const AvatarFolder = "avatars"

// AvatarFilename names the mirrored picture of a phone, picking the extension
// from the downloaded content type.
func AvatarFilename(phone, contentType string) string {
	ext := ".jpg"
	switch {
	case strings.Contains(contentType, "png"):
		ext = ".png"
	case strings.Contains(contentType, "webp"):
		ext = ".webp"
	}
	return phone + ext
}
