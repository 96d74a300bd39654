// Package gateway is the HTTP client for the external WhatsApp messaging gateway.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// HTTPError is a non-2xx answer from the gateway.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("gateway %s %s returned %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Client is a rate-limited HTTP client for the messaging gateway.
type Client struct {
	baseURL     string
	token       string
	httpClient  *http.Client
	minInterval time.Duration
	mu          sync.Mutex
	lastReq     time.Time
}

// NewClient creates a gateway client. instance, when set, is appended to the
// base URL as the session path segment.
func NewClient(baseURL, token, instance string, minInterval time.Duration) *Client {
	base := strings.TrimRight(baseURL, "/")
	if instance != "" {
		base += "/" + url.PathEscape(instance)
	}
	return &Client{
		baseURL:     base,
		token:       token,
		minInterval: minInterval,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// rateLimit spaces requests at least minInterval apart across goroutines.
func (c *Client) rateLimit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if wait := c.minInterval - time.Since(c.lastReq); wait > 0 {
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	c.lastReq = time.Now()
	return nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	if err := c.rateLimit(ctx); err != nil {
		return nil, err
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gateway read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{Method: http.MethodGet, Path: path, StatusCode: resp.StatusCode, Body: truncate(string(body), 300)}
	}
	return body, nil
}

// FetchChats returns up to limit recently active chats.
func (c *Client) FetchChats(ctx context.Context, limit int) ([]Chat, error) {
	body, err := c.get(ctx, "/chats", url.Values{"limit": {strconv.Itoa(limit)}})
	if err != nil {
		return nil, err
	}
	items, err := decodeList(body)
	if err != nil {
		return nil, fmt.Errorf("gateway chats: %w", err)
	}
	chats := make([]Chat, 0, len(items))
	for _, item := range items {
		var chat Chat
		if err := json.Unmarshal(item, &chat); err != nil {
			log.Printf("[Gateway] Undecodable chat entry: %v", err)
			chat = Chat{Malformed: true}
		}
		chats = append(chats, chat)
	}
	if limit > 0 && len(chats) > limit {
		chats = chats[:limit]
	}
	return chats, nil
}

// MessageFilter narrows a message fetch.
type MessageFilter struct {
	// Since drops messages older than this instant when the gateway supports it.
	Since time.Time
	// FromMe restricts to one direction when set.
	FromMe *bool
}

// FetchMessages returns up to limit recent messages of one chat.
func (c *Client) FetchMessages(ctx context.Context, address string, limit int, filter MessageFilter) ([]Message, error) {
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	if !filter.Since.IsZero() {
		q.Set("since", strconv.FormatInt(filter.Since.Unix(), 10))
	}
	if filter.FromMe != nil {
		q.Set("fromMe", strconv.FormatBool(*filter.FromMe))
	}
	body, err := c.get(ctx, "/chats/"+url.PathEscape(address)+"/messages", q)
	if err != nil {
		return nil, err
	}
	items, err := decodeList(body)
	if err != nil {
		return nil, fmt.Errorf("gateway messages: %w", err)
	}
	msgs := make([]Message, 0, len(items))
	for _, item := range items {
		var msg Message
		if err := json.Unmarshal(item, &msg); err != nil {
			log.Printf("[Gateway] Undecodable message entry: %v", err)
			msg = Message{Malformed: true}
		}
		msgs = append(msgs, msg)
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

// FetchContacts pages through the gateway address book.
func (c *Client) FetchContacts(ctx context.Context, limit, offset int) ([]Contact, error) {
	body, err := c.get(ctx, "/contacts", url.Values{
		"limit":  {strconv.Itoa(limit)},
		"offset": {strconv.Itoa(offset)},
	})
	if err != nil {
		return nil, err
	}
	items, err := decodeList(body)
	if err != nil {
		return nil, fmt.Errorf("gateway contacts: %w", err)
	}
	contacts := make([]Contact, 0, len(items))
	for _, item := range items {
		var ct Contact
		if err := json.Unmarshal(item, &ct); err != nil {
			log.Printf("[Gateway] Undecodable contact entry: %v", err)
			ct = Contact{Malformed: true}
		}
		contacts = append(contacts, ct)
	}
	return contacts, nil
}

// FetchProfile returns the public profile of an address.
func (c *Client) FetchProfile(ctx context.Context, address string) (*Profile, error) {
	body, err := c.get(ctx, "/contacts/"+url.PathEscape(address)+"/profile", nil)
	if err != nil {
		return nil, err
	}
	var profile Profile
	if err := json.Unmarshal(unwrapObject(body), &profile); err != nil {
		return nil, fmt.Errorf("gateway profile: %w", err)
	}
	return &profile, nil
}

// FetchProfilePicture returns the profile picture URL of an address, "" when none.
func (c *Client) FetchProfilePicture(ctx context.Context, address string) (string, error) {
	body, err := c.get(ctx, "/contacts/"+url.PathEscape(address)+"/picture", nil)
	if err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
			return "", nil
		}
		return "", err
	}
	var pic struct {
		URL               string `json:"url"`
		ProfilePictureURL string `json:"profilePictureUrl"`
		EURL              string `json:"eurl"`
	}
	if err := json.Unmarshal(unwrapObject(body), &pic); err != nil {
		return "", fmt.Errorf("gateway picture: %w", err)
	}
	return firstNonEmpty(pic.URL, pic.ProfilePictureURL, pic.EURL), nil
}

// Download fetches a media URL handed out by the gateway (e.g. a profile picture).
func (c *Client) Download(ctx context.Context, mediaURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("gateway download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", &HTTPError{Method: http.MethodGet, Path: "download", StatusCode: resp.StatusCode}
	}
	// profile pictures are capped at 5MB
	data, err := io.ReadAll(io.LimitReader(resp.Body, 5<<20))
	if err != nil {
		return nil, "", fmt.Errorf("gateway download read: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
