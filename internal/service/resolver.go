package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/naperu/zapinsight/internal/domain"
	"github.com/naperu/zapinsight/internal/identity"
	"github.com/naperu/zapinsight/internal/metrics"
	"github.com/naperu/zapinsight/internal/storage"
	"github.com/naperu/zapinsight/internal/ws"
	"github.com/naperu/zapinsight/pkg/cache"
)

// Resolution outcomes, also used as metric labels
const (
	resolveCreated   = "created"
	resolveUpdated   = "updated"
	resolveUnchanged = "unchanged"
)

// ResolverService finds or creates the contact behind a canonical address.
type ResolverService struct {
	stores     Stores
	gw         Gateway
	cache      Cache
	avatars    AvatarStore
	notifier   Notifier
	metrics    *metrics.Metrics
	profileTTL time.Duration
}

// Resolve looks the contact up by address, then by phone, creating a lead
// seeded from hints when neither matches. Existing contacts get hints merged.
func (s *ResolverService) Resolve(ctx context.Context, addr identity.Address, hints domain.ProfileHints) (*domain.Contact, bool, error) {
	c, outcome, err := s.resolve(ctx, addr, hints)
	if err != nil {
		return nil, false, err
	}
	return c, outcome == resolveCreated, nil
}

func (s *ResolverService) resolve(ctx context.Context, addr identity.Address, hints domain.ProfileHints) (*domain.Contact, string, error) {
	existing, err := s.stores.Contacts.GetByJID(ctx, addr.JID)
	if err != nil {
		return nil, "", fmt.Errorf("lookup contact by address: %w", err)
	}
	if existing == nil {
		existing, err = s.stores.Contacts.GetByPhone(ctx, addr.Phone)
		if err != nil {
			return nil, "", fmt.Errorf("lookup contact by phone: %w", err)
		}
	}

	if existing == nil {
		// a concurrent run may create the same phone; Upsert converges on one row
		c, created, err := s.stores.Contacts.Upsert(ctx, addr.Phone, addr.JID, hints)
		if err != nil {
			return nil, "", err
		}
		outcome := resolveUpdated
		if created {
			outcome = resolveCreated
			log.Printf("[Resolver] New lead %s (%s)", c.Phone, c.DisplayName())
		}
		s.metrics.ContactResolved(outcome)
		s.notifier.Publish(ws.EventContactUpdate, c)
		return c, outcome, nil
	}

	if hints.Empty() && existing.JID != nil {
		s.metrics.ContactResolved(resolveUnchanged)
		return existing, resolveUnchanged, nil
	}

	merged, err := s.stores.Contacts.MergeProfile(ctx, existing.ID, addr.JID, hints)
	if err != nil {
		return nil, "", fmt.Errorf("merge contact profile: %w", err)
	}
	if merged == nil {
		return nil, "", ErrContactNotFound
	}
	outcome := resolveUnchanged
	if profileChanged(existing, merged) {
		outcome = resolveUpdated
		s.notifier.Publish(ws.EventContactUpdate, merged)
	}
	s.metrics.ContactResolved(outcome)
	return merged, outcome, nil
}

// ApplyRecency moves the contact's last-message and last-contact timestamps
// to the newest of msgs. The store keeps the greater of stored and given.
func (s *ResolverService) ApplyRecency(ctx context.Context, contactID uuid.UUID, msgs []*domain.Message) error {
	var latest time.Time
	for _, m := range msgs {
		if m.Timestamp.After(latest) {
			latest = m.Timestamp
		}
	}
	if latest.IsZero() {
		return nil
	}
	if err := s.stores.Contacts.AdvanceRecency(ctx, contactID, latest); err != nil {
		return fmt.Errorf("advance recency: %w", err)
	}
	return nil
}

type profileSnapshot struct {
	Name       string `json:"name,omitempty"`
	PushName   string `json:"push_name,omitempty"`
	IsBusiness *bool  `json:"is_business,omitempty"`
	PictureURL string `json:"picture_url,omitempty"`
}

// Enrich pulls the gateway profile of the contact, cached for the profile TTL,
// merges it and mirrors the profile picture into object storage.
func (s *ResolverService) Enrich(ctx context.Context, c *domain.Contact) (*domain.Contact, error) {
	addr, ok := contactAddress(c)
	if !ok {
		return c, ErrInvalidAddress
	}

	var snap profileSnapshot
	hit := false
	if s.cache != nil {
		var err error
		hit, err = cache.GetJSON(ctx, s.cache, cache.ProfileKey(addr.JID), &snap)
		if err != nil {
			log.Printf("[Resolver] Profile cache read failed for %s: %v", addr.Phone, err)
		}
	}
	if !hit {
		fetched, err := s.fetchProfile(ctx, addr)
		if err != nil {
			return c, err
		}
		snap = fetched
		if s.cache != nil {
			if err := cache.SetJSON(ctx, s.cache, cache.ProfileKey(addr.JID), snap, s.profileTTL); err != nil {
				log.Printf("[Resolver] Profile cache write failed for %s: %v", addr.Phone, err)
			}
		}
	}

	hints := domain.ProfileHints{IsBusiness: snap.IsBusiness}
	if snap.Name != "" {
		hints.Name = &snap.Name
	}
	if snap.PushName != "" {
		hints.PushName = &snap.PushName
	}
	// without object storage the gateway URL is kept as is
	if snap.PictureURL != "" && s.avatars == nil {
		hints.AvatarURL = &snap.PictureURL
	}

	merged, _, err := s.resolve(ctx, addr, hints)
	if err != nil {
		return c, err
	}

	if !hit && snap.PictureURL != "" && s.avatars != nil {
		if url, err := s.mirrorAvatar(ctx, merged, snap.PictureURL); err != nil {
			log.Printf("[Resolver] Avatar mirror failed for %s: %v", merged.Phone, err)
		} else {
			merged.AvatarURL = &url
		}
	}
	return merged, nil
}

func (s *ResolverService) fetchProfile(ctx context.Context, addr identity.Address) (profileSnapshot, error) {
	p, err := s.gw.FetchProfile(ctx, addr.JID)
	if err != nil {
		return profileSnapshot{}, fmt.Errorf("fetch profile: %w", err)
	}
	snap := profileSnapshot{}
	if p != nil {
		snap = profileSnapshot{Name: p.Name, PushName: p.PushName, IsBusiness: p.IsBusiness, PictureURL: p.PictureURL}
	}
	if snap.PictureURL == "" {
		pic, err := s.gw.FetchProfilePicture(ctx, addr.JID)
		if err != nil {
			log.Printf("[Resolver] Profile picture lookup failed for %s: %v", addr.Phone, err)
		}
		snap.PictureURL = pic
	}
	return snap, nil
}

func (s *ResolverService) mirrorAvatar(ctx context.Context, c *domain.Contact, pictureURL string) (string, error) {
	data, contentType, err := s.gw.Download(ctx, pictureURL)
	if err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = "image/jpeg"
	}
	url, err := s.avatars.UploadFile(ctx, storage.AvatarFolder, storage.AvatarFilename(c.Phone, contentType), data, contentType)
	if err != nil {
		return "", err
	}
	if err := s.stores.Contacts.UpdateAvatarURL(ctx, c.ID, url); err != nil {
		return "", err
	}
	// a new content type changes the object key; drop the old mirror
	if c.AvatarURL != nil && *c.AvatarURL != url {
		if _, err := s.avatars.DeleteByURL(ctx, *c.AvatarURL); err != nil {
			log.Printf("[Resolver] Failed to remove old avatar of %s: %v", c.Phone, err)
		}
	}
	return url, nil
}

// contactAddress returns the stored address of c, deriving it from the phone
// for contacts imported without one.
func contactAddress(c *domain.Contact) (identity.Address, bool) {
	if jid := c.Address(); jid != "" {
		if addr, ok := identity.NormalizeAddress(jid); ok {
			return addr, true
		}
	}
	return identity.NormalizeAddress(c.Phone)
}

func profileChanged(before, after *domain.Contact) bool {
	return !sameString(before.JID, after.JID) ||
		!sameString(before.Name, after.Name) ||
		!sameString(before.PushName, after.PushName) ||
		!sameString(before.AvatarURL, after.AvatarURL) ||
		before.IsBusiness != after.IsBusiness
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// GetContact returns the stored contact or ErrContactNotFound.
func (s *ResolverService) GetContact(ctx context.Context, id uuid.UUID) (*domain.Contact, error) {
	c, err := s.stores.Contacts.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load contact: %w", err)
	}
	if c == nil {
		return nil, ErrContactNotFound
	}
	return c, nil
}

// EnrichByID enriches a stored contact.
func (s *ResolverService) EnrichByID(ctx context.Context, id uuid.UUID) (*domain.Contact, error) {
	c, err := s.GetContact(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.Enrich(ctx, c)
}
