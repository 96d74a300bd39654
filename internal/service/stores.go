package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/naperu/zapinsight/internal/domain"
	"github.com/naperu/zapinsight/internal/gateway"
	"github.com/naperu/zapinsight/internal/llm"
	"github.com/naperu/zapinsight/internal/storage"
	"github.com/naperu/zapinsight/internal/ws"
	"github.com/naperu/zapinsight/pkg/cache"
)

// ContactStore persists contacts keyed by canonical phone and address.
type ContactStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Contact, error)
	GetByJID(ctx context.Context, jid string) (*domain.Contact, error)
	GetByPhone(ctx context.Context, phone string) (*domain.Contact, error)
	// Upsert inserts a lead keyed by phone or merges hints into the existing row.
	Upsert(ctx context.Context, phone, jid string, hints domain.ProfileHints) (*domain.Contact, bool, error)
	// MergeProfile attaches a missing jid and merges non-nil hints.
	MergeProfile(ctx context.Context, id uuid.UUID, jid string, hints domain.ProfileHints) (*domain.Contact, error)
	// AdvanceRecency moves last_message_at/last_contact_at forward to ts, never back.
	AdvanceRecency(ctx context.Context, id uuid.UUID, ts time.Time) error
	ApplyScoring(ctx context.Context, id uuid.UUID, scoring ContactScoring) error
	UpdateAvatarURL(ctx context.Context, id uuid.UUID, avatarURL string) error
	// ListAfter pages contacts by id (keyset).
	ListAfter(ctx context.Context, after uuid.UUID, limit int) ([]*domain.Contact, error)
}

// ContactScoring is what an analysis writes back onto the contact.
type ContactScoring struct {
	InterestScore int
	Priority      string
	Summary       string
	ClassifiedAt  time.Time
}

// MessageStore persists messages keyed by gateway message id.
type MessageStore interface {
	GetByMessageID(ctx context.Context, messageID string) (*domain.Message, error)
	// InsertIfAbsent reports false when the message id already exists.
	InsertIfAbsent(ctx context.Context, msg *domain.Message) (bool, error)
	// AdvanceStatus applies status only when it ranks above the stored one.
	AdvanceStatus(ctx context.Context, messageID, status string) (bool, error)
	// ListRecent returns up to limit messages, most recent first.
	ListRecent(ctx context.Context, contactID uuid.UUID, limit int) ([]*domain.Message, error)
	Stats(ctx context.Context, contactID uuid.UUID) (domain.MessageStats, error)
}

// QueueStore persists analysis queue items.
type QueueStore interface {
	// Enqueue creates a pendente item unless one is already in flight for the
	// contact; then the existing item is returned with created=false.
	Enqueue(ctx context.Context, contactID uuid.UUID, priority int, reason string) (*domain.QueueItem, bool, error)
	// Claim moves up to limit pendente items to processando, incrementing attempts.
	Claim(ctx context.Context, limit, maxAttempts int) ([]*domain.QueueItem, error)
	// Transition updates the item only while it is still in status from.
	Transition(ctx context.Context, id uuid.UUID, from, to string, lastError *string) (bool, error)
	ReleaseStale(ctx context.Context, startedBefore time.Time, maxAttempts int) (int, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.QueueItem, error)
	List(ctx context.Context, status string, limit int) ([]*domain.QueueItem, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
}

// InsightStore persists one insight per contact.
type InsightStore interface {
	Upsert(ctx context.Context, insight *domain.Insight) error
	GetByContactID(ctx context.Context, contactID uuid.UUID) (*domain.Insight, error)
}

// RunStore records ingestion runs.
type RunStore interface {
	Create(ctx context.Context, run *domain.RunSummary) error
	Finish(ctx context.Context, run *domain.RunSummary) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.RunSummary, error)
	List(ctx context.Context, limit int) ([]*domain.RunSummary, error)
}

// Gateway is the subset of the messaging gateway the pipeline consumes.
type Gateway interface {
	FetchChats(ctx context.Context, limit int) ([]gateway.Chat, error)
	FetchMessages(ctx context.Context, address string, limit int, filter gateway.MessageFilter) ([]gateway.Message, error)
	FetchContacts(ctx context.Context, limit, offset int) ([]gateway.Contact, error)
	FetchProfile(ctx context.Context, address string) (*gateway.Profile, error)
	FetchProfilePicture(ctx context.Context, address string) (string, error)
	Download(ctx context.Context, mediaURL string) ([]byte, string, error)
}

// AvatarStore keeps mirrored profile pictures.
type AvatarStore interface {
	UploadFile(ctx context.Context, folder, filename string, data []byte, contentType string) (string, error)
	// DeleteByURL reports false for URLs the store did not publish.
	DeleteByURL(ctx context.Context, url string) (bool, error)
}

// Notifier pushes live events to connected clients. Publish must not block.
type Notifier interface {
	Publish(event string, data interface{})
}

// Cache is the key/value cache used for gateway profile lookups and insights.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

var (
	_ llm.Client  = (*llm.OpenAIClient)(nil)
	_ Gateway     = (*gateway.Client)(nil)
	_ AvatarStore = (*storage.Storage)(nil)
	_ Cache       = (*cache.Cache)(nil)
	_ Notifier    = (*ws.Hub)(nil)
)
