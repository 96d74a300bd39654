package domain

import (
	"time"

	"github.com/google/uuid"
)

// Contact statuses
const (
	ContactStatusLead = "lead"
)

// Priority buckets
const (
	PriorityHigh   = "alta"
	PriorityMedium = "media"
	PriorityLow    = "baixa"
)

// Contact is one real-world messaging identity.
type Contact struct {
	ID            uuid.UUID  `json:"id"`
	Phone         string     `json:"phone"`
	JID           *string    `json:"jid,omitempty"`
	Name          *string    `json:"name,omitempty"`
	PushName      *string    `json:"push_name,omitempty"`
	AvatarURL     *string    `json:"avatar_url,omitempty"`
	IsBusiness    bool       `json:"is_business"`
	Status        string     `json:"status"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	LastContactAt *time.Time `json:"last_contact_at,omitempty"`
	InterestScore *int       `json:"interest_score,omitempty"`
	Priority      *string    `json:"priority,omitempty"`
	AISummary     *string    `json:"ai_summary,omitempty"`
	ClassifiedAt  *time.Time `json:"classified_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// DisplayName returns the best available name for the contact
func (c *Contact) DisplayName() string {
	if c.Name != nil && *c.Name != "" {
		return *c.Name
	}
	if c.PushName != nil && *c.PushName != "" {
		return *c.PushName
	}
	return c.Phone
}

// Address returns the canonical messaging address, empty when unknown.
func (c *Contact) Address() string {
	if c.JID == nil {
		return ""
	}
	return *c.JID
}

// ProfileHints carries optional profile metadata observed at the gateway.
// Nil fields leave the stored value untouched.
type ProfileHints struct {
	Name       *string `json:"name,omitempty"`
	PushName   *string `json:"push_name,omitempty"`
	AvatarURL  *string `json:"avatar_url,omitempty"`
	IsBusiness *bool   `json:"is_business,omitempty"`
}

// Empty reports whether the hints carry nothing to merge.
func (h ProfileHints) Empty() bool {
	return h.Name == nil && h.PushName == nil && h.AvatarURL == nil && h.IsBusiness == nil
}

// Media kinds
const (
	MediaText     = "texto"
	MediaImage    = "imagem"
	MediaAudio    = "audio"
	MediaVideo    = "video"
	MediaDocument = "documento"
	MediaSticker  = "sticker"
	MediaContact  = "contato"
	MediaLocation = "localizacao"
)

// Message directions
const (
	DirectionFromMe      = "from_me"
	DirectionFromContact = "from_contact"
)

// Message is one gateway message. Only Status changes after creation.
type Message struct {
	ID        uuid.UUID `json:"id"`
	MessageID string    `json:"message_id"`
	ContactID uuid.UUID `json:"contact_id"`
	Phone     string    `json:"phone"`
	JID       string    `json:"jid"`
	FromMe    bool      `json:"from_me"`
	Body      string    `json:"body"`
	MediaType string    `json:"media_type"`
	Timestamp time.Time `json:"timestamp"`
	Status    *string   `json:"status,omitempty"`
	PushName  string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Direction returns from_me or from_contact.
func (m *Message) Direction() string {
	if m.FromMe {
		return DirectionFromMe
	}
	return DirectionFromContact
}

// MessageStats summarizes the stored conversation of one contact.
type MessageStats struct {
	Total              int        `json:"total"`
	Inbound            int        `json:"inbound"`
	Outbound           int        `json:"outbound"`
	FirstInteractionAt *time.Time `json:"first_interaction_at,omitempty"`
	LastInteractionAt  *time.Time `json:"last_interaction_at,omitempty"`
}

// Insight is the AI-derived commercial summary of a contact. One per contact.
type Insight struct {
	ID                    uuid.UUID  `json:"id"`
	ContactID             uuid.UUID  `json:"contact_id"`
	Sentiment             string     `json:"sentiment"`
	EngagementScore       int        `json:"engagement_score"`
	ConversionProbability int        `json:"conversion_probability"`
	Interests             []string   `json:"interests"`
	Objections            []string   `json:"objections"`
	PurchaseTriggers      []string   `json:"purchase_triggers"`
	NextAction            string     `json:"next_action"`
	PreferredTime         string     `json:"preferred_time,omitempty"`
	PreferredDay          string     `json:"preferred_day,omitempty"`
	Summary               string     `json:"summary,omitempty"`
	TotalMessages         int        `json:"total_messages"`
	InboundMessages       int        `json:"inbound_messages"`
	OutboundMessages      int        `json:"outbound_messages"`
	FirstInteractionAt    *time.Time `json:"first_interaction_at,omitempty"`
	LastInteractionAt     *time.Time `json:"last_interaction_at,omitempty"`
	AnalyzedAt            time.Time  `json:"analyzed_at"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// Ingestion modes
const (
	RunModePoll        = "poll"
	RunModeContactPoll = "contact_poll"
	RunModeHistory     = "history"
	RunModeFullSync    = "full_sync"
)

// RunSummary holds the results of one ingestion invocation.
type RunSummary struct {
	ID              uuid.UUID  `json:"id"`
	Mode            string     `json:"mode"`
	Running         bool       `json:"running"`
	ContactsCreated int        `json:"contacts_created"`
	ContactsUpdated int        `json:"contacts_updated"`
	MessagesCreated int        `json:"messages_created"`
	MessagesUpdated int        `json:"messages_updated"`
	Duplicates      int        `json:"duplicates"`
	Skipped         int        `json:"skipped"`
	Failed          int        `json:"failed"`
	Enqueued        int        `json:"enqueued"`
	Errors          []string   `json:"errors,omitempty"`
	Duration        string     `json:"duration"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// maxRunErrors bounds the error list kept on a summary.
const maxRunErrors = 50

// AddError records a per-item failure.
func (r *RunSummary) AddError(msg string) {
	r.Failed++
	if len(r.Errors) < maxRunErrors {
		r.Errors = append(r.Errors, msg)
	}
}

// Merge folds another summary's counters into r.
func (r *RunSummary) Merge(o *RunSummary) {
	r.ContactsCreated += o.ContactsCreated
	r.ContactsUpdated += o.ContactsUpdated
	r.MessagesCreated += o.MessagesCreated
	r.MessagesUpdated += o.MessagesUpdated
	r.Duplicates += o.Duplicates
	r.Skipped += o.Skipped
	r.Failed += o.Failed
	r.Enqueued += o.Enqueued
	for _, e := range o.Errors {
		if len(r.Errors) >= maxRunErrors {
			break
		}
		r.Errors = append(r.Errors, e)
	}
}

// Finish stamps the end of the run.
func (r *RunSummary) Finish(now time.Time) {
	r.Running = false
	r.FinishedAt = &now
	r.Duration = now.Sub(r.StartedAt).Round(time.Millisecond).String()
}

// AnalysisSummary holds the results of one worker batch.
type AnalysisSummary struct {
	Claimed     int      `json:"claimed"`
	Completed   int      `json:"completed"`
	Retried     int      `json:"retried"`
	Failed      int      `json:"failed"`
	RateLimited bool     `json:"rate_limited"`
	Errors      []string `json:"errors,omitempty"`
	Duration    string   `json:"duration"`
}
