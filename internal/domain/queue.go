package domain

import (
	"time"

	"github.com/google/uuid"
)

// Queue item statuses
const (
	QueueStatusPending    = "pendente"
	QueueStatusProcessing = "processando"
	QueueStatusDone       = "concluido"
	QueueStatusError      = "erro"
)

// Queue priority ranks, lower is claimed first
const (
	QueuePriorityManual      = 1
	QueuePriorityNewActivity = 5
	QueuePriorityBackfill    = 9
)

// Enqueue reasons
const (
	QueueReasonManual      = "manual"
	QueueReasonNewActivity = "new_activity"
	QueueReasonRequeue     = "requeue"
	QueueReasonBackfill    = "backfill"
)

// DefaultMaxAttempts is the retry budget of a queue item.
const DefaultMaxAttempts = 3

// QueueItem is a persisted unit of analysis work for one contact.
type QueueItem struct {
	ID          uuid.UUID  `json:"id"`
	ContactID   uuid.UUID  `json:"contact_id"`
	Priority    int        `json:"priority"`
	Attempts    int        `json:"attempts"`
	Status      string     `json:"status"`
	Reason      string     `json:"reason,omitempty"`
	LastError   *string    `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// InFlight reports whether the item still blocks a new enqueue for its contact.
func (q *QueueItem) InFlight() bool {
	return q.Status == QueueStatusPending || q.Status == QueueStatusProcessing
}

// IsQueueStatus reports whether s is one of the four queue statuses.
func IsQueueStatus(s string) bool {
	switch s {
	case QueueStatusPending, QueueStatusProcessing, QueueStatusDone, QueueStatusError:
		return true
	}
	return false
}

var queueTransitions = map[string][]string{
	QueueStatusPending:    {QueueStatusProcessing},
	QueueStatusProcessing: {QueueStatusDone, QueueStatusError, QueueStatusPending},
}

// CanTransition reports whether the queue state machine allows from -> to.
// concluido and erro are terminal.
func CanTransition(from, to string) bool {
	for _, s := range queueTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// FailureKind classifies why an analysis attempt did not complete.
type FailureKind int

const (
	// FailureRetryable returns the item to pendente while budget remains.
	FailureRetryable FailureKind = iota
	// FailureRateLimited is retryable and also ends the current batch.
	FailureRateLimited
	// FailurePermanent goes straight to erro.
	FailurePermanent
)

// NextStatus decides where a processando item goes after a failed attempt.
// attempts already includes the claim of the failed attempt.
func NextStatus(kind FailureKind, attempts, maxAttempts int) string {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if kind == FailurePermanent || attempts >= maxAttempts {
		return QueueStatusError
	}
	return QueueStatusPending
}
