package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/naperu/zapinsight/internal/domain"
	"github.com/naperu/zapinsight/internal/llm"
	"github.com/naperu/zapinsight/internal/metrics"
	"github.com/naperu/zapinsight/internal/ws"
)

// QueueService drives the analysis queue state machine.
type QueueService struct {
	stores      Stores
	notifier    Notifier
	metrics     *metrics.Metrics
	maxAttempts int
	lease       time.Duration
}

// QueueStats is the operational view of the queue.
type QueueStats struct {
	Pending    int `json:"pendente"`
	Processing int `json:"processando"`
	Done       int `json:"concluido"`
	Failed     int `json:"erro"`
	Total      int `json:"total"`
}

type queueEvent struct {
	Item   *domain.QueueItem `json:"item"`
	Reason string            `json:"reason,omitempty"`
}

// Enqueue asks for an analysis of the contact. When an item is already
// pendente or processando for it, that item is returned and created is false.
func (s *QueueService) Enqueue(ctx context.Context, contactID uuid.UUID, priority int, reason string) (*domain.QueueItem, bool, error) {
	contact, err := s.stores.Contacts.GetByID(ctx, contactID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load contact: %w", err)
	}
	if contact == nil {
		return nil, false, ErrContactNotFound
	}

	item, created, err := s.stores.Queue.Enqueue(ctx, contactID, priority, reason)
	if err != nil {
		return nil, false, err
	}
	if created {
		log.Printf("[Queue] Enqueued %s (priority %d, %s)", contact.Phone, priority, reason)
		s.metrics.QueueTransition(domain.QueueStatusPending)
		s.notifier.Publish(ws.EventQueueUpdate, queueEvent{Item: item, Reason: reason})
	}
	return item, created, nil
}

// Claim moves up to limit pendente items to processando.
func (s *QueueService) Claim(ctx context.Context, limit int) ([]*domain.QueueItem, error) {
	items, err := s.stores.Queue.Claim(ctx, limit, s.maxAttempts)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		s.metrics.QueueTransition(domain.QueueStatusProcessing)
		s.notifier.Publish(ws.EventQueueUpdate, queueEvent{Item: item})
	}
	return items, nil
}

// Classify maps an analysis error to the queue's failure taxonomy.
func Classify(err error) domain.FailureKind {
	var rl *llm.RateLimitError
	switch {
	case errors.As(err, &rl):
		return domain.FailureRateLimited
	case errors.Is(err, ErrNoConversation), errors.Is(err, ErrContactNotFound):
		return domain.FailurePermanent
	default:
		return domain.FailureRetryable
	}
}

// Resolve settles a processando item after an attempt: nil completes it,
// a permanent failure or a spent budget fails it, anything else sends it back
// to pendente. It returns the new status.
func (s *QueueService) Resolve(ctx context.Context, item *domain.QueueItem, attemptErr error) (string, error) {
	to := domain.QueueStatusDone
	var lastError *string
	if attemptErr != nil {
		to = domain.NextStatus(Classify(attemptErr), item.Attempts, s.maxAttempts)
		msg := attemptErr.Error()
		lastError = &msg
	}
	if !domain.CanTransition(item.Status, to) {
		return item.Status, fmt.Errorf("invalid queue transition %s -> %s", item.Status, to)
	}

	ok, err := s.stores.Queue.Transition(ctx, item.ID, item.Status, to, lastError)
	if err != nil {
		return item.Status, fmt.Errorf("failed to update queue item: %w", err)
	}
	if !ok {
		return item.Status, ErrLeaseLost
	}

	item.Status = to
	item.LastError = lastError
	s.metrics.QueueTransition(to)
	s.notifier.Publish(ws.EventQueueUpdate, queueEvent{Item: item})
	if to == domain.QueueStatusError {
		log.Printf("[Queue] Item %s failed after %d attempts: %v", item.ID, item.Attempts, attemptErr)
	}
	return to, nil
}

// ReleaseStale returns items whose lease expired to pendente, or to erro when
// the retry budget is spent.
func (s *QueueService) ReleaseStale(ctx context.Context) (int, error) {
	n, err := s.stores.Queue.ReleaseStale(ctx, time.Now().Add(-s.lease), s.maxAttempts)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Printf("[Queue] Released %d stale items", n)
	}
	return n, nil
}

// Requeue enqueues the contact of a failed item again with manual priority.
func (s *QueueService) Requeue(ctx context.Context, itemID uuid.UUID) (*domain.QueueItem, error) {
	item, err := s.stores.Queue.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ErrQueueItemNotFound
	}
	if item.Status != domain.QueueStatusError {
		return nil, ErrNotRequeueable
	}
	next, _, err := s.Enqueue(ctx, item.ContactID, domain.QueuePriorityManual, domain.QueueReasonRequeue)
	return next, err
}

func (s *QueueService) Get(ctx context.Context, id uuid.UUID) (*domain.QueueItem, error) {
	return s.stores.Queue.GetByID(ctx, id)
}

func (s *QueueService) List(ctx context.Context, status string, limit int) ([]*domain.QueueItem, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.stores.Queue.List(ctx, status, limit)
}

func (s *QueueService) Stats(ctx context.Context) (QueueStats, error) {
	counts, err := s.stores.Queue.CountByStatus(ctx)
	if err != nil {
		return QueueStats{}, err
	}
	st := QueueStats{
		Pending:    counts[domain.QueueStatusPending],
		Processing: counts[domain.QueueStatusProcessing],
		Done:       counts[domain.QueueStatusDone],
		Failed:     counts[domain.QueueStatusError],
	}
	st.Total = st.Pending + st.Processing + st.Done + st.Failed
	return st, nil
}
