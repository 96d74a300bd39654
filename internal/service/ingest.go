package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/naperu/zapinsight/internal/domain"
	"github.com/naperu/zapinsight/internal/gateway"
	"github.com/naperu/zapinsight/internal/identity"
	"github.com/naperu/zapinsight/internal/mapper"
	"github.com/naperu/zapinsight/internal/metrics"
	"github.com/naperu/zapinsight/internal/ws"
	"golang.org/x/sync/errgroup"
)

// Message store outcomes, also used as metric labels
const (
	outcomeCreated   = "created"
	outcomeUpdated   = "updated"
	outcomeDuplicate = "duplicate"
)

const skipForeignChat = "message from another chat"

// IngestService pulls chats, contacts and messages from the gateway. Every
// mode is idempotent and returns a run summary instead of failing on one item.
type IngestService struct {
	stores   Stores
	gw       Gateway
	resolver *ResolverService
	queue    *QueueService
	notifier Notifier
	metrics  *metrics.Metrics
	opts     Options
}

// SyncOptions selects what a full sync covers.
type SyncOptions struct {
	Contacts     bool `json:"contacts"`
	Messages     bool `json:"messages"`
	MessageLimit int  `json:"message_limit"`
	// MaxContacts caps how many contacts each phase touches, 0 means all.
	MaxContacts int `json:"max_contacts"`
}

func (s *IngestService) startRun(ctx context.Context, mode string) *domain.RunSummary {
	run := &domain.RunSummary{Mode: mode, Running: true, StartedAt: time.Now()}
	if err := s.stores.Runs.Create(ctx, run); err != nil {
		log.Printf("[Ingest] Failed to record %s run: %v", mode, err)
	}
	return run
}

func (s *IngestService) finishRun(run *domain.RunSummary) {
	run.Finish(time.Now())
	if run.ID != uuid.Nil {
		// the caller's context may already be cancelled
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.stores.Runs.Finish(ctx, run); err != nil {
			log.Printf("[Ingest] Failed to persist run %s: %v", run.ID, err)
		}
		cancel()
	}
	s.metrics.RunFinished(run.Mode, time.Since(run.StartedAt))
	s.notifier.Publish(ws.EventRunSummary, run)
	log.Printf("[Ingest] %s finished in %s: contacts +%d/~%d, messages +%d/~%d, duplicates %d, skipped %d, failed %d, enqueued %d",
		run.Mode, run.Duration, run.ContactsCreated, run.ContactsUpdated, run.MessagesCreated, run.MessagesUpdated,
		run.Duplicates, run.Skipped, run.Failed, run.Enqueued)
}

func countResolution(run *domain.RunSummary, outcome string) {
	switch outcome {
	case resolveCreated:
		run.ContactsCreated++
	case resolveUpdated:
		run.ContactsUpdated++
	}
}

// PollContact fetches the latest messages of one stored contact.
func (s *IngestService) PollContact(ctx context.Context, contactID uuid.UUID, limit int) (*domain.RunSummary, error) {
	if limit <= 0 {
		limit = s.opts.PollMessageLimit
	}
	contact, err := s.stores.Contacts.GetByID(ctx, contactID)
	if err != nil {
		return nil, fmt.Errorf("failed to load contact: %w", err)
	}
	if contact == nil {
		return nil, ErrContactNotFound
	}

	run := s.startRun(ctx, domain.RunModeContactPoll)
	defer s.finishRun(run)

	if err := s.pollContact(ctx, contact, limit, run); err != nil {
		run.AddError(fmt.Sprintf("%s: %v", contact.Phone, err))
		return run, err
	}
	return run, nil
}

// FetchHistory fetches messages for any address, creating its contact first.
// Non-individual addresses are counted as skipped.
func (s *IngestService) FetchHistory(ctx context.Context, rawAddress string, limit int) (*domain.RunSummary, error) {
	if limit <= 0 {
		limit = s.opts.PollMessageLimit
	}
	run := s.startRun(ctx, domain.RunModeHistory)
	defer s.finishRun(run)

	addr, ok := identity.NormalizeAddress(rawAddress)
	if !ok {
		run.Skipped++
		log.Printf("[Ingest] History skipped for %q: not an individual chat", rawAddress)
		return run, nil
	}

	contact, outcome, err := s.resolver.resolve(ctx, addr, domain.ProfileHints{})
	if err != nil {
		run.AddError(fmt.Sprintf("%s: %v", addr.Phone, err))
		return run, err
	}
	countResolution(run, outcome)

	if err := s.pollContact(ctx, contact, limit, run); err != nil {
		run.AddError(fmt.Sprintf("%s: %v", addr.Phone, err))
		return run, err
	}
	return run, nil
}

// PollChats walks the recently active chats: normalize, resolve, fetch
// messages, ingest, and only then advance recency.
func (s *IngestService) PollChats(ctx context.Context, chatLimit, messageLimit int) (*domain.RunSummary, error) {
	if chatLimit <= 0 {
		chatLimit = s.opts.PollChatLimit
	}
	if messageLimit <= 0 {
		messageLimit = s.opts.PollMessageLimit
	}
	run := s.startRun(ctx, domain.RunModePoll)
	defer s.finishRun(run)

	chats, err := s.gw.FetchChats(ctx, chatLimit)
	if err != nil {
		run.AddError(fmt.Sprintf("fetch chats: %v", err))
		return run, fmt.Errorf("failed to fetch chats: %w", err)
	}

	for _, chat := range chats {
		if ctx.Err() != nil {
			log.Printf("[Ingest] Poll cancelled after partial progress")
			break
		}

		addr, ok := identity.NormalizeAddress(chat.ID)
		if !ok {
			run.Skipped++
			continue
		}

		var hints domain.ProfileHints
		if chat.Name != "" {
			name := chat.Name
			hints.PushName = &name
		}
		contact, outcome, err := s.resolver.resolve(ctx, addr, hints)
		if err != nil {
			log.Printf("[Ingest] Failed to resolve %s: %v", addr.Phone, err)
			run.AddError(fmt.Sprintf("%s: %v", addr.Phone, err))
			continue
		}
		countResolution(run, outcome)

		if err := s.pollContact(ctx, contact, messageLimit, run); err != nil {
			log.Printf("[Ingest] Failed to poll %s: %v", addr.Phone, err)
			run.AddError(fmt.Sprintf("%s: %v", addr.Phone, err))
		}
	}
	return run, nil
}

// StartFullSync records the run and performs the sync in the background
// under ctx, which must outlive the triggering request. The returned summary
// carries the run id to follow it by.
func (s *IngestService) StartFullSync(ctx context.Context, opts SyncOptions) *domain.RunSummary {
	run := s.startRun(ctx, domain.RunModeFullSync)
	snapshot := *run
	go func() {
		if err := s.fullSync(ctx, run, opts); err != nil {
			log.Printf("[Ingest] Background full sync %s failed: %v", run.ID, err)
		}
	}()
	return &snapshot
}

// FullSync imports the gateway contact book and/or backfills messages for the
// stored contacts, in bounded batches.
func (s *IngestService) FullSync(ctx context.Context, opts SyncOptions) (*domain.RunSummary, error) {
	run := s.startRun(ctx, domain.RunModeFullSync)
	err := s.fullSync(ctx, run, opts)
	return run, err
}

func (s *IngestService) fullSync(ctx context.Context, run *domain.RunSummary, opts SyncOptions) error {
	defer s.finishRun(run)

	if !opts.Contacts && !opts.Messages {
		opts.Contacts, opts.Messages = true, true
	}
	if opts.MessageLimit <= 0 {
		opts.MessageLimit = s.opts.PollMessageLimit
	}

	if opts.Contacts {
		if err := s.importContacts(ctx, opts.MaxContacts, run); err != nil {
			run.AddError(fmt.Sprintf("contact import: %v", err))
			return err
		}
	}
	if opts.Messages {
		if err := s.backfillMessages(ctx, opts, run); err != nil {
			run.AddError(fmt.Sprintf("message backfill: %v", err))
			return err
		}
	}
	return nil
}

func (s *IngestService) importContacts(ctx context.Context, maxContacts int, run *domain.RunSummary) error {
	batch := s.opts.SyncBatchSize
	seen := 0
	for offset := 0; ; {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := s.gw.FetchContacts(ctx, batch, offset)
		if err != nil {
			return fmt.Errorf("fetch contacts at offset %d: %w", offset, err)
		}

		for _, gc := range page {
			if maxContacts > 0 && seen >= maxContacts {
				return nil
			}
			seen++

			addr, ok := identity.NormalizeAddress(gc.ID)
			if !ok {
				run.Skipped++
				continue
			}
			_, outcome, err := s.resolver.resolve(ctx, addr, contactHints(gc))
			if err != nil {
				run.AddError(fmt.Sprintf("%s: %v", addr.Phone, err))
				continue
			}
			countResolution(run, outcome)
		}

		log.Printf("[Ingest] Contact import: %d processed (offset %d)", seen, offset)
		if len(page) < batch {
			return nil
		}
		offset += len(page)
		if !sleepCtx(ctx, s.opts.SyncBatchPause) {
			return ctx.Err()
		}
	}
}

func contactHints(gc gateway.Contact) domain.ProfileHints {
	hints := domain.ProfileHints{IsBusiness: gc.IsBusiness}
	if gc.Name != "" {
		name := gc.Name
		hints.Name = &name
	}
	if gc.PushName != "" {
		push := gc.PushName
		hints.PushName = &push
	}
	if gc.PictureURL != "" {
		pic := gc.PictureURL
		hints.AvatarURL = &pic
	}
	return hints
}

// backfillMessages pages stored contacts by id and polls each page with a
// bounded fan-out. Each worker fills its own summary, merged after the page.
func (s *IngestService) backfillMessages(ctx context.Context, opts SyncOptions, run *domain.RunSummary) error {
	batch := s.opts.SyncBatchSize
	after := uuid.Nil
	seen := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		limit := batch
		if opts.MaxContacts > 0 && opts.MaxContacts-seen < limit {
			limit = opts.MaxContacts - seen
		}
		if limit <= 0 {
			return nil
		}

		contacts, err := s.stores.Contacts.ListAfter(ctx, after, limit)
		if err != nil {
			return fmt.Errorf("list contacts: %w", err)
		}
		if len(contacts) == 0 {
			return nil
		}

		var mu sync.Mutex
		var g errgroup.Group
		g.SetLimit(s.opts.SyncConcurrency)
		for _, c := range contacts {
			c := c
			g.Go(func() error {
				part := &domain.RunSummary{}
				if err := s.pollContact(ctx, c, opts.MessageLimit, part); err != nil {
					log.Printf("[Ingest] Backfill failed for %s: %v", c.Phone, err)
					part.AddError(fmt.Sprintf("%s: %v", c.Phone, err))
				}
				mu.Lock()
				run.Merge(part)
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		seen += len(contacts)
		after = contacts[len(contacts)-1].ID
		log.Printf("[Ingest] Backfill: %d contacts processed", seen)

		if len(contacts) < limit {
			return nil
		}
		if !sleepCtx(ctx, s.opts.SyncBatchPause) {
			return ctx.Err()
		}
	}
}

// pollContact fetches and ingests the recent messages of one contact.
func (s *IngestService) pollContact(ctx context.Context, contact *domain.Contact, limit int, run *domain.RunSummary) error {
	addr, ok := contactAddress(contact)
	if !ok {
		run.Skipped++
		return nil
	}
	raws, err := s.gw.FetchMessages(ctx, addr.JID, limit, gateway.MessageFilter{})
	if err != nil {
		return fmt.Errorf("fetch messages: %w", err)
	}
	s.ingestMessages(ctx, contact, addr, raws, run)
	return nil
}

// ingestMessages is the single write path of every ingestion mode. Messages
// are keyed by gateway id; an existing id only ever gets a forward delivery
// status change.
func (s *IngestService) ingestMessages(ctx context.Context, contact *domain.Contact, addr identity.Address, raws []gateway.Message, run *domain.RunSummary) {
	var ingested []*domain.Message
	newInbound := false

	for _, raw := range raws {
		if ctx.Err() != nil {
			break
		}
		if raw.RemoteJID == "" {
			raw.RemoteJID = addr.JID
		}

		res := mapper.MapMessage(raw)
		if res.Skipped() {
			run.Skipped++
			s.metrics.MessageSkipped(res.Skip)
			continue
		}
		msg := res.Message
		if msg.Phone != contact.Phone {
			run.Skipped++
			s.metrics.MessageSkipped(skipForeignChat)
			continue
		}
		msg.ContactID = contact.ID

		outcome, err := s.storeMessage(ctx, msg)
		if err != nil {
			log.Printf("[Ingest] Failed to store message %s: %v", msg.MessageID, err)
			run.AddError(fmt.Sprintf("%s: %v", msg.MessageID, err))
			continue
		}
		s.metrics.MessageIngested(outcome)

		switch outcome {
		case outcomeCreated:
			run.MessagesCreated++
			if !msg.FromMe {
				newInbound = true
			}
			s.notifier.Publish(ws.EventNewMessage, msg)
		case outcomeUpdated:
			run.MessagesUpdated++
		default:
			run.Duplicates++
		}
		ingested = append(ingested, msg)
	}

	if len(ingested) > 0 {
		if err := s.resolver.ApplyRecency(ctx, contact.ID, ingested); err != nil {
			run.AddError(fmt.Sprintf("%s: %v", contact.Phone, err))
		}
	}

	if newInbound {
		_, created, err := s.queue.Enqueue(ctx, contact.ID, domain.QueuePriorityNewActivity, domain.QueueReasonNewActivity)
		if err != nil {
			log.Printf("[Ingest] Failed to enqueue %s for analysis: %v", contact.Phone, err)
			run.AddError(fmt.Sprintf("%s: enqueue: %v", contact.Phone, err))
		} else if created {
			run.Enqueued++
		}
	}
}

func (s *IngestService) storeMessage(ctx context.Context, msg *domain.Message) (string, error) {
	existing, err := s.stores.Messages.GetByMessageID(ctx, msg.MessageID)
	if err != nil {
		return "", err
	}
	if existing == nil {
		inserted, err := s.stores.Messages.InsertIfAbsent(ctx, msg)
		if err != nil {
			return "", err
		}
		if inserted {
			return outcomeCreated, nil
		}
		// lost the insert to a concurrent run
	}

	if msg.Status == nil {
		return outcomeDuplicate, nil
	}
	moved, err := s.stores.Messages.AdvanceStatus(ctx, msg.MessageID, *msg.Status)
	if err != nil {
		return "", err
	}
	if moved {
		return outcomeUpdated, nil
	}
	return outcomeDuplicate, nil
}

// sleepCtx waits d or until ctx is done, reporting false when cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// GetRun returns a recorded run, nil when unknown.
func (s *IngestService) GetRun(ctx context.Context, id uuid.UUID) (*domain.RunSummary, error) {
	return s.stores.Runs.GetByID(ctx, id)
}

// ListRuns returns the most recent runs first.
func (s *IngestService) ListRuns(ctx context.Context, limit int) ([]*domain.RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.stores.Runs.List(ctx, limit)
}
