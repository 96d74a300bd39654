package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/naperu/zapinsight/internal/domain"
)

// memStore implements every store port in memory with the same keyed
// semantics as the PostgreSQL repositories.
type memStore struct {
	mu       sync.Mutex
	contacts map[uuid.UUID]*domain.Contact
	messages map[string]*domain.Message
	queue    map[uuid.UUID]*domain.QueueItem
	insights map[uuid.UUID]*domain.Insight
	runs     map[uuid.UUID]*domain.RunSummary
	seq      time.Time
}

func newMemStore() *memStore {
	return &memStore{
		contacts: map[uuid.UUID]*domain.Contact{},
		messages: map[string]*domain.Message{},
		queue:    map[uuid.UUID]*domain.QueueItem{},
		insights: map[uuid.UUID]*domain.Insight{},
		runs:     map[uuid.UUID]*domain.RunSummary{},
		seq:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *memStore) stores() Stores {
	return Stores{
		Contacts: memContacts{m},
		Messages: memMessages{m},
		Queue:    memQueue{m},
		Insights: memInsights{m},
		Runs:     memRuns{m},
	}
}

// tick returns strictly increasing creation times so ordering is stable.
func (m *memStore) tick() time.Time {
	m.seq = m.seq.Add(time.Second)
	return m.seq
}

func copyContact(c *domain.Contact) *domain.Contact {
	cp := *c
	return &cp
}

func strVal(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	v := *s
	return &v
}

type memContacts struct{ m *memStore }

func (s memContacts) find(match func(*domain.Contact) bool) *domain.Contact {
	for _, c := range s.m.contacts {
		if match(c) {
			return copyContact(c)
		}
	}
	return nil
}

func (s memContacts) GetByID(_ context.Context, id uuid.UUID) (*domain.Contact, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.find(func(c *domain.Contact) bool { return c.ID == id }), nil
}

func (s memContacts) GetByJID(_ context.Context, jid string) (*domain.Contact, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.find(func(c *domain.Contact) bool { return c.JID != nil && *c.JID == jid }), nil
}

func (s memContacts) GetByPhone(_ context.Context, phone string) (*domain.Contact, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.find(func(c *domain.Contact) bool { return c.Phone == phone }), nil
}

func (s memContacts) merge(c *domain.Contact, jid string, h domain.ProfileHints) {
	if c.JID == nil && jid != "" {
		j := jid
		c.JID = &j
	}
	if c.Name == nil {
		c.Name = strVal(h.Name)
	}
	if v := strVal(h.PushName); v != nil {
		c.PushName = v
	}
	if v := strVal(h.AvatarURL); v != nil {
		c.AvatarURL = v
	}
	if h.IsBusiness != nil {
		c.IsBusiness = *h.IsBusiness
	}
	c.UpdatedAt = s.m.tick()
}

func (s memContacts) Upsert(_ context.Context, phone, jid string, h domain.ProfileHints) (*domain.Contact, bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, c := range s.m.contacts {
		if c.Phone == phone {
			s.merge(c, jid, h)
			return copyContact(c), false, nil
		}
	}
	c := &domain.Contact{ID: uuid.New(), Phone: phone, Status: domain.ContactStatusLead, CreatedAt: s.m.tick()}
	if h.IsBusiness == nil {
		f := false
		h.IsBusiness = &f
	}
	s.merge(c, jid, h)
	s.m.contacts[c.ID] = c
	return copyContact(c), true, nil
}

func (s memContacts) MergeProfile(_ context.Context, id uuid.UUID, jid string, h domain.ProfileHints) (*domain.Contact, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	c, ok := s.m.contacts[id]
	if !ok {
		return nil, nil
	}
	s.merge(c, jid, h)
	return copyContact(c), nil
}

func (s memContacts) AdvanceRecency(_ context.Context, id uuid.UUID, ts time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	c, ok := s.m.contacts[id]
	if !ok {
		return nil
	}
	if c.LastMessageAt == nil || c.LastMessageAt.Before(ts) {
		t := ts
		c.LastMessageAt = &t
	}
	if c.LastContactAt == nil || c.LastContactAt.Before(ts) {
		t := ts
		c.LastContactAt = &t
	}
	return nil
}

func (s memContacts) ApplyScoring(_ context.Context, id uuid.UUID, sc ContactScoring) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if c, ok := s.m.contacts[id]; ok {
		score, prio, summary, at := sc.InterestScore, sc.Priority, sc.Summary, sc.ClassifiedAt
		c.InterestScore, c.Priority, c.AISummary, c.ClassifiedAt = &score, &prio, &summary, &at
	}
	return nil
}

func (s memContacts) UpdateAvatarURL(_ context.Context, id uuid.UUID, url string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if c, ok := s.m.contacts[id]; ok {
		c.AvatarURL = &url
	}
	return nil
}

func (s memContacts) ListAfter(_ context.Context, after uuid.UUID, limit int) ([]*domain.Contact, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var all []*domain.Contact
	for _, c := range s.m.contacts {
		if c.ID.String() > after.String() {
			all = append(all, copyContact(c))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID.String() < all[j].ID.String() })
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

type memMessages struct{ m *memStore }

func (s memMessages) GetByMessageID(_ context.Context, id string) (*domain.Message, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if msg, ok := s.m.messages[id]; ok {
		cp := *msg
		return &cp, nil
	}
	return nil, nil
}

func (s memMessages) InsertIfAbsent(_ context.Context, msg *domain.Message) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.messages[msg.MessageID]; ok {
		return false, nil
	}
	msg.ID = uuid.New()
	msg.CreatedAt = s.m.tick()
	cp := *msg
	s.m.messages[msg.MessageID] = &cp
	return true, nil
}

func (s memMessages) AdvanceStatus(_ context.Context, id, status string) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	msg, ok := s.m.messages[id]
	if !ok {
		return false, nil
	}
	current := 0
	if msg.Status != nil {
		current = domain.DeliveryRank(*msg.Status)
	}
	if domain.DeliveryRank(status) <= current {
		return false, nil
	}
	msg.Status = &status
	return true, nil
}

func (s memMessages) forContact(id uuid.UUID) []*domain.Message {
	var out []*domain.Message
	for _, msg := range s.m.messages {
		if msg.ContactID == id {
			cp := *msg
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

func (s memMessages) ListRecent(_ context.Context, id uuid.UUID, limit int) ([]*domain.Message, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	out := s.forContact(id)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s memMessages) Stats(_ context.Context, id uuid.UUID) (domain.MessageStats, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var st domain.MessageStats
	for _, msg := range s.forContact(id) {
		st.Total++
		if msg.FromMe {
			st.Outbound++
		} else {
			st.Inbound++
		}
		ts := msg.Timestamp
		if st.FirstInteractionAt == nil || ts.Before(*st.FirstInteractionAt) {
			st.FirstInteractionAt = &ts
		}
		if st.LastInteractionAt == nil || ts.After(*st.LastInteractionAt) {
			st.LastInteractionAt = &ts
		}
	}
	return st, nil
}

type memQueue struct{ m *memStore }

func copyItem(q *domain.QueueItem) *domain.QueueItem {
	cp := *q
	return &cp
}

func (s memQueue) Enqueue(_ context.Context, contactID uuid.UUID, priority int, reason string) (*domain.QueueItem, bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, q := range s.m.queue {
		if q.ContactID == contactID && q.InFlight() {
			if priority < q.Priority {
				q.Priority = priority
			}
			return copyItem(q), false, nil
		}
	}
	now := s.m.tick()
	q := &domain.QueueItem{ID: uuid.New(), ContactID: contactID, Priority: priority, Status: domain.QueueStatusPending,
		Reason: reason, CreatedAt: now, UpdatedAt: now}
	s.m.queue[q.ID] = q
	return copyItem(q), true, nil
}

func (s memQueue) Claim(_ context.Context, limit, maxAttempts int) ([]*domain.QueueItem, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var ready []*domain.QueueItem
	for _, q := range s.m.queue {
		if q.Status == domain.QueueStatusPending && q.Attempts < maxAttempts {
			ready = append(ready, q)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority < ready[j].Priority
		}
		return ready[i].CreatedAt.Before(ready[j].CreatedAt)
	})
	if len(ready) > limit {
		ready = ready[:limit]
	}
	out := make([]*domain.QueueItem, 0, len(ready))
	for _, q := range ready {
		now := s.m.tick()
		q.Status = domain.QueueStatusProcessing
		q.Attempts++
		q.StartedAt = &now
		out = append(out, copyItem(q))
	}
	return out, nil
}

func (s memQueue) Transition(_ context.Context, id uuid.UUID, from, to string, lastError *string) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	q, ok := s.m.queue[id]
	if !ok || q.Status != from {
		return false, nil
	}
	q.Status = to
	q.LastError = lastError
	if to == domain.QueueStatusDone || to == domain.QueueStatusError {
		now := s.m.tick()
		q.ProcessedAt = &now
	}
	return true, nil
}

func (s memQueue) ReleaseStale(_ context.Context, before time.Time, maxAttempts int) (int, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	n := 0
	for _, q := range s.m.queue {
		if q.Status == domain.QueueStatusProcessing && q.StartedAt != nil && q.StartedAt.Before(before) {
			q.Status = domain.QueueStatusPending
			if q.Attempts >= maxAttempts {
				q.Status = domain.QueueStatusError
			}
			n++
		}
	}
	return n, nil
}

func (s memQueue) GetByID(_ context.Context, id uuid.UUID) (*domain.QueueItem, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if q, ok := s.m.queue[id]; ok {
		return copyItem(q), nil
	}
	return nil, nil
}

func (s memQueue) List(_ context.Context, status string, limit int) ([]*domain.QueueItem, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []*domain.QueueItem
	for _, q := range s.m.queue {
		if status == "" || q.Status == status {
			out = append(out, copyItem(q))
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s memQueue) CountByStatus(_ context.Context) (map[string]int, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	counts := map[string]int{}
	for _, q := range s.m.queue {
		counts[q.Status]++
	}
	return counts, nil
}

// items returns every row of a contact, in and out of flight.
func (s memQueue) items(contactID uuid.UUID) []*domain.QueueItem {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []*domain.QueueItem
	for _, q := range s.m.queue {
		if q.ContactID == contactID {
			out = append(out, copyItem(q))
		}
	}
	return out
}

type memInsights struct{ m *memStore }

func (s memInsights) Upsert(_ context.Context, in *domain.Insight) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if existing, ok := s.m.insights[in.ContactID]; ok {
		in.ID, in.CreatedAt = existing.ID, existing.CreatedAt
	} else {
		in.ID, in.CreatedAt = uuid.New(), s.m.tick()
	}
	in.UpdatedAt = s.m.tick()
	cp := *in
	s.m.insights[in.ContactID] = &cp
	return nil
}

func (s memInsights) GetByContactID(_ context.Context, id uuid.UUID) (*domain.Insight, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if in, ok := s.m.insights[id]; ok {
		cp := *in
		return &cp, nil
	}
	return nil, nil
}

type memRuns struct{ m *memStore }

func (s memRuns) Create(_ context.Context, run *domain.RunSummary) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	run.ID = uuid.New()
	cp := *run
	s.m.runs[run.ID] = &cp
	return nil
}

func (s memRuns) Finish(_ context.Context, run *domain.RunSummary) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	cp := *run
	s.m.runs[run.ID] = &cp
	return nil
}

func (s memRuns) GetByID(_ context.Context, id uuid.UUID) (*domain.RunSummary, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if r, ok := s.m.runs[id]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, nil
}

func (s memRuns) List(_ context.Context, limit int) ([]*domain.RunSummary, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []*domain.RunSummary
	for _, r := range s.m.runs {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
