package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/naperu/zapinsight/internal/domain"
	"github.com/naperu/zapinsight/internal/service"
)

type Repositories struct {
	db      *pgxpool.Pool
	Contact *ContactRepository
	Message *MessageRepository
	Queue   *QueueRepository
	Insight *InsightRepository
	Run     *RunRepository
}

func NewRepositories(db *pgxpool.Pool) *Repositories {
	return &Repositories{
		db:      db,
		Contact: &ContactRepository{db: db},
		Message: &MessageRepository{db: db},
		Queue:   &QueueRepository{db: db},
		Insight: &InsightRepository{db: db},
		Run:     &RunRepository{db: db},
	}
}

// DB returns the underlying database pool.
func (r *Repositories) DB() *pgxpool.Pool {
	return r.db
}

// Stores exposes the repositories through the service's store interfaces.
func (r *Repositories) Stores() service.Stores {
	return service.Stores{
		Contacts: r.Contact,
		Messages: r.Message,
		Queue:    r.Queue,
		Insights: r.Insight,
		Runs:     r.Run,
	}
}

var (
	_ service.ContactStore = (*ContactRepository)(nil)
	_ service.MessageStore = (*MessageRepository)(nil)
	_ service.QueueStore   = (*QueueRepository)(nil)
	_ service.InsightStore = (*InsightRepository)(nil)
	_ service.RunStore     = (*RunRepository)(nil)
)

func nilIfEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

// ContactRepository handles contact data access
type ContactRepository struct {
	db *pgxpool.Pool
}

const contactColumns = `id, phone, jid, name, push_name, avatar_url, is_business, status,
	last_message_at, last_contact_at, interest_score, priority, ai_summary, classified_at,
	created_at, updated_at`

func scanContact(row pgx.Row, extra ...any) (*domain.Contact, error) {
	c := &domain.Contact{}
	dest := []any{
		&c.ID, &c.Phone, &c.JID, &c.Name, &c.PushName, &c.AvatarURL, &c.IsBusiness, &c.Status,
		&c.LastMessageAt, &c.LastContactAt, &c.InterestScore, &c.Priority, &c.AISummary, &c.ClassifiedAt,
		&c.CreatedAt, &c.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *ContactRepository) getOne(ctx context.Context, where string, arg any) (*domain.Contact, error) {
	c, err := scanContact(r.db.QueryRow(ctx, `SELECT `+contactColumns+` FROM contacts WHERE `+where, arg))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (r *ContactRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Contact, error) {
	return r.getOne(ctx, "id = $1", id)
}

func (r *ContactRepository) GetByJID(ctx context.Context, jid string) (*domain.Contact, error) {
	return r.getOne(ctx, "jid = $1", jid)
}

func (r *ContactRepository) GetByPhone(ctx context.Context, phone string) (*domain.Contact, error) {
	return r.getOne(ctx, "phone = $1", phone)
}

// Upsert creates a lead keyed by phone. On conflict a stored name is kept,
// push name and avatar are replaced by non-empty hints, is_business only moves
// when hinted and a missing jid is attached.
func (r *ContactRepository) Upsert(ctx context.Context, phone, jid string, hints domain.ProfileHints) (*domain.Contact, bool, error) {
	var inserted bool
	c, err := scanContact(r.db.QueryRow(ctx, `
		INSERT INTO contacts (phone, jid, name, push_name, avatar_url, is_business, status)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, COALESCE($6::boolean, FALSE), $7)
		ON CONFLICT (phone) DO UPDATE SET
			jid = COALESCE(contacts.jid, EXCLUDED.jid),
			name = COALESCE(contacts.name, EXCLUDED.name),
			push_name = COALESCE(EXCLUDED.push_name, contacts.push_name),
			avatar_url = COALESCE(EXCLUDED.avatar_url, contacts.avatar_url),
			is_business = COALESCE($6::boolean, contacts.is_business),
			updated_at = NOW()
		RETURNING `+contactColumns+`, (xmax = 0) AS inserted
	`, phone, jid, nilIfEmpty(hints.Name), nilIfEmpty(hints.PushName), nilIfEmpty(hints.AvatarURL),
		hints.IsBusiness, domain.ContactStatusLead), &inserted)
	if err != nil {
		return nil, false, fmt.Errorf("upsert contact %s: %w", phone, err)
	}
	return c, inserted, nil
}

func (r *ContactRepository) MergeProfile(ctx context.Context, id uuid.UUID, jid string, hints domain.ProfileHints) (*domain.Contact, error) {
	c, err := scanContact(r.db.QueryRow(ctx, `
		UPDATE contacts SET
			jid = COALESCE(jid, NULLIF($2, '')),
			name = COALESCE(name, $3),
			push_name = COALESCE($4, push_name),
			avatar_url = COALESCE($5, avatar_url),
			is_business = COALESCE($6::boolean, is_business),
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+contactColumns,
		id, jid, nilIfEmpty(hints.Name), nilIfEmpty(hints.PushName), nilIfEmpty(hints.AvatarURL), hints.IsBusiness))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// AdvanceRecency never moves the timestamps backwards; GREATEST ignores NULL.
func (r *ContactRepository) AdvanceRecency(ctx context.Context, id uuid.UUID, ts time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE contacts SET
			last_message_at = GREATEST(last_message_at, $2),
			last_contact_at = GREATEST(last_contact_at, $2),
			updated_at = NOW()
		WHERE id = $1 AND (last_message_at IS NULL OR last_message_at < $2 OR last_contact_at IS NULL OR last_contact_at < $2)
	`, id, ts)
	return err
}

func (r *ContactRepository) ApplyScoring(ctx context.Context, id uuid.UUID, s service.ContactScoring) error {
	_, err := r.db.Exec(ctx, `
		UPDATE contacts SET interest_score = $2, priority = $3, ai_summary = $4, classified_at = $5, updated_at = NOW()
		WHERE id = $1
	`, id, s.InterestScore, s.Priority, s.Summary, s.ClassifiedAt)
	return err
}

func (r *ContactRepository) UpdateAvatarURL(ctx context.Context, id uuid.UUID, avatarURL string) error {
	_, err := r.db.Exec(ctx, `UPDATE contacts SET avatar_url = $2, updated_at = NOW() WHERE id = $1`, id, avatarURL)
	return err
}

func (r *ContactRepository) ListAfter(ctx context.Context, after uuid.UUID, limit int) ([]*domain.Contact, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+contactColumns+` FROM contacts WHERE id > $1 ORDER BY id LIMIT $2
	`, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []*domain.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// MessageRepository handles message data access
type MessageRepository struct {
	db *pgxpool.Pool
}

const messageColumns = `id, message_id, contact_id, phone, from_me, body, media_type, timestamp, status, created_at`

func scanMessage(row pgx.Row) (*domain.Message, error) {
	m := &domain.Message{}
	if err := row.Scan(&m.ID, &m.MessageID, &m.ContactID, &m.Phone, &m.FromMe, &m.Body,
		&m.MediaType, &m.Timestamp, &m.Status, &m.CreatedAt); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *MessageRepository) GetByMessageID(ctx context.Context, messageID string) (*domain.Message, error) {
	m, err := scanMessage(r.db.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE message_id = $1`, messageID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return m, err
}

func statusRank(status *string) int {
	if status == nil {
		return 0
	}
	return domain.DeliveryRank(*status)
}

func (r *MessageRepository) InsertIfAbsent(ctx context.Context, msg *domain.Message) (bool, error) {
	err := r.db.QueryRow(ctx, `
		INSERT INTO messages (message_id, contact_id, phone, from_me, body, media_type, timestamp, status, status_rank)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (message_id) DO NOTHING
		RETURNING id, created_at
	`, msg.MessageID, msg.ContactID, msg.Phone, msg.FromMe, msg.Body, msg.MediaType, msg.Timestamp,
		msg.Status, statusRank(msg.Status)).Scan(&msg.ID, &msg.CreatedAt)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert message %s: %w", msg.MessageID, err)
	}
	return true, nil
}

func (r *MessageRepository) AdvanceStatus(ctx context.Context, messageID, status string) (bool, error) {
	rank := domain.DeliveryRank(status)
	tag, err := r.db.Exec(ctx, `
		UPDATE messages SET status = $2, status_rank = $3
		WHERE message_id = $1 AND status_rank < $3
	`, messageID, status, rank)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *MessageRepository) ListRecent(ctx context.Context, contactID uuid.UUID, limit int) ([]*domain.Message, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE contact_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`, contactID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (r *MessageRepository) Stats(ctx context.Context, contactID uuid.UUID) (domain.MessageStats, error) {
	var s domain.MessageStats
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE NOT from_me),
			COUNT(*) FILTER (WHERE from_me),
			MIN(timestamp), MAX(timestamp)
		FROM messages WHERE contact_id = $1
	`, contactID).Scan(&s.Total, &s.Inbound, &s.Outbound, &s.FirstInteractionAt, &s.LastInteractionAt)
	return s, err
}
