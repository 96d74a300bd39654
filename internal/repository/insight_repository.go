package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/naperu/zapinsight/internal/domain"
)

// InsightRepository handles contact_insights, one row per contact
type InsightRepository struct {
	db *pgxpool.Pool
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Upsert replaces the contact's insight with a fresh analysis.
func (r *InsightRepository) Upsert(ctx context.Context, in *domain.Insight) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO contact_insights (
			contact_id, sentiment, engagement_score, conversion_probability,
			interests, objections, purchase_triggers, next_action,
			preferred_time, preferred_day, summary,
			total_messages, inbound_messages, outbound_messages,
			first_interaction_at, last_interaction_at, analyzed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''), $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (contact_id) DO UPDATE SET
			sentiment = EXCLUDED.sentiment,
			engagement_score = EXCLUDED.engagement_score,
			conversion_probability = EXCLUDED.conversion_probability,
			interests = EXCLUDED.interests,
			objections = EXCLUDED.objections,
			purchase_triggers = EXCLUDED.purchase_triggers,
			next_action = EXCLUDED.next_action,
			preferred_time = EXCLUDED.preferred_time,
			preferred_day = EXCLUDED.preferred_day,
			summary = EXCLUDED.summary,
			total_messages = EXCLUDED.total_messages,
			inbound_messages = EXCLUDED.inbound_messages,
			outbound_messages = EXCLUDED.outbound_messages,
			first_interaction_at = EXCLUDED.first_interaction_at,
			last_interaction_at = EXCLUDED.last_interaction_at,
			analyzed_at = EXCLUDED.analyzed_at,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`,
		in.ContactID, in.Sentiment, in.EngagementScore, in.ConversionProbability,
		orEmpty(in.Interests), orEmpty(in.Objections), orEmpty(in.PurchaseTriggers), in.NextAction,
		in.PreferredTime, in.PreferredDay, in.Summary,
		in.TotalMessages, in.InboundMessages, in.OutboundMessages,
		in.FirstInteractionAt, in.LastInteractionAt, in.AnalyzedAt,
	).Scan(&in.ID, &in.CreatedAt, &in.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert insight for %s: %w", in.ContactID, err)
	}
	return nil
}

func (r *InsightRepository) GetByContactID(ctx context.Context, contactID uuid.UUID) (*domain.Insight, error) {
	in := &domain.Insight{}
	err := r.db.QueryRow(ctx, `
		SELECT id, contact_id, COALESCE(sentiment, ''), engagement_score, conversion_probability,
			COALESCE(interests, '{}'), COALESCE(objections, '{}'), COALESCE(purchase_triggers, '{}'),
			COALESCE(next_action, ''), COALESCE(preferred_time, ''), COALESCE(preferred_day, ''), COALESCE(summary, ''),
			total_messages, inbound_messages, outbound_messages,
			first_interaction_at, last_interaction_at, analyzed_at, created_at, updated_at
		FROM contact_insights WHERE contact_id = $1
	`, contactID).Scan(
		&in.ID, &in.ContactID, &in.Sentiment, &in.EngagementScore, &in.ConversionProbability,
		&in.Interests, &in.Objections, &in.PurchaseTriggers,
		&in.NextAction, &in.PreferredTime, &in.PreferredDay, &in.Summary,
		&in.TotalMessages, &in.InboundMessages, &in.OutboundMessages,
		&in.FirstInteractionAt, &in.LastInteractionAt, &in.AnalyzedAt, &in.CreatedAt, &in.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return in, err
}
