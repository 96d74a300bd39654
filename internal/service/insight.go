package service

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/naperu/zapinsight/internal/domain"
	"github.com/naperu/zapinsight/pkg/cache"
)

// InsightService reads insights through the cache.
type InsightService struct {
	stores Stores
	cache  Cache
	ttl    time.Duration
}

// PriorityPreview shows the bucket a conversion probability maps to.
type PriorityPreview struct {
	ConversionProbability int    `json:"conversion_probability"`
	Priority              string `json:"priority"`
}

// PreviewPriority scores a probability with the same function the worker uses.
func PreviewPriority(probability int) PriorityPreview {
	p := domain.ClampScore(probability)
	return PriorityPreview{ConversionProbability: p, Priority: domain.PriorityForConversion(p)}
}

// Get returns the contact's insight, nil when it was never analyzed.
func (s *InsightService) Get(ctx context.Context, contactID uuid.UUID) (*domain.Insight, error) {
	key := cache.InsightKey(contactID.String())
	if s.cache != nil {
		var cached domain.Insight
		hit, err := cache.GetJSON(ctx, s.cache, key, &cached)
		if err != nil {
			log.Printf("[Insight] Cache read failed for %s: %v", contactID, err)
		}
		if hit {
			return &cached, nil
		}
	}

	in, err := s.stores.Insights.GetByContactID(ctx, contactID)
	if err != nil || in == nil {
		return in, err
	}
	if s.cache != nil {
		if err := cache.SetJSON(ctx, s.cache, key, in, s.ttl); err != nil {
			log.Printf("[Insight] Cache write failed for %s: %v", contactID, err)
		}
	}
	return in, nil
}

func (s *InsightService) invalidate(ctx context.Context, contactID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, cache.InsightKey(contactID.String())); err != nil {
		log.Printf("[Insight] Cache invalidation failed for %s: %v", contactID, err)
	}
}
