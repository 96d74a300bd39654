package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/naperu/zapinsight/internal/domain"
	"github.com/naperu/zapinsight/internal/llm"
	"github.com/naperu/zapinsight/internal/metrics"
	"github.com/naperu/zapinsight/internal/ws"
)

// WorkerService analyzes claimed queue items with the language model.
type WorkerService struct {
	stores   Stores
	llm      llm.Client
	queue    *QueueService
	insight  *InsightService
	notifier Notifier
	metrics  *metrics.Metrics
	opts     Options
}

// RunBatch claims and analyzes up to batchSize items, one at a time, with the
// configured delay between model calls. A rate limit ends the batch early.
func (s *WorkerService) RunBatch(ctx context.Context, batchSize int) (*domain.AnalysisSummary, error) {
	if batchSize <= 0 {
		batchSize = s.opts.AnalysisBatchSize
	}
	start := time.Now()
	summary := &domain.AnalysisSummary{}
	defer func() {
		summary.Duration = time.Since(start).Round(time.Millisecond).String()
	}()

	for i := 0; i < batchSize; i++ {
		if i > 0 && !sleepCtx(ctx, s.opts.AnalysisDelay) {
			break
		}

		items, err := s.queue.Claim(ctx, 1)
		if err != nil {
			return summary, fmt.Errorf("failed to claim queue items: %w", err)
		}
		if len(items) == 0 {
			break
		}
		item := items[0]
		summary.Claimed++

		attemptErr := s.Analyze(ctx, item)
		// settle the item even when the batch is being cancelled
		to, err := s.queue.Resolve(context.WithoutCancel(ctx), item, attemptErr)
		if err != nil {
			log.Printf("[Worker] Failed to settle item %s: %v", item.ID, err)
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", item.ID, err))
			continue
		}

		switch to {
		case domain.QueueStatusDone:
			summary.Completed++
		case domain.QueueStatusPending:
			summary.Retried++
		case domain.QueueStatusError:
			summary.Failed++
		}
		if attemptErr != nil {
			log.Printf("[Worker] Item %s (attempt %d) -> %s: %v", item.ID, item.Attempts, to, attemptErr)
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", item.ID, attemptErr))
		}
		if attemptErr != nil && Classify(attemptErr) == domain.FailureRateLimited {
			summary.RateLimited = true
			log.Printf("[Worker] Rate limited by the model provider, ending batch")
			break
		}
	}

	if summary.Claimed > 0 {
		log.Printf("[Worker] Batch done: claimed %d, completed %d, retried %d, failed %d",
			summary.Claimed, summary.Completed, summary.Retried, summary.Failed)
	}
	return summary, nil
}

// Analyze runs one analysis for the item's contact and applies the result to
// the contact and its insight.
func (s *WorkerService) Analyze(ctx context.Context, item *domain.QueueItem) error {
	contact, err := s.stores.Contacts.GetByID(ctx, item.ContactID)
	if err != nil {
		return fmt.Errorf("load contact: %w", err)
	}
	if contact == nil {
		return ErrContactNotFound
	}

	msgs, err := s.stores.Messages.ListRecent(ctx, contact.ID, s.opts.TranscriptMessages)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	if len(msgs) == 0 {
		return ErrNoConversation
	}
	stats, err := s.stores.Messages.Stats(ctx, contact.ID)
	if err != nil {
		return fmt.Errorf("load message stats: %w", err)
	}

	transcript := RenderTranscript(msgs, s.opts.TranscriptMaxChars)
	started := time.Now()
	res, err := s.llm.Chat(ctx, llm.Request{
		Model: s.opts.LLMModel,
		Messages: []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildUserPrompt(contact, stats, transcript)},
		},
		ForceJSON: true,
	})
	s.metrics.LLMRequest(llmResult(err), time.Since(started))
	if err != nil {
		return fmt.Errorf("llm: %w", err)
	}

	analysis, err := ParseAnalysis(res.Text)
	if err != nil {
		return err
	}

	now := time.Now()
	insight := analysis.toInsight(contact.ID, stats)
	insight.AnalyzedAt = now
	if err := s.stores.Insights.Upsert(ctx, insight); err != nil {
		return fmt.Errorf("save insight: %w", err)
	}
	if err := s.stores.Contacts.ApplyScoring(ctx, contact.ID, ContactScoring{
		InterestScore: insight.ConversionProbability,
		Priority:      analysis.Priority(),
		Summary:       insight.Summary,
		ClassifiedAt:  now,
	}); err != nil {
		return fmt.Errorf("update contact scoring: %w", err)
	}

	s.insight.invalidate(ctx, contact.ID)
	s.notifier.Publish(ws.EventInsightUpdate, insight)
	log.Printf("[Worker] %s analyzed: conversion %d%% (%s), %d tokens",
		contact.Phone, insight.ConversionProbability, analysis.Priority(), res.Usage.TotalTokens)
	return nil
}

func llmResult(err error) string {
	var rl *llm.RateLimitError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &rl):
		return "rate_limited"
	default:
		return "error"
	}
}
