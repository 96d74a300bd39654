// Package llm is a provider-neutral chat-completion client.
package llm

import (
	"context"
	"fmt"
	"time"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	Model     string
	Messages  []Message
	ForceJSON bool
}

type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

type Result struct {
	Text     string
	Usage    Usage
	Duration time.Duration
}

type Client interface {
	Chat(ctx context.Context, req Request) (Result, error)
}

// RateLimitError is an explicit HTTP 429 from the provider.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("llm rate limited (retry after %s): %s", e.RetryAfter, e.Message)
	}
	return "llm rate limited: " + e.Message
}

// APIError is any other non-2xx answer from the provider.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm http %d: %s", e.StatusCode, e.Message)
}
