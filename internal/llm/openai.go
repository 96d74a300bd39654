package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// OpenAIClient talks to any OpenAI-compatible /v1/chat/completions endpoint.
type OpenAIClient struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func NewOpenAIClient(baseURL, apiKey string, timeout time.Duration) *OpenAIClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &OpenAIClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type chatCompletionRequest struct {
	Model          string    `json:"model"`
	Messages       []Message `json:"messages"`
	Temperature    float64   `json:"temperature"`
	ResponseFormat any       `json:"response_format,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

type attempt struct {
	status     int
	retryAfter string
	raw        []byte
	out        chatCompletionResponse
}

func (c *OpenAIClient) Chat(ctx context.Context, req Request) (Result, error) {
	start := time.Now()

	res, err := c.do(ctx, req, req.ForceJSON)
	if err != nil {
		return Result{}, err
	}
	// some compatible servers reject response_format; retry once without it
	if res.status == http.StatusBadRequest && req.ForceJSON && strings.Contains(strings.ToLower(res.errorMessage()), "response_format") {
		res, err = c.do(ctx, req, false)
		if err != nil {
			return Result{}, err
		}
	}

	if res.status == http.StatusTooManyRequests {
		return Result{}, &RateLimitError{RetryAfter: parseRetryAfter(res.retryAfter), Message: res.errorMessage()}
	}
	if res.status < 200 || res.status >= 300 {
		return Result{}, &APIError{StatusCode: res.status, Message: res.errorMessage()}
	}
	if len(res.out.Choices) == 0 {
		return Result{}, fmt.Errorf("llm: empty choices")
	}

	return Result{
		Text: res.out.Choices[0].Message.Content,
		Usage: Usage{
			InputTokens:  res.out.Usage.PromptTokens,
			OutputTokens: res.out.Usage.CompletionTokens,
			TotalTokens:  res.out.Usage.TotalTokens,
		},
		Duration: time.Since(start),
	}, nil
}

func (c *OpenAIClient) do(ctx context.Context, req Request, forceJSON bool) (*attempt, error) {
	body := chatCompletionRequest{
		Model:    req.Model,
		Messages: req.Messages,
	}
	if forceJSON {
		body.ResponseFormat = map[string]string{"type": "json_object"}
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/chat/completions", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llm request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("llm read body: %w", err)
	}

	a := &attempt{status: resp.StatusCode, retryAfter: resp.Header.Get("Retry-After"), raw: raw}
	if err := json.Unmarshal(raw, &a.out); err != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil, fmt.Errorf("llm decode response: %w", err)
	}
	return a, nil
}

func (a *attempt) errorMessage() string {
	if a.out.Error != nil && a.out.Error.Message != "" {
		return a.out.Error.Message
	}
	msg := string(a.raw)
	if len(msg) > 300 {
		msg = msg[:300]
	}
	return msg
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
