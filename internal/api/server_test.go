package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/naperu/zapinsight/internal/gateway"
	"github.com/naperu/zapinsight/internal/metrics"
	"github.com/naperu/zapinsight/internal/scheduler"
	"github.com/naperu/zapinsight/internal/service"
	"github.com/naperu/zapinsight/internal/ws"
	"github.com/naperu/zapinsight/pkg/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "api-test-secret"

func newTestServer(t *testing.T, checks map[string]HealthCheck) (*Server, *service.Services) {
	t.Helper()
	reg := prometheus.NewRegistry()
	hub := ws.NewHub()
	m := metrics.New(reg, hub.GetClientCount)
	svc := service.NewServices(service.Deps{Metrics: m}, service.Options{}, testSecret)
	srv := NewServer(context.Background(), &config.Config{Env: "test"}, svc, hub, reg, checks)
	return srv, svc
}

func token(t *testing.T, svc *service.Services, scope string) string {
	t.Helper()
	signed, err := svc.Tokens.Issue("test", scope, time.Hour)
	require.NoError(t, err)
	return signed
}

func do(t *testing.T, srv *Server, method, path, bearer string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := srv.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	_ = json.Unmarshal(body, &out)
	return resp.StatusCode, out
}

func TestHealthReportsDependencies(t *testing.T) {
	srv, _ := newTestServer(t, map[string]HealthCheck{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})

	code, body := do(t, srv, "GET", "/health", "")
	assert.Equal(t, fiber.StatusServiceUnavailable, code)
	assert.Equal(t, "degraded", body["status"])
	deps := body["dependencies"].(map[string]any)
	assert.Equal(t, "ok", deps["database"])
	assert.Equal(t, "connection refused", deps["redis"])

	srv, _ = newTestServer(t, nil)
	code, body = do(t, srv, "GET", "/health", "")
	assert.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp, err := srv.App().Test(httptest.NewRequest("GET", "/metrics", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "zapinsight_ws_clients")
}

func TestTriggerRoutesRequireTriggerScope(t *testing.T) {
	srv, svc := newTestServer(t, nil)

	code, _ := do(t, srv, "POST", "/api/analysis/run", "")
	assert.Equal(t, fiber.StatusUnauthorized, code)

	code, _ = do(t, srv, "POST", "/api/analysis/run", "garbage")
	assert.Equal(t, fiber.StatusUnauthorized, code)

	code, body := do(t, srv, "POST", "/api/analysis/run", token(t, svc, service.ScopeRead))
	assert.Equal(t, fiber.StatusForbidden, code)
	assert.Equal(t, false, body["success"])

	foreign, err := service.NewTokenService("other").Issue("x", service.ScopeTrigger, time.Hour)
	require.NoError(t, err)
	code, _ = do(t, srv, "POST", "/api/ingest/poll", foreign)
	assert.Equal(t, fiber.StatusUnauthorized, code)
}

func TestPriorityPreview(t *testing.T) {
	srv, svc := newTestServer(t, nil)
	read := token(t, svc, service.ScopeRead)

	cases := map[int]string{85: "alta", 55: "media", 20: "baixa"}
	for p, want := range cases {
		code, body := do(t, srv, "GET", fmt.Sprintf("/api/analysis/priority?probability=%d", p), read)
		require.Equal(t, fiber.StatusOK, code)
		preview := body["preview"].(map[string]any)
		assert.Equal(t, want, preview["priority"], p)
	}

	code, _ := do(t, srv, "GET", "/api/analysis/priority", read)
	assert.Equal(t, fiber.StatusBadRequest, code)
}

func TestInvalidParameters(t *testing.T) {
	srv, svc := newTestServer(t, nil)
	read := token(t, svc, service.ScopeRead)
	trigger := token(t, svc, service.ScopeTrigger)

	code, body := do(t, srv, "GET", "/api/contacts/not-a-uuid", read)
	assert.Equal(t, fiber.StatusBadRequest, code)
	assert.Equal(t, "Invalid contact ID", body["error"])

	code, _ = do(t, srv, "GET", "/api/analysis/queue?status=pending", read)
	assert.Equal(t, fiber.StatusBadRequest, code)

	code, _ = do(t, srv, "POST", "/api/analysis/queue/nope/requeue", trigger)
	assert.Equal(t, fiber.StatusBadRequest, code)

	code, _ = do(t, srv, "GET", "/api/runs/nope", read)
	assert.Equal(t, fiber.StatusBadRequest, code)
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	code, _ := do(t, srv, "GET", "/ws", "")
	assert.Equal(t, fiber.StatusUpgradeRequired, code)
}

func TestErrorStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{service.ErrContactNotFound, fiber.StatusNotFound},
		{fmt.Errorf("wrapped: %w", service.ErrQueueItemNotFound), fiber.StatusNotFound},
		{service.ErrInvalidAddress, fiber.StatusBadRequest},
		{service.ErrNotRequeueable, fiber.StatusConflict},
		{fmt.Errorf("fetch chats: %w", &gateway.HTTPError{StatusCode: 500}), fiber.StatusBadGateway},
		{context.DeadlineExceeded, fiber.StatusGatewayTimeout},
		{errors.New("boom"), fiber.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, errorStatus(tc.err), tc.err.Error())
	}
}

func TestSchedulerStatus(t *testing.T) {
	srv, svc := newTestServer(t, nil)
	read := token(t, svc, service.ScopeRead)

	code, body := do(t, srv, "GET", "/api/scheduler", read)
	assert.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, false, body["scheduler"].(map[string]any)["running"])

	srv.SetScheduler(scheduler.New(scheduler.Job{Name: "poll", Interval: time.Minute, Run: func(context.Context) error { return nil }}))
	code, body = do(t, srv, "GET", "/api/scheduler", read)
	assert.Equal(t, fiber.StatusOK, code)
	jobs := body["scheduler"].(map[string]any)["jobs"].([]any)
	assert.Len(t, jobs, 1)
}
