package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/northwind-orders/internal/domain"
)

func healthy(context.Context) error { return nil }

func failing(context.Context) error { return errors.New("connection refused") }

func serve(t *testing.T, h http.HandlerFunc, path string) *httptest.ResponseRecorder {
	t.Helper()

	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHealthHandler(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("storage", NewSimpleChecker("storage", healthy))

	w := serve(t, handler.ServeHTTP, "/healthz")
	require.Equal(t, http.StatusOK, w.Code)

	var response Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, StatusHealthy, response.Status)
	assert.Equal(t, "v1.0.0", response.Version)
	assert.Len(t, response.Checks, 1)
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("storage", NewSimpleChecker("storage", failing))

	w := serve(t, handler.ServeHTTP, "/healthz")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var response Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, StatusUnhealthy, response.Status)
	assert.Equal(t, "connection refused", response.Checks["storage"].Message)
}

func TestHealthHandler_DegradedStaysOK(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("storage", NewSimpleChecker("storage", healthy))
	handler.RegisterChecker("outbox", &OutboxBacklogChecker{
		repo:   stubStats{stats: domain.OutboxStats{PendingCount: 3, OldestPendingAt: time.Unix(0, 0)}},
		maxAge: time.Minute,
		now:    time.Now,
	})

	w := serve(t, handler.ServeHTTP, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)

	var response Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, StatusDegraded, response.Status)

	assert.Equal(t, http.StatusOK, serve(t, handler.ReadinessHandler, "/readyz").Code)
}

func TestLivenessHandler(t *testing.T) {
	w := serve(t, LivenessHandler, "/livez")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestReadinessHandler(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("storage", NewSimpleChecker("storage", healthy))

	w := serve(t, handler.ReadinessHandler, "/readyz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", w.Body.String())
}

func TestReadinessHandler_NotReady(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("storage", NewSimpleChecker("storage", failing))

	w := serve(t, handler.ReadinessHandler, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "not ready", w.Body.String())
}

func TestSimpleChecker_ReceivesDeadline(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.checkTimeout = 20 * time.Millisecond
	handler.RegisterChecker("slow", NewSimpleChecker("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	checks, overall := handler.runChecks(context.Background())
	assert.Equal(t, StatusUnhealthy, overall)
	assert.Equal(t, context.DeadlineExceeded.Error(), checks["slow"].Message)
}

func TestOutboxBacklogChecker(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		repo   stubStats
		status Status
	}{
		{name: "empty backlog", repo: stubStats{}, status: StatusHealthy},
		{
			name:   "fresh backlog",
			repo:   stubStats{stats: domain.OutboxStats{PendingCount: 2, OldestPendingAt: now.Add(-10 * time.Second)}},
			status: StatusHealthy,
		},
		{
			name:   "stale backlog",
			repo:   stubStats{stats: domain.OutboxStats{PendingCount: 2, OldestPendingAt: now.Add(-10 * time.Minute)}},
			status: StatusDegraded,
		},
		{name: "stats error", repo: stubStats{err: domain.ErrStoreUnavailable}, status: StatusDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewOutboxBacklogChecker(tt.repo, time.Minute)
			checker.now = func() time.Time { return now }

			check := checker.Check(context.Background())
			assert.Equal(t, tt.status, check.Status)
			assert.Equal(t, "outbox", check.Name)
		})
	}
}

type stubStats struct {
	domain.OutboxRepository
	stats domain.OutboxStats
	err   error
}

func (s stubStats) Stats(context.Context) (domain.OutboxStats, error) {
	return s.stats, s.err
}
