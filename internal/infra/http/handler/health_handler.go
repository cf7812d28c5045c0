package handler

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"
)

// readyTimeout bounds the dependency checks of one readiness probe.
const readyTimeout = 5 * time.Second

// Pinger interface for health check dependencies.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	checks map[string]Pinger
}

// HealthHandlerOption configures the health handler.
type HealthHandlerOption func(*HealthHandler)

// WithCheck adds a named readiness check. Nil pingers are ignored.
func WithCheck(name string, p Pinger) HealthHandlerOption {
	return func(h *HealthHandler) {
		if p != nil {
			h.checks[name] = p
		}
	}
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(opts ...HealthHandlerOption) *HealthHandler {
	h := &HealthHandler{checks: make(map[string]Pinger)}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Health handles the /health endpoint (liveness probe).
func (h *HealthHandler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
	})
}

// ReadyResponse represents the readiness check response.
type ReadyResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult represents a single health check result.
type CheckResult struct {
	Status   string `json:"status"`
	Duration string `json:"duration,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Ready handles the /ready endpoint (readiness probe). Checks run in parallel
// and any failure turns the response into a 503.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]CheckResult, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Go(func() {
			results[i] = checkDependency(ctx, h.checks[name])
		})
	}
	wg.Wait()

	resp := ReadyResponse{
		Status:    "ready",
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]CheckResult, len(names)),
	}
	statusCode := http.StatusOK
	for i, name := range names {
		resp.Checks[name] = results[i]
		if results[i].Status != "ok" {
			resp.Status = "not_ready"
			statusCode = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, statusCode, resp)
}

func checkDependency(ctx context.Context, pinger Pinger) CheckResult {
	start := time.Now()
	err := pinger.Ping(ctx)
	duration := time.Since(start)

	if err != nil {
		return CheckResult{
			Status:   "error",
			Duration: duration.String(),
			Error:    err.Error(),
		}
	}

	return CheckResult{
		Status:   "ok",
		Duration: duration.String(),
	}
}
