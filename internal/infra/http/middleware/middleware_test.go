package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/docflow/internal/config"
	"github.com/openctemio/docflow/pkg/logger"
)

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	tests := []struct {
		name   string
		header string
		reused bool
	}{
		{name: "generated", header: "", reused: false},
		{name: "reused", header: "batch-7.retry:2", reused: true},
		{name: "log injection", header: "x\nlevel=ERROR", reused: false},
		{name: "too long", header: strings.Repeat("a", maxRequestIDLen+1), reused: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("X-Request-ID", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			require.NotEmpty(t, seen)
			assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))
			if tt.reused {
				assert.Equal(t, tt.header, seen)
			} else {
				assert.NotEqual(t, tt.header, seen)
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	h := Recovery(logger.NewNop(), false)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	assert.NotContains(t, rec.Body.String(), "boom")

	abort := Recovery(logger.NewNop(), false)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		abort.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestRequestLog(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(logger.Config{Level: "info", Format: "json", Output: &buf})
	h := RequestLog(log, RequestLogConfig{SkipPaths: DefaultSkipPaths})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Correlation-ID", "c-1")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("{}"))
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Zero(t, buf.Len(), "probes are not logged")

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/workflows/review", nil))
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "http request", line["msg"])
	assert.EqualValues(t, http.StatusAccepted, line["status"])
	assert.EqualValues(t, 2, line["bytes"])
	assert.Equal(t, "c-1", line["correlation_id"])
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(0)(http.HandlerFunc(okHandler)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))

	rec = httptest.NewRecorder()
	SecurityHeaders(24*time.Hour)(http.HandlerFunc(okHandler)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "max-age=86400; includeSubDomains", rec.Header().Get("Strict-Transport-Security"))
}

func TestTimeout(t *testing.T) {
	slow := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusCreated)
	})

	t.Run("times out", func(t *testing.T) {
		rec := httptest.NewRecorder()
		Timeout(20*time.Millisecond, IsLeaseRequest)(slow).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/workflows", nil))
		assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	})

	t.Run("lease requests are skipped", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/concurrency/validation/leases", nil)
		Timeout(20*time.Millisecond, IsLeaseRequest)(slow).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusCreated, rec.Code)
	})

	t.Run("disabled", func(t *testing.T) {
		rec := httptest.NewRecorder()
		Timeout(0)(slow).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusCreated, rec.Code)
	})
}

func TestIsLeaseRequest(t *testing.T) {
	tests := []struct {
		method, path string
		want         bool
	}{
		{http.MethodPost, "/api/v1/concurrency/review/leases", true},
		{http.MethodDelete, "/api/v1/concurrency/review/leases/abc", false},
		{http.MethodGet, "/api/v1/concurrency/review", false},
		{http.MethodGet, "/ws", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsLeaseRequest(httptest.NewRequest(tt.method, tt.path, nil)), tt.method+" "+tt.path)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(&config.RateLimitConfig{
		Enabled:         true,
		RequestsPerSec:  0.001,
		Burst:           2,
		CleanupInterval: time.Hour,
	}, logger.NewNop())
	t.Cleanup(rl.Stop)
	h := rl.Middleware()(http.HandlerFunc(okHandler))

	call := func(path, addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, call("/api/v1/concurrency", "10.0.0.1:1000").Code)
	assert.Equal(t, http.StatusOK, call("/api/v1/concurrency", "10.0.0.1:1001").Code)
	limited := call("/api/v1/concurrency", "10.0.0.1:1002")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "0", limited.Header().Get("X-RateLimit-Remaining"))

	// Other clients and probes are unaffected.
	assert.Equal(t, http.StatusOK, call("/api/v1/concurrency", "10.0.0.2:1000").Code)
	assert.Equal(t, http.StatusOK, call("/health", "10.0.0.1:1003").Code)
	assert.Equal(t, 2, rl.Visitors())
}

func TestRateLimitWithStop_Disabled(t *testing.T) {
	mw, stop := RateLimitWithStop(&config.RateLimitConfig{}, logger.NewNop())
	defer stop()
	rec := httptest.NewRecorder()
	mw(http.HandlerFunc(okHandler)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
}

func TestBodyLimit(t *testing.T) {
	var readErr error
	h := BodyLimit(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
		if IsBodyTooLarge(readErr) {
			HandleBodyLimitError(w, r)
		}
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789")))
	require.Error(t, readErr)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("small")))
	assert.NoError(t, readErr)
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/api/v1/workflows/review/7f1c2b9e-0d7a-4f52-9a7e-3d2a6b1c0e01", "/api/v1/workflows/review/{id}"},
		{"/api/v1/concurrency/review/leases/42", "/api/v1/concurrency/review/leases/{id}"},
		{"/api/v1/concurrency", "/api/v1/concurrency"},
		{"/", "/"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizePath(tt.in))
	}
}
