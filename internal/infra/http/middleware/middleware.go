package middleware

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/openctemio/docflow/pkg/apierror"
	"github.com/openctemio/docflow/pkg/logger"
)

const (
	headerRequestID     = "X-Request-ID"
	headerCorrelationID = "X-Correlation-ID"
	maxRequestIDLen     = 64
)

// RequestID stores a request ID in the context and echoes it in the response.
// An incoming X-Request-ID is reused when it is short and printable.
func RequestID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(headerRequestID)
			if !validRequestID(id) {
				id = uuid.NewString()
			}
			w.Header().Set(headerRequestID, id)
			ctx := context.WithValue(r.Context(), logger.ContextKeyRequestID, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.', c == ':':
		default:
			return false
		}
	}
	return true
}

// GetRequestID returns the request ID set by RequestID.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(logger.ContextKeyRequestID).(string)
	return id
}

// statusRecorder captures the status and size of a response.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

// Hijack lets the websocket upgrade through.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := s.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("%T does not implement http.Hijacker", s.ResponseWriter)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// RequestLogConfig configures RequestLog.
type RequestLogConfig struct {
	// SkipPaths are not logged at all.
	SkipPaths []string
	// SlowThreshold logs successful requests slower than this at warn. 0 disables.
	SlowThreshold time.Duration
}

// DefaultSkipPaths are probe, scrape and websocket endpoints.
var DefaultSkipPaths = []string{"/health", "/ready", "/metrics", "/ws"}

// RequestLog logs one line per request with its route pattern, status and the
// workflow correlation ID when the request carries one.
func RequestLog(log *logger.Logger, cfg RequestLogConfig) func(http.Handler) http.Handler {
	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			elapsed := time.Since(start)

			attrs := []any{
				"method", r.Method,
				"route", routeLabel(r),
				"path", r.URL.Path,
				"status", rec.status,
				"bytes", rec.bytes,
				"duration", elapsed,
				"request_id", GetRequestID(r.Context()),
				"remote_addr", r.RemoteAddr,
			}
			// Handlers echo the correlation ID of the instance they touched.
			if id := rec.Header().Get(headerCorrelationID); id != "" {
				attrs = append(attrs, "correlation_id", id)
			} else if id := r.Header.Get(headerCorrelationID); id != "" {
				attrs = append(attrs, "correlation_id", id)
			}

			switch {
			case rec.status >= 500:
				log.Error("http request", attrs...)
			case rec.status >= 400:
				log.Warn("http request", attrs...)
			case cfg.SlowThreshold > 0 && elapsed > cfg.SlowThreshold:
				log.Warn("slow http request", attrs...)
			default:
				log.Info("http request", attrs...)
			}
		})
	}
}

// Recovery turns a handler panic into a 500 JSON error. Stacks are logged only
// when withStack is set.
func Recovery(log *logger.Logger, withStack bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rv := recover()
				if rv == nil {
					return
				}
				if err, ok := rv.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rv)
				}

				attrs := []any{
					"panic", fmt.Sprint(rv),
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", GetRequestID(r.Context()),
				}
				if withStack {
					attrs = append(attrs, "stack", string(debug.Stack()))
				}
				log.Error("panic recovered", attrs...)

				apierror.InternalError(fmt.Errorf("panic: %v", rv)).
					WriteJSONWithRequestID(w, GetRequestID(r.Context()))
			}()

			next.ServeHTTP(w, r)
		})
	}
}
