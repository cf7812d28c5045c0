package middleware

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/openctemio/docflow/pkg/apierror"
)

// Timeout adds a timeout to each request context.
// If the handler takes longer than the timeout, the request is canceled.
// Requests matched by a skip func keep their own deadline, and a timeout <= 0
// disables the middleware.
func Timeout(timeout time.Duration, skip ...func(*http.Request) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if timeout <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, fn := range skip {
				if fn(r) {
					next.ServeHTTP(w, r)
					return
				}
			}

			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			// Create a channel to signal completion
			done := make(chan struct{})

			// Use a custom response writer to prevent writing after timeout
			tw := &timeoutWriter{
				ResponseWriter: w,
				done:           done,
			}

			go func() {
				next.ServeHTTP(tw, r.WithContext(ctx))
				close(done)
			}()

			select {
			case <-done:
				// Request completed normally
				return
			case <-ctx.Done():
				// Timeout occurred
				tw.mu.Lock()
				defer tw.mu.Unlock()

				if !tw.written {
					tw.timedOut = true
					apierror.Timeout().WriteJSON(w)
				}
			}
		})
	}
}

// IsLeaseRequest matches lease acquisitions, which block up to their own wait
// timeout, and the websocket upgrade.
func IsLeaseRequest(r *http.Request) bool {
	if r.URL.Path == "/ws" {
		return true
	}
	return r.Method == http.MethodPost &&
		strings.HasPrefix(r.URL.Path, "/api/v1/concurrency/") &&
		strings.HasSuffix(r.URL.Path, "/leases")
}

// timeoutWriter wraps http.ResponseWriter to handle timeout scenarios.
type timeoutWriter struct {
	http.ResponseWriter
	done     chan struct{}
	mu       sync.Mutex
	written  bool
	timedOut bool
}

func (tw *timeoutWriter) Write(b []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if tw.timedOut {
		return 0, context.DeadlineExceeded
	}

	tw.written = true
	return tw.ResponseWriter.Write(b)
}

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if tw.timedOut {
		return
	}

	tw.written = true
	tw.ResponseWriter.WriteHeader(code)
}

// Hijack implements http.Hijacker interface to support WebSocket connections.
func (tw *timeoutWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := tw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("timeoutWriter: underlying ResponseWriter does not implement http.Hijacker")
}
