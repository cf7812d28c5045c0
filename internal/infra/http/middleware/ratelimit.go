package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/openctemio/docflow/internal/config"
	"github.com/openctemio/docflow/pkg/apierror"
	"github.com/openctemio/docflow/pkg/logger"
)

// visitorIdle is how long a client may stay silent before its bucket is dropped.
const visitorIdle = 3 * time.Minute

// RateLimiter implements a per-IP token bucket.
type RateLimiter struct {
	visitors map[string]*visitor
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	cleanup  time.Duration
	exempt   map[string]bool
	log      *logger.Logger
	done     chan struct{}
	stopped  chan struct{} // signals goroutine has exited
	stopOnce sync.Once
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter. Probe paths are never limited.
func NewRateLimiter(cfg *config.RateLimitConfig, log *logger.Logger) *RateLimiter {
	cleanup := cfg.CleanupInterval
	if cleanup <= 0 {
		cleanup = time.Minute
	}
	burst := max(cfg.Burst, 1)

	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate.Limit(cfg.RequestsPerSec),
		burst:    burst,
		cleanup:  cleanup,
		exempt:   map[string]bool{"/health": true, "/ready": true, "/metrics": true},
		log:      log.With("component", "rate_limiter"),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}

	go rl.cleanupVisitors()

	return rl
}

// Stop stops the cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.done)
	})
	<-rl.stopped
}

// getVisitor retrieves or creates the limiter of an IP.
func (rl *RateLimiter) getVisitor(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[ip]
	if !exists {
		limiter := rate.NewLimiter(rl.rate, rl.burst)
		rl.visitors[ip] = &visitor{limiter: limiter, lastSeen: time.Now()}
		return limiter
	}

	v.lastSeen = time.Now()
	return v.limiter
}

// Visitors returns the number of tracked clients.
func (rl *RateLimiter) Visitors() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.visitors)
}

func (rl *RateLimiter) cleanupVisitors() {
	ticker := time.NewTicker(rl.cleanup)
	defer ticker.Stop()
	defer close(rl.stopped)

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.mu.Lock()
			for ip, v := range rl.visitors {
				if time.Since(v.lastSeen) > visitorIdle {
					delete(rl.visitors, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// Middleware returns the rate limiting middleware.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rl.exempt[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			ip := getClientIP(r)
			limiter := rl.getVisitor(ip)

			// Allow() below consumes one token.
			tokens := limiter.Tokens()
			remaining := int(math.Max(0, math.Floor(tokens)-1))

			resetTime := time.Now()
			if missing := float64(rl.burst) - tokens; missing > 0 && rl.rate > 0 {
				resetTime = resetTime.Add(time.Duration(missing / float64(rl.rate) * float64(time.Second)))
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.burst))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))

			if !limiter.Allow() {
				rl.log.Warn("rate limit exceeded",
					"ip", ip,
					"path", r.URL.Path,
					"request_id", GetRequestID(r.Context()),
				)
				rateLimitedTotal.Inc()

				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Retry-After", "1")
				apierror.RateLimitExceeded().WriteJSON(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitWithStop creates a rate limiting middleware and returns a stop function.
// The stop function should be called during graceful shutdown.
func RateLimitWithStop(cfg *config.RateLimitConfig, log *logger.Logger) (func(http.Handler) http.Handler, func()) {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler {
			return next
		}, func() {}
	}

	rl := NewRateLimiter(cfg, log)
	return rl.Middleware(), rl.Stop
}

// getClientIP returns the host part of RemoteAddr. The chi router's RealIP
// middleware has already replaced it with X-Real-IP or X-Forwarded-For when
// those are present, so only put the API behind a proxy that sets them.
func getClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
