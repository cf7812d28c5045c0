package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/netutil"

	"github.com/openctemio/docflow/internal/config"
	"github.com/openctemio/docflow/internal/infra/http/middleware"
	"github.com/openctemio/docflow/pkg/logger"
)

// Server represents the HTTP server.
type Server struct {
	httpServer   *http.Server
	router       Router
	config       *config.Config
	logger       *logger.Logger
	cleanupFuncs []func() // cleanup functions to call on shutdown
}

// ServerOption is a function that configures the server.
type ServerOption func(*Server)

// WithRouter sets a custom router implementation.
func WithRouter(r Router) ServerOption {
	return func(s *Server) {
		s.router = r
	}
}

// NewServer creates a new HTTP server.
// By default, it uses Chi router. Use WithRouter option to change.
func NewServer(cfg *config.Config, log *logger.Logger, opts ...ServerOption) *Server {
	s := &Server{
		config: cfg,
		logger: log,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.router == nil {
		s.router = NewChiRouter()
	}

	rateLimitMw, rateLimitStop := middleware.RateLimitWithStop(&cfg.RateLimit, log)
	s.cleanupFuncs = append(s.cleanupFuncs, rateLimitStop)

	var hsts time.Duration
	if cfg.IsProduction() {
		hsts = 365 * 24 * time.Hour
	}

	// Recovery stays first.
	s.router.Use(
		middleware.Recovery(log, !cfg.IsProduction()),
		middleware.RequestID(),
		middleware.SecurityHeaders(hsts),
		middleware.BodyLimit(cfg.Server.MaxBodySize),
		rateLimitMw,
		middleware.Timeout(cfg.Server.RequestTimeout, middleware.IsLeaseRequest),
		middleware.Metrics(),
		middleware.RequestLog(log, middleware.RequestLogConfig{
			SkipPaths:     skipPaths(cfg.Log.SkipHealthLogs),
			SlowThreshold: time.Duration(cfg.Log.SlowRequestSeconds) * time.Second,
		}),
	)

	// Lease long-polls must finish within WriteTimeout; the concurrency handler
	// caps their wait below it.
	s.httpServer = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           s.router.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       time.Minute,
	}

	return s
}

// Router returns the router for registering handlers.
func (s *Server) Router() Router {
	return s.router
}

// Config returns the server configuration.
func (s *Server) Config() *config.Config {
	return s.config
}

// Logger returns the server logger.
func (s *Server) Logger() *logger.Logger {
	return s.logger
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln, capping concurrent connections at Server.MaxConnections.
func (s *Server) Serve(ln net.Listener) error {
	if n := s.config.Server.MaxConnections; n > 0 {
		ln = netutil.LimitListener(ln, n)
	}
	s.logger.Info("starting HTTP server",
		"addr", ln.Addr().String(),
		"max_connections", s.config.Server.MaxConnections,
	)

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	for _, cleanup := range s.cleanupFuncs {
		cleanup()
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// skipPaths always includes /ws, whose connection outlives the request.
func skipPaths(skipProbes bool) []string {
	if skipProbes {
		return middleware.DefaultSkipPaths
	}
	return []string{"/ws"}
}
