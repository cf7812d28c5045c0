// Package logger provides the structured logger used across docflow.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Logger wraps slog.Logger with additional functionality.
type Logger struct {
	*slog.Logger
}

// Config holds logger configuration.
type Config struct {
	Level  string
	Format string
	Output io.Writer

	// Sampling drops repeated identical records under load.
	Sampling SamplingConfig
}

// DefaultConfig returns the default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "json",
		Output: os.Stdout,
	}
}

// New creates a new Logger instance.
func New(cfg Config) *Logger {
	level := parseLevel(cfg.Level)

	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   level == slog.LevelDebug,
		ReplaceAttr: redactAttr,
	}

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewJSONHandler(output, opts)
	}

	handler = NewSamplingHandler(handler, cfg.Sampling)

	return &Logger{Logger: slog.New(handler)}
}

// redactedKeys are attribute keys whose values never reach the output.
// Matching is case-insensitive and also applies to keys containing one of them.
var redactedKeys = []string{
	"password",
	"secret",
	"token",
	"authorization",
	"api_key",
	"apikey",
	"access_key",
	"private_key",
	"credential",
	"dsn",
	"connection_string",
	"ssh_key",
}

func redactAttr(_ []string, a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	for _, sensitive := range redactedKeys {
		if strings.Contains(key, sensitive) {
			return slog.String(a.Key, "[REDACTED]")
		}
	}
	return a
}

// NewDefault creates a new Logger with default configuration.
func NewDefault() *Logger {
	return New(DefaultConfig())
}

// NewDevelopment creates a debug level text logger.
func NewDevelopment() *Logger {
	return New(Config{
		Level:  "debug",
		Format: "text",
		Output: os.Stdout,
	})
}

// NewProduction creates a JSON logger with sampling enabled.
func NewProduction() *Logger {
	return NewProductionWithConfig(SamplingConfig{
		Enabled:   true,
		Tick:      time.Second,
		Threshold: DefaultSamplingThreshold,
		Rate:      DefaultSamplingRate,
		ErrorRate: DefaultSamplingErrorRate,
	})
}

// NewProductionWithConfig creates a production logger with custom sampling config.
func NewProductionWithConfig(sampling SamplingConfig) *Logger {
	return New(Config{
		Level:    "info",
		Format:   "json",
		Output:   os.Stdout,
		Sampling: sampling,
	})
}

// NewNop creates a logger that discards all output.
func NewNop() *Logger {
	return New(Config{
		Level:  "error",
		Format: "json",
		Output: io.Discard,
	})
}

// With returns a new Logger with the given attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// WithError returns a new Logger with the error attribute.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{Logger: l.Logger.With(slog.Any("error", err))}
}

// WithCorrelation returns a new Logger scoped to one workflow instance.
func (l *Logger) WithCorrelation(kind, correlationID string) *Logger {
	return &Logger{Logger: l.Logger.With(
		slog.String("workflow_kind", kind),
		slog.String("correlation_id", correlationID),
	)}
}

// Stdlib returns the underlying *slog.Logger.
func (l *Logger) Stdlib() *slog.Logger {
	return l.Logger
}

// SetDefault sets this logger as the default slog logger.
func (l *Logger) SetDefault() {
	slog.SetDefault(l.Logger)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type contextKey struct{}

// ToContext adds the logger to the context.
func ToContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext retrieves the logger from the context, falling back to the default logger.
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(contextKey{}).(*Logger); ok {
		return logger
	}
	return NewDefault()
}

// ContextKey is the type of request-scoped values read by WithContext.
type ContextKey string

// ContextKeyRequestID carries the HTTP request ID.
const ContextKeyRequestID ContextKey = "request_id"

// WithContext returns a Logger carrying the request ID found in ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if requestID, ok := ctx.Value(ContextKeyRequestID).(string); ok && requestID != "" {
		return &Logger{Logger: l.Logger.With(slog.String("request_id", requestID))}
	}
	return l
}
