package logger

import (
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

var (
	logsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docflow",
			Subsystem: "logger",
			Name:      "logs_dropped_total",
			Help:      "Total number of log records dropped by sampling",
		},
		[]string{"level"},
	)

	logsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docflow",
			Subsystem: "logger",
			Name:      "logs_processed_total",
			Help:      "Total number of log records seen before sampling",
		},
		[]string{"level"},
	)

	registerOnce sync.Once
)

// RegisterMetrics registers the logger collectors. A nil registry means the default one.
// Safe to call more than once.
func RegisterMetrics(registry prometheus.Registerer) {
	registerOnce.Do(func() {
		if registry == nil {
			registry = prometheus.DefaultRegisterer
		}
		_ = registry.Register(logsDroppedTotal)
		_ = registry.Register(logsProcessedTotal)
	})
}

func observeProcessed(level slog.Level) {
	logsProcessedTotal.WithLabelValues(levelLabel(level)).Inc()
}

func observeDropped(level slog.Level) {
	logsDroppedTotal.WithLabelValues(levelLabel(level)).Inc()
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "error"
	case level >= slog.LevelWarn:
		return "warn"
	case level >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}

// DroppedTotal returns the dropped counter for a level label. Intended for tests.
func DroppedTotal(level string) float64 {
	c, err := logsDroppedTotal.GetMetricWithLabelValues(level)
	if err != nil {
		return 0
	}
	var m dto.Metric
	if err := c.Write(&m); err != nil || m.Counter == nil {
		return 0
	}
	return m.Counter.GetValue()
}
