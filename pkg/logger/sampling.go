package logger

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// SamplingConfig configures log sampling.
// The first Threshold records with the same level and message in each Tick are
// always written; after that only every 1/Rate-th record is kept.
type SamplingConfig struct {
	Enabled   bool
	Tick      time.Duration
	Threshold uint64

	// Rate applies to debug and info records, ErrorRate to warn and above.
	Rate      float64
	ErrorRate float64

	// MaxKeys bounds the number of distinct messages tracked per tick.
	MaxKeys int

	// NeverSample lists message prefixes that bypass sampling.
	NeverSample []string

	EnableMetrics bool
}

// Default values for sampling configuration.
const (
	DefaultSamplingTick      = time.Second
	DefaultSamplingThreshold = 100
	DefaultSamplingRate      = 0.1
	DefaultSamplingErrorRate = 1.0
	DefaultSamplingMaxKeys   = 10000
)

// samplerState is shared by every handler derived through WithAttrs/WithGroup
// so that counters stay global per logger tree.
type samplerState struct {
	mu        sync.Mutex
	counts    map[string]uint64
	windowEnd time.Time
	now       func() time.Time
}

type samplingHandler struct {
	next  slog.Handler
	cfg   SamplingConfig
	state *samplerState
}

// NewSamplingHandler wraps h with threshold sampling. A disabled config returns h unchanged.
func NewSamplingHandler(h slog.Handler, cfg SamplingConfig) slog.Handler {
	if !cfg.Enabled {
		return h
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultSamplingTick
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultSamplingThreshold
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = DefaultSamplingMaxKeys
	}
	return &samplingHandler{
		next: h,
		cfg:  cfg,
		state: &samplerState{
			counts: make(map[string]uint64),
			now:    time.Now,
		},
	}
}

func (h *samplingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *samplingHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.cfg.EnableMetrics {
		observeProcessed(r.Level)
	}
	if h.keep(r) {
		return h.next.Handle(ctx, r)
	}
	if h.cfg.EnableMetrics {
		observeDropped(r.Level)
	}
	return nil
}

func (h *samplingHandler) keep(r slog.Record) bool {
	for _, prefix := range h.cfg.NeverSample {
		if strings.HasPrefix(r.Message, prefix) {
			return true
		}
	}

	s := h.state
	s.mu.Lock()
	now := s.now()
	if now.After(s.windowEnd) {
		clear(s.counts)
		s.windowEnd = now.Add(h.cfg.Tick)
	}
	key := r.Level.String() + "|" + r.Message
	count, tracked := s.counts[key]
	if !tracked && len(s.counts) >= h.cfg.MaxKeys {
		s.mu.Unlock()
		return true
	}
	count++
	s.counts[key] = count
	s.mu.Unlock()

	if count <= h.cfg.Threshold {
		return true
	}

	rate := h.cfg.Rate
	if r.Level >= slog.LevelWarn {
		rate = h.cfg.ErrorRate
	}
	switch {
	case rate >= 1:
		return true
	case rate <= 0:
		return false
	default:
		every := uint64(1 / rate)
		return (count-h.cfg.Threshold)%every == 0
	}
}

func (h *samplingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &samplingHandler{next: h.next.WithAttrs(attrs), cfg: h.cfg, state: h.state}
}

func (h *samplingHandler) WithGroup(name string) slog.Handler {
	return &samplingHandler{next: h.next.WithGroup(name), cfg: h.cfg, state: h.state}
}
