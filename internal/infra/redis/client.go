package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/openctemio/docflow/internal/config"
	"github.com/openctemio/docflow/pkg/logger"
)

// Client is the shared go-redis connection used by Store and Notifier.
type Client struct {
	rdb    *redis.Client
	logger *logger.Logger
}

// New connects to Redis. The first ping is retried cfg.MaxRetries times with
// exponential backoff between MinRetryDelay and MaxRetryDelay, giving up early
// when ctx is done.
func New(ctx context.Context, cfg *config.RedisConfig, log *logger.Logger) (*Client, error) {
	log = log.With("component", "redis")
	opts := &redis.Options{
		Addr:            cfg.Addr(),
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: cfg.MinRetryDelay,
		MaxRetryBackoff: cfg.MaxRetryDelay,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{
			InsecureSkipVerify: cfg.TLSSkipVerify,
			MinVersion:         tls.VersionTLS12,
		}
	}

	rdb := redis.NewClient(opts)
	for attempt := 0; ; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			break
		}
		if attempt >= cfg.MaxRetries {
			_ = rdb.Close()
			return nil, fmt.Errorf("ping %s after %d attempts: %w", cfg.Addr(), attempt+1, err)
		}

		wait := retryDelay(attempt, cfg.MinRetryDelay, cfg.MaxRetryDelay)
		log.Warn("redis not reachable, retrying",
			"attempt", attempt+1,
			"backoff", wait,
			"error", err,
		)
		select {
		case <-ctx.Done():
			_ = rdb.Close()
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}

	log.Debug("redis ping ok", "addr", cfg.Addr(), "pool_size", cfg.PoolSize, "tls", cfg.TLSEnabled)
	return &Client{rdb: rdb, logger: log}, nil
}

// retryDelay doubles min per attempt, capped at max.
func retryDelay(attempt int, minDelay, maxDelay time.Duration) time.Duration {
	d := minDelay
	for range attempt {
		d *= 2
		if d >= maxDelay {
			return maxDelay
		}
	}
	return min(d, maxDelay)
}

// Close closes the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping implements the readiness check.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// RegisterPoolMetrics exports pool statistics as docflow_redis_pool_* series.
func (c *Client) RegisterPoolMetrics(reg prometheus.Registerer) error {
	return reg.Register(poolCollector{rdb: c.rdb})
}

var (
	poolConnsDesc = prometheus.NewDesc("docflow_redis_pool_connections",
		"Connections in the pool by state", []string{"state"}, nil)
	poolEventsDesc = prometheus.NewDesc("docflow_redis_pool_events_total",
		"Pool lookups by result", []string{"result"}, nil)
)

type poolCollector struct {
	rdb *redis.Client
}

func (p poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- poolConnsDesc
	ch <- poolEventsDesc
}

func (p poolCollector) Collect(ch chan<- prometheus.Metric) {
	s := p.rdb.PoolStats()
	ch <- prometheus.MustNewConstMetric(poolConnsDesc, prometheus.GaugeValue, float64(s.IdleConns), "idle")
	ch <- prometheus.MustNewConstMetric(poolConnsDesc, prometheus.GaugeValue, float64(s.TotalConns-s.IdleConns), "in_use")
	ch <- prometheus.MustNewConstMetric(poolEventsDesc, prometheus.CounterValue, float64(s.Hits), "hit")
	ch <- prometheus.MustNewConstMetric(poolEventsDesc, prometheus.CounterValue, float64(s.Misses), "miss")
	ch <- prometheus.MustNewConstMetric(poolEventsDesc, prometheus.CounterValue, float64(s.Timeouts), "timeout")
}
