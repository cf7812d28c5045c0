package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/openctemio/docflow/pkg/domain/workflow"
	"github.com/openctemio/docflow/pkg/logger"
)

// OutboxRecoveryConfig configures OutboxRecovery.
type OutboxRecoveryConfig struct {
	// Schedule is a cron spec. Default: every 30 seconds.
	Schedule string

	// StaleAfter is how long an outbox may stay pending before it is republished.
	// Default: 1 minute.
	StaleAfter time.Duration

	// BatchSize caps the instances handled per run. Default: 100.
	BatchSize int
}

// OutboxRecovery republishes outboxes left behind when a publish failed and no
// further message arrived for the instance.
type OutboxRecovery struct {
	router *Router
	cfg    OutboxRecoveryConfig
	now    func() time.Time
	logger *logger.Logger
}

// NewOutboxRecovery creates the recovery job.
func NewOutboxRecovery(router *Router, cfg OutboxRecoveryConfig, log *logger.Logger) *OutboxRecovery {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 30s"
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &OutboxRecovery{
		router: router,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		logger: log.With("component", "outbox_recovery"),
	}
}

// Name returns the job name.
func (o *OutboxRecovery) Name() string {
	return "outbox-recovery"
}

// Schedule returns the cron spec.
func (o *OutboxRecovery) Schedule() string {
	return o.cfg.Schedule
}

// Reconcile republishes stale outboxes and returns how many were flushed.
func (o *OutboxRecovery) Reconcile(ctx context.Context) (int, error) {
	cutoff := o.now().Add(-o.cfg.StaleAfter)
	pending, err := o.router.repo.List(ctx, workflow.Filter{
		PendingOutbox: true,
		UpdatedBefore: &cutoff,
		Limit:         o.cfg.BatchSize,
	})
	if err != nil {
		return 0, fmt.Errorf("list pending outboxes: %w", err)
	}

	flushed := 0
	for _, inst := range pending {
		if err := ctx.Err(); err != nil {
			return flushed, err
		}
		err := o.router.flush(ctx, inst)
		switch {
		case err == nil:
			flushed++
			o.logger.Info("republished pending outbox",
				"kind", string(inst.Kind),
				"correlation_id", inst.CorrelationID.String(),
			)
		case workflow.IsVersionConflict(err):
			// A message for the instance arrived meanwhile and flushed it.
		default:
			o.logger.Warn("failed to republish outbox",
				"kind", string(inst.Kind),
				"correlation_id", inst.CorrelationID.String(),
				"error", err,
			)
		}
	}
	return flushed, nil
}
