// Package retention removes terminal workflow instances once they are older
// than the retention age, archiving each one first.
package retention

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openctemio/docflow/internal/metrics"
	"github.com/openctemio/docflow/pkg/domain/workflow"
	"github.com/openctemio/docflow/pkg/logger"
)

// Archive stores archived instance snapshots.
type Archive interface {
	Put(ctx context.Context, key string, body []byte) error
}

// Config configures the retention job.
type Config struct {
	// Schedule is a cron spec. Default: daily at 03:00.
	Schedule string

	// MaxAge is how long a terminal instance is kept. Default: 30 days.
	MaxAge time.Duration

	// BatchSize caps the instances removed per run. Default: 500.
	BatchSize int

	// DryRun only counts instances that would be removed.
	DryRun bool
}

// Job archives and deletes expired terminal instances. A nil archive deletes
// without archiving.
type Job struct {
	repo    workflow.Repository
	archive Archive
	cfg     Config
	now     func() time.Time
	logger  *logger.Logger
}

// NewJob creates the retention job.
func NewJob(repo workflow.Repository, archive Archive, cfg Config, log *logger.Logger) *Job {
	if cfg.Schedule == "" {
		cfg.Schedule = "0 3 * * *"
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 30 * 24 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &Job{
		repo:    repo,
		archive: archive,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  log.With("component", "retention"),
	}
}

// Name returns the job name.
func (j *Job) Name() string {
	return "retention"
}

// Schedule returns the cron spec.
func (j *Job) Schedule() string {
	return j.cfg.Schedule
}

// ArchiveKey is where the snapshot of inst is stored.
func ArchiveKey(inst *workflow.Instance) string {
	completed := inst.UpdatedAt
	if inst.CompletedAt != nil {
		completed = *inst.CompletedAt
	}
	return fmt.Sprintf("%s/%s/%s.json", inst.Kind, completed.Format("2006/01/02"), inst.CorrelationID)
}

// Reconcile removes one batch of expired instances and returns how many were
// removed. An instance whose archive write fails is kept for the next run.
func (j *Job) Reconcile(ctx context.Context) (int, error) {
	cutoff := j.now().Add(-j.cfg.MaxAge)
	expired, err := j.repo.List(ctx, workflow.Filter{
		CompletedBefore: &cutoff,
		Limit:           j.cfg.BatchSize,
	})
	if err != nil {
		return 0, fmt.Errorf("list expired instances: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	j.logger.Info("found instances for retention cleanup",
		"count", len(expired),
		"cutoff_time", cutoff,
		"dry_run", j.cfg.DryRun,
	)
	if j.cfg.DryRun {
		return len(expired), nil
	}

	removed := 0
	var errs []error
	for _, inst := range expired {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := j.remove(ctx, inst); err != nil {
			metrics.InstancesArchived.WithLabelValues(string(inst.Kind), "error").Inc()
			errs = append(errs, err)
			continue
		}
		metrics.InstancesArchived.WithLabelValues(string(inst.Kind), "removed").Inc()
		removed++
	}
	return removed, errors.Join(errs...)
}

func (j *Job) remove(ctx context.Context, inst *workflow.Instance) error {
	if j.archive != nil {
		body, err := json.Marshal(inst.Snapshot())
		if err != nil {
			return fmt.Errorf("marshal %s %s: %w", inst.Kind, inst.CorrelationID, err)
		}
		if err := j.archive.Put(ctx, ArchiveKey(inst), body); err != nil {
			return fmt.Errorf("archive %s %s: %w", inst.Kind, inst.CorrelationID, err)
		}
	}
	if err := j.repo.Delete(ctx, inst.Kind, inst.CorrelationID); err != nil {
		return fmt.Errorf("delete %s %s: %w", inst.Kind, inst.CorrelationID, err)
	}
	return nil
}
