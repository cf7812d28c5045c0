package main

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/openctemio/docflow/internal/app/retention"
	appworkflow "github.com/openctemio/docflow/internal/app/workflow"
	"github.com/openctemio/docflow/internal/config"
	"github.com/openctemio/docflow/internal/infra/controller"
	"github.com/openctemio/docflow/internal/infra/objectstore"
	"github.com/openctemio/docflow/pkg/logger"
)

// Workers holds the background loops of the server.
type Workers struct {
	Bus               *Bus
	Services          *Services
	ControllerManager *controller.Manager
}

// WorkerDeps contains dependencies needed to create workers.
type WorkerDeps struct {
	Config   *config.Config
	Log      *logger.Logger
	Infra    *Infra
	Repos    *Repositories
	Bus      *Bus
	Services *Services
}

// NewWorkers initializes all background workers.
func NewWorkers(deps *WorkerDeps) (*Workers, error) {
	cfg := deps.Config
	log := deps.Log

	w := &Workers{
		Bus:      deps.Bus,
		Services: deps.Services,
		ControllerManager: controller.NewManager(&controller.ManagerConfig{
			Metrics: controller.NewPrometheusMetrics(nil),
			Logger:  log,
		}),
	}

	recovery := appworkflow.NewOutboxRecovery(deps.Services.Router, appworkflow.OutboxRecoveryConfig{
		Schedule:   cfg.Router.RecoverySchedule,
		StaleAfter: cfg.Router.RecoveryStaleAfter,
		BatchSize:  cfg.Router.RecoveryBatchSize,
	}, log)
	if err := w.ControllerManager.Register(recovery); err != nil {
		return nil, err
	}

	if cfg.Retention.Enabled {
		var archive retention.Archive
		if cfg.Retention.ArchiveBucket != "" {
			archive = objectstore.NewBucket(deps.Infra.S3, cfg.Retention.ArchiveBucket, cfg.Retention.ArchivePrefix)
		}
		job := retention.NewJob(deps.Repos.Instances, archive, retention.Config{
			Schedule:  cfg.Retention.Schedule,
			MaxAge:    cfg.Retention.MaxAge,
			BatchSize: cfg.Retention.BatchSize,
		}, log)
		if err := w.ControllerManager.Register(job); err != nil {
			return nil, err
		}
		log.Info("retention enabled",
			"max_age", cfg.Retention.MaxAge,
			"archive_bucket", cfg.Retention.ArchiveBucket,
		)
	}

	return w, nil
}

// Run runs every worker until ctx is done or one of them fails.
func (w *Workers) Run(ctx context.Context, log *logger.Logger) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := w.Services.Coordinators.Run(gctx); err != nil {
			return fmt.Errorf("concurrency coordinators: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := w.Bus.Run(gctx); err != nil {
			return fmt.Errorf("message bus: %w", err)
		}
		return nil
	})

	if hub := w.Services.WebSocketHub; hub != nil {
		g.Go(func() error {
			hub.Run(gctx)
			return nil
		})
	}

	// Notifications published by any replica reach this replica's clients.
	if n, hub := w.Services.Notifier, w.Services.WebSocketHub; n != nil && hub != nil {
		g.Go(func() error {
			if err := n.Listen(gctx, hub); err != nil {
				return fmt.Errorf("notification listener: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		return w.ControllerManager.Run(gctx)
	})

	log.Info("workers started", "controllers", w.ControllerManager.ControllerNames())
	return g.Wait()
}
