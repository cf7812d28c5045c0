// Package controller runs reconciliation jobs on cron schedules.
//
// Each job repairs or trims one aspect of the stored workflow state:
// - OutboxRecovery: republishes outboxes left behind by a failed publish
// - Retention: archives and deletes terminal instances past their retention age
//
// Jobs are idempotent and tolerate running on several replicas at once; instance
// versions make concurrent modifications safe.
package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/openctemio/docflow/pkg/logger"
)

// Controller is one reconciliation job.
type Controller interface {
	// Name returns the unique name of this controller.
	Name() string

	// Schedule returns a cron spec such as "@every 30s" or "0 3 * * *".
	Schedule() string

	// Reconcile performs one run and returns the number of items processed.
	Reconcile(ctx context.Context) (int, error)
}

// ManagerConfig configures the controller manager.
type ManagerConfig struct {
	// Metrics receives run outcomes. Default: NoopMetrics.
	Metrics Metrics

	// Timeout bounds a single run. Default: 5 minutes.
	Timeout time.Duration

	// Logger (required)
	Logger *logger.Logger
}

// Manager schedules controllers with robfig/cron. A run that is still going
// when its next tick fires is skipped.
type Manager struct {
	cron        *cron.Cron
	parser      cron.Parser
	controllers []Controller
	metrics     Metrics
	timeout     time.Duration
	logger      *logger.Logger

	mu      sync.Mutex
	running bool
	ctx     context.Context
}

// NewManager creates a new controller manager.
func NewManager(cfg *ManagerConfig) *Manager {
	log := cfg.Logger.With("component", "controller_manager")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	cl := cronLogger{log}
	return &Manager{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		metrics: metrics,
		timeout: timeout,
		logger:  log,
		ctx:     context.Background(),
	}
}

// Register schedules a controller. The schedule is validated immediately.
func (m *Manager) Register(c Controller) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("cannot register %s while the manager is running", c.Name())
	}
	schedule, err := m.parser.Parse(c.Schedule())
	if err != nil {
		return fmt.Errorf("controller %s: invalid schedule %q: %w", c.Name(), c.Schedule(), err)
	}
	m.cron.Schedule(schedule, cron.FuncJob(func() { m.reconcileOnce(m.context(), c) }))
	m.controllers = append(m.controllers, c)
	m.logger.Info("controller registered", "name", c.Name(), "schedule", c.Schedule())
	return nil
}

func (m *Manager) context() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctx
}

// Run starts the schedule and blocks until ctx is done. Running jobs are
// waited for before Run returns.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("controller manager already running")
	}
	m.running = true
	m.ctx = ctx
	controllers := append([]Controller(nil), m.controllers...)
	m.mu.Unlock()

	for _, c := range controllers {
		m.metrics.SetScheduled(c.Name(), true)
	}
	m.logger.Info("starting controller manager", "controller_count", len(controllers))
	m.cron.Start()

	<-ctx.Done()

	m.logger.Info("stopping controller manager")
	<-m.cron.Stop().Done()
	for _, c := range controllers {
		m.metrics.SetScheduled(c.Name(), false)
	}

	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
	m.logger.Info("controller manager stopped")
	return nil
}

// RunNow runs the named controller once, outside its schedule.
func (m *Manager) RunNow(ctx context.Context, name string) (int, error) {
	for _, c := range m.Controllers() {
		if c.Name() == name {
			return m.reconcileOnce(ctx, c)
		}
	}
	return 0, fmt.Errorf("unknown controller %q", name)
}

func (m *Manager) reconcileOnce(ctx context.Context, c Controller) (int, error) {
	name := c.Name()
	start := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	count, err := c.Reconcile(runCtx)
	duration := time.Since(start)

	if err != nil {
		m.logger.Error("controller reconcile failed",
			"name", name,
			"duration", duration,
			"error", err,
		)
	} else if count > 0 {
		m.logger.Info("controller reconcile completed",
			"name", name,
			"items_processed", count,
			"duration", duration,
		)
	} else {
		m.logger.Debug("controller reconcile completed (no items)",
			"name", name,
			"duration", duration,
		)
	}

	m.metrics.ObserveRun(name, count, duration, err)
	return count, err
}

// Controllers returns the registered controllers.
func (m *Manager) Controllers() []Controller {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Controller(nil), m.controllers...)
}

// ControllerNames returns the names of all registered controllers.
func (m *Manager) ControllerNames() []string {
	controllers := m.Controllers()
	names := make([]string, len(controllers))
	for i, c := range controllers {
		names[i] = c.Name()
	}
	return names
}

// cronLogger adapts the application logger to cron.Logger.
type cronLogger struct {
	logger *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
