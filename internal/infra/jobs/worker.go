// Package jobs adapts the asynq task queue to the workflow message bus.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/hibiken/asynq"

	"github.com/openctemio/docflow/pkg/domain/workflow"
	"github.com/openctemio/docflow/pkg/logger"
)

// DefaultQueue is used when no queue is configured.
const DefaultQueue = "docflow"

// WorkerConfig holds the configuration for the job worker.
type WorkerConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Queue         string
	Concurrency   int
}

// Worker consumes tasks and hands the decoded messages to subscribed handlers.
type Worker struct {
	server *asynq.Server
	logger *logger.Logger

	mu       sync.RWMutex
	handlers map[workflow.MessageType][]workflow.Handler
}

// NewWorker creates a worker. Subscribe handlers before calling Run.
func NewWorker(cfg WorkerConfig, log *logger.Logger) *Worker {
	if cfg.Queue == "" {
		cfg.Queue = DefaultQueue
	}
	log = log.With("component", "bus_worker")
	server := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		},
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues:      map[string]int{cfg.Queue: 1},
			Logger:      asynqLogger{log},
		},
	)
	return &Worker{
		server:   server,
		logger:   log,
		handlers: make(map[workflow.MessageType][]workflow.Handler),
	}
}

// Subscribe registers h for typ.
func (w *Worker) Subscribe(typ workflow.MessageType, h workflow.Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[typ] = append(w.handlers[typ], h)
}

// ProcessTask implements asynq.Handler.
func (w *Worker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	msg, err := decodeMessage(t.Payload())
	if err != nil {
		w.logger.Error("dropping undecodable task", "type", t.Type(), "error", err)
		return taskError(err)
	}

	w.mu.RLock()
	handlers := w.handlers[msg.Type]
	w.mu.RUnlock()
	if len(handlers) == 0 {
		w.logger.Warn("no handler for message type", "type", string(msg.Type), "message_id", msg.ID)
		return nil
	}

	if finalAttempt(ctx) {
		ctx = workflow.WithFinalDelivery(ctx)
	}
	var errs []error
	for _, h := range handlers {
		if err := h(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return taskError(errors.Join(errs...))
}

// finalAttempt reports whether asynq will archive the task if this attempt fails.
func finalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return false
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	return ok && retried >= maxRetry
}

// taskError tells asynq not to retry permanent failures.
func taskError(err error) error {
	if err == nil {
		return nil
	}
	if workflow.IsPermanent(err) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}

// Run processes tasks until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("starting job worker")
	if err := w.server.Start(w); err != nil {
		return fmt.Errorf("worker error: %w", err)
	}
	<-ctx.Done()
	w.logger.Info("stopping job worker")
	w.server.Shutdown()
	return nil
}

// asynqLogger adapts the application logger to asynq.Logger.
type asynqLogger struct {
	logger *logger.Logger
}

func (l asynqLogger) Debug(args ...any) { l.logger.Debug(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...any)  { l.logger.Info(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...any)  { l.logger.Warn(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...any) { l.logger.Error(fmt.Sprint(args...)) }

// Fatal follows the asynq.Logger contract: log, then exit with status 1.
func (l asynqLogger) Fatal(args ...any) {
	l.logger.Error(fmt.Sprint(args...))
	os.Exit(1)
}

var _ workflow.Subscriber = (*Worker)(nil)
