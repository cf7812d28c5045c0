package validation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openctemio/docflow/internal/app/concurrency"
	"github.com/openctemio/docflow/internal/metrics"
	"github.com/openctemio/docflow/pkg/domain/lease"
	"github.com/openctemio/docflow/pkg/domain/workflow"
	"github.com/openctemio/docflow/pkg/logger"
)

// Leaser runs work under a concurrency lease. *concurrency.Coordinator implements it.
type Leaser interface {
	WithLease(ctx context.Context, req concurrency.AcquireRequest, fn func(ctx context.Context, ls lease.Lease) error) error
}

// StepDispatcher executes validation.execute_step commands. It picks the handler
// for the step's execution type, runs it under a validation lease and reports
// the outcome as step_completed or step_failed.
type StepDispatcher struct {
	handlers  Handlers
	leaser    Leaser
	publisher workflow.Publisher
	weight    int
	logger    *logger.Logger
}

// NewStepDispatcher creates a dispatcher. Each step holds a lease of weight 1.
func NewStepDispatcher(handlers Handlers, leaser Leaser, publisher workflow.Publisher, log *logger.Logger) *StepDispatcher {
	return &StepDispatcher{
		handlers:  handlers,
		leaser:    leaser,
		publisher: publisher,
		weight:    1,
		logger:    log.With("component", "validation_dispatcher"),
	}
}

// Register subscribes the dispatcher to step commands.
func (d *StepDispatcher) Register(sub workflow.Subscriber) {
	sub.Subscribe(TypeExecuteStep, d.Handle)
}

// Handle runs one step. Lease timeouts and cancellations are returned so the bus
// redelivers the command, except a lease timeout on the final delivery, which
// fails the step. Everything else ends in a step report.
func (d *StepDispatcher) Handle(ctx context.Context, msg workflow.Message) error {
	var cmd ExecuteStep
	if err := msg.Decode(&cmd); err != nil {
		return err
	}
	log := d.logger.WithCorrelation(string(workflow.KindValidation), msg.CorrelationID.String()).With(
		"step_id", cmd.Step.ID.String(),
		"step_index", cmd.Index,
		"execution_type", string(cmd.Step.ExecutionType),
	)

	handler, ok := d.handlers[cmd.Step.ExecutionType]
	if !ok {
		log.Error("no handler for execution type")
		return d.fail(ctx, msg, cmd, fmt.Errorf("no handler for execution type %q", cmd.Step.ExecutionType))
	}

	var rep StepReport
	start := time.Now()
	err := d.leaser.WithLease(ctx, concurrency.AcquireRequest{
		RequesterID: fmt.Sprintf("%s/%d", msg.CorrelationID, cmd.Index),
		Weight:      d.weight,
	}, func(ctx context.Context, _ lease.Lease) error {
		var err error
		rep, err = handler.Execute(ctx, StepRequest{
			CorrelationID: msg.CorrelationID,
			DocumentID:    cmd.DocumentID,
			Step:          cmd.Step,
			Index:         cmd.Index,
		})
		return err
	})
	metrics.StepRunDuration.WithLabelValues(string(cmd.Step.ExecutionType)).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
	case errors.Is(err, lease.ErrTimeout) && workflow.IsFinalDelivery(ctx):
		log.Error("no validation lease before the last delivery, failing step", "error", err)
		return d.fail(ctx, msg, cmd, fmt.Errorf("no validation lease granted: %w", err))
	case errors.Is(err, lease.ErrTimeout), errors.Is(err, lease.ErrClosed),
		errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		metrics.StepRunsTotal.WithLabelValues(string(cmd.Step.ExecutionType), "deferred").Inc()
		log.Warn("step deferred", "error", err)
		return fmt.Errorf("run step %d: %w", cmd.Index, err)
	default:
		log.Warn("step failed", "error", err)
		return d.fail(ctx, msg, cmd, err)
	}

	metrics.StepRunsTotal.WithLabelValues(string(cmd.Step.ExecutionType), "completed").Inc()
	log.Info("step completed", "nodes_validated", rep.NodesValidated, "findings", len(rep.Findings))
	reply, err := workflow.NewReply(msg, TypeStepCompleted, StepCompleted{
		StepID:         cmd.Step.ID,
		Index:          cmd.Index,
		NodesValidated: rep.NodesValidated,
		Findings:       rep.Findings,
	})
	if err != nil {
		return err
	}
	return d.publisher.Publish(ctx, reply)
}

func (d *StepDispatcher) fail(ctx context.Context, cause workflow.Message, cmd ExecuteStep, stepErr error) error {
	metrics.StepRunsTotal.WithLabelValues(string(cmd.Step.ExecutionType), "failed").Inc()
	reply, err := workflow.NewReply(cause, TypeStepFailed, StepFailed{
		StepID: cmd.Step.ID,
		Index:  cmd.Index,
		Error:  stepErr.Error(),
	})
	if err != nil {
		return err
	}
	return d.publisher.Publish(ctx, reply)
}

var _ Leaser = (*concurrency.Coordinator)(nil)
