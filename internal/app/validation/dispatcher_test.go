package validation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/docflow/internal/app/concurrency"
	wfapp "github.com/openctemio/docflow/internal/app/workflow"
	"github.com/openctemio/docflow/internal/infra/memory"
	"github.com/openctemio/docflow/pkg/domain/lease"
	"github.com/openctemio/docflow/pkg/domain/pipeline"
	"github.com/openctemio/docflow/pkg/domain/shared"
	"github.com/openctemio/docflow/pkg/domain/workflow"
	"github.com/openctemio/docflow/pkg/logger"
)

type stubHandler func(ctx context.Context, req StepRequest) (StepReport, error)

func (f stubHandler) Execute(ctx context.Context, req StepRequest) (StepReport, error) {
	return f(ctx, req)
}

type errLeaser struct{ err error }

func (l errLeaser) WithLease(context.Context, concurrency.AcquireRequest, func(context.Context, lease.Lease) error) error {
	return l.err
}

func startValidationCoordinator(t *testing.T, maxConcurrency int) *concurrency.Coordinator {
	t.Helper()
	c := concurrency.NewCoordinator(lease.CategoryValidation, concurrency.Options{MaxConcurrency: maxConcurrency}, logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return c
}

func executeStep(t *testing.T, typ pipeline.ExecutionType) workflow.Message {
	t.Helper()
	msg, err := workflow.NewMessage(TypeExecuteStep, shared.NewID(), ExecuteStep{
		DocumentID: shared.NewID(),
		Step:       StepDescriptor{ID: shared.NewID(), ExecutionType: typ},
		Index:      2,
		Total:      3,
	})
	require.NoError(t, err)
	return msg
}

func onlyReply(t *testing.T, bus *memory.Bus) workflow.Message {
	t.Helper()
	published := bus.Published()
	require.Len(t, published, 1)
	return published[0]
}

func TestStepDispatcher_Completed(t *testing.T) {
	coord := startValidationCoordinator(t, 1)
	bus := memory.NewBus(memory.BusOptions{}, logger.NewNop())

	var activeDuringRun int
	handlers := Handlers{pipeline.ExecutionSequentialFullDocument: stubHandler(func(ctx context.Context, req StepRequest) (StepReport, error) {
		st, err := coord.Status(ctx)
		require.NoError(t, err)
		activeDuringRun = st.ActiveWeight
		assert.Equal(t, 2, req.Index)
		return StepReport{NodesValidated: 5, Findings: []Finding{{NodeID: shared.NewID(), Message: "tone"}}}, nil
	})}
	d := NewStepDispatcher(handlers, coord, bus, logger.NewNop())

	cmd := executeStep(t, pipeline.ExecutionSequentialFullDocument)
	require.NoError(t, d.Handle(context.Background(), cmd))
	assert.Equal(t, 1, activeDuringRun)

	reply := onlyReply(t, bus)
	assert.Equal(t, TypeStepCompleted, reply.Type)
	assert.Equal(t, cmd.CorrelationID, reply.CorrelationID)
	assert.Equal(t, workflow.ReplyID(cmd, TypeStepCompleted), reply.ID)

	var ev StepCompleted
	require.NoError(t, reply.Decode(&ev))
	assert.Equal(t, 2, ev.Index)
	assert.Equal(t, 5, ev.NodesValidated)
	assert.Len(t, ev.Findings, 1)

	require.Eventually(t, func() bool {
		st, err := coord.Status(context.Background())
		return err == nil && st.ActiveWeight == 0
	}, time.Second, 5*time.Millisecond, "lease released")
}

func TestStepDispatcher_Failures(t *testing.T) {
	failing := stubHandler(func(context.Context, StepRequest) (StepReport, error) {
		return StepReport{}, errors.New("model refused")
	})

	tests := []struct {
		name     string
		handlers Handlers
		leaser   Leaser
		typ      pipeline.ExecutionType
		wantErr  string
	}{
		{
			name:     "handler error",
			handlers: Handlers{pipeline.ExecutionParallelFullDocument: failing},
			typ:      pipeline.ExecutionParallelFullDocument,
			wantErr:  "model refused",
		},
		{
			name:     "no handler",
			handlers: Handlers{},
			typ:      pipeline.ExecutionParallelByOuterChapter,
			wantErr:  "no handler",
		},
		{
			name:     "lease rejected",
			handlers: Handlers{pipeline.ExecutionParallelFullDocument: failing},
			leaser:   errLeaser{lease.ErrRejected},
			typ:      pipeline.ExecutionParallelFullDocument,
			wantErr:  "weight exceeds",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			leaser := tt.leaser
			if leaser == nil {
				leaser = startValidationCoordinator(t, 2)
			}
			bus := memory.NewBus(memory.BusOptions{}, logger.NewNop())
			d := NewStepDispatcher(tt.handlers, leaser, bus, logger.NewNop())

			cmd := executeStep(t, tt.typ)
			require.NoError(t, d.Handle(context.Background(), cmd))

			reply := onlyReply(t, bus)
			assert.Equal(t, TypeStepFailed, reply.Type)
			var ev StepFailed
			require.NoError(t, reply.Decode(&ev))
			assert.Equal(t, 2, ev.Index)
			assert.Contains(t, ev.Error, tt.wantErr)
		})
	}
}

func TestStepDispatcher_DefersWhenNoLease(t *testing.T) {
	for _, err := range []error{lease.ErrTimeout, lease.ErrClosed, context.Canceled} {
		bus := memory.NewBus(memory.BusOptions{}, logger.NewNop())
		handlers := Handlers{pipeline.ExecutionSequentialFullDocument: stubHandler(func(context.Context, StepRequest) (StepReport, error) {
			t.Fatal("handler must not run without a lease")
			return StepReport{}, nil
		})}
		d := NewStepDispatcher(handlers, errLeaser{err}, bus, logger.NewNop())

		got := d.Handle(context.Background(), executeStep(t, pipeline.ExecutionSequentialFullDocument))
		assert.ErrorIs(t, got, err)
		assert.False(t, workflow.IsPermanent(got))
		assert.Empty(t, bus.Published(), "nothing reported, the bus redelivers")
	}
}

func TestStepDispatcher_LeaseTimeoutOnFinalDeliveryFailsStep(t *testing.T) {
	handlers := Handlers{pipeline.ExecutionSequentialFullDocument: stubHandler(func(context.Context, StepRequest) (StepReport, error) {
		t.Fatal("handler must not run without a lease")
		return StepReport{}, nil
	})}
	bus := memory.NewBus(memory.BusOptions{}, logger.NewNop())
	d := NewStepDispatcher(handlers, errLeaser{lease.ErrTimeout}, bus, logger.NewNop())

	ctx := workflow.WithFinalDelivery(context.Background())
	require.NoError(t, d.Handle(ctx, executeStep(t, pipeline.ExecutionSequentialFullDocument)))

	reply := onlyReply(t, bus)
	assert.Equal(t, TypeStepFailed, reply.Type)
	var ev StepFailed
	require.NoError(t, reply.Decode(&ev))
	assert.Equal(t, 2, ev.Index)
	assert.Contains(t, ev.Error, "no validation lease granted")

	t.Run("shutdown on the final delivery still defers", func(t *testing.T) {
		bus := memory.NewBus(memory.BusOptions{}, logger.NewNop())
		d := NewStepDispatcher(handlers, errLeaser{lease.ErrClosed}, bus, logger.NewNop())
		err := d.Handle(ctx, executeStep(t, pipeline.ExecutionSequentialFullDocument))
		assert.ErrorIs(t, err, lease.ErrClosed)
		assert.Empty(t, bus.Published())
	})
}

func TestStepDispatcher_MalformedCommand(t *testing.T) {
	bus := memory.NewBus(memory.BusOptions{}, logger.NewNop())
	d := NewStepDispatcher(Handlers{}, errLeaser{}, bus, logger.NewNop())
	err := d.Handle(context.Background(), workflow.Message{
		ID:            "m-1",
		Type:          TypeExecuteStep,
		CorrelationID: shared.NewID(),
		Payload:       []byte(`{"index":"two"}`),
	})
	assert.True(t, workflow.IsPermanent(err))
}

func TestValidation_EndToEnd(t *testing.T) {
	ctx := context.Background()
	tree := sampleTree(t)
	store := memory.NewStore()
	bus := memory.NewBus(memory.BusOptions{}, logger.NewNop())

	catalog, err := pipeline.NewCatalog([]pipeline.Pipeline{{
		Name: "full-review",
		Steps: []StepDescriptor{
			{ID: shared.NewID(), Order: 1, ExecutionType: pipeline.ExecutionParallelByOuterChapter},
			{ID: shared.NewID(), Order: 0, ExecutionType: pipeline.ExecutionSequentialFullDocument},
		},
	}})
	require.NoError(t, err)

	router, err := wfapp.NewRouter(store, bus, logger.NewNop(), []workflow.Machine{NewDefinition(catalog)})
	require.NoError(t, err)
	router.Register(bus)

	v := &recordingValidator{}
	NewStepDispatcher(NewHandlers(treeSource{tree.DocumentID: tree}, v, 2), startValidationCoordinator(t, 1), bus, logger.NewNop()).Register(bus)

	msg, err := router.Start(ctx, TypeRequested, shared.ID{}, Requested{DocumentID: tree.DocumentID, Pipeline: "full-review"})
	require.NoError(t, err)
	require.NoError(t, bus.Drain(ctx))

	inst, err := store.Load(ctx, workflow.KindValidation, msg.CorrelationID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StateCompleted, inst.State)
	assert.Len(t, bus.PublishedOfType(TypeExecuteStep), 2)
	assert.Len(t, bus.PublishedOfType(TypeStepCompleted), 2)
	assert.Len(t, bus.PublishedOfType(TypeCompleted), 1)
	assert.Len(t, v.inputs, 8, "four body nodes per step")
}
