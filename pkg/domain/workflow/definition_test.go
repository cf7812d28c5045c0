package workflow_test

import (
	"errors"
	"testing"

	"github.com/openctemio/docflow/pkg/domain/shared"
	"github.com/openctemio/docflow/pkg/domain/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counterData struct {
	Count int    `json:"count"`
	Note  string `json:"note,omitempty"`
}

const (
	typStart workflow.MessageType = "review.start"
	typTick  workflow.MessageType = "review.tick"
	typAbort workflow.MessageType = "review.abort"
	typOut   workflow.MessageType = "review.out"

	stateRunning workflow.State = "running"
)

func counterDefinition() *workflow.Definition[counterData] {
	d := workflow.NewDefinition[counterData](workflow.KindReview).
		States(stateRunning).
		Terminal(workflow.StateCompleted, workflow.StateFailed)

	d.Initially(typStart, workflow.Transition[counterData]{
		Action: func(s *workflow.Scope[counterData]) error {
			s.Data.Note = "started"
			return s.Publish(typOut, map[string]int{"n": 0})
		},
		Next: stateRunning,
	})
	d.On(stateRunning, typTick,
		workflow.Transition[counterData]{
			Guard: func(s *workflow.Scope[counterData]) bool { return s.Data.Count == 2 },
			Action: func(s *workflow.Scope[counterData]) error {
				s.Data.Count++
				return s.Publish(typOut, nil)
			},
			Next: workflow.StateCompleted,
		},
		workflow.Transition[counterData]{
			Action: func(s *workflow.Scope[counterData]) error {
				s.Data.Count++
				return nil
			},
		},
	)
	d.OnAny(typAbort, workflow.Transition[counterData]{
		Action: func(s *workflow.Scope[counterData]) error {
			s.Fail("aborted")
			return nil
		},
		Next: workflow.StateFailed,
	})
	return d
}

func newInstance(t *testing.T) *workflow.Instance {
	t.Helper()
	inst, err := workflow.NewInstance(workflow.KindReview, shared.NewID())
	require.NoError(t, err)
	return inst
}

func msg(t *testing.T, inst *workflow.Instance, typ workflow.MessageType) workflow.Message {
	t.Helper()
	m, err := workflow.NewMessage(typ, inst.CorrelationID, nil)
	require.NoError(t, err)
	return m
}

func TestDefinition_Validate(t *testing.T) {
	t.Run("valid table", func(t *testing.T) {
		assert.NoError(t, counterDefinition().Validate())
	})

	t.Run("undeclared target state", func(t *testing.T) {
		d := workflow.NewDefinition[counterData](workflow.KindReview).Terminal(workflow.StateCompleted)
		d.Initially(typStart, workflow.Transition[counterData]{Next: "nowhere"})
		err := d.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nowhere")
	})

	t.Run("missing creation event", func(t *testing.T) {
		d := workflow.NewDefinition[counterData](workflow.KindReview).Terminal(workflow.StateCompleted)
		err := d.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no creation event")
	})

	t.Run("foreign message namespace", func(t *testing.T) {
		d := workflow.NewDefinition[counterData](workflow.KindReview).Terminal(workflow.StateCompleted)
		d.Initially("generation.requested", workflow.Transition[counterData]{Next: workflow.StateCompleted})
		err := d.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "namespace")
	})
}

func TestDefinition_Apply(t *testing.T) {
	d := counterDefinition()

	t.Run("creation transition publishes with deterministic IDs", func(t *testing.T) {
		inst := newInstance(t)
		out, err := d.Apply(inst, msg(t, inst, typStart))
		require.NoError(t, err)

		assert.True(t, out.Applied)
		assert.Equal(t, workflow.StateInitial, out.From)
		assert.Equal(t, stateRunning, out.To)
		assert.Equal(t, stateRunning, inst.State)
		require.Len(t, inst.Outbox, 1)
		assert.Equal(t, workflow.OutboundID(inst.CorrelationID, 1, 0, typOut), inst.Outbox[0].ID)
		assert.JSONEq(t, `{"n":0}`, string(inst.Outbox[0].Payload))

		var data counterData
		require.NoError(t, inst.DecodeData(&data))
		assert.Equal(t, "started", data.Note)
	})

	t.Run("first passing guard wins and empty next keeps state", func(t *testing.T) {
		inst := newInstance(t)
		_, err := d.Apply(inst, msg(t, inst, typStart))
		require.NoError(t, err)

		for i := 0; i < 2; i++ {
			out, err := d.Apply(inst, msg(t, inst, typTick))
			require.NoError(t, err)
			assert.True(t, out.Applied)
			assert.Equal(t, stateRunning, out.To)
			assert.Empty(t, out.Messages)
		}

		out, err := d.Apply(inst, msg(t, inst, typTick))
		require.NoError(t, err)
		assert.Equal(t, workflow.StateCompleted, out.To)
		assert.NotNil(t, inst.CompletedAt)
		assert.Len(t, out.Messages, 1)
	})

	t.Run("terminal instances ignore everything", func(t *testing.T) {
		inst := newInstance(t)
		inst.State = workflow.StateCompleted
		before := inst.Clone()

		out, err := d.Apply(inst, msg(t, inst, typTick))
		require.NoError(t, err)
		assert.False(t, out.Applied)
		assert.Equal(t, before, inst)
	})

	t.Run("unmatched pair is a no-op", func(t *testing.T) {
		inst := newInstance(t)
		out, err := d.Apply(inst, msg(t, inst, typTick))
		require.NoError(t, err)
		assert.False(t, out.Applied)
		assert.Equal(t, workflow.StateInitial, inst.State)
	})

	t.Run("any-state handler records failure", func(t *testing.T) {
		inst := newInstance(t)
		_, err := d.Apply(inst, msg(t, inst, typStart))
		require.NoError(t, err)

		out, err := d.Apply(inst, msg(t, inst, typAbort))
		require.NoError(t, err)
		assert.True(t, out.Applied)
		assert.Equal(t, workflow.StateFailed, inst.State)
		assert.Equal(t, "aborted", inst.FailureReason)
	})

	t.Run("action error leaves instance untouched", func(t *testing.T) {
		boom := errors.New("boom")
		bad := workflow.NewDefinition[counterData](workflow.KindReview).Terminal(workflow.StateCompleted)
		bad.Initially(typStart, workflow.Transition[counterData]{
			Action: func(s *workflow.Scope[counterData]) error {
				s.Data.Count = 99
				return boom
			},
			Next: workflow.StateCompleted,
		})

		inst := newInstance(t)
		before := inst.Clone()
		_, err := bad.Apply(inst, msg(t, inst, typStart))
		require.ErrorIs(t, err, boom)
		assert.Equal(t, before, inst)
	})

	t.Run("kind mismatch", func(t *testing.T) {
		inst, err := workflow.NewInstance(workflow.KindIngestion, shared.NewID())
		require.NoError(t, err)
		_, err = d.Apply(inst, msg(t, inst, typStart))
		assert.ErrorIs(t, err, workflow.ErrKindMismatch)
	})
}

func TestDefinition_Metadata(t *testing.T) {
	d := counterDefinition()

	assert.Equal(t, workflow.KindReview, d.Kind())
	assert.True(t, d.IsCreation(typStart))
	assert.False(t, d.IsCreation(typTick))
	assert.True(t, d.IsTerminal(workflow.StateFailed))
	assert.False(t, d.IsTerminal(stateRunning))
	assert.Equal(t, []workflow.MessageType{typStart, typTick, typAbort}, d.MessageTypes())
}

func TestOutboundID(t *testing.T) {
	id := shared.NewID()
	a := workflow.OutboundID(id, 3, 0, typOut)

	assert.Equal(t, a, workflow.OutboundID(id, 3, 0, typOut))
	assert.NotEqual(t, a, workflow.OutboundID(id, 4, 0, typOut))
	assert.NotEqual(t, a, workflow.OutboundID(id, 3, 1, typOut))
	assert.NotEqual(t, a, workflow.OutboundID(shared.NewID(), 3, 0, typOut))
	assert.Len(t, a, 32)
}

func TestMessageType_Kind(t *testing.T) {
	assert.Equal(t, workflow.KindIngestion, workflow.MessageType("ingestion.classified").Kind())
	assert.Equal(t, workflow.Kind("bare"), workflow.MessageType("bare").Kind())
}
