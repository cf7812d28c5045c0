package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/docflow/pkg/domain/shared"
	"github.com/openctemio/docflow/pkg/domain/workflow"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "docflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newInstance(t *testing.T, kind workflow.Kind) *workflow.Instance {
	t.Helper()
	inst, err := workflow.NewInstance(kind, shared.NewID())
	require.NoError(t, err)
	return inst
}

func TestStore_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	inst := newInstance(t, workflow.KindIngestion)
	inst.Data = json.RawMessage(`{"document_id":"d-1"}`)
	msg, err := workflow.NewMessage("ingestion.parse", inst.CorrelationID, nil)
	require.NoError(t, err)
	inst.Outbox = []workflow.Message{msg}

	require.NoError(t, s.Save(ctx, inst, 0))
	assert.Equal(t, int64(1), inst.Version)

	got, err := s.Load(ctx, workflow.KindIngestion, inst.CorrelationID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, workflow.StateInitial, got.State)
	assert.JSONEq(t, `{"document_id":"d-1"}`, string(got.Data))
	require.Len(t, got.Outbox, 1)
	assert.Equal(t, msg.ID, got.Outbox[0].ID)
	assert.True(t, inst.CreatedAt.Equal(got.CreatedAt))
	assert.Nil(t, got.CompletedAt)

	_, err = s.Load(ctx, workflow.KindReview, inst.CorrelationID)
	assert.True(t, shared.IsNotFound(err))
}

func TestStore_OptimisticVersion(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	inst := newInstance(t, workflow.KindGeneration)
	require.NoError(t, s.Save(ctx, inst, 0))

	t.Run("second insert conflicts", func(t *testing.T) {
		dup := inst.Clone()
		err := s.Save(ctx, dup, 0)
		assert.True(t, errors.Is(err, workflow.ErrVersionConflict))
	})

	t.Run("stale writer loses", func(t *testing.T) {
		a, err := s.Load(ctx, inst.Kind, inst.CorrelationID)
		require.NoError(t, err)
		b, err := s.Load(ctx, inst.Kind, inst.CorrelationID)
		require.NoError(t, err)

		a.State = "awaiting_output"
		require.NoError(t, s.Save(ctx, a, a.Version))
		assert.Equal(t, int64(2), a.Version)

		b.State = "failed"
		assert.ErrorIs(t, s.Save(ctx, b, b.Version), workflow.ErrVersionConflict)
		assert.Equal(t, int64(1), b.Version)

		got, err := s.Load(ctx, inst.Kind, inst.CorrelationID)
		require.NoError(t, err)
		assert.Equal(t, workflow.State("awaiting_output"), got.State)
	})

	t.Run("update of missing instance conflicts", func(t *testing.T) {
		ghost := newInstance(t, workflow.KindGeneration)
		assert.ErrorIs(t, s.Save(ctx, ghost, 3), workflow.ErrVersionConflict)
	})
}

func TestStore_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var all []*workflow.Instance
	for i, kind := range []workflow.Kind{workflow.KindReview, workflow.KindReview, workflow.KindValidation} {
		inst := newInstance(t, kind)
		inst.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		inst.UpdatedAt = inst.CreatedAt
		all = append(all, inst)
	}
	done := base.Add(2 * time.Hour)
	all[0].State = workflow.StateCompleted
	all[0].CompletedAt = &done
	pending, err := workflow.NewMessage("review.answer_notification", all[1].CorrelationID, nil)
	require.NoError(t, err)
	all[1].Outbox = []workflow.Message{pending}
	for _, inst := range all {
		require.NoError(t, s.Save(ctx, inst, 0))
	}

	got, err := s.List(ctx, workflow.Filter{Kind: workflow.KindReview})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, all[0].CorrelationID, got[0].CorrelationID)

	cutoff := base.Add(3 * time.Hour)
	got, err = s.List(ctx, workflow.Filter{CompletedBefore: &cutoff})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, all[0].CorrelationID, got[0].CorrelationID)

	got, err = s.List(ctx, workflow.Filter{PendingOutbox: true, UpdatedBefore: &cutoff})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, all[1].CorrelationID, got[0].CorrelationID)

	got, err = s.List(ctx, workflow.Filter{States: []workflow.State{workflow.StateInitial}, Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, all[1].CorrelationID, got[0].CorrelationID)

	require.NoError(t, s.Delete(ctx, all[0].Kind, all[0].CorrelationID))
	require.NoError(t, s.Delete(ctx, all[0].Kind, all[0].CorrelationID))
	got, err = s.List(ctx, workflow.Filter{})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestOpen_ExclusiveLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docflow.db")
	first, err := Open(context.Background(), path)
	require.NoError(t, err)

	_, err = Open(context.Background(), path)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, first.Close())
	second, err := Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}
