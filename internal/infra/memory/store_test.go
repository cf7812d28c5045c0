package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/docflow/pkg/domain/shared"
	"github.com/openctemio/docflow/pkg/domain/workflow"
)

func newInstance(t *testing.T, kind workflow.Kind) *workflow.Instance {
	t.Helper()
	inst, err := workflow.NewInstance(kind, shared.NewID())
	require.NoError(t, err)
	return inst
}

func TestStore_SaveVersions(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	inst := newInstance(t, workflow.KindIngestion)

	require.NoError(t, s.Save(ctx, inst, 0))
	assert.Equal(t, int64(1), inst.Version)

	err := s.Save(ctx, inst.Clone(), 0)
	assert.ErrorIs(t, err, workflow.ErrVersionConflict, "insert of an existing instance")

	first, err := s.Load(ctx, workflow.KindIngestion, inst.CorrelationID)
	require.NoError(t, err)
	second, err := s.Load(ctx, workflow.KindIngestion, inst.CorrelationID)
	require.NoError(t, err)

	first.State = "creating"
	require.NoError(t, s.Save(ctx, first, 1))
	assert.Equal(t, int64(2), first.Version)

	second.State = "failed"
	err = s.Save(ctx, second, 1)
	require.ErrorIs(t, err, workflow.ErrVersionConflict)
	assert.True(t, shared.IsConflict(err))

	got, err := s.Load(ctx, workflow.KindIngestion, inst.CorrelationID)
	require.NoError(t, err)
	assert.Equal(t, workflow.State("creating"), got.State)
	assert.Equal(t, int64(2), got.Version)
}

func TestStore_UpdateOfMissingInstanceConflicts(t *testing.T) {
	s := NewStore()
	err := s.Save(context.Background(), newInstance(t, workflow.KindReview), 3)
	assert.ErrorIs(t, err, workflow.ErrVersionConflict)
}

func TestStore_LoadReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	inst := newInstance(t, workflow.KindReview)
	inst.Data = []byte(`{"total":1}`)
	require.NoError(t, s.Save(ctx, inst, 0))

	inst.Data[2] = 'X'
	got, err := s.Load(ctx, workflow.KindReview, inst.CorrelationID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"total":1}`, string(got.Data))
}

func TestStore_LoadNotFound(t *testing.T) {
	_, err := NewStore().Load(context.Background(), workflow.KindGeneration, shared.NewID())
	assert.True(t, shared.IsNotFound(err))
}

func TestStore_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	var ids []shared.ID
	for i := range 4 {
		inst := newInstance(t, workflow.KindValidation)
		inst.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		if i < 3 {
			inst.State = workflow.StateCompleted
			done := base.Add(time.Duration(i) * 24 * time.Hour)
			inst.CompletedAt = &done
		}
		require.NoError(t, s.Save(ctx, inst, 0))
		ids = append(ids, inst.CorrelationID)
	}
	require.NoError(t, s.Save(ctx, newInstance(t, workflow.KindReview), 0))

	cutoff := base.Add(36 * time.Hour)
	got, err := s.List(ctx, workflow.Filter{
		Kind:            workflow.KindValidation,
		States:          []workflow.State{workflow.StateCompleted, workflow.StateFailed},
		CompletedBefore: &cutoff,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ids[0], got[0].CorrelationID)
	assert.Equal(t, ids[1], got[1].CorrelationID)

	got, err = s.List(ctx, workflow.Filter{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, got, 3)

	require.NoError(t, s.Delete(ctx, workflow.KindValidation, ids[0]))
	require.NoError(t, s.Delete(ctx, workflow.KindValidation, ids[0]), "deleting twice is fine")
	assert.Equal(t, 4, s.Len())
}
