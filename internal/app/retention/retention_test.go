package retention

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/docflow/internal/infra/memory"
	"github.com/openctemio/docflow/pkg/domain/shared"
	"github.com/openctemio/docflow/pkg/domain/workflow"
	"github.com/openctemio/docflow/pkg/logger"
)

type mapArchive struct {
	mu     sync.Mutex
	bodies map[string][]byte
	fail   bool
}

func (a *mapArchive) Put(_ context.Context, key string, body []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail {
		return errors.New("bucket unavailable")
	}
	if a.bodies == nil {
		a.bodies = make(map[string][]byte)
	}
	a.bodies[key] = body
	return nil
}

var now = time.Date(2026, 6, 1, 3, 0, 0, 0, time.UTC)

func seed(t *testing.T, store *memory.Store, kind workflow.Kind, completedAgo time.Duration) *workflow.Instance {
	t.Helper()
	inst, err := workflow.NewInstance(kind, shared.NewID())
	require.NoError(t, err)
	if completedAgo > 0 {
		inst.State = workflow.StateCompleted
		at := now.Add(-completedAgo)
		inst.CompletedAt = &at
	}
	require.NoError(t, store.Save(context.Background(), inst, 0))
	return inst
}

func newJob(store *memory.Store, archive Archive, cfg Config) *Job {
	j := NewJob(store, archive, cfg, logger.NewNop())
	j.now = func() time.Time { return now }
	return j
}

func TestJob_ArchivesAndDeletesExpired(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	old := seed(t, store, workflow.KindIngestion, 40*24*time.Hour)
	recent := seed(t, store, workflow.KindIngestion, 2*24*time.Hour)
	running := seed(t, store, workflow.KindValidation, 0)

	archive := &mapArchive{}
	n, err := newJob(store, archive, Config{}).Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.Load(ctx, old.Kind, old.CorrelationID)
	assert.True(t, shared.IsNotFound(err))
	for _, inst := range []*workflow.Instance{recent, running} {
		_, err := store.Load(ctx, inst.Kind, inst.CorrelationID)
		assert.NoError(t, err)
	}

	key := "ingestion/2026/04/22/" + old.CorrelationID.String() + ".json"
	require.Contains(t, archive.bodies, key)
	var snap workflow.Snapshot
	require.NoError(t, json.Unmarshal(archive.bodies[key], &snap))
	assert.Equal(t, old.CorrelationID, snap.CorrelationID)
	assert.Equal(t, workflow.StateCompleted, snap.State)
}

func TestJob_ArchiveFailureKeepsInstance(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	old := seed(t, store, workflow.KindReview, 90*24*time.Hour)

	n, err := newJob(store, &mapArchive{fail: true}, Config{}).Reconcile(ctx)
	assert.ErrorContains(t, err, "bucket unavailable")
	assert.Zero(t, n)
	_, err = store.Load(ctx, old.Kind, old.CorrelationID)
	assert.NoError(t, err)
}

func TestJob_Options(t *testing.T) {
	store := memory.NewStore()
	for range 3 {
		seed(t, store, workflow.KindGeneration, 10*time.Hour)
	}

	t.Run("dry run", func(t *testing.T) {
		n, err := newJob(store, nil, Config{MaxAge: time.Hour, DryRun: true}).Reconcile(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.Equal(t, 3, store.Len())
	})

	t.Run("batch size without archive", func(t *testing.T) {
		n, err := newJob(store, nil, Config{MaxAge: time.Hour, BatchSize: 2}).Reconcile(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, 1, store.Len())
	})

	t.Run("defaults", func(t *testing.T) {
		j := NewJob(store, nil, Config{}, logger.NewNop())
		assert.Equal(t, "retention", j.Name())
		assert.Equal(t, "0 3 * * *", j.Schedule())
	})
}
