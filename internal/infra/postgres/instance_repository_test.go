package postgres

import (
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/docflow/pkg/domain/shared"
	"github.com/openctemio/docflow/pkg/domain/workflow"
)

func TestBuildInstanceFilter(t *testing.T) {
	cutoff := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		filter    workflow.Filter
		wantWhere string
		wantArgs  int
	}{
		{
			name:      "empty",
			filter:    workflow.Filter{Limit: 10},
			wantWhere: "",
			wantArgs:  0,
		},
		{
			name:      "kind and states",
			filter:    workflow.Filter{Kind: workflow.KindValidation, States: []workflow.State{"running", "awaiting_step"}},
			wantWhere: " WHERE kind = $1 AND state = ANY($2)",
			wantArgs:  2,
		},
		{
			name:      "retention",
			filter:    workflow.Filter{CompletedBefore: &cutoff},
			wantWhere: " WHERE completed_at < $1",
			wantArgs:  1,
		},
		{
			name:      "stale outbox",
			filter:    workflow.Filter{UpdatedBefore: &cutoff, PendingOutbox: true},
			wantWhere: " WHERE updated_at < $1 AND outbox IS NOT NULL",
			wantArgs:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			where, args := buildInstanceFilter(tt.filter)
			assert.Equal(t, tt.wantWhere, where)
			assert.Len(t, args, tt.wantArgs)
		})
	}

	t.Run("states are passed as a text array", func(t *testing.T) {
		_, args := buildInstanceFilter(workflow.Filter{States: []workflow.State{"failed"}})
		assert.IsType(t, pq.Array([]string{}), args[0])
	})
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pq.Error{Code: "23505"}))
	assert.False(t, isUniqueViolation(&pq.Error{Code: "40001"}))
	assert.False(t, isUniqueViolation(nil))
}

func TestOutboxColumn(t *testing.T) {
	data, err := encodeOutbox(nil)
	require.NoError(t, err)
	assert.Nil(t, data, "an empty outbox is stored as NULL")

	msg, err := workflow.NewMessage("validation.step_requested", shared.NewID(), map[string]int{"step": 2})
	require.NoError(t, err)
	data, err = encodeOutbox([]workflow.Message{msg})
	require.NoError(t, err)

	got, err := decodeOutbox(data)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, msg.ID, got[0].ID)
	assert.Equal(t, msg.CorrelationID, got[0].CorrelationID)

	got, err = decodeOutbox(nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}
