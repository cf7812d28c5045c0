package shared_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/docflow/pkg/domain/shared"
)

func TestID_JSONAndText(t *testing.T) {
	id := shared.NewID()

	data, err := json.Marshal(struct {
		ID shared.ID `json:"id"`
	}{ID: id})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"`+id.String()+`"}`, string(data))

	var decoded struct {
		ID shared.ID `json:"id"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, id, decoded.ID)
}

func TestID_Scan(t *testing.T) {
	id := shared.NewID()

	t.Run("string", func(t *testing.T) {
		var got shared.ID
		require.NoError(t, got.Scan(id.String()))
		assert.Equal(t, id, got)
	})

	t.Run("bytes", func(t *testing.T) {
		var got shared.ID
		require.NoError(t, got.Scan([]byte(id.String())))
		assert.Equal(t, id, got)
	})

	t.Run("unsupported type", func(t *testing.T) {
		var got shared.ID
		assert.Error(t, got.Scan(42))
	})
}

func TestIDFromString_Invalid(t *testing.T) {
	_, err := shared.IDFromString("not-a-uuid")
	assert.Error(t, err)
	assert.True(t, shared.ID{}.IsZero())
}
