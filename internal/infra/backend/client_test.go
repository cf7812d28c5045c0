package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/docflow/internal/app/validation"
	"github.com/openctemio/docflow/internal/config"
	"github.com/openctemio/docflow/pkg/domain/content"
	"github.com/openctemio/docflow/pkg/domain/shared"
	"github.com/openctemio/docflow/pkg/logger"
)

func newTestClient(t *testing.T, url string, retries int) *Client {
	t.Helper()
	c, err := NewClient(config.BackendConfig{
		URL:        url + "/",
		APIKey:     "secret",
		Timeout:    time.Second,
		MaxRetries: retries,
	}, logger.NewNop())
	require.NoError(t, err)
	c.backoff = func(int) time.Duration { return 0 }
	return c
}

func nodeInput() validation.NodeInput {
	return validation.NodeInput{
		DocumentID: shared.NewID(),
		StepID:     shared.NewID(),
		Node:       content.Node{ID: shared.NewID(), Text: "The quick brown fox."},
		Context:    "chapter one",
	}
}

func TestNewClient_NotConfigured(t *testing.T) {
	_, err := NewClient(config.BackendConfig{}, logger.NewNop())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestValidateNode(t *testing.T) {
	in := nodeInput()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, validateNodePath, r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var got validation.NodeInput
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, in.Node.ID, got.Node.ID)
		assert.Equal(t, "chapter one", got.Context)

		_, _ = w.Write([]byte(`{"change_required":true,"findings":["passive voice"]}`))
	}))
	defer srv.Close()

	res, err := newTestClient(t, srv.URL, 0).ValidateNode(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, in.Node.ID, res.NodeID)
	assert.True(t, res.ChangeRequired)
	assert.Equal(t, []string{"passive voice"}, res.Findings)
}

func TestValidateNode_Retries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusBadGateway)
		default:
			_, _ = w.Write([]byte(`{"change_required":false}`))
		}
	}))
	defer srv.Close()

	res, err := newTestClient(t, srv.URL, 2).ValidateNode(context.Background(), nodeInput())
	require.NoError(t, err)
	assert.False(t, res.ChangeRequired)
	assert.Equal(t, int32(3), calls.Load())
}

func TestValidateNode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"retries exhausted", http.StatusTooManyRequests, "", ErrRateLimited.Error()},
		{"client error with message", http.StatusBadRequest, `{"code":"bad_node","message":"empty text"}`, "bad_node - empty text"},
		{"client error without body", http.StatusUnprocessableEntity, "", "status 422"},
		{"malformed body", http.StatusOK, `{`, ErrInvalidResponse.Error()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newTestClient(t, srv.URL, 1).ValidateNode(context.Background(), nodeInput())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNoop(t *testing.T) {
	in := nodeInput()
	res, err := Noop{}.ValidateNode(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, in.Node.ID, res.NodeID)
	assert.False(t, res.ChangeRequired)
}
