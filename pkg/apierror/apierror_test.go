package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	NotFound("Workflow").WriteJSON(rec)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, CodeNotFound, resp.Code)
	assert.Equal(t, "Workflow not found", resp.Message)
}

func TestWriteJSONWithRequestID(t *testing.T) {
	rec := httptest.NewRecorder()
	BadRequest("bad").WriteJSONWithRequestID(rec, "req-1")

	assert.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "req-1", resp.RequestID)
}

func TestLeaseErrors(t *testing.T) {
	cause := errors.New("boom")

	rejected := LeaseRejected(cause)
	assert.Equal(t, http.StatusConflict, rejected.Status)
	assert.Equal(t, CodeLeaseRejected, rejected.Code)
	assert.ErrorIs(t, rejected, cause)

	timeout := LeaseTimeout(cause)
	assert.Equal(t, http.StatusRequestTimeout, timeout.Status)
	assert.Equal(t, CodeLeaseTimeout, timeout.Code)
}

func TestFromError(t *testing.T) {
	assert.Nil(t, FromError(nil))

	apiErr := Conflict("taken")
	assert.Same(t, apiErr, FromError(fmt.Errorf("wrapped: %w", apiErr)))

	internal := FromError(errors.New("db down"))
	assert.Equal(t, http.StatusInternalServerError, internal.Status)
	assert.NotContains(t, internal.Message, "db down")
}

func TestValidationErrors(t *testing.T) {
	var v ValidationErrors
	assert.False(t, v.HasErrors())
	v.Add("kind", "is required")
	require.True(t, v.HasErrors())

	err := v.ToAPIError()
	assert.Equal(t, http.StatusUnprocessableEntity, err.Status)
	assert.Equal(t, v, err.Details)
}

func TestCodeStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeLeaseRejected, http.StatusConflict},
		{CodeLeaseTimeout, http.StatusRequestTimeout},
		{CodeTimeout, http.StatusGatewayTimeout},
		{CodeValidationFailed, http.StatusUnprocessableEntity},
		{Code("SOMETHING_NEW"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.code.Status())
			assert.Equal(t, tt.want, New(tt.code, "x").Status)
		})
	}
}

func TestSafeBadRequest(t *testing.T) {
	rec := httptest.NewRecorder()
	SafeBadRequest(errors.New(`json: unknown field "secret"`)).WriteJSON(rec)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")
}
