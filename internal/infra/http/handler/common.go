// Package handler holds the HTTP handlers of the docflow API.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/openctemio/docflow/internal/infra/http/middleware"
	"github.com/openctemio/docflow/pkg/apierror"
	"github.com/openctemio/docflow/pkg/domain/lease"
	"github.com/openctemio/docflow/pkg/domain/shared"
	"github.com/openctemio/docflow/pkg/domain/workflow"
	"github.com/openctemio/docflow/pkg/logger"
	"github.com/openctemio/docflow/pkg/validator"
)

// ListResponse is the envelope of list endpoints.
type ListResponse[T any] struct {
	Data  []T `json:"data"`
	Total int `json:"total"`
}

// parseQueryArray parses a comma-separated query parameter.
// Returns nil if the input is empty.
func parseQueryArray(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// parseQueryInt parses a query parameter as an integer.
// Returns defaultVal if the input is empty and -1 if it is invalid.
func parseQueryInt(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return -1
	}
	return val
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON decodes a request body into dst, rejecting unknown fields and
// trailing data. An empty body decodes to the zero value when allowEmpty is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	err := dec.Decode(dst)
	switch {
	case err == nil:
	case errors.Is(err, io.EOF) && allowEmpty:
		return true
	case middleware.IsBodyTooLarge(err):
		middleware.HandleBodyLimitError(w, r)
		return false
	default:
		apierror.SafeBadRequest(err).WriteJSON(w)
		return false
	}

	if dec.More() {
		apierror.BadRequest("Request body must contain a single JSON object").WriteJSON(w)
		return false
	}
	return true
}

// handleValidationError converts validation errors to API errors.
func handleValidationError(w http.ResponseWriter, err error) {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		apiErrors := make(apierror.ValidationErrors, 0, len(validationErrors))
		for _, ve := range validationErrors {
			apiErrors.Add(ve.Field, ve.Message)
		}
		apiErrors.ToAPIError().WriteJSON(w)
		return
	}
	apierror.BadRequest("Validation error").WriteJSON(w)
}

// handleServiceError converts domain errors to API errors. resource names the
// missing thing in 404 responses.
func handleServiceError(w http.ResponseWriter, log *logger.Logger, resource string, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		apierror.NotFound(resource).WriteJSON(w)
	case errors.Is(err, lease.ErrRejected):
		apierror.LeaseRejected(err).WriteJSON(w)
	case errors.Is(err, lease.ErrTimeout):
		apierror.LeaseTimeout(err).WriteJSON(w)
	case errors.Is(err, lease.ErrClosed):
		apierror.ServiceUnavailable("Coordinator is shutting down").WriteJSON(w)
	case errors.Is(err, shared.ErrUnavailable):
		log.Warn("dependency unavailable", "error", err)
		apierror.ServiceUnavailable("").WriteJSON(w)
	case errors.Is(err, workflow.ErrVersionConflict), errors.Is(err, shared.ErrConflict):
		apierror.Conflict("Resource was modified concurrently").WriteJSON(w)
	case errors.Is(err, shared.ErrValidation), errors.Is(err, shared.ErrInvalidInput):
		apierror.BadRequest(err.Error()).WriteJSON(w)
	default:
		log.Error("service error", "error", err)
		apierror.InternalError(err).WriteJSON(w)
	}
}

// parseID parses a path ID, writing a 400 on failure.
func parseID(w http.ResponseWriter, raw, name string) (shared.ID, bool) {
	id, err := shared.IDFromString(raw)
	if err != nil {
		apierror.BadRequest("Invalid " + name).WriteJSON(w)
		return shared.ID{}, false
	}
	return id, true
}
