// Package apierror defines the JSON error body returned by every endpoint:
//
//	{"error":"LEASE_TIMEOUT","code":"LEASE_TIMEOUT","message":"...","request_id":"..."}
//
// "error" duplicates "code" for clients written against older responses.
package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Code is a machine-readable error code.
type Code string

// Error codes.
const (
	CodeBadRequest         Code = "BAD_REQUEST"
	CodeNotFound           Code = "NOT_FOUND"
	CodeConflict           Code = "CONFLICT"
	CodeValidationFailed   Code = "VALIDATION_FAILED"
	CodeTooLarge           Code = "REQUEST_TOO_LARGE"
	CodeRateLimitExceeded  Code = "RATE_LIMIT_EXCEEDED"
	CodeTimeout            Code = "TIMEOUT"
	CodeInternalError      Code = "INTERNAL_ERROR"
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"

	// CodeLeaseRejected: the requested weight can never fit the category.
	CodeLeaseRejected Code = "LEASE_REJECTED"
	// CodeLeaseTimeout: the lease was not granted within the wait timeout.
	CodeLeaseTimeout Code = "LEASE_TIMEOUT"
)

var statusByCode = map[Code]int{
	CodeBadRequest:         http.StatusBadRequest,
	CodeNotFound:           http.StatusNotFound,
	CodeConflict:           http.StatusConflict,
	CodeValidationFailed:   http.StatusUnprocessableEntity,
	CodeTooLarge:           http.StatusRequestEntityTooLarge,
	CodeRateLimitExceeded:  http.StatusTooManyRequests,
	CodeTimeout:            http.StatusGatewayTimeout,
	CodeInternalError:      http.StatusInternalServerError,
	CodeServiceUnavailable: http.StatusServiceUnavailable,
	CodeLeaseRejected:      http.StatusConflict,
	CodeLeaseTimeout:       http.StatusRequestTimeout,
}

// Status returns the HTTP status of code, 500 for unknown codes.
func (c Code) Status() int {
	if s, ok := statusByCode[c]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Error is an API error. Err is logged but never serialized.
type Error struct {
	Status  int
	Code    Code
	Message string
	Details any
	Err     error
}

// New returns an error whose status follows code.
func New(code Code, message string) *Error {
	return &Error{Status: code.Status(), Code: code, Message: message}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Response is the serialized body.
type Response struct {
	Error     string `json:"error"`
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// WriteJSON writes the error with its status.
func (e *Error) WriteJSON(w http.ResponseWriter) {
	e.write(w, "")
}

// WriteJSONWithRequestID also sets X-Request-ID and request_id.
func (e *Error) WriteJSONWithRequestID(w http.ResponseWriter, requestID string) {
	w.Header().Set("X-Request-ID", requestID)
	e.write(w, requestID)
}

func (e *Error) write(w http.ResponseWriter, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(Response{
		Error:     string(e.Code),
		Code:      e.Code,
		Message:   e.Message,
		Details:   e.Details,
		RequestID: requestID,
	})
}

func BadRequest(message string) *Error { return New(CodeBadRequest, message) }

// SafeBadRequest hides err from the client; use it for decoder errors.
func SafeBadRequest(err error) *Error {
	e := New(CodeBadRequest, "Invalid request")
	e.Err = err
	return e
}

// NotFound names the missing resource: NotFound("Workflow") -> "Workflow not found".
func NotFound(resource string) *Error {
	if resource == "" {
		resource = "Resource"
	}
	return New(CodeNotFound, resource+" not found")
}

func Conflict(message string) *Error { return New(CodeConflict, message) }

func ValidationFailed(message string, details any) *Error {
	e := New(CodeValidationFailed, message)
	e.Details = details
	return e
}

func RequestTooLarge() *Error   { return New(CodeTooLarge, "Request body too large") }
func RateLimitExceeded() *Error { return New(CodeRateLimitExceeded, "Rate limit exceeded") }
func Timeout() *Error           { return New(CodeTimeout, "Request timeout") }

// InternalError never exposes err.
func InternalError(err error) *Error {
	e := New(CodeInternalError, "An internal error occurred")
	e.Err = err
	return e
}

func ServiceUnavailable(message string) *Error {
	if message == "" {
		message = "Service temporarily unavailable"
	}
	return New(CodeServiceUnavailable, message)
}

func LeaseRejected(err error) *Error {
	e := New(CodeLeaseRejected, "Lease weight exceeds the category max concurrency")
	e.Err = err
	return e
}

func LeaseTimeout(err error) *Error {
	e := New(CodeLeaseTimeout, "Lease was not granted before the wait timeout")
	e.Err = err
	return e
}

// FromError returns the *Error in err's chain, or wraps err as internal.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return InternalError(err)
}

// ValidationError is one rejected field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors collects field errors into one 422 response.
type ValidationErrors []ValidationError

func (v *ValidationErrors) Add(field, message string) {
	*v = append(*v, ValidationError{Field: field, Message: message})
}

func (v ValidationErrors) HasErrors() bool { return len(v) > 0 }

func (v ValidationErrors) ToAPIError() *Error {
	return ValidationFailed("Validation failed", v)
}
