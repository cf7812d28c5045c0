package middleware

import (
	"errors"
	"net/http"

	"github.com/openctemio/docflow/pkg/apierror"
)

// DefaultMaxBodySize is the default maximum request body size (1MB).
const DefaultMaxBodySize = 1 << 20 // 1 MB

// BodyLimit limits the maximum size of request bodies.
// If maxBytes is 0, DefaultMaxBodySize is used.
func BodyLimit(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodySize
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip for methods without body
			if r.Method == http.MethodGet || r.Method == http.MethodHead ||
				r.Method == http.MethodOptions || r.Method == http.MethodTrace {
				next.ServeHTTP(w, r)
				return
			}

			// Wrap the body with a size limiter
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

			next.ServeHTTP(w, r)
		})
	}
}

// IsBodyTooLarge reports whether err came from reading past the body limit.
func IsBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

// HandleBodyLimitError writes the 413 response for an oversized body.
func HandleBodyLimitError(w http.ResponseWriter, _ *http.Request) {
	apierror.RequestTooLarge().WriteJSON(w)
}
