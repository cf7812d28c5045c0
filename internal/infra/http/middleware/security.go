package middleware

import (
	"net/http"
	"strconv"
	"time"
)

// apiHeaders suit a JSON API that is never framed or cached.
var apiHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "no-referrer"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Cache-Control", "no-store"},
}

// SecurityHeaders sets apiHeaders on every response. A positive hsts adds
// Strict-Transport-Security with that max-age, including subdomains.
func SecurityHeaders(hsts time.Duration) func(http.Handler) http.Handler {
	var hstsValue string
	if hsts > 0 {
		hstsValue = "max-age=" + strconv.FormatInt(int64(hsts/time.Second), 10) + "; includeSubDomains"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for _, kv := range apiHeaders {
				h.Set(kv[0], kv[1])
			}
			if hstsValue != "" {
				h.Set("Strict-Transport-Security", hstsValue)
			}
			next.ServeHTTP(w, r)
		})
	}
}
