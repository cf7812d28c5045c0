package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// chiRouter implements Router using Chi.
type chiRouter struct {
	mux chi.Router
}

var _ Router = (*chiRouter)(nil)

// NewChiRouter creates a new Router using Chi as the underlying implementation.
func NewChiRouter() Router {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)       // Sets RemoteAddr to X-Real-IP or X-Forwarded-For
	r.Use(chimw.CleanPath)    // Clean double slashes
	r.Use(chimw.StripSlashes) // Strip trailing slashes

	return &chiRouter{mux: r}
}

// GET registers a handler for GET requests with optional middleware.
func (r *chiRouter) GET(path string, handler http.HandlerFunc, middlewares ...Middleware) {
	r.mux.Get(path, wrapHandler(handler, middlewares...))
}

// POST registers a handler for POST requests with optional middleware.
func (r *chiRouter) POST(path string, handler http.HandlerFunc, middlewares ...Middleware) {
	r.mux.Post(path, wrapHandler(handler, middlewares...))
}

// DELETE registers a handler for DELETE requests with optional middleware.
func (r *chiRouter) DELETE(path string, handler http.HandlerFunc, middlewares ...Middleware) {
	r.mux.Delete(path, wrapHandler(handler, middlewares...))
}

// Handle mounts handler on path for every method.
func (r *chiRouter) Handle(path string, handler http.Handler) {
	r.mux.Handle(path, handler)
}

// Group creates a new route group with prefix and optional middleware.
func (r *chiRouter) Group(prefix string, fn func(Router), middlewares ...Middleware) {
	r.mux.Route(prefix, func(cr chi.Router) {
		for _, mw := range middlewares {
			cr.Use(mw)
		}
		fn(&chiRouter{mux: cr})
	})
}

// Use adds middleware to the router.
func (r *chiRouter) Use(middlewares ...Middleware) {
	for _, mw := range middlewares {
		r.mux.Use(mw)
	}
}

// Handler returns the http.Handler for use with http.Server.
func (r *chiRouter) Handler() http.Handler {
	return r.mux
}

// Walk iterates over all registered routes using chi.Walk.
func (r *chiRouter) Walk(fn func(method, path string, handler http.Handler) error) error {
	return chi.Walk(r.mux, func(method, route string, handler http.Handler, _ ...func(http.Handler) http.Handler) error {
		// Skip chi internal wildcard routes
		if route == "/*" {
			return nil
		}
		return fn(method, route, handler)
	})
}

func wrapHandler(h http.HandlerFunc, middlewares ...Middleware) http.HandlerFunc {
	if len(middlewares) == 0 {
		return h
	}
	return Chain(h, middlewares...).ServeHTTP
}
