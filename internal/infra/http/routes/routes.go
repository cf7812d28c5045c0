// Package routes registers all HTTP routes of the docflow API.
package routes

import (
	"github.com/prometheus/client_golang/prometheus/promhttp"

	infrahttp "github.com/openctemio/docflow/internal/infra/http"
	"github.com/openctemio/docflow/internal/infra/http/handler"
	"github.com/openctemio/docflow/internal/infra/websocket"
)

// Router is an alias to the http package's Router interface.
type Router = infrahttp.Router

// Handlers holds all HTTP handlers for route registration.
type Handlers struct {
	Health      *handler.HealthHandler
	Workflow    *handler.WorkflowHandler
	Concurrency *handler.ConcurrencyHandler
	WebSocket   *websocket.Handler // nil when notifications over websocket are disabled
}

// Register registers all routes.
func Register(router Router, h Handlers) {
	registerHealthRoutes(router, h.Health)

	router.Group("/api/v1", func(r Router) {
		registerWorkflowRoutes(r, h.Workflow)
		registerConcurrencyRoutes(r, h.Concurrency)
	})

	if h.WebSocket != nil {
		router.GET("/ws", h.WebSocket.ServeWS)
	}
}

func registerHealthRoutes(router Router, h *handler.HealthHandler) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	router.Handle("/metrics", promhttp.Handler())
}

func registerWorkflowRoutes(router Router, h *handler.WorkflowHandler) {
	router.Group("/workflows", func(r Router) {
		r.GET("/", h.Kinds)
		r.POST("/{kind}", h.Start)
		r.GET("/{kind}", h.List)
		r.GET("/{kind}/{id}", h.Get)
	})
}

func registerConcurrencyRoutes(router Router, h *handler.ConcurrencyHandler) {
	router.Group("/concurrency", func(r Router) {
		r.GET("/", h.List)
		r.GET("/{category}", h.Get)
		r.POST("/{category}/leases", h.Acquire)
		r.DELETE("/{category}/leases/{id}", h.Release)
	})
}
