package main

import (
	"github.com/openctemio/docflow/internal/config"
	"github.com/openctemio/docflow/internal/infra/http/handler"
	"github.com/openctemio/docflow/internal/infra/http/routes"
	"github.com/openctemio/docflow/internal/infra/websocket"
	"github.com/openctemio/docflow/pkg/logger"
	"github.com/openctemio/docflow/pkg/validator"
)

// HandlerDeps contains dependencies needed to create handlers.
type HandlerDeps struct {
	Config    *config.Config
	Log       *logger.Logger
	Validator *validator.Validator
	Infra     *Infra
	Repos     *Repositories
	Services  *Services
}

// NewHandlers creates all HTTP handlers.
func NewHandlers(deps *HandlerDeps) routes.Handlers {
	cfg := deps.Config
	log := deps.Log
	svc := deps.Services

	healthOpts := []handler.HealthHandlerOption{
		handler.WithCheck("store", deps.Repos.Store),
	}
	if deps.Infra.Redis != nil {
		healthOpts = append(healthOpts, handler.WithCheck("redis", deps.Infra.Redis))
	}

	h := routes.Handlers{
		Health:      handler.NewHealthHandler(healthOpts...),
		Workflow:    handler.NewWorkflowHandler(svc.Router, handler.DefaultStarters(), deps.Validator, log),
		Concurrency: handler.NewConcurrencyHandler(svc.Coordinators, cfg.Concurrency.MaxRemoteWait, deps.Validator, log),
	}
	if svc.WebSocketHub != nil {
		h.WebSocket = websocket.NewHandler(svc.WebSocketHub, log)
	}
	return h
}
