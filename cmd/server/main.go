package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openctemio/docflow/internal/config"
	"github.com/openctemio/docflow/internal/infra/http"
	"github.com/openctemio/docflow/internal/infra/http/routes"
	"github.com/openctemio/docflow/pkg/logger"
	"github.com/openctemio/docflow/pkg/validator"
)

// Command line flags.
var (
	showRoutes  = flag.Bool("routes", false, "Print all registered routes and exit")
	routeFormat = flag.String("route-format", "table", "Route output format: table, json, csv, simple")
	routeMethod = flag.String("route-method", "", "Filter routes by HTTP method")
	routePath   = flag.String("route-path", "", "Filter routes containing this path")
	routeSort   = flag.String("route-sort", "path", "Sort routes by: path, method, handler")
)

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ==========================================================================
	// Configuration & Logger
	// ==========================================================================
	cfg, err := config.Load()
	if err != nil {
		log := logger.NewDefault()
		log.Error("failed to load configuration", "error", err)
		return 1
	}

	// Route listing needs no external services.
	if *showRoutes {
		offline(cfg)
	}

	if err := cfg.Validate(); err != nil {
		log := logger.NewDefault()
		log.Error("invalid configuration", "error", err)
		return 1
	}

	log := initLogger(cfg)
	log.Info("starting application", "app", cfg.App.Name, "env", cfg.App.Env,
		"store", cfg.Store.Driver, "bus", cfg.Bus.Driver)

	// ==========================================================================
	// Infrastructure
	// ==========================================================================
	infra, err := NewInfra(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize infrastructure", "error", err)
		return 1
	}
	defer infra.Close(log)

	repos, err := NewRepositories(cfg, infra, log)
	if err != nil {
		log.Error("failed to initialize repositories", "error", err)
		return 1
	}

	bus, err := NewBus(cfg, log)
	if err != nil {
		log.Error("failed to initialize message bus", "error", err)
		return 1
	}
	defer func() {
		if err := bus.Close(); err != nil {
			log.Error("failed to close message bus", "error", err)
		}
	}()

	// ==========================================================================
	// Services
	// ==========================================================================
	v := validator.New()
	services, err := NewServices(ctx, &ServiceDeps{
		Config:    cfg,
		Log:       log,
		Validator: v,
		Infra:     infra,
		Repos:     repos,
		Bus:       bus,
	})
	if err != nil {
		log.Error("failed to initialize services", "error", err)
		return 1
	}
	log.Info("services initialized")

	// ==========================================================================
	// HTTP Server
	// ==========================================================================
	handlers := NewHandlers(&HandlerDeps{
		Config:    cfg,
		Log:       log,
		Validator: v,
		Infra:     infra,
		Repos:     repos,
		Services:  services,
	})

	server := http.NewServer(cfg, log)
	routes.Register(server.Router(), handlers)

	if *showRoutes {
		stats := http.CollectRoutes(server.Router())
		filters := http.RouteFilters{
			Method: *routeMethod,
			Path:   *routePath,
			SortBy: *routeSort,
		}
		if err := http.PrintRoutes(os.Stdout, stats, *routeFormat, filters); err != nil {
			log.Error("failed to print routes", "error", err)
			return 1
		}
		return 0
	}

	// ==========================================================================
	// Workers
	// ==========================================================================
	workers, err := NewWorkers(&WorkerDeps{
		Config:   cfg,
		Log:      log,
		Infra:    infra,
		Repos:    repos,
		Bus:      bus,
		Services: services,
	})
	if err != nil {
		log.Error("failed to initialize workers", "error", err)
		return 1
	}

	// ==========================================================================
	// Run until a signal or the first failure
	// ==========================================================================
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return workers.Run(gctx, log)
	})

	g.Go(func() error {
		return server.Start()
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	log.Info("application started", "http_addr", cfg.Server.Addr())

	if err := g.Wait(); err != nil {
		log.Error("application stopped with error", "error", err)
		return 1
	}
	log.Info("application stopped")
	return 0
}

// =============================================================================
// Helper Functions
// =============================================================================

// offline switches every driver to its in-process variant.
func offline(cfg *config.Config) {
	cfg.App.Env = "development"
	cfg.Store.Driver = config.StoreMemory
	cfg.Bus.Driver = config.BusMemory
	cfg.Catalog.Source = config.CatalogNone
	cfg.Retention.Enabled = false
	cfg.Notify.RedisEnabled = false
}

func initLogger(cfg *config.Config) *logger.Logger {
	var log *logger.Logger

	if cfg.IsProduction() {
		// SamplingThreshold is validated to be non-negative in config validation
		//nolint:gosec // G115: safe conversion, value validated non-negative in config.Validate()
		threshold := uint64(cfg.Log.SamplingThreshold)

		log = logger.NewProductionWithConfig(logger.SamplingConfig{
			Enabled:   cfg.Log.SamplingEnabled,
			Tick:      time.Second,
			Threshold: threshold,
			Rate:      cfg.Log.SamplingRate,
			ErrorRate: cfg.Log.ErrorSamplingRate,
		})
	} else {
		log = logger.NewDevelopment()
	}

	log.SetDefault()
	return log
}

type closer interface {
	Close() error
}

func closeWithLog(c closer, name string, log *logger.Logger) {
	if err := c.Close(); err != nil {
		log.Error("failed to close "+name, "error", err)
	}
}
