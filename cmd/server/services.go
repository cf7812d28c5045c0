package main

import (
	"context"
	"fmt"

	"github.com/openctemio/docflow/internal/app/concurrency"
	"github.com/openctemio/docflow/internal/app/generation"
	"github.com/openctemio/docflow/internal/app/ingestion"
	"github.com/openctemio/docflow/internal/app/notify"
	"github.com/openctemio/docflow/internal/app/review"
	"github.com/openctemio/docflow/internal/app/validation"
	appworkflow "github.com/openctemio/docflow/internal/app/workflow"
	"github.com/openctemio/docflow/internal/config"
	"github.com/openctemio/docflow/internal/infra/backend"
	"github.com/openctemio/docflow/internal/infra/catalog"
	"github.com/openctemio/docflow/internal/infra/jobs"
	"github.com/openctemio/docflow/internal/infra/memory"
	"github.com/openctemio/docflow/internal/infra/objectstore"
	"github.com/openctemio/docflow/internal/infra/redis"
	"github.com/openctemio/docflow/internal/infra/websocket"
	"github.com/openctemio/docflow/pkg/domain/lease"
	"github.com/openctemio/docflow/pkg/domain/pipeline"
	"github.com/openctemio/docflow/pkg/domain/workflow"
	"github.com/openctemio/docflow/pkg/logger"
	"github.com/openctemio/docflow/pkg/validator"
)

// Bus is the configured message bus. Run delivers messages until ctx is done.
type Bus struct {
	Publisher  workflow.Publisher
	Subscriber workflow.Subscriber
	Run        func(ctx context.Context) error
	Close      func() error
}

// NewBus creates the bus selected by cfg.Bus.Driver.
func NewBus(cfg *config.Config, log *logger.Logger) (*Bus, error) {
	switch cfg.Bus.Driver {
	case config.BusMemory:
		b := memory.NewBus(memory.BusOptions{
			DedupWindow: cfg.Bus.DedupWindow,
			MaxRetry:    cfg.Bus.MaxRetry,
		}, log)
		log.Warn("using the in-memory bus, undelivered messages are lost on restart")
		return &Bus{
			Publisher:  b,
			Subscriber: b,
			Run: func(ctx context.Context) error {
				b.Run(ctx)
				return nil
			},
			Close: func() error { return nil },
		}, nil

	case config.BusAsynq:
		publisher := jobs.NewPublisher(jobs.ClientConfig{
			RedisAddr:         cfg.Redis.Addr(),
			RedisPassword:     cfg.Redis.Password,
			RedisDB:           cfg.Redis.DB,
			Queue:             cfg.Bus.Queue,
			MaxRetry:          cfg.Bus.MaxRetry,
			DedupWindow:       cfg.Bus.DedupWindow,
			CompressThreshold: cfg.Bus.CompressThreshold,
		}, log)
		worker := jobs.NewWorker(jobs.WorkerConfig{
			RedisAddr:     cfg.Redis.Addr(),
			RedisPassword: cfg.Redis.Password,
			RedisDB:       cfg.Redis.DB,
			Queue:         cfg.Bus.Queue,
			Concurrency:   cfg.Bus.Concurrency,
		}, log)
		log.Info("job queue initialized", "redis_addr", cfg.Redis.Addr(), "queue", cfg.Bus.Queue)
		return &Bus{
			Publisher:  publisher,
			Subscriber: worker,
			Run:        worker.Run,
			Close:      publisher.Close,
		}, nil
	}
	return nil, fmt.Errorf("unknown bus driver %q", cfg.Bus.Driver)
}

// Services holds the application services.
type Services struct {
	Router       *appworkflow.Router
	Coordinators *concurrency.Registry
	Dispatcher   *validation.StepDispatcher
	Relay        *notify.Relay
	Catalog      *pipeline.Catalog

	// WebSocketHub is nil when websocket notifications are disabled.
	WebSocketHub *websocket.Hub
	// Notifier is nil when Redis notifications are disabled.
	Notifier *redis.Notifier
}

// ServiceDeps contains dependencies needed to create services.
type ServiceDeps struct {
	Config    *config.Config
	Log       *logger.Logger
	Validator *validator.Validator
	Infra     *Infra
	Repos     *Repositories
	Bus       *Bus
}

// NewServices wires the workflow engine, the coordinators and the
// notification path onto the bus.
func NewServices(ctx context.Context, deps *ServiceDeps) (*Services, error) {
	cfg := deps.Config
	log := deps.Log
	s := &Services{}

	// Notifications: Redis fans out across replicas, each replica's hub
	// delivers to its own websocket clients.
	var local notify.Sink = notify.Nop
	if cfg.Notify.WebSocketEnabled {
		s.WebSocketHub = websocket.NewHub(log)
		local = s.WebSocketHub
	}
	sink := local
	if cfg.Notify.RedisEnabled {
		s.Notifier = redis.NewNotifier(deps.Infra.Redis, log)
		sink = s.Notifier
	}

	s.Coordinators = concurrency.NewRegistry(concurrency.Options{
		SweepInterval:      cfg.Concurrency.SweepInterval,
		StatusInterval:     cfg.Concurrency.StatusInterval,
		DefaultLeaseTTL:    cfg.Concurrency.DefaultLeaseTTL,
		DefaultWaitTimeout: cfg.Concurrency.DefaultWaitTimeout,
		Sink:               notify.StatusSink(sink),
	}, cfg.Concurrency.Max, log)
	log.Info("concurrency coordinators initialized",
		"validation", cfg.Concurrency.Validation,
		"generation", cfg.Concurrency.Generation,
		"ingestion", cfg.Concurrency.Ingestion,
		"review", cfg.Concurrency.Review,
		"flowchat", cfg.Concurrency.FlowChat,
	)

	var err error
	s.Catalog, err = loadCatalog(ctx, cfg, deps.Validator, deps.Infra, log)
	if err != nil {
		return nil, err
	}

	machines := []workflow.Machine{
		generation.NewDefinition(),
		ingestion.NewDefinition(),
		validation.NewDefinition(s.Catalog),
		review.NewDefinition(),
	}
	s.Router, err = appworkflow.NewRouter(deps.Repos.Instances, deps.Bus.Publisher, log, machines,
		appworkflow.WithMaxAttempts(cfg.Router.MaxAttempts),
	)
	if err != nil {
		return nil, fmt.Errorf("create workflow router: %w", err)
	}
	s.Router.Register(deps.Bus.Subscriber)

	var nodeValidator validation.NodeValidator = backend.Noop{}
	if cfg.Backend.IsConfigured() {
		client, err := backend.NewClient(cfg.Backend, log)
		if err != nil {
			return nil, fmt.Errorf("create validation backend client: %w", err)
		}
		nodeValidator = client
		log.Info("validation backend configured", "url", cfg.Backend.URL)
	} else {
		log.Warn("validation backend not configured, every node is approved")
	}
	s.Dispatcher = validation.NewStepDispatcher(
		validation.NewHandlers(deps.Repos.Content, nodeValidator, cfg.Backend.Parallelism),
		s.Coordinators.MustGet(lease.CategoryValidation),
		deps.Bus.Publisher,
		log,
	)
	s.Dispatcher.Register(deps.Bus.Subscriber)

	s.Relay = notify.NewRelay(sink, log, notifiedTypes()...)
	s.Relay.Register(deps.Bus.Subscriber)

	log.Info("workflow router initialized", "message_types", len(s.Router.MessageTypes()))
	return s, nil
}

// notifiedTypes are the outcomes forwarded to instance groups.
func notifiedTypes() []workflow.MessageType {
	return []workflow.MessageType{
		generation.TypeCompleted,
		generation.TypeFailed,
		ingestion.TypeCompleted,
		ingestion.TypeFailed,
		validation.TypeCompleted,
		validation.TypeFailed,
		review.TypeAnswerNotification,
		review.TypeCompleted,
	}
}

func loadCatalog(ctx context.Context, cfg *config.Config, v *validator.Validator, infra *Infra, log *logger.Logger) (*pipeline.Catalog, error) {
	var src pipeline.Source
	switch cfg.Catalog.Source {
	case config.CatalogNone:
		src = catalog.Empty{}
	case config.CatalogFile:
		src = &catalog.FileSource{Path: cfg.Catalog.Path, Validator: v}
	case config.CatalogGit:
		git, err := catalog.NewGitSource(catalog.GitConfig{
			URL:        cfg.Catalog.GitURL,
			Ref:        cfg.Catalog.GitRef,
			Path:       cfg.Catalog.Path,
			Token:      cfg.Catalog.GitToken,
			SSHKeyPath: cfg.Catalog.GitSSHKeyPath,
		}, v, log)
		if err != nil {
			return nil, fmt.Errorf("create git catalog source: %w", err)
		}
		src = git
	case config.CatalogS3:
		src = catalog.NewS3Source(objectstore.NewBucket(infra.S3, cfg.Catalog.S3Bucket, ""), cfg.Catalog.S3Key, v)
	default:
		return nil, fmt.Errorf("unknown catalog source %q", cfg.Catalog.Source)
	}

	c, err := src.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load pipeline catalog: %w", err)
	}
	log.Info("pipeline catalog loaded", "source", cfg.Catalog.Source, "pipelines", c.Names())
	return c, nil
}
