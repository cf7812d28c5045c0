package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/openctemio/docflow/internal/config"
	"github.com/openctemio/docflow/internal/infra/http/handler"
	"github.com/openctemio/docflow/internal/infra/memory"
	"github.com/openctemio/docflow/internal/infra/objectstore"
	"github.com/openctemio/docflow/internal/infra/postgres"
	"github.com/openctemio/docflow/internal/infra/redis"
	"github.com/openctemio/docflow/internal/infra/sqlite"
	"github.com/openctemio/docflow/pkg/domain/content"
	"github.com/openctemio/docflow/pkg/domain/shared"
	"github.com/openctemio/docflow/pkg/domain/workflow"
	"github.com/openctemio/docflow/pkg/logger"
)

// Infra holds the connections opened for the configured drivers. Fields are
// nil when no component needs them.
type Infra struct {
	DB     *postgres.DB
	Redis  *redis.Client
	SQLite *sqlite.Store
	S3     *s3.Client

	closers []namedCloser
}

type namedCloser struct {
	name string
	c    closer
}

// NewInfra opens the connections required by cfg.
func NewInfra(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Infra, error) {
	infra := &Infra{}

	switch cfg.Store.Driver {
	case config.StorePostgres:
		db, err := postgres.New(ctx, &cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		infra.add("database", db)
		infra.DB = db
		if err := db.Migrate(ctx); err != nil {
			infra.Close(log)
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		log.Info("database connected", "host", cfg.Database.Host, "name", cfg.Database.Name)

	case config.StoreSQLite:
		store, err := sqlite.Open(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		infra.add("sqlite", store)
		infra.SQLite = store
		log.Info("sqlite store opened", "path", store.Path())
	}

	if cfg.NeedsRedis() {
		client, err := redis.New(ctx, &cfg.Redis, log)
		if err != nil {
			infra.Close(log)
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		if err := client.RegisterPoolMetrics(prometheus.DefaultRegisterer); err != nil {
			log.Warn("redis pool metrics not registered", "error", err)
		}
		infra.add("redis", client)
		infra.Redis = client
		log.Info("redis connected", "addr", cfg.Redis.Addr())
	}

	if cfg.Catalog.Source == config.CatalogS3 || cfg.Retention.ArchiveBucket != "" {
		client, err := objectstore.NewClient(ctx, objectstore.Config{
			Region:     cfg.AWS.Region,
			Endpoint:   cfg.AWS.Endpoint,
			AccessKey:  cfg.AWS.AccessKeyID,
			SecretKey:  cfg.AWS.SecretAccessKey,
			RoleARN:    cfg.AWS.RoleARN,
			ExternalID: cfg.AWS.ExternalID,
		})
		if err != nil {
			infra.Close(log)
			return nil, fmt.Errorf("create s3 client: %w", err)
		}
		infra.S3 = client
		log.Info("object store client initialized", "region", cfg.AWS.Region)
	}

	return infra, nil
}

func (i *Infra) add(name string, c closer) {
	i.closers = append(i.closers, namedCloser{name: name, c: c})
}

// Close closes every connection in reverse order of opening.
func (i *Infra) Close(log *logger.Logger) {
	for j := len(i.closers) - 1; j >= 0; j-- {
		closeWithLog(i.closers[j].c, i.closers[j].name, log)
	}
	i.closers = nil
}

// Repositories holds the storage ports used by the services.
type Repositories struct {
	Instances workflow.Repository
	Content   content.Source

	// Store backs the readiness probe of the instance store.
	Store handler.Pinger
}

type pingableRepository interface {
	workflow.Repository
	handler.Pinger
}

// NewRepositories selects the instance store for cfg.Store.Driver.
func NewRepositories(cfg *config.Config, infra *Infra, log *logger.Logger) (*Repositories, error) {
	var store pingableRepository
	switch cfg.Store.Driver {
	case config.StoreMemory:
		store = memory.NewStore()
		log.Warn("using the in-memory instance store, workflow state is lost on restart")
	case config.StorePostgres:
		store = &postgresRepository{
			InstanceRepository: postgres.NewInstanceRepository(infra.DB),
			db:                 infra.DB,
		}
	case config.StoreRedis:
		store = redis.NewStore(infra.Redis, cfg.Store.KeyPrefix)
	case config.StoreSQLite:
		store = infra.SQLite
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	repos := &Repositories{
		Instances: store,
		Store:     store,
		Content:   unavailableContent{},
	}
	if infra.DB != nil {
		repos.Content = postgres.NewContentSource(infra.DB)
	} else {
		log.Warn("content source unavailable without postgres, validation steps will fail")
	}

	log.Info("instance store initialized", "driver", cfg.Store.Driver)
	return repos, nil
}

type postgresRepository struct {
	*postgres.InstanceRepository
	db *postgres.DB
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

type unavailableContent struct{}

func (unavailableContent) LoadTree(context.Context, shared.ID) (*content.Tree, error) {
	return nil, fmt.Errorf("%w: content store requires the postgres store driver", shared.ErrUnavailable)
}
