package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/openctemio/docflow/pkg/domain/lease"
)

// Environment constants
const (
	EnvProduction = "production"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
	StoreSQLite   = "sqlite"
)

// Bus drivers.
const (
	BusMemory = "memory"
	BusAsynq  = "asynq"
)

// Catalog sources.
const (
	CatalogNone = "none"
	CatalogFile = "file"
	CatalogGit  = "git"
	CatalogS3   = "s3"
)

// Config holds all application configuration.
type Config struct {
	App         AppConfig
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Log         LogConfig
	Store       StoreConfig
	Bus         BusConfig
	Router      RouterConfig
	Concurrency ConcurrencyConfig
	Catalog     CatalogConfig
	Retention   RetentionConfig
	AWS         AWSConfig
	Backend     BackendConfig
	Notify      NotifyConfig
	RateLimit   RateLimitConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Name  string
	Env   string
	Debug bool
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RequestTimeout  time.Duration // Per-request handler timeout, not applied to lease long-polls
	ShutdownTimeout time.Duration
	MaxBodySize     int64
	MaxConnections  int // 0 = unlimited
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host          string
	Port          int
	Password      string
	DB            int
	PoolSize      int
	MinIdleConns  int
	DialTimeout   time.Duration
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	TLSEnabled    bool
	TLSSkipVerify bool
	MaxRetries    int
	MinRetryDelay time.Duration
	MaxRetryDelay time.Duration
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string
	Format string

	SamplingEnabled   bool
	SamplingThreshold int     // First N identical logs per tick
	SamplingRate      float64 // Sample rate after threshold, 0.0-1.0
	ErrorSamplingRate float64 // Sample rate for errors, 0.0-1.0

	SkipHealthLogs     bool
	SlowRequestSeconds int
}

// StoreConfig selects the workflow instance store.
type StoreConfig struct {
	Driver     string // memory, postgres, redis, sqlite
	SQLitePath string
	KeyPrefix  string // redis only
}

// BusConfig selects the message bus.
type BusConfig struct {
	Driver            string // memory, asynq
	Queue             string
	Concurrency       int
	MaxRetry          int
	DedupWindow       time.Duration // asynq task ID retention
	CompressThreshold int           // payloads larger than this many bytes are zstd compressed, 0 disables
}

// RouterConfig holds event router settings.
type RouterConfig struct {
	MaxAttempts int // optimistic concurrency retries per message

	RecoverySchedule   string        // cron spec of the outbox recovery job
	RecoveryStaleAfter time.Duration // pending outboxes older than this are republished
	RecoveryBatchSize  int
}

// ConcurrencyConfig holds per-category lease budgets.
type ConcurrencyConfig struct {
	Validation int
	Generation int
	Ingestion  int
	Review     int
	FlowChat   int

	SweepInterval      time.Duration
	DefaultLeaseTTL    time.Duration
	DefaultWaitTimeout time.Duration
	StatusInterval     time.Duration
	MaxRemoteWait      time.Duration // cap on HTTP lease long-polls
}

// Max returns the budget of a category.
func (c *ConcurrencyConfig) Max(category lease.Category) int {
	switch category {
	case lease.CategoryValidation:
		return c.Validation
	case lease.CategoryGeneration:
		return c.Generation
	case lease.CategoryIngestion:
		return c.Ingestion
	case lease.CategoryReview:
		return c.Review
	case lease.CategoryFlowChat:
		return c.FlowChat
	}
	return 0
}

// CatalogConfig describes where validation pipelines are loaded from.
type CatalogConfig struct {
	Source string // none, file, git, s3

	Path string // file path, or path inside the git repository

	GitURL        string
	GitRef        string
	GitToken      string
	GitSSHKeyPath string

	S3Bucket string
	S3Key    string
}

// RetentionConfig controls archival of terminal workflow instances.
type RetentionConfig struct {
	Enabled       bool
	Schedule      string // cron spec
	MaxAge        time.Duration
	BatchSize     int
	ArchiveBucket string // empty = delete without archiving
	ArchivePrefix string
}

// AWSConfig holds credentials shared by the S3 catalog source and archive.
type AWSConfig struct {
	Region          string
	Endpoint        string // S3-compatible endpoint, enables path-style addressing
	AccessKeyID     string
	SecretAccessKey string
	RoleARN         string
	ExternalID      string
}

// BackendConfig holds the validation backend client settings.
type BackendConfig struct {
	URL         string
	APIKey      string
	Timeout     time.Duration
	MaxRetries  int
	Parallelism int // node validations in flight per step
}

// IsConfigured returns true if a backend URL is set.
func (c *BackendConfig) IsConfigured() bool {
	return c.URL != ""
}

// NotifyConfig selects notification sinks.
type NotifyConfig struct {
	RedisEnabled     bool
	WebSocketEnabled bool
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled         bool
	RequestsPerSec  float64
	Burst           int
	CleanupInterval time.Duration
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name:  getEnv("APP_NAME", "docflow"),
			Env:   getEnv("APP_ENV", "development"),
			Debug: getEnvBool("APP_DEBUG", false),
		},
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 5*time.Minute), // lease long-polls
			RequestTimeout:  getEnvDuration("SERVER_REQUEST_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			MaxBodySize:     getEnvInt64("SERVER_MAX_BODY_SIZE", 1<<20),
			MaxConnections:  getEnvInt("SERVER_MAX_CONNECTIONS", 0),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "docflow"),
			Password:        getEnv("DB_PASSWORD", "secret"),
			Name:            getEnv("DB_NAME", "docflow"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:          getEnv("REDIS_HOST", "localhost"),
			Port:          getEnvInt("REDIS_PORT", 6379),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getEnvInt("REDIS_DB", 0),
			PoolSize:      getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns:  getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:   getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:   getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout:  getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			TLSEnabled:    getEnvBool("REDIS_TLS_ENABLED", false),
			TLSSkipVerify: getEnvBool("REDIS_TLS_SKIP_VERIFY", false),
			MaxRetries:    getEnvInt("REDIS_MAX_RETRIES", 3),
			MinRetryDelay: getEnvDuration("REDIS_MIN_RETRY_DELAY", 100*time.Millisecond),
			MaxRetryDelay: getEnvDuration("REDIS_MAX_RETRY_DELAY", 3*time.Second),
		},
		Log: LogConfig{
			Level:              getEnv("LOG_LEVEL", "info"),
			Format:             getEnv("LOG_FORMAT", "json"),
			SamplingEnabled:    getEnvBool("LOG_SAMPLING_ENABLED", false),
			SamplingThreshold:  getEnvInt("LOG_SAMPLING_THRESHOLD", 100),
			SamplingRate:       getEnvFloat("LOG_SAMPLING_RATE", 0.1),
			ErrorSamplingRate:  getEnvFloat("LOG_ERROR_SAMPLING_RATE", 1.0),
			SkipHealthLogs:     getEnvBool("LOG_SKIP_HEALTH", true),
			SlowRequestSeconds: getEnvInt("LOG_SLOW_REQUEST_SECONDS", 5),
		},
		Store: StoreConfig{
			Driver:     strings.ToLower(getEnv("STORE_DRIVER", StorePostgres)),
			SQLitePath: getEnv("STORE_SQLITE_PATH", "docflow.db"),
			KeyPrefix:  getEnv("STORE_REDIS_PREFIX", "docflow:instance:"),
		},
		Bus: BusConfig{
			Driver:            strings.ToLower(getEnv("BUS_DRIVER", BusAsynq)),
			Queue:             getEnv("BUS_QUEUE", "docflow"),
			Concurrency:       getEnvInt("BUS_CONCURRENCY", 20),
			MaxRetry:          getEnvInt("BUS_MAX_RETRY", 25),
			DedupWindow:       getEnvDuration("BUS_DEDUP_WINDOW", 24*time.Hour),
			CompressThreshold: getEnvInt("BUS_COMPRESS_THRESHOLD", 64<<10),
		},
		Router: RouterConfig{
			MaxAttempts:        getEnvInt("ROUTER_MAX_ATTEMPTS", 10),
			RecoverySchedule:   getEnv("ROUTER_RECOVERY_SCHEDULE", "@every 30s"),
			RecoveryStaleAfter: getEnvDuration("ROUTER_RECOVERY_STALE_AFTER", time.Minute),
			RecoveryBatchSize:  getEnvInt("ROUTER_RECOVERY_BATCH_SIZE", 100),
		},
		Concurrency: ConcurrencyConfig{
			Validation:         getEnvInt("CONCURRENCY_VALIDATION_MAX", 8),
			Generation:         getEnvInt("CONCURRENCY_GENERATION_MAX", 8),
			Ingestion:          getEnvInt("CONCURRENCY_INGESTION_MAX", 4),
			Review:             getEnvInt("CONCURRENCY_REVIEW_MAX", 4),
			FlowChat:           getEnvInt("CONCURRENCY_FLOWCHAT_MAX", 16),
			SweepInterval:      getEnvDuration("CONCURRENCY_SWEEP_INTERVAL", 10*time.Second),
			DefaultLeaseTTL:    getEnvDuration("CONCURRENCY_DEFAULT_LEASE_TTL", 15*time.Minute),
			DefaultWaitTimeout: getEnvDuration("CONCURRENCY_DEFAULT_WAIT_TIMEOUT", 2*time.Minute),
			StatusInterval:     getEnvDuration("CONCURRENCY_STATUS_INTERVAL", 10*time.Second),
			MaxRemoteWait:      getEnvDuration("CONCURRENCY_MAX_REMOTE_WAIT", 2*time.Minute),
		},
		Catalog: CatalogConfig{
			Source:        strings.ToLower(getEnv("CATALOG_SOURCE", CatalogNone)),
			Path:          getEnv("CATALOG_PATH", "pipelines.yaml"),
			GitURL:        getEnv("CATALOG_GIT_URL", ""),
			GitRef:        getEnv("CATALOG_GIT_REF", ""),
			GitToken:      getEnv("CATALOG_GIT_TOKEN", ""),
			GitSSHKeyPath: getEnv("CATALOG_GIT_SSH_KEY_PATH", ""),
			S3Bucket:      getEnv("CATALOG_S3_BUCKET", ""),
			S3Key:         getEnv("CATALOG_S3_KEY", ""),
		},
		Retention: RetentionConfig{
			Enabled:       getEnvBool("RETENTION_ENABLED", false),
			Schedule:      getEnv("RETENTION_SCHEDULE", "0 3 * * *"),
			MaxAge:        getEnvDuration("RETENTION_MAX_AGE", 30*24*time.Hour),
			BatchSize:     getEnvInt("RETENTION_BATCH_SIZE", 500),
			ArchiveBucket: getEnv("RETENTION_ARCHIVE_BUCKET", ""),
			ArchivePrefix: getEnv("RETENTION_ARCHIVE_PREFIX", "workflows/"),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			Endpoint:        getEnv("AWS_S3_ENDPOINT", ""),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			RoleARN:         getEnv("AWS_ROLE_ARN", ""),
			ExternalID:      getEnv("AWS_EXTERNAL_ID", ""),
		},
		Backend: BackendConfig{
			URL:         getEnv("BACKEND_URL", ""),
			APIKey:      getEnv("BACKEND_API_KEY", ""),
			Timeout:     getEnvDuration("BACKEND_TIMEOUT", 2*time.Minute),
			MaxRetries:  getEnvInt("BACKEND_MAX_RETRIES", 3),
			Parallelism: getEnvInt("BACKEND_PARALLELISM", 4),
		},
		Notify: NotifyConfig{
			RedisEnabled:     getEnvBool("NOTIFY_REDIS_ENABLED", true),
			WebSocketEnabled: getEnvBool("NOTIFY_WEBSOCKET_ENABLED", true),
		},
		RateLimit: RateLimitConfig{
			Enabled:         getEnvBool("RATE_LIMIT_ENABLED", true),
			RequestsPerSec:  getEnvFloat("RATE_LIMIT_RPS", 100),
			Burst:           getEnvInt("RATE_LIMIT_BURST", 200),
			CleanupInterval: getEnvDuration("RATE_LIMIT_CLEANUP", time.Minute),
		},
	}

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.validateBasic(); err != nil {
		return err
	}
	if c.App.Env == EnvProduction {
		return c.validateProduction()
	}
	return nil
}

// validateBasic validates basic configuration regardless of environment.
func (c *Config) validateBasic() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateBus(); err != nil {
		return err
	}
	if c.Router.MaxAttempts < 1 {
		return fmt.Errorf("ROUTER_MAX_ATTEMPTS must be at least 1, got %d", c.Router.MaxAttempts)
	}
	if strings.TrimSpace(c.Router.RecoverySchedule) == "" {
		return fmt.Errorf("ROUTER_RECOVERY_SCHEDULE is required")
	}
	if c.Router.RecoveryStaleAfter <= 0 || c.Router.RecoveryBatchSize < 1 {
		return fmt.Errorf("ROUTER_RECOVERY_STALE_AFTER and ROUTER_RECOVERY_BATCH_SIZE must be positive")
	}
	if err := c.validateConcurrency(); err != nil {
		return err
	}
	if err := c.validateCatalog(); err != nil {
		return err
	}
	if err := c.validateRetention(); err != nil {
		return err
	}
	if err := c.validateLog(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Driver {
	case StoreMemory, StoreRedis:
	case StorePostgres:
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("STORE_SQLITE_PATH is required for the sqlite store")
		}
	default:
		return fmt.Errorf("invalid STORE_DRIVER: %s (must be memory, postgres, redis or sqlite)", c.Store.Driver)
	}
	return nil
}

func (c *Config) validateBus() error {
	switch c.Bus.Driver {
	case BusMemory, BusAsynq:
	default:
		return fmt.Errorf("invalid BUS_DRIVER: %s (must be memory or asynq)", c.Bus.Driver)
	}
	if c.Bus.Concurrency < 1 {
		return fmt.Errorf("BUS_CONCURRENCY must be at least 1, got %d", c.Bus.Concurrency)
	}
	if c.Bus.CompressThreshold < 0 {
		return fmt.Errorf("BUS_COMPRESS_THRESHOLD must be non-negative, got %d", c.Bus.CompressThreshold)
	}
	return nil
}

// validateConcurrency checks intervals. Category budgets <= 0 are tolerated here
// and coerced to 1 by the coordinator.
func (c *Config) validateConcurrency() error {
	if c.Concurrency.SweepInterval <= 0 {
		return fmt.Errorf("CONCURRENCY_SWEEP_INTERVAL must be positive")
	}
	if c.Concurrency.StatusInterval <= 0 {
		return fmt.Errorf("CONCURRENCY_STATUS_INTERVAL must be positive")
	}
	if c.Concurrency.DefaultLeaseTTL < 0 || c.Concurrency.DefaultWaitTimeout < 0 {
		return fmt.Errorf("concurrency default TTL and wait timeout must be non-negative")
	}
	if c.Concurrency.MaxRemoteWait <= 0 {
		return fmt.Errorf("CONCURRENCY_MAX_REMOTE_WAIT must be positive")
	}
	if c.Server.WriteTimeout > 0 && c.Concurrency.MaxRemoteWait >= c.Server.WriteTimeout {
		return fmt.Errorf("CONCURRENCY_MAX_REMOTE_WAIT (%s) must be below SERVER_WRITE_TIMEOUT (%s)",
			c.Concurrency.MaxRemoteWait, c.Server.WriteTimeout)
	}
	return nil
}

func (c *Config) validateCatalog() error {
	switch c.Catalog.Source {
	case CatalogNone:
	case CatalogFile:
		if c.Catalog.Path == "" {
			return fmt.Errorf("CATALOG_PATH is required for the file catalog")
		}
	case CatalogGit:
		if c.Catalog.GitURL == "" {
			return fmt.Errorf("CATALOG_GIT_URL is required for the git catalog")
		}
	case CatalogS3:
		if c.Catalog.S3Bucket == "" || c.Catalog.S3Key == "" {
			return fmt.Errorf("CATALOG_S3_BUCKET and CATALOG_S3_KEY are required for the s3 catalog")
		}
	default:
		return fmt.Errorf("invalid CATALOG_SOURCE: %s (must be none, file, git or s3)", c.Catalog.Source)
	}
	return nil
}

func (c *Config) validateRetention() error {
	if !c.Retention.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Retention.Schedule) == "" {
		return fmt.Errorf("RETENTION_SCHEDULE is required when retention is enabled")
	}
	if c.Retention.MaxAge <= 0 {
		return fmt.Errorf("RETENTION_MAX_AGE must be positive")
	}
	if c.Retention.BatchSize < 1 {
		return fmt.Errorf("RETENTION_BATCH_SIZE must be at least 1, got %d", c.Retention.BatchSize)
	}
	return nil
}

// validateLog validates logging configuration.
func (c *Config) validateLog() error {
	validLevels := map[string]bool{
		"debug": true, "DEBUG": true,
		"info": true, "INFO": true,
		"warn": true, "WARN": true,
		"error": true, "ERROR": true,
	}
	if c.Log.Level != "" && !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid LOG_LEVEL: %s (must be debug, info, warn, or error)", c.Log.Level)
	}

	validFormats := map[string]bool{
		"json": true, "JSON": true,
		"text": true, "TEXT": true,
		"": true,
	}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid LOG_FORMAT: %s (must be json or text)", c.Log.Format)
	}

	if c.Log.SamplingRate < 0.0 || c.Log.SamplingRate > 1.0 {
		return fmt.Errorf("LOG_SAMPLING_RATE must be between 0.0 and 1.0, got %f", c.Log.SamplingRate)
	}
	if c.Log.ErrorSamplingRate < 0.0 || c.Log.ErrorSamplingRate > 1.0 {
		return fmt.Errorf("LOG_ERROR_SAMPLING_RATE must be between 0.0 and 1.0, got %f", c.Log.ErrorSamplingRate)
	}
	if c.Log.SamplingThreshold < 0 {
		return fmt.Errorf("LOG_SAMPLING_THRESHOLD must be non-negative, got %d", c.Log.SamplingThreshold)
	}
	if c.Log.SlowRequestSeconds < 0 {
		return fmt.Errorf("LOG_SLOW_REQUEST_SECONDS must be non-negative, got %d", c.Log.SlowRequestSeconds)
	}
	return nil
}

// validateProduction validates production-specific configuration.
func (c *Config) validateProduction() error {
	if c.Store.Driver == StoreMemory || c.Bus.Driver == BusMemory {
		return fmt.Errorf("memory store and bus are not allowed in production")
	}
	if c.Store.Driver == StorePostgres && c.Database.SSLMode == "disable" {
		return fmt.Errorf("database SSL must be enabled in production (use 'require' or 'verify-full')")
	}
	if !c.RateLimit.Enabled {
		return fmt.Errorf("rate limiting must be enabled in production")
	}
	if c.App.Debug {
		return fmt.Errorf("debug mode must be disabled in production")
	}
	if c.Log.Level == "debug" {
		return fmt.Errorf("log level should not be 'debug' in production")
	}
	return c.validateProductionRedis()
}

// validateProductionRedis validates Redis configuration for production.
func (c *Config) validateProductionRedis() error {
	if c.Redis.Password == "" {
		return fmt.Errorf("redis password must be set in production")
	}
	if len(c.Redis.Password) < 32 {
		return fmt.Errorf("redis password must be at least 32 characters in production")
	}
	if !c.Redis.TLSEnabled {
		return fmt.Errorf("redis TLS must be enabled in production")
	}
	if c.Redis.TLSSkipVerify {
		return fmt.Errorf("redis TLS skip verify must be false in production")
	}
	if c.Redis.PoolSize < 10 || c.Redis.PoolSize > 500 {
		return fmt.Errorf("redis pool size must be between 10 and 500 in production, got %d", c.Redis.PoolSize)
	}
	if c.Redis.DialTimeout < time.Second {
		return fmt.Errorf("redis dial timeout too short: %v (min 1s)", c.Redis.DialTimeout)
	}
	if c.Redis.MaxRetries < 1 || c.Redis.MaxRetries > 10 {
		return fmt.Errorf("redis max retries must be between 1 and 10, got %d", c.Redis.MaxRetries)
	}
	return nil
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Addr returns the Redis address.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Addr returns the HTTP server address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NeedsRedis reports whether any configured component talks to Redis.
func (c *Config) NeedsRedis() bool {
	return c.Store.Driver == StoreRedis || c.Bus.Driver == BusAsynq || c.Notify.RedisEnabled
}

// IsDevelopment returns true if the application is in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// IsProduction returns true if the application is in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Env == EnvProduction
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
