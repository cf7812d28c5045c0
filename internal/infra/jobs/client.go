package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/openctemio/docflow/pkg/domain/workflow"
	"github.com/openctemio/docflow/pkg/logger"
)

// ClientConfig contains configuration for the publisher.
type ClientConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Queue             string
	MaxRetry          int
	DedupWindow       time.Duration // how long a task ID stays reserved after completion
	CompressThreshold int
}

// Publisher enqueues workflow messages as asynq tasks. The message ID is the
// task ID, so a message published twice within the dedup window is enqueued once.
type Publisher struct {
	client *asynq.Client
	cfg    ClientConfig
	logger *logger.Logger
}

// NewPublisher creates a publisher.
func NewPublisher(cfg ClientConfig, log *logger.Logger) *Publisher {
	if cfg.Queue == "" {
		cfg.Queue = DefaultQueue
	}
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return &Publisher{
		client: client,
		cfg:    cfg,
		logger: log.With("component", "bus_publisher"),
	}
}

// Close closes the client connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}

// Publish enqueues the messages in order and stops at the first failure.
func (p *Publisher) Publish(ctx context.Context, msgs ...workflow.Message) error {
	for _, msg := range msgs {
		if err := msg.Validate(); err != nil {
			return err
		}
		task, err := p.newTask(msg)
		if err != nil {
			return err
		}

		info, err := p.client.EnqueueContext(ctx, task)
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			p.logger.Debug("duplicate message dropped", "message_id", msg.ID, "type", string(msg.Type))
			continue
		}
		if err != nil {
			p.logger.Error("failed to enqueue message",
				"message_id", msg.ID,
				"type", string(msg.Type),
				"error", err,
			)
			return fmt.Errorf("enqueue %s: %w", msg.Type, err)
		}

		p.logger.Debug("message queued",
			"task_id", info.ID,
			"type", string(msg.Type),
			"correlation_id", msg.CorrelationID.String(),
			"queue", info.Queue,
		)
	}
	return nil
}

func (p *Publisher) newTask(msg workflow.Message) (*asynq.Task, error) {
	data, err := encodeMessage(msg, p.cfg.CompressThreshold)
	if err != nil {
		return nil, err
	}
	opts := []asynq.Option{
		asynq.TaskID(msg.ID),
		asynq.Queue(p.cfg.Queue),
	}
	if p.cfg.MaxRetry >= 0 {
		opts = append(opts, asynq.MaxRetry(p.cfg.MaxRetry))
	}
	if p.cfg.DedupWindow > 0 {
		opts = append(opts, asynq.Retention(p.cfg.DedupWindow))
	}
	return asynq.NewTask(string(msg.Type), data, opts...), nil
}

var _ workflow.Publisher = (*Publisher)(nil)
