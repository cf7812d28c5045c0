package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/openctemio/docflow/internal/app/notify"
	"github.com/openctemio/docflow/pkg/logger"
)

// NotifyChannelPrefix prefixes the pub/sub channel of every group.
const NotifyChannelPrefix = "docflow:notify:"

// Notifier publishes notifications over Redis pub/sub so that every replica
// can deliver them to its local websocket clients.
type Notifier struct {
	client *Client
	logger *logger.Logger
}

// NewNotifier creates a new Notifier.
func NewNotifier(client *Client, log *logger.Logger) *Notifier {
	return &Notifier{
		client: client,
		logger: log.With("component", "redis_notifier"),
	}
}

// Notify publishes n on the channel of its group.
func (n *Notifier) Notify(ctx context.Context, note notify.Notification) error {
	data, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	channel := NotifyChannelPrefix + note.Group
	if err := n.client.rdb.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	n.logger.Debug("published notification", "channel", channel, "type", note.Type)
	return nil
}

// Listen subscribes to every group channel and hands received notifications
// to local until ctx is done.
func (n *Notifier) Listen(ctx context.Context, local notify.Sink) error {
	pubsub := n.client.rdb.PSubscribe(ctx, NotifyChannelPrefix+"*")
	defer pubsub.Close()

	// Wait for subscription confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to notifications: %w", err)
	}
	n.logger.Info("notifier listening", "pattern", NotifyChannelPrefix+"*")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			n.logger.Info("notifier stopping")
			return nil

		case msg, ok := <-ch:
			if !ok {
				n.logger.Warn("pub/sub channel closed")
				return nil
			}
			n.dispatch(ctx, local, msg)
		}
	}
}

func (n *Notifier) dispatch(ctx context.Context, local notify.Sink, msg *redis.Message) {
	var note notify.Notification
	if err := json.Unmarshal([]byte(msg.Payload), &note); err != nil {
		n.logger.Error("failed to unmarshal notification",
			"channel", msg.Channel,
			"error", err,
		)
		return
	}
	if err := local.Notify(ctx, note); err != nil {
		n.logger.Warn("local delivery failed", "group", note.Group, "error", err)
	}
}

var _ notify.Sink = (*Notifier)(nil)
