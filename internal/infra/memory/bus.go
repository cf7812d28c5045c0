package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/openctemio/docflow/pkg/domain/workflow"
	"github.com/openctemio/docflow/pkg/logger"
)

// Bus defaults.
const (
	DefaultDedupWindow = 10 * time.Minute
	DefaultMaxRetry    = 5
)

// BusOptions configures a Bus.
type BusOptions struct {
	// DedupWindow drops messages whose ID was published within the window.
	DedupWindow time.Duration
	// MaxRetry is how many times a failing delivery is retried. Zero disables retries.
	MaxRetry int
	Clock    func() time.Time
}

type delivery struct {
	msg     workflow.Message
	attempt int
}

// Bus is an in-process at-least-once bus. Messages are queued on Publish and
// delivered by Run, or synchronously by Drain.
type Bus struct {
	mu        sync.Mutex
	handlers  map[workflow.MessageType][]workflow.Handler
	seen      map[string]time.Time
	queue     []delivery
	published []workflow.Message
	wake      chan struct{}

	opts   BusOptions
	logger *logger.Logger
}

// NewBus creates a bus.
func NewBus(opts BusOptions, log *logger.Logger) *Bus {
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = DefaultDedupWindow
	}
	if opts.MaxRetry < 0 {
		opts.MaxRetry = DefaultMaxRetry
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Bus{
		handlers: make(map[workflow.MessageType][]workflow.Handler),
		seen:     make(map[string]time.Time),
		wake:     make(chan struct{}, 1),
		opts:     opts,
		logger:   log.With("component", "memory_bus"),
	}
}

// Subscribe registers h for typ.
func (b *Bus) Subscribe(typ workflow.MessageType, h workflow.Handler) {
	b.mu.Lock()
	b.handlers[typ] = append(b.handlers[typ], h)
	b.mu.Unlock()
}

// Publish queues messages. A message whose ID was already published within the
// dedup window is dropped.
func (b *Bus) Publish(_ context.Context, msgs ...workflow.Message) error {
	for _, m := range msgs {
		if err := m.Validate(); err != nil {
			return err
		}
	}

	b.mu.Lock()
	now := b.opts.Clock()
	b.expireSeen(now)
	for _, m := range msgs {
		if _, dup := b.seen[m.ID]; dup {
			b.logger.Debug("dropping duplicate message", "message_id", m.ID, "type", string(m.Type))
			continue
		}
		b.seen[m.ID] = now
		b.queue = append(b.queue, delivery{msg: m})
		b.published = append(b.published, m)
	}
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
	return nil
}

func (b *Bus) expireSeen(now time.Time) {
	for id, at := range b.seen {
		if now.Sub(at) >= b.opts.DedupWindow {
			delete(b.seen, id)
		}
	}
}

// Published returns every accepted message in publish order.
func (b *Bus) Published() []workflow.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]workflow.Message(nil), b.published...)
}

// PublishedOfType returns the accepted messages of typ.
func (b *Bus) PublishedOfType(typ workflow.MessageType) []workflow.Message {
	var out []workflow.Message
	for _, m := range b.Published() {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

// Pending returns the number of queued deliveries.
func (b *Bus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

func (b *Bus) pop() (delivery, []workflow.Handler, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return delivery{}, nil, false
	}
	d := b.queue[0]
	b.queue = b.queue[1:]
	return d, append([]workflow.Handler(nil), b.handlers[d.msg.Type]...), true
}

func (b *Bus) requeue(d delivery) {
	b.mu.Lock()
	b.queue = append(b.queue, d)
	b.mu.Unlock()
}

// deliver runs every handler of the message. A failure requeues the message
// for all handlers, matching how the asynq adapter redelivers a task.
func (b *Bus) deliver(ctx context.Context, d delivery, handlers []workflow.Handler) {
	if d.attempt >= b.opts.MaxRetry {
		ctx = workflow.WithFinalDelivery(ctx)
	}
	var errs []error
	for _, h := range handlers {
		if err := h(ctx, d.msg); err != nil {
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)
	if err == nil {
		return
	}

	log := b.logger.With("message_id", d.msg.ID, "type", string(d.msg.Type), "attempt", d.attempt+1)
	if workflow.IsPermanent(err) || d.attempt >= b.opts.MaxRetry {
		log.Error("dropping message", "error", err)
		return
	}
	log.Warn("delivery failed, retrying", "error", err)
	d.attempt++
	b.requeue(d)
}

// Drain delivers queued messages, including those published while draining,
// until the queue is empty.
func (b *Bus) Drain(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		d, handlers, ok := b.pop()
		if !ok {
			return nil
		}
		b.deliver(ctx, d, handlers)
	}
}

// Run delivers messages until ctx is done.
func (b *Bus) Run(ctx context.Context) {
	for {
		if err := b.Drain(ctx); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-b.wake:
		}
	}
}

var (
	_ workflow.Publisher  = (*Bus)(nil)
	_ workflow.Subscriber = (*Bus)(nil)
)
