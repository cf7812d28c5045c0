// Package workflow routes bus messages to workflow instances.
//
// The Router is the only writer of instances. It loads the instance for a
// message's correlation ID, applies the kind's transition table, saves with an
// expected version and publishes the produced messages only after the save.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openctemio/docflow/internal/metrics"
	"github.com/openctemio/docflow/pkg/domain/shared"
	"github.com/openctemio/docflow/pkg/domain/workflow"
	"github.com/openctemio/docflow/pkg/logger"
)

// DefaultMaxAttempts bounds version-conflict retries per message.
const DefaultMaxAttempts = 10

// Router dispatches messages to the definition that owns their type.
type Router struct {
	repo        workflow.Repository
	publisher   workflow.Publisher
	byType      map[workflow.MessageType]workflow.Machine
	byKind      map[workflow.Kind]workflow.Machine
	maxAttempts int
	logger      *logger.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithMaxAttempts overrides DefaultMaxAttempts.
func WithMaxAttempts(n int) RouterOption {
	return func(r *Router) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// NewRouter validates the machines and indexes them by message type.
// Two machines of the same kind, or claiming the same type, are an error.
func NewRouter(repo workflow.Repository, publisher workflow.Publisher, log *logger.Logger, machines []workflow.Machine, opts ...RouterOption) (*Router, error) {
	r := &Router{
		repo:        repo,
		publisher:   publisher,
		byType:      make(map[workflow.MessageType]workflow.Machine),
		byKind:      make(map[workflow.Kind]workflow.Machine),
		maxAttempts: DefaultMaxAttempts,
		logger:      log.With("component", "workflow_router"),
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, m := range machines {
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("invalid %s definition: %w", m.Kind(), err)
		}
		if _, dup := r.byKind[m.Kind()]; dup {
			return nil, fmt.Errorf("duplicate definition for kind %s", m.Kind())
		}
		r.byKind[m.Kind()] = m
		for _, typ := range m.MessageTypes() {
			if other, dup := r.byType[typ]; dup {
				return nil, fmt.Errorf("message type %s handled by both %s and %s", typ, other.Kind(), m.Kind())
			}
			r.byType[typ] = m
		}
	}
	return r, nil
}

// MessageTypes returns every inbound type the router handles.
func (r *Router) MessageTypes() []workflow.MessageType {
	out := make([]workflow.MessageType, 0, len(r.byType))
	for typ := range r.byType {
		out = append(out, typ)
	}
	return out
}

// Register subscribes Route to every handled message type.
func (r *Router) Register(sub workflow.Subscriber) {
	for typ := range r.byType {
		sub.Subscribe(typ, r.Route)
	}
}

// Machine returns the definition of a kind.
func (r *Router) Machine(kind workflow.Kind) (workflow.Machine, bool) {
	m, ok := r.byKind[kind]
	return m, ok
}

// Start publishes a creation message for a new instance.
func (r *Router) Start(ctx context.Context, typ workflow.MessageType, correlationID shared.ID, payload any) (workflow.Message, error) {
	m, ok := r.byType[typ]
	if !ok || !m.IsCreation(typ) {
		return workflow.Message{}, fmt.Errorf("%w: %s is not a creation event", shared.ErrInvalidInput, typ)
	}
	if correlationID.IsZero() {
		correlationID = shared.NewID()
	}
	msg, err := workflow.NewMessage(typ, correlationID, payload)
	if err != nil {
		return workflow.Message{}, err
	}
	if err := r.publisher.Publish(ctx, msg); err != nil {
		return workflow.Message{}, fmt.Errorf("publish %s: %w", typ, err)
	}
	return msg, nil
}

// Get returns the instance of a kind by correlation ID.
func (r *Router) Get(ctx context.Context, kind workflow.Kind, correlationID shared.ID) (*workflow.Instance, error) {
	return r.repo.Load(ctx, kind, correlationID)
}

// List returns instances matching filter.
func (r *Router) List(ctx context.Context, filter workflow.Filter) ([]*workflow.Instance, error) {
	return r.repo.List(ctx, filter)
}

// Route handles one inbound message. Orphans and unmatched messages return nil
// so the bus does not redeliver them; a returned error asks for redelivery.
func (r *Router) Route(ctx context.Context, msg workflow.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	m, ok := r.byType[msg.Type]
	if !ok {
		return fmt.Errorf("%w: %s", workflow.ErrUnknownMessageType, msg.Type)
	}

	start := time.Now()
	defer func() {
		metrics.RouteDuration.WithLabelValues(string(m.Kind())).Observe(time.Since(start).Seconds())
	}()

	log := r.logger.WithCorrelation(string(m.Kind()), msg.CorrelationID.String()).With("message_type", string(msg.Type))

	for attempt := 1; ; attempt++ {
		err := r.routeOnce(ctx, m, msg, log)
		if !workflow.IsVersionConflict(err) {
			return err
		}
		metrics.VersionConflicts.WithLabelValues(string(m.Kind())).Inc()
		if attempt >= r.maxAttempts {
			return fmt.Errorf("route %s after %d attempts: %w", msg.Type, attempt, err)
		}
		log.Debug("version conflict, retrying", "attempt", attempt)
	}
}

func (r *Router) routeOnce(ctx context.Context, m workflow.Machine, msg workflow.Message, log *logger.Logger) error {
	kind := m.Kind()

	inst, err := r.repo.Load(ctx, kind, msg.CorrelationID)
	switch {
	case shared.IsNotFound(err):
		if !m.IsCreation(msg.Type) {
			metrics.TransitionsTotal.WithLabelValues(string(kind), "orphaned").Inc()
			log.Info("no instance for message, dropping")
			return nil
		}
		inst, err = workflow.NewInstance(kind, msg.CorrelationID)
		if err != nil {
			return err
		}
	case err != nil:
		return fmt.Errorf("load %s instance: %w", kind, err)
	}

	// A previous delivery saved but crashed before clearing its outbox.
	if len(inst.Outbox) > 0 {
		log.Info("flushing pending outbox", "pending", len(inst.Outbox))
		if err := r.flush(ctx, inst); err != nil {
			return err
		}
	}

	expected := inst.Version
	outcome, err := m.Apply(inst, msg)
	if err != nil {
		return err
	}
	if !outcome.Applied {
		metrics.TransitionsTotal.WithLabelValues(string(kind), "ignored").Inc()
		log.Debug("message ignored", "state", string(outcome.From))
		return nil
	}

	if err := r.repo.Save(ctx, inst, expected); err != nil {
		return err
	}
	metrics.TransitionsTotal.WithLabelValues(string(kind), "applied").Inc()
	if m.IsTerminal(outcome.To) && !m.IsTerminal(outcome.From) {
		metrics.InstancesCompleted.WithLabelValues(string(kind), string(outcome.To)).Inc()
	}
	log.Info("workflow transition",
		"from", string(outcome.From),
		"to", string(outcome.To),
		"published", len(outcome.Messages),
	)

	if len(inst.Outbox) == 0 {
		return nil
	}
	err = r.flush(ctx, inst)
	if workflow.IsVersionConflict(err) {
		// Someone else loaded the instance and will flush the same IDs again.
		log.Debug("outbox cleared concurrently")
		return nil
	}
	return err
}

// flush publishes the outbox and clears it with a versioned save.
func (r *Router) flush(ctx context.Context, inst *workflow.Instance) error {
	if err := r.publisher.Publish(ctx, inst.Outbox...); err != nil {
		metrics.PublishFailures.WithLabelValues(string(inst.Kind)).Inc()
		return fmt.Errorf("publish outbox: %w", err)
	}
	expected := inst.Version
	pending := inst.Outbox
	inst.Outbox = nil
	if err := r.repo.Save(ctx, inst, expected); err != nil {
		inst.Outbox = pending
		if errors.Is(err, workflow.ErrVersionConflict) {
			return err
		}
		return fmt.Errorf("clear outbox: %w", err)
	}
	return nil
}
