// Package notify relays workflow outcomes and coordinator status to the groups
// that browsers and operators listen on.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openctemio/docflow/internal/app/concurrency"
	"github.com/openctemio/docflow/pkg/domain/lease"
	"github.com/openctemio/docflow/pkg/domain/shared"
	"github.com/openctemio/docflow/pkg/domain/workflow"
	"github.com/openctemio/docflow/pkg/logger"
)

// GroupWorkers receives coordinator status reports.
const GroupWorkers = "system:workers"

// TypeConcurrencyStatus is the notification type of a status report.
const TypeConcurrencyStatus = "concurrency.status"

// Notification is what a sink delivers to a group.
type Notification struct {
	ID            string          `json:"id"`
	Group         string          `json:"group"`
	Type          string          `json:"type"`
	CorrelationID shared.ID       `json:"correlation_id,omitzero"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	SentAt        time.Time       `json:"sent_at"`
}

// Sink delivers notifications.
type Sink interface {
	Notify(ctx context.Context, n Notification) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, n Notification) error

// Notify calls f.
func (f SinkFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// Nop drops every notification.
var Nop Sink = SinkFunc(func(context.Context, Notification) error { return nil })

// Fanout delivers to every sink and joins their errors.
type Fanout []Sink

// Notify implements Sink.
func (f Fanout) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, s := range f {
		if err := s.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// InstanceGroup is the group that follows one workflow instance.
func InstanceGroup(kind workflow.Kind, correlationID shared.ID) string {
	return fmt.Sprintf("%s:%s", kind, correlationID)
}

// Relay forwards selected bus messages to a sink.
type Relay struct {
	sink   Sink
	types  []workflow.MessageType
	logger *logger.Logger
}

// NewRelay creates a relay for the given message types.
func NewRelay(sink Sink, log *logger.Logger, types ...workflow.MessageType) *Relay {
	return &Relay{
		sink:   sink,
		types:  types,
		logger: log.With("component", "notify_relay"),
	}
}

// Register subscribes the relay to its message types.
func (r *Relay) Register(sub workflow.Subscriber) {
	for _, typ := range r.types {
		sub.Subscribe(typ, r.Handle)
	}
}

// Handle forwards one message. A sink failure is returned so the bus retries.
func (r *Relay) Handle(ctx context.Context, msg workflow.Message) error {
	n := Notification{
		ID:            msg.ID,
		Group:         InstanceGroup(msg.Type.Kind(), msg.CorrelationID),
		Type:          string(msg.Type),
		CorrelationID: msg.CorrelationID,
		Payload:       msg.Payload,
		SentAt:        msg.Timestamp,
	}
	if err := r.sink.Notify(ctx, n); err != nil {
		r.logger.Warn("failed to relay notification", "type", n.Type, "group", n.Group, "error", err)
		return fmt.Errorf("notify %s: %w", n.Group, err)
	}
	r.logger.Debug("notification relayed", "type", n.Type, "group", n.Group)
	return nil
}

// StatusSink publishes coordinator status reports to GroupWorkers.
func StatusSink(sink Sink) concurrency.StatusSink {
	return concurrency.StatusSinkFunc(func(ctx context.Context, report lease.StatusReport) error {
		payload, err := json.Marshal(report)
		if err != nil {
			return fmt.Errorf("marshal status report: %w", err)
		}
		return sink.Notify(ctx, Notification{
			ID:      fmt.Sprintf("%s:%d", report.Category, report.ReportedAt.UnixNano()),
			Group:   GroupWorkers,
			Type:    TypeConcurrencyStatus,
			Payload: payload,
			SentAt:  report.ReportedAt,
		})
	})
}
