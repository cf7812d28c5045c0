package workflow

import (
	"context"
	"slices"
	"time"

	"github.com/openctemio/docflow/pkg/domain/shared"
)

// Filter narrows Repository.List.
type Filter struct {
	Kind            Kind
	States          []State
	CompletedBefore *time.Time
	// UpdatedBefore and PendingOutbox find instances whose outbox was never flushed.
	UpdatedBefore   *time.Time
	PendingOutbox   bool
	Limit           int
}

// Matches reports whether inst satisfies every set field except Limit.
func (f Filter) Matches(inst *Instance) bool {
	if f.Kind != "" && inst.Kind != f.Kind {
		return false
	}
	if len(f.States) > 0 && !slices.Contains(f.States, inst.State) {
		return false
	}
	if f.CompletedBefore != nil {
		if inst.CompletedAt == nil || !inst.CompletedAt.Before(*f.CompletedBefore) {
			return false
		}
	}
	if f.UpdatedBefore != nil && !inst.UpdatedAt.Before(*f.UpdatedBefore) {
		return false
	}
	if f.PendingOutbox && len(inst.Outbox) == 0 {
		return false
	}
	return true
}

// Repository persists workflow instances with optimistic concurrency.
type Repository interface {
	// Load returns the instance or an error wrapping shared.ErrNotFound.
	Load(ctx context.Context, kind Kind, correlationID shared.ID) (*Instance, error)

	// Save inserts (expectedVersion == 0) or updates the instance when the stored
	// version equals expectedVersion. On success inst.Version is expectedVersion+1.
	// A mismatch returns ErrVersionConflict.
	Save(ctx context.Context, inst *Instance, expectedVersion int64) error

	// List returns instances matching the filter, oldest first.
	List(ctx context.Context, filter Filter) ([]*Instance, error)

	// Delete removes an instance. Missing instances are not an error.
	Delete(ctx context.Context, kind Kind, correlationID shared.ID) error
}

// Publisher sends messages to the bus. Delivery is at-least-once.
type Publisher interface {
	Publish(ctx context.Context, msgs ...Message) error
}

// Handler consumes one message. A returned error asks the bus to redeliver.
type Handler func(ctx context.Context, msg Message) error

// Subscriber registers handlers per message type.
type Subscriber interface {
	Subscribe(typ MessageType, h Handler)
}
