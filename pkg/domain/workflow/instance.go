package workflow

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/openctemio/docflow/pkg/domain/shared"
)

// Instance is the persisted state of one workflow run, keyed by kind and correlation ID.
type Instance struct {
	CorrelationID shared.ID
	Kind          Kind
	State         State

	// Version is 0 until the first save and grows by one with every save.
	Version int64

	// Data holds the kind-specific fields as JSON.
	Data json.RawMessage

	FailureReason string

	// Outbox holds messages produced by the last transition that have not been
	// confirmed as published yet.
	Outbox []Message

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// NewInstance creates an unsaved instance in the initial state.
func NewInstance(kind Kind, correlationID shared.ID) (*Instance, error) {
	if !kind.IsValid() {
		return nil, shared.NewValidationError(fmt.Sprintf("unknown workflow kind %q", kind))
	}
	if correlationID.IsZero() {
		return nil, shared.NewValidationError("correlation_id is required")
	}
	now := time.Now().UTC()
	return &Instance{
		CorrelationID: correlationID,
		Kind:          kind,
		State:         StateInitial,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// IsNew reports whether the instance has never been persisted.
func (i *Instance) IsNew() bool {
	return i.Version == 0
}

// DecodeData unmarshals the kind data into v. Empty data leaves v untouched.
func (i *Instance) DecodeData(v any) error {
	if len(i.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(i.Data, v); err != nil {
		return fmt.Errorf("decode %s instance data: %w", i.Kind, err)
	}
	return nil
}

// Clone returns a deep copy suitable for speculative mutation.
func (i *Instance) Clone() *Instance {
	c := *i
	if i.Data != nil {
		c.Data = append(json.RawMessage(nil), i.Data...)
	}
	if i.Outbox != nil {
		c.Outbox = append([]Message(nil), i.Outbox...)
	}
	if i.CompletedAt != nil {
		t := *i.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Snapshot is the read model returned to API callers.
type Snapshot struct {
	CorrelationID shared.ID       `json:"correlation_id"`
	Kind          Kind            `json:"kind"`
	State         State           `json:"state"`
	Version       int64           `json:"version"`
	Data          json.RawMessage `json:"data,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	PendingOutbox int             `json:"pending_outbox"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// Snapshot returns the read model of the instance.
func (i *Instance) Snapshot() Snapshot {
	return Snapshot{
		CorrelationID: i.CorrelationID,
		Kind:          i.Kind,
		State:         i.State,
		Version:       i.Version,
		Data:          i.Data,
		FailureReason: i.FailureReason,
		PendingOutbox: len(i.Outbox),
		CreatedAt:     i.CreatedAt,
		UpdatedAt:     i.UpdatedAt,
		CompletedAt:   i.CompletedAt,
	}
}
