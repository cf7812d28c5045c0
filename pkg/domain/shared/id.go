package shared

import (
	"database/sql/driver"
	"fmt"

	"github.com/google/uuid"
)

// ID identifies workflow instances, leases and steps.
type ID struct {
	value uuid.UUID
}

// NewID creates a new random ID.
func NewID() ID {
	return ID{value: uuid.New()}
}

// IDFromString parses a canonical UUID string.
func IDFromString(s string) (ID, error) {
	parsed, err := uuid.Parse(s)
	if err != nil {
		return ID{}, fmt.Errorf("invalid id format: %w", err)
	}
	return ID{value: parsed}, nil
}

// MustIDFromString is IDFromString for constants and tests.
func MustIDFromString(s string) ID {
	id, err := IDFromString(s)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the canonical string form.
func (id ID) String() string {
	return id.value.String()
}

// IsZero reports whether the ID is unset.
func (id ID) IsZero() bool {
	return id.value == uuid.Nil
}

// Bytes returns the 16 raw bytes of the ID.
func (id ID) Bytes() []byte {
	b := id.value
	return b[:]
}

// Value implements driver.Valuer.
func (id ID) Value() (driver.Value, error) {
	return id.value.String(), nil
}

// Scan implements sql.Scanner.
func (id *ID) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return id.UnmarshalText([]byte(v))
	case []byte:
		return id.UnmarshalText(v)
	default:
		return fmt.Errorf("cannot scan type %T into ID", src)
	}
}

// MarshalText implements encoding.TextMarshaler, which also covers JSON.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.value.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		id.value = uuid.Nil
		return nil
	}
	parsed, err := uuid.ParseBytes(data)
	if err != nil {
		return fmt.Errorf("invalid id format: %w", err)
	}
	id.value = parsed
	return nil
}
