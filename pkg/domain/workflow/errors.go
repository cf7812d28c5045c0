package workflow

import (
	"errors"
	"fmt"

	"github.com/openctemio/docflow/pkg/domain/shared"
)

var (
	// ErrVersionConflict is returned by Repository.Save when the stored version
	// differs from the expected one.
	ErrVersionConflict = fmt.Errorf("workflow instance version conflict: %w", shared.ErrConflict)

	// ErrUnknownMessageType is returned when no definition handles a message type.
	ErrUnknownMessageType = errors.New("unknown message type")

	// ErrKindMismatch is returned when an instance is applied to another kind's definition.
	ErrKindMismatch = errors.New("workflow kind mismatch")
)

// IsVersionConflict reports whether err is a version conflict.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsPermanent reports whether redelivering a message that failed with err
// cannot succeed.
func IsPermanent(err error) bool {
	return errors.Is(err, shared.ErrValidation) || errors.Is(err, ErrUnknownMessageType)
}
