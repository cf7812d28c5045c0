// Package pipeline defines validation pipelines: ordered steps, each run by a
// registered execution strategy.
package pipeline

import (
	"fmt"
	"slices"
	"strings"

	"github.com/openctemio/docflow/pkg/domain/shared"
)

// ExecutionType selects the strategy that runs a step.
type ExecutionType string

const (
	ExecutionSequentialFullDocument ExecutionType = "sequential_full_document"
	ExecutionParallelFullDocument   ExecutionType = "parallel_full_document"
	ExecutionParallelByOuterChapter ExecutionType = "parallel_by_outer_chapter"
)

// AllExecutionTypes returns every execution type.
func AllExecutionTypes() []ExecutionType {
	return []ExecutionType{
		ExecutionSequentialFullDocument,
		ExecutionParallelFullDocument,
		ExecutionParallelByOuterChapter,
	}
}

// IsValid checks if the execution type is known.
func (e ExecutionType) IsValid() bool {
	return slices.Contains(AllExecutionTypes(), e)
}

// ParseExecutionType parses an execution type case-insensitively.
func ParseExecutionType(s string) (ExecutionType, error) {
	e := ExecutionType(strings.ToLower(strings.TrimSpace(s)))
	if !e.IsValid() {
		return "", fmt.Errorf("%w: unknown execution type %q", shared.ErrInvalidInput, s)
	}
	return e, nil
}

// Step is one step of a pipeline.
type Step struct {
	ID            shared.ID     `json:"id" yaml:"id" toml:"id" validate:"required"`
	Order         int           `json:"order" yaml:"order" toml:"order" validate:"min=0"`
	ExecutionType ExecutionType `json:"execution_type" yaml:"execution_type" toml:"execution_type" validate:"required,execution_type"`
}

// NewStep creates a validated step.
func NewStep(id shared.ID, order int, executionType ExecutionType) (Step, error) {
	s := Step{ID: id, Order: order, ExecutionType: executionType}
	if err := s.Validate(); err != nil {
		return Step{}, err
	}
	return s, nil
}

// Validate checks the step fields.
func (s Step) Validate() error {
	if s.ID.IsZero() {
		return shared.NewValidationError("step id is required")
	}
	if s.Order < 0 {
		return shared.NewValidationError(fmt.Sprintf("step %s: order must be non-negative", s.ID))
	}
	if !s.ExecutionType.IsValid() {
		return shared.NewValidationError(fmt.Sprintf("step %s: unknown execution type %q", s.ID, s.ExecutionType))
	}
	return nil
}

// SortSteps returns a copy of steps stably sorted by Order.
func SortSteps(steps []Step) []Step {
	out := slices.Clone(steps)
	slices.SortStableFunc(out, func(a, b Step) int {
		return a.Order - b.Order
	})
	return out
}
