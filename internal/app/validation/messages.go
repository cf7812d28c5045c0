// Package validation runs validation pipelines: an ordered list of steps that
// are executed one at a time against a generated document.
package validation

import (
	"github.com/openctemio/docflow/pkg/domain/pipeline"
	"github.com/openctemio/docflow/pkg/domain/shared"
	"github.com/openctemio/docflow/pkg/domain/workflow"
)

// StateExecuting is the only non-terminal business state.
const StateExecuting workflow.State = "executing"

// Inbound events.
const (
	TypeRequested     workflow.MessageType = "validation.requested"
	TypeStepCompleted workflow.MessageType = "validation.step_completed"
	TypeStepFailed    workflow.MessageType = "validation.step_failed"
)

// Outbound commands and notifications.
const (
	TypeExecuteStep workflow.MessageType = "validation.execute_step"
	TypeCompleted   workflow.MessageType = "validation.completed"
	TypeFailed      workflow.MessageType = "validation.failed"
)

// StepDescriptor is one step of a running pipeline.
type StepDescriptor = pipeline.Step

// Data is the validation instance state.
type Data struct {
	DocumentID       shared.ID        `json:"document_id"`
	Pipeline         string           `json:"pipeline,omitempty"`
	OrderedSteps     []StepDescriptor `json:"ordered_steps"`
	CurrentStepIndex int              `json:"current_step_index"`
	FailureDetails   *StepFailed      `json:"failure_details,omitempty"`
}

// Current returns the step being executed.
func (d *Data) Current() (StepDescriptor, bool) {
	if d.CurrentStepIndex < 0 || d.CurrentStepIndex >= len(d.OrderedSteps) {
		return StepDescriptor{}, false
	}
	return d.OrderedSteps[d.CurrentStepIndex], true
}

// Requested starts a validation. Steps, when present, take precedence over the
// named pipeline.
type Requested struct {
	DocumentID shared.ID        `json:"document_id" validate:"required"`
	Pipeline   string           `json:"pipeline,omitempty" validate:"required_without=Steps,omitempty,slug"`
	Steps      []StepDescriptor `json:"steps,omitempty" validate:"dive"`
}

// ExecuteStep asks a step handler to run one step.
type ExecuteStep struct {
	DocumentID shared.ID      `json:"document_id"`
	Pipeline   string         `json:"pipeline,omitempty"`
	Step       StepDescriptor `json:"step"`
	Index      int            `json:"index"`
	Total      int            `json:"total"`
}

// StepCompleted reports a finished step.
type StepCompleted struct {
	StepID         shared.ID `json:"step_id"`
	Index          int       `json:"index"`
	NodesValidated int       `json:"nodes_validated"`
	Findings       []Finding `json:"findings,omitempty"`
}

// StepFailed reports a failed step.
type StepFailed struct {
	StepID shared.ID `json:"step_id"`
	Index  int       `json:"index"`
	Error  string    `json:"error"`
}

// Completed is published when every step completed.
type Completed struct {
	DocumentID shared.ID `json:"document_id"`
	Pipeline   string    `json:"pipeline,omitempty"`
	Steps      int       `json:"steps"`
}

// Failed is published when a step failed or the pipeline could not start.
type Failed struct {
	DocumentID shared.ID   `json:"document_id"`
	Pipeline   string      `json:"pipeline,omitempty"`
	Reason     string      `json:"reason"`
	Step       *StepFailed `json:"step,omitempty"`
}
