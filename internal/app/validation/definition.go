package validation

import (
	"errors"
	"fmt"

	"github.com/openctemio/docflow/pkg/domain/pipeline"
	"github.com/openctemio/docflow/pkg/domain/shared"
	"github.com/openctemio/docflow/pkg/domain/workflow"
)

type (
	scope      = workflow.Scope[Data]
	transition = workflow.Transition[Data]
)

// PipelineLookup resolves a pipeline by name. *pipeline.Catalog implements it.
type PipelineLookup interface {
	Lookup(name string) (pipeline.Pipeline, error)
}

// executor sequences the steps of a validation pipeline. It never looks at what
// a step does; step handlers report back through step_completed and step_failed.
type executor struct {
	pipelines PipelineLookup
}

// NewDefinition returns the validation transition table. pipelines may be nil,
// in which case every request must carry its steps.
func NewDefinition(pipelines PipelineLookup) *workflow.Definition[Data] {
	e := &executor{pipelines: pipelines}

	d := workflow.NewDefinition[Data](workflow.KindValidation).
		States(StateExecuting).
		Terminal(workflow.StateCompleted, workflow.StateFailed)

	d.Initially(TypeRequested,
		transition{Guard: e.hasSteps, Action: e.start, Next: StateExecuting},
		transition{Guard: e.hasNoSteps, Action: e.finishEmpty, Next: workflow.StateCompleted},
		transition{Action: e.reject, Next: workflow.StateFailed},
	)
	d.On(StateExecuting, TypeStepCompleted,
		transition{Guard: completesLastStep, Action: finish, Next: workflow.StateCompleted},
		transition{Guard: completesCurrentStep, Action: advance},
	)
	d.On(StateExecuting, TypeStepFailed,
		transition{Guard: failsCurrentStep, Action: failStep, Next: workflow.StateFailed},
	)
	return d
}

// resolve returns the sorted steps of a request.
func (e *executor) resolve(req Requested) ([]StepDescriptor, error) {
	steps := req.Steps
	if len(steps) == 0 {
		if req.Pipeline == "" {
			return nil, errors.New("request names no pipeline and carries no steps")
		}
		if e.pipelines == nil {
			return nil, fmt.Errorf("%w: %q", pipeline.ErrPipelineNotFound, req.Pipeline)
		}
		p, err := e.pipelines.Lookup(req.Pipeline)
		if err != nil {
			return nil, err
		}
		steps = p.Steps
	}
	for _, st := range steps {
		if err := st.Validate(); err != nil {
			return nil, err
		}
	}
	return pipeline.SortSteps(steps), nil
}

func (e *executor) resolved(s *scope) ([]StepDescriptor, bool) {
	var req Requested
	if s.Decode(&req) != nil || req.DocumentID.IsZero() {
		return nil, false
	}
	steps, err := e.resolve(req)
	return steps, err == nil
}

func (e *executor) hasSteps(s *scope) bool {
	steps, ok := e.resolved(s)
	return ok && len(steps) > 0
}

func (e *executor) hasNoSteps(s *scope) bool {
	steps, ok := e.resolved(s)
	return ok && len(steps) == 0
}

func (e *executor) record(s *scope) error {
	var req Requested
	if err := s.Decode(&req); err != nil {
		return err
	}
	s.Data.DocumentID = req.DocumentID
	s.Data.Pipeline = req.Pipeline
	s.Data.CurrentStepIndex = 0
	return nil
}

func (e *executor) start(s *scope) error {
	if err := e.record(s); err != nil {
		return err
	}
	steps, _ := e.resolved(s)
	s.Data.OrderedSteps = steps
	return publishExecute(s)
}

func (e *executor) finishEmpty(s *scope) error {
	if err := e.record(s); err != nil {
		return err
	}
	return publishCompleted(s)
}

func (e *executor) reject(s *scope) error {
	if err := e.record(s); err != nil {
		return err
	}
	var req Requested
	_ = s.Decode(&req)

	reason := "document_id is required"
	if !req.DocumentID.IsZero() {
		_, err := e.resolve(req)
		reason = fmt.Sprintf("cannot start pipeline: %v", err)
	}
	s.Fail(reason)
	return s.Publish(TypeFailed, Failed{
		DocumentID: s.Data.DocumentID,
		Pipeline:   s.Data.Pipeline,
		Reason:     reason,
	})
}

func publishExecute(s *scope) error {
	step, _ := s.Data.Current()
	return s.Publish(TypeExecuteStep, ExecuteStep{
		DocumentID: s.Data.DocumentID,
		Pipeline:   s.Data.Pipeline,
		Step:       step,
		Index:      s.Data.CurrentStepIndex,
		Total:      len(s.Data.OrderedSteps),
	})
}

func publishCompleted(s *scope) error {
	return s.Publish(TypeCompleted, Completed{
		DocumentID: s.Data.DocumentID,
		Pipeline:   s.Data.Pipeline,
		Steps:      len(s.Data.OrderedSteps),
	})
}

// isCurrent reports whether a step report names the step being executed.
// Reports for earlier steps are duplicates and must not advance the sequence.
func isCurrent(d *Data, stepIndex int, stepID shared.ID) bool {
	cur, ok := d.Current()
	return ok && stepIndex == d.CurrentStepIndex && stepID == cur.ID
}

func completesCurrentStep(s *scope) bool {
	var ev StepCompleted
	return s.Decode(&ev) == nil && isCurrent(s.Data, ev.Index, ev.StepID)
}

func completesLastStep(s *scope) bool {
	return completesCurrentStep(s) && s.Data.CurrentStepIndex == len(s.Data.OrderedSteps)-1
}

func advance(s *scope) error {
	s.Data.CurrentStepIndex++
	return publishExecute(s)
}

func finish(s *scope) error {
	return publishCompleted(s)
}

func failsCurrentStep(s *scope) bool {
	var ev StepFailed
	return s.Decode(&ev) == nil && isCurrent(s.Data, ev.Index, ev.StepID)
}

func failStep(s *scope) error {
	var ev StepFailed
	if err := s.Decode(&ev); err != nil {
		return err
	}
	if ev.Error == "" {
		ev.Error = "step failed"
	}
	s.Data.FailureDetails = &ev
	reason := fmt.Sprintf("step %d (%s) failed: %s", ev.Index, ev.StepID, ev.Error)
	s.Fail(reason)
	return s.Publish(TypeFailed, Failed{
		DocumentID: s.Data.DocumentID,
		Pipeline:   s.Data.Pipeline,
		Reason:     reason,
		Step:       &ev,
	})
}
