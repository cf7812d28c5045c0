package ingestion

import (
	"github.com/openctemio/docflow/pkg/domain/workflow"
)

type (
	scope      = workflow.Scope[Data]
	transition = workflow.Transition[Data]
)

// NewDefinition returns the ingestion transition table.
func NewDefinition() *workflow.Definition[Data] {
	d := workflow.NewDefinition[Data](workflow.KindIngestion).
		States(StateCreating, StateClassifying, StateProcessing, StateIndexing).
		Terminal(workflow.StateCompleted, workflow.StateFailed)

	d.Initially(TypeRequested, transition{Action: onRequested, Next: StateCreating})

	d.On(StateCreating, TypeDocumentCreated, transition{Action: onDocumentCreated, Next: StateClassifying})
	d.On(StateCreating, TypeDocumentRejected, failWith("document rejected"))

	d.On(StateClassifying, TypeClassified, transition{Action: onClassified, Next: StateProcessing})
	d.On(StateClassifying, TypeClassificationFailed, failWith("classification failed"))

	d.On(StateProcessing, TypeProcessed, forward(TypeIndexDocument, StateIndexing))
	d.On(StateProcessing, TypeProcessingFailed, failWith("processing failed"))
	d.On(StateProcessing, TypeUnsupportedClassification, failWith("unsupported classification"))

	d.On(StateIndexing, TypeIndexed, forward(TypeCompleted, workflow.StateCompleted))
	return d
}

func onRequested(s *scope) error {
	var req Requested
	if err := s.Decode(&req); err != nil {
		return err
	}
	*s.Data = Data{
		FileName:        NormalizeName(req.FileName),
		SourceURL:       req.SourceURL,
		UploadedBy:      req.UploadedBy,
		DocumentProcess: req.DocumentProcess,
		Plugin:          req.Plugin,
	}
	return s.Publish(TypeCreateDocument, Command{Data: *s.Data})
}

func onDocumentCreated(s *scope) error {
	var ev DocumentCreated
	if err := s.Decode(&ev); err != nil {
		return err
	}
	s.Data.FileHash = ev.FileHash
	return s.Publish(TypeClassifyDocument, Command{Data: *s.Data})
}

func onClassified(s *scope) error {
	var ev Classified
	if err := s.Decode(&ev); err != nil {
		return err
	}
	s.Data.ClassificationCode = ev.ClassificationCode
	return s.Publish(TypeProcessDocument, Command{Data: *s.Data})
}

// forward publishes typ with the accumulated context and moves to next.
func forward(typ workflow.MessageType, next workflow.State) transition {
	return transition{
		Action: func(s *scope) error {
			return s.Publish(typ, Command{Data: *s.Data})
		},
		Next: next,
	}
}

// failWith moves to failed and publishes exactly one failure notification.
// The event's reason wins over the fallback.
func failWith(fallback string) transition {
	return transition{
		Action: func(s *scope) error {
			var ev StageFailed
			if err := s.Decode(&ev); err != nil {
				return err
			}
			reason := ev.Reason
			if reason == "" {
				reason = fallback
			}
			s.Fail(reason)
			return s.Publish(TypeFailed, Failed{Stage: s.Instance.State, Reason: reason, Data: *s.Data})
		},
		Next: workflow.StateFailed,
	}
}
