package review

import (
	"slices"

	"github.com/openctemio/docflow/pkg/domain/workflow"
)

type (
	scope      = workflow.Scope[Data]
	transition = workflow.Transition[Data]
)

// NewDefinition returns the review transition table.
func NewDefinition() *workflow.Definition[Data] {
	d := workflow.NewDefinition[Data](workflow.KindReview).
		States(StateIngesting, StateAnswering).
		Terminal(workflow.StateCompleted)

	d.Initially(TypeRequested, transition{Action: onRequested, Next: StateIngesting})
	d.On(StateIngesting, TypeDocumentIngested,
		transition{Guard: noQuestions, Action: onIngestedEmpty, Next: workflow.StateCompleted},
		transition{Action: onIngested, Next: StateAnswering},
	)
	// Repeated answer IDs match no transition and leave the instance untouched.
	d.On(StateAnswering, TypeQuestionAnswered, transition{Guard: newAnswer, Action: onAnswered})
	d.On(StateAnswering, TypeAnswerAnalyzed,
		transition{Guard: lastAnalysis, Action: onLastAnalyzed, Next: workflow.StateCompleted},
		transition{Guard: newAnalysis, Action: onAnalyzed},
	)
	return d
}

func onRequested(s *scope) error {
	var req Requested
	if err := s.Decode(&req); err != nil {
		return err
	}
	s.Data.ReviewID = req.ReviewID
	s.Data.ExportedDocumentLinkID = req.ExportedDocumentLinkID
	return s.Publish(TypeIngestDocument, IngestDocument(req))
}

func noQuestions(s *scope) bool {
	var ev DocumentIngested
	return s.Decode(&ev) == nil && ev.TotalQuestions <= 0
}

func recordIngested(s *scope) error {
	var ev DocumentIngested
	if err := s.Decode(&ev); err != nil {
		return err
	}
	if ev.ExportedDocumentLinkID != "" {
		s.Data.ExportedDocumentLinkID = ev.ExportedDocumentLinkID
	}
	s.Data.TotalQuestions = max(ev.TotalQuestions, 0)
	return nil
}

func onIngested(s *scope) error {
	if err := recordIngested(s); err != nil {
		return err
	}
	return s.Publish(TypeDistributeQuestions, DistributeQuestions{
		ReviewID:               s.Data.ReviewID,
		ExportedDocumentLinkID: s.Data.ExportedDocumentLinkID,
		TotalQuestions:         s.Data.TotalQuestions,
	})
}

func onIngestedEmpty(s *scope) error {
	if err := recordIngested(s); err != nil {
		return err
	}
	return publishCompleted(s)
}

func newAnswer(s *scope) bool {
	var ev QuestionAnswered
	return s.Decode(&ev) != nil || isNew(s.Data.AnsweredIDs, ev.AnswerID)
}

func newAnalysis(s *scope) bool {
	var ev AnswerAnalyzed
	return s.Decode(&ev) != nil || isNew(s.Data.AnalyzedIDs, ev.AnswerID)
}

// isNew reports whether id has not been seen. Empty IDs are always new.
func isNew(ids []string, id string) bool {
	return id == "" || !slices.Contains(ids, id)
}

func onAnswered(s *scope) error {
	var ev QuestionAnswered
	if err := s.Decode(&ev); err != nil {
		return err
	}
	addID(&s.Data.AnsweredIDs, ev.AnswerID)
	s.Data.Answered++
	return s.Publish(TypeAnalyzeSentiment, AnalyzeSentiment(ev))
}

func addID(ids *[]string, id string) {
	if id != "" {
		*ids = append(*ids, id)
	}
}

func lastAnalysis(s *scope) bool {
	var ev AnswerAnalyzed
	if s.Decode(&ev) != nil {
		return false
	}
	return isNew(s.Data.AnalyzedIDs, ev.AnswerID) && s.Data.Analyzed+1 == s.Data.TotalQuestions
}

func onAnalyzed(s *scope) error {
	var ev AnswerAnalyzed
	if err := s.Decode(&ev); err != nil {
		return err
	}
	addID(&s.Data.AnalyzedIDs, ev.AnswerID)
	s.Data.Analyzed++
	return s.Publish(TypeAnswerNotification, AnswerNotification{
		AnswerID: ev.AnswerID,
		Analyzed: s.Data.Analyzed,
		Total:    s.Data.TotalQuestions,
	})
}

func onLastAnalyzed(s *scope) error {
	if err := onAnalyzed(s); err != nil {
		return err
	}
	return publishCompleted(s)
}

func publishCompleted(s *scope) error {
	return s.Publish(TypeCompleted, Completed{
		ReviewID:       s.Data.ReviewID,
		TotalQuestions: s.Data.TotalQuestions,
	})
}
