package generation

import (
	"fmt"
	"slices"

	"github.com/openctemio/docflow/pkg/domain/shared"
	"github.com/openctemio/docflow/pkg/domain/workflow"
)

type (
	scope      = workflow.Scope[Data]
	transition = workflow.Transition[Data]
)

// NewDefinition returns the generation transition table.
func NewDefinition() *workflow.Definition[Data] {
	d := workflow.NewDefinition[Data](workflow.KindGeneration).
		States(StateCreating, StateProcessing, StateContentGeneration).
		Terminal(StateContentFinalized, workflow.StateFailed)

	d.Initially(TypeRequested, transition{Action: onRequested, Next: StateCreating})
	d.On(StateCreating, TypeDocumentCreated, transition{Action: onDocumentCreated, Next: StateProcessing})
	d.On(StateProcessing, TypeOutlineGenerated, transition{Action: onOutlineGenerated, Next: StateContentGeneration})
	d.On(StateProcessing, TypeOutlineFailed, transition{Action: onOutlineFailed, Next: workflow.StateFailed})

	// A submission that finds every node already done finalizes right away.
	d.On(StateContentGeneration, TypeContentSubmitted,
		transition{Guard: submissionCompletes, Action: onSubmittedComplete, Next: StateContentFinalized},
		transition{Action: onSubmitted},
	)
	d.On(StateContentGeneration, TypeContentNodeGenerated,
		transition{Guard: nodeCompletes, Action: onLastNode, Next: StateContentFinalized},
		transition{Guard: nodeCounts, Action: onNode},
	)
	return d
}

func onRequested(s *scope) error {
	var req Requested
	if err := s.Decode(&req); err != nil {
		return err
	}
	s.Data.DocumentTitle = req.DocumentTitle
	s.Data.AuthorID = req.AuthorID
	s.Data.DocumentProcess = req.DocumentProcess
	s.Data.RequestJSON = req.Request
	return s.Publish(TypeCreateDocument, CreateDocument{
		DocumentTitle:   req.DocumentTitle,
		AuthorID:        req.AuthorID,
		DocumentProcess: req.DocumentProcess,
		Request:         req.Request,
	})
}

func onDocumentCreated(s *scope) error {
	var ev DocumentCreated
	if err := s.Decode(&ev); err != nil {
		return err
	}
	s.Data.MetadataID = ev.MetadataID
	return s.Publish(TypeGenerateOutline, GenerateOutline{
		DocumentTitle:   s.Data.DocumentTitle,
		AuthorID:        s.Data.AuthorID,
		DocumentProcess: s.Data.DocumentProcess,
	})
}

func onOutlineGenerated(s *scope) error {
	var ev OutlineGenerated
	if err := s.Decode(&ev); err != nil {
		return err
	}
	return s.Publish(TypeGenerateContent, GenerateContent{
		AuthorID:          s.Data.AuthorID,
		DocumentProcess:   s.Data.DocumentProcess,
		MetadataID:        s.Data.MetadataID,
		GeneratedDocument: ev.GeneratedDocument,
	})
}

func onOutlineFailed(s *scope) error {
	var ev OutlineFailed
	if err := s.Decode(&ev); err != nil {
		return err
	}
	reason := ev.Reason
	if reason == "" {
		reason = "outline generation failed"
	}
	s.Fail(reason)
	return s.Publish(TypeFailed, Failed{Reason: reason})
}

func decodeSubmission(s *scope) (ContentSubmitted, error) {
	var ev ContentSubmitted
	if err := s.Decode(&ev); err != nil {
		return ev, err
	}
	if ev.NodeCount < 0 {
		return ev, fmt.Errorf("%w: negative node_count %d", shared.ErrValidation, ev.NodeCount)
	}
	return ev, nil
}

// submit applies a ContentSubmitted event to the data. Nodes reported before the
// first submission keep counting. A redelivered submission changes nothing; a
// new one restarts the count.
func submit(d *Data, msgID string, ev ContentSubmitted) {
	if d.Submitted {
		if d.SubmissionID == msgID {
			return
		}
		d.ContentNodesCompleted = 0
		d.CompletedNodeIDs = nil
	}
	d.ContentNodesExpected = ev.NodeCount
	d.SubmissionID = msgID
	d.Submitted = true
}

func submissionCompletes(s *scope) bool {
	ev, err := decodeSubmission(s)
	if err != nil {
		return false
	}
	d := *s.Data
	submit(&d, s.Message.ID, ev)
	return d.ContentNodesCompleted == d.ContentNodesExpected
}

func onSubmitted(s *scope) error {
	ev, err := decodeSubmission(s)
	if err != nil {
		return err
	}
	submit(s.Data, s.Message.ID, ev)
	return nil
}

func onSubmittedComplete(s *scope) error {
	if err := onSubmitted(s); err != nil {
		return err
	}
	return publishCompleted(s)
}

// counts reports whether the node event adds to the completed count.
func counts(d *Data, ev ContentNodeGenerated) bool {
	if !ev.Successful {
		return false
	}
	return ev.NodeID == "" || !slices.Contains(d.CompletedNodeIDs, ev.NodeID)
}

func record(d *Data, ev ContentNodeGenerated) {
	if !counts(d, ev) {
		return
	}
	d.ContentNodesCompleted++
	if ev.NodeID != "" {
		d.CompletedNodeIDs = append(d.CompletedNodeIDs, ev.NodeID)
	}
}

func nodeCompletes(s *scope) bool {
	var ev ContentNodeGenerated
	if s.Decode(&ev) != nil || !s.Data.Submitted || !counts(s.Data, ev) {
		return false
	}
	return s.Data.ContentNodesCompleted+1 == s.Data.ContentNodesExpected
}

// nodeCounts lets malformed payloads through so the action reports them.
func nodeCounts(s *scope) bool {
	var ev ContentNodeGenerated
	return s.Decode(&ev) != nil || counts(s.Data, ev)
}

func onNode(s *scope) error {
	var ev ContentNodeGenerated
	if err := s.Decode(&ev); err != nil {
		return err
	}
	record(s.Data, ev)
	return nil
}

func onLastNode(s *scope) error {
	if err := onNode(s); err != nil {
		return err
	}
	return publishCompleted(s)
}

func publishCompleted(s *scope) error {
	return s.Publish(TypeCompleted, Completed{
		MetadataID:    s.Data.MetadataID,
		DocumentTitle: s.Data.DocumentTitle,
		NodeCount:     s.Data.ContentNodesCompleted,
	})
}
