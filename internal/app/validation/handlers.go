package validation

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/openctemio/docflow/pkg/domain/content"
	"github.com/openctemio/docflow/pkg/domain/pipeline"
	"github.com/openctemio/docflow/pkg/domain/shared"
)

// DefaultParallelism bounds concurrent node validations in the parallel handlers.
const DefaultParallelism = 4

// ErrNoContent is returned when a document has no body text to validate.
var ErrNoContent = errors.New("document has no body text")

// NodeInput is one unit of work for the validation backend.
type NodeInput struct {
	DocumentID shared.ID    `json:"document_id"`
	StepID     shared.ID    `json:"step_id"`
	Node       content.Node `json:"node"`
	// Context is the surrounding text the node is judged against: the whole
	// document or the node's outer chapter.
	Context string `json:"context"`
}

// NodeResult is the backend's verdict on one node.
type NodeResult struct {
	NodeID         shared.ID `json:"node_id"`
	ChangeRequired bool      `json:"change_required"`
	Findings       []string  `json:"findings,omitempty"`
}

// NodeValidator validates one content node. Implemented by the AI backend client.
type NodeValidator interface {
	ValidateNode(ctx context.Context, in NodeInput) (NodeResult, error)
}

// Finding is a change request raised for a node.
type Finding struct {
	NodeID  shared.ID `json:"node_id"`
	Message string    `json:"message"`
}

// StepRequest is what a handler receives.
type StepRequest struct {
	CorrelationID shared.ID
	DocumentID    shared.ID
	Step          StepDescriptor
	Index         int
}

// StepReport summarizes a successful step.
type StepReport struct {
	NodesValidated int
	Findings       []Finding
}

// StepHandler runs the logic of one execution type.
type StepHandler interface {
	Execute(ctx context.Context, req StepRequest) (StepReport, error)
}

// Handlers maps execution types to their handlers.
type Handlers map[pipeline.ExecutionType]StepHandler

// NewHandlers builds the handler of every execution type.
func NewHandlers(src content.Source, v NodeValidator, parallelism int) Handlers {
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}
	base := nodeRunner{content: src, validator: v}
	return Handlers{
		pipeline.ExecutionSequentialFullDocument: &SequentialFullDocument{base},
		pipeline.ExecutionParallelFullDocument:   &ParallelFullDocument{nodeRunner: base, Parallelism: parallelism},
		pipeline.ExecutionParallelByOuterChapter: &ParallelByOuterChapter{nodeRunner: base, Parallelism: parallelism},
	}
}

type nodeRunner struct {
	content   content.Source
	validator NodeValidator
}

func (r nodeRunner) load(ctx context.Context, documentID shared.ID) (*content.Tree, []int, error) {
	tree, err := r.content.LoadTree(ctx, documentID)
	if err != nil {
		return nil, nil, fmt.Errorf("load content of %s: %w", documentID, err)
	}
	body := tree.BodyText(tree.Walk())
	if len(body) == 0 {
		return nil, nil, fmt.Errorf("%w: %s", ErrNoContent, documentID)
	}
	return tree, body, nil
}

func (r nodeRunner) validate(ctx context.Context, req StepRequest, node content.Node, surrounding string) (NodeResult, error) {
	res, err := r.validator.ValidateNode(ctx, NodeInput{
		DocumentID: req.DocumentID,
		StepID:     req.Step.ID,
		Node:       node,
		Context:    surrounding,
	})
	if err != nil {
		return NodeResult{}, fmt.Errorf("validate node %s: %w", node.ID, err)
	}
	return res, nil
}

func report(results []NodeResult) StepReport {
	rep := StepReport{NodesValidated: len(results)}
	for _, res := range results {
		for _, f := range res.Findings {
			rep.Findings = append(rep.Findings, Finding{NodeID: res.NodeID, Message: f})
		}
	}
	return rep
}

// SequentialFullDocument validates body text nodes one after another, each
// against the full document.
type SequentialFullDocument struct {
	nodeRunner
}

// Execute implements StepHandler.
func (h *SequentialFullDocument) Execute(ctx context.Context, req StepRequest) (StepReport, error) {
	tree, body, err := h.load(ctx, req.DocumentID)
	if err != nil {
		return StepReport{}, err
	}
	full := tree.Render(tree.Walk())

	results := make([]NodeResult, 0, len(body))
	for _, i := range body {
		res, err := h.validate(ctx, req, tree.Nodes[i], full)
		if err != nil {
			return StepReport{}, err
		}
		results = append(results, res)
	}
	return report(results), nil
}

// ParallelFullDocument validates all body text nodes concurrently, each against
// the full document.
type ParallelFullDocument struct {
	nodeRunner
	Parallelism int
}

// Execute implements StepHandler.
func (h *ParallelFullDocument) Execute(ctx context.Context, req StepRequest) (StepReport, error) {
	tree, body, err := h.load(ctx, req.DocumentID)
	if err != nil {
		return StepReport{}, err
	}
	full := tree.Render(tree.Walk())

	results := make([]NodeResult, len(body))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(h.Parallelism, 1))
	for k, i := range body {
		g.Go(func() error {
			res, err := h.validate(gctx, req, tree.Nodes[i], full)
			if err != nil {
				return err
			}
			results[k] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return StepReport{}, err
	}
	return report(results), nil
}

// ParallelByOuterChapter validates outer chapters concurrently. Within a chapter
// body text nodes run in order against the chapter text. Body text outside any
// chapter is validated against the full document.
type ParallelByOuterChapter struct {
	nodeRunner
	Parallelism int
}

type chapterWork struct {
	nodes   []int
	context string
}

// Execute implements StepHandler.
func (h *ParallelByOuterChapter) Execute(ctx context.Context, req StepRequest) (StepReport, error) {
	tree, body, err := h.load(ctx, req.DocumentID)
	if err != nil {
		return StepReport{}, err
	}

	covered := make(map[int]bool, len(body))
	var work []chapterWork
	for _, ch := range tree.OuterChapters() {
		sub := tree.Subtree(ch)
		nodes := tree.BodyText(sub)
		if len(nodes) == 0 {
			continue
		}
		for _, i := range nodes {
			covered[i] = true
		}
		work = append(work, chapterWork{nodes: nodes, context: tree.Render(sub)})
	}
	var loose []int
	for _, i := range body {
		if !covered[i] {
			loose = append(loose, i)
		}
	}
	if len(loose) > 0 {
		work = append(work, chapterWork{nodes: loose, context: tree.Render(tree.Walk())})
	}

	results := make([][]NodeResult, len(work))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(h.Parallelism, 1))
	for k, w := range work {
		g.Go(func() error {
			for _, i := range w.nodes {
				res, err := h.validate(gctx, req, tree.Nodes[i], w.context)
				if err != nil {
					return err
				}
				results[k] = append(results[k], res)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return StepReport{}, err
	}

	var all []NodeResult
	for _, rs := range results {
		all = append(all, rs...)
	}
	return report(all), nil
}
