// Package content models the hierarchical content of a generated document.
//
// Nodes live in a flat slice and refer to their parent by index, so a tree can be
// loaded from a single table scan and walked without pointer chasing.
package content

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/openctemio/docflow/pkg/domain/shared"
)

// NodeKind classifies a content node.
type NodeKind string

const (
	NodeKindTitle    NodeKind = "title"
	NodeKindHeading  NodeKind = "heading"
	NodeKindBodyText NodeKind = "body_text"
)

// NoParent marks a root node.
const NoParent = -1

// Node is one element of the tree.
type Node struct {
	ID          shared.ID `json:"id"`
	ParentIndex int       `json:"parent_index"`
	Kind        NodeKind  `json:"kind"`
	Text        string    `json:"text"`
	Order       int       `json:"order"`
}

// Tree is the content of one document.
type Tree struct {
	DocumentID shared.ID `json:"document_id"`
	Nodes      []Node    `json:"nodes"`

	children [][]int
}

// NewTree validates parent indexes and builds the child index.
// Parents must precede their children.
func NewTree(documentID shared.ID, nodes []Node) (*Tree, error) {
	t := &Tree{DocumentID: documentID, Nodes: nodes, children: make([][]int, len(nodes))}
	for i, n := range nodes {
		switch {
		case n.ParentIndex == NoParent:
		case n.ParentIndex < 0 || n.ParentIndex >= i:
			return nil, fmt.Errorf("%w: node %d has parent index %d", shared.ErrInvalidInput, i, n.ParentIndex)
		default:
			t.children[n.ParentIndex] = append(t.children[n.ParentIndex], i)
		}
	}
	for i := range t.children {
		t.sortByOrder(t.children[i])
	}
	return t, nil
}

func (t *Tree) sortByOrder(idx []int) {
	slices.SortStableFunc(idx, func(a, b int) int {
		return t.Nodes[a].Order - t.Nodes[b].Order
	})
}

// Len returns the node count.
func (t *Tree) Len() int {
	return len(t.Nodes)
}

// Roots returns the indexes of top-level nodes in document order.
func (t *Tree) Roots() []int {
	var roots []int
	for i, n := range t.Nodes {
		if n.ParentIndex == NoParent {
			roots = append(roots, i)
		}
	}
	t.sortByOrder(roots)
	return roots
}

// Children returns the direct children of node i in document order.
func (t *Tree) Children(i int) []int {
	if i < 0 || i >= len(t.children) {
		return nil
	}
	return slices.Clone(t.children[i])
}

// Subtree returns node i and all its descendants in depth-first document order.
func (t *Tree) Subtree(i int) []int {
	if i < 0 || i >= len(t.Nodes) {
		return nil
	}
	out := []int{i}
	for _, c := range t.children[i] {
		out = append(out, t.Subtree(c)...)
	}
	return out
}

// Walk returns every node in depth-first document order.
func (t *Tree) Walk() []int {
	out := make([]int, 0, len(t.Nodes))
	for _, r := range t.Roots() {
		out = append(out, t.Subtree(r)...)
	}
	return out
}

// OuterChapters returns the top-level headings. A document whose only root is a
// title has its chapters one level down.
func (t *Tree) OuterChapters() []int {
	roots := t.Roots()
	if len(roots) == 1 && t.Nodes[roots[0]].Kind == NodeKindTitle {
		roots = t.Children(roots[0])
	}
	var chapters []int
	for _, r := range roots {
		if t.Nodes[r].Kind != NodeKindBodyText {
			chapters = append(chapters, r)
		}
	}
	return chapters
}

// BodyText filters idx to body text nodes.
func (t *Tree) BodyText(idx []int) []int {
	var out []int
	for _, i := range idx {
		if t.Nodes[i].Kind == NodeKindBodyText {
			out = append(out, i)
		}
	}
	return out
}

// Render joins the text of the given nodes, one per paragraph.
func (t *Tree) Render(idx []int) string {
	var sb strings.Builder
	for _, i := range idx {
		text := strings.TrimSpace(t.Nodes[i].Text)
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(text)
	}
	return sb.String()
}

// Source loads document trees.
type Source interface {
	LoadTree(ctx context.Context, documentID shared.ID) (*Tree, error)
}
