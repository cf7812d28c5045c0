package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/openctemio/docflow/pkg/domain/content"
	"github.com/openctemio/docflow/pkg/domain/shared"
)

// ContentSource implements content.Source over the content_nodes table.
type ContentSource struct {
	db *DB
}

// NewContentSource creates a new ContentSource.
func NewContentSource(db *DB) *ContentSource {
	return &ContentSource{db: db}
}

// LoadTree reads every node of a document. Rows come back ordered by depth so
// a parent is always indexed before its children.
func (s *ContentSource) LoadTree(ctx context.Context, documentID shared.ID) (*content.Tree, error) {
	query := `
		SELECT id, parent_id, kind, text, node_order
		FROM content_nodes
		WHERE document_id = $1
		ORDER BY depth, node_order, id
	`
	rows, err := s.db.QueryContext(ctx, query, documentID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query content nodes: %w", err)
	}
	defer rows.Close()

	index := make(map[string]int)
	var nodes []content.Node
	for rows.Next() {
		var (
			id, kind, text string
			parent         sql.NullString
			order          int
		)
		if err := rows.Scan(&id, &parent, &kind, &text, &order); err != nil {
			return nil, fmt.Errorf("failed to scan content node: %w", err)
		}
		nodeID, err := shared.IDFromString(id)
		if err != nil {
			return nil, fmt.Errorf("invalid content node id %q: %w", id, err)
		}

		parentIndex := content.NoParent
		if p := parent.String; parent.Valid && p != "" {
			i, ok := index[p]
			if !ok {
				return nil, fmt.Errorf("%w: node %s references parent %s outside document %s",
					shared.ErrInvalidInput, id, p, documentID)
			}
			parentIndex = i
		}

		index[id] = len(nodes)
		nodes = append(nodes, content.Node{
			ID:          nodeID,
			ParentIndex: parentIndex,
			Kind:        content.NodeKind(kind),
			Text:        text,
			Order:       order,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate content nodes: %w", err)
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("document %s: %w", documentID, shared.ErrNotFound)
	}
	return content.NewTree(documentID, nodes)
}

var _ content.Source = (*ContentSource)(nil)
