package content_test

import (
	"testing"

	"github.com/openctemio/docflow/pkg/domain/content"
	"github.com/openctemio/docflow/pkg/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// title
// ├── 1 Introduction
// │   ├── body a
// │   └── body b
// └── 2 Scope
//     └── body c
func sampleTree(t *testing.T) *content.Tree {
	t.Helper()
	nodes := []content.Node{
		{ID: shared.NewID(), ParentIndex: content.NoParent, Kind: content.NodeKindTitle, Text: "Report"},
		{ID: shared.NewID(), ParentIndex: 0, Kind: content.NodeKindHeading, Text: "2 Scope", Order: 2},
		{ID: shared.NewID(), ParentIndex: 0, Kind: content.NodeKindHeading, Text: "1 Introduction", Order: 1},
		{ID: shared.NewID(), ParentIndex: 2, Kind: content.NodeKindBodyText, Text: "body b", Order: 2},
		{ID: shared.NewID(), ParentIndex: 2, Kind: content.NodeKindBodyText, Text: "body a", Order: 1},
		{ID: shared.NewID(), ParentIndex: 1, Kind: content.NodeKindBodyText, Text: "body c"},
	}
	tree, err := content.NewTree(shared.NewID(), nodes)
	require.NoError(t, err)
	return tree
}

func TestTree_Navigation(t *testing.T) {
	tree := sampleTree(t)

	assert.Equal(t, []int{0}, tree.Roots())
	assert.Equal(t, []int{2, 1}, tree.Children(0))
	assert.Equal(t, []int{2, 4, 3}, tree.Subtree(2))
	assert.Equal(t, []int{0, 2, 4, 3, 1, 5}, tree.Walk())
	assert.Equal(t, []int{2, 1}, tree.OuterChapters())
	assert.Equal(t, []int{4, 3, 5}, tree.BodyText(tree.Walk()))
	assert.Nil(t, tree.Children(42))
	assert.Nil(t, tree.Subtree(-1))
}

func TestTree_Render(t *testing.T) {
	tree := sampleTree(t)
	assert.Equal(t, "1 Introduction\n\nbody a\n\nbody b", tree.Render(tree.Subtree(2)))
}

func TestTree_OuterChaptersWithoutTitle(t *testing.T) {
	nodes := []content.Node{
		{ParentIndex: content.NoParent, Kind: content.NodeKindHeading, Text: "A"},
		{ParentIndex: content.NoParent, Kind: content.NodeKindBodyText, Text: "loose", Order: 1},
		{ParentIndex: content.NoParent, Kind: content.NodeKindHeading, Text: "B", Order: 2},
	}
	tree, err := content.NewTree(shared.NewID(), nodes)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, tree.OuterChapters())
}

func TestNewTree_InvalidParent(t *testing.T) {
	tests := []struct {
		name   string
		parent int
	}{
		{"forward reference", 1},
		{"self reference", 0},
		{"negative", -2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := content.NewTree(shared.NewID(), []content.Node{
				{ParentIndex: tt.parent},
				{ParentIndex: content.NoParent},
			})
			require.Error(t, err)
			assert.ErrorIs(t, err, shared.ErrInvalidInput)
		})
	}
}
