package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/docflow/pkg/domain/pipeline"
	"github.com/openctemio/docflow/pkg/domain/shared"
	"github.com/openctemio/docflow/pkg/validator"
)

const yamlCatalog = `
pipelines:
  - name: full-review
    steps:
      - id: 7f1c2b9e-0d7a-4f52-9a7e-3d2a6b1c0e01
        order: 2
        execution_type: parallel_by_outer_chapter
      - id: 7f1c2b9e-0d7a-4f52-9a7e-3d2a6b1c0e02
        order: 1
        execution_type: sequential_full_document
  - name: quick
    steps:
      - id: 7f1c2b9e-0d7a-4f52-9a7e-3d2a6b1c0e03
        order: 0
        execution_type: parallel_full_document
`

const tomlCatalog = `
[[pipelines]]
name = "full-review"

[[pipelines.steps]]
id = "7f1c2b9e-0d7a-4f52-9a7e-3d2a6b1c0e01"
order = 2
execution_type = "parallel_by_outer_chapter"

[[pipelines.steps]]
id = "7f1c2b9e-0d7a-4f52-9a7e-3d2a6b1c0e02"
order = 1
execution_type = "sequential_full_document"
`

func TestParse(t *testing.T) {
	v := validator.New()

	t.Run("yaml", func(t *testing.T) {
		c, err := Parse("pipelines.yaml", []byte(yamlCatalog), v)
		require.NoError(t, err)
		assert.Equal(t, []string{"full-review", "quick"}, c.Names())

		p, err := c.Lookup("Full-Review")
		require.NoError(t, err)
		require.Len(t, p.Steps, 2)
		assert.Equal(t, pipeline.ExecutionSequentialFullDocument, p.Steps[0].ExecutionType)
		assert.Equal(t, shared.MustIDFromString("7f1c2b9e-0d7a-4f52-9a7e-3d2a6b1c0e01"), p.Steps[1].ID)
	})

	t.Run("toml", func(t *testing.T) {
		c, err := Parse("pipelines.toml", []byte(tomlCatalog), v)
		require.NoError(t, err)
		p, err := c.Lookup("full-review")
		require.NoError(t, err)
		assert.Len(t, p.Steps, 2)
	})

	errorCases := []struct {
		name string
		file string
		body string
	}{
		{"unsupported extension", "pipelines.json", `{"pipelines": []}`},
		{"unknown field", "p.yml", "pipelines:\n  - name: a\n    stepz: []\n"},
		{"malformed yaml", "p.yaml", "pipelines: [\n"},
		{"malformed toml", "p.toml", "[[pipelines]\n"},
		{"missing pipelines", "p.yaml", "pipelines:\n"},
		{"unknown execution type", "p.yaml", `
pipelines:
  - name: a
    steps:
      - id: 7f1c2b9e-0d7a-4f52-9a7e-3d2a6b1c0e01
        order: 1
        execution_type: teleport
`},
		{"negative order", "p.yaml", `
pipelines:
  - name: a
    steps:
      - id: 7f1c2b9e-0d7a-4f52-9a7e-3d2a6b1c0e01
        order: -1
        execution_type: parallel_full_document
`},
		{"duplicate names", "p.yaml", `
pipelines:
  - name: a
    steps: []
  - name: A
    steps: []
`},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.file, []byte(tc.body), v)
			require.Error(t, err)
			assert.True(t, shared.IsValidation(err), "got %v", err)
		})
	}
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipelines.yml")
	require.NoError(t, os.WriteFile(path, []byte(yamlCatalog), 0o600))

	c, err := (&FileSource{Path: path, Validator: validator.New()}).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())

	_, err = (&FileSource{Path: path + ".missing", Validator: validator.New()}).Load(context.Background())
	assert.Error(t, err)
}

func TestEmpty(t *testing.T) {
	c, err := Empty{}.Load(context.Background())
	require.NoError(t, err)
	assert.Zero(t, c.Len())
}

func TestGitHelpers(t *testing.T) {
	assert.Equal(t, plumbing.NewBranchReferenceName("main"), refName("main"))
	assert.Equal(t, plumbing.ReferenceName("refs/tags/v1"), refName("refs/tags/v1"))

	dir := t.TempDir()
	p, err := insideRepo(dir, "catalog/pipelines.yaml")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "catalog", "pipelines.yaml"), p)

	_, err = insideRepo(dir, "../../etc/passwd")
	assert.Error(t, err)
}
