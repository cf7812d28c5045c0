// Package catalog loads validation pipelines from a local file, a git
// repository or an S3 object. Documents are YAML or TOML, chosen by extension.
package catalog

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/openctemio/docflow/pkg/domain/pipeline"
	"github.com/openctemio/docflow/pkg/domain/shared"
	"github.com/openctemio/docflow/pkg/validator"
)

// MaxDocumentSize bounds a catalog document.
const MaxDocumentSize = 1 << 20

// Document is the on-disk catalog format.
type Document struct {
	Pipelines []pipeline.Pipeline `yaml:"pipelines" toml:"pipelines" json:"pipelines" validate:"required,dive"`
}

// Parse decodes a catalog document. name only selects the format.
func Parse(name string, data []byte, v *validator.Validator) (*pipeline.Catalog, error) {
	if len(data) > MaxDocumentSize {
		return nil, shared.NewValidationError(fmt.Sprintf("catalog %s exceeds %d bytes", name, MaxDocumentSize))
	}

	var doc Document
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %w", shared.ErrValidation, name, err)
		}
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %w", shared.ErrValidation, name, err)
		}
	default:
		return nil, shared.NewValidationError(fmt.Sprintf("catalog %s: unsupported extension %q", name, ext))
	}

	if err := v.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", shared.ErrValidation, name, err)
	}
	return pipeline.NewCatalog(doc.Pipelines)
}

// FileSource reads the catalog from the local filesystem.
type FileSource struct {
	Path      string
	Validator *validator.Validator
}

// Load implements pipeline.Source.
func (s *FileSource) Load(context.Context) (*pipeline.Catalog, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(s.Path, data, s.Validator)
}

// Empty is a source with no pipelines; validation requests must carry steps.
type Empty struct{}

// Load implements pipeline.Source.
func (Empty) Load(context.Context) (*pipeline.Catalog, error) {
	return pipeline.NewCatalog(nil)
}

var (
	_ pipeline.Source = (*FileSource)(nil)
	_ pipeline.Source = Empty{}
)
