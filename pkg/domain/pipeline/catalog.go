package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/openctemio/docflow/pkg/domain/shared"
)

// ErrPipelineNotFound is returned when a catalog has no pipeline with the given name.
var ErrPipelineNotFound = fmt.Errorf("pipeline %w", shared.ErrNotFound)

// Pipeline is a named list of steps.
type Pipeline struct {
	Name  string `json:"name" yaml:"name" toml:"name" validate:"required,max=128"`
	Steps []Step `json:"steps" yaml:"steps" toml:"steps" validate:"dive"`
}

// Catalog holds every known pipeline, keyed by lower-cased name.
type Catalog struct {
	pipelines map[string]Pipeline
}

// NewCatalog validates the pipelines and indexes them by name.
func NewCatalog(pipelines []Pipeline) (*Catalog, error) {
	c := &Catalog{pipelines: make(map[string]Pipeline, len(pipelines))}
	var errs []error
	for _, p := range pipelines {
		key := strings.ToLower(strings.TrimSpace(p.Name))
		if key == "" {
			errs = append(errs, shared.NewValidationError("pipeline name is required"))
			continue
		}
		if _, dup := c.pipelines[key]; dup {
			errs = append(errs, shared.NewValidationError(fmt.Sprintf("duplicate pipeline %q", p.Name)))
			continue
		}
		seen := make(map[shared.ID]bool, len(p.Steps))
		for _, s := range p.Steps {
			if err := s.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("pipeline %q: %w", p.Name, err))
			}
			if seen[s.ID] {
				errs = append(errs, shared.NewValidationError(fmt.Sprintf("pipeline %q: duplicate step %s", p.Name, s.ID)))
			}
			seen[s.ID] = true
		}
		c.pipelines[key] = p
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return c, nil
}

// Lookup returns the named pipeline with its steps sorted by order.
func (c *Catalog) Lookup(name string) (Pipeline, error) {
	p, ok := c.pipelines[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Pipeline{}, fmt.Errorf("%w: %q", ErrPipelineNotFound, name)
	}
	p.Steps = SortSteps(p.Steps)
	return p, nil
}

// Names returns the pipeline names in alphabetical order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.pipelines))
	for _, p := range c.pipelines {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of pipelines.
func (c *Catalog) Len() int {
	return len(c.pipelines)
}

// Source loads a catalog from wherever it is kept.
type Source interface {
	Load(ctx context.Context) (*Catalog, error)
}
