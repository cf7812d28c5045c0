package concurrency

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/openctemio/docflow/pkg/domain/lease"
	"github.com/openctemio/docflow/pkg/domain/shared"
	"github.com/openctemio/docflow/pkg/logger"
)

// Registry holds one Coordinator per category.
type Registry struct {
	coordinators map[lease.Category]*Coordinator
}

// NewRegistry creates a coordinator for every category. budget returns the
// max concurrency of a category; the rest of base is shared.
func NewRegistry(base Options, budget func(lease.Category) int, log *logger.Logger) *Registry {
	r := &Registry{coordinators: make(map[lease.Category]*Coordinator)}
	for _, cat := range lease.AllCategories() {
		opts := base
		opts.MaxConcurrency = budget(cat)
		r.coordinators[cat] = NewCoordinator(cat, opts, log)
	}
	return r
}

// Get returns the coordinator of a category.
func (r *Registry) Get(category lease.Category) (*Coordinator, error) {
	c, ok := r.coordinators[category]
	if !ok {
		return nil, fmt.Errorf("%w: no coordinator for category %q", shared.ErrNotFound, category)
	}
	return c, nil
}

// MustGet returns the coordinator of a known category and panics otherwise.
func (r *Registry) MustGet(category lease.Category) *Coordinator {
	c, err := r.Get(category)
	if err != nil {
		panic(err)
	}
	return c
}

// Run runs every coordinator until ctx is done.
func (r *Registry) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range r.coordinators {
		g.Go(func() error {
			c.Run(gctx)
			return nil
		})
	}
	return g.Wait()
}

// Statuses returns the status of every category in category order.
func (r *Registry) Statuses(ctx context.Context) ([]lease.Status, error) {
	out := make([]lease.Status, 0, len(r.coordinators))
	for _, cat := range lease.AllCategories() {
		s, err := r.coordinators[cat].Status(ctx)
		if err != nil {
			return nil, fmt.Errorf("status of %s: %w", cat, err)
		}
		out = append(out, s)
	}
	return out, nil
}
