// Package memory provides in-process implementations of the workflow store
// and message bus for development and tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/openctemio/docflow/pkg/domain/shared"
	"github.com/openctemio/docflow/pkg/domain/workflow"
)

type instanceKey struct {
	kind workflow.Kind
	id   shared.ID
}

// Store keeps workflow instances in a map. Callers always get clones.
type Store struct {
	mu        sync.RWMutex
	instances map[instanceKey]*workflow.Instance
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{instances: make(map[instanceKey]*workflow.Instance)}
}

// Load returns a copy of the stored instance.
func (s *Store) Load(_ context.Context, kind workflow.Kind, correlationID shared.ID) (*workflow.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instances[instanceKey{kind, correlationID}]
	if !ok {
		return nil, fmt.Errorf("%s instance %s: %w", kind, correlationID, shared.ErrNotFound)
	}
	return inst.Clone(), nil
}

// Save stores inst when the stored version equals expectedVersion.
func (s *Store) Save(_ context.Context, inst *workflow.Instance, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := instanceKey{inst.Kind, inst.CorrelationID}
	current, exists := s.instances[key]
	switch {
	case expectedVersion == 0 && exists:
		return workflow.ErrVersionConflict
	case expectedVersion > 0 && (!exists || current.Version != expectedVersion):
		return workflow.ErrVersionConflict
	}

	inst.Version = expectedVersion + 1
	s.instances[key] = inst.Clone()
	return nil
}

// List returns matching instances ordered by creation time.
func (s *Store) List(_ context.Context, filter workflow.Filter) ([]*workflow.Instance, error) {
	s.mu.RLock()
	out := make([]*workflow.Instance, 0)
	for _, inst := range s.instances {
		if filter.Matches(inst) {
			out = append(out, inst.Clone())
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b *workflow.Instance) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return a.UpdatedAt.Compare(b.UpdatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Delete removes the instance if present.
func (s *Store) Delete(_ context.Context, kind workflow.Kind, correlationID shared.ID) error {
	s.mu.Lock()
	delete(s.instances, instanceKey{kind, correlationID})
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored instances.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.instances)
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

var _ workflow.Repository = (*Store)(nil)
