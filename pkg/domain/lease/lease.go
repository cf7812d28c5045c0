// Package lease defines concurrency leases and the status reported by the coordinators
// that grant them.
package lease

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openctemio/docflow/pkg/domain/shared"
)

// Category names an independent concurrency budget.
type Category string

const (
	CategoryValidation Category = "validation"
	CategoryGeneration Category = "generation"
	CategoryIngestion  Category = "ingestion"
	CategoryReview     Category = "review"
	CategoryFlowChat   Category = "flowchat"
)

// AllCategories returns every category.
func AllCategories() []Category {
	return []Category{CategoryValidation, CategoryGeneration, CategoryIngestion, CategoryReview, CategoryFlowChat}
}

// IsValid checks if the category is known.
func (c Category) IsValid() bool {
	switch c {
	case CategoryValidation, CategoryGeneration, CategoryIngestion, CategoryReview, CategoryFlowChat:
		return true
	}
	return false
}

// ParseCategory parses a category case-insensitively.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", fmt.Errorf("%w: unknown category %q", shared.ErrInvalidInput, s)
	}
	return c, nil
}

var (
	// ErrRejected is returned when a request can never fit the category budget.
	ErrRejected = errors.New("lease rejected: weight exceeds max concurrency")

	// ErrTimeout is returned when a queued request was not granted in time.
	ErrTimeout = errors.New("lease wait timed out")

	// ErrClosed is returned once the coordinator has stopped.
	ErrClosed = errors.New("coordinator closed")
)

// Lease is a granted slice of a category budget.
type Lease struct {
	ID          shared.ID     `json:"id"`
	Category    Category      `json:"category"`
	RequesterID string        `json:"requester_id"`
	Weight      int           `json:"weight"`
	GrantedAt   time.Time     `json:"granted_at"`
	TTL         time.Duration `json:"ttl"`
}

// Expired reports whether the lease TTL has elapsed at now. Leases without TTL never expire.
func (l Lease) Expired(now time.Time) bool {
	if l.TTL <= 0 {
		return false
	}
	return !l.GrantedAt.Add(l.TTL).After(now)
}

// Status is a snapshot of one category.
type Status struct {
	Category       Category `json:"category"`
	MaxConcurrency int      `json:"max_concurrency"`
	ActiveWeight   int      `json:"active_weight"`
	QueueLength    int      `json:"queue_length"`
}

// Utilization returns the active share of capacity in percent.
func (s Status) Utilization() float64 {
	if s.MaxConcurrency <= 0 {
		return 0
	}
	return float64(s.ActiveWeight) / float64(s.MaxConcurrency) * 100
}
