package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openctemio/docflow/internal/app/concurrency"
	"github.com/openctemio/docflow/pkg/apierror"
	"github.com/openctemio/docflow/pkg/domain/lease"
	"github.com/openctemio/docflow/pkg/logger"
	"github.com/openctemio/docflow/pkg/validator"
)

// DefaultMaxLeaseWait caps how long an acquire request may block.
const DefaultMaxLeaseWait = 2 * time.Minute

// Coordinators resolves the coordinator of a category.
type Coordinators interface {
	Get(category lease.Category) (*concurrency.Coordinator, error)
	Statuses(ctx context.Context) ([]lease.Status, error)
}

// ConcurrencyHandler exposes the lease coordinators to remote workers.
type ConcurrencyHandler struct {
	coordinators Coordinators
	maxWait      time.Duration
	validator    *validator.Validator
	logger       *logger.Logger
}

// NewConcurrencyHandler creates a concurrency handler. Acquire waits are capped
// at maxWait, which must stay below the server write timeout.
func NewConcurrencyHandler(c Coordinators, maxWait time.Duration, v *validator.Validator, log *logger.Logger) *ConcurrencyHandler {
	if maxWait <= 0 {
		maxWait = DefaultMaxLeaseWait
	}
	return &ConcurrencyHandler{
		coordinators: c,
		maxWait:      maxWait,
		validator:    v,
		logger:       log.With("handler", "concurrency"),
	}
}

// AcquireRequest is the body of a lease acquisition.
type AcquireRequest struct {
	RequesterID   string `json:"requester_id" validate:"required,max=200"`
	Weight        int    `json:"weight" validate:"gte=0"`
	WaitTimeoutMS int64  `json:"wait_timeout_ms" validate:"gte=0"`
	LeaseTTLMS    int64  `json:"lease_ttl_ms" validate:"gte=0"`
}

// LeaseResponse is a granted lease.
type LeaseResponse struct {
	ID          string         `json:"id"`
	Category    lease.Category `json:"category"`
	RequesterID string         `json:"requester_id"`
	Weight      int            `json:"weight"`
	GrantedAt   time.Time      `json:"granted_at"`
	ExpiresAt   *time.Time     `json:"expires_at,omitempty"`
}

func toLeaseResponse(ls lease.Lease) LeaseResponse {
	resp := LeaseResponse{
		ID:          ls.ID.String(),
		Category:    ls.Category,
		RequesterID: ls.RequesterID,
		Weight:      ls.Weight,
		GrantedAt:   ls.GrantedAt,
	}
	if ls.TTL > 0 {
		exp := ls.GrantedAt.Add(ls.TTL)
		resp.ExpiresAt = &exp
	}
	return resp
}

// List handles GET /api/v1/concurrency.
func (h *ConcurrencyHandler) List(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.coordinators.Statuses(r.Context())
	if err != nil {
		handleServiceError(w, h.logger, "Category", err)
		return
	}
	now := time.Now().UTC()
	out := make([]lease.StatusReport, len(statuses))
	for i, s := range statuses {
		out[i] = s.Report(now)
	}
	writeJSON(w, http.StatusOK, ListResponse[lease.StatusReport]{Data: out, Total: len(out)})
}

// Get handles GET /api/v1/concurrency/{category}.
func (h *ConcurrencyHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, ok := h.coordinator(w, r)
	if !ok {
		return
	}
	s, err := c.Status(r.Context())
	if err != nil {
		handleServiceError(w, h.logger, "Category", err)
		return
	}
	writeJSON(w, http.StatusOK, s.Report(time.Now().UTC()))
}

// Acquire handles POST /api/v1/concurrency/{category}/leases.
// It blocks until the lease is granted, the wait times out (408) or the
// client goes away. Requests that can never fit are rejected with 409.
func (h *ConcurrencyHandler) Acquire(w http.ResponseWriter, r *http.Request) {
	c, ok := h.coordinator(w, r)
	if !ok {
		return
	}

	var req AcquireRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if err := h.validator.Validate(req); err != nil {
		handleValidationError(w, err)
		return
	}

	wait := time.Duration(req.WaitTimeoutMS) * time.Millisecond
	if wait <= 0 || wait > h.maxWait {
		wait = h.maxWait
	}

	ctx := r.Context()
	ls, err := c.Acquire(ctx, concurrency.AcquireRequest{
		RequesterID: req.RequesterID,
		Weight:      req.Weight,
		WaitTimeout: wait,
		LeaseTTL:    time.Duration(req.LeaseTTLMS) * time.Millisecond,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			h.logger.Debug("lease requester went away", "category", c.Category(), "requester_id", req.RequesterID)
			return
		}
		handleServiceError(w, h.logger, "Category", err)
		return
	}

	// The client may have disconnected while the grant was in flight.
	if ctx.Err() != nil {
		if _, err := c.Release(context.WithoutCancel(ctx), ls.ID); err != nil {
			h.logger.Warn("failed to release orphaned lease", "lease_id", ls.ID.String(), "error", err)
		}
		return
	}

	writeJSON(w, http.StatusCreated, toLeaseResponse(ls))
}

// Release handles DELETE /api/v1/concurrency/{category}/leases/{id}.
func (h *ConcurrencyHandler) Release(w http.ResponseWriter, r *http.Request) {
	c, ok := h.coordinator(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, chi.URLParam(r, "id"), "lease ID")
	if !ok {
		return
	}

	released, err := c.Release(r.Context(), id)
	if err != nil {
		handleServiceError(w, h.logger, "Lease", err)
		return
	}
	if !released {
		apierror.NotFound("Lease").WriteJSON(w)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ConcurrencyHandler) coordinator(w http.ResponseWriter, r *http.Request) (*concurrency.Coordinator, bool) {
	cat, err := lease.ParseCategory(chi.URLParam(r, "category"))
	if err != nil {
		apierror.NotFound("Category").WriteJSON(w)
		return nil, false
	}
	c, err := h.coordinators.Get(cat)
	if err != nil {
		handleServiceError(w, h.logger, "Category", err)
		return nil, false
	}
	return c, true
}
