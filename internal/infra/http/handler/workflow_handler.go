package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/openctemio/docflow/internal/app/generation"
	"github.com/openctemio/docflow/internal/app/ingestion"
	"github.com/openctemio/docflow/internal/app/review"
	"github.com/openctemio/docflow/internal/app/validation"
	"github.com/openctemio/docflow/pkg/apierror"
	"github.com/openctemio/docflow/pkg/domain/shared"
	"github.com/openctemio/docflow/pkg/domain/workflow"
	"github.com/openctemio/docflow/pkg/logger"
	"github.com/openctemio/docflow/pkg/validator"
)

// CorrelationIDHeader lets a client choose the correlation ID, making a retried
// start request idempotent.
const CorrelationIDHeader = "X-Correlation-ID"

// WorkflowService starts and reads workflow instances.
type WorkflowService interface {
	Start(ctx context.Context, typ workflow.MessageType, correlationID shared.ID, payload any) (workflow.Message, error)
	Get(ctx context.Context, kind workflow.Kind, correlationID shared.ID) (*workflow.Instance, error)
	List(ctx context.Context, filter workflow.Filter) ([]*workflow.Instance, error)
}

// Listing bounds.
const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Starter decodes the start request of one workflow kind.
type Starter struct {
	Type   workflow.MessageType
	decode func(w http.ResponseWriter, r *http.Request) (any, bool)
}

// StartWith builds the Starter of a kind whose creation event carries P.
func StartWith[P any](typ workflow.MessageType) Starter {
	return Starter{
		Type: typ,
		decode: func(w http.ResponseWriter, r *http.Request) (any, bool) {
			var p P
			if !decodeJSON(w, r, &p, false) {
				return nil, false
			}
			return p, true
		},
	}
}

// DefaultStarters returns the starters of every workflow kind.
func DefaultStarters() map[workflow.Kind]Starter {
	return map[workflow.Kind]Starter{
		workflow.KindGeneration: StartWith[generation.Requested](generation.TypeRequested),
		workflow.KindIngestion:  StartWith[ingestion.Requested](ingestion.TypeRequested),
		workflow.KindValidation: StartWith[validation.Requested](validation.TypeRequested),
		workflow.KindReview:     StartWith[review.Requested](review.TypeRequested),
	}
}

// WorkflowHandler handles workflow endpoints.
type WorkflowHandler struct {
	service   WorkflowService
	starters  map[workflow.Kind]Starter
	validator *validator.Validator
	logger    *logger.Logger
}

// NewWorkflowHandler creates a new workflow handler.
func NewWorkflowHandler(service WorkflowService, starters map[workflow.Kind]Starter, v *validator.Validator, log *logger.Logger) *WorkflowHandler {
	return &WorkflowHandler{
		service:   service,
		starters:  starters,
		validator: v,
		logger:    log.With("handler", "workflow"),
	}
}

// StartResponse is returned when a workflow start has been accepted.
type StartResponse struct {
	CorrelationID shared.ID            `json:"correlation_id"`
	Kind          workflow.Kind        `json:"kind"`
	MessageID     string               `json:"message_id"`
	MessageType   workflow.MessageType `json:"message_type"`
}

// Start handles POST /api/v1/workflows/{kind}.
// The creation event is published and the instance is created asynchronously,
// so the response is 202 with the correlation ID to poll.
func (h *WorkflowHandler) Start(w http.ResponseWriter, r *http.Request) {
	kind, starter, ok := h.starter(w, r)
	if !ok {
		return
	}

	var correlationID shared.ID
	if raw := r.Header.Get(CorrelationIDHeader); raw != "" {
		if correlationID, ok = parseID(w, raw, "correlation ID"); !ok {
			return
		}
	}

	payload, ok := starter.decode(w, r)
	if !ok {
		return
	}
	if err := h.validator.Validate(payload); err != nil {
		handleValidationError(w, err)
		return
	}

	msg, err := h.service.Start(r.Context(), starter.Type, correlationID, payload)
	if err != nil {
		handleServiceError(w, h.logger, "Workflow", err)
		return
	}

	h.logger.WithContext(r.Context()).Info("workflow start accepted",
		"kind", kind,
		"correlation_id", msg.CorrelationID.String(),
		"message_id", msg.ID,
	)
	w.Header().Set("Location", "/api/v1/workflows/"+string(kind)+"/"+msg.CorrelationID.String())
	writeJSON(w, http.StatusAccepted, StartResponse{
		CorrelationID: msg.CorrelationID,
		Kind:          kind,
		MessageID:     msg.ID,
		MessageType:   msg.Type,
	})
}

// Get handles GET /api/v1/workflows/{kind}/{id}.
func (h *WorkflowHandler) Get(w http.ResponseWriter, r *http.Request) {
	kind, _, ok := h.starter(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, chi.URLParam(r, "id"), "workflow ID")
	if !ok {
		return
	}

	inst, err := h.service.Get(r.Context(), kind, id)
	if err != nil {
		handleServiceError(w, h.logger, "Workflow", err)
		return
	}
	writeJSON(w, http.StatusOK, inst.Snapshot())
}

// List handles GET /api/v1/workflows/{kind}?state=a,b&limit=n.
func (h *WorkflowHandler) List(w http.ResponseWriter, r *http.Request) {
	kind, _, ok := h.starter(w, r)
	if !ok {
		return
	}

	limit := parseQueryInt(r.URL.Query().Get("limit"), defaultListLimit)
	if limit <= 0 || limit > maxListLimit {
		apierror.BadRequest(fmt.Sprintf("limit must be between 1 and %d", maxListLimit)).WriteJSON(w)
		return
	}
	filter := workflow.Filter{Kind: kind, Limit: limit}
	for _, st := range parseQueryArray(r.URL.Query().Get("state")) {
		filter.States = append(filter.States, workflow.State(strings.TrimSpace(st)))
	}

	instances, err := h.service.List(r.Context(), filter)
	if err != nil {
		handleServiceError(w, h.logger, "Workflow", err)
		return
	}
	out := make([]workflow.Snapshot, len(instances))
	for i, inst := range instances {
		out[i] = inst.Snapshot()
	}
	writeJSON(w, http.StatusOK, ListResponse[workflow.Snapshot]{Data: out, Total: len(out)})
}

// Kinds handles GET /api/v1/workflows and lists the kinds that can be started.
func (h *WorkflowHandler) Kinds(w http.ResponseWriter, _ *http.Request) {
	type kindInfo struct {
		Kind          workflow.Kind        `json:"kind"`
		CreationEvent workflow.MessageType `json:"creation_event"`
	}
	out := make([]kindInfo, 0, len(h.starters))
	for _, kind := range workflow.AllKinds() {
		if s, ok := h.starters[kind]; ok {
			out = append(out, kindInfo{Kind: kind, CreationEvent: s.Type})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

func (h *WorkflowHandler) starter(w http.ResponseWriter, r *http.Request) (workflow.Kind, Starter, bool) {
	kind, valid := workflow.ParseKind(chi.URLParam(r, "kind"))
	if !valid {
		apierror.NotFound("Workflow kind").WriteJSON(w)
		return "", Starter{}, false
	}
	s, ok := h.starters[kind]
	if !ok {
		apierror.NotFound("Workflow kind").WriteJSON(w)
		return "", Starter{}, false
	}
	return kind, s, true
}
