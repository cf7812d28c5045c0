package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/docflow/internal/app/concurrency"
	"github.com/openctemio/docflow/internal/app/ingestion"
	infrahttp "github.com/openctemio/docflow/internal/infra/http"
	"github.com/openctemio/docflow/internal/infra/http/handler"
	"github.com/openctemio/docflow/internal/infra/http/routes"
	"github.com/openctemio/docflow/pkg/apierror"
	"github.com/openctemio/docflow/pkg/domain/lease"
	"github.com/openctemio/docflow/pkg/domain/shared"
	"github.com/openctemio/docflow/pkg/domain/workflow"
	"github.com/openctemio/docflow/pkg/logger"
	"github.com/openctemio/docflow/pkg/validator"
)

type startCall struct {
	typ           workflow.MessageType
	correlationID shared.ID
	payload       any
}

type fakeWorkflows struct {
	mu        sync.Mutex
	starts    []startCall
	instances map[shared.ID]*workflow.Instance
	startErr  error
}

func (f *fakeWorkflows) Start(_ context.Context, typ workflow.MessageType, id shared.ID, payload any) (workflow.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return workflow.Message{}, f.startErr
	}
	if id.IsZero() {
		id = shared.NewID()
	}
	f.starts = append(f.starts, startCall{typ: typ, correlationID: id, payload: payload})
	return workflow.NewMessage(typ, id, payload)
}

func (f *fakeWorkflows) Get(_ context.Context, kind workflow.Kind, id shared.ID) (*workflow.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.instances[id]
	if !ok || inst.Kind != kind {
		return nil, fmt.Errorf("%s %s: %w", kind, id, shared.ErrNotFound)
	}
	return inst, nil
}

func (f *fakeWorkflows) List(_ context.Context, filter workflow.Filter) ([]*workflow.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*workflow.Instance
	for _, inst := range f.instances {
		if filter.Matches(inst) {
			out = append(out, inst)
		}
	}
	return out, nil
}

type api struct {
	server    *httptest.Server
	workflows *fakeWorkflows
}

func newAPI(t *testing.T) *api {
	t.Helper()
	log := logger.NewNop()
	v := validator.New()

	registry := concurrency.NewRegistry(concurrency.Options{}, func(lease.Category) int { return 2 }, log)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = registry.Run(ctx)
		close(done)
	}()

	workflows := &fakeWorkflows{instances: make(map[shared.ID]*workflow.Instance)}
	router := infrahttp.NewChiRouter()
	routes.Register(router, routes.Handlers{
		Health:      handler.NewHealthHandler(handler.WithCheck("store", handler.PingFunc(func(context.Context) error { return nil }))),
		Workflow:    handler.NewWorkflowHandler(workflows, handler.DefaultStarters(), v, log),
		Concurrency: handler.NewConcurrencyHandler(registry, 200*time.Millisecond, v, log),
	})

	srv := httptest.NewServer(router.Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return &api{server: srv, workflows: workflows}
}

func (a *api) do(t *testing.T, method, path string, body any, header ...string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req, err := http.NewRequest(method, a.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := a.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestWorkflowHandler_Start(t *testing.T) {
	a := newAPI(t)

	resp := a.do(t, http.MethodPost, "/api/v1/workflows/ingestion", map[string]any{
		"file_name":        "Annual Report.pdf",
		"source_url":       "https://files.example.com/report.pdf",
		"document_process": "annual-report",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	body := decode[handler.StartResponse](t, resp)
	assert.Equal(t, workflow.KindIngestion, body.Kind)
	assert.Equal(t, ingestion.TypeRequested, body.MessageType)
	assert.False(t, body.CorrelationID.IsZero())
	assert.Equal(t, "/api/v1/workflows/ingestion/"+body.CorrelationID.String(), resp.Header.Get("Location"))

	require.Len(t, a.workflows.starts, 1)
	req, ok := a.workflows.starts[0].payload.(ingestion.Requested)
	require.True(t, ok)
	assert.Equal(t, "Annual Report.pdf", req.FileName)
}

func TestWorkflowHandler_StartUsesCorrelationHeader(t *testing.T) {
	a := newAPI(t)
	id := shared.NewID()

	resp := a.do(t, http.MethodPost, "/api/v1/workflows/review", map[string]any{
		"review_id":                 "r-1",
		"exported_document_link_id": "l-1",
	}, handler.CorrelationIDHeader, id.String())
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, id, decode[handler.StartResponse](t, resp).CorrelationID)
}

func TestWorkflowHandler_StartErrors(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   any
		header []string
		status int
	}{
		{"unknown kind", "/api/v1/workflows/teleport", map[string]any{}, nil, http.StatusNotFound},
		{"malformed json", "/api/v1/workflows/review", "{", nil, http.StatusBadRequest},
		{"unknown field", "/api/v1/workflows/review", map[string]any{"review_id": "r", "exported_document_link_id": "l", "extra": 1}, nil, http.StatusBadRequest},
		{"trailing data", "/api/v1/workflows/review", `{"review_id":"r","exported_document_link_id":"l"} {}`, nil, http.StatusBadRequest},
		{"missing fields", "/api/v1/workflows/review", map[string]any{}, nil, http.StatusUnprocessableEntity},
		{"bad correlation header", "/api/v1/workflows/review", map[string]any{"review_id": "r", "exported_document_link_id": "l"}, []string{handler.CorrelationIDHeader, "nope"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAPI(t)
			resp := a.do(t, http.MethodPost, tt.path, tt.body, tt.header...)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Empty(t, a.workflows.starts)
		})
	}
}

func TestWorkflowHandler_StartPublishFailure(t *testing.T) {
	a := newAPI(t)
	a.workflows.startErr = errors.New("redis down")

	resp := a.do(t, http.MethodPost, "/api/v1/workflows/review", map[string]any{
		"review_id":                 "r-1",
		"exported_document_link_id": "l-1",
	})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.NotContains(t, decode[apierror.Response](t, resp).Message, "redis")
}

func TestWorkflowHandler_GetAndList(t *testing.T) {
	a := newAPI(t)
	inst, err := workflow.NewInstance(workflow.KindValidation, shared.NewID())
	require.NoError(t, err)
	inst.State = "executing"
	inst.Version = 3
	a.workflows.instances[inst.CorrelationID] = inst

	resp := a.do(t, http.MethodGet, "/api/v1/workflows/validation/"+inst.CorrelationID.String(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap := decode[workflow.Snapshot](t, resp)
	assert.Equal(t, workflow.State("executing"), snap.State)
	assert.Equal(t, int64(3), snap.Version)

	resp = a.do(t, http.MethodGet, "/api/v1/workflows/review/"+inst.CorrelationID.String(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = a.do(t, http.MethodGet, "/api/v1/workflows/validation/not-an-id", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = a.do(t, http.MethodGet, "/api/v1/workflows/validation?state=executing,completed", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[handler.ListResponse[workflow.Snapshot]](t, resp)
	assert.Equal(t, 1, list.Total)

	resp = a.do(t, http.MethodGet, "/api/v1/workflows/validation?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConcurrencyHandler_Status(t *testing.T) {
	a := newAPI(t)

	resp := a.do(t, http.MethodGet, "/api/v1/concurrency", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[handler.ListResponse[lease.StatusReport]](t, resp)
	assert.Len(t, list.Data, len(lease.AllCategories()))

	resp = a.do(t, http.MethodGet, "/api/v1/concurrency/Validation", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	report := decode[lease.StatusReport](t, resp)
	assert.Equal(t, lease.CategoryValidation, report.Category)
	assert.Equal(t, 2, report.MaxConcurrency)

	resp = a.do(t, http.MethodGet, "/api/v1/concurrency/unknown", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestConcurrencyHandler_LeaseLifecycle(t *testing.T) {
	a := newAPI(t)

	resp := a.do(t, http.MethodPost, "/api/v1/concurrency/review/leases", handler.AcquireRequest{
		RequesterID: "worker-1",
		Weight:      2,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	granted := decode[handler.LeaseResponse](t, resp)
	assert.Equal(t, lease.CategoryReview, granted.Category)
	assert.Equal(t, 2, granted.Weight)

	// The budget is full, so the next request waits and times out.
	resp = a.do(t, http.MethodPost, "/api/v1/concurrency/review/leases", handler.AcquireRequest{
		RequesterID:   "worker-2",
		WaitTimeoutMS: 50,
	})
	assert.Equal(t, http.StatusRequestTimeout, resp.StatusCode)
	assert.Equal(t, apierror.CodeLeaseTimeout, decode[apierror.Response](t, resp).Code)

	resp = a.do(t, http.MethodDelete, "/api/v1/concurrency/review/leases/"+granted.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = a.do(t, http.MethodDelete, "/api/v1/concurrency/review/leases/"+granted.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestConcurrencyHandler_AcquireErrors(t *testing.T) {
	a := newAPI(t)

	resp := a.do(t, http.MethodPost, "/api/v1/concurrency/generation/leases", handler.AcquireRequest{
		RequesterID: "big",
		Weight:      3,
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, apierror.CodeLeaseRejected, decode[apierror.Response](t, resp).Code)

	resp = a.do(t, http.MethodPost, "/api/v1/concurrency/generation/leases", handler.AcquireRequest{Weight: 1})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = a.do(t, http.MethodPost, "/api/v1/concurrency/generation/leases", handler.AcquireRequest{
		RequesterID: "w",
		Weight:      -1,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestHealthHandler(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		a := newAPI(t)
		resp := a.do(t, http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		resp = a.do(t, http.MethodGet, "/ready", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		ready := decode[handler.ReadyResponse](t, resp)
		assert.Equal(t, "ok", ready.Checks["store"].Status)
	})

	t.Run("not ready", func(t *testing.T) {
		h := handler.NewHealthHandler(
			handler.WithCheck("store", handler.PingFunc(func(context.Context) error { return nil })),
			handler.WithCheck("redis", handler.PingFunc(func(context.Context) error { return errors.New("connection refused") })),
			handler.WithCheck("skipped", nil),
		)
		rec := httptest.NewRecorder()
		h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var ready handler.ReadyResponse
		require.NoError(t, json.NewDecoder(strings.NewReader(rec.Body.String())).Decode(&ready))
		assert.Equal(t, "not_ready", ready.Status)
		assert.Len(t, ready.Checks, 2)
		assert.Equal(t, "connection refused", ready.Checks["redis"].Error)
	})
}
