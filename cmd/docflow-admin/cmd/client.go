package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openctemio/docflow/pkg/domain/lease"
	"github.com/openctemio/docflow/pkg/domain/shared"
	"github.com/openctemio/docflow/pkg/domain/workflow"
)

// correlationIDHeader makes a start request idempotent.
const correlationIDHeader = "X-Correlation-ID"

// Client is the docflow API HTTP client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	verbose    bool
}

// NewClient creates a new API client. Requests have no client-side timeout so
// lease long-polls are bounded by the server.
func NewClient(baseURL string, verbose bool) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		verbose:    verbose,
	}
}

// Do performs an HTTP request and returns the response body.
func (c *Client) Do(ctx context.Context, method, path string, body any, headers map[string]string) ([]byte, int, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	if c.verbose {
		fmt.Printf(">>> %s %s\n", method, url)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	if c.verbose {
		fmt.Printf("<<< %d %s (%s)\n", resp.StatusCode, http.StatusText(resp.StatusCode), time.Since(start).Round(time.Millisecond))
	}

	if resp.StatusCode >= 400 {
		return nil, resp.StatusCode, parseAPIError(resp.StatusCode, respBody)
	}

	return respBody, resp.StatusCode, nil
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	data, _, err := c.Do(ctx, http.MethodGet, path, nil, nil)
	return data, err
}

// Post performs a POST request.
func (c *Client) Post(ctx context.Context, path string, body any, headers map[string]string) ([]byte, error) {
	data, _, err := c.Do(ctx, http.MethodPost, path, body, headers)
	return data, err
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) error {
	_, _, err := c.Do(ctx, http.MethodDelete, path, nil, nil)
	return err
}

// APIError represents an error from the API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("API error: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

func parseAPIError(statusCode int, body []byte) error {
	apiErr := &APIError{StatusCode: statusCode, Body: body}

	var parsed struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		apiErr.Code = parsed.Code
		apiErr.Message = parsed.Message
	}

	if apiErr.Message == "" {
		switch statusCode {
		case http.StatusNotFound:
			apiErr.Message = "resource not found"
		case http.StatusConflict:
			apiErr.Message = "conflict: request can never be satisfied"
		case http.StatusRequestTimeout:
			apiErr.Message = "timed out waiting for the resource"
		case http.StatusTooManyRequests:
			apiErr.Message = "rate limited, retry later"
		default:
			apiErr.Message = fmt.Sprintf("API error: %d %s", statusCode, http.StatusText(statusCode))
		}
	}

	return apiErr
}

// Response types matching server handler structs.

type ListResponse[T any] struct {
	Data  []T `json:"data"`
	Total int `json:"total"`
}

type KindResponse struct {
	Kind          workflow.Kind        `json:"kind"`
	CreationEvent workflow.MessageType `json:"creation_event"`
}

type StartResponse struct {
	CorrelationID shared.ID            `json:"correlation_id"`
	Kind          workflow.Kind        `json:"kind"`
	MessageID     string               `json:"message_id"`
	MessageType   workflow.MessageType `json:"message_type"`
}

type AcquireRequest struct {
	RequesterID   string `json:"requester_id"`
	Weight        int    `json:"weight"`
	WaitTimeoutMS int64  `json:"wait_timeout_ms,omitempty"`
	LeaseTTLMS    int64  `json:"lease_ttl_ms,omitempty"`
}

type LeaseResponse struct {
	ID          string         `json:"id"`
	Category    lease.Category `json:"category"`
	RequesterID string         `json:"requester_id"`
	Weight      int            `json:"weight"`
	GrantedAt   time.Time      `json:"granted_at"`
	ExpiresAt   *time.Time     `json:"expires_at,omitempty"`
}

type CheckResult struct {
	Status   string `json:"status"`
	Duration string `json:"duration,omitempty"`
	Error    string `json:"error,omitempty"`
}

type ReadyResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}
