// Package backend is the HTTP adapter for the AI validation backend.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openctemio/docflow/internal/app/validation"
	"github.com/openctemio/docflow/internal/config"
	"github.com/openctemio/docflow/pkg/logger"
)

const (
	validateNodePath = "/v1/validate-node"

	// maxResponseSize bounds a backend response body.
	maxResponseSize = 1 << 20
)

// Errors
var (
	ErrNotConfigured   = errors.New("validation backend not configured")
	ErrRateLimited     = errors.New("validation backend rate limited")
	ErrInvalidResponse = errors.New("invalid validation backend response")
)

// Client validates content nodes against the backend.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
	backoff    func(attempt int) time.Duration
	logger     *logger.Logger
}

var _ validation.NodeValidator = (*Client)(nil)

// NewClient creates a backend client.
func NewClient(cfg config.BackendConfig, log *logger.Logger) (*Client, error) {
	if !cfg.IsConfigured() {
		return nil, ErrNotConfigured
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt*attempt) * time.Second
		},
		logger: log.With("component", "validation_backend"),
	}, nil
}

type validateNodeResponse struct {
	ChangeRequired bool     `json:"change_required"`
	Findings       []string `json:"findings"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidateNode posts one node with its context and returns the verdict.
// Rate limiting and 5xx responses are retried with quadratic backoff.
func (c *Client) ValidateNode(ctx context.Context, in validation.NodeInput) (validation.NodeResult, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return validation.NodeResult{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	var (
		status  int
		payload []byte
		lastErr error
	)
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return validation.NodeResult{}, ctx.Err()
			case <-time.After(c.backoff(attempt)):
			}
			c.logger.Debug("retrying node validation", "node_id", in.Node.ID.String(), "attempt", attempt, "error", lastErr)
		}

		status, payload, lastErr = c.post(ctx, validateNodePath, body)
		if lastErr != nil {
			if ctx.Err() != nil {
				return validation.NodeResult{}, ctx.Err()
			}
			continue
		}
		if status == http.StatusTooManyRequests {
			lastErr = ErrRateLimited
			continue
		}
		if status >= 500 {
			lastErr = fmt.Errorf("server error: status %d", status)
			continue
		}
		break
	}
	if lastErr != nil {
		return validation.NodeResult{}, lastErr
	}

	if status != http.StatusOK {
		var errResp errorResponse
		if err := json.Unmarshal(payload, &errResp); err == nil && errResp.Message != "" {
			return validation.NodeResult{}, fmt.Errorf("backend error: %s - %s", errResp.Code, errResp.Message)
		}
		return validation.NodeResult{}, fmt.Errorf("backend error: status %d", status)
	}

	var resp validateNodeResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return validation.NodeResult{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return validation.NodeResult{
		NodeID:         in.Node.ID,
		ChangeRequired: resp.ChangeRequired,
		Findings:       resp.Findings,
	}, nil
}

func (c *Client) post(ctx context.Context, path string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, payload, nil
}

// Noop approves every node. Used when no backend is configured.
type Noop struct{}

// ValidateNode reports that no change is required.
func (Noop) ValidateNode(_ context.Context, in validation.NodeInput) (validation.NodeResult, error) {
	return validation.NodeResult{NodeID: in.Node.ID}, nil
}
