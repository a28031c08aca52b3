package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"quotaguard/internal/models"
	"quotaguard/internal/version"
)

// APIError is a non-2xx answer from the quotaguard API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s (HTTP %d", e.Message, e.StatusCode)
	if e.Code != "" {
		msg += ", " + e.Code
	}
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(", retry after %s", e.RetryAfter)
	}
	return msg + ")"
}

// Client talks to a running quotaguard daemon.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server url %q: scheme and host are required", baseURL)
	}
	return &Client{baseURL: u.String(), http: &http.Client{Timeout: timeout}}, nil
}

func (c *Client) Status(ctx context.Context) (*models.ThrottlerStatusResponse, error) {
	var out models.ThrottlerStatusResponse
	return &out, c.do(ctx, http.MethodGet, "/api/v1/throttler", &out)
}

func (c *Client) Reconcile(ctx context.Context) (*models.ActionResponse, error) {
	var out models.ActionResponse
	return &out, c.do(ctx, http.MethodPost, "/api/v1/throttler/reconcile", &out)
}

func (c *Client) Tasks(ctx context.Context) (*models.ListTasksResponse, error) {
	var out models.ListTasksResponse
	return &out, c.do(ctx, http.MethodGet, "/api/v1/tasks", &out)
}

func (c *Client) Task(ctx context.Context, id string) (*models.TaskInfo, error) {
	var out models.TaskInfo
	return &out, c.do(ctx, http.MethodGet, "/api/v1/tasks/"+url.PathEscape(id), &out)
}

func (c *Client) Value(ctx context.Context, id string) (*models.TaskValueResponse, error) {
	var out models.TaskValueResponse
	return &out, c.do(ctx, http.MethodGet, "/api/v1/tasks/"+url.PathEscape(id)+"/value", &out)
}

func (c *Client) Reset(ctx context.Context, id string) (*models.ActionResponse, error) {
	var out models.ActionResponse
	return &out, c.do(ctx, http.MethodPost, "/api/v1/tasks/"+url.PathEscape(id)+"/reset", &out)
}

func (c *Client) Health(ctx context.Context) (*models.HealthCheckResponse, error) {
	var out models.HealthCheckResponse
	err := c.do(ctx, http.MethodGet, "/health", &out)
	// An unhealthy daemon still answers with a health document.
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable && out.Status != "" {
		return &out, nil
	}
	return &out, err
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "quotactl/"+version.Version)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var envelope models.ErrorResponse
		if json.Unmarshal(body, &envelope) == nil && envelope.Message != "" {
			apiErr.Message = envelope.Message
			apiErr.Code = envelope.Code
		}
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
		// Health documents are decoded even on 503.
		if out != nil {
			_ = json.Unmarshal(body, out)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
