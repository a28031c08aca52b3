// Package provider issues paced read requests against an Azure Resource
// Manager style API and reports quota rejections to the throttler.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"

	"quotaguard/internal/quota"
	"quotaguard/internal/task"
)

const (
	DefaultAPIVersion = "2021-04-01"
	DefaultRetryAfter = 10 * time.Second
	maxErrorBody      = 64 << 10
)

// Pacer spaces out requests and learns the quota from responses.
// *quota.Adapter satisfies it.
type Pacer interface {
	Wait(ctx context.Context) error
	Observe(h http.Header)
}

// Listener receives quota rejection and recovery edges.
type Listener interface {
	RateLimitReached(retryAfter time.Duration)
	Recovered()
}

// CallObserver records each remote request.
type CallObserver interface {
	ObserveCall(ctx context.Context, status int, elapsed time.Duration)
}

// Config holds the connection settings.
type Config struct {
	BaseURL           string
	APIVersion        string
	Token             string
	Timeout           time.Duration
	DefaultRetryAfter time.Duration
	UserAgent         string
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func WithCallObserver(o CallObserver) Option {
	return func(c *Client) { c.observer = o }
}

// Client is a paced ARM read client.
type Client struct {
	baseURL    *url.URL
	apiVersion string
	token      string
	userAgent  string
	retryAfter time.Duration

	http     *http.Client
	pacer    Pacer
	clock    clockwork.Clock
	logger   *slog.Logger
	tracer   trace.Tracer
	observer CallObserver

	listenerMu sync.RWMutex
	listener   Listener
	rejected   atomic.Bool
}

// New creates a client. The pacer is required.
func New(cfg Config, pacer Pacer, opts ...Option) (*Client, error) {
	if pacer == nil {
		return nil, fmt.Errorf("pacer is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: scheme and host are required", cfg.BaseURL)
	}

	c := &Client{
		baseURL:    base,
		apiVersion: cfg.APIVersion,
		token:      cfg.Token,
		userAgent:  cfg.UserAgent,
		retryAfter: cfg.DefaultRetryAfter,
		pacer:      pacer,
		clock:      clockwork.NewRealClock(),
		logger:     slog.Default(),
		tracer:     otel.Tracer("quotaguard/provider"),
	}
	if c.apiVersion == "" {
		c.apiVersion = DefaultAPIVersion
	}
	if c.retryAfter <= 0 {
		c.retryAfter = DefaultRetryAfter
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c.http = &http.Client{Timeout: timeout}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SetListener installs the receiver of rejection and recovery edges.
func (c *Client) SetListener(l Listener) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	c.listener = l
}

func (c *Client) currentListener() Listener {
	c.listenerMu.RLock()
	defer c.listenerMu.RUnlock()
	return c.listener
}

// listPage is the ARM collection envelope.
type listPage struct {
	Value    []json.RawMessage `json:"value"`
	NextLink string            `json:"nextLink"`
}

// List reads every page of a collection, following nextLink.
func (c *Client) List(ctx context.Context, path string, calls task.CallRecorder) ([]json.RawMessage, error) {
	var items []json.RawMessage
	next := c.resolve(path)
	for next != "" {
		var page listPage
		if err := c.do(ctx, next, calls, &page); err != nil {
			return nil, err
		}
		items = append(items, page.Value...)
		if page.NextLink == "" {
			break
		}
		link, err := c.followable(page.NextLink)
		if err != nil {
			return nil, err
		}
		next = link
	}
	return items, nil
}

// followable resolves a nextLink against the base URL. Links to another
// origin are refused: requests carry the bearer token.
func (c *Client) followable(link string) (string, error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("invalid nextLink %q: %w", link, err)
	}
	u = c.baseURL.ResolveReference(u)
	if !strings.EqualFold(u.Scheme, c.baseURL.Scheme) || !strings.EqualFold(u.Host, c.baseURL.Host) {
		return "", fmt.Errorf("refusing nextLink to %s://%s outside %s://%s",
			u.Scheme, u.Host, c.baseURL.Scheme, c.baseURL.Host)
	}
	return u.String(), nil
}

// Get reads a single document into out.
func (c *Client) Get(ctx context.Context, path string, calls task.CallRecorder, out any) error {
	return c.do(ctx, c.resolve(path), calls, out)
}

func (c *Client) resolve(path string) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + "/" + strings.TrimLeft(path, "/")
	q := u.Query()
	q.Set("api-version", c.apiVersion)
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) do(ctx context.Context, target string, calls task.CallRecorder, out any) error {
	ctx, span := c.tracer.Start(ctx, "provider.get", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	if err := c.pacer.Wait(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	if calls != nil {
		calls.RecordCall()
	}
	started := c.clock.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.observe(ctx, 0, started)
		return fmt.Errorf("requesting %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(
		attribute.String("http.path", req.URL.Path),
		attribute.Int("http.status_code", resp.StatusCode),
	)
	c.observe(ctx, resp.StatusCode, started)
	c.pacer.Observe(resp.Header)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter, perr := quota.ParseRetryAfter(resp.Header, c.clock.Now())
		if perr != nil {
			retryAfter = c.retryAfter
		}
		c.rejected.Store(true)
		c.logger.Warn("Provider rejected request", "path", req.URL.Path, "retry_after", retryAfter)
		if l := c.currentListener(); l != nil {
			l.RateLimitReached(retryAfter)
		}
		err := &RateLimitError{Path: req.URL.Path, RetryAfter: retryAfter}
		span.SetStatus(codes.Error, err.Error())
		return err

	case resp.StatusCode < 200 || resp.StatusCode > 299:
		err := decodeStatusError(req.URL.Path, resp)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if c.rejected.CompareAndSwap(true, false) {
		c.logger.Info("Provider accepted requests again")
		if l := c.currentListener(); l != nil {
			l.Recovered()
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response from %s: %w", req.URL.Path, err)
	}
	return nil
}

func (c *Client) observe(ctx context.Context, status int, started time.Time) {
	if c.observer != nil {
		c.observer.ObserveCall(ctx, status, c.clock.Since(started))
	}
}

func decodeStatusError(path string, resp *http.Response) *StatusError {
	se := &StatusError{Path: path, StatusCode: resp.StatusCode}
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&body); err == nil {
		se.Code = body.Error.Code
		se.Message = body.Error.Message
	}
	return se
}
