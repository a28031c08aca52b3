package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePacer struct {
	mu      sync.Mutex
	waits   int
	headers []http.Header
	waitErr error
}

func (p *fakePacer) Wait(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waits++
	return p.waitErr
}

func (p *fakePacer) Observe(h http.Header) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.headers = append(p.headers, h.Clone())
}

type fakeListener struct {
	mu         sync.Mutex
	rejections []time.Duration
	recoveries int
}

func (l *fakeListener) RateLimitReached(retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rejections = append(l.rejections, retryAfter)
}

func (l *fakeListener) Recovered() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recoveries++
}

type counter struct{ n int }

func (c *counter) RecordCall() { c.n++ }

type recordingObserver struct {
	statuses []int
}

func (o *recordingObserver) ObserveCall(_ context.Context, status int, _ time.Duration) {
	o.statuses = append(o.statuses, status)
}

func newTestClient(t *testing.T, srv *httptest.Server, pacer *fakePacer, opts ...Option) *Client {
	t.Helper()
	c, err := New(Config{BaseURL: srv.URL, Token: "secret", UserAgent: "quotaguard/test"}, pacer, opts...)
	require.NoError(t, err)
	return c
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{BaseURL: "https://management.azure.com"}, nil)
	assert.Error(t, err)

	_, err = New(Config{BaseURL: "not a url"}, &fakePacer{})
	assert.Error(t, err)

	c, err := New(Config{BaseURL: "https://management.azure.com/"}, &fakePacer{})
	require.NoError(t, err)
	assert.Equal(t, DefaultAPIVersion, c.apiVersion)
	assert.Equal(t, DefaultRetryAfter, c.retryAfter)
}

func TestClient_ListFollowsNextLink(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "quotaguard/test", r.Header.Get("User-Agent"))
		assert.Equal(t, DefaultAPIVersion, r.URL.Query().Get("api-version"))

		w.Header().Set("x-ms-ratelimit-remaining-subscription-reads", "11999")
		switch r.URL.Query().Get("page") {
		case "":
			fmt.Fprintf(w, `{"value":[{"id":"a"},{"id":"b"}],"nextLink":"%s/subscriptions?api-version=%s&page=2"}`, srv.URL, DefaultAPIVersion)
		default:
			fmt.Fprint(w, `{"value":[{"id":"c"}]}`)
		}
	}))
	defer srv.Close()

	pacer := &fakePacer{}
	obs := &recordingObserver{}
	c := newTestClient(t, srv, pacer, WithCallObserver(obs))
	calls := &counter{}

	items, err := c.List(context.Background(), "/subscriptions", calls)
	require.NoError(t, err)
	require.Len(t, items, 3)

	var last struct{ ID string }
	require.NoError(t, json.Unmarshal(items[2], &last))
	assert.Equal(t, "c", last.ID)

	assert.Equal(t, 2, calls.n)
	assert.Equal(t, 2, pacer.waits)
	require.Len(t, pacer.headers, 2)
	assert.Equal(t, "11999", pacer.headers[0].Get("x-ms-ratelimit-remaining-subscription-reads"))
	assert.Equal(t, []int{200, 200}, obs.statuses)
}

func TestClient_ListRefusesForeignNextLink(t *testing.T) {
	var foreignHits int
	foreign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		foreignHits++
		fmt.Fprint(w, `{"value":[]}`)
	}))
	defer foreign.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"value":[{"id":"a"}],"nextLink":"%s/steal?page=2"}`, foreign.URL)
	}))
	defer srv.Close()

	calls := &counter{}
	_, err := newTestClient(t, srv, &fakePacer{}).List(context.Background(), "/subscriptions", calls)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "refusing nextLink")
	assert.Equal(t, 0, foreignHits)
	assert.Equal(t, 1, calls.n)
}

func TestClient_ListResolvesRelativeNextLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `{"value":[{"id":"b"}]}`)
			return
		}
		fmt.Fprint(w, `{"value":[{"id":"a"}],"nextLink":"/subscriptions?page=2"}`)
	}))
	defer srv.Close()

	items, err := newTestClient(t, srv, &fakePacer{}).List(context.Background(), "/subscriptions", &counter{})
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestClient_RateLimitAndRecovery(t *testing.T) {
	var mu sync.Mutex
	reject := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if reject {
			w.Header().Set("Retry-After", "42")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"name":"ok"}`)
	}))
	defer srv.Close()

	listener := &fakeListener{}
	c := newTestClient(t, srv, &fakePacer{})
	c.SetListener(listener)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		err := c.Get(ctx, "/locations", &counter{}, nil)
		var rl *RateLimitError
		require.ErrorAs(t, err, &rl)
		assert.Equal(t, 42*time.Second, rl.RetryAfter)
	}

	mu.Lock()
	reject = false
	mu.Unlock()

	var out struct{ Name string }
	require.NoError(t, c.Get(ctx, "/locations", &counter{}, &out))
	assert.Equal(t, "ok", out.Name)
	require.NoError(t, c.Get(ctx, "/locations", &counter{}, &out))

	listener.mu.Lock()
	defer listener.mu.Unlock()
	assert.Equal(t, []time.Duration{42 * time.Second, 42 * time.Second}, listener.rejections)
	assert.Equal(t, 1, listener.recoveries)
}

func TestClient_RateLimitWithoutHintUsesDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, DefaultRetryAfter: 7 * time.Second}, &fakePacer{})
	require.NoError(t, err)

	err = c.Get(context.Background(), "/x", nil, nil)
	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 7*time.Second, rl.RetryAfter)
}

func TestClient_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"code":"AuthorizationFailed","message":"no access"}}`)
	}))
	defer srv.Close()

	listener := &fakeListener{}
	c := newTestClient(t, srv, &fakePacer{})
	c.SetListener(listener)

	err := c.Get(context.Background(), "/resourcegroups", nil, nil)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.StatusCode)
	assert.Equal(t, "AuthorizationFailed", se.Code)
	assert.Equal(t, "no access", se.Message)
	assert.Empty(t, listener.rejections)
}

func TestClient_PacerErrorSkipsRequest(t *testing.T) {
	hit := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
	}))
	defer srv.Close()

	waitErr := errors.New("cancelled")
	calls := &counter{}
	c := newTestClient(t, srv, &fakePacer{waitErr: waitErr})

	err := c.Get(context.Background(), "/x", calls, nil)
	assert.ErrorIs(t, err, waitErr)
	assert.False(t, hit)
	assert.Equal(t, 0, calls.n)
}

func TestClient_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"value":`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, &fakePacer{})
	_, err := c.List(context.Background(), "/x", nil)
	assert.Error(t, err)
}
