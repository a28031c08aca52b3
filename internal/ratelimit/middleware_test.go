package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quotaguard/internal/logger"
	"quotaguard/internal/models"
)

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func serve(h http.Handler, remoteAddr string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/throttler", nil)
	req.RemoteAddr = remoteAddr
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_AllowedRequest(t *testing.T) {
	l, _ := newTestLimiter(t, 60, 5)
	h := Middleware(l, logger.Discard())(http.HandlerFunc(okHandler))

	rec := serve(h, "192.0.2.10:51234", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "4", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
	assert.Empty(t, rec.Header().Get("Retry-After"))
}

func TestMiddleware_DeniedRequest(t *testing.T) {
	l, _ := newTestLimiter(t, 60, 1)
	h := Middleware(l, logger.Discard())(http.HandlerFunc(okHandler))

	require.Equal(t, http.StatusOK, serve(h, "192.0.2.10:1000", nil).Code)
	// Same client on a different source port shares the bucket.
	rec := serve(h, "192.0.2.10:2000", nil)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, models.ErrorCodeRateLimited, body.Code)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		expected   string
	}{
		{name: "remote addr", remoteAddr: "198.51.100.7:443", expected: "198.51.100.7"},
		{name: "ipv6", remoteAddr: "[2001:db8::1]:8080", expected: "2001:db8::1"},
		{name: "no port", remoteAddr: "198.51.100.7", expected: "198.51.100.7"},
		{
			name:       "forwarded for",
			remoteAddr: "10.0.0.1:1",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.1"},
			expected:   "203.0.113.5",
		},
		{
			name:       "real ip",
			remoteAddr: "10.0.0.1:1",
			headers:    map[string]string{"X-Real-IP": "203.0.113.9"},
			expected:   "203.0.113.9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.expected, ClientIP(req))
		})
	}
}

func TestMiddleware_ForwardedClientsAreSeparate(t *testing.T) {
	l, _ := newTestLimiter(t, 60, 1)
	h := Middleware(l, nil)(http.HandlerFunc(okHandler))

	assert.Equal(t, http.StatusOK, serve(h, "10.0.0.1:1", map[string]string{"X-Forwarded-For": "203.0.113.1"}).Code)
	assert.Equal(t, http.StatusOK, serve(h, "10.0.0.1:1", map[string]string{"X-Forwarded-For": "203.0.113.2"}).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(h, "10.0.0.1:1", map[string]string{"X-Forwarded-For": "203.0.113.1"}).Code)
}
