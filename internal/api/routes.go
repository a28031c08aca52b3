package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"

	"quotaguard/internal/models"
)

// RouteOption configures optional route behavior.
type RouteOption func(*mux.Router)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
// Health probes and API docs are not traced.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(r *mux.Router) {
		r.Use(otelmux.Middleware(serviceName,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health" &&
					r.URL.Path != "/api/v1/health" &&
					r.URL.Path != "/api/v1/openapi.yaml" &&
					r.URL.Path != "/api/v1/docs"
			}),
		))
	}
}

// WithRateLimiter adds rate limiting middleware to the router.
func WithRateLimiter(middleware func(http.Handler) http.Handler) RouteOption {
	return func(r *mux.Router) {
		r.Use(middleware)
	}
}

// SetupRoutes configures the HTTP routes for the API
func SetupRoutes(handlers *Handlers, opts ...RouteOption) *mux.Router {
	router := mux.NewRouter()

	router.Use(recoveryMiddleware(handlers.logger))
	router.Use(loggingMiddleware(handlers.logger))
	for _, opt := range opts {
		opt(router)
	}

	router.HandleFunc("/health", handlers.HealthCheck).Methods(http.MethodGet)

	// API routes are registered on the root router so that its
	// MethodNotAllowedHandler answers wrong methods with 405.
	api := func(path string, h http.HandlerFunc, method string) {
		router.HandleFunc("/api/v1"+path, h).Methods(method)
	}
	api("/health", handlers.HealthCheck, http.MethodGet)

	api("/throttler", handlers.GetThrottlerStatus, http.MethodGet)
	api("/throttler/reconcile", handlers.Reconcile, http.MethodPost)

	api("/tasks", handlers.ListTasks, http.MethodGet)
	api("/tasks/{task_id}", handlers.GetTask, http.MethodGet)
	api("/tasks/{task_id}/value", handlers.GetTaskValue, http.MethodGet)
	api("/tasks/{task_id}/reset", handlers.ResetTask, http.MethodPost)

	api("/openapi.yaml", handlers.ServeOpenAPISpec, http.MethodGet)
	api("/docs", handlers.ServeSwaggerUI, http.MethodGet)

	router.NotFoundHandler = http.HandlerFunc(notFoundHandler)
	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowedHandler)

	return router
}

func notFoundHandler(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, models.ErrorCodeNotFound, "Resource not found")
}

// methodNotAllowedHandler handles requests with invalid HTTP methods
func methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, models.ErrorCodeBadRequest, "Method not allowed")
}
