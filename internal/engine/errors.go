package engine

import (
	"fmt"
	"net/http"
	"time"

	"quotaguard/internal/models"
)

// ServiceError carries the HTTP mapping of an engine failure.
type ServiceError struct {
	Code       string
	Message    string
	StatusCode int
	// RetryAfter is set for throttled requests.
	RetryAfter time.Duration
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func NewTaskNotFoundError(taskID string) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeTaskNotFound,
		Message:    fmt.Sprintf("task '%s' not found", taskID),
		StatusCode: http.StatusNotFound,
	}
}

// NewThrottledError reports a task that may not call the provider for
// retryAfter and has no value to fall back on.
func NewThrottledError(taskID string, retryAfter time.Duration, err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeThrottled,
		Message:    fmt.Sprintf("task '%s' is throttled", taskID),
		StatusCode: http.StatusTooManyRequests,
		RetryAfter: retryAfter,
		Err:        err,
	}
}

func NewUpstreamError(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeUpstreamError,
		Message:    message,
		StatusCode: http.StatusBadGateway,
		Err:        err,
	}
}

func NewInternalError(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeInternalError,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

func NewUnavailableError(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeServiceUnavailable,
		Message:    message,
		StatusCode: http.StatusServiceUnavailable,
		Err:        err,
	}
}
