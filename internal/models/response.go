// Package models - API response types and error handling.
// This file defines the outgoing API response structures.
//
// Response conventions:
// - Consistent JSON structure across all endpoints
// - Optional fields use omitempty
// - Errors carry a machine-readable code next to the message
// - RFC3339 timestamps
package models

import (
	"encoding/json"
	"time"
)

// ThrottlerStatusResponse reports the strategy and quota window.
type ThrottlerStatusResponse struct {
	Flow           string        `json:"flow"`
	DefaultReads   int64         `json:"default_reads"`
	RemainingReads int64         `json:"remaining_reads"`
	WindowStart    time.Time     `json:"window_start"`
	WindowWidth    time.Duration `json:"window_width"`
	ThrottlerTime  time.Duration `json:"throttler_time"`
	TaskCount      int           `json:"task_count"`
	Config         StrategyInfo  `json:"config"`
}

type StrategyInfo struct {
	OnDemandReservationPercent  int `json:"on_demand_reservation_percent"`
	ReservationPercent          int `json:"reservation_percent"`
	AggressiveThrottlingPercent int `json:"aggressive_throttling_percent"`
}

// TaskStatistics mirrors the per-window task statistics.
type TaskStatistics struct {
	LastCallTime   *time.Time `json:"last_call_time,omitempty"`
	ExecutionCount *int64     `json:"execution_count,omitempty"`
	TotalCallCount int64      `json:"total_call_count"`
}

type TaskInfo struct {
	ID               string         `json:"id"`
	ExecutionType    string         `json:"execution_type"`
	TTL              time.Duration  `json:"ttl"`
	ThrottlerTimeout time.Duration  `json:"throttler_timeout"`
	EffectiveTTL     time.Duration  `json:"effective_ttl"`
	PenaltyUntil     *time.Time     `json:"penalty_until,omitempty"`
	FetchedAt        *time.Time     `json:"fetched_at,omitempty"`
	HasValue         bool           `json:"has_value"`
	Statistics       TaskStatistics `json:"statistics"`
}

type ListTasksResponse struct {
	Tasks      []TaskInfo `json:"tasks"`
	TotalCount int        `json:"total_count"`
}

// TaskValueResponse carries a task value. Stale is set when the value is
// served past its lifetime.
type TaskValueResponse struct {
	ID        string          `json:"id"`
	Value     json.RawMessage `json:"value"`
	FetchedAt time.Time       `json:"fetched_at"`
	Cached    bool            `json:"cached"`
	Stale     bool            `json:"stale"`
}

type ActionResponse struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse provides structured error information.
type ErrorResponse struct {
	Error     string            `json:"error"`
	Message   string            `json:"message"`
	Code      string            `json:"code,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	RequestID string            `json:"request_id,omitempty"`
}

type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
	Metrics    map[string]interface{}     `json:"metrics,omitempty"`
}

type ComponentHealth struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Health Status Constants
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusDegraded  = "degraded"
	StatusUnknown   = "unknown"
)

// Standard HTTP Error Codes
const (
	ErrorCodeNotFound           = "NOT_FOUND"           // 404
	ErrorCodeTaskNotFound       = "TASK_NOT_FOUND"      // 404
	ErrorCodeBadRequest         = "BAD_REQUEST"         // 400
	ErrorCodeThrottled          = "THROTTLED"           // 429: task inside a provider penalty window
	ErrorCodeRateLimited        = "RATE_LIMITED"        // 429: inbound rate limit
	ErrorCodeUpstreamError      = "UPSTREAM_ERROR"      // 502: provider failure
	ErrorCodeInternalError      = "INTERNAL_ERROR"      // 500
	ErrorCodeServiceUnavailable = "SERVICE_UNAVAILABLE" // 503
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     "error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

func NewHealthCheckResponse(status string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
		Metrics:    make(map[string]interface{}),
	}
}

func (h *HealthCheckResponse) AddComponent(name, status, message string) {
	h.Components[name] = ComponentHealth{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
}

func (h *HealthCheckResponse) AddMetric(name string, value interface{}) {
	h.Metrics[name] = value
}
