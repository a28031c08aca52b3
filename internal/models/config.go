// Package models - Service configuration and operational settings.
// This file defines the configuration structures for every quotaguard component.
//
// Configuration layout:
// - Server: HTTP API listener
// - Provider: remote read API connection and quota window
// - Throttler: reservation percentages and reconciliation cadence
// - Tasks: the cached read tasks to register
// - Storage: persistence of cached task values
// - RateLimit: inbound API request limiting
// - Logging, Metrics, Observability: ambient operational settings
package models

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Storage type constants
const (
	StorageTypeJSON     = "json"
	StorageTypeMemory   = "memory"
	StorageTypePostgres = "postgres"
	StorageTypeSQLite   = "sqlite"
)

// Execution type names accepted in task configuration.
const (
	ExecutionTypePeriodical = "periodical"
	ExecutionTypeOnDemand   = "on_demand"
)

// Config is the root configuration structure containing all service settings.
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Provider      ProviderConfig      `yaml:"provider" json:"provider"`
	Throttler     ThrottlerConfig     `yaml:"throttler" json:"throttler"`
	Tasks         []TaskConfig        `yaml:"tasks" json:"tasks"`
	Storage       StorageConfig       `yaml:"storage" json:"storage"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit" json:"rate_limit"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile  string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file" json:"tls_key_file"`
}

// ProviderConfig describes the quota-limited remote API.
//
// DefaultReads and WindowWidth describe the read quota the provider grants per
// window; the remaining count is learned from RemainingReadsHeader on every
// response. SubscriptionID, Location and ResourceGroup fill the path
// templates of read tasks unless a task overrides them.
type ProviderConfig struct {
	BaseURL              string        `yaml:"base_url" json:"base_url"`
	APIVersion           string        `yaml:"api_version" json:"api_version"`
	Token                string        `yaml:"token" json:"-"`
	SubscriptionID       string        `yaml:"subscription_id" json:"subscription_id"`
	Location             string        `yaml:"location" json:"location"`
	ResourceGroup        string        `yaml:"resource_group" json:"resource_group"`
	Timeout              time.Duration `yaml:"timeout" json:"timeout"`
	DefaultRetryAfter    time.Duration `yaml:"default_retry_after" json:"default_retry_after"`
	DefaultReads         int64         `yaml:"default_reads" json:"default_reads"`
	WindowWidth          time.Duration `yaml:"window_width" json:"window_width"`
	RemainingReadsHeader string        `yaml:"remaining_reads_header" json:"remaining_reads_header"`
}

// ThrottlerConfig holds the strategy percentages and engine cadence.
type ThrottlerConfig struct {
	OnDemandReservationPercent  int           `yaml:"on_demand_reservation_percent" json:"on_demand_reservation_percent"`
	ReservationPercent          int           `yaml:"reservation_percent" json:"reservation_percent"`
	AggressiveThrottlingPercent int           `yaml:"aggressive_throttling_percent" json:"aggressive_throttling_percent"`
	ReconcileInterval           time.Duration `yaml:"reconcile_interval" json:"reconcile_interval"`
	MinRefreshInterval          time.Duration `yaml:"min_refresh_interval" json:"min_refresh_interval"`
	HistoryRetention            time.Duration `yaml:"history_retention" json:"history_retention"`
}

// TaskConfig registers one read task.
//
// Name selects the read descriptor (FetchSubscriptions, FetchLocations, ...).
// ExecutionType overrides the descriptor default when set. Params override the
// provider-level path parameters (subscription, location, resource_group).
type TaskConfig struct {
	ID            string            `yaml:"id" json:"id"`
	Name          string            `yaml:"name" json:"name"`
	ExecutionType string            `yaml:"execution_type" json:"execution_type,omitempty"`
	TTL           time.Duration     `yaml:"ttl" json:"ttl"`
	Params        map[string]string `yaml:"params" json:"params,omitempty"`
}

type StorageConfig struct {
	Type     string         `yaml:"type" json:"type"`
	Path     string         `yaml:"path" json:"path"`
	Database DatabaseConfig `yaml:"database" json:"database"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" json:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
}

// RateLimitConfig limits inbound API requests per client IP.
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled" json:"enabled"`
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
	BurstSize         int           `yaml:"burst_size" json:"burst_size"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// NewDefaultConfig creates a configuration with working defaults: a one hour
// window of 12000 reads, memory storage and a single subscription listing task.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Provider: ProviderConfig{
			BaseURL:              "https://management.azure.com",
			APIVersion:           "2021-04-01",
			Timeout:              30 * time.Second,
			DefaultRetryAfter:    10 * time.Second,
			DefaultReads:         12000,
			WindowWidth:          time.Hour,
			RemainingReadsHeader: "x-ms-ratelimit-remaining-subscription-reads",
		},
		Throttler: ThrottlerConfig{
			OnDemandReservationPercent:  50,
			ReservationPercent:          10,
			AggressiveThrottlingPercent: 90,
			ReconcileInterval:           30 * time.Second,
			MinRefreshInterval:          5 * time.Second,
			HistoryRetention:            2 * time.Hour,
		},
		Tasks: []TaskConfig{
			{ID: "subscriptions", Name: "FetchSubscriptions", ExecutionType: ExecutionTypePeriodical, TTL: 10 * time.Minute},
		},
		Storage: StorageConfig{
			Type: StorageTypeMemory,
			Path: "./data/cache.json",
			Database: DatabaseConfig{
				MaxOpenConns:    10,
				MaxIdleConns:    2,
				ConnMaxLifetime: 5 * time.Minute,
				ConnMaxIdleTime: 5 * time.Minute,
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 120,
			BurstSize:         20,
			CleanupInterval:   5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "quotaguard",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 0.1,
			},
		},
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if err := c.Provider.Validate(); err != nil {
		return fmt.Errorf("invalid provider config: %w", err)
	}

	if err := c.Throttler.Validate(); err != nil {
		return fmt.Errorf("invalid throttler config: %w", err)
	}

	// Statistics are taken from the window start, so call history must
	// cover at least one full window.
	if c.Throttler.HistoryRetention < c.Provider.WindowWidth {
		return fmt.Errorf("invalid throttler config: history retention %s is shorter than the provider window %s",
			c.Throttler.HistoryRetention, c.Provider.WindowWidth)
	}

	seen := make(map[string]bool, len(c.Tasks))
	for i := range c.Tasks {
		if err := c.Tasks[i].Validate(); err != nil {
			return fmt.Errorf("invalid task config at index %d: %w", i, err)
		}
		if seen[c.Tasks[i].ID] {
			return fmt.Errorf("invalid task config: duplicate task id %q", c.Tasks[i].ID)
		}
		seen[c.Tasks[i].ID] = true
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("invalid storage config: %w", err)
	}

	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("invalid rate limit config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("invalid observability config: %w", err)
	}

	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}

	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}

	if sc.ReadTimeout < 0 || sc.WriteTimeout < 0 || sc.IdleTimeout < 0 {
		return errors.New("timeouts cannot be negative")
	}

	if sc.TLSEnabled {
		if sc.TLSCertFile == "" {
			return errors.New("TLS cert file is required when TLS is enabled")
		}
		if sc.TLSKeyFile == "" {
			return errors.New("TLS key file is required when TLS is enabled")
		}
	}

	return nil
}

func (pc *ProviderConfig) Validate() error {
	u, err := url.Parse(pc.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid base url: %q", pc.BaseURL)
	}

	if pc.DefaultReads < 0 {
		return errors.New("default reads cannot be negative")
	}

	if pc.WindowWidth <= 0 {
		return errors.New("window width must be positive")
	}

	if pc.Timeout < 0 || pc.DefaultRetryAfter < 0 {
		return errors.New("timeouts cannot be negative")
	}

	return nil
}

func (tc *ThrottlerConfig) Validate() error {
	percents := map[string]int{
		"on_demand_reservation_percent": tc.OnDemandReservationPercent,
		"reservation_percent":           tc.ReservationPercent,
		"aggressive_throttling_percent": tc.AggressiveThrottlingPercent,
	}
	for name, value := range percents {
		if value < 0 || value > 100 {
			return fmt.Errorf("%s must be between 0 and 100, got %d", name, value)
		}
	}

	if tc.ReconcileInterval <= 0 {
		return errors.New("reconcile interval must be positive")
	}

	if tc.MinRefreshInterval < 0 || tc.HistoryRetention < 0 {
		return errors.New("intervals cannot be negative")
	}

	return nil
}

func (tc *TaskConfig) Validate() error {
	if tc.ID == "" {
		return errors.New("task id cannot be empty")
	}

	if tc.Name == "" {
		return errors.New("task name cannot be empty")
	}

	switch tc.ExecutionType {
	case "", ExecutionTypePeriodical, ExecutionTypeOnDemand:
	default:
		return fmt.Errorf("invalid execution type: %s", tc.ExecutionType)
	}

	if tc.TTL < 0 {
		return errors.New("task TTL cannot be negative")
	}

	return nil
}

func (stc *StorageConfig) Validate() error {
	switch stc.Type {
	case StorageTypeMemory:
		return nil
	case StorageTypeJSON:
		if stc.Path == "" {
			return errors.New("path is required for JSON storage")
		}
	case StorageTypePostgres, StorageTypeSQLite:
		if stc.Database.DSN == "" {
			return errors.New("database DSN is required for database storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s", stc.Type)
	}
	return nil
}

func (rc *RateLimitConfig) Validate() error {
	if !rc.Enabled {
		return nil
	}

	if rc.RequestsPerMinute <= 0 {
		return errors.New("requests per minute must be positive")
	}

	if rc.BurstSize < 0 {
		return errors.New("burst size cannot be negative")
	}

	return nil
}

func (lc *LoggingConfig) Validate() error {
	switch lc.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}

	switch lc.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}

	switch lc.Output {
	case "stdout", "stderr":
	case "file":
		if lc.FilePath == "" {
			return errors.New("file path is required when output is file")
		}
	default:
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}

	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}

	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}

	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}

	return nil
}

func (oc *ObservabilityConfig) Validate() error {
	if oc.ServiceName == "" {
		return errors.New("service name cannot be empty")
	}

	if !oc.Tracing.Enabled {
		return nil
	}

	switch oc.Tracing.Exporter {
	case "stdout":
	case "otlp":
		if oc.Tracing.OTLPEndpoint == "" {
			return errors.New("OTLP endpoint is required for the otlp exporter")
		}
	default:
		return fmt.Errorf("invalid tracing exporter: %s", oc.Tracing.Exporter)
	}

	if oc.Tracing.SampleRate < 0 || oc.Tracing.SampleRate > 1 {
		return errors.New("sample rate must be between 0 and 1")
	}

	return nil
}
