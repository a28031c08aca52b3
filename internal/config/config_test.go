package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quotaguard/internal/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quotaguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_WithDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, int64(12000), cfg.Provider.DefaultReads)
	assert.Equal(t, time.Hour, cfg.Provider.WindowWidth)
	assert.Equal(t, 50, cfg.Throttler.OnDemandReservationPercent)
	assert.Equal(t, 10, cfg.Throttler.ReservationPercent)
	assert.Equal(t, 90, cfg.Throttler.AggressiveThrottlingPercent)
	assert.Equal(t, models.StorageTypeMemory, cfg.Storage.Type)
	require.Len(t, cfg.Tasks, 1)
	assert.Equal(t, "FetchSubscriptions", cfg.Tasks[0].Name)
}

func TestLoad_WithValidConfigFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
  host: "127.0.0.1"
provider:
  base_url: "https://management.example.com"
  subscription_id: "sub-1"
  location: "westeurope"
  default_reads: 15000
  window_width: 30m
throttler:
  on_demand_reservation_percent: 40
  reservation_percent: 5
  aggressive_throttling_percent: 80
  reconcile_interval: 10s
tasks:
  - id: vm-sizes
    name: FetchVirtualMachineSizes
    ttl: 1h
  - id: groups
    name: FetchResourceGroups
    execution_type: periodical
    ttl: 5m
storage:
  type: json
  path: ./data/cache.json
logging:
  level: debug
  format: text
  output: stderr
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "https://management.example.com", cfg.Provider.BaseURL)
	assert.Equal(t, int64(15000), cfg.Provider.DefaultReads)
	assert.Equal(t, 30*time.Minute, cfg.Provider.WindowWidth)
	assert.Equal(t, 40, cfg.Throttler.OnDemandReservationPercent)
	assert.Equal(t, 10*time.Second, cfg.Throttler.ReconcileInterval)
	// Unset keys keep their defaults.
	assert.Equal(t, 5*time.Second, cfg.Throttler.MinRefreshInterval)

	require.Len(t, cfg.Tasks, 2)
	assert.Equal(t, "vm-sizes", cfg.Tasks[0].ID)
	assert.Equal(t, time.Hour, cfg.Tasks[0].TTL)
	assert.Equal(t, models.ExecutionTypePeriodical, cfg.Tasks[1].ExecutionType)

	assert.Equal(t, models.StorageTypeJSON, cfg.Storage.Type)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_WithEnvironmentVariables(t *testing.T) {
	t.Setenv("QUOTAGUARD_PORT", "9191")
	t.Setenv("QUOTAGUARD_PROVIDER_TOKEN", "secret")
	t.Setenv("QUOTAGUARD_SUBSCRIPTION_ID", "sub-env")
	t.Setenv("QUOTAGUARD_DEFAULT_READS", "500")
	t.Setenv("QUOTAGUARD_WINDOW_WIDTH", "15m")
	t.Setenv("QUOTAGUARD_RESERVATION_PERCENT", "25")
	t.Setenv("QUOTAGUARD_STORAGE_TYPE", "sqlite")
	t.Setenv("QUOTAGUARD_DATABASE_DSN", "/tmp/q.db")
	t.Setenv("QUOTAGUARD_RATE_LIMIT_ENABLED", "false")
	t.Setenv("QUOTAGUARD_LOG_LEVEL", "warn")
	t.Setenv("QUOTAGUARD_TRACING_ENABLED", "true")
	t.Setenv("QUOTAGUARD_TRACING_SAMPLE_RATE", "0.5")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "secret", cfg.Provider.Token)
	assert.Equal(t, "sub-env", cfg.Provider.SubscriptionID)
	assert.Equal(t, int64(500), cfg.Provider.DefaultReads)
	assert.Equal(t, 15*time.Minute, cfg.Provider.WindowWidth)
	assert.Equal(t, 25, cfg.Throttler.ReservationPercent)
	assert.Equal(t, models.StorageTypeSQLite, cfg.Storage.Type)
	assert.Equal(t, "/tmp/q.db", cfg.Storage.Database.DSN)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.True(t, cfg.Observability.Tracing.Enabled)
	assert.InDelta(t, 0.5, cfg.Observability.Tracing.SampleRate, 1e-9)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9000\n")
	t.Setenv("QUOTAGUARD_PORT", "9100")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
}

func TestLoad_IgnoresUnparseableEnvironment(t *testing.T) {
	t.Setenv("QUOTAGUARD_PORT", "not-a-number")
	t.Setenv("QUOTAGUARD_RECONCILE_INTERVAL", "soon")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Throttler.ReconcileInterval)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errText string
	}{
		{
			name:    "invalid yaml",
			content: "server: [port",
			errText: "failed to parse YAML config",
		},
		{
			name:    "percent out of range",
			content: "throttler:\n  reservation_percent: 150\n",
			errText: "reservation_percent must be between 0 and 100",
		},
		{
			name:    "zero window width",
			content: "provider:\n  window_width: 0s\n",
			errText: "window width must be positive",
		},
		{
			name:    "unknown task name",
			content: "tasks:\n  - id: x\n    name: FetchEverything\n",
			errText: "unknown task name",
		},
		{
			name:    "missing path parameter",
			content: "tasks:\n  - id: locs\n    name: FetchLocations\n",
			errText: "requires parameters: subscription",
		},
		{
			name:    "duplicate task id",
			content: "tasks:\n  - id: a\n    name: FetchSubscriptions\n  - id: a\n    name: FetchSubscriptions\n",
			errText: "duplicate task id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errText)
		})
	}
}

func TestLoad_NonExistentFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestLoad_EmptyConfigFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, models.NewDefaultConfig().Server, cfg.Server)
}

func TestLoad_MisplacedKeysAreIgnored(t *testing.T) {
	cfg, err := Load(writeConfig(t, "throttler:\n  window_width: 5m\n"))
	require.NoError(t, err)
	assert.Equal(t, time.Hour, cfg.Provider.WindowWidth)
}

func TestSaveExample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "example.yaml")
	require.NoError(t, SaveExample(path))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Len(t, cfg.Tasks, 10)
	assert.Equal(t, "resource_groups", cfg.Tasks[0].ID)
	assert.Equal(t, models.StorageTypeSQLite, cfg.Storage.Type)
	assert.Equal(t, "westeurope", cfg.Provider.Location)
}

func TestExampleTaskID(t *testing.T) {
	assert.Equal(t, "virtual_machine_sizes", exampleTaskID("FetchVirtualMachineSizes"))
	assert.Equal(t, "subscriptions", exampleTaskID("FetchSubscriptions"))
}
