package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"quotaguard/internal/models"
	"quotaguard/internal/resources"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "QUOTAGUARD_"

// Load builds the configuration from defaults, then the YAML file at
// configPath (if non-empty), then QUOTAGUARD_* environment variables, and
// validates the result including the configured task names.
func Load(configPath string) (*models.Config, error) {
	config := models.NewDefaultConfig()

	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	loadFromEnvironment(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := resources.Validate(config.Tasks, config.Provider); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// misplacedConfig mirrors keys that are commonly put in the wrong section.
type misplacedConfig struct {
	Throttler struct {
		DefaultReads any `yaml:"default_reads"`
		WindowWidth  any `yaml:"window_width"`
	} `yaml:"throttler"`
	Provider struct {
		ReservationPercent any `yaml:"reservation_percent"`
	} `yaml:"provider"`
}

// warnMisplacedKeys logs a warning for each known key found in the wrong
// section. Such keys are ignored by the main decoder.
func warnMisplacedKeys(data []byte) {
	var mc misplacedConfig
	if err := yaml.Unmarshal(data, &mc); err != nil {
		return
	}
	if mc.Throttler.DefaultReads != nil {
		slog.Warn("Config key is ignored; set the quota under provider.default_reads.", "config_key", "throttler.default_reads")
	}
	if mc.Throttler.WindowWidth != nil {
		slog.Warn("Config key is ignored; set the quota window under provider.window_width.", "config_key", "throttler.window_width")
	}
	if mc.Provider.ReservationPercent != nil {
		slog.Warn("Config key is ignored; reservations belong under throttler.", "config_key", "provider.reservation_percent")
	}
}

func loadFromFile(config *models.Config, filePath string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	warnMisplacedKeys(data)
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// Unparseable values are ignored and leave the current setting in place.
func envString(name string, dst *string) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envInt64(name string, dst *int64) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envFloat(name string, dst *float64) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envDuration(name string, dst *time.Duration) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func envBool(name string, dst *bool) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		*dst = strings.ToLower(v) == "true"
	}
}

func loadFromEnvironment(config *models.Config) {
	// Server
	envInt("PORT", &config.Server.Port)
	envString("HOST", &config.Server.Host)
	envDuration("READ_TIMEOUT", &config.Server.ReadTimeout)
	envDuration("WRITE_TIMEOUT", &config.Server.WriteTimeout)
	envDuration("IDLE_TIMEOUT", &config.Server.IdleTimeout)
	envBool("TLS_ENABLED", &config.Server.TLSEnabled)
	envString("TLS_CERT_FILE", &config.Server.TLSCertFile)
	envString("TLS_KEY_FILE", &config.Server.TLSKeyFile)

	// Provider
	envString("PROVIDER_BASE_URL", &config.Provider.BaseURL)
	envString("PROVIDER_API_VERSION", &config.Provider.APIVersion)
	envString("PROVIDER_TOKEN", &config.Provider.Token)
	envString("SUBSCRIPTION_ID", &config.Provider.SubscriptionID)
	envString("LOCATION", &config.Provider.Location)
	envString("RESOURCE_GROUP", &config.Provider.ResourceGroup)
	envDuration("PROVIDER_TIMEOUT", &config.Provider.Timeout)
	envDuration("DEFAULT_RETRY_AFTER", &config.Provider.DefaultRetryAfter)
	envInt64("DEFAULT_READS", &config.Provider.DefaultReads)
	envDuration("WINDOW_WIDTH", &config.Provider.WindowWidth)
	envString("REMAINING_READS_HEADER", &config.Provider.RemainingReadsHeader)

	// Throttler
	envInt("ON_DEMAND_RESERVATION_PERCENT", &config.Throttler.OnDemandReservationPercent)
	envInt("RESERVATION_PERCENT", &config.Throttler.ReservationPercent)
	envInt("AGGRESSIVE_THROTTLING_PERCENT", &config.Throttler.AggressiveThrottlingPercent)
	envDuration("RECONCILE_INTERVAL", &config.Throttler.ReconcileInterval)
	envDuration("MIN_REFRESH_INTERVAL", &config.Throttler.MinRefreshInterval)
	envDuration("HISTORY_RETENTION", &config.Throttler.HistoryRetention)

	// Storage
	envString("STORAGE_TYPE", &config.Storage.Type)
	envString("STORAGE_PATH", &config.Storage.Path)
	envString("DATABASE_DSN", &config.Storage.Database.DSN)
	envInt("DATABASE_MAX_OPEN_CONNS", &config.Storage.Database.MaxOpenConns)
	envInt("DATABASE_MAX_IDLE_CONNS", &config.Storage.Database.MaxIdleConns)

	// Inbound rate limiting
	envBool("RATE_LIMIT_ENABLED", &config.RateLimit.Enabled)
	envInt("RATE_LIMIT_REQUESTS_PER_MINUTE", &config.RateLimit.RequestsPerMinute)
	envInt("RATE_LIMIT_BURST_SIZE", &config.RateLimit.BurstSize)

	// Logging
	envString("LOG_LEVEL", &config.Logging.Level)
	envString("LOG_FORMAT", &config.Logging.Format)
	envString("LOG_OUTPUT", &config.Logging.Output)
	envString("LOG_FILE_PATH", &config.Logging.FilePath)

	// Metrics and tracing
	envBool("METRICS_ENABLED", &config.Metrics.Enabled)
	envString("METRICS_PATH", &config.Metrics.Path)
	envInt("METRICS_PORT", &config.Metrics.Port)
	envString("SERVICE_NAME", &config.Observability.ServiceName)
	envBool("TRACING_ENABLED", &config.Observability.Tracing.Enabled)
	envString("TRACING_EXPORTER", &config.Observability.Tracing.Exporter)
	envString("OTLP_ENDPOINT", &config.Observability.Tracing.OTLPEndpoint)
	envFloat("TRACING_SAMPLE_RATE", &config.Observability.Tracing.SampleRate)
}

// SaveExample writes an example configuration registering
// every known read task.
func SaveExample(filePath string) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	config := models.NewDefaultConfig()
	config.Provider.SubscriptionID = "00000000-0000-0000-0000-000000000000"
	config.Provider.Location = "westeurope"
	config.Provider.ResourceGroup = "example-rg"
	config.Provider.Token = "replace-with-a-bearer-token"
	config.Storage.Type = models.StorageTypeSQLite
	config.Storage.Database.DSN = "./data/quotaguard.db"

	config.Tasks = config.Tasks[:0]
	for _, d := range resources.Descriptors() {
		config.Tasks = append(config.Tasks, models.TaskConfig{
			ID:            exampleTaskID(d.Name),
			Name:          d.Name,
			ExecutionType: d.ExecutionType.String(),
			TTL:           10 * time.Minute,
		})
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// exampleTaskID turns FetchVirtualMachineSizes into virtual_machine_sizes.
func exampleTaskID(name string) string {
	name = strings.TrimPrefix(name, "Fetch")
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
