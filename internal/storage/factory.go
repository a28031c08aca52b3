package storage

import (
	"fmt"
	"sort"

	"quotaguard/internal/models"
)

type backend struct {
	// requires names the config field that must be set, if any.
	requires string
	open     func(Config) (Storage, error)
}

var backends = map[string]backend{
	models.StorageTypeMemory: {
		open: func(c Config) (Storage, error) { return NewMemoryStorage(c) },
	},
	models.StorageTypeJSON: {
		requires: "path",
		open:     func(c Config) (Storage, error) { return NewJSONStorage(c) },
	},
	models.StorageTypeSQLite: {
		requires: "database DSN",
		open:     func(c Config) (Storage, error) { return NewSQLiteStorage(c) },
	},
	models.StorageTypePostgres: {
		requires: "database DSN",
		open:     func(c Config) (Storage, error) { return NewPostgresStorage(c) },
	},
}

// Factory creates cache snapshot stores from configuration.
type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

// Create validates config and opens the matching backend:
//   - json: single JSON file, rewritten atomically
//   - memory: process-local, lost on restart
//   - postgres: PostgreSQL through a pgx pool
//   - sqlite: SQLite through modernc.org/sqlite
func (f *Factory) Create(config models.StorageConfig) (Storage, error) {
	if err := f.ValidateConfig(config); err != nil {
		return nil, err
	}
	return backends[config.Type].open(Config{
		Type:             config.Type,
		Path:             config.Path,
		ConnectionString: config.Database.DSN,
		MaxOpenConns:     config.Database.MaxOpenConns,
		MaxIdleConns:     config.Database.MaxIdleConns,
		ConnMaxLifetime:  config.Database.ConnMaxLifetime,
		ConnMaxIdleTime:  config.Database.ConnMaxIdleTime,
	})
}

// GetSupportedProviders returns the backend names in lexical order.
func (f *Factory) GetSupportedProviders() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateConfig checks that the backend exists and its required field is set.
func (f *Factory) ValidateConfig(config models.StorageConfig) error {
	b, ok := backends[config.Type]
	if !ok {
		return fmt.Errorf("unsupported storage type: %s", config.Type)
	}
	switch b.requires {
	case "path":
		if config.Path == "" {
			return fmt.Errorf("path is required for %s storage", config.Type)
		}
	case "database DSN":
		if config.Database.DSN == "" {
			return fmt.Errorf("database DSN is required for %s storage", config.Type)
		}
	}
	return nil
}
