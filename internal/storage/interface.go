package storage

import (
	"context"
	"time"

	"quotaguard/internal/models"
)

// Storage persists the last fetched value of each task so a restarted daemon
// can serve warm caches before its first remote call.
type Storage interface {
	// Load returns the entry for a task or ErrNotFound.
	Load(ctx context.Context, taskID string) (*models.CacheEntry, error)

	// Save stores or replaces the entry for its task.
	Save(ctx context.Context, entry *models.CacheEntry) error

	// Delete removes a task's entry. Deleting a missing entry is not an error.
	Delete(ctx context.Context, taskID string) error

	// List returns every stored entry ordered by task ID.
	List(ctx context.Context) ([]*models.CacheEntry, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend.
	Close() error
}

// Config holds configuration for storage backends
type Config struct {
	// Type specifies the storage backend type
	Type string `json:"type" yaml:"type"`

	// Path is used for file-based storage backends
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// ConnectionString is used for database backends
	ConnectionString string `json:"connection_string,omitempty" yaml:"connection_string,omitempty"`

	// Pool settings for database backends
	MaxOpenConns    int           `json:"max_open_conns,omitempty" yaml:"max_open_conns,omitempty"`
	MaxIdleConns    int           `json:"max_idle_conns,omitempty" yaml:"max_idle_conns,omitempty"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime,omitempty" yaml:"conn_max_lifetime,omitempty"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time,omitempty" yaml:"conn_max_idle_time,omitempty"`
}
