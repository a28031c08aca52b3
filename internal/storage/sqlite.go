package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"quotaguard/internal/models"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	task_id    TEXT PRIMARY KEY,
	payload    TEXT NOT NULL,
	fetched_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`

// SQLiteStorage stores entries in a SQLite database through the pure Go
// modernc.org/sqlite driver.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens the database and creates the schema.
func NewSQLiteStorage(config Config) (*SQLiteStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for SQLite storage")
	}

	db, err := sql.Open("sqlite", config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Load(ctx context.Context, taskID string) (*models.CacheEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT task_id, payload, fetched_at, updated_at FROM cache_entries WHERE task_id = ?`, taskID)
	entry, err := scanSQLiteEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cache entry: %w", err)
	}
	return entry, nil
}

func (s *SQLiteStorage) Save(ctx context.Context, entry *models.CacheEntry) error {
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("invalid cache entry: %w", err)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO cache_entries (task_id, payload, fetched_at, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(task_id) DO UPDATE SET
	payload = excluded.payload,
	fetched_at = excluded.fetched_at,
	updated_at = excluded.updated_at`,
		entry.TaskID, string(entry.Payload), formatTime(entry.FetchedAt), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to save cache entry: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) Delete(ctx context.Context, taskID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) List(ctx context.Context) ([]*models.CacheEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, payload, fetched_at, updated_at FROM cache_entries ORDER BY task_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache entries: %w", err)
	}
	defer rows.Close()

	var out []*models.CacheEntry
	for rows.Next() {
		entry, err := scanSQLiteEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cache entry: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cache entries: %w", err)
	}
	return out, nil
}

func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
