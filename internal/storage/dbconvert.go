package storage

import (
	"fmt"
	"time"

	"quotaguard/internal/models"
)

// SQLite has no timestamp type; times are stored as RFC 3339 text in UTC.
const sqliteTimeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// rowScanner is satisfied by *sql.Row, *sql.Rows and pgx.Row.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteEntry(row rowScanner) (*models.CacheEntry, error) {
	var (
		entry     models.CacheEntry
		payload   string
		fetchedAt string
		updatedAt string
	)
	if err := row.Scan(&entry.TaskID, &payload, &fetchedAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if entry.FetchedAt, err = parseTime(fetchedAt); err != nil {
		return nil, err
	}
	if entry.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	entry.Payload = []byte(payload)
	return &entry, nil
}

func scanPostgresEntry(row rowScanner) (*models.CacheEntry, error) {
	var (
		entry   models.CacheEntry
		payload []byte
	)
	if err := row.Scan(&entry.TaskID, &payload, &entry.FetchedAt, &entry.UpdatedAt); err != nil {
		return nil, err
	}
	entry.Payload = payload
	entry.FetchedAt = entry.FetchedAt.UTC()
	entry.UpdatedAt = entry.UpdatedAt.UTC()
	return &entry, nil
}
