package storage

import "errors"

// ErrNotFound is returned when no entry exists for a task.
var ErrNotFound = errors.New("cache entry not found")
