package models

import (
	"encoding/json"
	"errors"
	"time"
)

// CacheEntry is the persisted value of one task, used to warm the cache on
// restart.
type CacheEntry struct {
	TaskID    string          `json:"task_id"`
	Payload   json.RawMessage `json:"payload"`
	FetchedAt time.Time       `json:"fetched_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (e *CacheEntry) Validate() error {
	if e.TaskID == "" {
		return errors.New("task id cannot be empty")
	}
	if len(e.Payload) == 0 {
		return errors.New("payload cannot be empty")
	}
	if !json.Valid(e.Payload) {
		return errors.New("payload must be valid JSON")
	}
	if e.FetchedAt.IsZero() {
		return errors.New("fetched at cannot be zero")
	}
	return nil
}
