package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"quotaguard/internal/models"
)

// JSONStorage persists entries in a single JSON file. The file is read once
// at startup and rewritten atomically on every change.
type JSONStorage struct {
	filePath string
	mu       sync.RWMutex
	data     *JSONData
}

// JSONData represents the structure of data stored in JSON format
type JSONData struct {
	Entries     map[string]*models.CacheEntry `json:"entries"`
	LastUpdated time.Time                     `json:"last_updated"`
}

// NewJSONStorage creates a new JSON-based storage instance
func NewJSONStorage(config Config) (*JSONStorage, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("path is required for JSON storage")
	}

	storage := &JSONStorage{filePath: config.Path}
	if err := storage.ensureFileExists(); err != nil {
		return nil, fmt.Errorf("failed to ensure file exists: %w", err)
	}
	if err := storage.loadData(); err != nil {
		return nil, fmt.Errorf("failed to load initial data: %w", err)
	}
	return storage, nil
}

// ensureFileExists creates the JSON file with empty data if it doesn't exist
func (j *JSONStorage) ensureFileExists() error {
	if _, err := os.Stat(j.filePath); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(j.filePath), 0700); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		return j.saveData(&JSONData{Entries: map[string]*models.CacheEntry{}})
	}
	return nil
}

func (j *JSONStorage) loadData() error {
	fileData, err := os.ReadFile(j.filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var data JSONData
	if err := json.Unmarshal(fileData, &data); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	if data.Entries == nil {
		data.Entries = map[string]*models.CacheEntry{}
	}

	j.mu.Lock()
	j.data = &data
	j.mu.Unlock()
	return nil
}

// saveData writes to a temporary file and renames it over the target.
func (j *JSONStorage) saveData(data *JSONData) error {
	data.LastUpdated = time.Now().UTC()

	fileData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	tmp := j.filePath + ".tmp"
	if err := os.WriteFile(tmp, fileData, 0600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp, j.filePath); err != nil {
		return fmt.Errorf("failed to replace file: %w", err)
	}
	return nil
}

func (j *JSONStorage) Load(ctx context.Context, taskID string) (*models.CacheEntry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	entry, ok := j.data.Entries[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	return cloneEntry(entry), nil
}

func (j *JSONStorage) Save(ctx context.Context, entry *models.CacheEntry) error {
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("invalid cache entry: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	stored := cloneEntry(entry)
	stored.UpdatedAt = time.Now().UTC()
	previous, existed := j.data.Entries[entry.TaskID]
	j.data.Entries[entry.TaskID] = stored

	if err := j.saveData(j.data); err != nil {
		if existed {
			j.data.Entries[entry.TaskID] = previous
		} else {
			delete(j.data.Entries, entry.TaskID)
		}
		return err
	}
	return nil
}

func (j *JSONStorage) Delete(ctx context.Context, taskID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	previous, ok := j.data.Entries[taskID]
	if !ok {
		return nil
	}
	delete(j.data.Entries, taskID)
	if err := j.saveData(j.data); err != nil {
		j.data.Entries[taskID] = previous
		return err
	}
	return nil
}

func (j *JSONStorage) List(ctx context.Context) ([]*models.CacheEntry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	out := make([]*models.CacheEntry, 0, len(j.data.Entries))
	for _, entry := range j.data.Entries {
		out = append(out, cloneEntry(entry))
	}
	sortEntries(out)
	return out, nil
}

func (j *JSONStorage) Ping(ctx context.Context) error {
	if _, err := os.Stat(j.filePath); err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	return nil
}

func (j *JSONStorage) Close() error {
	return nil
}
