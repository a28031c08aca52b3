package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"quotaguard/internal/models"
)

// MemoryStorage keeps entries in process memory. Entries are lost on restart,
// which makes it the default for development and tests.
type MemoryStorage struct {
	mu      sync.RWMutex
	entries map[string]*models.CacheEntry
}

// NewMemoryStorage creates a new memory-based storage instance
func NewMemoryStorage(config Config) (*MemoryStorage, error) {
	return &MemoryStorage{
		entries: make(map[string]*models.CacheEntry),
	}, nil
}

func (m *MemoryStorage) Load(ctx context.Context, taskID string) (*models.CacheEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	return cloneEntry(entry), nil
}

func (m *MemoryStorage) Save(ctx context.Context, entry *models.CacheEntry) error {
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("invalid cache entry: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored := cloneEntry(entry)
	stored.UpdatedAt = time.Now().UTC()
	m.entries[entry.TaskID] = stored
	return nil
}

func (m *MemoryStorage) Delete(ctx context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, taskID)
	return nil
}

func (m *MemoryStorage) List(ctx context.Context) ([]*models.CacheEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.CacheEntry, 0, len(m.entries))
	for _, entry := range m.entries {
		out = append(out, cloneEntry(entry))
	}
	sortEntries(out)
	return out, nil
}

func (m *MemoryStorage) Ping(ctx context.Context) error {
	return nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

// cloneEntry returns a deep copy so callers cannot mutate stored payloads.
func cloneEntry(e *models.CacheEntry) *models.CacheEntry {
	c := *e
	c.Payload = append([]byte(nil), e.Payload...)
	return &c
}

func sortEntries(entries []*models.CacheEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].TaskID < entries[j].TaskID
	})
}
