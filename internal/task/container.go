package task

import (
	"fmt"
	"sync"

	"quotaguard/internal/throttler"
)

// Container owns registered tasks in insertion order.
type Container struct {
	mu      sync.RWMutex
	entries []Entry
	byID    map[string]Entry
}

var _ throttler.TaskContainer = (*Container)(nil)

func NewContainer() *Container {
	return &Container{byID: make(map[string]Entry)}
}

func (c *Container) Register(e Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.byID[e.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, e.ID())
	}
	c.entries = append(c.entries, e)
	c.byID[e.ID()] = e
	return nil
}

func (c *Container) Get(id string) (Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return e, nil
}

// Entries returns a snapshot of the registered tasks.
func (c *Container) Entries() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Tasks implements throttler.TaskContainer.
func (c *Container) Tasks() []throttler.Task {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]throttler.Task, len(c.entries))
	for i, e := range c.entries {
		out[i] = e
	}
	return out
}

func (c *Container) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
