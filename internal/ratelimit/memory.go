package ratelimit

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	count    int64
	windowAt time.Time
}

// MemoryCounter keeps counts in process memory.
type MemoryCounter struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

func (c *MemoryCounter) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	e, ok := c.entries[key]
	if !ok || !now.Before(e.windowAt) {
		c.entries[key] = &entry{count: 1, windowAt: now.Add(window)}
		return 1, nil
	}
	e.count++
	return e.count, nil
}

// Cleanup removes expired entries and returns how many were removed.
func (c *MemoryCounter) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, e := range c.entries {
		if !now.Before(e.windowAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}
