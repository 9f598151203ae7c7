package materialize

import (
	"sync"

	"github.com/paveg/metabulo/internal/frame"
)

// Cache memoizes one measurement table per dataset, keyed by the input
// fingerprint. Frames handed out by Get stay valid until the next Put or
// Invalidate; callers must not release them.
type Cache struct {
	mu     sync.Mutex
	fp     uint64
	frame  *frame.Frame
	hits   int
	misses int
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{}
}

// Get returns the cached frame when fp matches.
func (c *Cache) Get(fp uint64) (*frame.Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.frame != nil && c.fp == fp {
		c.hits++
		return c.frame, true
	}
	c.misses++
	return nil, false
}

// Put stores f under fp, releasing any previous entry.
func (c *Cache) Put(fp uint64, f *frame.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.frame != nil && c.frame != f {
		c.frame.Release()
	}
	c.fp, c.frame = fp, f
}

// Invalidate drops and releases the cached frame.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.frame != nil {
		c.frame.Release()
	}
	c.fp, c.frame = 0, nil
}

// Stats returns the number of hits and misses so far.
func (c *Cache) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
