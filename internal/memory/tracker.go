// Package memory bounds the memory held by cached measurement tables.
//
// Each loaded dataset keeps its materialized table until the next change.
// The Tracker accounts for the bytes of those tables and releases the least
// recently used ones once the configured limit is exceeded.
package memory

import (
	"container/list"
	"log/slog"
	"sync"
)

// Tracker is safe for concurrent use. A zero or negative limit disables
// eviction; usage is still accounted.
type Tracker struct {
	mu      sync.Mutex
	limit   int64
	used    int64
	lru     *list.List
	entries map[string]*list.Element
	logger  *slog.Logger
}

type entry struct {
	id      string
	bytes   int64
	release func()
}

// NewTracker returns a tracker that keeps usage at or below limit bytes.
func NewTracker(limit int64, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		limit:   limit,
		lru:     list.New(),
		entries: make(map[string]*list.Element),
		logger:  logger,
	}
}

// Touch records that id holds bytes and was just used. release drops the
// memory of id; it is called outside the tracker lock when id is evicted.
// The entry being touched is never evicted by its own call.
func (t *Tracker) Touch(id string, bytes int64, release func()) {
	t.mu.Lock()
	if el, ok := t.entries[id]; ok {
		e := el.Value.(*entry)
		t.used += bytes - e.bytes
		e.bytes = bytes
		e.release = release
		t.lru.MoveToFront(el)
	} else {
		t.entries[id] = t.lru.PushFront(&entry{id: id, bytes: bytes, release: release})
		t.used += bytes
	}
	victims := t.evictLocked()
	t.mu.Unlock()

	for _, v := range victims {
		t.logger.Debug("measurement cache evicted", "id", v.id, "bytes", v.bytes)
		v.release()
	}
}

// Forget removes id without calling its release function.
func (t *Tracker) Forget(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if el, ok := t.entries[id]; ok {
		t.used -= el.Value.(*entry).bytes
		t.lru.Remove(el)
		delete(t.entries, id)
	}
}

// Used returns the accounted bytes.
func (t *Tracker) Used() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.used
}

// Len returns the number of tracked entries.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *Tracker) evictLocked() []*entry {
	if t.limit <= 0 {
		return nil
	}
	var victims []*entry
	for t.used > t.limit && t.lru.Len() > 1 {
		el := t.lru.Back()
		e := el.Value.(*entry)
		t.lru.Remove(el)
		delete(t.entries, e.id)
		t.used -= e.bytes
		victims = append(victims, e)
	}
	return victims
}

// FrameBytes estimates the memory of a rows x columns float64 table with
// validity bitmaps.
func FrameBytes(rows, columns int) int64 {
	return int64(rows)*int64(columns)*8 + int64(columns)*int64((rows+7)/8)
}
