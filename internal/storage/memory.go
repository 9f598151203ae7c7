package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/paveg/metabulo/internal/errors"
)

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Save inserts or replaces a record.
func (s *MemoryStore) Save(_ context.Context, rec *Record) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec.clone()
	return nil
}

// Load returns a copy of the record.
func (s *MemoryStore) Load(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, errors.NewNotFoundError("Load", "dataset "+id)
	}
	return rec.clone(), nil
}

// Delete removes the record.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return errors.NewNotFoundError("Delete", "dataset "+id)
	}
	delete(s.records, id)
	return nil
}

// List returns summaries ordered by creation time, then id.
func (s *MemoryStore) List(_ context.Context) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Summary, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.summary())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func validateRecord(rec *Record) error {
	switch {
	case rec == nil:
		return errors.NewInvalidInputError("Save", "nil record")
	case rec.ID == "":
		return errors.NewInvalidInputError("Save", "record has no id")
	case rec.Table == nil:
		return errors.NewInvalidInputError("Save", "record has no table")
	case len(rec.Roles.Rows) != rec.Table.Rows() || len(rec.Roles.Columns) != rec.Table.Columns():
		return errors.NewInvalidInputError("Save", "roles do not match the table shape")
	}
	return nil
}
