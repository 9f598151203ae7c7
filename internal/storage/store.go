// Package storage persists datasets: the raw table, its roles, its pipeline
// configuration and free-form metadata. The transform core never touches
// storage directly; the facade loads and saves records through Store.
package storage

import (
	"context"
	"maps"
	"time"

	"github.com/paveg/metabulo/internal/dataset"
	"github.com/paveg/metabulo/internal/pipeline"
	"github.com/paveg/metabulo/internal/roles"
	"github.com/paveg/metabulo/internal/table"
)

// Record is the persisted form of a dataset.
type Record struct {
	ID        string
	Name      string
	Meta      map[string]any
	Table     *table.Table
	Roles     roles.Assignment
	Config    pipeline.Config
	CreatedAt time.Time
}

// Summary describes a stored dataset without its table.
type Summary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Rows      int       `json:"rows"`
	Columns   int       `json:"columns"`
	CreatedAt time.Time `json:"created"`
}

// Store persists records. Load and Delete fail with a NotFound error for
// unknown ids. Deleting a record removes its roles and configuration too.
type Store interface {
	Save(ctx context.Context, rec *Record) error
	Load(ctx context.Context, id string) (*Record, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Summary, error)
	Close() error
}

// FromSnapshot converts a dataset snapshot to a record.
func FromSnapshot(s dataset.Snapshot) *Record {
	return &Record{
		ID:        s.ID,
		Name:      s.Name,
		Meta:      maps.Clone(s.Meta),
		Table:     s.Table,
		Roles:     s.Roles.Clone(),
		Config:    s.Config,
		CreatedAt: s.CreatedAt,
	}
}

// Snapshot converts the record back to a dataset snapshot.
func (r *Record) Snapshot() dataset.Snapshot {
	return dataset.Snapshot{
		ID:        r.ID,
		Name:      r.Name,
		Meta:      maps.Clone(r.Meta),
		Table:     r.Table,
		Roles:     r.Roles.Clone(),
		Config:    r.Config,
		CreatedAt: r.CreatedAt,
	}
}

func (r *Record) summary() Summary {
	return Summary{
		ID:        r.ID,
		Name:      r.Name,
		Rows:      r.Table.Rows(),
		Columns:   r.Table.Columns(),
		CreatedAt: r.CreatedAt,
	}
}

func (r *Record) clone() *Record {
	c := *r
	c.Meta = maps.Clone(r.Meta)
	c.Roles = r.Roles.Clone()
	return &c
}
