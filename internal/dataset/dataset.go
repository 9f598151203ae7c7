// Package dataset holds the Dataset aggregate: a raw table, its role
// assignment, its pipeline configuration and the cached measurement table
// derived from them.
//
// Every mutation validates its argument, swaps the state and drops the
// cached measurement table inside one critical section, so a stale table
// is never observable once the change is visible.
package dataset

import (
	"maps"
	"sync"
	"time"

	"github.com/paveg/metabulo/internal/errors"
	"github.com/paveg/metabulo/internal/frame"
	"github.com/paveg/metabulo/internal/materialize"
	"github.com/paveg/metabulo/internal/pipeline"
	"github.com/paveg/metabulo/internal/roles"
	"github.com/paveg/metabulo/internal/table"
	"github.com/paveg/metabulo/internal/validation"
)

// Snapshot is the persistable state of a dataset.
type Snapshot struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Meta      map[string]any   `json:"meta"`
	Table     *table.Table     `json:"-"`
	Roles     roles.Assignment `json:"roles"`
	Config    pipeline.Config  `json:"config"`
	CreatedAt time.Time        `json:"created"`
}

// Dataset is safe for concurrent use.
type Dataset struct {
	mu        sync.Mutex
	id        string
	name      string
	meta      map[string]any
	table     *table.Table
	roles     roles.Assignment
	config    pipeline.Config
	createdAt time.Time
	cache     *materialize.Cache
}

// New creates a dataset over t with default roles and an identity pipeline.
func New(id, name string, t *table.Table) *Dataset {
	return &Dataset{
		id:        id,
		name:      name,
		meta:      map[string]any{},
		table:     t,
		roles:     roles.ClassifyDefault(t),
		createdAt: time.Now().UTC(),
		cache:     materialize.NewCache(),
	}
}

// Restore rebuilds a dataset from a snapshot. The roles must match the
// table shape.
func Restore(s Snapshot) (*Dataset, error) {
	if err := checkSnapshot("dataset.Restore", s); err != nil {
		return nil, err
	}
	return &Dataset{
		id:        s.ID,
		name:      s.Name,
		meta:      cloneMeta(s.Meta),
		table:     s.Table,
		roles:     s.Roles.Clone(),
		config:    s.Config,
		createdAt: s.CreatedAt,
		cache:     materialize.NewCache(),
	}, nil
}

func checkSnapshot(op string, s Snapshot) error {
	if s.Table == nil {
		return errors.NewInvalidInputError(op, "snapshot has no table")
	}
	if len(s.Roles.Rows) != s.Table.Rows() || len(s.Roles.Columns) != s.Table.Columns() {
		return errors.NewInvalidInputError(op, "roles do not match the table shape")
	}
	return nil
}

func cloneMeta(meta map[string]any) map[string]any {
	if meta == nil {
		return map[string]any{}
	}
	return maps.Clone(meta)
}

// ID returns the dataset identifier.
func (d *Dataset) ID() string { return d.id }

// Name returns the display name.
func (d *Dataset) Name() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.name
}

// Meta returns a copy of the free-form metadata.
func (d *Dataset) Meta() map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return maps.Clone(d.meta)
}

// CreatedAt returns the creation time.
func (d *Dataset) CreatedAt() time.Time { return d.createdAt }

// Table returns the raw table.
func (d *Dataset) Table() *table.Table {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.table
}

// Roles returns a copy of the role assignment.
func (d *Dataset) Roles() roles.Assignment {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.roles.Clone()
}

// Config returns the pipeline configuration.
func (d *Dataset) Config() pipeline.Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.config
}

// Snapshot returns a copy of the persistable state.
func (d *Dataset) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Snapshot{
		ID:        d.id,
		Name:      d.name,
		Meta:      maps.Clone(d.meta),
		Table:     d.table,
		Roles:     d.roles.Clone(),
		Config:    d.config,
		CreatedAt: d.createdAt,
	}
}

// SetName renames the dataset. Names do not affect the measurement table.
func (d *Dataset) SetName(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.name = name
}

// SetMeta replaces the free-form metadata.
func (d *Dataset) SetMeta(fields map[string]any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.meta = cloneMeta(fields)
}

// ApplyRoleChanges applies a batch of role edits atomically. Any invalid
// change aborts the batch and leaves the roles untouched.
func (d *Dataset) ApplyRoleChanges(changes []roles.Change) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	next, err := roles.ApplyBatch(d.roles, changes)
	if err != nil {
		return err
	}
	if next.Equal(d.roles) {
		return nil
	}
	d.roles = next
	d.cache.Invalidate()
	return nil
}

// SetImputation sets the MCAR and MNAR methods. A nil pointer keeps the
// current method; both are checked before either is applied.
func (d *Dataset) SetImputation(reg *pipeline.Registry, mcar, mnar *string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	next := d.config
	if mcar != nil {
		next = next.With(pipeline.ImputationMCAR, *mcar)
	}
	if mnar != nil {
		next = next.With(pipeline.ImputationMNAR, *mnar)
	}
	return d.setConfigLocked(reg, next)
}

// SetNormalization sets the normalization method.
func (d *Dataset) SetNormalization(reg *pipeline.Registry, method string) error {
	return d.setStage(reg, pipeline.Normalization, method)
}

// SetTransformation sets the transformation method.
func (d *Dataset) SetTransformation(reg *pipeline.Registry, method string) error {
	return d.setStage(reg, pipeline.Transformation, method)
}

// SetScaling sets the scaling method.
func (d *Dataset) SetScaling(reg *pipeline.Registry, method string) error {
	return d.setStage(reg, pipeline.Scaling, method)
}

// SetConfig replaces the whole pipeline configuration.
func (d *Dataset) SetConfig(reg *pipeline.Registry, cfg pipeline.Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setConfigLocked(reg, cfg)
}

func (d *Dataset) setStage(reg *pipeline.Registry, stage pipeline.Stage, method string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setConfigLocked(reg, d.config.With(stage, method))
}

func (d *Dataset) setConfigLocked(reg *pipeline.Registry, cfg pipeline.Config) error {
	if reg == nil {
		reg = pipeline.DefaultRegistry()
	}
	if err := reg.Validate(cfg); err != nil {
		return err
	}
	if cfg == d.config {
		return nil
	}
	d.config = cfg
	d.cache.Invalidate()
	return nil
}

// ReplaceTable swaps the raw table. Roles are reclassified from the new
// content; the pipeline configuration is kept.
func (d *Dataset) ReplaceTable(t *table.Table) error {
	if t == nil {
		return errors.NewInvalidInputError("dataset.ReplaceTable", "nil table")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.table = t
	d.roles = roles.ClassifyDefault(t)
	d.cache.Invalidate()
	return nil
}

// Revert puts the dataset back into the state captured by s, which must be
// a snapshot of this dataset. The cached measurement table is dropped when
// the table, roles or configuration differ.
func (d *Dataset) Revert(s Snapshot) error {
	if s.ID != d.id {
		return errors.NewInvalidInputError("dataset.Revert", "snapshot of dataset "+s.ID)
	}
	if err := checkSnapshot("dataset.Revert", s); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	changed := !SameInput(s, Snapshot{Table: d.table, Roles: d.roles, Config: d.config})
	d.name = s.Name
	d.meta = cloneMeta(s.Meta)
	d.table = s.Table
	d.roles = s.Roles.Clone()
	d.config = s.Config
	if changed {
		d.cache.Invalidate()
	}
	return nil
}

// SameInput reports whether a and b materialize the same measurement table.
func SameInput(a, b Snapshot) bool {
	return a.Table == b.Table && a.Roles.Equal(b.Roles) && a.Config == b.Config
}

func (d *Dataset) inputLocked() materialize.Input {
	return materialize.Input{Table: d.table, Roles: d.roles, Config: d.config}
}

// Measurement returns the measurement table, computing it on first use after
// a change. The frame belongs to the dataset and stays valid until the next
// mutation; use WithMeasurement to hold it across concurrent edits.
func (d *Dataset) Measurement(m *materialize.Materializer) (*frame.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return m.Cached(d.cache, d.inputLocked())
}

// WithMeasurement calls fn with the measurement table while holding the
// dataset lock.
func (d *Dataset) WithMeasurement(m *materialize.Materializer, fn func(*frame.Frame) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	f, err := m.Cached(d.cache, d.inputLocked())
	if err != nil {
		return err
	}
	return fn(f)
}

// Validate runs the validation engine over the current table and roles.
func (d *Dataset) Validate(missingThreshold float64) ([]validation.Issue, error) {
	d.mu.Lock()
	t, a := d.table, d.roles.Clone()
	d.mu.Unlock()

	return validation.Validate(t, a, missingThreshold)
}

// SampleMetadata returns the annotations of the measurement rows.
func (d *Dataset) SampleMetadata(m *materialize.Materializer) (*materialize.Metadata, error) {
	d.mu.Lock()
	in := d.inputLocked()
	in.Roles = in.Roles.Clone()
	d.mu.Unlock()

	return m.SampleMetadata(in)
}

// Close releases the cached measurement table.
func (d *Dataset) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache.Invalidate()
}
