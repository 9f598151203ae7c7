package pipeline

import (
	"sort"
	"strings"

	"github.com/paveg/metabulo/internal/errors"
)

// Grid is the column-major working representation of a frame inside a
// stage. Valid[j][i] is false where the value is missing.
type Grid struct {
	Values [][]float64
	Valid  [][]bool
}

// Rows returns the number of rows.
func (g Grid) Rows() int {
	if len(g.Values) == 0 {
		return 0
	}
	return len(g.Values[0])
}

// ColumnFunc transforms one column. Implementations must not modify their
// arguments and must return freshly allocated slices.
type ColumnFunc func(values []float64, valid []bool) ([]float64, []bool)

// TableFunc transforms a whole grid. Implementations must not modify the
// input grid.
type TableFunc func(g Grid) Grid

// Method is a registered implementation of a stage. Exactly one of Column
// and Table is set.
type Method struct {
	Name string
	// Idempotent reports whether applying the method twice equals applying it once.
	Idempotent bool
	Column     ColumnFunc
	Table      TableFunc
}

// apply runs the method over g.
func (m Method) apply(g Grid, mapColumns func(ColumnFunc, Grid) Grid) Grid {
	if m.Table != nil {
		return m.Table(g)
	}
	return mapColumns(m.Column, g)
}

// Registry is an immutable lookup of methods per stage.
type Registry struct {
	stages map[Stage]map[string]Method
}

// NewRegistry builds a registry holding the built-in methods of every stage.
func NewRegistry() *Registry {
	return newRegistry(map[Stage][]Method{
		ImputationMNAR: mnarMethods(),
		ImputationMCAR: mcarMethods(),
		Normalization:  normalizationMethods(),
		Transformation: transformationMethods(),
		Scaling:        scalingMethods(),
	})
}

func newRegistry(methods map[Stage][]Method) *Registry {
	r := &Registry{stages: make(map[Stage]map[string]Method, len(methods))}
	for stage, list := range methods {
		byName := make(map[string]Method, len(list))
		for _, m := range list {
			byName[m.Name] = m
		}
		r.stages[stage] = byName
	}
	return r
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process-wide registry built at start-up.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Lookup returns the method registered under name for stage.
func (r *Registry) Lookup(stage Stage, name string) (Method, error) {
	if m, ok := r.stages[stage][strings.TrimSpace(name)]; ok {
		return m, nil
	}
	return Method{}, errors.NewInvalidMethodError(stage.String(), name).
		WithHint("available: " + strings.Join(r.Methods(stage), ", "))
}

// Has reports whether name is registered for stage. The identity is always valid.
func (r *Registry) Has(stage Stage, name string) bool {
	if IsNone(name) {
		return true
	}
	_, ok := r.stages[stage][strings.TrimSpace(name)]
	return ok
}

// Methods returns the registered method names of a stage, sorted.
func (r *Registry) Methods(stage Stage) []string {
	names := make([]string, 0, len(r.stages[stage]))
	for name := range r.stages[stage] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks every stage of cfg against the registry.
func (r *Registry) Validate(cfg Config) error {
	for _, stage := range Order {
		m := cfg.Method(stage)
		if r.Has(stage, m) {
			continue
		}
		_, err := r.Lookup(stage, m)
		return err
	}
	return nil
}
