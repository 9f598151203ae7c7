// Package metabulo is the public API of the metabolomics transform core.
//
// A Service owns the uploaded datasets. Each dataset is a raw table whose
// rows and columns carry roles; the roles select the measurement table,
// which the configured pipeline (imputation, normalization, transformation,
// scaling) turns into the input of principal component analysis.
//
//	svc, err := metabulo.Open(ctx, config.NewConfig(), slog.Default())
//	if err != nil {
//		return err
//	}
//	defer svc.Close()
//
//	info, err := svc.Upload(ctx, "plasma", file, nil)
//	mcar := "knn"
//	err = svc.SetImputation(ctx, info.ID, &mcar, nil)
//	err = svc.SetScaling(ctx, info.ID, "auto")
//	res, err := svc.PCA(ctx, info.ID, 0)
package metabulo

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/uuid"
	"github.com/paveg/metabulo/internal/analysis"
	"github.com/paveg/metabulo/internal/config"
	"github.com/paveg/metabulo/internal/dataset"
	"github.com/paveg/metabulo/internal/errors"
	"github.com/paveg/metabulo/internal/frame"
	mio "github.com/paveg/metabulo/internal/io"
	"github.com/paveg/metabulo/internal/materialize"
	memtrack "github.com/paveg/metabulo/internal/memory"
	"github.com/paveg/metabulo/internal/monitoring"
	"github.com/paveg/metabulo/internal/parallel"
	"github.com/paveg/metabulo/internal/pipeline"
	"github.com/paveg/metabulo/internal/roles"
	"github.com/paveg/metabulo/internal/storage"
	"github.com/paveg/metabulo/internal/validation"
)

// Re-exported types used in the Service API.
type (
	RoleChange     = roles.Change
	RoleAssignment = roles.Assignment
	PipelineConfig = pipeline.Config
	Issue          = validation.Issue
	PCAResult      = analysis.PCAResult
	Summary        = storage.Summary
	Metrics        = monitoring.MetricsSummary
)

// ExportFormat selects the encoding of an exported measurement table.
type ExportFormat string

const (
	FormatCSV     ExportFormat = "csv"
	FormatJSON    ExportFormat = "json"
	FormatParquet ExportFormat = "parquet"
)

// ParseExportFormat parses a format name, case-insensitively.
func ParseExportFormat(s string) (ExportFormat, error) {
	switch f := ExportFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatJSON, FormatParquet:
		return f, nil
	default:
		return "", errors.NewInvalidInputError("export", fmt.Sprintf("unknown format %q", s)).
			WithHint("use csv, json or parquet")
	}
}

// Info describes a dataset and its current settings.
type Info struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Meta      map[string]any   `json:"meta"`
	Rows      int              `json:"rows"`
	Columns   int              `json:"columns"`
	Roles     roles.Assignment `json:"roles"`
	Pipeline  pipeline.Config  `json:"pipeline"`
	CreatedAt time.Time        `json:"created"`
}

// Imputation is the pair of imputation methods of a dataset.
type Imputation struct {
	MCAR string `json:"mcar"`
	MNAR string `json:"mnar"`
}

// MeasurementTable is a detached copy of a measurement table. Missing
// values are nil.
type MeasurementTable struct {
	Rows    []string     `json:"rows"`
	Columns []string     `json:"columns"`
	Values  [][]*float64 `json:"values"`
}

// Service manages datasets on top of a Store and an Analyzer. Loaded
// datasets stay in memory so their measurement tables are computed once
// per change.
type Service struct {
	store        storage.Store
	analyzer     analysis.Analyzer
	registry     *pipeline.Registry
	materializer *materialize.Materializer
	pool         *parallel.WorkerPool
	metrics      *monitoring.MetricsCollector
	tracker      *memtrack.Tracker
	cacheLimit   int64
	logger       *slog.Logger
	cfg          config.Config
	mem          memory.Allocator

	mu       sync.Mutex
	sessions map[string]*dataset.Dataset
	// saveMu orders snapshot-and-save so the stored state never regresses.
	saveMu sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithStore sets the persistence backend. The default is an in-memory store.
func WithStore(st storage.Store) Option {
	return func(s *Service) { s.store = st }
}

// WithAnalyzer sets the PCA backend. The default is in-process PCA.
func WithAnalyzer(a analysis.Analyzer) Option {
	return func(s *Service) { s.analyzer = a }
}

// WithRegistry replaces the method registry.
func WithRegistry(reg *pipeline.Registry) Option {
	return func(s *Service) { s.registry = reg }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithConfig sets the configuration.
func WithConfig(cfg config.Config) Option {
	return func(s *Service) { s.cfg = cfg.WithDefaults() }
}

// WithCacheLimit bounds the bytes of cached measurement tables, overriding
// the configured limit. Zero disables the bound.
func WithCacheLimit(bytes int64) Option {
	return func(s *Service) { s.cacheLimit = bytes }
}

// WithAllocator sets the allocator for measurement tables.
func WithAllocator(mem memory.Allocator) Option {
	return func(s *Service) {
		if mem != nil {
			s.mem = mem
		}
	}
}

// New builds a Service from options.
func New(opts ...Option) *Service {
	s := &Service{
		logger:     slog.Default(),
		cfg:        config.GetGlobalConfig(),
		mem:        memory.NewGoAllocator(),
		cacheLimit: -1,
		sessions:   make(map[string]*dataset.Dataset),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cacheLimit < 0 {
		s.cacheLimit = s.cfg.CacheLimitBytes()
	}
	s.tracker = memtrack.NewTracker(s.cacheLimit, s.logger)
	if s.store == nil {
		s.store = storage.NewMemoryStore()
	}
	if s.analyzer == nil {
		s.analyzer = analysis.NewLocalPCA()
	}
	if s.registry == nil {
		s.registry = pipeline.DefaultRegistry()
	}

	s.pool = parallel.NewWorkerPool(s.cfg.Workers())
	s.metrics = monitoring.NewMetricsCollector(s.cfg.MetricsCollection)
	p := pipeline.New(s.registry,
		pipeline.WithWorkerPool(s.pool),
		pipeline.WithParallelThreshold(s.cfg.ParallelThreshold),
		pipeline.WithMetrics(s.metrics),
		pipeline.WithLogger(s.logger),
		pipeline.WithAllocator(s.mem),
	)
	s.materializer = materialize.New(p,
		materialize.WithMetrics(s.metrics),
		materialize.WithLogger(s.logger),
		materialize.WithAllocator(s.mem),
	)
	return s
}

// Open builds a Service from configuration: a SQLite store when
// StoragePath is set and an OpenCPU analyzer when OpenCPUURL is set.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	opts := []Option{WithConfig(cfg), WithLogger(logger)}
	if cfg.StoragePath != "" {
		st, err := storage.OpenSQLite(ctx, cfg.StoragePath, logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithStore(st))
	}
	if cfg.OpenCPUURL != "" {
		opts = append(opts, WithAnalyzer(analysis.NewOpenCPUClient(cfg.OpenCPUURL, cfg.OpenCPUPackage,
			analysis.WithTimeout(cfg.HTTPTimeout()),
			analysis.WithRetry(cfg.RetryMaxAttempts, cfg.RetryBaseDelay(), cfg.RetryMaxDelay()),
			analysis.WithClientLogger(logger),
		)))
	}
	return New(opts...), nil
}

// Close releases all cached tables, stops the workers and closes the store.
func (s *Service) Close() error {
	s.mu.Lock()
	for id, d := range s.sessions {
		d.Close()
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	s.pool.Close()
	return s.store.Close()
}

// Methods lists the registered methods of each stage.
func (s *Service) Methods() map[string][]string {
	out := make(map[string][]string, len(pipeline.Order))
	for _, stage := range pipeline.Order {
		out[stage.String()] = s.registry.Methods(stage)
	}
	return out
}

// Metrics returns per-stage timings when metrics collection is enabled.
func (s *Service) Metrics() Metrics {
	return s.metrics.GetSummary()
}

// CachedBytes returns the estimated memory of cached measurement tables.
func (s *Service) CachedBytes() int64 {
	return s.tracker.Used()
}

// Upload reads a table and stores it as a new dataset with default roles.
// The input is CSV, or a Parquet file written by ExportMeasurement.
func (s *Service) Upload(ctx context.Context, name string, r io.Reader, meta map[string]any) (*Info, error) {
	t, err := mio.NewTableReader(r, mio.DefaultCSVOptions(), s.mem).Read()
	if err != nil {
		return nil, err
	}

	d := dataset.New(uuid.NewString(), name, t)
	if len(meta) > 0 {
		d.SetMeta(meta)
	}
	s.saveMu.Lock()
	err = s.save(ctx, d.Snapshot())
	s.saveMu.Unlock()
	if err != nil {
		d.Close()
		return nil, err
	}

	s.mu.Lock()
	s.sessions[d.ID()] = d
	s.mu.Unlock()

	s.logger.Info("dataset uploaded",
		"id", d.ID(),
		"name", name,
		"rows", t.Rows(),
		"columns", t.Columns())
	return info(d), nil
}

// Replace swaps the raw table of a dataset for a new upload. Roles are
// reclassified from the new table; the pipeline configuration is kept.
func (s *Service) Replace(ctx context.Context, id string, r io.Reader) (*Info, error) {
	t, err := mio.NewTableReader(r, mio.DefaultCSVOptions(), s.mem).Read()
	if err != nil {
		return nil, err
	}
	d, _, err := s.mutate(ctx, id, func(d *dataset.Dataset) error {
		return d.ReplaceTable(t)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("dataset replaced",
		"id", id,
		"rows", t.Rows(),
		"columns", t.Columns())
	return info(d), nil
}

// Get returns a dataset description.
func (s *Service) Get(ctx context.Context, id string) (*Info, error) {
	d, err := s.dataset(ctx, id)
	if err != nil {
		return nil, err
	}
	return info(d), nil
}

// List returns all stored datasets, oldest first.
func (s *Service) List(ctx context.Context) ([]Summary, error) {
	return s.store.List(ctx)
}

// Delete removes a dataset with its roles and configuration.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}

	s.mu.Lock()
	d, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	s.tracker.Forget(id)
	if ok {
		d.Close()
	}

	s.logger.Info("dataset deleted", "id", id)
	return nil
}

// SetMeta renames the dataset when name is non-empty and replaces its
// metadata with fields when fields is non-nil.
func (s *Service) SetMeta(ctx context.Context, id, name string, fields map[string]any) (*Info, error) {
	d, _, err := s.mutate(ctx, id, func(d *dataset.Dataset) error {
		if name != "" {
			d.SetName(name)
		}
		if fields != nil {
			d.SetMeta(fields)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info(d), nil
}

// BatchLabel applies role edits atomically and returns the new assignment.
func (s *Service) BatchLabel(ctx context.Context, id string, changes []RoleChange) (RoleAssignment, error) {
	d, before, err := s.mutate(ctx, id, func(d *dataset.Dataset) error {
		return d.ApplyRoleChanges(changes)
	})
	if err != nil {
		return RoleAssignment{}, err
	}

	after := d.Roles()
	if roles.TouchesStructure(before.Roles, after) {
		s.logger.Info("dataset structure changed", "id", id, "roles", after.String())
	} else {
		s.logger.Debug("roles updated", "id", id, "changes", len(changes))
	}
	return after, nil
}

// Imputation returns the configured imputation methods.
func (s *Service) Imputation(ctx context.Context, id string) (Imputation, error) {
	d, err := s.dataset(ctx, id)
	if err != nil {
		return Imputation{}, err
	}
	cfg := d.Config()
	return Imputation{
		MCAR: cfg.Method(pipeline.ImputationMCAR),
		MNAR: cfg.Method(pipeline.ImputationMNAR),
	}, nil
}

// SetImputation sets the MCAR and MNAR methods. A nil pointer keeps the
// current method.
func (s *Service) SetImputation(ctx context.Context, id string, mcar, mnar *string) error {
	return s.edit(ctx, id, func(d *dataset.Dataset) error {
		return d.SetImputation(s.registry, mcar, mnar)
	})
}

// SetNormalization sets the normalization method.
func (s *Service) SetNormalization(ctx context.Context, id, method string) error {
	return s.edit(ctx, id, func(d *dataset.Dataset) error {
		return d.SetNormalization(s.registry, method)
	})
}

// SetTransformation sets the transformation method.
func (s *Service) SetTransformation(ctx context.Context, id, method string) error {
	return s.edit(ctx, id, func(d *dataset.Dataset) error {
		return d.SetTransformation(s.registry, method)
	})
}

// SetScaling sets the scaling method.
func (s *Service) SetScaling(ctx context.Context, id, method string) error {
	return s.edit(ctx, id, func(d *dataset.Dataset) error {
		return d.SetScaling(s.registry, method)
	})
}

// SetPipeline replaces the whole pipeline configuration.
func (s *Service) SetPipeline(ctx context.Context, id string, cfg PipelineConfig) error {
	return s.edit(ctx, id, func(d *dataset.Dataset) error {
		return d.SetConfig(s.registry, cfg)
	})
}

// Validation runs the validation engine and returns every issue found.
func (s *Service) Validation(ctx context.Context, id string) ([]Issue, error) {
	d, err := s.dataset(ctx, id)
	if err != nil {
		return nil, err
	}
	return d.Validate(s.cfg.MissingDataThreshold)
}

// Measurement returns a copy of the transformed measurement table.
func (s *Service) Measurement(ctx context.Context, id string) (*MeasurementTable, error) {
	d, err := s.dataset(ctx, id)
	if err != nil {
		return nil, err
	}

	var out *MeasurementTable
	err = s.withMeasurement(d, func(f *frame.Frame) error {
		matrix, valid := f.Matrix()
		out = &MeasurementTable{
			Rows:    f.RowLabels(),
			Columns: f.Columns(),
			Values:  make([][]*float64, len(matrix)),
		}
		for i, row := range matrix {
			out.Values[i] = make([]*float64, len(row))
			for j := range row {
				if valid[i][j] {
					out.Values[i][j] = &row[j]
				}
			}
		}
		return nil
	})
	return out, err
}

// PCA validates the dataset, then analyzes its measurement table. Fatal
// validation issues abort with a ValidationFailure error carrying them. A
// non-positive maxComponents uses the configured default.
func (s *Service) PCA(ctx context.Context, id string, maxComponents int) (*PCAResult, error) {
	d, err := s.dataset(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.gate(d, "PCA"); err != nil {
		return nil, err
	}
	if maxComponents <= 0 {
		maxComponents = s.cfg.DefaultMaxComponents
	}

	f, err := s.detach(d)
	if err != nil {
		return nil, err
	}
	defer f.Release()

	res, err := s.analyzer.PCA(ctx, f, maxComponents)
	if err != nil {
		s.logger.Warn("pca failed", "id", id, "error", err)
		return nil, err
	}

	md, err := d.SampleMetadata(s.materializer)
	if err != nil {
		return nil, err
	}
	res.Labels = md.Labels()
	s.logger.Info("pca computed", "id", id, "components", res.Components(), "samples", f.Len())
	return res, nil
}

// PCAOverview renders the PCA overview plot as PNG. It needs an analyzer
// that renders images.
func (s *Service) PCAOverview(ctx context.Context, id string) ([]byte, error) {
	r, ok := s.analyzer.(analysis.Renderer)
	if !ok {
		return nil, errors.NewInvalidInputError("PCAOverview", "the analysis backend does not render plots").
			WithHint("set opencpu_url")
	}
	d, err := s.dataset(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.gate(d, "PCAOverview"); err != nil {
		return nil, err
	}

	f, err := s.detach(d)
	if err != nil {
		return nil, err
	}
	defer f.Release()
	return r.Image(ctx, "pca_overview_plot", f)
}

// Download writes the raw table as uploaded.
func (s *Service) Download(ctx context.Context, id string, w io.Writer) error {
	d, err := s.dataset(ctx, id)
	if err != nil {
		return err
	}
	return mio.NewCSVWriter(w, mio.DefaultCSVOptions()).Write(d.Table())
}

// ExportMeasurement writes the measurement table in the given format.
func (s *Service) ExportMeasurement(ctx context.Context, id string, w io.Writer, format ExportFormat) error {
	var fw mio.FrameWriter
	switch format {
	case FormatCSV:
		fw = mio.NewCSVWriter(w, mio.DefaultCSVOptions())
	case FormatJSON:
		fw = mio.NewJSONWriter(w, mio.DefaultJSONOptions())
	case FormatParquet:
		fw = mio.NewParquetWriter(w, mio.DefaultParquetOptions())
	default:
		_, err := ParseExportFormat(string(format))
		return err
	}

	d, err := s.dataset(ctx, id)
	if err != nil {
		return err
	}
	return s.withMeasurement(d, fw.WriteFrame)
}

// dataset returns the in-memory dataset, loading it from the store on
// first access.
func (s *Service) dataset(ctx context.Context, id string) (*dataset.Dataset, error) {
	s.mu.Lock()
	d, ok := s.sessions[id]
	s.mu.Unlock()
	if ok {
		return d, nil
	}

	rec, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	d, err = dataset.Restore(rec.Snapshot())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[id]; ok {
		d.Close()
		return existing, nil
	}
	s.sessions[id] = d
	s.logger.Debug("dataset loaded", "id", id)
	return d, nil
}

// mutate applies fn to a dataset and saves the result, returning the state
// before the edit. Edits are serialized. When the save fails the dataset is
// reverted, so the session never shows a change the store does not hold.
func (s *Service) mutate(ctx context.Context, id string, fn func(*dataset.Dataset) error) (*dataset.Dataset, dataset.Snapshot, error) {
	d, err := s.dataset(ctx, id)
	if err != nil {
		return nil, dataset.Snapshot{}, err
	}

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	before := d.Snapshot()
	if err := fn(d); err != nil {
		return nil, before, err
	}
	after := d.Snapshot()
	if !dataset.SameInput(before, after) {
		// The edit dropped the cached measurement table.
		s.tracker.Forget(id)
	}
	if err := s.save(ctx, after); err != nil {
		if rerr := d.Revert(before); rerr != nil {
			s.logger.Error("reverting dataset failed", "id", id, "error", rerr)
		}
		s.logger.Warn("edit discarded", "id", id, "error", err)
		return nil, before, err
	}
	return d, before, nil
}

func (s *Service) edit(ctx context.Context, id string, fn func(*dataset.Dataset) error) error {
	_, _, err := s.mutate(ctx, id, fn)
	return err
}

// save writes snap to the store. Callers hold saveMu so the stored state
// never regresses.
func (s *Service) save(ctx context.Context, snap dataset.Snapshot) error {
	if err := s.store.Save(ctx, storage.FromSnapshot(snap)); err != nil {
		return fmt.Errorf("saving dataset %s: %w", snap.ID, err)
	}
	return nil
}

func (s *Service) gate(d *dataset.Dataset, op string) error {
	issues, err := d.Validate(s.cfg.MissingDataThreshold)
	if err != nil {
		return err
	}
	return validation.Failure(op, issues)
}

// detach copies the measurement table so analysis runs without holding the
// dataset lock.
func (s *Service) detach(d *dataset.Dataset) (*frame.Frame, error) {
	var out *frame.Frame
	err := s.withMeasurement(d, func(f *frame.Frame) error {
		var err error
		out, err = f.Clone(s.mem)
		return err
	})
	return out, err
}

// withMeasurement runs fn on the cached measurement table and accounts for
// its memory. Evicting a dataset only drops its cache.
func (s *Service) withMeasurement(d *dataset.Dataset, fn func(*frame.Frame) error) error {
	var bytes int64 = -1
	err := d.WithMeasurement(s.materializer, func(f *frame.Frame) error {
		bytes = memtrack.FrameBytes(f.Len(), f.Width())
		return fn(f)
	})
	if bytes >= 0 {
		s.tracker.Touch(d.ID(), bytes, d.Close)
	}
	return err
}

func info(d *dataset.Dataset) *Info {
	snap := d.Snapshot()
	return &Info{
		ID:        snap.ID,
		Name:      snap.Name,
		Meta:      snap.Meta,
		Rows:      snap.Table.Rows(),
		Columns:   snap.Table.Columns(),
		Roles:     snap.Roles,
		Pipeline:  snap.Config,
		CreatedAt: snap.CreatedAt,
	}
}
