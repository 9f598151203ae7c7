package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"github.com/paveg/metabulo/internal/errors"
	"github.com/paveg/metabulo/internal/roles"
	"github.com/paveg/metabulo/internal/table"
)

const schema = `
CREATE TABLE IF NOT EXISTS datasets (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	meta       TEXT NOT NULL DEFAULT '{}',
	config     TEXT NOT NULL DEFAULT '{}',
	cells      TEXT NOT NULL,
	n_rows     INTEGER NOT NULL,
	n_columns  INTEGER NOT NULL,
	table_hash TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS dataset_rows (
	dataset_id TEXT NOT NULL REFERENCES datasets(id) ON DELETE CASCADE,
	idx        INTEGER NOT NULL,
	role       TEXT NOT NULL,
	PRIMARY KEY (dataset_id, idx)
);
CREATE TABLE IF NOT EXISTS dataset_columns (
	dataset_id TEXT NOT NULL REFERENCES datasets(id) ON DELETE CASCADE,
	idx        INTEGER NOT NULL,
	role       TEXT NOT NULL,
	PRIMARY KEY (dataset_id, idx)
);
CREATE INDEX IF NOT EXISTS idx_datasets_created ON datasets(created_at);
`

// SQLiteStore persists records in a SQLite database. Cells are stored as a
// JSON array of rows; roles live in their own tables and cascade on delete.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (or creates) the database at path with foreign keys
// enforced, then creates the schema.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.Init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Init creates the tables if they do not exist.
func (s *SQLiteStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("storage: init schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save inserts or replaces a record and its roles in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, rec *Record) error {
	if err := validateRecord(rec); err != nil {
		return err
	}

	cells, err := json.Marshal(rec.Table.Records())
	if err != nil {
		return fmt.Errorf("storage: encode cells: %w", err)
	}
	meta, err := json.Marshal(metaOrEmpty(rec.Meta))
	if err != nil {
		return errors.NewInvalidInputError("Save", fmt.Sprintf("meta is not serializable: %v", err))
	}
	config, err := json.Marshal(rec.Config)
	if err != nil {
		return fmt.Errorf("storage: encode config: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO datasets (id, name, meta, config, cells, n_rows, n_columns, table_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			meta = excluded.meta,
			config = excluded.config,
			cells = excluded.cells,
			n_rows = excluded.n_rows,
			n_columns = excluded.n_columns,
			table_hash = excluded.table_hash`,
		rec.ID, rec.Name, string(meta), string(config), string(cells),
		rec.Table.Rows(), rec.Table.Columns(), hashString(rec.Table), rec.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("storage: save dataset %s: %w", rec.ID, err)
	}

	for _, q := range []string{
		`DELETE FROM dataset_rows WHERE dataset_id = ?`,
		`DELETE FROM dataset_columns WHERE dataset_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, rec.ID); err != nil {
			return fmt.Errorf("storage: clear roles: %w", err)
		}
	}
	for i, role := range rec.Roles.Rows {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO dataset_rows (dataset_id, idx, role) VALUES (?, ?, ?)`, rec.ID, i, role.String()); err != nil {
			return fmt.Errorf("storage: save row role %d: %w", i, err)
		}
	}
	for j, role := range rec.Roles.Columns {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO dataset_columns (dataset_id, idx, role) VALUES (?, ?, ?)`, rec.ID, j, role.String()); err != nil {
			return fmt.Errorf("storage: save column role %d: %w", j, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit: %w", err)
	}
	s.logger.Debug("dataset saved", "id", rec.ID, "rows", rec.Table.Rows(), "columns", rec.Table.Columns())
	return nil
}

// Load reads a record. A stored table whose content hash no longer matches
// is reported as an internal error.
func (s *SQLiteStore) Load(ctx context.Context, id string) (*Record, error) {
	var (
		rec                 = &Record{ID: id}
		meta, config, cells string
		hash                string
		createdAt           int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT name, meta, config, cells, table_hash, created_at FROM datasets WHERE id = ?`, id).
		Scan(&rec.Name, &meta, &config, &cells, &hash, &createdAt)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("Load", "dataset "+id)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: load dataset %s: %w", id, err)
	}

	var records [][]string
	if err := json.Unmarshal([]byte(cells), &records); err != nil {
		return nil, errors.NewInternalError("Load", fmt.Errorf("decode cells of %s: %w", id, err))
	}
	rec.Table = table.New(records)
	if hashString(rec.Table) != hash {
		return nil, errors.NewInternalError("Load", fmt.Errorf("dataset %s: table content hash mismatch", id))
	}
	if err := json.Unmarshal([]byte(meta), &rec.Meta); err != nil {
		return nil, errors.NewInternalError("Load", fmt.Errorf("decode meta of %s: %w", id, err))
	}
	if err := json.Unmarshal([]byte(config), &rec.Config); err != nil {
		return nil, errors.NewInternalError("Load", fmt.Errorf("decode config of %s: %w", id, err))
	}
	rec.CreatedAt = time.Unix(0, createdAt).UTC()

	rowRoles, err := s.loadRoles(ctx, "dataset_rows", id)
	if err != nil {
		return nil, err
	}
	colRoles, err := s.loadRoles(ctx, "dataset_columns", id)
	if err != nil {
		return nil, err
	}

	rec.Roles = roles.NewAssignment(rec.Table.Rows(), rec.Table.Columns())
	if len(rowRoles) != len(rec.Roles.Rows) || len(colRoles) != len(rec.Roles.Columns) {
		return nil, errors.NewInternalError("Load", fmt.Errorf("dataset %s: roles do not match the table shape", id))
	}
	for i, name := range rowRoles {
		if rec.Roles.Rows[i], err = roles.ParseRowRole(name); err != nil {
			return nil, errors.NewInternalError("Load", err)
		}
	}
	for j, name := range colRoles {
		if rec.Roles.Columns[j], err = roles.ParseColumnRole(name); err != nil {
			return nil, errors.NewInternalError("Load", err)
		}
	}
	return rec, nil
}

func (s *SQLiteStore) loadRoles(ctx context.Context, tableName, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role FROM `+tableName+` WHERE dataset_id = ? ORDER BY idx`, id)
	if err != nil {
		return nil, fmt.Errorf("storage: load %s: %w", tableName, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("storage: scan %s: %w", tableName, err)
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

// Delete removes a record; its roles go with it.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM datasets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("storage: delete dataset %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: delete dataset %s: %w", id, err)
	}
	if n == 0 {
		return errors.NewNotFoundError("Delete", "dataset "+id)
	}
	s.logger.Debug("dataset deleted", "id", id)
	return nil
}

// List returns summaries ordered by creation time, then id.
func (s *SQLiteStore) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, n_rows, n_columns, created_at FROM datasets ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("storage: list datasets: %w", err)
	}
	defer rows.Close()

	out := make([]Summary, 0)
	for rows.Next() {
		var (
			sum       Summary
			createdAt int64
		)
		if err := rows.Scan(&sum.ID, &sum.Name, &sum.Rows, &sum.Columns, &createdAt); err != nil {
			return nil, fmt.Errorf("storage: scan dataset: %w", err)
		}
		sum.CreatedAt = time.Unix(0, createdAt).UTC()
		out = append(out, sum)
	}
	return out, rows.Err()
}

// countRoles returns the number of role rows stored for a dataset.
func (s *SQLiteStore) countRoles(ctx context.Context, id string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM dataset_rows WHERE dataset_id = ?)
		     + (SELECT COUNT(*) FROM dataset_columns WHERE dataset_id = ?)`, id, id).Scan(&n)
	return n, err
}

func hashString(t *table.Table) string {
	return strconv.FormatUint(t.Hash(), 16)
}

func metaOrEmpty(meta map[string]any) map[string]any {
	if meta == nil {
		return map[string]any{}
	}
	return meta
}
