package storage_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/paveg/metabulo/internal/dataset"
	"github.com/paveg/metabulo/internal/errors"
	"github.com/paveg/metabulo/internal/pipeline"
	"github.com/paveg/metabulo/internal/roles"
	"github.com/paveg/metabulo/internal/storage"
	"github.com/paveg/metabulo/internal/table"
	"github.com/paveg/metabulo/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	s, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "metabulo.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func stores(t *testing.T) map[string]storage.Store {
	return map[string]storage.Store{
		"memory": storage.NewMemoryStore(),
		"sqlite": openSQLite(t),
	}
}

func sampleRecord(id string, created time.Time) *storage.Record {
	tbl := testutil.SimpleTable()
	a, _ := roles.ApplyBatch(roles.ClassifyDefault(tbl), []roles.Change{roles.ColumnChange(2, roles.ColumnMetadata)})
	return &storage.Record{
		ID:        id,
		Name:      "simple " + id,
		Meta:      map[string]any{"owner": "lab", "runs": 3.0},
		Table:     tbl,
		Roles:     a,
		Config:    pipeline.Config{ImputationMCAR: "knn", Scaling: "pareto"},
		CreatedAt: created,
	}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			rec := sampleRecord("b", t0)
			require.NoError(t, s.Save(ctx, rec))
			require.NoError(t, s.Save(ctx, sampleRecord("a", t0.Add(time.Hour))))

			t.Run("load round trip", func(t *testing.T) {
				got, err := s.Load(ctx, "b")
				require.NoError(t, err)
				assert.Equal(t, rec.Name, got.Name)
				assert.Equal(t, rec.Meta, got.Meta)
				assert.True(t, rec.Table.Equal(got.Table))
				assert.True(t, rec.Roles.Equal(got.Roles))
				assert.Equal(t, rec.Config, got.Config)
				assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
			})

			t.Run("loaded record is a copy", func(t *testing.T) {
				got, err := s.Load(ctx, "b")
				require.NoError(t, err)
				got.Roles.Columns[1] = roles.ColumnIgnore
				got.Meta["owner"] = "other"

				again, err := s.Load(ctx, "b")
				require.NoError(t, err)
				assert.True(t, rec.Roles.Equal(again.Roles))
				assert.Equal(t, "lab", again.Meta["owner"])
			})

			t.Run("save replaces", func(t *testing.T) {
				updated := sampleRecord("b", t0)
				updated.Name = "renamed"
				updated.Config = pipeline.Config{}
				updated.Table = table.New([][]string{{"id", "x"}, {"s", "1"}, {"t", "2"}, {"u", "3"}})
				updated.Roles = roles.ClassifyDefault(updated.Table)
				require.NoError(t, s.Save(ctx, updated))

				got, err := s.Load(ctx, "b")
				require.NoError(t, err)
				assert.Equal(t, "renamed", got.Name)
				assert.True(t, got.Config.IsIdentity())
				assert.Equal(t, 4, got.Table.Rows())
				assert.Len(t, got.Roles.Rows, 4)
			})

			t.Run("list", func(t *testing.T) {
				list, err := s.List(ctx)
				require.NoError(t, err)
				require.Len(t, list, 2)
				assert.Equal(t, "b", list[0].ID)
				assert.Equal(t, "a", list[1].ID)
				assert.Equal(t, 3, list[1].Rows)
				assert.Equal(t, 3, list[1].Columns)
			})

			t.Run("delete", func(t *testing.T) {
				require.NoError(t, s.Delete(ctx, "a"))
				_, err := s.Load(ctx, "a")
				assert.ErrorIs(t, err, errors.ErrNotFound)
				assert.ErrorIs(t, s.Delete(ctx, "a"), errors.ErrNotFound)
			})

			t.Run("invalid records", func(t *testing.T) {
				assert.ErrorIs(t, s.Save(ctx, nil), errors.ErrInvalidInput)
				bad := sampleRecord("", t0)
				assert.ErrorIs(t, s.Save(ctx, bad), errors.ErrInvalidInput)
				bad = sampleRecord("c", t0)
				bad.Roles = roles.NewAssignment(1, 1)
				assert.ErrorIs(t, s.Save(ctx, bad), errors.ErrInvalidInput)
			})
		})
	}
}

func TestSQLiteDeleteCascades(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)

	require.NoError(t, s.Save(ctx, sampleRecord("x", time.Now())))
	n, err := s.CountRoles(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	require.NoError(t, s.Delete(ctx, "x"))
	n, err = s.CountRoles(ctx, "x")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	s, err := storage.OpenSQLite(ctx, path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, sampleRecord("keep", time.Now())))
	require.NoError(t, s.Close())

	s, err = storage.OpenSQLite(ctx, path, nil)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Load(ctx, "keep")
	require.NoError(t, err)
	assert.Equal(t, "knn", got.Config.ImputationMCAR)
}

func TestSnapshotConversion(t *testing.T) {
	d := dataset.New("id-1", "ds", testutil.SimpleTable())
	defer d.Close()
	require.NoError(t, d.SetScaling(nil, "auto"))

	rec := storage.FromSnapshot(d.Snapshot())
	assert.Equal(t, "id-1", rec.ID)
	assert.Equal(t, "auto", rec.Config.Scaling)

	restored, err := dataset.Restore(rec.Snapshot())
	require.NoError(t, err)
	defer restored.Close()
	assert.True(t, restored.Roles().Equal(d.Roles()))
}
