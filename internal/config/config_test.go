package config_test

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/paveg/metabulo/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_DefaultValues(t *testing.T) {
	cfg := config.NewConfig()

	assert.Equal(t, 100000, cfg.ParallelThreshold)
	assert.Equal(t, 0, cfg.WorkerPoolSize) // 0 means auto-detect
	assert.InDelta(t, 0.5, cfg.MissingDataThreshold, 0.001)
	assert.Equal(t, 5, cfg.DefaultMaxComponents)
	assert.Equal(t, "metabulo", cfg.OpenCPUPackage)
	assert.Equal(t, 3, cfg.RetryMaxAttempts)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.MetricsCollection)
	assert.Equal(t, 512, cfg.CacheLimitMB)
	assert.Equal(t, int64(512<<20), cfg.CacheLimitBytes())
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validation(t *testing.T) {
	valid := config.NewConfig()

	tests := []struct {
		name          string
		mutate        func(*config.Config)
		expectedError string
	}{
		{"valid config", func(*config.Config) {}, ""},
		{
			"negative parallel threshold",
			func(c *config.Config) { c.ParallelThreshold = -1 },
			"ParallelThreshold must be positive, got -1",
		},
		{
			"negative worker pool size",
			func(c *config.Config) { c.WorkerPoolSize = -1 },
			"WorkerPoolSize must be non-negative, got -1",
		},
		{
			"negative cache limit",
			func(c *config.Config) { c.CacheLimitMB = -1 },
			"CacheLimitMB must be non-negative, got -1",
		},
		{
			"missing data threshold out of range",
			func(c *config.Config) { c.MissingDataThreshold = 1.5 },
			"MissingDataThreshold must be between 0 and 1, got 1.500000",
		},
		{
			"zero components",
			func(c *config.Config) { c.DefaultMaxComponents = 0 },
			"DefaultMaxComponents must be positive, got 0",
		},
		{
			"bad log level",
			func(c *config.Config) { c.LogLevel = "loud" },
			`unknown log level "loud"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.expectedError == "" {
				assert.NoError(t, err)
			} else {
				assert.EqualError(t, err, tt.expectedError)
			}
		})
	}
}

func TestConfig_LoadFromJSON(t *testing.T) {
	cfg, err := config.LoadFromJSON([]byte(`{
		"parallel_threshold": 2000,
		"worker_pool_size": 8,
		"opencpu_url": "http://localhost:8004",
		"metrics_collection": true
	}`))
	require.NoError(t, err)

	assert.Equal(t, 2000, cfg.ParallelThreshold)
	assert.Equal(t, 8, cfg.WorkerPoolSize)
	assert.Equal(t, "http://localhost:8004", cfg.OpenCPUURL)
	assert.True(t, cfg.MetricsCollection)
	assert.Equal(t, config.DefaultRetryMaxAttempts, cfg.RetryMaxAttempts)
}

func TestConfig_InvalidJSON(t *testing.T) {
	_, err := config.LoadFromJSON([]byte(`{invalid`))
	assert.Error(t, err)
}

func TestConfig_LoadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("parallel_threshold: 1500\nlog_level: debug\nstorage_path: /tmp/x.db\n"), 0o600))

	cfg, err := config.LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 1500, cfg.ParallelThreshold)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/tmp/x.db", cfg.StoragePath)
}

func TestConfig_UnsupportedFileFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("x = 1"), 0o600))

	_, err := config.LoadFromFile(path)
	assert.EqualError(t, err, "unsupported config file format: .toml")
}

func TestConfig_LoadFromNonExistentFile(t *testing.T) {
	_, err := config.LoadFromFile("/nonexistent/config.json")
	assert.Error(t, err)
}

func TestConfig_Load(t *testing.T) {
	t.Run("defaults without file", func(t *testing.T) {
		cfg, err := config.Load("")
		require.NoError(t, err)
		assert.Equal(t, config.NewConfig().RetryMaxAttempts, cfg.RetryMaxAttempts)
	})

	t.Run("file then env", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "metabulo.yaml")
		require.NoError(t, os.WriteFile(path, []byte("retry_max_attempts: 7\nopencpu_url: http://file\n"), 0o600))
		t.Setenv("METABULO_OPENCPU_URL", "http://env")

		cfg, err := config.Load(path)
		require.NoError(t, err)
		assert.Equal(t, 7, cfg.RetryMaxAttempts)
		assert.Equal(t, "http://env", cfg.OpenCPUURL)
	})

	t.Run("invalid values rejected", func(t *testing.T) {
		t.Setenv("METABULO_MISSING_DATA_THRESHOLD", "3")
		_, err := config.Load("")
		assert.Error(t, err)
	})
}

func TestConfig_SaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := config.NewConfig()
	cfg.OpenCPUURL = "http://ocpu:8004"

	require.NoError(t, config.Save(cfg, path))
	loaded, err := config.LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestConfig_ZeroMissingDataThreshold(t *testing.T) {
	cfg := config.NewConfig()
	cfg.MissingDataThreshold = 0
	assert.Zero(t, cfg.WithDefaults().MissingDataThreshold)

	loaded, err := config.LoadFromJSON([]byte(`{"missing_data_threshold": 0}`))
	require.NoError(t, err)
	assert.Zero(t, loaded.MissingDataThreshold)

	loaded, err = config.LoadFromJSON([]byte(`{}`))
	require.NoError(t, err)
	assert.InDelta(t, config.DefaultMissingDataThreshold, loaded.MissingDataThreshold, 1e-12)

	path := filepath.Join(t.TempDir(), "strict.yaml")
	require.NoError(t, os.WriteFile(path, []byte("missing_data_threshold: 0\n"), 0o600))
	loaded, err = config.LoadFromFile(path)
	require.NoError(t, err)
	assert.Zero(t, loaded.MissingDataThreshold)

	t.Setenv("METABULO_MISSING_DATA_THRESHOLD", "0")
	loaded, err = config.Load("")
	require.NoError(t, err)
	assert.Zero(t, loaded.MissingDataThreshold)
}

func TestConfig_WriteYAML(t *testing.T) {
	cfg := config.NewConfig()
	cfg.StoragePath = "data.db"

	var buf bytes.Buffer
	require.NoError(t, config.WriteYAML(cfg, &buf))
	assert.Contains(t, buf.String(), "storage_path: data.db")
	assert.Contains(t, buf.String(), "missing_data_threshold: 0.5")

	path := filepath.Join(t.TempDir(), "written.yaml")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	loaded, err := config.LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestConfig_Durations(t *testing.T) {
	cfg := config.NewConfig()

	assert.Equal(t, 60*time.Second, cfg.HTTPTimeout())
	assert.Equal(t, 500*time.Millisecond, cfg.RetryBaseDelay())
	assert.Equal(t, 4*time.Second, cfg.RetryMaxDelay())
	assert.Positive(t, cfg.Workers())
}

func TestConfig_Level(t *testing.T) {
	cfg := config.NewConfig()
	assert.Equal(t, slog.LevelInfo, cfg.Level())

	cfg.VerboseLogging = true
	assert.Equal(t, slog.LevelDebug, cfg.Level())
}

func TestGlobalConfig_SetAndGet(t *testing.T) {
	original := config.GetGlobalConfig()
	defer config.SetGlobalConfig(original)

	custom := config.NewConfig()
	custom.ParallelThreshold = 42
	config.SetGlobalConfig(custom)

	assert.Equal(t, 42, config.GetGlobalConfig().ParallelThreshold)
}
