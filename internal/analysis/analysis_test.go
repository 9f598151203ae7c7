package analysis_test

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paveg/metabulo/internal/analysis"
	"github.com/paveg/metabulo/internal/errors"
	"github.com/paveg/metabulo/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastClient(url string) *analysis.OpenCPUClient {
	return analysis.NewOpenCPUClient(url, "metabulo",
		analysis.WithRetry(3, time.Millisecond, 5*time.Millisecond),
		analysis.WithTimeout(2*time.Second))
}

func TestOpenCPUPCA(t *testing.T) {
	mem := testutil.SetupMemoryTest(t)
	defer mem.Release()
	f := testutil.CreateTestFrame(t, mem.Allocator, [][]float64{{1, 2}, {3, math.NaN()}, {5, 7}})
	defer f.Release()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/ocpu/library/metabulo/R/pca/json", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.True(t, strings.HasPrefix(r.Header.Get("User-Agent"), "metabulo/"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"x": [[-1.5, 0.1, 0.0], [0.2, -0.3, 0.0], [1.3, 0.2, 0.0]],
			"sdev": [3, 1, 0],
			"rotation": [[0.8, -0.6, 0], [0.6, 0.8, 0]]
		}`))
	}))
	defer srv.Close()

	res, err := fastClient(srv.URL+"/ocpu/").PCA(context.Background(), f, 2)
	require.NoError(t, err)

	assert.Equal(t, []string{"r1", "r2", "r3"}, res.Rows)
	assert.Equal(t, 2, res.Components())
	assert.InDelta(t, 0.9, res.ExplainedVariance[0], 1e-12)
	assert.InDelta(t, 0.1, res.ExplainedVariance[1], 1e-12)
	assert.Equal(t, [][]float64{{-1.5, 0.1}, {0.2, -0.3}, {1.3, 0.2}}, res.Scores)
	assert.Equal(t, [][]float64{{0.8, 0.6}, {-0.6, 0.8}}, res.Loadings)

	assert.Equal(t, []any{"c1", "c2"}, got["columns"])
	assert.Equal(t, float64(2), got["max_components"])
	measures := got["measures"].([]any)
	assert.Nil(t, measures[1].([]any)[1], "missing values are sent as null")
}

func TestOpenCPURetriesServerErrors(t *testing.T) {
	mem := testutil.SetupMemoryTest(t)
	defer mem.Release()
	f := testutil.CreateTestFrame(t, mem.Allocator, [][]float64{{1}, {2}})
	defer f.Release()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"x": [[-0.7], [0.7]], "sdev": [1]}`))
	}))
	defer srv.Close()

	res, err := fastClient(srv.URL).PCA(context.Background(), f, 5)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []float64{1}, res.ExplainedVariance)
}

func TestOpenCPURemoteRejection(t *testing.T) {
	mem := testutil.SetupMemoryTest(t)
	defer mem.Release()
	f := testutil.CreateTestFrame(t, mem.Allocator, [][]float64{{1}, {2}})
	defer f.Release()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "R error: infinite or missing values in 'x'", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := fastClient(srv.URL).PCA(context.Background(), f, 2)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "client errors are not retried")
	assert.ErrorIs(t, err, errors.ErrExternalService)
	assert.ErrorIs(t, err, errors.ErrRemoteRejection)
	assert.NotErrorIs(t, err, errors.ErrConnectivity)

	var e *errors.Error
	require.True(t, stderrors.As(err, &e))
	assert.Equal(t, http.StatusBadRequest, e.StatusCode)
	assert.Contains(t, e.Body, "missing values")

	t.Run("exhausted retries surface the last status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "down", http.StatusBadGateway)
		}))
		defer srv.Close()

		_, err := fastClient(srv.URL).PCA(context.Background(), f, 2)
		assert.ErrorIs(t, err, errors.ErrRemoteRejection)
	})

	t.Run("undecodable body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("<html>"))
		}))
		defer srv.Close()

		_, err := fastClient(srv.URL).PCA(context.Background(), f, 2)
		assert.ErrorIs(t, err, errors.ErrRemoteRejection)
	})
}

func TestOpenCPUConnectivityFailure(t *testing.T) {
	mem := testutil.SetupMemoryTest(t)
	defer mem.Release()
	f := testutil.CreateTestFrame(t, mem.Allocator, [][]float64{{1}, {2}})
	defer f.Release()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := fastClient(url).PCA(context.Background(), f, 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrExternalService)
	assert.ErrorIs(t, err, errors.ErrConnectivity)
	assert.NotErrorIs(t, err, errors.ErrRemoteRejection)

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := fastClient(url).PCA(ctx, f, 2)
		assert.ErrorIs(t, err, errors.ErrConnectivity)
	})
}

func TestOpenCPUImage(t *testing.T) {
	mem := testutil.SetupMemoryTest(t)
	defer mem.Release()
	f := testutil.CreateTestFrame(t, mem.Allocator, [][]float64{{1}, {2}})
	defer f.Release()

	png := []byte{0x89, 'P', 'N', 'G'}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/library/metabulo/R/pca_overview_plot/png", r.URL.Path)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	}))
	defer srv.Close()

	img, err := fastClient(srv.URL).Image(context.Background(), "/pca_overview_plot", f)
	require.NoError(t, err)
	assert.Equal(t, png, img)
}

func TestLocalPCA(t *testing.T) {
	mem := testutil.SetupMemoryTest(t)
	defer mem.Release()

	t.Run("perfectly correlated columns", func(t *testing.T) {
		f := testutil.CreateTestFrame(t, mem.Allocator, [][]float64{{1, 2}, {2, 4}, {3, 6}})
		defer f.Release()

		res, err := analysis.NewLocalPCA().PCA(context.Background(), f, 5)
		require.NoError(t, err)

		require.Equal(t, 1, res.Components())
		assert.InDelta(t, 1, res.ExplainedVariance[0], 1e-9)
		assert.InDelta(t, 1/math.Sqrt(5), res.Loadings[0][0], 1e-9)
		assert.InDelta(t, 2/math.Sqrt(5), res.Loadings[0][1], 1e-9)
		assert.InDelta(t, -math.Sqrt(5), res.Scores[0][0], 1e-9)
		assert.InDelta(t, 0, res.Scores[1][0], 1e-9)
	})

	t.Run("explained variance sums to one", func(t *testing.T) {
		f := testutil.CreateTestFrame(t, mem.Allocator, [][]float64{
			{2.5, 2.4, 0.5}, {0.5, 0.7, 1.1}, {2.2, 2.9, 0.3},
			{1.9, 2.2, 0.9}, {3.1, 3.0, 0.2}, {2.3, 2.7, 0.8},
		})
		defer f.Release()

		res, err := analysis.NewLocalPCA().PCA(context.Background(), f, 0)
		require.NoError(t, err)
		require.Equal(t, 3, res.Components())

		sum := 0.0
		for i, v := range res.ExplainedVariance {
			sum += v
			if i > 0 {
				assert.LessOrEqual(t, v, res.ExplainedVariance[i-1]+1e-12)
			}
		}
		assert.InDelta(t, 1, sum, 1e-6)

		limited, err := analysis.NewLocalPCA().PCA(context.Background(), f, 2)
		require.NoError(t, err)
		assert.Equal(t, 2, limited.Components())
		assert.InDelta(t, res.Scores[0][0], limited.Scores[0][0], 1e-9)
	})

	t.Run("rejects missing values", func(t *testing.T) {
		f := testutil.CreateTestFrame(t, mem.Allocator, [][]float64{{1}, {math.NaN()}})
		defer f.Release()

		_, err := analysis.NewLocalPCA().PCA(context.Background(), f, 2)
		assert.ErrorIs(t, err, errors.ErrInvalidInput)
	})

	t.Run("rejects a single sample", func(t *testing.T) {
		f := testutil.CreateTestFrame(t, mem.Allocator, [][]float64{{1, 2}})
		defer f.Release()

		_, err := analysis.NewLocalPCA().PCA(context.Background(), f, 2)
		assert.ErrorIs(t, err, errors.ErrInvalidInput)
	})
}
