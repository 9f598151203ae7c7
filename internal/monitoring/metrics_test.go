package monitoring_test

import (
	"errors"
	"testing"

	"github.com/paveg/metabulo/internal/monitoring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCollector(t *testing.T) {
	t.Run("disabled collector only runs fn", func(t *testing.T) {
		mc := monitoring.NewMetricsCollector(false)
		called := false

		err := mc.RecordOperation("normalization", 2, 4, false, func() error {
			called = true
			return nil
		})

		require.NoError(t, err)
		assert.True(t, called)
		assert.Empty(t, mc.GetMetrics())
	})

	t.Run("records operations and failures", func(t *testing.T) {
		mc := monitoring.NewMetricsCollector(true)

		require.NoError(t, mc.RecordOperation("scaling", 10, 40, true, func() error { return nil }))
		err := mc.RecordOperation("transformation", 10, 40, false, func() error { return errors.New("boom") })
		require.Error(t, err)

		metrics := mc.GetMetrics()
		require.Len(t, metrics, 2)
		assert.Equal(t, "scaling", metrics[0].Operation)
		assert.True(t, metrics[0].Parallel)
		assert.Equal(t, int64(40), metrics[0].CellsTouched)
		assert.True(t, metrics[1].Failed)

		summary := mc.GetSummary()
		assert.Equal(t, 2, summary.TotalOperations)
		assert.Equal(t, int64(20), summary.TotalRows)
		assert.Equal(t, 1, summary.Failures)
		assert.Equal(t, []string{"scaling", "transformation"}, summary.Operations())
	})

	t.Run("clear and toggle", func(t *testing.T) {
		mc := monitoring.NewMetricsCollector(true)
		require.NoError(t, mc.RecordOperation("x", 0, 0, false, func() error { return nil }))
		mc.Clear()
		assert.Empty(t, mc.GetMetrics())

		mc.SetEnabled(false)
		assert.False(t, mc.IsEnabled())
		assert.Equal(t, monitoring.MetricsSummary{}, mc.GetSummary())
	})

	t.Run("nil collector is inert", func(t *testing.T) {
		var mc *monitoring.MetricsCollector

		assert.False(t, mc.IsEnabled())
		assert.NoError(t, mc.RecordOperation("x", 0, 0, false, func() error { return nil }))
		assert.Nil(t, mc.GetMetrics())
		mc.Clear()
		mc.SetEnabled(true)
	})
}
