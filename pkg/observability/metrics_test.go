package observability_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/Sumatoshi-tech/srcforge/pkg/observability"
)

func setupTestMeter(t *testing.T) (*observability.RunMetrics, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	rm, err := observability.NewRunMetrics(mp.Meter("test"))
	require.NoError(t, err)

	return rm, reader
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()

	var rm metricdata.ResourceMetrics

	err := reader.Collect(context.Background(), &rm)
	require.NoError(t, err)

	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for idx := range rm.ScopeMetrics {
		for midx := range rm.ScopeMetrics[idx].Metrics {
			if rm.ScopeMetrics[idx].Metrics[midx].Name == name {
				return &rm.ScopeMetrics[idx].Metrics[midx]
			}
		}
	}

	return nil
}

func counterValue(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()

	m := findMetric(rm, name)
	require.NotNil(t, m, "%s metric not found", name)

	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "%s is not an int64 sum", name)

	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}

	return total
}

func TestRunMetrics_RecordRun(t *testing.T) {
	t.Parallel()

	runMetrics, reader := setupTestMeter(t)
	ctx := context.Background()

	stats := observability.RunStats{
		Decompiler:       "outline",
		Isolation:        "in-process",
		Status:           "ok",
		Units:            3,
		Skipped:          2,
		Regenerated:      1,
		LinesRewritten:   4,
		ProgressMessages: 5,
		Duration:         250 * time.Millisecond,
	}

	runMetrics.RecordRun(ctx, stats)
	runMetrics.RecordRun(ctx, stats)

	rm := collectMetrics(t, reader)

	assert.Equal(t, int64(6), counterValue(t, rm, "srcforge.units.decompiled"))
	assert.Equal(t, int64(4), counterValue(t, rm, "srcforge.units.skipped"))
	assert.Equal(t, int64(2), counterValue(t, rm, "srcforge.units.regenerated"))
	assert.Equal(t, int64(8), counterValue(t, rm, "srcforge.lines.rewritten"))
	assert.Equal(t, int64(10), counterValue(t, rm, "srcforge.progress.messages"))

	duration := findMetric(rm, "srcforge.run.duration.seconds")
	require.NotNil(t, duration)

	hist, ok := duration.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(2), hist.DataPoints[0].Count)
}

func TestRunMetrics_NilIsNoop(t *testing.T) {
	t.Parallel()

	var runMetrics *observability.RunMetrics

	assert.NotPanics(t, func() {
		runMetrics.RecordRun(context.Background(), observability.RunStats{Units: 1})
	})
}

func TestNewRunMetrics_WithNoopMeter(t *testing.T) {
	t.Parallel()

	providers, err := observability.Init(observability.DefaultConfig())
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, providers.Shutdown(context.Background())) })

	runMetrics, err := observability.NewRunMetrics(providers.Meter)
	require.NoError(t, err)
	assert.NotNil(t, runMetrics)

	runMetrics.RecordRun(context.Background(), observability.RunStats{Status: "ok", Duration: time.Millisecond})
}
