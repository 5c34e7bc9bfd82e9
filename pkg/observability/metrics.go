package observability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricUnitsDecompiled  = "srcforge.units.decompiled"
	metricUnitsSkipped     = "srcforge.units.skipped"
	metricUnitsRegenerated = "srcforge.units.regenerated"
	metricLinesRewritten   = "srcforge.lines.rewritten"
	metricProgressMessages = "srcforge.progress.messages"
	metricRunDuration      = "srcforge.run.duration.seconds"

	attrDecompiler = "decompiler"
	attrIsolation  = "isolation"
	attrStatus     = "status"
)

// durationBucketBoundaries covers 10ms to 30 minutes, from a handful of
// classes to a full platform jar.
var durationBucketBoundaries = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800}

// RunStats is what one orchestrated run reports to RecordRun.
type RunStats struct {
	Decompiler       string
	Isolation        string
	Status           string
	Units            int
	Skipped          int
	Regenerated      int
	LinesRewritten   int
	ProgressMessages int
	Duration         time.Duration
}

// RunMetrics holds the OTel instruments for decompile runs.
type RunMetrics struct {
	unitsDecompiled  metric.Int64Counter
	unitsSkipped     metric.Int64Counter
	unitsRegenerated metric.Int64Counter
	linesRewritten   metric.Int64Counter
	progressMessages metric.Int64Counter
	runDuration      metric.Float64Histogram
}

// NewRunMetrics creates run instruments from the given meter.
func NewRunMetrics(mt metric.Meter) (*RunMetrics, error) {
	var (
		rm   RunMetrics
		errs [6]error
	)

	rm.unitsDecompiled, errs[0] = newCounter(mt, metricUnitsDecompiled, "Compiled units handed to a decompiler", "{unit}")
	rm.unitsSkipped, errs[1] = newCounter(mt, metricUnitsSkipped, "Units reused from the previous run", "{unit}")
	rm.unitsRegenerated, errs[2] = newCounter(mt, metricUnitsRegenerated, "Units regenerated by an incremental run", "{unit}")
	rm.linesRewritten, errs[3] = newCounter(mt, metricLinesRewritten, "Line number table entries rewritten", "{line}")
	rm.progressMessages, errs[4] = newCounter(mt, metricProgressMessages, "Progress messages received from workers", "{message}")

	rm.runDuration, errs[5] = mt.Float64Histogram(metricRunDuration,
		metric.WithDescription("Decompile run duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBucketBoundaries...),
	)
	if errs[5] != nil {
		errs[5] = fmt.Errorf("create %s: %w", metricRunDuration, errs[5])
	}

	err := errors.Join(errs[:]...)
	if err != nil {
		return nil, err
	}

	return &rm, nil
}

func newCounter(mt metric.Meter, name, desc, unit string) (metric.Int64Counter, error) {
	counter, err := mt.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", name, err)
	}

	return counter, nil
}

// RecordRun records one finished run. A nil receiver records nothing.
func (rm *RunMetrics) RecordRun(ctx context.Context, s RunStats) {
	if rm == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String(attrDecompiler, s.Decompiler),
		attribute.String(attrIsolation, s.Isolation),
	)

	rm.unitsDecompiled.Add(ctx, int64(s.Units), attrs)
	rm.unitsSkipped.Add(ctx, int64(s.Skipped), attrs)
	rm.unitsRegenerated.Add(ctx, int64(s.Regenerated), attrs)
	rm.linesRewritten.Add(ctx, int64(s.LinesRewritten), attrs)
	rm.progressMessages.Add(ctx, int64(s.ProgressMessages), attrs)

	rm.runDuration.Record(ctx, s.Duration.Seconds(), metric.WithAttributes(
		attribute.String(attrDecompiler, s.Decompiler),
		attribute.String(attrIsolation, s.Isolation),
		attribute.String(attrStatus, s.Status),
	))
}
