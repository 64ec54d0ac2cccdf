package architecture

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("springls.architecture")

var (
	computeDuration metric.Float64Histogram
	computeTotal    metric.Int64Counter
	exportFailures  metric.Int64Counter
	pendingGauge    metric.Int64UpDownCounter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics creates the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		computeDuration, err = meter.Float64Histogram(
			"springls_architecture_compute_duration_seconds",
			metric.WithDescription("Duration of architecture recomputations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		computeTotal, err = meter.Int64Counter(
			"springls_architecture_compute_total",
			metric.WithDescription("Architecture recomputations by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		exportFailures, err = meter.Int64Counter(
			"springls_architecture_export_failures_total",
			metric.WithDescription("Failed exporter runs"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		pendingGauge, err = meter.Int64UpDownCounter(
			"springls_architecture_pending",
			metric.WithDescription("Scheduled recomputations not yet started"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordCompute(ctx context.Context, outcome Outcome, d time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome.String()))
	computeDuration.Record(ctx, d.Seconds(), attrs)
	computeTotal.Add(ctx, 1, attrs)
}

func recordExportFailure(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	exportFailures.Add(ctx, 1)
}

func recordPending(ctx context.Context, delta int64) {
	if err := initMetrics(); err != nil {
		return
	}
	pendingGauge.Add(ctx, delta)
}
