package project

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("springls.project")

var (
	eventsApplied metric.Int64Counter
	fallbacks     metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error
		eventsApplied, err = meter.Int64Counter(
			"springls_classpath_events_total",
			metric.WithDescription("Classpath events applied, by resulting change"),
		)
		if err != nil {
			metricsErr = err
			return
		}
		fallbacks, err = meter.Int64Counter(
			"springls_project_fallback_total",
			metric.WithDescription("Activations of the fallback project source"),
		)
		if err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

func recordEvent(result string) {
	if err := initMetrics(); err != nil {
		return
	}
	eventsApplied.Add(context.Background(), 1, metric.WithAttributes(attribute.String("result", result)))
}

func recordFallback(reason string) {
	if err := initMetrics(); err != nil {
		return
	}
	fallbacks.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}
