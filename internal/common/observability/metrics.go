// internal/common/observability/metrics.go
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Observability bundles the OpenTelemetry meter and tracer for the engine.
type Observability struct {
	meterProvider  *metric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	meter          otelmetric.Meter
	tracer         trace.Tracer

	operationCounter  otelmetric.Int64Counter
	operationDuration otelmetric.Float64Histogram
}

// New installs a Prometheus-exported meter provider and an in-process tracer
// provider as the global OpenTelemetry providers.
func New(serviceName string) (*Observability, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, err
	}

	mp := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(mp)

	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(0.1))))
	otel.SetTracerProvider(tp)

	o := &Observability{
		meterProvider:  mp,
		tracerProvider: tp,
		meter:          mp.Meter(serviceName),
		tracer:         tp.Tracer(serviceName),
	}
	o.operationCounter, _ = o.meter.Int64Counter(
		"docflow.operations",
		otelmetric.WithDescription("Engine operations by name and outcome"),
	)
	o.operationDuration, _ = o.meter.Float64Histogram(
		"docflow.operation.duration",
		otelmetric.WithDescription("Engine operation duration"),
		otelmetric.WithUnit("ms"),
	)
	return o, nil
}

// NewNoop returns an instance that records nothing, for tests and local runs.
func NewNoop() *Observability {
	return &Observability{tracer: noop.NewTracerProvider().Tracer("noop")}
}

// Tracer returns the engine tracer.
func (o *Observability) Tracer() trace.Tracer {
	if o == nil || o.tracer == nil {
		return noop.NewTracerProvider().Tracer("noop")
	}
	return o.tracer
}

// RecordOperation counts one engine operation and its latency.
func (o *Observability) RecordOperation(ctx context.Context, name string, started time.Time, err error) {
	if o == nil || o.operationCounter == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	attrs := otelmetric.WithAttributes(
		attribute.String("operation", name),
		attribute.String("outcome", outcome),
	)
	o.operationCounter.Add(ctx, 1, attrs)
	o.operationDuration.Record(ctx, float64(time.Since(started).Milliseconds()), attrs)
}

func (o *Observability) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if o.meterProvider != nil {
		_ = o.meterProvider.Shutdown(ctx)
	}
	if o.tracerProvider != nil {
		_ = o.tracerProvider.Shutdown(ctx)
	}
}
