// Package telemetry wraps OpenTelemetry tracing and RED (rate/errors/
// duration) metrics for the Integration Service's per-operation
// span/duration metric (§4.9). The Daemon Runtime's lifecycle events are
// not traced: pkg/daemon does not use this package.
//
// Unlike the teacher's observability package this carries no OTLP
// exporter: this daemon doesn't ship a collector integration, so spans and
// metrics are recorded against an in-process SDK provider with no
// configured reader/exporter attached. A deployment that wants the data
// off-box can attach its own exporter to the *sdktrace.TracerProvider /
// *sdkmetric.MeterProvider this package constructs.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Provider owns the tracer and meter instruments agentd records against.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	operationDur   metric.Float64Histogram
	operationErr   metric.Int64Counter
}

// New constructs a Provider scoped to serviceName. Instrumentation calls
// are safe even if instrument creation fails (they become no-ops), since a
// daemon should never fail to run because its telemetry couldn't init.
func New(serviceName string) *Provider {
	tp := sdktrace.NewTracerProvider()
	mp := sdkmetric.NewMeterProvider()

	p := &Provider{
		tracerProvider: tp,
		meterProvider:  mp,
		tracer:         tp.Tracer(serviceName),
	}

	meter := mp.Meter(serviceName)
	p.operationDur, _ = meter.Float64Histogram(
		"agentd.operation.duration",
		metric.WithDescription("Integration operation execution duration in seconds"),
		metric.WithUnit("s"),
	)
	p.operationErr, _ = meter.Int64Counter(
		"agentd.operation.errors",
		metric.WithDescription("Integration operation execution failures"),
	)
	return p
}

// StartOperation begins a span for one integration operation call and
// returns a context carrying it plus a function to call when the
// operation finishes, which ends the span and records the duration/error
// metrics.
func (p *Provider) StartOperation(ctx context.Context, integrationID, operation string) (context.Context, func(err error)) {
	if p == nil {
		return ctx, func(error) {}
	}

	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "integration.execute",
		trace.WithAttributes(
			attribute.String("agentd.integration_id", integrationID),
			attribute.String("agentd.operation", operation),
		),
	)

	return ctx, func(err error) {
		duration := time.Since(start).Seconds()
		attrs := metric.WithAttributes(
			attribute.String("agentd.integration_id", integrationID),
			attribute.String("agentd.operation", operation),
		)
		if p.operationDur != nil {
			p.operationDur.Record(ctx, duration, attrs)
		}
		if err != nil {
			span.RecordError(err)
			if p.operationErr != nil {
				p.operationErr.Add(ctx, 1, attrs)
			}
		}
		span.End()
	}
}

// Tracer exposes the underlying tracer (the global "agentd" tracer for a nil
// Provider).
func (p *Provider) Tracer() trace.Tracer {
	if p == nil {
		return otel.Tracer("agentd")
	}
	return p.tracer
}

// Shutdown flushes and releases the underlying providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	if err := p.tracerProvider.Shutdown(ctx); err != nil {
		return err
	}
	return p.meterProvider.Shutdown(ctx)
}
