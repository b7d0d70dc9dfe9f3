package core

import (
	"context"
	"errors"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/crmarques/reconctl/config"
	"github.com/crmarques/reconctl/faults"
	"github.com/crmarques/reconctl/reconciler"
)

const instrumentationName = "github.com/crmarques/reconctl"

// Telemetry owns the metrics registry, tracer provider and meter provider of
// one CLI run.
type Telemetry struct {
	registry *prometheus.Registry
	metrics  *reconciler.Metrics
	textfile string
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	meters   *sdkmetric.MeterProvider
	calls    metric.Int64Counter
}

// NewTelemetry always collects metrics in a private registry; spans and
// remote call counts are exported only when an OTLP endpoint is configured.
func NewTelemetry(ctx context.Context, cfg *config.Telemetry) (*Telemetry, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, faults.NewInternalError("failed to register go collector", err)
	}
	metrics, err := reconciler.NewMetrics(registry)
	if err != nil {
		return nil, faults.NewInternalError("failed to register apply metrics", err)
	}

	telemetry := &Telemetry{
		registry: registry,
		metrics:  metrics,
		tracer:   noop.NewTracerProvider().Tracer(instrumentationName),
	}
	if cfg == nil {
		return telemetry, nil
	}
	telemetry.textfile = strings.TrimSpace(cfg.MetricsTextfile)

	endpoint := strings.TrimSpace(cfg.OTLPEndpoint)
	if endpoint == "" {
		return telemetry, nil
	}
	serviceResource := sdkresource.NewSchemaless(attribute.String("service.name", "reconctl"))

	traceOptions := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
	if cfg.OTLPInsecure {
		traceOptions = append(traceOptions, otlptracegrpc.WithInsecure())
	}
	traceExporter, err := otlptracegrpc.New(ctx, traceOptions...)
	if err != nil {
		return nil, faults.NewTransportError("failed to create OTLP trace exporter", err)
	}
	telemetry.provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(serviceResource),
	)
	telemetry.tracer = telemetry.provider.Tracer(instrumentationName)

	metricOptions := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(endpoint)}
	if cfg.OTLPInsecure {
		metricOptions = append(metricOptions, otlpmetricgrpc.WithInsecure())
	}
	metricExporter, err := otlpmetricgrpc.New(ctx, metricOptions...)
	if err != nil {
		_ = telemetry.provider.Shutdown(ctx)
		return nil, faults.NewTransportError("failed to create OTLP metric exporter", err)
	}
	telemetry.meters = sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		sdkmetric.WithResource(serviceResource),
	)
	if telemetry.calls, err = newCallCounter(telemetry.meters); err != nil {
		_ = telemetry.Shutdown(ctx)
		return nil, err
	}
	return telemetry, nil
}

func newCallCounter(provider metric.MeterProvider) (metric.Int64Counter, error) {
	counter, err := provider.Meter(instrumentationName).Int64Counter(
		"reconctl.remote_calls",
		metric.WithDescription("Remote calls issued by apply runs."),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, faults.NewInternalError("failed to create remote call counter", err)
	}
	return counter, nil
}

// Observer counts every remote call of a run. It is nil when no meter
// provider is configured.
func (t *Telemetry) Observer() func(reconciler.Step, error) {
	if t.calls == nil {
		return nil
	}
	return callObserver(t.calls)
}

func callObserver(counter metric.Int64Counter) func(reconciler.Step, error) {
	return func(step reconciler.Step, err error) {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		counter.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("kind", string(step.Kind)),
			attribute.String("operation", string(step.Operation)),
			attribute.String("outcome", outcome),
		))
	}
}

func (t *Telemetry) Metrics() *reconciler.Metrics {
	return t.metrics
}

func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracer
}

func (t *Telemetry) Gatherer() prometheus.Gatherer {
	return t.registry
}

// Flush writes the metrics textfile and pushes buffered spans and metrics.
func (t *Telemetry) Flush(ctx context.Context) error {
	var errs []error
	if t.textfile != "" {
		if err := prometheus.WriteToTextfile(t.textfile, t.registry); err != nil {
			errs = append(errs, faults.NewInternalError("failed to write telemetry.metrics-textfile", err))
		}
	}
	if t.provider != nil {
		if err := t.provider.ForceFlush(ctx); err != nil {
			errs = append(errs, faults.NewTransportError("failed to flush spans", err))
		}
	}
	if t.meters != nil {
		if err := t.meters.ForceFlush(ctx); err != nil {
			errs = append(errs, faults.NewTransportError("failed to flush metrics", err))
		}
	}
	return errors.Join(errs...)
}

func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.provider != nil {
		errs = append(errs, t.provider.Shutdown(ctx))
	}
	if t.meters != nil {
		errs = append(errs, t.meters.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
