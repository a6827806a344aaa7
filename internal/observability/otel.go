// Package observability wires the OpenTelemetry SDKs and the zap logger.
package observability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	LogsPath   = "/otlp/v1/logs"
	TracesPath = "/otlp/v1/traces"

	exportTimeout = 30 * time.Second
	maxQueueSize  = 2048
)

// OTLP describes where telemetry is exported. An empty Endpoint disables export.
type OTLP struct {
	Endpoint       string
	AuthHeader     string
	ServiceName    string
	ServiceVersion string
}

func (o OTLP) Enabled() bool {
	return o.Endpoint != ""
}

func (o OTLP) headers() map[string]string {
	if o.AuthHeader == "" {
		return nil
	}
	return map[string]string{"Authorization": o.AuthHeader}
}

func (o OTLP) resource() (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(o.ServiceName),
			semconv.ServiceVersion(o.ServiceVersion),
		),
	)
}

// SetupPropagation installs W3C trace context and baggage propagation. Kafka
// headers and outgoing HTTP requests carry trace context through it.
func SetupPropagation() {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
}

// SetupTracingSDK installs a batching OTLP/HTTP tracer provider as the global
// provider.
func SetupTracingSDK(ctx context.Context, cfg OTLP) (*sdktrace.TracerProvider, func(context.Context) error, error) {
	res, err := cfg.resource()
	if err != nil {
		return nil, nil, fmt.Errorf("create resource: %w", err)
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithURLPath(TracesPath),
		otlptracehttp.WithHeaders(cfg.headers()),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("setup OTLP trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter,
			sdktrace.WithMaxQueueSize(maxQueueSize),
			sdktrace.WithBatchTimeout(5*time.Second),
		),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp, tp.Shutdown, nil
}

// SetupLoggingSDK installs a batching OTLP/HTTP logger provider as the global
// provider used by the otelzap bridge.
func SetupLoggingSDK(ctx context.Context, cfg OTLP) (*sdklog.LoggerProvider, func(context.Context) error, error) {
	res, err := cfg.resource()
	if err != nil {
		return nil, nil, fmt.Errorf("create resource: %w", err)
	}

	exporter, err := otlploghttp.New(ctx,
		otlploghttp.WithEndpoint(cfg.Endpoint),
		otlploghttp.WithURLPath(LogsPath),
		otlploghttp.WithHeaders(cfg.headers()),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("setup OTLP log exporter: %w", err)
	}

	lp := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter,
			sdklog.WithExportTimeout(exportTimeout),
			sdklog.WithMaxQueueSize(maxQueueSize),
		)),
	)
	global.SetLoggerProvider(lp)
	return lp, lp.Shutdown, nil
}

// Setup configures propagation and, when enabled, both SDKs. The returned
// shutdown flushes them in reverse order.
func Setup(ctx context.Context, cfg OTLP) (func(context.Context) error, error) {
	SetupPropagation()

	var shutdownFuncs []func(context.Context) error
	shutdown := func(ctx context.Context) error {
		var errs error
		for i := len(shutdownFuncs) - 1; i >= 0; i-- {
			errs = errors.Join(errs, shutdownFuncs[i](ctx))
		}
		shutdownFuncs = nil
		return errs
	}
	if !cfg.Enabled() {
		return shutdown, nil
	}

	var setupErr error
	if _, fn, err := SetupTracingSDK(ctx, cfg); err != nil {
		setupErr = errors.Join(setupErr, err)
	} else {
		shutdownFuncs = append(shutdownFuncs, fn)
	}
	if _, fn, err := SetupLoggingSDK(ctx, cfg); err != nil {
		setupErr = errors.Join(setupErr, err)
	} else {
		shutdownFuncs = append(shutdownFuncs, fn)
	}
	return shutdown, setupErr
}
