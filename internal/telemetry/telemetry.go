// Package telemetry provides OpenTelemetry integration for converge.
//
// Telemetry is off unless CONVERGE_OTEL_ENABLED=true; with it off the
// global providers are no-ops and WrapStore returns stores untouched.
//
// # Configuration
//
//	CONVERGE_OTEL_ENABLED=true        enable telemetry (default: off)
//	CONVERGE_OTEL_STDOUT=true         write spans/metrics to stdout (dev mode)
//	OTEL_EXPORTER_OTLP_ENDPOINT=...   OTLP/HTTP metrics endpoint (e.g. localhost:4318)
//	OTEL_SERVICE_NAME=...             override the service name
//
// Instruments: converge.rounds, converge.perspective.duration,
// converge.perspective.timeouts, converge.findings, converge.ai.* from the
// Anthropic worker, and the converge.store.* family recorded by WrapStore.
package telemetry

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const scope = "github.com/steveyegge/converge"

// Export intervals for the periodic metric readers.
const (
	stdoutInterval = 15 * time.Second
	otlpInterval   = 30 * time.Second
)

// Settings is the telemetry configuration read from the environment.
type Settings struct {
	Enabled      bool
	Stdout       bool
	OTLPEndpoint string
	ServiceName  string // overrides the name passed to Init when set
}

// SettingsFromEnv reads Settings from CONVERGE_OTEL_* and OTEL_* variables.
func SettingsFromEnv() Settings {
	return Settings{
		Enabled:      os.Getenv("CONVERGE_OTEL_ENABLED") == "true",
		Stdout:       os.Getenv("CONVERGE_OTEL_STDOUT") == "true",
		OTLPEndpoint: firstNonEmpty(os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"), os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		ServiceName:  os.Getenv("OTEL_SERVICE_NAME"),
	}
}

// Enabled reports whether telemetry is active (CONVERGE_OTEL_ENABLED=true).
func Enabled() bool {
	return SettingsFromEnv().Enabled
}

// providers holds what Init installed so Shutdown can flush it.
var providers struct {
	tracer *sdktrace.TracerProvider
	meter  *sdkmetric.MeterProvider
}

// Init installs global providers from the environment.
func Init(ctx context.Context, serviceName, version string) error {
	return InitWith(ctx, SettingsFromEnv(), serviceName, version)
}

// InitWith installs global providers for s. Disabled settings install
// no-op providers.
func InitWith(ctx context.Context, s Settings, serviceName, version string) error {
	if !s.Enabled {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return nil
	}
	if s.ServiceName != "" {
		serviceName = s.ServiceName
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return fmt.Errorf("telemetry: resource: %w", err)
	}

	tracerOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	meterOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}

	if s.Stdout {
		spans, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("telemetry: stdout trace exporter: %w", err)
		}
		tracerOpts = append(tracerOpts, sdktrace.WithBatcher(spans))

		metrics, err := stdoutmetric.New()
		if err != nil {
			return fmt.Errorf("telemetry: stdout metric exporter: %w", err)
		}
		meterOpts = append(meterOpts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(metrics, sdkmetric.WithInterval(stdoutInterval))))
	}

	if s.OTLPEndpoint != "" {
		exp, err := otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpoint(s.OTLPEndpoint),
			otlpmetrichttp.WithInsecure(),
		)
		if err != nil {
			return fmt.Errorf("telemetry: otlp metric exporter: %w", err)
		}
		meterOpts = append(meterOpts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(otlpInterval))))
	}

	providers.tracer = sdktrace.NewTracerProvider(tracerOpts...)
	providers.meter = sdkmetric.NewMeterProvider(meterOpts...)
	otel.SetTracerProvider(providers.tracer)
	otel.SetMeterProvider(providers.meter)
	return nil
}

// Tracer returns a tracer for name, or for the converge scope when empty.
func Tracer(name string) trace.Tracer {
	if name == "" {
		name = scope
	}
	return otel.Tracer(name)
}

// Meter returns a meter for name, or for the converge scope when empty.
func Meter(name string) metric.Meter {
	if name == "" {
		name = scope
	}
	return otel.Meter(name)
}

// Shutdown flushes pending spans and metrics. Safe to call when Init
// installed no-op providers.
func Shutdown(ctx context.Context) {
	if providers.tracer != nil {
		_ = providers.tracer.Shutdown(ctx)
	}
	if providers.meter != nil {
		_ = providers.meter.Shutdown(ctx)
	}
	providers.tracer, providers.meter = nil, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
