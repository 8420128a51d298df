package metrics

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

const collectorDialTimeout = 2 * time.Second

// TracerConfig describes the service the spans belong to and where they go.
// SampleRatio applies to root spans; children follow their parent.
type TracerConfig struct {
	ServiceName string
	Environment string
	Version     string
	Endpoint    string
	SampleRatio float64
}

// InitTracer installs a global tracer provider exporting to an OTLP HTTP
// collector. The collector must be reachable at startup.
func InitTracer(cfg TracerConfig) (*sdktrace.TracerProvider, error) {
	conn, err := net.DialTimeout("tcp", cfg.Endpoint, collectorDialTimeout)
	if err != nil {
		return nil, fmt.Errorf("OTLP collector at %s is not reachable: %w", cfg.Endpoint, err)
	}
	_ = conn.Close()

	exporter, err := otlptracehttp.New(context.Background(),
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP trace exporter: %w", err)
	}

	ratio := cfg.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.Version),
			semconv.DeploymentEnvironmentKey.String(cfg.Environment),
		)),
	)
	otel.SetTracerProvider(tp)

	return tp, nil
}
