package otelx

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/odontocare/odontocare/libs/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

type Config struct {
	Enabled      bool
	ServiceName  string
	Version      string
	OTLPEndpoint string // host:port, e.g. jaeger:4317
	SampleRatio  float64
}

// ConfigFromEnv reads OTEL_ENABLED, OTEL_EXPORTER_OTLP_ENDPOINT and
// OTEL_SAMPLING_RATIO. Tracing stays off unless an endpoint is configured.
func ConfigFromEnv(serviceName string) Config {
	endpoint := strings.TrimSpace(config.String("OTEL_EXPORTER_OTLP_ENDPOINT", ""))
	endpoint = strings.TrimPrefix(strings.TrimPrefix(endpoint, "http://"), "https://")

	enabled := config.Bool("OTEL_ENABLED", endpoint != "")

	ratio := 1.0
	if f, err := strconv.ParseFloat(strings.TrimSpace(config.String("OTEL_SAMPLING_RATIO", "1")), 64); err == nil && f >= 0 && f <= 1 {
		ratio = f
	}

	return Config{
		Enabled:      enabled && endpoint != "",
		ServiceName:  serviceName,
		Version:      config.String("SERVICE_VERSION", "dev"),
		OTLPEndpoint: endpoint,
		SampleRatio:  ratio,
	}
}

// Setup installs the W3C propagators and, when enabled, a batching OTLP tracer
// provider. The returned func flushes and stops it.
func Setup(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithTimeout(3*time.Second),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.Version),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
