package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// setupTracing installs an OTLP HTTP trace exporter when tracing is enabled.
// The exporter reads the standard OTEL_EXPORTER_OTLP_* variables; at a minimum
// OTEL_EXPORTER_OTLP_ENDPOINT=http://localhost:4318. The returned function
// flushes and stops the exporter.
func setupTracing(ctx context.Context, tc domain.TracingConfig) (func(), error) {
	if !tc.Enabled {
		return func() {}, nil
	}

	slog.Info("setting up trace exporter", "endpoint", os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))

	exp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}

	name := tc.ServiceName
	if name == "" {
		name = "kestrel"
	}

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(resource.NewSchemaless(
			attribute.String("service.name", name),
			attribute.String("service.version", Version),
		)),
	)
	otel.SetTracerProvider(tp)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown trace provider", "error", err)
		}
	}, nil
}
