package main

import (
	"context"
	"fmt"

	"github.com/srand/jolt/coordinator/pkg/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Installs the configured trace exporter. Spans are discarded when
// no exporter is configured. Returns a function flushing and stopping
// the exporter.
func setupTracing(exporter, name string) (func(context.Context) error, error) {
	switch exporter {
	case "":
		return func(context.Context) error { return nil }, nil

	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp),
			sdktrace.WithResource(resource.NewWithAttributes(
				semconv.SchemaURL,
				semconv.ServiceName("jolt-coordinator"),
				semconv.ServiceInstanceID(name),
			)),
		)
		otel.SetTracerProvider(tp)
		return tp.Shutdown, nil
	}

	return nil, fmt.Errorf("%w: unsupported tracing exporter: %s", utils.ErrBadRequest, exporter)
}
