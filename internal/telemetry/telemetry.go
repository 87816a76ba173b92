// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry configures OpenTelemetry tracing for signing requests.
package telemetry

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/dotandev/firma/internal/config"
)

// TracerName names the spans emitted by firma.
const TracerName = "firma"

// Config holds OpenTelemetry configuration
type Config struct {
	Enabled        bool
	ExporterURL    string
	ServiceName    string
	ServiceVersion string
}

// FromConfig builds the tracing setup from the loaded configuration.
func FromConfig(c config.TelemetryConfig, serviceName, serviceVersion string) Config {
	return Config{
		Enabled:        c.Enabled,
		ExporterURL:    c.ExporterURL,
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
	}
}

// exporterOption accepts either a full URL or a bare host:port.
func exporterOption(url string) otlptracehttp.Option {
	if strings.Contains(url, "://") {
		return otlptracehttp.WithEndpointURL(url)
	}
	return otlptracehttp.WithEndpoint(url)
}

// Init installs a global tracer provider exporting over OTLP/HTTP. The
// returned function flushes and stops it. Exporting is asynchronous, so an
// unreachable collector never fails a signing request.
func Init(ctx context.Context, cfg Config) (func(), error) {
	if !cfg.Enabled {
		return func() {}, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		exporterOption(cfg.ExporterURL),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	serviceVersion := cfg.ServiceVersion
	if serviceVersion == "" {
		serviceVersion = "dev"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(serviceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(ctx)
	}, nil
}

// GetTracer returns the firma tracer. It is a no-op until Init runs.
func GetTracer() oteltrace.Tracer {
	return otel.Tracer(TracerName)
}
