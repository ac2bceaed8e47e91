/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package telemetry wires the kernel's OTel tracer and meter providers and
// constructs the zap-backed logr.Logger every other package logs through.
// Spans cover one admission request and one executor step each, tagged with
// tick count and stratum (spec §3.13); exporters beyond OTLP-over-HTTP are
// out of scope.
package telemetry

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	kherrors "github.com/seanchatmangpt/knhk-sub006/internal/errors"
)

// Config configures the tracer and meter providers (mirrors
// internal/config.TelemetryConfig and internal/config.LoggingConfig).
type Config struct {
	ServiceName  string
	OTLPEndpoint string // empty: providers are no-ops, spans/metrics are dropped
	LogLevel     string
	LogFormat    string // "json" | "console"
}

// Providers bundles the constructed tracer provider, meter provider, and
// logger, plus a Shutdown that flushes and closes all three.
type Providers struct {
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	Log            logr.Logger

	shutdownFuncs []func(context.Context) error
}

// New constructs a Providers from cfg. An empty OTLPEndpoint yields the
// global no-op tracer/meter providers, so the kernel runs with tracing
// disabled rather than failing to start.
func New(ctx context.Context, cfg Config) (*Providers, error) {
	log, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}

	if cfg.OTLPEndpoint == "" {
		return &Providers{
			TracerProvider: otel.GetTracerProvider(),
			MeterProvider:  otel.GetMeterProvider(),
			Log:            log,
		}, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceNameKey.String(cfg.ServiceName),
	))
	if err != nil {
		return nil, kherrors.Wrap(err, kherrors.ErrorTypeFatal, "telemetry: merge resource")
	}

	traceExporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.OTLPEndpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, kherrors.Wrap(err, kherrors.ErrorTypeFatal, "telemetry: construct OTLP trace exporter")
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)

	metricExporter, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint), otlpmetrichttp.WithInsecure())
	if err != nil {
		return nil, kherrors.Wrap(err, kherrors.ErrorTypeFatal, "telemetry: construct OTLP metric exporter")
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(15*time.Second))),
		sdkmetric.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	return &Providers{
		TracerProvider: tp,
		MeterProvider:  mp,
		Log:            log,
		shutdownFuncs:  []func(context.Context) error{tp.Shutdown, mp.Shutdown},
	}, nil
}

// Shutdown flushes and closes every provider constructed with an exporter.
func (p *Providers) Shutdown(ctx context.Context) error {
	var lastErr error
	for _, fn := range p.shutdownFuncs {
		if err := fn(ctx); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// AdmissionSpan starts a span for one admission request.
func AdmissionSpan(ctx context.Context, tp trace.TracerProvider) (context.Context, trace.Span) {
	return tp.Tracer("knhk-kernel/admission").Start(ctx, "admission.admit")
}

// ExecutorSpan starts a span for one executor step. Callers set the
// tick_count and stratum attributes once the step has run, since both are
// only known after execution completes.
func ExecutorSpan(ctx context.Context, tp trace.TracerProvider) (context.Context, trace.Span) {
	return tp.Tracer("knhk-kernel/executor").Start(ctx, "executor.run")
}

func newLogger(level, format string) (logr.Logger, error) {
	var zcfg zap.Config
	if format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.OutputPaths = []string{"stdout"}
	zcfg.ErrorOutputPaths = []string{"stderr"}

	if lvl, err := zap.ParseAtomicLevel(level); err == nil {
		zcfg.Level = lvl
	}

	zl, err := zcfg.Build()
	if err != nil {
		return logr.Logger{}, kherrors.Wrap(err, kherrors.ErrorTypeFatal, "telemetry: build zap logger")
	}
	return zapr.NewLogger(zl), nil
}
