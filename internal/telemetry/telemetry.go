// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package telemetry adapts the OpenTelemetry SDK to pkg/observability's
// TracerProvider interface, so a pipeline run's steps can be traced without
// the pipeline package depending on otel directly.
package telemetry

import (
	"context"
	"fmt"
	"os"

	"github.com/aboutcode-org/scanpipe/internal/config"
	"github.com/aboutcode-org/scanpipe/pkg/observability"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Provider wraps an otel TracerProvider and implements
// observability.TracerProvider so internal/pipeline can create a span per
// step without importing otel itself.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// NewProvider builds a Provider from cfg. An empty cfg.Exporter returns a
// Provider backed by a TracerProvider with no span processor: spans are
// created and discarded, so callers pay only the cost of the interface
// call, not an exporter round trip.
func NewProvider(ctx context.Context, cfg config.TracingConfig) (*Provider, error) {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "scanpipe"
	}

	// Schema URL left empty, matching resource.Default()'s, to avoid a
	// schema conflict when the two are merged.
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes("", semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("build tracing resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build %s trace exporter: %w", cfg.Exporter, err)
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	return &Provider{tp: sdktrace.NewTracerProvider(opts...)}, nil
}

func newExporter(ctx context.Context, cfg config.TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "", "none":
		return nil, nil
	case "stdout":
		return stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
	case "otlp":
		var opts []otlptracehttp.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
		}
		return otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown exporter %q", cfg.Exporter)
	}
}

// Tracer returns a tracer for the given instrumentation scope.
func (p *Provider) Tracer(name string) observability.Tracer {
	return &tracer{t: p.tp.Tracer(name)}
}

// Shutdown flushes any pending spans and releases resources.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.tp.Shutdown(ctx)
}

// ForceFlush exports all pending spans synchronously.
func (p *Provider) ForceFlush(ctx context.Context) error {
	return p.tp.ForceFlush(ctx)
}

type tracer struct {
	t trace.Tracer
}

func (tr *tracer) Start(ctx context.Context, name string, opts ...observability.SpanOption) (context.Context, observability.SpanHandle) {
	cfg := &observability.SpanConfig{}
	for _, opt := range opts {
		opt.ApplySpanOption(cfg)
	}

	var otelOpts []trace.SpanStartOption
	if len(cfg.Attributes) > 0 {
		otelOpts = append(otelOpts, trace.WithAttributes(toAttributes(cfg.Attributes)...))
	}

	ctx, span := tr.t.Start(ctx, name, otelOpts...)
	return ctx, &spanHandle{span: span}
}

type spanHandle struct {
	span trace.Span
}

func (s *spanHandle) End(opts ...observability.SpanEndOption) {
	s.span.End()
}

func (s *spanHandle) SetStatus(code observability.StatusCode, message string) {
	switch code {
	case observability.StatusCodeOK:
		s.span.SetStatus(codes.Ok, message)
	case observability.StatusCodeError:
		s.span.SetStatus(codes.Error, message)
	default:
		s.span.SetStatus(codes.Unset, message)
	}
}

func (s *spanHandle) SetAttributes(attrs map[string]any) {
	s.span.SetAttributes(toAttributes(attrs)...)
}

func (s *spanHandle) AddEvent(name string, attrs map[string]any) {
	s.span.AddEvent(name, trace.WithAttributes(toAttributes(attrs)...))
}

func (s *spanHandle) SpanContext() observability.TraceContext {
	sc := s.span.SpanContext()
	return observability.TraceContext{
		TraceID:    sc.TraceID().String(),
		SpanID:     sc.SpanID().String(),
		TraceFlags: byte(sc.TraceFlags()),
		TraceState: sc.TraceState().String(),
	}
}

func (s *spanHandle) RecordError(err error) {
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

func toAttributes(attrs map[string]any) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		switch tv := v.(type) {
		case string:
			out = append(out, attribute.String(k, tv))
		case bool:
			out = append(out, attribute.Bool(k, tv))
		case int:
			out = append(out, attribute.Int(k, tv))
		case int64:
			out = append(out, attribute.Int64(k, tv))
		case float64:
			out = append(out, attribute.Float64(k, tv))
		default:
			out = append(out, attribute.String(k, fmt.Sprint(tv)))
		}
	}
	return out
}
