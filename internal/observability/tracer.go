package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	stdouttrace "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps an OTel TracerProvider with the one-span-per-step/engine-run
// convention this package exists for, plus an optional in-memory debug
// exporter for inspecting recent spans without a collector.
type Tracer struct {
	provider      *sdktrace.TracerProvider
	tracer        trace.Tracer
	debugExporter *DebugExporter
	capturePrev   bool
}

// TracerOption configures a Tracer at construction time.
type TracerOption func(*tracerOptions)

type tracerOptions struct {
	debugExporter *DebugExporter
	captureOutput bool
}

// WithDebugExporter attaches an in-memory span exporter alongside the
// configured real exporter.
func WithDebugExporter(d *DebugExporter) TracerOption {
	return func(o *tracerOptions) { o.debugExporter = d }
}

// WithCaptureOutputPreview enables attaching a truncated step-output
// preview as a span attribute.
func WithCaptureOutputPreview(enabled bool) TracerOption {
	return func(o *tracerOptions) { o.captureOutput = enabled }
}

// NewTracer builds a Tracer from cfg, wiring an OTLP-gRPC or stdout
// exporter per cfg.Exporter.
func NewTracer(ctx context.Context, cfg *TracingConfig, opts ...TracerOption) (*Tracer, error) {
	var o tracerOptions
	for _, opt := range opts {
		opt(&o)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("observability: building resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		exporter, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithInsecure(),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("observability: creating %s exporter: %w", cfg.Exporter, err)
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SamplingRate)),
		sdktrace.WithResource(res),
	}
	if o.debugExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(o.debugExporter))
	}

	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)

	return &Tracer{
		provider:      tp,
		tracer:        tp.Tracer("github.com/moazbuilds/codemachine-orchestrator"),
		debugExporter: o.debugExporter,
		capturePrev:   o.captureOutput,
	}, nil
}

// Start opens a span named name, honouring standard trace.SpanStartOptions.
// A nil Tracer returns ctx unchanged and a no-op span, so callers need not
// branch on whether tracing is enabled.
func (t *Tracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, name, opts...)
}

// StartStep opens the span for one workflow step/engine invocation.
func (t *Tracer) StartStep(ctx context.Context, stepIndex int, agentID, engineName, scenario string) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, SpanStep, trace.WithAttributes(
		attribute.Int(AttrStepIndex, stepIndex),
		attribute.String(AttrAgentID, agentID),
		attribute.String(AttrEngineName, engineName),
		attribute.String(AttrScenario, scenario),
	))
}

// AddDirective records the directive action a step's evaluators produced.
func (t *Tracer) AddDirective(span trace.Span, action string) {
	if span == nil {
		return
	}
	span.SetAttributes(attribute.String(AttrDirective, action))
}

// AddOutputPreview attaches a truncated stdout preview to span, a no-op
// unless the tracer was built WithCaptureOutputPreview(true).
func (t *Tracer) AddOutputPreview(span trace.Span, preview string) {
	if span == nil || !t.capturePrev {
		return
	}
	span.SetAttributes(attribute.String("codemachine.output_preview", truncate(preview, 2000)))
}

// RecordError marks span as failed and attaches err.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetAttributes(attribute.String(AttrErrorType, err.Error()))
}

// DebugExporter returns the in-memory span exporter, or nil if none was
// configured.
func (t *Tracer) DebugExporter() *DebugExporter {
	if t == nil {
		return nil
	}
	return t.debugExporter
}

// Shutdown flushes and stops the tracer provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
