package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	sdktrace "go.opentelemetry.io/otel/trace"
)

type (
	// OtelTracer adapts an OpenTelemetry trace.Tracer to Tracer.
	OtelTracer struct {
		tracer sdktrace.Tracer
	}

	otelSpan struct {
		span sdktrace.Span
	}

	// OtelMetrics adapts an OpenTelemetry metric.Meter to Metrics, lazily
	// creating instruments per metric name on first use.
	OtelMetrics struct {
		meter    metric.Meter
		counters map[string]metric.Float64Counter
		gauges   map[string]metric.Float64Gauge
		mu       sync.Mutex
	}
)

// NewOtelTracer wraps the given OpenTelemetry tracer.
func NewOtelTracer(tracer sdktrace.Tracer) Tracer {
	return OtelTracer{tracer: tracer}
}

func (t OtelTracer) Start(ctx context.Context, name string, opts ...sdktrace.SpanStartOption) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name, opts...)
	return ctx, otelSpan{span: span}
}

func (t OtelTracer) Span(ctx context.Context) Span {
	return otelSpan{span: sdktrace.SpanFromContext(ctx)}
}

func (s otelSpan) End(opts ...sdktrace.SpanEndOption) { s.span.End(opts...) }

func (s otelSpan) AddEvent(name string, attrs ...any) {
	// attrs is accepted as keyvals for parity with Logger; OpenTelemetry
	// attributes require typed KeyValue construction which callers that need
	// structured span attributes should build via the underlying span.
	s.span.AddEvent(name)
}

func (s otelSpan) SetStatus(code codes.Code, description string) {
	s.span.SetStatus(code, description)
}

func (s otelSpan) RecordError(err error, opts ...sdktrace.EventOption) {
	s.span.RecordError(err, opts...)
}

// NewOtelMetrics wraps the given OpenTelemetry meter.
func NewOtelMetrics(meter metric.Meter) Metrics {
	return &OtelMetrics{
		meter:    meter,
		counters: make(map[string]metric.Float64Counter),
		gauges:   make(map[string]metric.Float64Gauge),
	}
}

func (m *OtelMetrics) IncCounter(name string, value float64, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counters[name]
	if !ok {
		var err error
		c, err = m.meter.Float64Counter(name)
		if err != nil {
			return
		}
		m.counters[name] = c
	}
	c.Add(context.Background(), value)
}

func (m *OtelMetrics) RecordTimer(name string, duration time.Duration, tags ...string) {
	m.IncCounter(name+".duration_ms", float64(duration.Milliseconds()), tags...)
}

func (m *OtelMetrics) RecordGauge(name string, value float64, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.gauges[name]
	if !ok {
		var err error
		g, err = m.meter.Float64Gauge(name)
		if err != nil {
			return
		}
		m.gauges[name] = g
	}
	g.Record(context.Background(), value)
}
