// Package tracing implements the trace propagation plane described in spec
// §4.6: a context-carried TraceInfo, span lifecycle helpers, and wire-header
// injection/extraction. Go has no implicit task-local storage, so the
// task-local slot the spec describes is carried explicitly via
// context.Context — the same pattern runtime/toolregistry/trace_context.go
// and runtime/mcp/trace.go already use, generalized here from
// OpenTelemetry's W3C propagator onto the mesh's own
// x-trace-id/x-span-id/x-parent-span-id headers.
package tracing

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mcp-mesh/mesh-core/mesh"
)

type traceInfoKey struct{}

// WithTraceInfo returns a context carrying info in its task-local slot.
func WithTraceInfo(ctx context.Context, info mesh.TraceInfo) context.Context {
	return context.WithValue(ctx, traceInfoKey{}, info)
}

// FromContext returns the TraceInfo carried by ctx, if any.
func FromContext(ctx context.Context) (mesh.TraceInfo, bool) {
	info, ok := ctx.Value(traceInfoKey{}).(mesh.TraceInfo)
	return info, ok
}

// AgentMeta is the fixed per-process agent metadata stamped onto every span
// record this agent publishes.
type AgentMeta struct {
	AgentID       string
	AgentName     string
	AgentNS       string
	AgentEndpoint string
	PodName       string
	PodIP         string
	PodNamespace  string
	Runtime       string
}

// SpanRecord is the wire shape published to the trace stream (spec §6 "Span
// stream record").
type SpanRecord struct {
	TraceID        string `json:"trace_id"`
	SpanID         string `json:"span_id"`
	ParentSpan     string `json:"parent_span,omitempty"`
	FunctionName   string `json:"function_name"`
	StartTime      int64  `json:"start_time"`
	EndTime        int64  `json:"end_time"`
	DurationMs     int64  `json:"duration_ms"`
	Success        bool   `json:"success"`
	Error          string `json:"error,omitempty"`
	ErrorType      string `json:"error_type,omitempty"`
	ResultType     string `json:"result_type,omitempty"`
	AgentID        string `json:"agent_id"`
	AgentName      string `json:"agent_name"`
	AgentNamespace string `json:"agent_namespace"`
	AgentEndpoint  string `json:"agent_endpoint"`
	PodName        string `json:"pod_name,omitempty"`
	PodIP          string `json:"pod_ip,omitempty"`
	PodNamespace   string `json:"pod_namespace,omitempty"`
	Runtime        string `json:"runtime"`
}

// Sink receives completed span records. Publisher is the production Sink,
// backed by Redis Streams; tests may substitute a recording stub.
type Sink interface {
	Publish(ctx context.Context, rec SpanRecord) error
}

// Span represents one in-flight causal position started by StartSpan. Its
// zero value is not usable; construct via StartSpan.
type Span struct {
	info         mesh.TraceInfo
	functionName string
	meta         AgentMeta
	sink         Sink
}

// StartSpan creates a child span of whatever TraceInfo ctx carries, or a new
// root span if ctx carries none (spec §4.6: "in absence of incoming headers,
// a new root span is created"). The returned context carries the child's
// TraceInfo so further nested StartSpan calls chain correctly.
func StartSpan(ctx context.Context, sink Sink, functionName string, meta AgentMeta) (context.Context, *Span) {
	info := mesh.TraceInfo{
		SpanID:       uuid.NewString(),
		StartEpochMs: time.Now().UnixMilli(),
	}
	if parent, ok := FromContext(ctx); ok {
		info.TraceID = parent.TraceID
		info.ParentSpanID = parent.SpanID
	} else {
		info.TraceID = uuid.NewString()
	}

	span := &Span{info: info, functionName: functionName, meta: meta, sink: sink}
	return WithTraceInfo(ctx, info), span
}

// End closes the span and hands its record to the sink. Sink failures are
// swallowed at the Publisher level (spec §4.6: "tracing must never block or
// crash user code"); End itself never returns an error.
func (s *Span) End(ctx context.Context, success bool, err error, resultType string) {
	if s == nil {
		return
	}
	now := time.Now().UnixMilli()
	rec := SpanRecord{
		TraceID:        s.info.TraceID,
		SpanID:         s.info.SpanID,
		ParentSpan:     s.info.ParentSpanID,
		FunctionName:   s.functionName,
		StartTime:      s.info.StartEpochMs,
		EndTime:        now,
		DurationMs:     now - s.info.StartEpochMs,
		Success:        success,
		ResultType:     resultType,
		AgentID:        s.meta.AgentID,
		AgentName:      s.meta.AgentName,
		AgentNamespace: s.meta.AgentNS,
		AgentEndpoint:  s.meta.AgentEndpoint,
		PodName:        s.meta.PodName,
		PodIP:          s.meta.PodIP,
		PodNamespace:   s.meta.PodNamespace,
		Runtime:        s.meta.Runtime,
	}
	if err != nil {
		rec.Error = err.Error()
		rec.ErrorType = errorTypeName(err)
	}
	if s.sink != nil {
		_ = s.sink.Publish(ctx, rec)
	}
}

// TraceInfo returns the span's own causal position, for callers that need to
// propagate it onto an outbound call explicitly (see InjectHeaders).
func (s *Span) TraceInfo() mesh.TraceInfo { return s.info }

func errorTypeName(err error) string {
	return fmt.Sprintf("%T", err)
}

// HeaderTraceID, HeaderSpanID, and HeaderParentSpanID are the wire header
// names the invoker injects on outbound mesh-tool HTTP calls (spec §4.6).
const (
	HeaderTraceID      = "x-trace-id"
	HeaderSpanID       = "x-span-id"
	HeaderParentSpanID = "x-parent-span-id"
)

// InjectHeaders writes the TraceInfo carried by ctx onto header, plus any
// header already set on extra whose name matches a prefix in allowlist
// (spec §4.6: "any header whose name matches a configured prefix
// allowlist"). It is a no-op if ctx carries no TraceInfo.
func InjectHeaders(ctx context.Context, header http.Header, extra http.Header, allowlist []string) {
	info, ok := FromContext(ctx)
	if !ok {
		return
	}
	header.Set(HeaderTraceID, info.TraceID)
	header.Set(HeaderSpanID, info.SpanID)
	if info.ParentSpanID != "" {
		header.Set(HeaderParentSpanID, info.ParentSpanID)
	}
	for name, vals := range extra {
		if !matchesAllowlist(name, allowlist) {
			continue
		}
		for _, v := range vals {
			header.Add(name, v)
		}
	}
}

// ExtractHeaders seeds a task-local TraceInfo from incoming request headers,
// or returns ctx unchanged if none are present (the caller then starts a new
// root span via StartSpan).
func ExtractHeaders(ctx context.Context, header http.Header) context.Context {
	traceID := header.Get(HeaderTraceID)
	if traceID == "" {
		return ctx
	}
	info := mesh.TraceInfo{
		TraceID:      traceID,
		SpanID:       header.Get(HeaderSpanID),
		ParentSpanID: header.Get(HeaderParentSpanID),
		StartEpochMs: time.Now().UnixMilli(),
	}
	return WithTraceInfo(ctx, info)
}

func matchesAllowlist(name string, allowlist []string) bool {
	lower := strings.ToLower(name)
	for _, prefix := range allowlist {
		if prefix != "" && strings.HasPrefix(lower, strings.ToLower(prefix)) {
			return true
		}
	}
	return false
}
