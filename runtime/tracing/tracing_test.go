package tracing_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcp-mesh/mesh-core/runtime/tracing"
)

type recordingSink struct {
	records []tracing.SpanRecord
}

func (s *recordingSink) Publish(ctx context.Context, rec tracing.SpanRecord) error {
	s.records = append(s.records, rec)
	return nil
}

func TestStartSpanCreatesRootWhenNoParent(t *testing.T) {
	sink := &recordingSink{}
	ctx, span := tracing.StartSpan(context.Background(), sink, "do_thing", tracing.AgentMeta{AgentID: "a1"})
	span.End(ctx, true, nil, "text")

	require.Len(t, sink.records, 1)
	rec := sink.records[0]
	assert.NotEmpty(t, rec.TraceID)
	assert.NotEmpty(t, rec.SpanID)
	assert.Empty(t, rec.ParentSpan)
	assert.True(t, rec.Success)
}

func TestStartSpanChildInheritsTraceID(t *testing.T) {
	sink := &recordingSink{}
	ctx, root := tracing.StartSpan(context.Background(), sink, "outer", tracing.AgentMeta{AgentID: "a1"})
	childCtx, child := tracing.StartSpan(ctx, sink, "inner", tracing.AgentMeta{AgentID: "a1"})

	child.End(childCtx, true, nil, "")
	root.End(ctx, true, nil, "")

	require.Len(t, sink.records, 2)
	assert.Equal(t, sink.records[0].TraceID, sink.records[1].TraceID)
	assert.Equal(t, root.TraceInfo().SpanID, sink.records[0].ParentSpan)
}

func TestInjectHeadersWritesTraceHeaders(t *testing.T) {
	ctx, _ := tracing.StartSpan(context.Background(), nil, "fn", tracing.AgentMeta{})
	header := http.Header{}
	tracing.InjectHeaders(ctx, header, nil, nil)

	assert.NotEmpty(t, header.Get(tracing.HeaderTraceID))
	assert.NotEmpty(t, header.Get(tracing.HeaderSpanID))
}

func TestInjectHeadersForwardsAllowlistedHeaders(t *testing.T) {
	ctx, _ := tracing.StartSpan(context.Background(), nil, "fn", tracing.AgentMeta{})
	header := http.Header{}
	extra := http.Header{"X-Tenant-Id": []string{"t1"}, "X-Other": []string{"skip"}}
	tracing.InjectHeaders(ctx, header, extra, []string{"x-tenant"})

	assert.Equal(t, "t1", header.Get("X-Tenant-Id"))
	assert.Empty(t, header.Get("X-Other"))
}

func TestExtractHeadersSeedsTraceInfo(t *testing.T) {
	header := http.Header{}
	header.Set(tracing.HeaderTraceID, "trace-1")
	header.Set(tracing.HeaderSpanID, "span-1")

	ctx := tracing.ExtractHeaders(context.Background(), header)
	info, ok := tracing.FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "trace-1", info.TraceID)
	assert.Equal(t, "span-1", info.SpanID)
}

func TestExtractHeadersNoOpWithoutTraceID(t *testing.T) {
	ctx := tracing.ExtractHeaders(context.Background(), http.Header{})
	_, ok := tracing.FromContext(ctx)
	assert.False(t, ok)
}
