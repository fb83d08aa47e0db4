package llmloop_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcp-mesh/mesh-core/mesh"
	"github.com/mcp-mesh/mesh-core/runtime/llmloop"
	"github.com/mcp-mesh/mesh-core/runtime/proxy"
)

type scriptedProvider struct {
	responses []llmloop.GenerateResponse
	calls     int
}

func (p *scriptedProvider) Generate(ctx context.Context, req llmloop.GenerateRequest) (llmloop.GenerateResponse, error) {
	resp := p.responses[p.calls]
	p.calls++
	return resp, nil
}

func TestRunStopsWhenNoToolCalls(t *testing.T) {
	provider := &scriptedProvider{responses: []llmloop.GenerateResponse{
		{Message: llmloop.Message{Role: llmloop.RoleAssistant, Content: "final answer"}, Model: "claude-x"},
	}}
	invoker := proxy.NewInvoker("agent-1", nil)

	l, err := llmloop.New(provider, invoker, mesh.LlmAgentSpec{MaxIterations: 4})
	require.NoError(t, err)

	result, err := l.Run(context.Background(), nil, nil, nil, "hello")
	require.NoError(t, err)
	assert.Equal(t, "final answer", result.Text)
	assert.Equal(t, 1, result.Meta.Iterations)
}

func TestRunInvokesToolAndLoopsToFinalAnswer(t *testing.T) {
	provider := &scriptedProvider{responses: []llmloop.GenerateResponse{
		{Message: llmloop.Message{
			Role: llmloop.RoleAssistant,
			ToolCalls: []llmloop.ToolCall{
				{ID: "call-1", Name: "lookup_weather", Arguments: map[string]any{"city": "nyc"}},
			},
		}},
		{Message: llmloop.Message{Role: llmloop.RoleAssistant, Content: "it is sunny"}},
	}}
	invoker := proxy.NewInvoker("agent-1", nil)
	invoker.RegisterLocal("weather", func(ctx context.Context, functionName string, arguments map[string]any) (any, bool, error) {
		return map[string]any{"forecast": "sunny"}, true, nil
	})
	invoker.SetTable(proxy.NewTable().WithBinding("weather", []mesh.ToolRef{
		{AgentID: "agent-1", Capability: "weather", FunctionName: "lookup_weather"},
	}))

	l, err := llmloop.New(provider, invoker, mesh.LlmAgentSpec{MaxIterations: 4})
	require.NoError(t, err)

	tools := []mesh.ToolRef{{AgentID: "agent-1", Capability: "weather", FunctionName: "lookup_weather"}}
	result, err := l.Run(context.Background(), tools, nil, nil, "what's the weather")
	require.NoError(t, err)
	assert.Equal(t, "it is sunny", result.Text)
	assert.Equal(t, 2, result.Meta.Iterations)
}

func TestRunStopsEarlyOnValidStructuredOutput(t *testing.T) {
	provider := &scriptedProvider{responses: []llmloop.GenerateResponse{
		{Message: llmloop.Message{Role: llmloop.RoleAssistant, Content: `{"answer": 42}`}},
	}}
	invoker := proxy.NewInvoker("agent-1", nil)

	schema := `{"type":"object","properties":{"answer":{"type":"integer"}},"required":["answer"]}`
	l, err := llmloop.New(provider, invoker, mesh.LlmAgentSpec{MaxIterations: 4, StructuredSchema: schema})
	require.NoError(t, err)

	result, err := l.Run(context.Background(), nil, nil, nil, "give me the answer")
	require.NoError(t, err)
	require.NotNil(t, result.Structured)
	asMap, ok := result.Structured.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(42), asMap["answer"])
}

func TestRunStopsAtMaxIterations(t *testing.T) {
	toolCall := llmloop.Message{
		Role: llmloop.RoleAssistant,
		ToolCalls: []llmloop.ToolCall{
			{ID: "call-1", Name: "loopy", Arguments: nil},
		},
	}
	provider := &scriptedProvider{responses: []llmloop.GenerateResponse{
		{Message: toolCall}, {Message: toolCall}, {Message: toolCall},
	}}
	invoker := proxy.NewInvoker("agent-1", nil)

	l, err := llmloop.New(provider, invoker, mesh.LlmAgentSpec{MaxIterations: 3})
	require.NoError(t, err)

	result, err := l.Run(context.Background(), nil, nil, nil, "never stop")
	require.NoError(t, err)
	assert.Equal(t, 3, result.Meta.Iterations)
}
