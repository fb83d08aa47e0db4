package llmloop

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mcp-mesh/mesh-core/mesh"
	"github.com/mcp-mesh/mesh-core/runtime/proxy"
)

// MeshProvider implements Provider by routing Generate calls through the
// proxy invoker to another agent's tool, for ToolSpecs that name
// llm_provider as a mesh Selector instead of a direct SDK (spec §4.4:
// "either direct SDK or another mesh tool selected by provider selector").
// The remote tool receives the GenerateRequest marshaled with encoding/json
// and must return a result that decodes into a GenerateResponse. Neither
// type carries json tags, so the keys are the Go field names (Model, System,
// Messages, Tools, ... in; Message, Model, InputTokens, OutputTokens out,
// with the reply text under Message.Content).
type MeshProvider struct {
	invoker      *proxy.Invoker
	capability   string
	functionName string
}

// NewMeshProvider builds a Provider that dispatches Generate calls to
// capability/functionName via invoker.
func NewMeshProvider(invoker *proxy.Invoker, capability, functionName string) *MeshProvider {
	return &MeshProvider{invoker: invoker, capability: capability, functionName: functionName}
}

// Generate implements Provider.
func (p *MeshProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	encoded, err := json.Marshal(req)
	if err != nil {
		return GenerateResponse{}, fmt.Errorf("mesh provider: encode request: %w", err)
	}
	var args map[string]any
	if err := json.Unmarshal(encoded, &args); err != nil {
		return GenerateResponse{}, fmt.Errorf("mesh provider: decode request as arguments: %w", err)
	}

	result, err := p.invoker.Invoke(ctx, p.capability, p.functionName, args, 0, 0)
	if err != nil {
		return GenerateResponse{}, fmt.Errorf("mesh provider: invoke %s: %w", p.capability, err)
	}

	payload, err := json.Marshal(result.Result)
	if err != nil {
		return GenerateResponse{}, fmt.Errorf("mesh provider: encode result: %w", err)
	}
	var resp GenerateResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return GenerateResponse{}, fmt.Errorf("mesh provider: decode result as GenerateResponse: %w", err)
	}
	return resp, nil
}

// SelectProvider builds the concrete Provider an LlmAgentSpec names,
// implementing spec §4.4's provider-selector rule: a Selector whose
// Capability is one of the well-known direct-SDK markers resolves to that
// SDK-backed provider; any other capability is routed through the mesh via
// MeshProvider, sticky for the lifetime of one Loop (spec §4.4: "provider
// selection is sticky per invocation").
func SelectProvider(selector mesh.Selector, invoker *proxy.Invoker, anthropic Provider, openai Provider) (Provider, error) {
	switch selector.Capability {
	case "llm.anthropic":
		if anthropic == nil {
			return nil, fmt.Errorf("mesh provider: llm.anthropic selected but no AnthropicProvider configured")
		}
		return anthropic, nil
	case "llm.openai":
		if openai == nil {
			return nil, fmt.Errorf("mesh provider: llm.openai selected but no OpenAIProvider configured")
		}
		return openai, nil
	default:
		if selector.Capability == "" {
			return nil, fmt.Errorf("mesh provider: selector has no capability")
		}
		return NewMeshProvider(invoker, selector.Capability, selector.Capability), nil
	}
}
