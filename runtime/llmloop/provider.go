// Package llmloop implements the LLM Agentic Loop described in spec §4.4:
// an iterative, bounded tool-calling loop driven against a narrow Provider
// adapter interface, with sticky provider selection per invocation and
// optional structured-output parsing. Grounded on runtime/agent/planner's
// iterative loop shape and runtime/agent/model's provider adapter split,
// generalized onto the mesh's ToolRef-driven tool resolution.
package llmloop

import "context"

// Role identifies the speaker of one Message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is one tool invocation requested by the provider in its last
// response.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Message is one turn in the conversation passed to and returned from a
// Provider.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string // set on RoleTool messages carrying a tool result
}

// ToolDescriptor is one tool made available to the provider for this call,
// built from a resolved mesh.ToolRef's input schema (spec §4.4 item 1).
type ToolDescriptor struct {
	Name        string
	Description string
	InputSchema string // JSON schema, verbatim from ToolRef.InputSchema
}

// GenerateRequest is one provider call.
type GenerateRequest struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []ToolDescriptor
	Temperature float64
	MaxTokens   int
}

// GenerateResponse is a provider's reply to one GenerateRequest.
type GenerateResponse struct {
	Message      Message
	Model        string
	InputTokens  int
	OutputTokens int
}

// Provider is the narrow adapter interface every LLM backend implements —
// either a direct SDK client (AnthropicProvider, OpenAIProvider) or a
// MeshProvider that routes the call through another agent's tool via the
// proxy invoker (spec §4.4: "either direct SDK or another mesh tool
// selected by provider selector").
type Provider interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error)
}
