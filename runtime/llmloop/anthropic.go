package llmloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// MessagesClient captures the subset of the Anthropic SDK client the adapter
// needs, satisfied by *sdk.MessageService in production and a fake in tests.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicOptions configures an AnthropicProvider.
type AnthropicOptions struct {
	DefaultModel string
	MaxTokens    int
	Temperature  float64
}

// AnthropicProvider implements Provider on top of Anthropic's Messages API.
// Grounded on features/model/anthropic's MessagesClient wrapper shape,
// generalized from its model.Request/model.Response onto llmloop's flat
// Message/ToolCall types.
type AnthropicProvider struct {
	msg          MessagesClient
	defaultModel string
	maxTokens    int
	temperature  float64
}

// NewAnthropicProvider builds a provider around an already-constructed
// Anthropic Messages client.
func NewAnthropicProvider(msg MessagesClient, opts AnthropicOptions) (*AnthropicProvider, error) {
	if msg == nil {
		return nil, errors.New("anthropic client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("anthropic default model is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &AnthropicProvider{
		msg:          msg,
		defaultModel: opts.DefaultModel,
		maxTokens:    maxTokens,
		temperature:  opts.Temperature,
	}, nil
}

// NewAnthropicProviderFromAPIKey constructs a provider using the default
// Anthropic HTTP client and the given API key. It does not read the
// environment itself.
func NewAnthropicProviderFromAPIKey(apiKey, defaultModel string) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic api key is required")
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return NewAnthropicProvider(&client.Messages, AnthropicOptions{DefaultModel: defaultModel})
}

// Generate implements Provider.
func (p *AnthropicProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	params, err := p.prepareRequest(req)
	if err != nil {
		return GenerateResponse{}, err
	}
	msg, err := p.msg.New(ctx, params)
	if err != nil {
		return GenerateResponse{}, fmt.Errorf("anthropic messages.new: %w", err)
	}
	return translateAnthropicResponse(msg), nil
}

func (p *AnthropicProvider) prepareRequest(req GenerateRequest) (sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return sdk.MessageNewParams{}, errors.New("anthropic: messages are required")
	}
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	msgs, err := encodeAnthropicMessages(req.Messages)
	if err != nil {
		return sdk.MessageNewParams{}, err
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	temp := req.Temperature
	if temp == 0 {
		temp = p.temperature
	}
	if temp > 0 {
		params.Temperature = sdk.Float(temp)
	}
	if len(req.Tools) > 0 {
		params.Tools = encodeAnthropicTools(req.Tools)
	}
	return params, nil
}

func encodeAnthropicMessages(msgs []Message) ([]sdk.MessageParam, error) {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			continue // system content is carried separately in params.System
		case RoleUser:
			out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case RoleAssistant:
			blocks := make([]sdk.ContentBlockParamUnion, 0, 1+len(m.ToolCalls))
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, call := range m.ToolCalls {
				blocks = append(blocks, sdk.NewToolUseBlock(call.ID, call.Arguments, call.Name))
			}
			if len(blocks) > 0 {
				out = append(out, sdk.NewAssistantMessage(blocks...))
			}
		case RoleTool:
			out = append(out, sdk.NewUserMessage(sdk.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		default:
			return nil, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("anthropic: at least one user/assistant message is required")
	}
	return out, nil
}

func encodeAnthropicTools(defs []ToolDescriptor) []sdk.ToolUnionParam {
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		schema := sdk.ToolInputSchemaParam{}
		if def.InputSchema != "" {
			var fields map[string]any
			if err := json.Unmarshal([]byte(def.InputSchema), &fields); err == nil {
				schema.ExtraFields = fields
			}
		}
		tool := sdk.ToolUnionParamOfTool(schema, def.Name)
		if tool.OfTool != nil {
			tool.OfTool.Description = sdk.String(def.Description)
		}
		out = append(out, tool)
	}
	return out
}

// decodeToolArguments normalizes a tool_use block's Input field, which the
// SDK may surface as a pre-decoded map or as raw JSON bytes depending on
// version, into the map shape llmloop.ToolCall expects.
func decodeToolArguments(input any) map[string]any {
	switch v := input.(type) {
	case map[string]any:
		return v
	case json.RawMessage:
		var m map[string]any
		_ = json.Unmarshal(v, &m)
		return m
	case []byte:
		var m map[string]any
		_ = json.Unmarshal(v, &m)
		return m
	default:
		return nil
	}
}

func translateAnthropicResponse(msg *sdk.Message) GenerateResponse {
	var content string
	var calls []ToolCall
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			content += block.Text
		case "tool_use":
			calls = append(calls, ToolCall{ID: block.ID, Name: block.Name, Arguments: decodeToolArguments(block.Input)})
		}
	}
	return GenerateResponse{
		Message: Message{
			Role:      RoleAssistant,
			Content:   content,
			ToolCalls: calls,
		},
		Model:        string(msg.Model),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
}
