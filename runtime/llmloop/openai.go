package llmloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ChatCompletionsClient captures the subset of the OpenAI SDK client the
// adapter needs, satisfied by the real client's Chat.Completions service in
// production and a fake in tests. Written fresh against
// github.com/openai/openai-go's actual Chat Completions shape rather than
// adapted from features/model/openai/client.go, which is grounded on the
// unofficial github.com/sashabaranov/go-openai SDK and does not match the
// dependency this module actually requires.
type ChatCompletionsClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAIOptions configures an OpenAIProvider.
type OpenAIOptions struct {
	DefaultModel string
	Temperature  float64
}

// OpenAIProvider implements Provider on top of OpenAI's Chat Completions API.
type OpenAIProvider struct {
	chat         ChatCompletionsClient
	defaultModel string
	temperature  float64
}

// NewOpenAIProvider builds a provider around an already-constructed OpenAI
// Chat Completions client.
func NewOpenAIProvider(chat ChatCompletionsClient, opts OpenAIOptions) (*OpenAIProvider, error) {
	if chat == nil {
		return nil, errors.New("openai client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("openai default model is required")
	}
	return &OpenAIProvider{chat: chat, defaultModel: opts.DefaultModel, temperature: opts.Temperature}, nil
}

// NewOpenAIProviderFromAPIKey constructs a provider using the default OpenAI
// HTTP client and the given API key. It does not read the environment
// itself.
func NewOpenAIProviderFromAPIKey(apiKey, defaultModel string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key is required")
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return NewOpenAIProvider(client.Chat.Completions, OpenAIOptions{DefaultModel: defaultModel})
}

// Generate implements Provider.
func (p *OpenAIProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	params, err := p.prepareRequest(req)
	if err != nil {
		return GenerateResponse{}, err
	}
	resp, err := p.chat.New(ctx, params)
	if err != nil {
		return GenerateResponse{}, fmt.Errorf("openai chat.completions.new: %w", err)
	}
	return translateOpenAIResponse(resp)
}

func (p *OpenAIProvider) prepareRequest(req GenerateRequest) (openai.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return openai.ChatCompletionNewParams{}, errors.New("openai: messages are required")
	}
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case RoleUser:
			messages = append(messages, openai.UserMessage(m.Content))
		case RoleAssistant:
			messages = append(messages, encodeOpenAIAssistantMessage(m))
		case RoleTool:
			messages = append(messages, openai.ToolMessage(m.Content, m.ToolCallID))
		default:
			return openai.ChatCompletionNewParams{}, fmt.Errorf("openai: unsupported message role %q", m.Role)
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: messages,
	}
	temp := req.Temperature
	if temp == 0 {
		temp = p.temperature
	}
	if temp > 0 {
		params.Temperature = openai.Float(temp)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		params.Tools = encodeOpenAITools(req.Tools)
	}
	return params, nil
}

func encodeOpenAIAssistantMessage(m Message) openai.ChatCompletionMessageParamUnion {
	if len(m.ToolCalls) == 0 {
		return openai.AssistantMessage(m.Content)
	}
	calls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(m.ToolCalls))
	for _, call := range m.ToolCalls {
		args, _ := json.Marshal(call.Arguments)
		calls = append(calls, openai.ChatCompletionMessageToolCallParam{
			ID: call.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      call.Name,
				Arguments: string(args),
			},
		})
	}
	return openai.ChatCompletionMessageParamUnion{
		OfAssistant: &openai.ChatCompletionAssistantMessageParam{
			Content:   openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(m.Content)},
			ToolCalls: calls,
		},
	}
}

func encodeOpenAITools(defs []ToolDescriptor) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		params := openai.FunctionParameters{}
		if def.InputSchema != "" {
			_ = json.Unmarshal([]byte(def.InputSchema), &params)
		}
		out = append(out, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters:  params,
			},
		})
	}
	return out
}

func translateOpenAIResponse(resp *openai.ChatCompletion) (GenerateResponse, error) {
	if len(resp.Choices) == 0 {
		return GenerateResponse{}, errors.New("openai: response contained no choices")
	}
	choice := resp.Choices[0].Message

	calls := make([]ToolCall, 0, len(choice.ToolCalls))
	for _, tc := range choice.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		calls = append(calls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}

	return GenerateResponse{
		Message: Message{
			Role:      RoleAssistant,
			Content:   choice.Content,
			ToolCalls: calls,
		},
		Model:        resp.Model,
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}, nil
}
