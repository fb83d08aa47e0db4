package llmloop

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"text/template"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/mcp-mesh/mesh-core/mesh"
	"github.com/mcp-mesh/mesh-core/runtime/proxy"
	"github.com/mcp-mesh/mesh-core/runtime/telemetry"
)

// Result is what Run returns to the caller once the loop stops.
type Result struct {
	Text       string
	Structured any
	Meta       mesh.GenerationMeta
}

// Loop drives one bounded, single-threaded agentic-loop invocation (spec
// §4.4). Provider selection is sticky: the Loop is constructed once per
// invocation around a single resolved Provider, so nothing mid-loop can
// swap models even if topology changes concurrently.
type Loop struct {
	provider         Provider
	invoker          *proxy.Invoker
	maxIterations    int
	systemPrompt     string
	structuredSchema string
	logger           telemetry.Logger

	schema *jsonschema.Schema
}

// Option configures optional Loop behavior.
type Option func(*Loop)

// WithLogger sets the logger used for tool-call and parse failures.
func WithLogger(l telemetry.Logger) Option { return func(lp *Loop) { lp.logger = l } }

// New builds a Loop for one LlmAgentSpec invocation around provider
// (already resolved, per spec §4.4's sticky-provider rule) and invoker (for
// dispatching tool calls the provider requests).
func New(provider Provider, invoker *proxy.Invoker, agentSpec mesh.LlmAgentSpec, opts ...Option) (*Loop, error) {
	maxIter := agentSpec.MaxIterations
	if maxIter <= 0 {
		maxIter = 8
	}
	l := &Loop{
		provider:         provider,
		invoker:          invoker,
		maxIterations:    maxIter,
		systemPrompt:     agentSpec.SystemPrompt,
		structuredSchema: agentSpec.StructuredSchema,
		logger:           telemetry.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.structuredSchema != "" {
		schema, err := jsonschema.CompileString("llmloop-structured-output.json", l.structuredSchema)
		if err != nil {
			return nil, fmt.Errorf("compile structured output schema: %w", err)
		}
		l.schema = schema
	}
	return l, nil
}

// Run executes the loop (spec §4.4 steps 1-6) against the resolved tools
// available to this invocation, rendering the system prompt with
// templateData and appending history plus userMessage as the conversation
// so far.
func (l *Loop) Run(ctx context.Context, tools []mesh.ToolRef, templateData map[string]any, history []Message, userMessage string) (Result, error) {
	start := time.Now()

	system, err := renderTemplate(l.systemPrompt, templateData)
	if err != nil {
		return Result{}, fmt.Errorf("render system prompt: %w", err)
	}

	byFunction := make(map[string]mesh.ToolRef, len(tools))
	descriptors := make([]ToolDescriptor, 0, len(tools))
	for _, ref := range tools {
		byFunction[ref.FunctionName] = ref
		descriptors = append(descriptors, ToolDescriptor{
			Name:        ref.FunctionName,
			Description: ref.Capability,
			InputSchema: ref.InputSchema,
		})
	}

	messages := make([]Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, Message{Role: RoleUser, Content: userMessage})

	meta := mesh.GenerationMeta{}
	var lastText string
	var model string

	for iteration := 1; iteration <= l.maxIterations; iteration++ {
		resp, err := l.provider.Generate(ctx, GenerateRequest{
			System:   system,
			Messages: messages,
			Tools:    descriptors,
		})
		if err != nil {
			return Result{}, fmt.Errorf("provider generate (iteration %d): %w", iteration, err)
		}

		meta.Iterations = iteration
		meta.InputTokens += resp.InputTokens
		meta.OutputTokens += resp.OutputTokens
		if resp.Model != "" {
			model = resp.Model
		}
		lastText = resp.Message.Content
		messages = append(messages, resp.Message)

		if l.schema != nil {
			if structured, ok := l.tryParseStructured(lastText); ok {
				meta.LatencyMs = time.Since(start).Milliseconds()
				meta.Model = model
				return Result{Text: lastText, Structured: structured, Meta: meta}, nil
			}
		}

		if len(resp.Message.ToolCalls) == 0 {
			meta.LatencyMs = time.Since(start).Milliseconds()
			meta.Model = model
			return Result{Text: lastText, Meta: meta}, nil
		}

		for _, call := range resp.Message.ToolCalls {
			ref, known := byFunction[call.Name]
			var resultText string
			if !known {
				resultText = fmt.Sprintf("error: unknown tool %q", call.Name)
			} else {
				result, err := l.invoker.Invoke(ctx, ref.Capability, call.Name, call.Arguments, 0, 0)
				if err != nil {
					l.logger.Warn(ctx, "llm loop tool call failed", "tool", call.Name, "err", err)
					resultText = fmt.Sprintf("error: %v", err)
				} else {
					encoded, _ := json.Marshal(result.Result)
					resultText = string(encoded)
				}
			}
			messages = append(messages, Message{Role: RoleTool, Content: resultText, ToolCallID: call.ID})
		}
	}

	meta.LatencyMs = time.Since(start).Milliseconds()
	meta.Model = model
	return Result{Text: lastText, Meta: meta}, nil
}

func (l *Loop) tryParseStructured(text string) (any, bool) {
	if text == "" {
		return nil, false
	}
	var inst any
	if err := json.Unmarshal([]byte(text), &inst); err != nil {
		return nil, false
	}
	if err := l.schema.Validate(inst); err != nil {
		return nil, false
	}
	return inst, true
}

func renderTemplate(tpl string, data map[string]any) (string, error) {
	if tpl == "" {
		return "", nil
	}
	t, err := template.New("system-prompt").Parse(tpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
