// Command meshagent is a reference mesh agent process: it loads an
// AgentSpec from disk, registers with the mesh registry, serves one
// in-process "echo" tool, keeps its proxy table current via the heartbeat
// engine, watches its spec file and logs each edit (a changed spec is not
// applied to the running agent), and — if the spec declares an
// llm_agents entry — runs one bounded agentic-loop turn against a resolved
// provider. Matches this repo's cmd-per-service layout, wired through
// meshconfig's ENV>spec>default resolution.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mcp-mesh/mesh-core/mesh"
	"github.com/mcp-mesh/mesh-core/meshconfig"
	"github.com/mcp-mesh/mesh-core/runtime/agent"
	"github.com/mcp-mesh/mesh-core/runtime/heartbeat"
	"github.com/mcp-mesh/mesh-core/runtime/llmloop"
	"github.com/mcp-mesh/mesh-core/runtime/telemetry"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var specPath string
	var prompt string
	var watch bool

	cmd := &cobra.Command{
		Use:   "meshagent",
		Short: "Run a reference mesh agent from an AgentSpec file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if specPath == "" {
				return errors.New("--spec is required")
			}
			return run(cmd.Context(), specPath, prompt, watch)
		},
	}
	cmd.Flags().StringVar(&specPath, "spec", "", "path to an AgentSpec JSON file")
	cmd.Flags().StringVar(&prompt, "prompt", "", "if set, run one llm_agents[0] turn with this user message after startup")
	cmd.Flags().BoolVar(&watch, "watch", true, "watch the spec file and log edits (changes are not applied)")
	return cmd
}

func loadSpec(path string) (mesh.AgentSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return mesh.AgentSpec{}, fmt.Errorf("read spec: %w", err)
	}
	var spec mesh.AgentSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return mesh.AgentSpec{}, fmt.Errorf("parse spec: %w", err)
	}
	if spec.Name == "" {
		return mesh.AgentSpec{}, errors.New("spec.name is required")
	}
	return spec, nil
}

func run(ctx context.Context, specPath, prompt string, watch bool) error {
	logger := telemetry.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	spec, err := loadSpec(specPath)
	if err != nil {
		return err
	}
	resolved := meshconfig.Resolve(spec)

	client := heartbeat.NewRegistryClient(resolved.RegistryURL, nil)
	a := agent.New(spec, client, agent.WithLogger(logger))

	a.RegisterLocalTool("echo", func(_ context.Context, functionName string, arguments map[string]any) (any, bool, error) {
		return arguments, true, nil
	})

	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := a.Start(runCtx); err != nil {
		return fmt.Errorf("start agent: %w", err)
	}
	defer a.Shutdown(context.Background())

	logger.Info(runCtx, "meshagent started", "agent_id", a.AgentID(), "name", spec.Name, "registry_url", resolved.RegistryURL)

	if watch {
		sw, err := meshconfig.WatchSpecFile(specPath, logger, func(updated mesh.AgentSpec) {
			logger.Info(runCtx, "spec file changed, hot-reload not yet applied to a running agent's tool set", "name", updated.Name)
		})
		if err != nil {
			logger.Warn(runCtx, "spec file watch failed, continuing without hot-reload", "err", err)
		} else {
			defer sw.Close()
		}
	}

	if prompt != "" {
		if len(spec.LLMAgents) == 0 {
			return errors.New("--prompt given but spec declares no llm_agents")
		}
		if err := runLLMTurn(runCtx, a, spec.LLMAgents[0], prompt, logger); err != nil {
			return err
		}
	}

	<-runCtx.Done()
	logger.Info(context.Background(), "meshagent shutting down", "agent_id", a.AgentID())
	return nil
}

func runLLMTurn(ctx context.Context, a *agent.Agent, spec mesh.LlmAgentSpec, prompt string, logger telemetry.Logger) error {
	provider, err := resolveProvider(spec, a)
	if err != nil {
		return fmt.Errorf("resolve provider: %w", err)
	}

	loop, err := llmloop.New(provider, a.Invoker(), spec, llmloop.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("build llm loop: %w", err)
	}

	var tools []mesh.ToolRef
	for _, sel := range spec.Filter {
		tools = append(tools, a.Invoker().Table().LookupAll(sel.Capability)...)
	}

	result, err := loop.Run(ctx, tools, nil, nil, prompt)
	if err != nil {
		return fmt.Errorf("run llm loop: %w", err)
	}

	logger.Info(ctx, "llm loop turn complete",
		"text", result.Text,
		"iterations", result.Meta.Iterations,
		"input_tokens", result.Meta.InputTokens,
		"output_tokens", result.Meta.OutputTokens,
		"latency_ms", result.Meta.LatencyMs,
	)
	return nil
}

// resolveProvider implements spec §4.4's provider-selector rule: llm.anthropic
// and llm.openai map to directly-configured SDK providers (keys read from
// the process environment); anything else routes through another mesh tool
// via llmloop.MeshProvider.
func resolveProvider(spec mesh.LlmAgentSpec, a *agent.Agent) (llmloop.Provider, error) {
	var anthropic llmloop.Provider
	var openai llmloop.Provider

	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		model := os.Getenv("ANTHROPIC_MODEL")
		if model == "" {
			model = "claude-sonnet-4-20250514"
		}
		p, err := llmloop.NewAnthropicProviderFromAPIKey(apiKey, model)
		if err != nil {
			return nil, err
		}
		anthropic = p
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		model := os.Getenv("OPENAI_MODEL")
		if model == "" {
			model = "gpt-4o"
		}
		p, err := llmloop.NewOpenAIProviderFromAPIKey(apiKey, model)
		if err != nil {
			return nil, err
		}
		openai = p
	}

	return llmloop.SelectProvider(spec.Provider, a.Invoker(), anthropic, openai)
}
