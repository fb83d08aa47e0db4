// Package agent drives one process's mesh lifecycle state machine (spec §3:
// Constructed → Registering → Registered(healthy) → [Degraded ↔ Healthy]* →
// Shutdown(unregistered) → Terminated), gluing together the heartbeat
// engine, the proxy invoker, the event bus, and the tracing publisher into
// the single handle a host-language SDK binds against.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mcp-mesh/mesh-core/mesh"
	"github.com/mcp-mesh/mesh-core/meshconfig"
	"github.com/mcp-mesh/mesh-core/runtime/eventbus"
	"github.com/mcp-mesh/mesh-core/runtime/heartbeat"
	"github.com/mcp-mesh/mesh-core/runtime/proxy"
	"github.com/mcp-mesh/mesh-core/runtime/telemetry"
	"github.com/mcp-mesh/mesh-core/runtime/tracing"
)

// State is one position in the agent lifecycle (spec §3).
type State string

const (
	StateConstructed State = "constructed"
	StateRegistering State = "registering"
	StateRegistered  State = "registered"
	StateDegraded    State = "degraded"
	StateShutdown    State = "shutdown"
	StateTerminated  State = "terminated"
)

// Agent is the per-process runtime handle: it owns the heartbeat engine,
// the proxy table, the event bus, and (optionally) the trace publisher, and
// exposes the narrow surface a host-language SDK binds its tool functions
// against (RegisterLocalTool, Invoke, NextEvent).
type Agent struct {
	mu    sync.RWMutex
	state State

	spec     mesh.AgentSpec
	resolved meshconfig.Resolved
	logger   telemetry.Logger

	bus       *eventbus.Bus
	invoker   *proxy.Invoker
	engine    *heartbeat.Engine
	publisher *tracing.Publisher

	heartbeatOpts []heartbeat.Option

	cancel  context.CancelFunc
	runDone chan struct{}
}

// Option configures optional Agent behavior.
type Option func(*Agent)

// WithLogger sets the logger used for lifecycle transitions.
func WithLogger(l telemetry.Logger) Option { return func(a *Agent) { a.logger = l } }

// WithPublisher attaches a trace span publisher, closed on Shutdown.
func WithPublisher(p *tracing.Publisher) Option { return func(a *Agent) { a.publisher = p } }

// WithHeartbeatOptions forwards options to the underlying heartbeat.Engine.
func WithHeartbeatOptions(opts ...heartbeat.Option) Option {
	return func(a *Agent) { a.heartbeatOpts = append(a.heartbeatOpts, opts...) }
}

// New constructs an Agent in State Constructed. The spec's http_host/
// http_port are resolved via meshconfig.Resolve before registration so
// Register reports the agent's real, routable endpoint.
func New(spec mesh.AgentSpec, registryClient *heartbeat.RegistryClient, opts ...Option) *Agent {
	resolved := meshconfig.Resolve(spec)
	spec.HTTPHost = resolved.HTTPHost
	if resolved.HTTPPort != 0 {
		spec.HTTPPort = resolved.HTTPPort
	}

	depCount := 0
	for _, tool := range spec.Tools {
		depCount += len(tool.Dependencies)
	}
	busCapacity := depCount * 4
	if busCapacity < 64 {
		busCapacity = 64
	}

	a := &Agent{
		state:    StateConstructed,
		spec:     spec,
		resolved: resolved,
		logger:   telemetry.NewNoopLogger(),
		bus:      eventbus.New(busCapacity),
		invoker:  proxy.NewInvoker("", nil),
	}
	for _, opt := range opts {
		opt(a)
	}

	endpoint := fmt.Sprintf("http://%s:%d", spec.HTTPHost, spec.HTTPPort)
	a.engine = heartbeat.NewEngine(registryClient, spec, endpoint, a.bus, a.invoker, a.heartbeatOpts...)
	return a
}

// RegisterLocalTool installs an in-process handler for capability so
// self-dependency calls bypass HTTP (spec §4.3).
func (a *Agent) RegisterLocalTool(capability string, handler proxy.LocalHandler) {
	a.invoker.RegisterLocal(capability, handler)
}

// State returns the agent's current lifecycle state. Between Registered and
// Terminated, Degraded is reported whenever the heartbeat engine has lost
// contact with the registry (spec §3: "[Degraded ↔ Healthy]*").
func (a *Agent) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.state == StateRegistered && a.engine != nil && !a.engine.Connected() {
		return StateDegraded
	}
	return a.state
}

// AgentID returns the ID assigned by the registry. Empty before Start
// succeeds.
func (a *Agent) AgentID() string { return a.engine.AgentID() }

// Invoker exposes the proxy invoker so a host SDK can dispatch declared
// dependency calls.
func (a *Agent) Invoker() *proxy.Invoker { return a.invoker }

// Start performs Constructed → Registering → Registered: it registers with
// the registry, then spawns the heartbeat loop bound to ctx. Start returns
// once registration completes (success or failure); the heartbeat loop
// continues running in the background until ctx is canceled or Shutdown is
// called.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.state != StateConstructed {
		a.mu.Unlock()
		return fmt.Errorf("agent: Start called in state %q, expected %q", a.state, StateConstructed)
	}
	a.state = StateRegistering
	a.mu.Unlock()

	if err := a.engine.Register(ctx); err != nil {
		a.mu.Lock()
		a.state = StateConstructed
		a.mu.Unlock()
		return err
	}
	a.invoker.SetOwnAgentID(a.engine.AgentID())

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.runDone = make(chan struct{})
	go func() {
		defer close(a.runDone)
		a.engine.Run(runCtx)
	}()

	a.mu.Lock()
	a.state = StateRegistered
	a.mu.Unlock()
	a.logger.Info(ctx, "agent registered", "agent_id", a.engine.AgentID(), "namespace", a.spec.Namespace, "name", a.spec.Name)
	return nil
}

// NextEvent blocks up to timeout for the next lifecycle event the SDK
// should observe (spec's "async fn next_event(&mut self) -> MeshEvent").
func (a *Agent) NextEvent(ctx context.Context, timeout time.Duration) (eventbus.Event, bool) {
	return a.bus.Next(ctx, timeout)
}

// Invoke dispatches one mesh-tool call through the proxy invoker.
func (a *Agent) Invoke(ctx context.Context, capability, functionName string, arguments map[string]any, timeoutMs, retryCount int) (proxy.CallResult, error) {
	return a.invoker.Invoke(ctx, capability, functionName, arguments, timeoutMs, retryCount)
}

// Shutdown drives Registered|Degraded → Shutdown(unregistered) → Terminated:
// it cancels the heartbeat loop (which unregisters within its bounded
// deadline and closes the event bus), waits for it to exit, and closes the
// trace publisher if one was configured.
func (a *Agent) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	if a.state == StateTerminated || a.state == StateShutdown {
		a.mu.Unlock()
		return nil
	}
	a.state = StateShutdown
	cancel := a.cancel
	runDone := a.runDone
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if runDone != nil {
		select {
		case <-runDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if a.publisher != nil {
		a.publisher.Close()
	}

	a.mu.Lock()
	a.state = StateTerminated
	a.mu.Unlock()
	return nil
}
