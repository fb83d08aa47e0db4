// Package heartbeat implements the per-agent heartbeat engine described in
// spec §4.2: one cooperative goroutine that probes the registry, sends
// periodic full heartbeats with a content hash, diffs the returned topology
// against the last accepted snapshot, and drives the event bus and proxy
// table from the result. Grounded on registry/health_tracker.go's
// ticker/consecutive-failure idiom and runtime/a2a/retry for backoff on
// transient registry failures.
package heartbeat

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/mcp-mesh/mesh-core/mesh"
	"github.com/mcp-mesh/mesh-core/runtime/a2a/retry"
	"github.com/mcp-mesh/mesh-core/runtime/eventbus"
	"github.com/mcp-mesh/mesh-core/runtime/proxy"
	"github.com/mcp-mesh/mesh-core/runtime/telemetry"
	"github.com/mcp-mesh/mesh-core/runtime/topology"
)

const (
	// DefaultFullHeartbeatEvery is K from spec §4.2 item 2: a full heartbeat
	// with content hash is sent every K probe iterations.
	DefaultFullHeartbeatEvery = 6
	// DefaultDisconnectThreshold is the consecutive HEAD-probe failure count
	// after which the engine emits RegistryDisconnected and slows down.
	DefaultDisconnectThreshold = 5
	// DefaultSlowProbeMultiplier scales the probe interval after the
	// disconnect threshold is crossed.
	DefaultSlowProbeMultiplier = 5
	// DefaultUnregisterDeadline bounds the final DELETE /agents/{id} call on
	// shutdown (spec §4.2: "bounded deadline (default 2s)").
	DefaultUnregisterDeadline = 2 * time.Second
)

// Engine runs the heartbeat loop for one agent.
type Engine struct {
	client   *RegistryClient
	spec     mesh.AgentSpec
	endpoint string
	bus      *eventbus.Bus
	invoker  *proxy.Invoker
	logger   telemetry.Logger

	agentID  string
	snapshot topology.Snapshot
	lastHash string

	fullEvery    int
	disconnectAt int
	slowFactor   int

	connected atomic.Bool
}

// Option configures optional Engine behavior.
type Option func(*Engine)

// WithLogger sets the logger used for probe/heartbeat failures.
func WithLogger(l telemetry.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithFullHeartbeatEvery overrides DefaultFullHeartbeatEvery.
func WithFullHeartbeatEvery(k int) Option {
	return func(e *Engine) {
		if k > 0 {
			e.fullEvery = k
		}
	}
}

// NewEngine constructs an Engine for spec, registered at endpoint, pushing
// lifecycle events onto bus and installing resolved dependencies into
// invoker's proxy table.
func NewEngine(client *RegistryClient, spec mesh.AgentSpec, endpoint string, bus *eventbus.Bus, invoker *proxy.Invoker, opts ...Option) *Engine {
	e := &Engine{
		client:       client,
		spec:         spec,
		endpoint:     endpoint,
		bus:          bus,
		invoker:      invoker,
		logger:       telemetry.NewNoopLogger(),
		snapshot:     topology.Snapshot{},
		fullEvery:    DefaultFullHeartbeatEvery,
		disconnectAt: DefaultDisconnectThreshold,
		slowFactor:   DefaultSlowProbeMultiplier,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.connected.Store(true)
	return e
}

// Connected reports whether the most recent HEAD probe succeeded (or none
// has failed enough times yet to cross the disconnect threshold). Agent
// lifecycle code uses this to distinguish Registered(healthy) from a
// Degraded state without needing to consume the event bus itself (spec §3:
// "Registered(healthy) → [Degraded ↔ Healthy]*").
func (e *Engine) Connected() bool { return e.connected.Load() }

// AgentID returns the ID assigned by Register. Empty before Register
// succeeds.
func (e *Engine) AgentID() string { return e.agentID }

// Register performs the initial registration, pushes AgentRegistered (or
// RegistrationFailed) onto the bus, and then installs the resolved topology,
// so any DependencyAvailable events follow AgentRegistered.
func (e *Engine) Register(ctx context.Context) error {
	result, err := e.client.Register(ctx, e.spec, e.endpoint)
	if err != nil {
		e.bus.Push(eventbus.NewRegistrationFailed(err))
		return err
	}
	e.agentID = result.AgentID
	e.lastHash = contentHash(e.spec)
	e.bus.Push(eventbus.NewAgentRegistered(e.agentID, result.ResourceVersion))
	e.applyTopology(result.ResolvedTopology)
	return nil
}

// Run drives the probe/heartbeat loop until ctx is canceled, then performs
// the shutdown sequence: DELETE /agents/{id} within DefaultUnregisterDeadline,
// emit Shutdown, close the bus.
func (e *Engine) Run(ctx context.Context) {
	interval := time.Duration(e.spec.HeartbeatIntervalS) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	current := interval
	slow := interval * time.Duration(e.slowFactor)

	ticker := time.NewTicker(current)
	defer ticker.Stop()

	consecutiveFailures := 0
	iteration := 0

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return
		case <-ticker.C:
			iteration++
			if err := e.client.Probe(ctx, e.agentID); err != nil {
				consecutiveFailures++
				e.logger.Warn(ctx, "registry probe failed", "agent_id", e.agentID, "err", err, "consecutive", consecutiveFailures)
				if consecutiveFailures == e.disconnectAt {
					e.connected.Store(false)
					e.bus.Push(eventbus.NewRegistryDisconnected())
					ticker.Reset(slow)
					current = slow
				}
			} else {
				if consecutiveFailures >= e.disconnectAt {
					e.connected.Store(true)
					e.bus.Push(eventbus.NewRegistryConnected())
				}
				consecutiveFailures = 0
				if current != interval {
					ticker.Reset(interval)
					current = interval
				}
			}

			if iteration%e.fullEvery == 0 {
				e.sendFullHeartbeat(ctx)
			}
		}
	}
}

func (e *Engine) sendFullHeartbeat(ctx context.Context) {
	hash := contentHash(e.spec)
	var specArg *mesh.AgentSpec
	if hash != e.lastHash {
		specArg = &e.spec
	}

	var result mesh.HeartbeatResult
	err := retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
		r, err := e.client.Heartbeat(ctx, e.agentID, mesh.StatusHealthy, hash, specArg)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		e.logger.Warn(ctx, "full heartbeat failed", "agent_id", e.agentID, "err", err)
		return
	}
	e.lastHash = hash
	if result.NotModified {
		return
	}
	e.applyTopology(result.Topology)
}

// applyTopology diffs incoming against the last accepted snapshot and
// pushes one event per change, then installs the new bindings into the
// proxy table (spec §4.2 items 3-4).
func (e *Engine) applyTopology(incoming []mesh.ToolRef) {
	changes, next := topology.Diff(e.snapshot, incoming)
	e.snapshot = next

	table := e.invoker.Table()
	for _, ch := range changes {
		switch ch.Kind {
		case topology.Available:
			table = table.WithBinding(ch.Capability, []mesh.ToolRef{ch.Ref})
			e.bus.Push(eventbus.NewDependencyAvailable(ch.Capability, ch.Ref.AgentID, ch.Ref.Endpoint))
		case topology.Changed:
			table = table.WithBinding(ch.Capability, []mesh.ToolRef{ch.Ref})
			e.bus.Push(eventbus.NewDependencyChanged(ch.Capability, ch.Ref.AgentID, ch.Ref.Endpoint))
		case topology.Unavailable:
			table = table.WithBinding(ch.Capability, nil)
			e.bus.Push(eventbus.NewDependencyUnavailable(ch.Capability))
		}
	}
	e.invoker.SetTable(table)
}

func (e *Engine) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultUnregisterDeadline)
	defer cancel()
	if e.agentID != "" {
		if err := e.client.Unregister(ctx, e.agentID); err != nil {
			e.logger.Warn(ctx, "unregister on shutdown failed", "agent_id", e.agentID, "err", err)
		}
	}
	e.bus.Close()
}

func contentHash(spec mesh.AgentSpec) string {
	data, _ := json.Marshal(spec)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
