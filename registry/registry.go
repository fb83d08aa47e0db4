// Package registry implements the authoritative directory of agents, tools,
// and capabilities described in spec §4.1: registration, heartbeat
// processing, discovery/resolution, topology snapshots, and health sweeping.
// It is single-writer per spec §1 — callers run one Registry per store, with
// registry/store/replicated offering read-replica fan-out on top.
package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mcp-mesh/mesh-core/mesh"
	"github.com/mcp-mesh/mesh-core/registry/resolver"
	"github.com/mcp-mesh/mesh-core/registry/store"
	"github.com/mcp-mesh/mesh-core/runtime/telemetry"
)

type (
	// Registry is the in-process authority over agent registration,
	// heartbeat processing, discovery, and topology resolution. It holds no
	// network listener itself; Service wraps one in a gorilla/mux REST API.
	Registry struct {
		store  store.Store
		health HealthTracker
		stream StreamManager
		logger telemetry.Logger

		resourceVersion uint64 // atomic; global monotonic cursor for TopologyEvents
		keyLocks        sync.Map
	}

	// Config wires a Registry's dependencies. Store is required; Health and
	// Stream default to a last_seen-based tracker and an in-process
	// StreamManager respectively when left nil.
	Config struct {
		Store  store.Store
		Health HealthTracker
		Stream StreamManager
		Logger telemetry.Logger
	}
)

// New builds a Registry. The caller owns the lifetime of cfg.Store; New does
// not take ownership of anything that needs closing beyond what Close does.
func New(cfg Config) (*Registry, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("registry: store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	stream := cfg.Stream
	if stream == nil {
		stream = NewStreamManager()
	}
	health := cfg.Health
	if health == nil {
		health = NewHealthTracker(cfg.Store, WithHealthLogger(logger))
	}
	return &Registry{
		store:  cfg.Store,
		health: health,
		stream: stream,
		logger: logger,
	}, nil
}

// Stream returns the registry's event stream manager, for wiring into the
// `/events` HTTP handler.
func (r *Registry) Stream() StreamManager { return r.stream }

// Health returns the registry's health tracker, for wiring into a periodic
// sweep loop at startup.
func (r *Registry) Health() HealthTracker { return r.health }

// Close stops the health tracker sweep loop and closes the event stream.
func (r *Registry) Close() {
	r.health.Close()
	r.stream.Close()
}

func (r *Registry) lockFor(key string) *sync.Mutex {
	v, _ := r.keyLocks.LoadOrStore(key, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Register implements `POST /agents` (spec §4.1). It is idempotent by
// (namespace, name): re-registering the same key reuses the existing
// agent_id, recomputes the capability index implicitly via the store, and
// emits a topology event to dependents.
func (r *Registry) Register(ctx context.Context, spec mesh.AgentSpec, endpoint string) (mesh.RegisterResult, error) {
	if err := validateSpec(spec); err != nil {
		return mesh.RegisterResult{}, err
	}

	key := spec.Key()
	mu := r.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	existing, err := r.store.GetAgentByKey(ctx, spec.Namespace, spec.Name)
	var agentID string
	switch {
	case errors.Is(err, store.ErrNotFound):
		agentID = uuid.NewString()
	case err != nil:
		return mesh.RegisterResult{}, err
	default:
		agentID = existing.AgentID
	}

	rv := atomic.AddUint64(&r.resourceVersion, 1)
	rec := &mesh.AgentRecord{
		AgentSpec:       spec,
		AgentID:         agentID,
		Endpoint:        endpoint,
		Status:          mesh.StatusHealthy,
		LastSeen:        time.Now(),
		ResourceVersion: rv,
		ContentHash:     contentHash(spec),
	}
	if err := r.store.SaveAgent(ctx, rec); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return mesh.RegisterResult{}, &mesh.ConflictingRegistrationError{
				Namespace: spec.Namespace, Name: spec.Name, Existing: agentID,
			}
		}
		return mesh.RegisterResult{}, err
	}

	kind := EventAgentRegistered
	if existing != nil {
		kind = EventAgentUpdated
	}
	r.publishForCapabilities(rv, rec, kind)

	topo, err := r.resolveTopology(ctx, rec)
	if err != nil {
		r.logger.Warn(ctx, "resolve topology after register failed", "agent_id", agentID, "err", err)
	}

	return mesh.RegisterResult{AgentID: agentID, ResourceVersion: rv, ResolvedTopology: topo}, nil
}

// Touch implements `HEAD /agents/{id}`: a cheap liveness ack that refreshes
// last_seen without bumping the resource_version or emitting topology
// events.
func (r *Registry) Touch(ctx context.Context, agentID string) error {
	rec, err := r.store.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	rec.LastSeen = time.Now()
	return r.store.SaveAgent(ctx, rec)
}

// Heartbeat implements `POST /agents/{id}/heartbeat`: a conditional full
// re-register carrying a content hash. If the hash matches the stored
// record the heartbeat is a no-op status refresh (NotModified); otherwise it
// is treated as an update, bumping the resource_version and emitting a
// topology event to dependents.
func (r *Registry) Heartbeat(ctx context.Context, agentID string, status mesh.AgentStatus, newContentHash string, spec *mesh.AgentSpec) (mesh.HeartbeatResult, error) {
	rec, err := r.store.GetAgent(ctx, agentID)
	if err != nil {
		return mesh.HeartbeatResult{}, err
	}

	mu := r.lockFor(rec.AgentSpec.Key())
	mu.Lock()
	defer mu.Unlock()

	// Re-fetch under lock: another writer may have updated the record
	// between the lookup above and acquiring the per-key lock.
	rec, err = r.store.GetAgent(ctx, agentID)
	if err != nil {
		return mesh.HeartbeatResult{}, err
	}

	if status != "" {
		rec.Status = status
	}
	rec.LastSeen = time.Now()

	if newContentHash == "" || newContentHash == rec.ContentHash {
		if err := r.store.SaveAgent(ctx, rec); err != nil {
			return mesh.HeartbeatResult{}, err
		}
		topo, err := r.resolveTopology(ctx, rec)
		if err != nil {
			r.logger.Warn(ctx, "resolve topology on heartbeat failed", "agent_id", agentID, "err", err)
		}
		return mesh.HeartbeatResult{ResourceVersion: rec.ResourceVersion, Topology: topo, NotModified: true}, nil
	}

	if spec != nil {
		if err := validateSpec(*spec); err != nil {
			return mesh.HeartbeatResult{}, err
		}
		rec.AgentSpec = *spec
	}
	rec.ContentHash = newContentHash

	rv := atomic.AddUint64(&r.resourceVersion, 1)
	rec.ResourceVersion = rv
	if err := r.store.SaveAgent(ctx, rec); err != nil {
		return mesh.HeartbeatResult{}, err
	}
	r.publishForCapabilities(rv, rec, EventAgentUpdated)

	topo, err := r.resolveTopology(ctx, rec)
	if err != nil {
		r.logger.Warn(ctx, "resolve topology on heartbeat failed", "agent_id", agentID, "err", err)
	}
	return mesh.HeartbeatResult{ResourceVersion: rv, Topology: topo}, nil
}

// Unregister implements `DELETE /agents/{id}`: an explicit unregister that
// emits a topology event for each capability the agent exposed.
func (r *Registry) Unregister(ctx context.Context, agentID string) error {
	rec, err := r.store.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}

	mu := r.lockFor(rec.AgentSpec.Key())
	mu.Lock()
	defer mu.Unlock()

	if err := r.store.DeleteAgent(ctx, agentID); err != nil {
		return err
	}

	rv := atomic.AddUint64(&r.resourceVersion, 1)
	r.publishForCapabilities(rv, rec, EventAgentUnregistered)
	return nil
}

// Discover implements `GET /agents?capability=...`: applies the resolver
// algorithm to every candidate advertising sel.Capability. A missing
// capability returns an empty, non-error list.
func (r *Registry) Discover(ctx context.Context, sel mesh.Selector, mode mesh.FilterMode) ([]mesh.ToolRef, error) {
	candidates, err := r.candidatesForCapability(ctx, sel.Capability)
	if err != nil {
		return nil, err
	}
	return resolver.Resolve(sel, mode, candidates), nil
}

// Topology implements `GET /agents/{id}/topology`: the full resolved
// dependency snapshot for one agent, covering both tool dependencies and
// llm_agent provider/filter selectors.
func (r *Registry) Topology(ctx context.Context, agentID string) ([]mesh.ToolRef, error) {
	rec, err := r.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	return r.resolveTopology(ctx, rec)
}

// NotifyHealthTransitions publishes one HealthChanged TopologyEvent per
// Transition the health tracker reports on a sweep. It is meant to be called
// after every HealthTracker.Sweep so health degradation is visible to
// /events consumers the same way explicit writes are.
func (r *Registry) NotifyHealthTransitions(ctx context.Context, transitions []Transition) {
	for _, t := range transitions {
		rec, err := r.store.GetAgent(ctx, t.AgentID)
		if err != nil {
			continue
		}
		rv := atomic.AddUint64(&r.resourceVersion, 1)
		r.publishForCapabilities(rv, rec, EventHealthChanged)
	}
}

func (r *Registry) resolveTopology(ctx context.Context, rec *mesh.AgentRecord) ([]mesh.ToolRef, error) {
	var out []mesh.ToolRef
	var firstErr error

	resolveSel := func(sel mesh.Selector, mode mesh.FilterMode) {
		candidates, err := r.candidatesForCapability(ctx, sel.Capability)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return
		}
		out = append(out, resolver.Resolve(sel, mode, candidates)...)
	}

	for _, ts := range rec.Tools {
		for _, dep := range ts.Dependencies {
			resolveSel(dep, mesh.FilterBestMatch)
		}
	}
	for _, agent := range rec.LLMAgents {
		for _, sel := range agent.Filter {
			mode := agent.FilterMode
			if mode == "" {
				mode = mesh.FilterAll
			}
			resolveSel(sel, mode)
		}
		resolveSel(agent.Provider, mesh.FilterBestMatch)
	}
	return out, firstErr
}

func (r *Registry) candidatesForCapability(ctx context.Context, capability string) ([]resolver.Candidate, error) {
	agents, err := r.store.ListByCapability(ctx, capability)
	if err != nil {
		return nil, err
	}
	var out []resolver.Candidate
	for _, a := range agents {
		for _, ts := range a.Tools {
			if ts.Capability != capability {
				continue
			}
			out = append(out, resolver.Candidate{
				Ref: mesh.ToolRef{
					AgentID:      a.AgentID,
					Endpoint:     a.Endpoint,
					FunctionName: ts.FunctionName,
					Capability:   ts.Capability,
					Tags:         ts.Tags,
					Version:      ts.Version,
					InputSchema:  ts.InputSchema,
				},
				Status: a.Status,
			})
		}
	}
	return out, nil
}

func (r *Registry) publishForCapabilities(rv uint64, rec *mesh.AgentRecord, kind TopologyEventKind) {
	if len(rec.Tools) == 0 {
		r.stream.Publish(TopologyEvent{ResourceVersion: rv, Namespace: rec.Namespace, AgentID: rec.AgentID, Kind: kind})
		return
	}
	seen := make(map[string]bool, len(rec.Tools))
	for _, ts := range rec.Tools {
		if seen[ts.Capability] {
			continue
		}
		seen[ts.Capability] = true
		r.stream.Publish(TopologyEvent{
			ResourceVersion: rv,
			Namespace:       rec.Namespace,
			AgentID:         rec.AgentID,
			Capability:      ts.Capability,
			Kind:            kind,
		})
	}
}

func validateSpec(spec mesh.AgentSpec) error {
	if spec.Name == "" {
		return &mesh.InvalidSpecError{Field: "name", Reason: "must not be empty"}
	}
	if spec.HeartbeatIntervalS <= 0 {
		return &mesh.InvalidSpecError{Field: "heartbeat_interval_s", Reason: "must be positive"}
	}
	seen := make(map[string]bool, len(spec.Tools))
	for _, ts := range spec.Tools {
		if ts.FunctionName == "" {
			return &mesh.InvalidSpecError{Field: "tools[].function_name", Reason: "must not be empty"}
		}
		if ts.Capability == "" {
			return &mesh.InvalidSpecError{Field: "tools[].capability", Reason: "must not be empty"}
		}
		if seen[ts.FunctionName] {
			return &mesh.InvalidSpecError{Field: "tools[].function_name", Reason: fmt.Sprintf("duplicate function_name %q", ts.FunctionName)}
		}
		seen[ts.FunctionName] = true
	}
	return nil
}

func contentHash(spec mesh.AgentSpec) string {
	b, _ := json.Marshal(spec)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
