// Package registry provides the registry service implementation: the
// authoritative directory of agents, tools, and capabilities described in
// spec §4.1.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/mcp-mesh/mesh-core/mesh"
	"github.com/mcp-mesh/mesh-core/registry/store"
	"github.com/mcp-mesh/mesh-core/runtime/telemetry"
)

type (
	// HealthTracker runs the periodic sweep described in spec §4.1 "Health
	// monitor": agents older than 3×heartbeat_interval move to unhealthy;
	// older than 10×heartbeat_interval move to offline and are excluded from
	// resolution. Sweep returns the transitions, which
	// Registry.NotifyHealthTransitions publishes as HealthChanged topology
	// events; Run discards them.
	HealthTracker interface {
		// Sweep evaluates every stored agent's last_seen against its own
		// heartbeat_interval_s and updates status in the store. It returns
		// the set of agents whose status changed.
		Sweep(ctx context.Context) ([]Transition, error)
		// Run starts a goroutine that calls Sweep every interval until ctx
		// is canceled.
		Run(ctx context.Context, interval time.Duration)
		// Close stops any running sweep loop.
		Close()
	}

	// Transition records one agent's observed status change during a sweep.
	Transition struct {
		AgentID string
		From    mesh.AgentStatus
		To      mesh.AgentStatus
	}

	// HealthTrackerOption configures optional health tracker settings.
	HealthTrackerOption func(*healthTrackerOptions)

	healthTrackerOptions struct {
		unhealthyMultiplier int
		offlineMultiplier   int
		logger              telemetry.Logger
	}

	healthTracker struct {
		store   store.Store
		opts    healthTrackerOptions
		closeCh chan struct{}
		once    sync.Once
	}
)

const (
	// DefaultUnhealthyMultiplier is the default N in "N × heartbeat_interval"
	// after which a non-contacting agent is marked unhealthy.
	DefaultUnhealthyMultiplier = 3
	// DefaultOfflineMultiplier is the default N in "N × heartbeat_interval"
	// after which a non-contacting agent is evicted (marked offline).
	DefaultOfflineMultiplier = 10
)

// WithUnhealthyMultiplier overrides DefaultUnhealthyMultiplier.
func WithUnhealthyMultiplier(n int) HealthTrackerOption {
	return func(o *healthTrackerOptions) { o.unhealthyMultiplier = n }
}

// WithOfflineMultiplier overrides DefaultOfflineMultiplier.
func WithOfflineMultiplier(n int) HealthTrackerOption {
	return func(o *healthTrackerOptions) { o.offlineMultiplier = n }
}

// WithHealthLogger sets the logger used for transition and sweep-error logs.
func WithHealthLogger(l telemetry.Logger) HealthTrackerOption {
	return func(o *healthTrackerOptions) { o.logger = l }
}

// NewHealthTracker creates a HealthTracker sweeping the given store.
func NewHealthTracker(s store.Store, opts ...HealthTrackerOption) HealthTracker {
	options := healthTrackerOptions{
		unhealthyMultiplier: DefaultUnhealthyMultiplier,
		offlineMultiplier:   DefaultOfflineMultiplier,
		logger:              telemetry.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &healthTracker{store: s, opts: options, closeCh: make(chan struct{})}
}

func (h *healthTracker) Sweep(ctx context.Context) ([]Transition, error) {
	recs, err := h.store.ListAgents(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var transitions []Transition
	for _, rec := range recs {
		if rec.Status == mesh.StatusOffline {
			continue
		}
		interval := time.Duration(rec.HeartbeatIntervalS) * time.Second
		if interval <= 0 {
			continue
		}
		age := now.Sub(rec.LastSeen)

		next := rec.Status
		switch {
		case age >= time.Duration(h.opts.offlineMultiplier)*interval:
			next = mesh.StatusOffline
		case age >= time.Duration(h.opts.unhealthyMultiplier)*interval:
			next = mesh.StatusUnhealthy
		}
		if next == rec.Status {
			continue
		}

		from := rec.Status
		rec.Status = next
		if err := h.store.SaveAgent(ctx, rec); err != nil {
			h.opts.logger.Error(ctx, "health sweep save failed", "agent_id", rec.AgentID, "err", err)
			continue
		}
		h.opts.logger.Info(ctx, "agent health transition", "agent_id", rec.AgentID, "from", from, "to", next)
		transitions = append(transitions, Transition{AgentID: rec.AgentID, From: from, To: next})
	}
	return transitions, nil
}

func (h *healthTracker) Run(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.closeCh:
				return
			case <-ticker.C:
				if _, err := h.Sweep(ctx); err != nil {
					h.opts.logger.Error(ctx, "health sweep failed", "err", err)
				}
			}
		}
	}()
}

func (h *healthTracker) Close() {
	h.once.Do(func() { close(h.closeCh) })
}
