// Package eventbus implements the bounded MPSC event queue described in spec
// §4.5: the SDK-facing "Event Bus & SDK Contract". It generalizes the typed
// Event interface and fan-out idiom from runtime/agent/hooks into a
// pull-based queue, since the contract here is a next_event(timeout)
// primitive rather than a push-callback subscriber.
package eventbus

import (
	"context"
	"sync"
	"time"
)

// Kind enumerates every mesh lifecycle event the SDK can observe.
type Kind string

const (
	KindAgentRegistered       Kind = "agent_registered"
	KindRegistrationFailed    Kind = "registration_failed"
	KindDependencyAvailable   Kind = "dependency_available"
	KindDependencyUnavailable Kind = "dependency_unavailable"
	KindDependencyChanged     Kind = "dependency_changed"
	KindLlmToolsUpdated       Kind = "llm_tools_updated"
	KindLlmProviderAvailable  Kind = "llm_provider_available"
	KindHealthCheckDue        Kind = "health_check_due"
	KindHealthStatusChanged   Kind = "health_status_changed"
	KindRegistryConnected     Kind = "registry_connected"
	KindRegistryDisconnected  Kind = "registry_disconnected"
	KindShutdown              Kind = "shutdown"
)

// Event is the interface every mesh lifecycle event implements. Consumers
// type-switch on the concrete type to reach event-specific fields.
type Event interface {
	Kind() Kind
	// Slot identifies the dependency slot (capability) a DependencyChanged
	// event refers to. Consecutive DependencyChanged events for the same
	// slot coalesce in the queue; Slot is empty for other event kinds.
	Slot() string
	// Critical marks events the queue must never drop under backpressure:
	// Shutdown and RegistrationFailed.
	Critical() bool
}

type base struct {
	kind     Kind
	slot     string
	critical bool
}

func (b base) Kind() Kind     { return b.kind }
func (b base) Slot() string   { return b.slot }
func (b base) Critical() bool { return b.critical }

type (
	AgentRegisteredEvent struct {
		base
		AgentID         string
		ResourceVersion uint64
	}
	RegistrationFailedEvent struct {
		base
		Err error
	}
	DependencyAvailableEvent struct {
		base
		Capability string
		AgentID    string
		Endpoint   string
	}
	DependencyUnavailableEvent struct {
		base
		Capability string
	}
	DependencyChangedEvent struct {
		base
		Capability string
		AgentID    string
		Endpoint   string
	}
	LlmToolsUpdatedEvent struct {
		base
		AgentName string
	}
	LlmProviderAvailableEvent struct {
		base
		AgentName string
	}
	HealthCheckDueEvent struct{ base }
	HealthStatusChangedEvent struct {
		base
		Status string
	}
	RegistryConnectedEvent    struct{ base }
	RegistryDisconnectedEvent struct{ base }
	ShutdownEvent             struct{ base }
)

func NewAgentRegistered(agentID string, rv uint64) Event {
	return AgentRegisteredEvent{base: base{kind: KindAgentRegistered}, AgentID: agentID, ResourceVersion: rv}
}

func NewRegistrationFailed(err error) Event {
	return RegistrationFailedEvent{base: base{kind: KindRegistrationFailed, critical: true}, Err: err}
}

func NewDependencyAvailable(capability, agentID, endpoint string) Event {
	return DependencyAvailableEvent{base: base{kind: KindDependencyAvailable, slot: capability}, Capability: capability, AgentID: agentID, Endpoint: endpoint}
}

func NewDependencyUnavailable(capability string) Event {
	return DependencyUnavailableEvent{base: base{kind: KindDependencyUnavailable, slot: capability}, Capability: capability}
}

func NewDependencyChanged(capability, agentID, endpoint string) Event {
	return DependencyChangedEvent{base: base{kind: KindDependencyChanged, slot: capability}, Capability: capability, AgentID: agentID, Endpoint: endpoint}
}

func NewLlmToolsUpdated(agentName string) Event {
	return LlmToolsUpdatedEvent{base: base{kind: KindLlmToolsUpdated}, AgentName: agentName}
}

func NewLlmProviderAvailable(agentName string) Event {
	return LlmProviderAvailableEvent{base: base{kind: KindLlmProviderAvailable}, AgentName: agentName}
}

func NewHealthCheckDue() Event { return HealthCheckDueEvent{base: base{kind: KindHealthCheckDue}} }

func NewHealthStatusChanged(status string) Event {
	return HealthStatusChangedEvent{base: base{kind: KindHealthStatusChanged}, Status: status}
}

func NewRegistryConnected() Event {
	return RegistryConnectedEvent{base: base{kind: KindRegistryConnected}}
}

func NewRegistryDisconnected() Event {
	return RegistryDisconnectedEvent{base: base{kind: KindRegistryDisconnected}}
}

func NewShutdown() Event {
	return ShutdownEvent{base: base{kind: KindShutdown, critical: true}}
}

// Bus is a bounded, single-consumer event queue. The heartbeat engine calls
// Push; the SDK drains it with Next. Delivery is ordered and in-process, so at-least-once is unnecessary.
type Bus struct {
	mu       sync.Mutex
	items    []Event
	capacity int
	notify   chan struct{}
	closed   bool
}

// New creates a Bus bounded to capacity events. Per spec §5, callers should
// size capacity to max(64, 4×declared_dependency_count).
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 64
	}
	return &Bus{capacity: capacity, notify: make(chan struct{}, 1)}
}

// Push enqueues ev. If the queue is at capacity, the oldest non-critical
// event is dropped to make room; Shutdown and RegistrationFailed are never
// dropped. Consecutive DependencyChanged events for the same slot coalesce
// into the most recent one.
func (b *Bus) Push(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	if ev.Kind() == KindDependencyChanged {
		if n := len(b.items); n > 0 && b.items[n-1].Kind() == KindDependencyChanged && b.items[n-1].Slot() == ev.Slot() {
			b.items[n-1] = ev
			b.signal()
			return
		}
	}

	if len(b.items) >= b.capacity {
		for i, it := range b.items {
			if !it.Critical() {
				b.items = append(b.items[:i], b.items[i+1:]...)
				break
			}
		}
	}
	b.items = append(b.items, ev)
	b.signal()
}

func (b *Bus) signal() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Next implements the SDK's next_event(timeout) primitive: it blocks until
// an event is available, the context is canceled, or timeout elapses,
// whichever comes first.
func (b *Bus) Next(ctx context.Context, timeout time.Duration) (Event, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		b.mu.Lock()
		if len(b.items) > 0 {
			ev := b.items[0]
			b.items = b.items[1:]
			b.mu.Unlock()
			return ev, true
		}
		closed := b.closed
		b.mu.Unlock()
		if closed {
			return nil, false
		}

		select {
		case <-b.notify:
			continue
		case <-ctx.Done():
			return nil, false
		case <-timer.C:
			return nil, false
		}
	}
}

// Close marks the bus closed and enqueues a final Shutdown event ahead of
// any pending drop, per spec §4.2 ("emits Shutdown and closes the event
// bus"). Close is idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.items = append(b.items, NewShutdown())
	b.signal()
}
