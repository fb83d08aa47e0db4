package registry

import (
	"context"
	"sync"
)

// TopologyEventKind classifies one entry on the registry's topology change
// stream (spec §4.1 `GET /events`).
type TopologyEventKind string

const (
	EventAgentRegistered   TopologyEventKind = "agent_registered"
	EventAgentUpdated      TopologyEventKind = "agent_updated"
	EventAgentUnregistered TopologyEventKind = "agent_unregistered"
	EventHealthChanged     TopologyEventKind = "health_changed"
)

// TopologyEvent is one resource-version-stamped change a dependent can react
// to: a new or updated agent exposing a capability, an unregistration, or a
// health transition. The `/events?since=rv` endpoint replays the backlog
// tail above rv and then streams live.
type TopologyEvent struct {
	ResourceVersion uint64            `json:"resource_version"`
	Namespace       string            `json:"namespace"`
	AgentID         string            `json:"agent_id"`
	Capability      string            `json:"capability,omitempty"`
	Kind            TopologyEventKind `json:"kind"`
}

// StreamManager fans out TopologyEvents to /events subscribers, replaying
// any backlog above a requested resource_version cursor before switching a
// subscriber over to live delivery.
type StreamManager interface {
	// Publish appends ev to the backlog and delivers it to every live
	// subscriber. Slow subscribers (full channel) drop the event; they are
	// expected to reconnect with since=<last seen rv> to recover.
	Publish(ev TopologyEvent)

	// Subscribe returns a channel replaying backlog entries with
	// ResourceVersion > since, followed by live events, plus a cancel func
	// the caller must invoke when done listening.
	Subscribe(ctx context.Context, since uint64) (<-chan TopologyEvent, func())

	// Close terminates every live subscriber channel.
	Close()
}

type streamManager struct {
	mu          sync.Mutex
	backlog     []TopologyEvent
	backlogCap  int
	subscribers map[chan TopologyEvent]struct{}
}

// defaultBacklogCap bounds memory use for the /events replay window; readers
// further behind than this must instead re-fetch a topology snapshot via
// GET /agents/{id}/topology.
const defaultBacklogCap = 1000

// NewStreamManager creates a StreamManager with the default backlog size.
func NewStreamManager() StreamManager {
	return &streamManager{
		backlogCap:  defaultBacklogCap,
		subscribers: make(map[chan TopologyEvent]struct{}),
	}
}

func (m *streamManager) Publish(ev TopologyEvent) {
	m.mu.Lock()
	m.backlog = append(m.backlog, ev)
	if len(m.backlog) > m.backlogCap {
		m.backlog = m.backlog[len(m.backlog)-m.backlogCap:]
	}
	subs := make([]chan TopologyEvent, 0, len(m.subscribers))
	for ch := range m.subscribers {
		subs = append(subs, ch)
	}
	m.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (m *streamManager) Subscribe(ctx context.Context, since uint64) (<-chan TopologyEvent, func()) {
	m.mu.Lock()
	var replay []TopologyEvent
	for _, ev := range m.backlog {
		if ev.ResourceVersion > since {
			replay = append(replay, ev)
		}
	}
	ch := make(chan TopologyEvent, len(replay)+64)
	for _, ev := range replay {
		ch <- ev
	}
	m.subscribers[ch] = struct{}{}
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		if _, ok := m.subscribers[ch]; ok {
			delete(m.subscribers, ch)
			close(ch)
		}
		m.mu.Unlock()
	}
	return ch, cancel
}

func (m *streamManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.subscribers {
		close(ch)
	}
	m.subscribers = make(map[chan TopologyEvent]struct{})
}
