// Package replicated provides a read-replica wrapper around another
// store.Store. The registry is single-writer with optional read replicas
// (spec §1 Non-goals: "no strong consistency across registry replicas").
// A replicated.Store forwards every write to the primary and serves reads
// from a locally cached copy, kept current by feeding it the same
// topology-change events the registry publishes over GET /events — so reads
// never wait on a network round-trip to the primary, at the cost of reads
// that may lag the primary by up to one event delivery. Writes still go to
// the primary synchronously.
package replicated

import (
	"context"
	"sync"

	"github.com/mcp-mesh/mesh-core/mesh"
	"github.com/mcp-mesh/mesh-core/registry/store"
)

// Store is a read-replica store.Store implementation.
type Store struct {
	primary store.Store

	mu    sync.RWMutex
	byID  map[string]*mesh.AgentRecord
	byKey map[string]string
}

var _ store.Store = (*Store)(nil)

// New creates a replicated store fronting the given primary. Callers should
// call Prime once at startup (e.g. from ListAgents on the primary) and then
// feed every subsequent topology event to Apply/Remove as it arrives from
// GET /events.
func New(primary store.Store) *Store {
	return &Store{
		primary: primary,
		byID:    make(map[string]*mesh.AgentRecord),
		byKey:   make(map[string]string),
	}
}

// Prime seeds the local cache from a full snapshot, typically the result of
// calling ListAgents against the primary once at startup.
func (s *Store) Prime(recs []*mesh.AgentRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range recs {
		s.applyLocked(rec)
	}
}

// Apply updates the local cache with a newer AgentRecord observed from the
// event stream. Records with a resource_version older than the cached one
// are ignored (invariant 3).
func (s *Store) Apply(rec *mesh.AgentRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byID[rec.AgentID]; ok && existing.ResourceVersion > rec.ResourceVersion {
		return
	}
	s.applyLocked(rec)
}

func (s *Store) applyLocked(rec *mesh.AgentRecord) {
	cp := *rec
	s.byID[rec.AgentID] = &cp
	s.byKey[rec.AgentSpec.Key()] = rec.AgentID
}

// Remove evicts an agent from the local cache, mirroring a DependencyUnavailable
// or offline-eviction event observed from the primary.
func (s *Store) Remove(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.byID[agentID]; ok {
		delete(s.byKey, rec.AgentSpec.Key())
		delete(s.byID, agentID)
	}
}

// SaveAgent forwards the write to the primary and, on success, updates the
// local cache so a subsequent local read observes it without waiting for
// the event stream to redeliver it.
func (s *Store) SaveAgent(ctx context.Context, rec *mesh.AgentRecord) error {
	if err := s.primary.SaveAgent(ctx, rec); err != nil {
		return err
	}
	s.Apply(rec)
	return nil
}

// DeleteAgent forwards the write to the primary and evicts the local cache entry.
func (s *Store) DeleteAgent(ctx context.Context, agentID string) error {
	if err := s.primary.DeleteAgent(ctx, agentID); err != nil {
		return err
	}
	s.Remove(agentID)
	return nil
}

// GetAgent serves from the local cache, falling back to the primary on a
// cache miss (e.g. right after this replica started, before Prime ran).
func (s *Store) GetAgent(ctx context.Context, agentID string) (*mesh.AgentRecord, error) {
	s.mu.RLock()
	rec, ok := s.byID[agentID]
	s.mu.RUnlock()
	if ok {
		cp := *rec
		return &cp, nil
	}
	return s.primary.GetAgent(ctx, agentID)
}

// GetAgentByKey serves from the local cache, falling back to the primary on miss.
func (s *Store) GetAgentByKey(ctx context.Context, namespace, name string) (*mesh.AgentRecord, error) {
	s.mu.RLock()
	key := namespace
	if key == "" {
		key = "default"
	}
	key += "/" + name
	id, ok := s.byKey[key]
	s.mu.RUnlock()
	if ok {
		return s.GetAgent(ctx, id)
	}
	return s.primary.GetAgentByKey(ctx, namespace, name)
}

// ListAgents always serves from the local cache.
func (s *Store) ListAgents(ctx context.Context) ([]*mesh.AgentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*mesh.AgentRecord, 0, len(s.byID))
	for _, rec := range s.byID {
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

// ListByCapability always serves from the local cache.
func (s *Store) ListByCapability(ctx context.Context, capability string) ([]*mesh.AgentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*mesh.AgentRecord
	for _, rec := range s.byID {
		for _, tool := range rec.Tools {
			if tool.Capability == capability {
				cp := *rec
				out = append(out, &cp)
				break
			}
		}
	}
	return out, nil
}
