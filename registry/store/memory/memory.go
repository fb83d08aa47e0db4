// Package memory provides an in-memory implementation of the registry store.
//
// This implementation is suitable for development, testing, and single-node
// deployments where persistence across restarts is not required. registry.New
// has no default store: it returns an error when no Store is configured.
package memory

import (
	"context"
	"sync"

	"github.com/mcp-mesh/mesh-core/mesh"
	"github.com/mcp-mesh/mesh-core/registry/store"
)

// Store is an in-memory implementation of store.Store. It is safe for
// concurrent use.
type Store struct {
	mu    sync.RWMutex
	byID  map[string]*mesh.AgentRecord
	byKey map[string]string // (namespace/name) -> agent_id
}

var _ store.Store = (*Store)(nil)

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		byID:  make(map[string]*mesh.AgentRecord),
		byKey: make(map[string]string),
	}
}

// SaveAgent stores or replaces the AgentRecord keyed by (namespace, name).
func (s *Store) SaveAgent(ctx context.Context, rec *mesh.AgentRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rec.AgentSpec.Key()
	if existing, ok := s.byKey[key]; ok && existing != rec.AgentID {
		return store.ErrConflict
	}
	cp := *rec
	s.byID[rec.AgentID] = &cp
	s.byKey[key] = rec.AgentID
	return nil
}

// GetAgent retrieves an agent by id.
func (s *Store) GetAgent(ctx context.Context, agentID string) (*mesh.AgentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[agentID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// GetAgentByKey retrieves an agent by (namespace, name).
func (s *Store) GetAgentByKey(ctx context.Context, namespace, name string) (*mesh.AgentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	id, ok := s.byKey[keyOf(namespace, name)]
	s.mu.RUnlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.GetAgent(ctx, id)
}

// DeleteAgent removes an agent by id.
func (s *Store) DeleteAgent(ctx context.Context, agentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[agentID]
	if !ok {
		return store.ErrNotFound
	}
	delete(s.byID, agentID)
	delete(s.byKey, rec.AgentSpec.Key())
	return nil
}

// ListAgents returns every stored agent.
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

// ListByCapability returns every agent exposing the given capability.
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

func keyOf(namespace, name string) string {
	if namespace == "" {
		namespace = "default"
	}
	return namespace + "/" + name
}
