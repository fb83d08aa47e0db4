// Package store defines the persistence layer interface for the registry.
// The registry is single-writer (spec §1 Non-goals): implementations need
// not provide cross-replica strong consistency, only durable storage of
// agents/{namespace}/{name} and the derived capabilities/{capability}
// index described in spec §6.
package store

import (
	"context"
	"errors"

	"github.com/mcp-mesh/mesh-core/mesh"
)

// ErrNotFound is returned when an agent is not found in the store.
var ErrNotFound = errors.New("agent not found")

// ErrConflict is returned by SaveAgent when a new (namespace, name) key
// collides with a different agent_id. Resource versions are not compared.
var ErrConflict = errors.New("conflicting registration")

// Store is the persistence layer for AgentRecord documents and the derived
// capability index. Implementations must be safe for concurrent use.
type Store interface {
	// SaveAgent stores or replaces the AgentRecord keyed by (namespace, name).
	// Callers are responsible for bumping ResourceVersion before calling.
	SaveAgent(ctx context.Context, rec *mesh.AgentRecord) error

	// GetAgent retrieves an agent by id. Returns ErrNotFound if absent.
	GetAgent(ctx context.Context, agentID string) (*mesh.AgentRecord, error)

	// GetAgentByKey retrieves an agent by (namespace, name). Returns
	// ErrNotFound if absent.
	GetAgentByKey(ctx context.Context, namespace, name string) (*mesh.AgentRecord, error)

	// DeleteAgent removes an agent by id. Returns ErrNotFound if absent.
	DeleteAgent(ctx context.Context, agentID string) error

	// ListAgents returns every stored agent, regardless of status.
	ListAgents(ctx context.Context) ([]*mesh.AgentRecord, error)

	// ListByCapability returns every agent exposing at least one ToolSpec
	// advertising the given capability. This is the derived
	// capabilities/{capability} view from spec §6; implementations may
	// compute it on the fly or maintain a dedicated index.
	ListByCapability(ctx context.Context, capability string) ([]*mesh.AgentRecord, error)
}
