// Package mongo provides a MongoDB implementation of the registry store.
//
// This implementation persists AgentRecord documents to MongoDB for
// durability across restarts, suitable for production deployments. The
// derived capabilities/{capability} index from spec §6 is not a separate
// collection here — ListByCapability queries the agents collection
// directly, since MongoDB's query planner makes a dedicated index
// collection unnecessary at registry scale.
package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/mcp-mesh/mesh-core/mesh"
	"github.com/mcp-mesh/mesh-core/registry/store"
)

// Store is a MongoDB implementation of store.Store.
type Store struct {
	collection *mongo.Collection
}

var _ store.Store = (*Store)(nil)

// document is the MongoDB representation of a mesh.AgentRecord, keyed by
// agent_id so repeated SaveAgent calls for the same agent are idempotent.
type document struct {
	ID              string          `bson:"_id"`
	Namespace       string          `bson:"namespace"`
	Name            string          `bson:"name"`
	Record          mesh.AgentRecord `bson:"record"`
}

// New creates a new MongoDB store using the provided collection. Callers
// should ensure a unique index on {namespace, name} and a non-unique index
// on "record.tools.capability" for ListByCapability.
func New(collection *mongo.Collection) *Store {
	return &Store{collection: collection}
}

// EnsureIndexes creates the indexes New's doc comment describes. Safe to
// call repeatedly; MongoDB treats identical index creation as a no-op.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "namespace", Value: 1}, {Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "record.tools.capability", Value: 1}}},
	})
	return err
}

// SaveAgent stores or replaces the AgentRecord document.
func (s *Store) SaveAgent(ctx context.Context, rec *mesh.AgentRecord) error {
	ns := rec.Namespace
	if ns == "" {
		ns = "default"
	}
	doc := document{ID: rec.AgentID, Namespace: ns, Name: rec.Name, Record: *rec}
	opts := options.Replace().SetUpsert(true)
	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": rec.AgentID}, doc, opts)
	if err != nil {
		return fmt.Errorf("mongodb save agent %q: %w", rec.AgentID, err)
	}
	return nil
}

// GetAgent retrieves an agent by id.
func (s *Store) GetAgent(ctx context.Context, agentID string) (*mesh.AgentRecord, error) {
	var doc document
	err := s.collection.FindOne(ctx, bson.M{"_id": agentID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("mongodb get agent %q: %w", agentID, err)
	}
	return &doc.Record, nil
}

// GetAgentByKey retrieves an agent by (namespace, name).
func (s *Store) GetAgentByKey(ctx context.Context, namespace, name string) (*mesh.AgentRecord, error) {
	if namespace == "" {
		namespace = "default"
	}
	var doc document
	err := s.collection.FindOne(ctx, bson.M{"namespace": namespace, "name": name}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("mongodb get agent %s/%s: %w", namespace, name, err)
	}
	return &doc.Record, nil
}

// DeleteAgent removes an agent by id.
func (s *Store) DeleteAgent(ctx context.Context, agentID string) error {
	result, err := s.collection.DeleteOne(ctx, bson.M{"_id": agentID})
	if err != nil {
		return fmt.Errorf("mongodb delete agent %q: %w", agentID, err)
	}
	if result.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListAgents returns every stored agent.
func (s *Store) ListAgents(ctx context.Context) ([]*mesh.AgentRecord, error) {
	cursor, err := s.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("mongodb list agents: %w", err)
	}
	defer cursor.Close(ctx)

	var out []*mesh.AgentRecord
	for cursor.Next(ctx) {
		var doc document
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongodb decode agent: %w", err)
		}
		rec := doc.Record
		out = append(out, &rec)
	}
	return out, cursor.Err()
}

// ListByCapability returns every agent exposing the given capability.
func (s *Store) ListByCapability(ctx context.Context, capability string) ([]*mesh.AgentRecord, error) {
	cursor, err := s.collection.Find(ctx, bson.M{"record.tools.capability": capability})
	if err != nil {
		return nil, fmt.Errorf("mongodb list agents by capability %q: %w", capability, err)
	}
	defer cursor.Close(ctx)

	var out []*mesh.AgentRecord
	for cursor.Next(ctx) {
		var doc document
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongodb decode agent: %w", err)
		}
		rec := doc.Record
		out = append(out, &rec)
	}
	return out, cursor.Err()
}
