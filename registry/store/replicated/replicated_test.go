package replicated_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcp-mesh/mesh-core/mesh"
	"github.com/mcp-mesh/mesh-core/registry/store/memory"
	"github.com/mcp-mesh/mesh-core/registry/store/replicated"
)

func TestReplicatedStoreReadsFromCache(t *testing.T) {
	ctx := context.Background()
	primary := memory.New()
	replica := replicated.New(primary)

	rec := &mesh.AgentRecord{
		AgentSpec:       mesh.AgentSpec{Name: "hello", Namespace: "default"},
		AgentID:         "agent-1",
		ResourceVersion: 1,
	}
	require.NoError(t, replica.SaveAgent(ctx, rec))

	// The primary itself must have observed the write.
	got, err := primary.GetAgent(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Name)

	// Reads are served from the replica's own cache.
	cached, err := replica.GetAgentByKey(ctx, "default", "hello")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", cached.AgentID)
}

func TestReplicatedStoreIgnoresStaleApply(t *testing.T) {
	replica := replicated.New(memory.New())
	replica.Apply(&mesh.AgentRecord{AgentID: "a", ResourceVersion: 5})
	replica.Apply(&mesh.AgentRecord{AgentID: "a", ResourceVersion: 3})

	got, err := replica.GetAgent(context.Background(), "a")
	require.NoError(t, err)
	assert.EqualValues(t, 5, got.ResourceVersion)
}

func TestReplicatedStoreRemove(t *testing.T) {
	replica := replicated.New(memory.New())
	replica.Apply(&mesh.AgentRecord{
		AgentSpec: mesh.AgentSpec{Name: "hello", Namespace: "default"},
		AgentID:   "a",
	})
	replica.Remove("a")

	_, err := replica.GetAgentByKey(context.Background(), "default", "hello")
	assert.Error(t, err)
}
