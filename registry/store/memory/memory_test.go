package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcp-mesh/mesh-core/mesh"
	"github.com/mcp-mesh/mesh-core/registry/store"
	"github.com/mcp-mesh/mesh-core/registry/store/memory"
)

func TestSaveAndGetAgent(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	rec := &mesh.AgentRecord{
		AgentSpec: mesh.AgentSpec{Name: "hello", Namespace: "default"},
		AgentID:   "agent-1",
		Status:    mesh.StatusHealthy,
	}
	require.NoError(t, s.SaveAgent(ctx, rec))

	got, err := s.GetAgent(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Name)

	byKey, err := s.GetAgentByKey(ctx, "default", "hello")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", byKey.AgentID)
}

func TestSaveAgentConflict(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	rec := &mesh.AgentRecord{
		AgentSpec: mesh.AgentSpec{Name: "hello", Namespace: "default"},
		AgentID:   "agent-1",
	}
	require.NoError(t, s.SaveAgent(ctx, rec))

	conflicting := &mesh.AgentRecord{
		AgentSpec: mesh.AgentSpec{Name: "hello", Namespace: "default"},
		AgentID:   "agent-2",
	}
	err := s.SaveAgent(ctx, conflicting)
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestDeleteAgentNotFound(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	err := s.DeleteAgent(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListByCapability(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	require.NoError(t, s.SaveAgent(ctx, &mesh.AgentRecord{
		AgentSpec: mesh.AgentSpec{
			Name: "sys", Namespace: "default",
			Tools: []mesh.ToolSpec{{FunctionName: "date", Capability: "date"}},
		},
		AgentID: "sys-1",
	}))
	require.NoError(t, s.SaveAgent(ctx, &mesh.AgentRecord{
		AgentSpec: mesh.AgentSpec{Name: "other", Namespace: "default"},
		AgentID:   "other-1",
	}))

	recs, err := s.ListByCapability(ctx, "date")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "sys-1", recs[0].AgentID)
}
