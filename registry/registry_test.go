package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcp-mesh/mesh-core/mesh"
	"github.com/mcp-mesh/mesh-core/registry/store/memory"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := New(Config{Store: memory.New()})
	require.NoError(t, err)
	return reg
}

func testSpec(name string) mesh.AgentSpec {
	return mesh.AgentSpec{
		Name:               name,
		Version:            "1.0.0",
		Namespace:          "default",
		HeartbeatIntervalS: 10,
		Tools: []mesh.ToolSpec{
			{FunctionName: "do_thing", Capability: "widgets", Version: "1.0.0", Tags: []string{"fast"}},
		},
	}
}

func TestRegisterIsIdempotentByKey(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	first, err := reg.Register(ctx, testSpec("agent-a"), "http://10.0.0.1:9000")
	require.NoError(t, err)

	second, err := reg.Register(ctx, testSpec("agent-a"), "http://10.0.0.1:9001")
	require.NoError(t, err)

	assert.Equal(t, first.AgentID, second.AgentID)
	assert.Greater(t, second.ResourceVersion, first.ResourceVersion)
}

func TestRegisterRejectsInvalidSpec(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.Register(context.Background(), mesh.AgentSpec{}, "http://x")
	var invalid *mesh.InvalidSpecError
	assert.ErrorAs(t, err, &invalid)
}

func TestHeartbeatNotModifiedWhenHashMatches(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	result, err := reg.Register(ctx, testSpec("agent-b"), "http://10.0.0.2:9000")
	require.NoError(t, err)

	rec, err := reg.store.GetAgent(ctx, result.AgentID)
	require.NoError(t, err)

	hb, err := reg.Heartbeat(ctx, result.AgentID, mesh.StatusHealthy, rec.ContentHash, nil)
	require.NoError(t, err)
	assert.True(t, hb.NotModified)
	assert.Equal(t, result.ResourceVersion, hb.ResourceVersion)
}

func TestHeartbeatTreatsChangedHashAsUpdate(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	result, err := reg.Register(ctx, testSpec("agent-c"), "http://10.0.0.3:9000")
	require.NoError(t, err)

	hb, err := reg.Heartbeat(ctx, result.AgentID, mesh.StatusHealthy, "different-hash", nil)
	require.NoError(t, err)
	assert.False(t, hb.NotModified)
	assert.Greater(t, hb.ResourceVersion, result.ResourceVersion)
}

func TestUnregisterRemovesAgent(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	result, err := reg.Register(ctx, testSpec("agent-d"), "http://10.0.0.4:9000")
	require.NoError(t, err)

	require.NoError(t, reg.Unregister(ctx, result.AgentID))

	_, err = reg.store.GetAgent(ctx, result.AgentID)
	assert.Error(t, err)
}

func TestDiscoverReturnsEmptyForUnknownCapability(t *testing.T) {
	reg := newTestRegistry(t)
	refs, err := reg.Discover(context.Background(), mesh.Selector{Capability: "does-not-exist"}, mesh.FilterBestMatch)
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestDiscoverResolvesRegisteredCapability(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	_, err := reg.Register(ctx, testSpec("agent-e"), "http://10.0.0.5:9000")
	require.NoError(t, err)

	refs, err := reg.Discover(ctx, mesh.Selector{Capability: "widgets"}, mesh.FilterBestMatch)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "do_thing", refs[0].FunctionName)
}

func TestTopologyResolvesDeclaredDependencies(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Register(ctx, testSpec("provider"), "http://10.0.0.6:9000")
	require.NoError(t, err)

	dependent := testSpec("dependent")
	dependent.Tools[0].Dependencies = []mesh.Selector{{Capability: "widgets"}}
	result, err := reg.Register(ctx, dependent, "http://10.0.0.7:9000")
	require.NoError(t, err)

	topo, err := reg.Topology(ctx, result.AgentID)
	require.NoError(t, err)
	require.Len(t, topo, 1)
	assert.Equal(t, "widgets", topo[0].Capability)
}
