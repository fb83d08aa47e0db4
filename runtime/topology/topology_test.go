package topology_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mcp-mesh/mesh-core/mesh"
	"github.com/mcp-mesh/mesh-core/runtime/topology"
)

func TestDiffFirstSnapshotIsAllAvailable(t *testing.T) {
	changes, next := topology.Diff(nil, []mesh.ToolRef{
		{Capability: "widgets", Endpoint: "http://a", FunctionName: "make"},
	})

	assert.Len(t, changes, 1)
	assert.Equal(t, topology.Available, changes[0].Kind)
	assert.Equal(t, "widgets", changes[0].Capability)
	assert.Len(t, next, 1)
}

func TestDiffDetectsUnavailable(t *testing.T) {
	previous := topology.Snapshot{"widgets": {Capability: "widgets", Endpoint: "http://a"}}
	changes, next := topology.Diff(previous, nil)

	assert.Len(t, changes, 1)
	assert.Equal(t, topology.Unavailable, changes[0].Kind)
	assert.Empty(t, next)
}

func TestDiffDetectsChangedEndpoint(t *testing.T) {
	previous := topology.Snapshot{"widgets": {Capability: "widgets", Endpoint: "http://a", FunctionName: "make"}}
	changes, next := topology.Diff(previous, []mesh.ToolRef{
		{Capability: "widgets", Endpoint: "http://b", FunctionName: "make"},
	})

	assert.Len(t, changes, 1)
	assert.Equal(t, topology.Changed, changes[0].Kind)
	assert.Equal(t, "http://b", next["widgets"].Endpoint)
}

func TestDiffUnchangedProducesNoChanges(t *testing.T) {
	previous := topology.Snapshot{"widgets": {Capability: "widgets", Endpoint: "http://a", FunctionName: "make"}}
	changes, _ := topology.Diff(previous, []mesh.ToolRef{
		{Capability: "widgets", Endpoint: "http://a", FunctionName: "make"},
	})
	assert.Empty(t, changes)
}
