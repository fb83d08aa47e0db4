package resolver_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcp-mesh/mesh-core/mesh"
	"github.com/mcp-mesh/mesh-core/registry/resolver"
)

func cand(agentID, capability, version string, tags []string, status mesh.AgentStatus) resolver.Candidate {
	return resolver.Candidate{
		Ref: mesh.ToolRef{
			AgentID:      agentID,
			Capability:   capability,
			Version:      version,
			Tags:         tags,
			FunctionName: "fn",
			Endpoint:     "http://" + agentID,
		},
		Status: status,
	}
}

// TestTagPrecedence is spec Scenario B: two providers of capability "math",
// P1 tagged [py, addition], P2 tagged [ts, addition]. Selector
// {math, [addition, (py|+ts)]} must return P2 first, P1 second.
func TestTagPrecedence(t *testing.T) {
	candidates := []resolver.Candidate{
		cand("p1", "math", "1.0.0", []string{"py", "addition"}, mesh.StatusHealthy),
		cand("p2", "math", "1.0.0", []string{"ts", "addition"}, mesh.StatusHealthy),
	}
	sel := mesh.Selector{Capability: "math", Tags: []string{"addition", "(py|+ts)"}}
	refs := resolver.Resolve(sel, mesh.FilterAll, candidates)
	require.Len(t, refs, 2)
	assert.Equal(t, "p2", refs[0].AgentID)
	assert.Equal(t, "p1", refs[1].AgentID)
}

// TestTagOperatorSemantics is testable property 8: (py|+ts|-go) selects a
// ts-tagged candidate if one exists, else a py-tagged one, and never a
// go-tagged one.
func TestTagOperatorSemantics(t *testing.T) {
	candidates := []resolver.Candidate{
		cand("a", "c", "1.0.0", []string{"py"}, mesh.StatusHealthy),
		cand("b", "c", "1.0.0", []string{"go"}, mesh.StatusHealthy),
	}
	sel := mesh.Selector{Capability: "c", Tags: []string{"(py|+ts|-go)"}}
	refs := resolver.Resolve(sel, mesh.FilterAll, candidates)
	require.Len(t, refs, 1)
	assert.Equal(t, "a", refs[0].AgentID)

	withTS := append(candidates, cand("d", "c", "1.0.0", []string{"ts"}, mesh.StatusHealthy))
	refs = resolver.Resolve(sel, mesh.FilterAll, withTS)
	require.Len(t, refs, 2)
	assert.Equal(t, "d", refs[0].AgentID)
}

func TestHealthFilterExcludesUnhealthyAndOffline(t *testing.T) {
	candidates := []resolver.Candidate{
		cand("healthy", "c", "1.0.0", nil, mesh.StatusHealthy),
		cand("degraded", "c", "1.0.0", nil, mesh.StatusDegraded),
		cand("unhealthy", "c", "1.0.0", nil, mesh.StatusUnhealthy),
		cand("offline", "c", "1.0.0", nil, mesh.StatusOffline),
	}
	refs := resolver.Resolve(mesh.Selector{Capability: "c"}, mesh.FilterAll, candidates)
	ids := map[string]bool{}
	for _, r := range refs {
		ids[r.AgentID] = true
	}
	assert.True(t, ids["healthy"])
	assert.True(t, ids["degraded"])
	assert.False(t, ids["unhealthy"])
	assert.False(t, ids["offline"])
}

func TestVersionConstraintHardFilter(t *testing.T) {
	candidates := []resolver.Candidate{
		cand("old", "c", "1.0.0", nil, mesh.StatusHealthy),
		cand("new", "c", "2.0.0", nil, mesh.StatusHealthy),
	}
	refs := resolver.Resolve(mesh.Selector{Capability: "c", VersionConstraint: "^2.0.0"}, mesh.FilterAll, candidates)
	require.Len(t, refs, 1)
	assert.Equal(t, "new", refs[0].AgentID)
}

func TestBestMatchReturnsTopOne(t *testing.T) {
	candidates := []resolver.Candidate{
		cand("a", "c", "1.0.0", []string{"x"}, mesh.StatusHealthy),
		cand("b", "c", "1.0.0", nil, mesh.StatusHealthy),
	}
	refs := resolver.Resolve(mesh.Selector{Capability: "c", Tags: []string{"+x"}}, mesh.FilterBestMatch, candidates)
	require.Len(t, refs, 1)
	assert.Equal(t, "a", refs[0].AgentID)
}

func TestFilterAnyIgnoresTagsAndVersion(t *testing.T) {
	candidates := []resolver.Candidate{
		cand("a", "c", "1.0.0", []string{"-never-matches"}, mesh.StatusHealthy),
		cand("b", "c", "9.9.9", nil, mesh.StatusHealthy),
	}
	sel := mesh.Selector{Capability: "c", Tags: []string{"required-tag"}, VersionConstraint: "^1.0.0"}
	refs := resolver.Resolve(sel, mesh.FilterAny, candidates)
	assert.Len(t, refs, 2)
}

// TestDeterministicTieBreak is testable property 2: for a fixed store state,
// the same Selector returns the same ordered ToolRef[] across repeated calls.
func TestDeterministicTieBreak(t *testing.T) {
	candidates := []resolver.Candidate{
		cand("z-agent", "c", "1.0.0", nil, mesh.StatusHealthy),
		cand("a-agent", "c", "1.0.0", nil, mesh.StatusHealthy),
	}
	sel := mesh.Selector{Capability: "c"}
	first := resolver.Resolve(sel, mesh.FilterAll, candidates)
	for i := 0; i < 20; i++ {
		got := resolver.Resolve(sel, mesh.FilterAll, candidates)
		require.Equal(t, first, got)
	}
	require.Len(t, first, 2)
	assert.Equal(t, "a-agent", first[0].AgentID)
}
