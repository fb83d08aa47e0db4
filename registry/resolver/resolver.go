// Package resolver implements the registry's pure, deterministic dependency
// resolution algorithm: given a Selector and a snapshot of ToolRef
// candidates, it returns the ordered ToolRef list the spec describes in
// §4.1 "Resolver algorithm".
package resolver

import (
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/mcp-mesh/mesh-core/mesh"
)

// Candidate is one resolver input: a ToolRef plus the health status of its
// owning agent. The resolver never returns a ToolRef whose agent is
// unhealthy or offline (invariant 2).
type Candidate struct {
	Ref    mesh.ToolRef
	Status mesh.AgentStatus
}

// Resolve applies one Selector against a slice of Candidates and returns the
// ordered ToolRef list per the spec's four-step algorithm: health filter,
// version filter, tag-operator filter, then scoring with a stable
// descending sort (ties broken by ascending agent_id for determinism).
func Resolve(sel mesh.Selector, mode mesh.FilterMode, candidates []Candidate) []mesh.ToolRef {
	ops := mesh.ParseTags(sel.Tags)

	var constraint *semver.Constraints
	if sel.VersionConstraint != "" {
		if c, err := semver.NewConstraint(sel.VersionConstraint); err == nil {
			constraint = c
		}
	}

	type scored struct {
		ref   mesh.ToolRef
		score float64
	}
	var kept []scored

	for _, c := range candidates {
		if c.Ref.Capability != sel.Capability {
			continue
		}
		// Step 1: health filter — only healthy|degraded agents resolve.
		if c.Status != mesh.StatusHealthy && c.Status != mesh.StatusDegraded {
			continue
		}

		if mode == mesh.FilterAny {
			kept = append(kept, scored{ref: c.Ref, score: 0})
			continue
		}

		// Step 2: version filter.
		if constraint != nil {
			v, err := semver.NewVersion(c.Ref.Version)
			if err != nil || !constraint.Check(v) {
				continue
			}
		}

		// Step 3: tag operators.
		ok, bonus := mesh.Matches(ops, c.Ref.Tags)
		if !ok {
			continue
		}

		// Step 4: score. Degraded agents receive a small penalty so healthy
		// peers are always preferred when scores would otherwise tie.
		score := bonus - float64(len(c.Ref.Tags))*extraTagPenalty + versionCloseness(c.Ref.Version, sel.VersionConstraint)
		if c.Status == mesh.StatusDegraded {
			score -= degradedPenalty
		}
		kept = append(kept, scored{ref: c.Ref, score: score})
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].score != kept[j].score {
			return kept[i].score > kept[j].score
		}
		return kept[i].ref.AgentID < kept[j].ref.AgentID
	})

	refs := make([]mesh.ToolRef, len(kept))
	for i, k := range kept {
		refs[i] = k.ref
		refs[i].Score = k.score
	}

	switch mode {
	case mesh.FilterBestMatch:
		if len(refs) > 1 {
			refs = refs[:1]
		}
	}
	return refs
}

// extraTagPenalty is subtracted once per advertised tag on the candidate to
// prefer narrower, more specific tool advertisements when scores would
// otherwise be equal.
const extraTagPenalty = 0.01

// degradedPenalty ensures a degraded agent never outranks a healthy one
// purely by virtue of tag bonuses.
const degradedPenalty = 100.0

// versionCloseness gives a small bonus proportional to the candidate's patch
// number whenever a constraint is set, so a newer patch release breaks a tie
// between otherwise identical candidates. Major and minor are not compared.
func versionCloseness(version, constraint string) float64 {
	if constraint == "" || version == "" {
		return 0
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return 0
	}
	// Prefer newer patch versions very slightly. The bonus is not capped;
	// it stays under preferredBonus for any patch number below 10000.
	return float64(v.Patch()) * 0.0001
}
