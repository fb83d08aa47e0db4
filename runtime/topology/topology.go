// Package topology implements the agent-side dependency diff described in
// spec §4.2 item 3: comparing an incoming resolved topology against the
// last-accepted snapshot, per dependency slot (capability), and classifying
// each change as DependencyAvailable, DependencyUnavailable, or
// DependencyChanged. Grounded on registry/health_tracker.go's sweep pattern
// (comparing a previous/current pair and emitting one Transition per
// difference), generalized here from agent health to dependency topology.
package topology

import "github.com/mcp-mesh/mesh-core/mesh"

// Snapshot is the last-accepted topology, keyed by capability (the
// dependency slot identifier; mesh.ToolRef carries no separate slot index,
// so capability is the slot key throughout this runtime).
type Snapshot map[string]mesh.ToolRef

// ChangeKind classifies one difference between two snapshots.
type ChangeKind int

const (
	Available ChangeKind = iota
	Unavailable
	Changed
)

// Change is one detected difference, ready to be turned into an eventbus
// event by the caller.
type Change struct {
	Kind       ChangeKind
	Capability string
	Ref        mesh.ToolRef // zero value when Kind == Unavailable
}

// Diff compares previous against incoming and returns the list of changes
// plus the new snapshot to accept. previous may be nil for a first
// diff. incoming is keyed by ToolRef.Capability; if more than one ToolRef
// shares a capability the first one wins, matching the proxy Table's
// one-binding-per-capability model.
func Diff(previous Snapshot, incoming []mesh.ToolRef) ([]Change, Snapshot) {
	next := make(Snapshot, len(incoming))
	for _, ref := range incoming {
		if _, exists := next[ref.Capability]; !exists {
			next[ref.Capability] = ref
		}
	}

	var changes []Change
	for capability, ref := range next {
		old, existed := previous[capability]
		switch {
		case !existed:
			changes = append(changes, Change{Kind: Available, Capability: capability, Ref: ref})
		case old.Endpoint != ref.Endpoint || old.FunctionName != ref.FunctionName:
			changes = append(changes, Change{Kind: Changed, Capability: capability, Ref: ref})
		}
	}
	for capability := range previous {
		if _, stillPresent := next[capability]; !stillPresent {
			changes = append(changes, Change{Kind: Unavailable, Capability: capability})
		}
	}
	return changes, next
}
