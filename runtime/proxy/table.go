// Package proxy implements the proxy invoker described in spec §4.3: a
// copy-on-write table of resolved ToolRefs, a self-dependency shortcut for
// in-process calls, and an MCP JSON-RPC client for everything else.
// Grounded on runtime/mcp/caller.go (JSON-RPC call shape), ssecaller.go (SSE
// streaming), and runtime/a2a/registry.go's self-call shortcut pattern,
// generalized into one invoker operating over mesh.ToolRef.
package proxy

import "github.com/mcp-mesh/mesh-core/mesh"

// Table is an immutable snapshot of resolved dependency bindings, keyed by
// capability. Readers take a pointer snapshot without locking (spec §5:
// "the proxy table is a copy-on-write map; readers take a snapshot pointer
// without locking").
type Table struct {
	byCapability map[string][]mesh.ToolRef
}

// NewTable creates an empty Table.
func NewTable() *Table {
	return &Table{byCapability: make(map[string][]mesh.ToolRef)}
}

// Lookup returns the best (first) ToolRef bound to capability, if any.
func (t *Table) Lookup(capability string) (mesh.ToolRef, bool) {
	if t == nil {
		return mesh.ToolRef{}, false
	}
	refs := t.byCapability[capability]
	if len(refs) == 0 {
		return mesh.ToolRef{}, false
	}
	return refs[0], true
}

// LookupAll returns every ToolRef bound to capability.
func (t *Table) LookupAll(capability string) []mesh.ToolRef {
	if t == nil {
		return nil
	}
	return t.byCapability[capability]
}

// WithBinding returns a new Table equal to t but with capability bound to
// refs, leaving t unmodified. A nil refs removes the binding.
func (t *Table) WithBinding(capability string, refs []mesh.ToolRef) *Table {
	next := &Table{byCapability: make(map[string][]mesh.ToolRef, len(t.byCapability)+1)}
	for k, v := range t.byCapability {
		next.byCapability[k] = v
	}
	if len(refs) == 0 {
		delete(next.byCapability, capability)
	} else {
		next.byCapability[capability] = refs
	}
	return next
}
