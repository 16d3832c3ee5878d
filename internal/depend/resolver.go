// Package depend implements the two-tier dependency admission the
// executor applies to a node before queueing it (lenient) and before
// actually running it (strict).
package depend

import "github.com/planexec/executor/internal/model"

// Lookup resolves a node id to its current status. Callers pass a closure
// over a freshly-loaded BlueprintGraph or a direct store read — the
// resolver itself never touches storage.
type Lookup func(nodeID string) (model.NodeStatus, bool)

// Admissible reports whether a node may be queued: none of its
// dependencies may be failed or blocked. Running, queued, pending, done
// and skipped dependencies all permit admission.
func Admissible(deps []string, lookup Lookup) bool {
	for _, d := range deps {
		status, ok := lookup(d)
		if !ok {
			// A dependency that no longer resolves cannot be reasoned
			// about safely; treat it as blocking.
			return false
		}
		if status.AdmissionBlocks() {
			return false
		}
	}
	return true
}

// Executable reports whether a node may actually start running: every
// dependency must be done or skipped.
func Executable(deps []string, lookup Lookup) bool {
	for _, d := range deps {
		status, ok := lookup(d)
		if !ok || !status.SatisfiesStrict() {
			return false
		}
	}
	return true
}

// UnsatisfiedStrict returns the dependency ids that currently fail the
// strict check, for building an explanatory error message.
func UnsatisfiedStrict(deps []string, lookup Lookup) []string {
	var out []string
	for _, d := range deps {
		status, ok := lookup(d)
		if !ok || !status.SatisfiesStrict() {
			out = append(out, d)
		}
	}
	return out
}

// LookupFromGraph builds a Lookup closure bound to an in-memory graph.
func LookupFromGraph(g *model.BlueprintGraph) Lookup {
	return func(nodeID string) (model.NodeStatus, bool) {
		n := g.NodeByID(nodeID)
		if n == nil {
			return "", false
		}
		return n.Status, true
	}
}
