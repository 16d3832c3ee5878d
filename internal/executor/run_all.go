package executor

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/planexec/executor/internal/depend"
	"github.com/planexec/executor/internal/model"
	"github.com/planexec/executor/internal/pending"
)

// RunAll pre-queues every currently-admissible pending node of a blueprint
// and runs them one at a time in topological order; any non-done result
// aborts the remaining pre-queued batch, resetting it back to pending.
func (d *Driver) RunAll(blueprintID string) error {
	lookup, g, err := d.lookupFor(blueprintID)
	if err != nil {
		return err
	}

	var candidates []*model.MacroNode
	for _, n := range g.Nodes {
		if n.Status != model.NodePending {
			continue
		}
		if depend.Admissible(n.Dependencies, lookup) {
			candidates = append(candidates, n)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	ordered, err := topoSort(candidates, g)
	if err != nil {
		return err
	}

	ids := make([]string, len(ordered))
	for i, n := range ordered {
		ids[i] = n.ID
	}
	if err := d.Store.WithTx(func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.Exec(`UPDATE macro_nodes SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
				model.NodeQueued, id); err != nil {
				return fmt.Errorf("queue node %s: %w", id, err)
			}
		}
		return nil
	}); err != nil {
		return fmt.Errorf("executor: run-all queue batch for blueprint %s: %w", blueprintID, err)
	}
	for _, id := range ids {
		d.publishNode(blueprintID, id, "queued", nil)
	}

	go d.driveBatch(blueprintID, ids)
	return nil
}

// driveBatch runs each pre-queued node's task in order, aborting and
// resetting the remainder on the first non-done outcome.
func (d *Driver) driveBatch(blueprintID string, ids []string) {
	for i, id := range ids {
		h := d.Queue.Enqueue(blueprintID, pending.KindRun, id, func(ctx context.Context) (any, error) {
			return d.executeRun(ctx, blueprintID, id)
		})

		outcome, err := h.Wait(context.Background())
		if err != nil || outcome.Err != nil {
			d.resetRemaining(blueprintID, ids[i+1:])
			return
		}
		runOutcome, ok := outcome.Result.(RunOutcome)
		if !ok || runOutcome.Status != model.NodeDone {
			d.resetRemaining(blueprintID, ids[i+1:])
			return
		}
	}
}

// resetRemaining flips not-yet-run pre-queued siblings back to pending
// after a run-all batch aborts.
func (d *Driver) resetRemaining(blueprintID string, ids []string) {
	for _, id := range ids {
		n, err := d.Store.GetNode(id)
		if err != nil || n.Status != model.NodeQueued {
			continue
		}
		d.Store.UpdateNodeStatus(id, model.NodePending, "")
		d.Queue.RemoveQueued(blueprintID, id)
		d.publishNode(blueprintID, id, "pending", "run-all aborted")
	}
}

// topoSort orders candidates so every node appears after its in-batch
// dependencies, breaking ties by display order.
func topoSort(candidates []*model.MacroNode, g *model.BlueprintGraph) ([]*model.MacroNode, error) {
	inBatch := make(map[string]*model.MacroNode, len(candidates))
	for _, n := range candidates {
		inBatch[n.ID] = n
	}

	indegree := make(map[string]int, len(candidates))
	for _, n := range candidates {
		count := 0
		for _, dep := range n.Dependencies {
			if _, ok := inBatch[dep]; ok {
				count++
			}
		}
		indegree[n.ID] = count
	}

	var ready []*model.MacroNode
	for _, n := range candidates {
		if indegree[n.ID] == 0 {
			ready = append(ready, n)
		}
	}
	sortByOrder(ready)

	var out []*model.MacroNode
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		out = append(out, n)

		var newlyReady []*model.MacroNode
		for _, dependent := range g.Dependents(n.ID) {
			if _, ok := inBatch[dependent.ID]; !ok {
				continue
			}
			indegree[dependent.ID]--
			if indegree[dependent.ID] == 0 {
				newlyReady = append(newlyReady, dependent)
			}
		}
		sortByOrder(newlyReady)
		ready = append(ready, newlyReady...)
		sortByOrder(ready)
	}

	if len(out) != len(candidates) {
		return nil, fmt.Errorf("executor: dependency cycle detected among run-all candidates")
	}
	return out, nil
}

func sortByOrder(nodes []*model.MacroNode) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Order < nodes[j].Order })
}
