// Package mutation implements the graph rewrites an agent's post-task
// self-evaluation can trigger: gating a just-completed node behind a new
// refinement step, blocking its dependents on a new sibling, or replacing
// a not-yet-run node with a chain. Every operator runs inside one store
// transaction so a dependent never observes a half-rewired dependency set.
package mutation

import (
	"database/sql"
	"fmt"

	"github.com/planexec/executor/internal/model"
	"github.com/planexec/executor/internal/store"
)

// EvalStatus is the agent's self-reported verdict on its own completed
// work, delivered via the evaluation callback.
type EvalStatus string

const (
	EvalComplete         EvalStatus = "COMPLETE"
	EvalNeedsRefinement  EvalStatus = "NEEDS_REFINEMENT"
	EvalHasBlocker       EvalStatus = "HAS_BLOCKER"
)

func (s EvalStatus) valid() bool {
	switch s {
	case EvalComplete, EvalNeedsRefinement, EvalHasBlocker:
		return true
	}
	return false
}

// Action names the graph-rewrite operator a Mutation requests:
// INSERT_BETWEEN or ADD_SIBLING. SPLIT is not an Action; it runs through Split.
type Action string

const (
	ActionInsertBetween Action = "INSERT_BETWEEN"
	ActionAddSibling    Action = "ADD_SIBLING"
)

// NewNodeSpec is the mutation's description of the node it wants created.
type NewNodeSpec struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Mutation is one requested graph rewrite.
type Mutation struct {
	Action  Action      `json:"action"`
	NewNode NewNodeSpec `json:"new_node"`
}

func (m Mutation) valid() bool {
	return m.Action != "" && m.NewNode.Title != ""
}

// Evaluation is the full evaluation-callback body.
type Evaluation struct {
	Status     EvalStatus `json:"status"`
	Evaluation string     `json:"evaluation"`
	Mutations  []Mutation `json:"mutations"`
}

// Result summarizes what Apply did, for logging and the event bus.
type Result struct {
	Status      EvalStatus
	NewNodeIDs  []string
	AppliedAny  bool
}

// Engine applies evaluation bodies and split requests to a blueprint's
// graph.
type Engine struct {
	store *store.Store
}

// NewEngine binds an Engine to a store.
func NewEngine(s *store.Store) *Engine {
	return &Engine{store: s}
}

// Apply validates and applies one evaluation body against the node that
// was just completed. An unknown top-level status is rejected outright;
// individual mutations lacking an action or title are silently discarded
// rather than failing the whole evaluation.
func (e *Engine) Apply(blueprintID, nodeID string, eval Evaluation) (Result, error) {
	if !eval.Status.valid() {
		return Result{}, fmt.Errorf("mutation: unknown evaluation status %q", eval.Status)
	}

	result := Result{Status: eval.Status}
	if eval.Status == EvalComplete {
		return result, nil
	}

	for _, m := range eval.Mutations {
		if !m.valid() {
			continue
		}

		var newID string
		var err error
		switch m.Action {
		case ActionInsertBetween:
			newID, err = e.insertBetween(blueprintID, nodeID, m.NewNode)
		case ActionAddSibling:
			newID, err = e.addSibling(blueprintID, nodeID, m.NewNode)
		default:
			continue
		}
		if err != nil {
			return result, err
		}
		result.AppliedAny = true
		result.NewNodeIDs = append(result.NewNodeIDs, newID)
	}

	return result, nil
}

// insertBetween creates N' with N's dependencies and rewires every
// dependent of N to depend on N' instead. N stays done.
func (e *Engine) insertBetween(blueprintID, nodeID string, spec NewNodeSpec) (string, error) {
	var newID string
	var rewired []string
	err := e.store.WithTx(func(tx *sql.Tx) error {
		n, dependents, maxOrder, err := loadNodeAndDependents(tx, blueprintID, nodeID)
		if err != nil {
			return err
		}

		gatekeeper := &model.MacroNode{
			ID:           store.NewNodeID(),
			BlueprintID:  blueprintID,
			Order:        maxOrder + 1,
			Title:        spec.Title,
			Description:  spec.Description,
			Dependencies: append([]string{}, n.Dependencies...),
			Status:       model.NodePending,
		}
		newID = gatekeeper.ID
		if err := store.CreateNodeTx(tx, gatekeeper); err != nil {
			return err
		}

		for _, d := range dependents {
			d.ReplaceDependency(nodeID, gatekeeper.ID)
			if err := e.store.UpdateNodeDependencies(tx, d.ID, d.Dependencies); err != nil {
				return err
			}
			rewired = append(rewired, d.ID)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if err := e.backfillRewired(blueprintID, rewired, newID); err != nil {
		return "", err
	}
	return newID, nil
}

// addSibling creates a blocked node B with N's dependencies and appends B
// to every dependent of N. D cannot run until B leaves blocked.
func (e *Engine) addSibling(blueprintID, nodeID string, spec NewNodeSpec) (string, error) {
	var newID string
	var rewired []string
	err := e.store.WithTx(func(tx *sql.Tx) error {
		n, dependents, maxOrder, err := loadNodeAndDependents(tx, blueprintID, nodeID)
		if err != nil {
			return err
		}

		blocker := &model.MacroNode{
			ID:           store.NewNodeID(),
			BlueprintID:  blueprintID,
			Order:        maxOrder + 1,
			Title:        spec.Title,
			Description:  spec.Description,
			Dependencies: append([]string{}, n.Dependencies...),
			Status:       model.NodeBlocked,
		}
		newID = blocker.ID
		if err := store.CreateNodeTx(tx, blocker); err != nil {
			return err
		}

		for _, d := range dependents {
			d.AddDependency(blocker.ID)
			if err := e.store.UpdateNodeDependencies(tx, d.ID, d.Dependencies); err != nil {
				return err
			}
			rewired = append(rewired, d.ID)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if err := e.backfillRewired(blueprintID, rewired, newID); err != nil {
		return "", err
	}
	return newID, nil
}

// backfillRewired gives every dependent rewired onto a freshly-inserted
// dependency a targeted copy of that dependency's latest untargeted
// handoff, if one already exists, so a node added after its new
// dependency already ran still receives that output. Runs outside the
// rewire transaction since it is a best-effort read-then-insert, not
// part of the graph rewrite's atomicity guarantee.
func (e *Engine) backfillRewired(blueprintID string, dependentIDs []string, newDepID string) error {
	for _, d := range dependentIDs {
		if err := e.store.BackfillTargetedArtifacts(blueprintID, d, []string{newDepID}); err != nil {
			return fmt.Errorf("mutation: backfill artifact for %s from %s: %w", d, newDepID, err)
		}
	}
	return nil
}

// Split replaces a pending node with a chain N1 -> N2 -> ... -> Nk. N1
// inherits N's dependencies; every former dependent of N now depends on
// Nk; N itself is marked skipped.
func (e *Engine) Split(blueprintID, nodeID string, chain []NewNodeSpec) ([]string, error) {
	if len(chain) == 0 {
		return nil, fmt.Errorf("mutation: split requires at least one replacement node")
	}

	var ids []string
	var rewired []string
	err := e.store.WithTx(func(tx *sql.Tx) error {
		n, dependents, maxOrder, err := loadNodeAndDependents(tx, blueprintID, nodeID)
		if err != nil {
			return err
		}
		if n.Status != model.NodePending {
			return fmt.Errorf("mutation: split requires node %s to be pending, got %s", nodeID, n.Status)
		}

		prevDeps := n.Dependencies
		for i, spec := range chain {
			node := &model.MacroNode{
				ID:           store.NewNodeID(),
				BlueprintID:  blueprintID,
				Order:        maxOrder + 1 + i,
				Title:        spec.Title,
				Description:  spec.Description,
				Dependencies: append([]string{}, prevDeps...),
				Status:       model.NodePending,
			}
			if err := store.CreateNodeTx(tx, node); err != nil {
				return err
			}
			ids = append(ids, node.ID)
			prevDeps = []string{node.ID}
		}

		lastID := ids[len(ids)-1]
		for _, d := range dependents {
			d.ReplaceDependency(nodeID, lastID)
			if err := e.store.UpdateNodeDependencies(tx, d.ID, d.Dependencies); err != nil {
				return err
			}
			rewired = append(rewired, d.ID)
		}

		if _, err := tx.Exec(`UPDATE macro_nodes SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			model.NodeSkipped, nodeID); err != nil {
			return fmt.Errorf("mark split node %s skipped: %w", nodeID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		if err := e.backfillRewired(blueprintID, rewired, ids[len(ids)-1]); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func loadNodeAndDependents(tx *sql.Tx, blueprintID, nodeID string) (*model.MacroNode, []*model.MacroNode, int, error) {
	n, err := store.GetNodeTx(tx, nodeID)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("mutation: load node %s: %w", nodeID, err)
	}

	all, err := store.NodesByBlueprintTx(tx, blueprintID)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("mutation: load blueprint %s nodes: %w", blueprintID, err)
	}

	maxOrder := 0
	var dependents []*model.MacroNode
	for _, other := range all {
		if other.Order > maxOrder {
			maxOrder = other.Order
		}
		if other.DependsOn(nodeID) {
			dependents = append(dependents, other)
		}
	}
	return n, dependents, maxOrder, nil
}
