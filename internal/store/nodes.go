package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/planexec/executor/internal/model"
)

// CreateNode inserts a single macro-node.
func (s *Store) CreateNode(n *model.MacroNode) error {
	return s.WithTx(func(tx *sql.Tx) error {
		return insertNode(tx, n)
	})
}

// CreateNodes inserts a batch of macro-nodes in one transaction, used by
// the evaluation engine when it expands a blueprint into its initial graph
// or splices in mutation output.
func (s *Store) CreateNodes(nodes []*model.MacroNode) error {
	return s.WithTx(func(tx *sql.Tx) error {
		for _, n := range nodes {
			if err := insertNode(tx, n); err != nil {
				return err
			}
		}
		return nil
	})
}

// CreateNodeTx inserts a node within a caller-managed transaction, for
// multi-step graph rewrites (the mutation engine's operators) that need
// the new node to be visible to later statements in the same transaction.
func CreateNodeTx(tx *sql.Tx, n *model.MacroNode) error {
	return insertNode(tx, n)
}

// GetNodeTx loads one node within a caller-managed transaction.
func GetNodeTx(tx *sql.Tx, id string) (*model.MacroNode, error) {
	row := tx.QueryRow(`
		SELECT id, blueprint_id, node_order, title, description, prompt, dependencies,
		       status, error, agent_type, estimated_minutes, actual_minutes, skip_reason,
		       created_at, updated_at
		FROM macro_nodes WHERE id = ?`, id)
	return scanNode(row)
}

// NodesByBlueprintTx loads every node of a blueprint within a
// caller-managed transaction.
func NodesByBlueprintTx(tx *sql.Tx, blueprintID string) ([]*model.MacroNode, error) {
	rows, err := tx.Query(`
		SELECT id, blueprint_id, node_order, title, description, prompt, dependencies,
		       status, error, agent_type, estimated_minutes, actual_minutes, skip_reason,
		       created_at, updated_at
		FROM macro_nodes WHERE blueprint_id = ? ORDER BY node_order`, blueprintID)
	if err != nil {
		return nil, fmt.Errorf("list nodes for blueprint %s: %w", blueprintID, err)
	}
	defer rows.Close()
	return scanNodeRows(rows)
}

func insertNode(tx *sql.Tx, n *model.MacroNode) error {
	if n.ID == "" {
		n.ID = NewNodeID()
	}
	if n.Status == "" {
		n.Status = model.NodePending
	}
	deps, err := json.Marshal(n.Dependencies)
	if err != nil {
		return fmt.Errorf("marshal dependencies for node %s: %w", n.ID, err)
	}

	_, err = tx.Exec(`
		INSERT INTO macro_nodes
			(id, blueprint_id, node_order, title, description, prompt, dependencies,
			 status, error, agent_type, estimated_minutes, actual_minutes, skip_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.BlueprintID, n.Order, n.Title, nullString(n.Description), nullString(n.Prompt),
		string(deps), n.Status, nullString(n.Error), nullString(n.AgentType),
		nullInt(n.EstimatedMinutes), nullInt(n.ActualMinutes), nullString(n.SkipReason),
	)
	if err != nil {
		return fmt.Errorf("insert node %s: %w", n.ID, err)
	}
	return nil
}

// UpdateNodeStatus transitions a node to a new status, optionally
// recording an error string (cleared when empty).
func (s *Store) UpdateNodeStatus(id string, status model.NodeStatus, errText string) error {
	res, err := s.db.Exec(`
		UPDATE macro_nodes SET status = ?, error = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, nullString(errText), id,
	)
	if err != nil {
		return fmt.Errorf("update node %s status: %w", id, err)
	}
	return checkRowsAffected(res, "macro_node", id)
}

// SkipNode marks a node skipped with an operator-supplied reason.
func (s *Store) SkipNode(id, reason string) error {
	res, err := s.db.Exec(`
		UPDATE macro_nodes SET status = ?, skip_reason = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		model.NodeSkipped, nullString(reason), id,
	)
	if err != nil {
		return fmt.Errorf("skip node %s: %w", id, err)
	}
	return checkRowsAffected(res, "macro_node", id)
}

// RevertIfQueued flips a node back to pending only if it is still queued,
// an atomic conditional update used by orphan re-enqueue: if the node has
// since advanced to running, done, or anything else, this is a no-op.
func (s *Store) RevertIfQueued(id string) error {
	_, err := s.db.Exec(`
		UPDATE macro_nodes SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND status = ?`,
		model.NodePending, id, model.NodeQueued,
	)
	if err != nil {
		return fmt.Errorf("revert queued node %s: %w", id, err)
	}
	return nil
}

// UpdateNodeTitleDescription overwrites a node's title and description,
// used by the enrich task to apply the agent's rewrite.
func (s *Store) UpdateNodeTitleDescription(id, title, description string) error {
	res, err := s.db.Exec(`
		UPDATE macro_nodes SET title = ?, description = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		title, nullString(description), id,
	)
	if err != nil {
		return fmt.Errorf("update node %s title/description: %w", id, err)
	}
	return checkRowsAffected(res, "macro_node", id)
}

// UpdateNodeDependencies overwrites a node's dependency set, used by the
// mutation engine's INSERT_BETWEEN and SPLIT operators to rewire edges.
func (s *Store) UpdateNodeDependencies(tx *sql.Tx, id string, deps []string) error {
	encoded, err := json.Marshal(deps)
	if err != nil {
		return fmt.Errorf("marshal dependencies for node %s: %w", id, err)
	}
	_, err = tx.Exec(`
		UPDATE macro_nodes SET dependencies = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		string(encoded), id,
	)
	if err != nil {
		return fmt.Errorf("update dependencies for node %s: %w", id, err)
	}
	return nil
}

// SetActualMinutes records the measured duration of a completed node.
func (s *Store) SetActualMinutes(id string, minutes int) error {
	_, err := s.db.Exec(`UPDATE macro_nodes SET actual_minutes = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, minutes, id)
	if err != nil {
		return fmt.Errorf("set actual minutes for node %s: %w", id, err)
	}
	return nil
}

// GetNode loads one node by id.
func (s *Store) GetNode(id string) (*model.MacroNode, error) {
	row := s.db.QueryRow(`
		SELECT id, blueprint_id, node_order, title, description, prompt, dependencies,
		       status, error, agent_type, estimated_minutes, actual_minutes, skip_reason,
		       created_at, updated_at
		FROM macro_nodes WHERE id = ?`, id)
	return scanNode(row)
}

func scanNode(row *sql.Row) (*model.MacroNode, error) {
	n := &model.MacroNode{}
	var description, prompt, errText, agentType, skipReason, deps sql.NullString
	var estMin, actMin sql.NullInt64

	err := row.Scan(&n.ID, &n.BlueprintID, &n.Order, &n.Title, &description, &prompt, &deps,
		&n.Status, &errText, &agentType, &estMin, &actMin, &skipReason, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan node: %w", err)
	}

	n.Description = description.String
	n.Prompt = prompt.String
	n.Error = errText.String
	n.AgentType = agentType.String
	n.SkipReason = skipReason.String
	if estMin.Valid {
		v := int(estMin.Int64)
		n.EstimatedMinutes = &v
	}
	if actMin.Valid {
		v := int(actMin.Int64)
		n.ActualMinutes = &v
	}
	if deps.Valid && deps.String != "" {
		if err := json.Unmarshal([]byte(deps.String), &n.Dependencies); err != nil {
			return nil, fmt.Errorf("unmarshal dependencies for node %s: %w", n.ID, err)
		}
	}
	return n, nil
}

// NodesByBlueprint returns every node belonging to a blueprint, in
// definition order.
func (s *Store) NodesByBlueprint(blueprintID string) ([]*model.MacroNode, error) {
	rows, err := s.db.Query(`
		SELECT id, blueprint_id, node_order, title, description, prompt, dependencies,
		       status, error, agent_type, estimated_minutes, actual_minutes, skip_reason,
		       created_at, updated_at
		FROM macro_nodes WHERE blueprint_id = ? ORDER BY node_order`, blueprintID)
	if err != nil {
		return nil, fmt.Errorf("list nodes for blueprint %s: %w", blueprintID, err)
	}
	defer rows.Close()
	return scanNodeRows(rows)
}

func scanNodeRows(rows *sql.Rows) ([]*model.MacroNode, error) {
	var out []*model.MacroNode
	for rows.Next() {
		n := &model.MacroNode{}
		var description, prompt, errText, agentType, skipReason, deps sql.NullString
		var estMin, actMin sql.NullInt64

		if err := rows.Scan(&n.ID, &n.BlueprintID, &n.Order, &n.Title, &description, &prompt, &deps,
			&n.Status, &errText, &agentType, &estMin, &actMin, &skipReason, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan node row: %w", err)
		}

		n.Description = description.String
		n.Prompt = prompt.String
		n.Error = errText.String
		n.AgentType = agentType.String
		n.SkipReason = skipReason.String
		if estMin.Valid {
			v := int(estMin.Int64)
			n.EstimatedMinutes = &v
		}
		if actMin.Valid {
			v := int(actMin.Int64)
			n.ActualMinutes = &v
		}
		if deps.Valid && deps.String != "" {
			if err := json.Unmarshal([]byte(deps.String), &n.Dependencies); err != nil {
				return nil, fmt.Errorf("unmarshal dependencies for node %s: %w", n.ID, err)
			}
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// QueuedNodes returns every node across all blueprints currently sitting
// in the queued state, joined against its blueprint for the working
// directory the agent adapter needs to spawn into. Used by the recovery
// subsystem to re-enqueue orphaned queue entries after a process restart.
func (s *Store) QueuedNodes() ([]*model.MacroNode, error) {
	rows, err := s.db.Query(`
		SELECT mn.id, mn.blueprint_id, mn.node_order, mn.title, mn.description, mn.prompt,
		       mn.dependencies, mn.status, mn.error, mn.agent_type, mn.estimated_minutes,
		       mn.actual_minutes, mn.skip_reason, mn.created_at, mn.updated_at
		FROM macro_nodes mn
		WHERE mn.status = ?
		ORDER BY mn.blueprint_id, mn.node_order`, model.NodeQueued)
	if err != nil {
		return nil, fmt.Errorf("list queued nodes: %w", err)
	}
	defer rows.Close()
	return scanNodeRows(rows)
}
