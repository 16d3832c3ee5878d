package store

import (
	"database/sql"
	"fmt"

	"github.com/planexec/executor/internal/model"
)

// CreateBlueprint inserts a new blueprint, assigning an id if one is not
// already set.
func (s *Store) CreateBlueprint(bp *model.Blueprint) error {
	if bp.ID == "" {
		bp.ID = NewBlueprintID()
	}
	if bp.Status == "" {
		bp.Status = model.BlueprintDraft
	}

	_, err := s.db.Exec(`
		INSERT INTO blueprints (id, title, description, project_dir, agent_type, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		bp.ID, bp.Title, nullString(bp.Description), nullString(bp.ProjectDir),
		nullString(bp.AgentType), bp.Status,
	)
	if err != nil {
		return fmt.Errorf("insert blueprint %s: %w", bp.ID, err)
	}
	return s.GetBlueprint(bp.ID, bp)
}

// UpdateBlueprintStatus transitions a blueprint to a new status.
func (s *Store) UpdateBlueprintStatus(id string, status model.BlueprintStatus) error {
	res, err := s.db.Exec(`
		UPDATE blueprints SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, id,
	)
	if err != nil {
		return fmt.Errorf("update blueprint %s status: %w", id, err)
	}
	return checkRowsAffected(res, "blueprint", id)
}

// DeleteBlueprint removes a blueprint and, via ON DELETE CASCADE, every
// node, artifact, and execution that belongs to it.
func (s *Store) DeleteBlueprint(id string) error {
	res, err := s.db.Exec(`DELETE FROM blueprints WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete blueprint %s: %w", id, err)
	}
	return checkRowsAffected(res, "blueprint", id)
}

// GetBlueprint loads a blueprint by id into out.
func (s *Store) GetBlueprint(id string, out *model.Blueprint) error {
	var description, projectDir, agentType sql.NullString
	err := s.db.QueryRow(`
		SELECT id, title, description, project_dir, agent_type, status, created_at, updated_at
		FROM blueprints WHERE id = ?`, id,
	).Scan(&out.ID, &out.Title, &description, &projectDir, &agentType, &out.Status, &out.CreatedAt, &out.UpdatedAt)
	if err == sql.ErrNoRows {
		return fmt.Errorf("blueprint %s: %w", id, sql.ErrNoRows)
	}
	if err != nil {
		return fmt.Errorf("get blueprint %s: %w", id, err)
	}
	out.Description = description.String
	out.ProjectDir = projectDir.String
	out.AgentType = agentType.String
	return nil
}

// ListBlueprints returns all blueprints, most recently created first.
func (s *Store) ListBlueprints() ([]*model.Blueprint, error) {
	rows, err := s.db.Query(`
		SELECT id, title, description, project_dir, agent_type, status, created_at, updated_at
		FROM blueprints ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list blueprints: %w", err)
	}
	defer rows.Close()

	var out []*model.Blueprint
	for rows.Next() {
		bp := &model.Blueprint{}
		var description, projectDir, agentType sql.NullString
		if err := rows.Scan(&bp.ID, &bp.Title, &description, &projectDir, &agentType, &bp.Status, &bp.CreatedAt, &bp.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan blueprint: %w", err)
		}
		bp.Description = description.String
		bp.ProjectDir = projectDir.String
		bp.AgentType = agentType.String
		out = append(out, bp)
	}
	return out, rows.Err()
}

func checkRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for %s %s: %w", kind, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, sql.ErrNoRows)
	}
	return nil
}
