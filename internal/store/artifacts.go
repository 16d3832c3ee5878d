package store

import (
	"database/sql"
	"fmt"

	"github.com/planexec/executor/internal/model"
)

// CreateArtifact records a handoff artifact produced by a finished node.
func (s *Store) CreateArtifact(a *model.Artifact) error {
	if a.ID == "" {
		a.ID = NewArtifactID()
	}
	if a.Type == "" {
		a.Type = model.ArtifactHandoffSummary
	}
	_, err := s.db.Exec(`
		INSERT INTO artifacts (id, blueprint_id, source_node_id, target_node_id, type, content)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.BlueprintID, a.SourceNodeID, nullString(a.TargetNodeID), a.Type, a.Content,
	)
	if err != nil {
		return fmt.Errorf("insert artifact %s: %w", a.ID, err)
	}
	return nil
}

// ArtifactsByBlueprint returns every artifact produced within a blueprint.
func (s *Store) ArtifactsByBlueprint(blueprintID string) ([]*model.Artifact, error) {
	rows, err := s.db.Query(`
		SELECT id, blueprint_id, source_node_id, target_node_id, type, content, created_at
		FROM artifacts WHERE blueprint_id = ? ORDER BY created_at`, blueprintID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts for blueprint %s: %w", blueprintID, err)
	}
	defer rows.Close()
	return scanArtifactRows(rows)
}

// ArtifactsAvailableTo returns the artifacts a dependent node may adopt:
// every untargeted artifact from any of its dependencies, plus any
// artifact specifically targeted at it.
func (s *Store) ArtifactsAvailableTo(blueprintID, nodeID string, dependencyIDs []string) ([]*model.Artifact, error) {
	if len(dependencyIDs) == 0 {
		rows, err := s.db.Query(`
			SELECT id, blueprint_id, source_node_id, target_node_id, type, content, created_at
			FROM artifacts WHERE blueprint_id = ? AND target_node_id = ? ORDER BY created_at`,
			blueprintID, nodeID)
		if err != nil {
			return nil, fmt.Errorf("list targeted artifacts for node %s: %w", nodeID, err)
		}
		defer rows.Close()
		return scanArtifactRows(rows)
	}

	placeholders := make([]interface{}, 0, len(dependencyIDs)+2)
	placeholders = append(placeholders, blueprintID, nodeID)
	qs := ""
	for i, dep := range dependencyIDs {
		if i > 0 {
			qs += ","
		}
		qs += "?"
		placeholders = append(placeholders, dep)
	}

	query := fmt.Sprintf(`
		SELECT id, blueprint_id, source_node_id, target_node_id, type, content, created_at
		FROM artifacts
		WHERE blueprint_id = ?
		  AND ((target_node_id = ?) OR (target_node_id IS NULL AND source_node_id IN (%s)) OR (target_node_id = '' AND source_node_id IN (%s)))
		ORDER BY created_at`, qs, qs)
	placeholders = append(placeholders, dependencyIDs2Interface(dependencyIDs)...)
	placeholders = append(placeholders, dependencyIDs2Interface(dependencyIDs)...)

	rows, err := s.db.Query(query, placeholders...)
	if err != nil {
		return nil, fmt.Errorf("list available artifacts for node %s: %w", nodeID, err)
	}
	defer rows.Close()
	return scanArtifactRows(rows)
}

// LatestHandoffFor returns the artifact the prompt builder should quote
// for one dependency edge: the most recent artifact targeted at nodeID
// from sourceNodeID, or, lacking one, the latest untargeted artifact
// sourceNodeID has produced.
func (s *Store) LatestHandoffFor(blueprintID, sourceNodeID, nodeID string) (*model.Artifact, bool, error) {
	row := s.db.QueryRow(`
		SELECT id, blueprint_id, source_node_id, target_node_id, type, content, created_at
		FROM artifacts
		WHERE blueprint_id = ? AND source_node_id = ? AND target_node_id = ?
		ORDER BY created_at DESC LIMIT 1`, blueprintID, sourceNodeID, nodeID)
	a, err := scanArtifactRow(row)
	if err == nil {
		return a, true, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("latest targeted handoff from %s to %s: %w", sourceNodeID, nodeID, err)
	}

	row = s.db.QueryRow(`
		SELECT id, blueprint_id, source_node_id, target_node_id, type, content, created_at
		FROM artifacts
		WHERE blueprint_id = ? AND source_node_id = ? AND (target_node_id IS NULL OR target_node_id = '')
		ORDER BY created_at DESC LIMIT 1`, blueprintID, sourceNodeID)
	a, err = scanArtifactRow(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("latest untargeted handoff from %s: %w", sourceNodeID, err)
	}
	return a, true, nil
}

func scanArtifactRow(row *sql.Row) (*model.Artifact, error) {
	a := &model.Artifact{}
	var target sql.NullString
	if err := row.Scan(&a.ID, &a.BlueprintID, &a.SourceNodeID, &target, &a.Type, &a.Content, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.TargetNodeID = target.String
	return a, nil
}

// BackfillTargetedArtifacts gives a newly-added dependent a targeted copy
// of each dependency's latest untargeted handoff, so a node added after
// its dependency already ran still receives that dependency's output.
func (s *Store) BackfillTargetedArtifacts(blueprintID, nodeID string, dependencyIDs []string) error {
	for _, dep := range dependencyIDs {
		existing, found, err := s.LatestHandoffFor(blueprintID, dep, nodeID)
		if err != nil {
			return err
		}
		if found && existing.TargetNodeID == nodeID {
			continue
		}
		row := s.db.QueryRow(`
			SELECT id, blueprint_id, source_node_id, target_node_id, type, content, created_at
			FROM artifacts
			WHERE blueprint_id = ? AND source_node_id = ? AND (target_node_id IS NULL OR target_node_id = '')
			ORDER BY created_at DESC LIMIT 1`, blueprintID, dep)
		latestUntargeted, err := scanArtifactRow(row)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return fmt.Errorf("latest untargeted handoff from %s: %w", dep, err)
		}
		if err := s.CreateArtifact(&model.Artifact{
			BlueprintID:  blueprintID,
			SourceNodeID: dep,
			TargetNodeID: nodeID,
			Type:         latestUntargeted.Type,
			Content:      latestUntargeted.Content,
		}); err != nil {
			return fmt.Errorf("backfill artifact from %s to %s: %w", dep, nodeID, err)
		}
	}
	return nil
}

func dependencyIDs2Interface(ids []string) []interface{} {
	out := make([]interface{}, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

func scanArtifactRows(rows *sql.Rows) ([]*model.Artifact, error) {
	var out []*model.Artifact
	for rows.Next() {
		a := &model.Artifact{}
		var target sql.NullString
		if err := rows.Scan(&a.ID, &a.BlueprintID, &a.SourceNodeID, &target, &a.Type, &a.Content, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan artifact row: %w", err)
		}
		a.TargetNodeID = target.String
		out = append(out, a)
	}
	return out, rows.Err()
}
