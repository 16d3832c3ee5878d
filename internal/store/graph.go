package store

import (
	"fmt"

	"github.com/planexec/executor/internal/model"
)

// LoadBlueprintGraph assembles a blueprint's full graph: one query for the
// blueprint row, then exactly three batch queries scoped by blueprint id
// (nodes, artifacts, executions) rather than walking nodes one at a time,
// avoiding N+1 round trips for blueprints with many nodes.
func (s *Store) LoadBlueprintGraph(blueprintID string) (*model.BlueprintGraph, error) {
	g := &model.BlueprintGraph{}

	if err := s.GetBlueprint(blueprintID, &g.Blueprint); err != nil {
		return nil, fmt.Errorf("load blueprint %s: %w", blueprintID, err)
	}

	nodes, err := s.NodesByBlueprint(blueprintID)
	if err != nil {
		return nil, fmt.Errorf("load nodes for blueprint %s: %w", blueprintID, err)
	}
	g.Nodes = nodes

	artifacts, err := s.ArtifactsByBlueprint(blueprintID)
	if err != nil {
		return nil, fmt.Errorf("load artifacts for blueprint %s: %w", blueprintID, err)
	}
	g.Artifacts = artifacts

	executions, err := s.ExecutionsByBlueprint(blueprintID)
	if err != nil {
		return nil, fmt.Errorf("load executions for blueprint %s: %w", blueprintID, err)
	}
	g.Executions = executions

	return g, nil
}
