package executor

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/planexec/executor/internal/model"
)

const enrichMarker = "===ENRICH_RESULT==="
const enrichEndMarker = "===END_ENRICH==="

const enrichTrailer = `
--- Your task ---
Read the project source and propose a clearer title and description for
this step, reflecting what it actually does. Reply with exactly:
===ENRICH_RESULT===
TITLE: <one line>
DESCRIPTION: <one or more lines>
===END_ENRICH===
`

// Enrich rewrites a node's title/description from the agent's reading of
// the project. It runs synchronously, one-shot, outside the queue: it
// never touches node status, executions, or the mutation engine, per the
// "otherwise orthogonal to the executor" behavior.
func (d *Driver) Enrich(blueprintID, nodeID string) error {
	g, err := d.Store.LoadBlueprintGraph(blueprintID)
	if err != nil {
		return fmt.Errorf("load blueprint %s: %w", blueprintID, err)
	}

	targets := g.Nodes
	if nodeID != "" {
		n := g.NodeByID(nodeID)
		if n == nil {
			return fmt.Errorf("executor: node %s not found in blueprint %s", nodeID, blueprintID)
		}
		targets = []*model.MacroNode{n}
	}

	for _, n := range targets {
		if err := d.enrichOne(&g.Blueprint, n, g); err != nil {
			log.Printf("[EXECUTOR] enrich failed for node %s: %v", n.ID, err)
		}
	}
	return nil
}

func (d *Driver) enrichOne(bp *model.Blueprint, n *model.MacroNode, g *model.BlueprintGraph) error {
	prompt, err := buildPrompt(bp, n, g, d.Store)
	if err != nil {
		return err
	}
	prompt += enrichTrailer

	a, err := d.resolveAgent(bp, n)
	if err != nil {
		return err
	}

	result, err := a.RunSession(context.Background(), agentRunOptions(prompt, bp.ProjectDir, d.Flags, nil))
	if err != nil {
		return err
	}

	title, description, ok := parseEnrichResult(result.Stdout)
	if !ok {
		return fmt.Errorf("executor: no enrich result found in agent output for node %s", n.ID)
	}
	return d.Store.UpdateNodeTitleDescription(n.ID, title, description)
}

// parseEnrichResult extracts the last TITLE/DESCRIPTION pair between the
// enrich markers, mirroring classify's last-occurrence convention.
func parseEnrichResult(output string) (title, description string, ok bool) {
	endIdx := strings.LastIndex(output, enrichEndMarker)
	if endIdx == -1 {
		return "", "", false
	}
	startIdx := strings.LastIndex(output[:endIdx], enrichMarker)
	if startIdx == -1 {
		return "", "", false
	}
	body := output[startIdx+len(enrichMarker) : endIdx]

	var descLines []string
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "TITLE:"):
			title = strings.TrimSpace(strings.TrimPrefix(trimmed, "TITLE:"))
		case strings.HasPrefix(trimmed, "DESCRIPTION:"):
			descLines = append(descLines, strings.TrimSpace(strings.TrimPrefix(trimmed, "DESCRIPTION:")))
		case len(descLines) > 0 && trimmed != "":
			descLines = append(descLines, trimmed)
		}
	}
	if title == "" {
		return "", "", false
	}
	return title, strings.Join(descLines, "\n"), true
}
