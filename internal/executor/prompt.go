package executor

import (
	"fmt"
	"strings"

	"github.com/planexec/executor/internal/model"
)

const protocolTrailer = `
---
When you finish this task, emit exactly one of the following:

On success, a completion block:
===TASK_COMPLETE===
<one paragraph summary of what you did, for the next step to consume>
===END_TASK===

On refusal, a blocker marker as the start of a line followed by a JSON or
text payload describing what is blocking you:
===EXECUTION_BLOCKER===
<description>

Then POST your final status to the evaluation callback URL provided to you
out of band, with body {"status": "COMPLETE"|"NEEDS_REFINEMENT"|"HAS_BLOCKER", "evaluation": "...", "mutations": [...]}.`

// buildPrompt assembles the prompt for a `run` task: a header naming the
// node's position in the plan, the plan description, each dependency's
// most recent handoff in order, the node's own fields, and the protocol
// trailer instructing the agent how to report back.
func buildPrompt(bp *model.Blueprint, n *model.MacroNode, g *model.BlueprintGraph, s handoffSource) (string, error) {
	var b strings.Builder

	total := len(g.Nodes)
	fmt.Fprintf(&b, "You are executing step %d/%d of a development plan: %s\n", n.Order+1, total, bp.Title)
	if bp.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", bp.Description)
	}

	for _, depID := range n.Dependencies {
		dep := g.NodeByID(depID)
		artifact, ok, err := s.LatestHandoffFor(bp.ID, depID, n.ID)
		if err != nil {
			return "", fmt.Errorf("prompt: load handoff from %s: %w", depID, err)
		}
		if !ok {
			continue
		}
		title := depID
		order := 0
		if dep != nil {
			title = dep.Title
			order = dep.Order + 1
		}
		fmt.Fprintf(&b, "\n--- Handoff from step %d (%s) ---\n%s\n", order, title, artifact.Content)
	}

	fmt.Fprintf(&b, "\n--- Your task ---\n%s\n", n.Title)
	if n.Description != "" {
		fmt.Fprintf(&b, "%s\n", n.Description)
	}
	if n.Prompt != "" {
		fmt.Fprintf(&b, "\n%s\n", n.Prompt)
	}

	b.WriteString(protocolTrailer)
	return b.String(), nil
}

// handoffSource is the narrow store slice the prompt builder needs,
// extracted so prompt construction can be unit tested without a real
// database.
type handoffSource interface {
	LatestHandoffFor(blueprintID, sourceNodeID, nodeID string) (*model.Artifact, bool, error)
}
