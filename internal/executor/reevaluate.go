package executor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/planexec/executor/internal/mutation"
	"github.com/planexec/executor/internal/pending"
	"github.com/planexec/executor/internal/queue"
)

const reevaluateTrailer = `
--- Your task ---
Re-read the project source as it exists on disk right now. Update this
step's understanding of its own title, description, and completion state
to match reality, then declare exactly one of COMPLETE, NEEDS_REFINEMENT,
or HAS_BLOCKER by POSTing to the evaluation callback, the same shape used
at the end of a normal run: {"status": "...", "evaluation": "...",
"mutations": [...]}.
`

// Reevaluate spawns the agent against a node's current state, asking it to
// read the project and report back whether the node still holds or needs
// refinement, without itself flipping the node through running/done.
func (d *Driver) Reevaluate(blueprintID, nodeID string) (*queue.Handle, error) {
	g, err := d.Store.LoadBlueprintGraph(blueprintID)
	if err != nil {
		return nil, fmt.Errorf("load blueprint %s: %w", blueprintID, err)
	}
	n := g.NodeByID(nodeID)
	if n == nil {
		return nil, fmt.Errorf("executor: node %s not found in blueprint %s", nodeID, blueprintID)
	}

	h := d.Queue.Enqueue(blueprintID, pending.KindReevaluate, nodeID, func(ctx context.Context) (any, error) {
		return d.executeReevaluate(ctx, blueprintID, nodeID)
	})
	return h, nil
}

func (d *Driver) executeReevaluate(ctx context.Context, blueprintID, nodeID string) (any, error) {
	g, err := d.Store.LoadBlueprintGraph(blueprintID)
	if err != nil {
		return nil, err
	}
	n := g.NodeByID(nodeID)
	if n == nil {
		return nil, fmt.Errorf("executor: node %s vanished before reevaluation", nodeID)
	}

	prompt, err := buildPrompt(&g.Blueprint, n, g, d.Store)
	if err != nil {
		return nil, err
	}
	prompt += reevaluateTrailer

	a, err := d.resolveAgent(&g.Blueprint, n)
	if err != nil {
		return nil, err
	}

	cwd := g.Blueprint.ProjectDir
	since := time.Now()
	_, runErr := a.RunInteractiveSession(ctx, agentRunOptions(prompt, cwd, d.Flags, nil))
	if runErr != nil {
		log.Printf("[EXECUTOR] reevaluate session for node %s exited with error: %v", nodeID, runErr)
	}

	if sessionID, detected := a.DetectNewSession(cwd, since); detected {
		d.Store.RecordRelatedSession(nodeID, "reevaluate", sessionID)
	}

	body := d.awaitEvaluation(nodeID)
	result, err := d.Mutation.Apply(blueprintID, nodeID, body)
	if err != nil {
		log.Printf("[EXECUTOR] reevaluate mutation apply failed for node %s: %v", nodeID, err)
	}
	d.publishNode(blueprintID, nodeID, "reevaluated", body.Status)
	return result, nil
}

// awaitEvaluation is the shared grace-window poll used by both run's
// post-completion evaluation and the standalone reevaluate task.
func (d *Driver) awaitEvaluation(nodeID string) mutation.Evaluation {
	grace := d.Flags.EvaluationGracePeriod
	if grace <= 0 {
		grace = 5 * time.Second
	}
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if eval, ok := d.evaluations.Take(nodeID); ok {
			return eval
		}
		time.Sleep(100 * time.Millisecond)
	}
	return mutation.Evaluation{Status: mutation.EvalComplete}
}
