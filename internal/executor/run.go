package executor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/planexec/executor/internal/agent"
	"github.com/planexec/executor/internal/classify"
	"github.com/planexec/executor/internal/depend"
	"github.com/planexec/executor/internal/model"
	"github.com/planexec/executor/internal/pending"
	"github.com/planexec/executor/internal/queue"
)

// Run admits a node for execution: strict dependency check, status flip
// to queued, pending-task registration, and enqueue onto the
// per-blueprint FIFO. The returned handle resolves once the drained task
// finishes.
func (d *Driver) Run(blueprintID, nodeID string) (*queue.Handle, error) {
	lookup, g, err := d.lookupFor(blueprintID)
	if err != nil {
		return nil, err
	}

	n := g.NodeByID(nodeID)
	if n == nil {
		return nil, fmt.Errorf("executor: node %s not found in blueprint %s", nodeID, blueprintID)
	}
	if !depend.Executable(n.Dependencies, lookup) {
		unmet := depend.UnsatisfiedStrict(n.Dependencies, lookup)
		return nil, fmt.Errorf("executor: node %s is not executable, unmet dependencies: %v", nodeID, unmet)
	}
	if n.Status != model.NodePending && n.Status != model.NodeFailed && n.Status != model.NodeQueued {
		return nil, fmt.Errorf("executor: node %s is in status %s, cannot queue", nodeID, n.Status)
	}

	if n.Status != model.NodeQueued {
		if err := d.Store.UpdateNodeStatus(nodeID, model.NodeQueued, ""); err != nil {
			return nil, fmt.Errorf("executor: flip node %s to queued: %w", nodeID, err)
		}
	}
	d.publishNode(blueprintID, nodeID, "queued", nil)

	h := d.Queue.Enqueue(blueprintID, pending.KindRun, nodeID, func(ctx context.Context) (any, error) {
		return d.executeRun(ctx, blueprintID, nodeID)
	})
	return h, nil
}

// RunOutcome is what a completed `run` task yields to its caller.
type RunOutcome struct {
	Status  model.NodeStatus
	Summary string
	Err     error
}

// executeRun is the work function the queue drains: re-check strict
// dependencies, flip to running, build and send the prompt, classify the
// outcome, and schedule whatever comes next.
func (d *Driver) executeRun(ctx context.Context, blueprintID, nodeID string) (any, error) {
	lookup, g, err := d.lookupFor(blueprintID)
	if err != nil {
		return nil, err
	}
	n := g.NodeByID(nodeID)
	if n == nil {
		return nil, fmt.Errorf("executor: node %s vanished before execution", nodeID)
	}

	if !depend.Executable(n.Dependencies, lookup) {
		d.Store.UpdateNodeStatus(nodeID, model.NodeFailed, "dependency regressed")
		d.publishNode(blueprintID, nodeID, "failed", "dependency regressed")
		return RunOutcome{Status: model.NodeFailed, Err: fmt.Errorf("dependency regressed")}, nil
	}

	if err := d.Store.UpdateNodeStatus(nodeID, model.NodeRunning, ""); err != nil {
		return nil, fmt.Errorf("executor: flip node %s to running: %w", nodeID, err)
	}
	d.publishNode(blueprintID, nodeID, "running", nil)

	exec := &model.NodeExecution{NodeID: nodeID, BlueprintID: blueprintID, Type: model.ExecPrimary}
	if err := d.Store.CreateExecution(exec); err != nil {
		return nil, fmt.Errorf("executor: create execution for node %s: %w", nodeID, err)
	}

	prompt, err := buildPrompt(&g.Blueprint, n, g, d.Store)
	if err != nil {
		return nil, err
	}
	log.Printf("[EXECUTOR] prompt for %s: %d bytes", nodeID, len(prompt))

	a, err := d.resolveAgent(&g.Blueprint, n)
	if err != nil {
		d.finishFailed(exec, model.FailureError, err.Error())
		d.Store.UpdateNodeStatus(nodeID, model.NodeFailed, err.Error())
		return RunOutcome{Status: model.NodeFailed, Err: err}, nil
	}

	cwd := g.Blueprint.ProjectDir
	outcome := d.runAgentAndFinish(ctx, &g.Blueprint, n, g, exec, a, prompt, cwd, a.RunInteractiveSession)
	return outcome, nil
}

// runAgentAndFinish invokes the agent through whichever spawn mode the
// caller chose (fresh interactive session for `run`, resume for `resume`),
// then classifies the outcome, records it, and triggers the post-`done`
// evaluation hand-off. Shared between the `run` and `resume` task kinds,
// which are identical from here on per the design.
func (d *Driver) runAgentAndFinish(ctx context.Context, bp *model.Blueprint, n *model.MacroNode, g *model.BlueprintGraph, exec *model.NodeExecution, a agent.Agent, prompt, cwd string, invoke func(ctx context.Context, opts agent.RunOptions) (agent.RunResult, error)) RunOutcome {
	since := time.Now()
	result, runErr := invoke(ctx, agentRunOptions(prompt, cwd, d.Flags, func(pid int) {
		d.Store.SetExecutionPid(exec.ID, pid)
	}))

	sessionID, detected := a.DetectNewSession(cwd, since)
	if detected {
		d.Store.SetExecutionSession(exec.ID, sessionID)
		exec.SessionID = sessionID
	}

	refreshed, err := d.Store.GetExecution(exec.ID)
	if err != nil {
		log.Printf("[EXECUTOR] reload execution %s: %v", exec.ID, err)
		refreshed = exec
	}

	exitErrText := ""
	if runErr != nil {
		exitErrText = runErr.Error()
	} else if result.ExitErr != nil {
		exitErrText = result.ExitErr.Error()
	}

	outcome := classify.ResolveOutcome(classify.Signals{
		ReportedStatus:  refreshed.ReportedStatus,
		ReportedReason:  refreshed.ReportedReason,
		BlockerInfo:     string(refreshed.BlockerInfo),
		Stdout:          result.Stdout,
		ExitErrText:     exitErrText,
		TimedOut:        result.TimedOut,
		SessionDetected: detected,
		EnableEchoStrip: d.Flags.EnableEchoStrip,
	})

	d.applyOutcome(bp, n, g, exec, outcome)

	if outcome.Status == model.NodeDone {
		d.runEvaluation(bp, n)
	}

	return RunOutcome{Status: outcome.Status, Summary: outcome.Summary}
}

func (d *Driver) applyOutcome(bp *model.Blueprint, n *model.MacroNode, g *model.BlueprintGraph, exec *model.NodeExecution, outcome classify.Outcome) {
	exec.Status = execStatusFor(outcome.Status)
	exec.OutputSummary = outcome.Summary
	exec.TaskSummary = outcome.Summary
	exec.FailureReason = outcome.FailureReason
	exec.FailureDetail = outcome.FailureDetail
	if outcome.BlockerDetail != "" {
		exec.BlockerInfo = []byte(fmt.Sprintf("%q", outcome.BlockerDetail))
	}
	if err := d.Store.FinishExecution(exec); err != nil {
		log.Printf("[EXECUTOR] failed to finish execution %s: %v", exec.ID, err)
	}

	errText := ""
	switch outcome.Status {
	case model.NodeFailed:
		errText = string(outcome.FailureReason) + ": " + outcome.FailureDetail
	case model.NodeBlocked:
		errText = outcome.BlockerDetail
	}
	if err := d.Store.UpdateNodeStatus(n.ID, outcome.Status, errText); err != nil {
		log.Printf("[EXECUTOR] failed to update node %s status: %v", n.ID, err)
	}
	d.notifyTerminal(n, outcome.Status, errText)
	d.publishNode(bp.ID, n.ID, string(outcome.Status), outcome.Summary)

	if outcome.Status == model.NodeDone {
		d.writeHandoffArtifact(bp.ID, n, g, outcome.Summary)
	}
}

func (d *Driver) writeHandoffArtifact(blueprintID string, n *model.MacroNode, g *model.BlueprintGraph, summary string) {
	dependents := g.Dependents(n.ID)
	if len(dependents) == 0 {
		d.Store.CreateArtifact(&model.Artifact{
			BlueprintID:  blueprintID,
			SourceNodeID: n.ID,
			Type:         model.ArtifactHandoffSummary,
			Content:      summary,
		})
		return
	}
	for _, dep := range dependents {
		d.Store.CreateArtifact(&model.Artifact{
			BlueprintID:  blueprintID,
			SourceNodeID: n.ID,
			TargetNodeID: dep.ID,
			Type:         model.ArtifactHandoffSummary,
			Content:      summary,
		})
	}
}

func (d *Driver) finishFailed(exec *model.NodeExecution, reason model.FailureReason, detail string) {
	exec.Status = model.ExecStatusFailed
	exec.FailureReason = reason
	exec.FailureDetail = detail
	d.Store.FinishExecution(exec)
}

func execStatusFor(s model.NodeStatus) model.ExecutionStatus {
	if s == model.NodeDone {
		return model.ExecStatusDone
	}
	return model.ExecStatusFailed
}

// runEvaluation waits, within a grace window, for the evaluation callback
// body to arrive in the driver's in-memory evaluation inbox, then applies
// it through the mutation engine. If nothing arrived, it is treated as
// COMPLETE with no mutations, per the design note.
func (d *Driver) runEvaluation(bp *model.Blueprint, n *model.MacroNode) {
	body := d.awaitEvaluation(n.ID)
	if _, err := d.Mutation.Apply(bp.ID, n.ID, body); err != nil {
		log.Printf("[EXECUTOR] evaluation apply failed for node %s: %v", n.ID, err)
	}
}
