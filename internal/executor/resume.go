package executor

import (
	"context"
	"fmt"

	"github.com/planexec/executor/internal/agent"
	"github.com/planexec/executor/internal/depend"
	"github.com/planexec/executor/internal/model"
	"github.com/planexec/executor/internal/pending"
	"github.com/planexec/executor/internal/queue"
)

const resumeTrailer = `
--- Resuming ---
Your previous attempt at this step stopped without finishing. Continue
from where that session left off; do not restart the task from scratch.
`

// Resume continues a failed execution's agent session in place. The
// dependency check runs again, same as Run, since time may have passed
// since the original failure.
func (d *Driver) Resume(blueprintID, executionID string) (*queue.Handle, error) {
	failed, err := d.Store.GetExecution(executionID)
	if err != nil {
		return nil, fmt.Errorf("executor: load execution %s: %w", executionID, err)
	}
	if failed.Status != model.ExecStatusFailed {
		return nil, fmt.Errorf("executor: execution %s is not failed, cannot resume", executionID)
	}
	if failed.SessionID == "" {
		return nil, fmt.Errorf("executor: execution %s has no session id to resume", executionID)
	}

	lookup, g, err := d.lookupFor(blueprintID)
	if err != nil {
		return nil, err
	}
	n := g.NodeByID(failed.NodeID)
	if n == nil {
		return nil, fmt.Errorf("executor: node %s not found in blueprint %s", failed.NodeID, blueprintID)
	}
	if !depend.Executable(n.Dependencies, lookup) {
		unmet := depend.UnsatisfiedStrict(n.Dependencies, lookup)
		return nil, fmt.Errorf("executor: node %s is not executable, unmet dependencies: %v", n.ID, unmet)
	}

	if err := d.Store.UpdateNodeStatus(n.ID, model.NodeQueued, ""); err != nil {
		return nil, fmt.Errorf("executor: flip node %s to queued: %w", n.ID, err)
	}
	d.publishNode(blueprintID, n.ID, "queued", nil)

	h := d.Queue.Enqueue(blueprintID, pending.KindResume, n.ID, func(ctx context.Context) (any, error) {
		return d.executeResume(ctx, blueprintID, n.ID, executionID)
	})
	return h, nil
}

func (d *Driver) executeResume(ctx context.Context, blueprintID, nodeID, parentExecutionID string) (any, error) {
	parent, err := d.Store.GetExecution(parentExecutionID)
	if err != nil {
		return nil, fmt.Errorf("executor: reload parent execution %s: %w", parentExecutionID, err)
	}

	lookup, g, err := d.lookupFor(blueprintID)
	if err != nil {
		return nil, err
	}
	n := g.NodeByID(nodeID)
	if n == nil {
		return nil, fmt.Errorf("executor: node %s vanished before resume", nodeID)
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

	exec := &model.NodeExecution{
		NodeID:            nodeID,
		BlueprintID:       blueprintID,
		Type:              model.ExecRetry,
		ParentExecutionID: parent.ID,
		SessionID:         parent.SessionID,
	}
	if err := d.Store.CreateExecution(exec); err != nil {
		return nil, fmt.Errorf("executor: create retry execution for node %s: %w", nodeID, err)
	}

	prompt, err := buildPrompt(&g.Blueprint, n, g, d.Store)
	if err != nil {
		return nil, err
	}
	prompt += resumeTrailer

	a, err := d.resolveAgent(&g.Blueprint, n)
	if err != nil {
		d.finishFailed(exec, model.FailureError, err.Error())
		d.Store.UpdateNodeStatus(nodeID, model.NodeFailed, err.Error())
		return RunOutcome{Status: model.NodeFailed, Err: err}, nil
	}

	cwd := g.Blueprint.ProjectDir
	invoke := func(ctx context.Context, opts agent.RunOptions) (agent.RunResult, error) {
		return a.ResumeSession(ctx, parent.SessionID, opts)
	}
	outcome := d.runAgentAndFinish(ctx, &g.Blueprint, n, g, exec, a, prompt, cwd, invoke)
	return outcome, nil
}
