// Package recovery implements the startup Recovery Subsystem: on process
// restart it triages every execution left marked running, reverts
// restart-induced false failures whose session is still alive, unsticks
// blueprints with no in-flight work, re-enqueues orphaned queued nodes,
// and then keeps watching the survivors until they finish or time out.
package recovery

import (
	"log"
	"sync"
	"time"

	"github.com/planexec/executor/internal/agent"
	"github.com/planexec/executor/internal/executor"
	"github.com/planexec/executor/internal/model"
	"github.com/planexec/executor/internal/store"
)

const restartedSummary = "Recovered after server restart"
const restartedFailureDetail = "Server restarted while execution was running"
const nodeInterruptedError = "Execution interrupted by server restart"

// Subsystem owns the one-time startup pass plus the ongoing monitor loop
// for executions it classified "monitor".
type Subsystem struct {
	Store          *store.Store
	Agents         *agent.Registry
	Driver         *executor.Driver
	AbsoluteDeadline time.Duration
	PollInterval     time.Duration

	mu      sync.Mutex
	monitor map[string]*monitorEntry
	stop    chan struct{}
}

type monitorEntry struct {
	exec     *store.RunningExecution
	deadline time.Time
}

// New builds a Subsystem. deadline and pollInterval default to 45 minutes
// and 60 seconds respectively when zero.
func New(s *store.Store, agents *agent.Registry, d *executor.Driver, deadline, pollInterval time.Duration) *Subsystem {
	if deadline <= 0 {
		deadline = 45 * time.Minute
	}
	if pollInterval <= 0 {
		pollInterval = 60 * time.Second
	}
	return &Subsystem{
		Store: s, Agents: agents, Driver: d,
		AbsoluteDeadline: deadline, PollInterval: pollInterval,
		monitor: make(map[string]*monitorEntry),
		stop:    make(chan struct{}),
	}
}

// Run executes the four one-time startup steps and then starts the
// periodic monitor loop as a background goroutine. It must complete
// before any new task is admitted onto the queue.
func (r *Subsystem) Run() error {
	if err := r.staleExecutionTriage(); err != nil {
		return err
	}
	if err := r.falseFailureReversion(); err != nil {
		return err
	}
	if err := r.blueprintUnstick(); err != nil {
		return err
	}
	if err := r.orphanReenqueue(); err != nil {
		return err
	}
	go r.monitorLoop()
	return nil
}

// Stop ends the monitor loop.
func (r *Subsystem) Stop() {
	close(r.stop)
}

func (r *Subsystem) resolveAgentFor(bp *model.Blueprint, n *model.MacroNode) (agent.Agent, error) {
	tag := n.AgentType
	if tag == "" {
		tag = bp.AgentType
	}
	return r.Agents.Resolve(tag)
}

// staleExecutionTriage is recovery step 1: classify every execution still
// marked running as monitor, finalize, or fail.
func (r *Subsystem) staleExecutionTriage() error {
	running, err := r.Store.RunningExecutions()
	if err != nil {
		return err
	}
	for _, re := range running {
		r.triageOne(re)
	}
	return nil
}

func (r *Subsystem) triageOne(re *store.RunningExecution) {
	if re.ProjectDir == "" {
		r.failStale(re, nodeInterruptedError)
		return
	}

	if re.CLIPid != nil && isProcessAlive(*re.CLIPid) {
		log.Printf("[RECOVERY] node %s pid %d still alive, monitoring", re.NodeID, *re.CLIPid)
		r.addMonitor(re)
		return
	}

	bp := &model.Blueprint{}
	if err := r.Store.GetBlueprint(re.BlueprintID, bp); err != nil {
		log.Printf("[RECOVERY] load blueprint %s: %v", re.BlueprintID, err)
		r.failStale(re, nodeInterruptedError)
		return
	}
	n, err := r.Store.GetNode(re.NodeID)
	if err != nil {
		log.Printf("[RECOVERY] load node %s: %v", re.NodeID, err)
		r.failStale(re, nodeInterruptedError)
		return
	}

	sessionID := re.SessionID
	if sessionID == "" {
		if a, err := r.resolveAgentFor(bp, n); err == nil {
			if sid, ok := a.DetectNewSession(re.ProjectDir, re.StartedAt); ok {
				sessionID = sid
			}
		}
	}
	if sessionID == "" {
		r.failStale(re, nodeInterruptedError)
		return
	}

	owned, err := r.Store.SessionOwnedByOther(sessionID, re.ExecutionID)
	if err != nil {
		log.Printf("[RECOVERY] session ownership check for %s: %v", sessionID, err)
	}
	if owned {
		r.failStale(re, nodeInterruptedError)
		return
	}

	r.finalizeStale(re, sessionID)
}

func (r *Subsystem) failStale(re *store.RunningExecution, reason string) {
	exec, err := r.Store.GetExecution(re.ExecutionID)
	if err != nil {
		log.Printf("[RECOVERY] load execution %s: %v", re.ExecutionID, err)
		return
	}
	exec.Status = model.ExecStatusFailed
	exec.OutputSummary = restartedFailureDetail
	exec.FailureReason = model.FailureError
	exec.FailureDetail = reason
	if err := r.Store.FinishExecution(exec); err != nil {
		log.Printf("[RECOVERY] finish execution %s: %v", exec.ID, err)
	}
	if err := r.Store.UpdateNodeStatus(re.NodeID, model.NodeFailed, reason); err != nil {
		log.Printf("[RECOVERY] fail node %s: %v", re.NodeID, err)
	}
}

func (r *Subsystem) finalizeStale(re *store.RunningExecution, sessionID string) {
	exec, err := r.Store.GetExecution(re.ExecutionID)
	if err != nil {
		log.Printf("[RECOVERY] load execution %s: %v", re.ExecutionID, err)
		return
	}
	if sessionID != re.SessionID {
		r.Store.SetExecutionSession(exec.ID, sessionID)
		exec.SessionID = sessionID
	}
	exec.Status = model.ExecStatusDone
	exec.OutputSummary = restartedSummary
	if err := r.Store.FinishExecution(exec); err != nil {
		log.Printf("[RECOVERY] finish execution %s: %v", exec.ID, err)
		return
	}
	minutes := int(time.Since(re.StartedAt).Minutes())
	r.Store.SetActualMinutes(re.NodeID, minutes)
	if err := r.Store.UpdateNodeStatus(re.NodeID, model.NodeDone, ""); err != nil {
		log.Printf("[RECOVERY] finalize node %s: %v", re.NodeID, err)
	}
}

// falseFailureReversion is recovery step 2: undo a restart-induced
// failure when its session file shows it was actually still progressing.
func (r *Subsystem) falseFailureReversion() error {
	candidates, err := r.Store.RecentlyFailedRestartExecutions(10 * time.Minute)
	if err != nil {
		return err
	}
	for _, re := range candidates {
		if re.SessionID == "" || re.ProjectDir == "" {
			continue
		}
		bp := &model.Blueprint{}
		if err := r.Store.GetBlueprint(re.BlueprintID, bp); err != nil {
			continue
		}
		n, err := r.Store.GetNode(re.NodeID)
		if err != nil {
			continue
		}
		a, err := r.resolveAgentFor(bp, n)
		if err != nil {
			continue
		}
		window := 2 * 30 * time.Minute
		if r.Driver != nil && r.Driver.Flags.SubprocessTimeout > 0 {
			window = 2 * r.Driver.Flags.SubprocessTimeout
		}
		if !a.IsSessionAlive(re.ProjectDir, re.SessionID, window) {
			continue
		}
		if err := r.Store.ReviveExecution(re.ExecutionID); err != nil {
			log.Printf("[RECOVERY] revive execution %s: %v", re.ExecutionID, err)
			continue
		}
		if err := r.Store.UpdateNodeStatus(re.NodeID, model.NodeRunning, ""); err != nil {
			log.Printf("[RECOVERY] revive node %s: %v", re.NodeID, err)
			continue
		}
		log.Printf("[RECOVERY] reverted false failure for node %s", re.NodeID)
		r.addMonitor(re)
	}
	return nil
}

// blueprintUnstick is recovery step 3: a blueprint marked running with no
// in-flight node has nothing left to drive it forward, so it drops back
// to approved for a human or a fresh run-all to pick up.
func (r *Subsystem) blueprintUnstick() error {
	blueprints, err := r.Store.ListBlueprints()
	if err != nil {
		return err
	}
	for _, bp := range blueprints {
		if bp.Status != model.BlueprintRunning {
			continue
		}
		nodes, err := r.Store.NodesByBlueprint(bp.ID)
		if err != nil {
			continue
		}
		stuck := true
		for _, n := range nodes {
			if n.Status == model.NodeRunning || n.Status == model.NodeQueued {
				stuck = false
				break
			}
		}
		if stuck {
			if err := r.Store.UpdateBlueprintStatus(bp.ID, model.BlueprintApproved); err != nil {
				log.Printf("[RECOVERY] unstick blueprint %s: %v", bp.ID, err)
			}
		}
	}
	return nil
}

// orphanReenqueue is recovery step 4: a node left queued when the process
// died never got its task drained, so it is resubmitted directly.
func (r *Subsystem) orphanReenqueue() error {
	nodes, err := r.Store.QueuedNodes()
	if err != nil {
		return err
	}
	for _, n := range nodes {
		if _, err := r.Driver.Run(n.BlueprintID, n.ID); err != nil {
			log.Printf("[RECOVERY] orphan re-enqueue failed for node %s: %v", n.ID, err)
			r.Store.RevertIfQueued(n.ID)
		}
	}
	return nil
}

func (r *Subsystem) addMonitor(re *store.RunningExecution) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.monitor[re.ExecutionID] = &monitorEntry{exec: re, deadline: re.StartedAt.Add(r.AbsoluteDeadline)}
}

// monitorLoop is recovery step 5: periodically recheck every "monitor"
// execution, re-running the finalize/fail decision on liveness loss or
// absolute-deadline expiry.
func (r *Subsystem) monitorLoop() {
	ticker := time.NewTicker(r.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.sweepMonitor()
		}
	}
}

func (r *Subsystem) sweepMonitor() {
	r.mu.Lock()
	due := make([]*monitorEntry, 0, len(r.monitor))
	for id, entry := range r.monitor {
		alive := entry.exec.CLIPid != nil && isProcessAlive(*entry.exec.CLIPid)
		expired := time.Now().After(entry.deadline)
		if !alive || expired {
			due = append(due, entry)
			delete(r.monitor, id)
		}
	}
	r.mu.Unlock()

	for _, entry := range due {
		re := entry.exec
		if time.Now().After(entry.deadline) {
			// Past the absolute deadline a live pid no longer keeps the
			// execution in monitor: finalize or fail it as if the pid died.
			expired := *re
			expired.CLIPid = nil
			re = &expired
		}
		r.triageOne(re)
	}
}
