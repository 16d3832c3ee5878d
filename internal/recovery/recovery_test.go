package recovery

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/planexec/executor/internal/agent"
	"github.com/planexec/executor/internal/executor"
	"github.com/planexec/executor/internal/model"
	"github.com/planexec/executor/internal/mutation"
	"github.com/planexec/executor/internal/pending"
	"github.com/planexec/executor/internal/queue"
	"github.com/planexec/executor/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestDriver(s *store.Store, registry *agent.Registry) *executor.Driver {
	pendingRegistry := pending.NewRegistry()
	queueManager := queue.NewManager(pendingRegistry, nil)
	mutationEngine := mutation.NewEngine(s)
	return executor.New(s, registry, queueManager, pendingRegistry, mutationEngine, nil, nil, executor.Flags{})
}

func seedBlueprintAndNode(t *testing.T, s *store.Store, agentType string) (*model.Blueprint, *model.MacroNode) {
	t.Helper()
	bp := &model.Blueprint{Title: "test blueprint", ProjectDir: "/tmp/proj", AgentType: agentType, Status: model.BlueprintRunning}
	if err := s.CreateBlueprint(bp); err != nil {
		t.Fatalf("create blueprint: %v", err)
	}
	n := &model.MacroNode{BlueprintID: bp.ID, Title: "test node", Status: model.NodePending}
	if err := s.CreateNode(n); err != nil {
		t.Fatalf("create node: %v", err)
	}
	return bp, n
}

func TestBlueprintUnstickFlipsWithNoInFlightNodes(t *testing.T) {
	s := openTestStore(t)
	bp, n := seedBlueprintAndNode(t, s, "claude")
	if err := s.UpdateNodeStatus(n.ID, model.NodeDone, ""); err != nil {
		t.Fatalf("update node status: %v", err)
	}

	r := New(s, agent.NewRegistry(nil), nil, 0, 0)
	if err := r.blueprintUnstick(); err != nil {
		t.Fatalf("blueprintUnstick: %v", err)
	}

	got := &model.Blueprint{}
	if err := s.GetBlueprint(bp.ID, got); err != nil {
		t.Fatalf("get blueprint: %v", err)
	}
	if got.Status != model.BlueprintApproved {
		t.Errorf("status = %s, want %s", got.Status, model.BlueprintApproved)
	}
}

func TestBlueprintUnstickLeavesRunningNodeAlone(t *testing.T) {
	s := openTestStore(t)
	bp, n := seedBlueprintAndNode(t, s, "claude")
	if err := s.UpdateNodeStatus(n.ID, model.NodeRunning, ""); err != nil {
		t.Fatalf("update node status: %v", err)
	}

	r := New(s, agent.NewRegistry(nil), nil, 0, 0)
	if err := r.blueprintUnstick(); err != nil {
		t.Fatalf("blueprintUnstick: %v", err)
	}

	got := &model.Blueprint{}
	if err := s.GetBlueprint(bp.ID, got); err != nil {
		t.Fatalf("get blueprint: %v", err)
	}
	if got.Status != model.BlueprintRunning {
		t.Errorf("status = %s, want %s unchanged", got.Status, model.BlueprintRunning)
	}
}

// TestOrphanReenqueueRevertsOnFailedRun drives a node whose dependency
// never completed, so Driver.Run rejects it synchronously (before ever
// touching the queue goroutine) and orphanReenqueue must revert it back
// to pending rather than leave it stuck queued.
func TestOrphanReenqueueRevertsOnFailedRun(t *testing.T) {
	s := openTestStore(t)
	bp, blocker := seedBlueprintAndNode(t, s, "claude")
	n := &model.MacroNode{BlueprintID: bp.ID, Title: "blocked node", Dependencies: []string{blocker.ID}, Status: model.NodePending}
	if err := s.CreateNode(n); err != nil {
		t.Fatalf("create node: %v", err)
	}
	if err := s.UpdateNodeStatus(n.ID, model.NodeQueued, ""); err != nil {
		t.Fatalf("update node status: %v", err)
	}

	registry := agent.NewRegistry(nil)
	driver := newTestDriver(s, registry)
	r := New(s, registry, driver, 0, 0)

	if err := r.orphanReenqueue(); err != nil {
		t.Fatalf("orphanReenqueue: %v", err)
	}

	got, err := s.GetNode(n.ID)
	if err != nil {
		t.Fatalf("get node: %v", err)
	}
	if got.Status != model.NodePending {
		t.Errorf("status = %s, want %s", got.Status, model.NodePending)
	}
}

func TestFailStaleMarksExecutionAndNodeFailed(t *testing.T) {
	s := openTestStore(t)
	_, n := seedBlueprintAndNode(t, s, "claude")
	if err := s.UpdateNodeStatus(n.ID, model.NodeRunning, ""); err != nil {
		t.Fatalf("update node status: %v", err)
	}
	exec := &model.NodeExecution{NodeID: n.ID, BlueprintID: n.BlueprintID, Type: model.ExecPrimary}
	if err := s.CreateExecution(exec); err != nil {
		t.Fatalf("create execution: %v", err)
	}

	r := New(s, agent.NewRegistry(nil), nil, 0, 0)
	re := &store.RunningExecution{ExecutionID: exec.ID, NodeID: n.ID, BlueprintID: n.BlueprintID, StartedAt: time.Now().UTC()}
	r.failStale(re, nodeInterruptedError)

	gotExec, err := s.GetExecution(exec.ID)
	if err != nil {
		t.Fatalf("get execution: %v", err)
	}
	if gotExec.Status != model.ExecStatusFailed {
		t.Errorf("execution status = %s, want %s", gotExec.Status, model.ExecStatusFailed)
	}
	if gotExec.FailureDetail != nodeInterruptedError {
		t.Errorf("failure detail = %q, want %q", gotExec.FailureDetail, nodeInterruptedError)
	}

	gotNode, err := s.GetNode(n.ID)
	if err != nil {
		t.Fatalf("get node: %v", err)
	}
	if gotNode.Status != model.NodeFailed {
		t.Errorf("node status = %s, want %s", gotNode.Status, model.NodeFailed)
	}
}

func TestFinalizeStaleMarksExecutionAndNodeDone(t *testing.T) {
	s := openTestStore(t)
	_, n := seedBlueprintAndNode(t, s, "claude")
	if err := s.UpdateNodeStatus(n.ID, model.NodeRunning, ""); err != nil {
		t.Fatalf("update node status: %v", err)
	}
	started := time.Now().UTC().Add(-5 * time.Minute)
	exec := &model.NodeExecution{NodeID: n.ID, BlueprintID: n.BlueprintID, Type: model.ExecPrimary, StartedAt: started}
	if err := s.CreateExecution(exec); err != nil {
		t.Fatalf("create execution: %v", err)
	}

	r := New(s, agent.NewRegistry(nil), nil, 0, 0)
	re := &store.RunningExecution{ExecutionID: exec.ID, NodeID: n.ID, BlueprintID: n.BlueprintID, StartedAt: started}
	r.finalizeStale(re, "detected-session")

	gotExec, err := s.GetExecution(exec.ID)
	if err != nil {
		t.Fatalf("get execution: %v", err)
	}
	if gotExec.Status != model.ExecStatusDone {
		t.Errorf("execution status = %s, want %s", gotExec.Status, model.ExecStatusDone)
	}
	if gotExec.SessionID != "detected-session" {
		t.Errorf("session id = %q, want %q", gotExec.SessionID, "detected-session")
	}

	gotNode, err := s.GetNode(n.ID)
	if err != nil {
		t.Fatalf("get node: %v", err)
	}
	if gotNode.Status != model.NodeDone {
		t.Errorf("node status = %s, want %s", gotNode.Status, model.NodeDone)
	}
	if gotNode.ActualMinutes == nil || *gotNode.ActualMinutes < 4 {
		t.Errorf("actual minutes = %v, want >= 4", gotNode.ActualMinutes)
	}
}

func TestAddMonitorAndSweepRemovesDeadPid(t *testing.T) {
	s := openTestStore(t)
	_, n := seedBlueprintAndNode(t, s, "claude")
	if err := s.UpdateNodeStatus(n.ID, model.NodeRunning, ""); err != nil {
		t.Fatalf("update node status: %v", err)
	}
	exec := &model.NodeExecution{NodeID: n.ID, BlueprintID: n.BlueprintID, Type: model.ExecPrimary}
	if err := s.CreateExecution(exec); err != nil {
		t.Fatalf("create execution: %v", err)
	}

	r := New(s, agent.NewRegistry(nil), nil, time.Hour, time.Minute)
	deadPid := 0 // pid 0 is never a live user process on this platform's check
	re := &store.RunningExecution{
		ExecutionID: exec.ID, NodeID: n.ID, BlueprintID: n.BlueprintID,
		CLIPid: &deadPid, ProjectDir: "", StartedAt: time.Now().UTC(),
	}
	r.addMonitor(re)

	if len(r.monitor) != 1 {
		t.Fatalf("monitor size = %d, want 1", len(r.monitor))
	}

	r.sweepMonitor()

	if len(r.monitor) != 0 {
		t.Errorf("monitor size after sweep = %d, want 0 (dead pid should have been triaged out)", len(r.monitor))
	}
	gotNode, err := s.GetNode(n.ID)
	if err != nil {
		t.Fatalf("get node: %v", err)
	}
	if gotNode.Status != model.NodeFailed {
		t.Errorf("node status = %s, want %s (no project dir means failStale)", gotNode.Status, model.NodeFailed)
	}
}
