package executor

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/planexec/executor/internal/agent"
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

func newTestDriver(s *store.Store, registry *agent.Registry) *Driver {
	pendingRegistry := pending.NewRegistry()
	queueManager := queue.NewManager(pendingRegistry, nil)
	mutationEngine := mutation.NewEngine(s)
	return New(s, registry, queueManager, pendingRegistry, mutationEngine, nil, nil, Flags{})
}

func seedBlueprintAndNode(t *testing.T, s *store.Store) (*model.Blueprint, *model.MacroNode) {
	t.Helper()
	bp := &model.Blueprint{Title: "bp", ProjectDir: "/tmp/proj", AgentType: "claude"}
	if err := s.CreateBlueprint(bp); err != nil {
		t.Fatalf("create blueprint: %v", err)
	}
	n := &model.MacroNode{BlueprintID: bp.ID, Title: "node"}
	if err := s.CreateNode(n); err != nil {
		t.Fatalf("create node: %v", err)
	}
	return bp, n
}

// fakeHandoffSource lets buildPrompt be tested without a real store.
type fakeHandoffSource struct {
	artifact *model.Artifact
	found    bool
	err      error
}

func (f fakeHandoffSource) LatestHandoffFor(blueprintID, sourceNodeID, nodeID string) (*model.Artifact, bool, error) {
	return f.artifact, f.found, f.err
}

func TestBuildPromptIncludesHandoffAndProtocolTrailer(t *testing.T) {
	bp := &model.Blueprint{ID: "bp1", Title: "Demo Plan", Description: "A demo plan."}
	dep := &model.MacroNode{ID: "n0", BlueprintID: "bp1", Order: 0, Title: "Setup"}
	n := &model.MacroNode{ID: "n1", BlueprintID: "bp1", Order: 1, Title: "Build feature", Dependencies: []string{"n0"}}
	g := &model.BlueprintGraph{Blueprint: *bp, Nodes: []*model.MacroNode{dep, n}}

	src := fakeHandoffSource{artifact: &model.Artifact{Content: "setup complete, db migrated"}, found: true}
	prompt, err := buildPrompt(bp, n, g, src)
	if err != nil {
		t.Fatalf("buildPrompt: %v", err)
	}
	if !contains(prompt, "Demo Plan") || !contains(prompt, "setup complete, db migrated") || !contains(prompt, "===TASK_COMPLETE===") {
		t.Errorf("prompt missing expected content: %s", prompt)
	}
}

func TestBuildPromptSkipsMissingHandoff(t *testing.T) {
	bp := &model.Blueprint{ID: "bp1", Title: "Demo Plan"}
	n := &model.MacroNode{ID: "n1", BlueprintID: "bp1", Order: 0, Title: "Solo step"}
	g := &model.BlueprintGraph{Blueprint: *bp, Nodes: []*model.MacroNode{n}}

	src := fakeHandoffSource{found: false}
	prompt, err := buildPrompt(bp, n, g, src)
	if err != nil {
		t.Fatalf("buildPrompt: %v", err)
	}
	if !contains(prompt, "Solo step") {
		t.Errorf("prompt missing node title: %s", prompt)
	}
}

func contains(s, substr string) bool { return strings.Contains(s, substr) }

func TestParseEnrichResultExtractsLastOccurrence(t *testing.T) {
	output := `some preamble
===ENRICH_RESULT===
TITLE: stale title
DESCRIPTION: stale
===END_ENRICH===
more output
===ENRICH_RESULT===
TITLE: Wire up the HTTP router
DESCRIPTION: Adds gorilla/mux routing for callbacks and control endpoints.
More detail on a second line.
===END_ENRICH===`

	title, description, ok := parseEnrichResult(output)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if title != "Wire up the HTTP router" {
		t.Errorf("title = %q, want %q", title, "Wire up the HTTP router")
	}
	if !contains(description, "gorilla/mux") || !contains(description, "second line") {
		t.Errorf("description = %q, missing expected lines", description)
	}
}

func TestParseEnrichResultNoMarkersReturnsNotOK(t *testing.T) {
	_, _, ok := parseEnrichResult("nothing useful here")
	if ok {
		t.Error("expected ok=false with no markers present")
	}
}

// fakeEnrichAgent returns a canned RunSession result for Enrich tests.
type fakeEnrichAgent struct {
	agent.Agent
	stdout string
}

func (f *fakeEnrichAgent) RunSession(_ context.Context, _ agent.RunOptions) (agent.RunResult, error) {
	return agent.RunResult{Stdout: f.stdout}, nil
}
func (f *fakeEnrichAgent) DetectNewSession(cwd string, since time.Time) (string, bool) { return "", false }

func TestEnrichUpdatesTitleAndDescription(t *testing.T) {
	s := openTestStore(t)
	_, n := seedBlueprintAndNode(t, s)

	registry := agent.NewRegistry(nil)
	registry.Register("claude", &fakeEnrichAgent{stdout: "===ENRICH_RESULT===\nTITLE: Renamed step\nDESCRIPTION: Better description.\n===END_ENRICH===\n"})
	d := newTestDriver(s, registry)

	if err := d.Enrich(n.BlueprintID, n.ID); err != nil {
		t.Fatalf("Enrich: %v", err)
	}

	got, err := s.GetNode(n.ID)
	if err != nil {
		t.Fatalf("get node: %v", err)
	}
	if got.Title != "Renamed step" {
		t.Errorf("title = %q, want %q", got.Title, "Renamed step")
	}
	if got.Description != "Better description." {
		t.Errorf("description = %q, want %q", got.Description, "Better description.")
	}
}

func TestResumeRejectsNonFailedExecution(t *testing.T) {
	s := openTestStore(t)
	_, n := seedBlueprintAndNode(t, s)
	exec := &model.NodeExecution{NodeID: n.ID, BlueprintID: n.BlueprintID, Type: model.ExecPrimary}
	if err := s.CreateExecution(exec); err != nil {
		t.Fatalf("create execution: %v", err)
	}

	d := newTestDriver(s, agent.NewRegistry(nil))
	if _, err := d.Resume(n.BlueprintID, exec.ID); err == nil {
		t.Error("expected error resuming a still-running execution")
	}
}

func TestResumeRejectsMissingSessionID(t *testing.T) {
	s := openTestStore(t)
	_, n := seedBlueprintAndNode(t, s)
	exec := &model.NodeExecution{NodeID: n.ID, BlueprintID: n.BlueprintID, Type: model.ExecPrimary}
	if err := s.CreateExecution(exec); err != nil {
		t.Fatalf("create execution: %v", err)
	}
	exec.Status = model.ExecStatusFailed
	if err := s.FinishExecution(exec); err != nil {
		t.Fatalf("finish execution: %v", err)
	}

	d := newTestDriver(s, agent.NewRegistry(nil))
	if _, err := d.Resume(n.BlueprintID, exec.ID); err == nil {
		t.Error("expected error resuming an execution with no session id")
	}
}

func TestRunAllNoAdmissibleCandidatesIsNoop(t *testing.T) {
	s := openTestStore(t)
	_, n := seedBlueprintAndNode(t, s)
	if err := s.UpdateNodeStatus(n.ID, model.NodeDone, ""); err != nil {
		t.Fatalf("update node status: %v", err)
	}

	d := newTestDriver(s, agent.NewRegistry(nil))
	if err := d.RunAll(n.BlueprintID); err != nil {
		t.Fatalf("RunAll: %v", err)
	}
}

func TestRunAllQueuesAdmissiblePendingNodes(t *testing.T) {
	// Admissible is the lenient, queue-time check: a pending dependency
	// does not block admission, only a failed or blocked one does. So
	// both nodes here are pre-queued in the same batch, first before
	// second per topoSort.
	s := openTestStore(t)
	bp, first := seedBlueprintAndNode(t, s)
	second := &model.MacroNode{BlueprintID: bp.ID, Order: 1, Title: "second", Dependencies: []string{first.ID}}
	if err := s.CreateNode(second); err != nil {
		t.Fatalf("create node: %v", err)
	}

	d := newTestDriver(s, agent.NewRegistry(nil))
	if err := d.RunAll(bp.ID); err != nil {
		t.Fatalf("RunAll: %v", err)
	}

	gotFirst, err := s.GetNode(first.ID)
	if err != nil {
		t.Fatalf("get node: %v", err)
	}
	if gotFirst.Status != model.NodeQueued {
		t.Errorf("first node status = %s, want %s", gotFirst.Status, model.NodeQueued)
	}
	gotSecond, err := s.GetNode(second.ID)
	if err != nil {
		t.Fatalf("get node: %v", err)
	}
	if gotSecond.Status != model.NodeQueued {
		t.Errorf("second node status = %s, want %s", gotSecond.Status, model.NodeQueued)
	}
}

func TestRunAllExcludesBlockedDependent(t *testing.T) {
	s := openTestStore(t)
	bp, blocker := seedBlueprintAndNode(t, s)
	if err := s.UpdateNodeStatus(blocker.ID, model.NodeBlocked, ""); err != nil {
		t.Fatalf("update node status: %v", err)
	}
	dependent := &model.MacroNode{BlueprintID: bp.ID, Order: 1, Title: "dependent", Dependencies: []string{blocker.ID}}
	if err := s.CreateNode(dependent); err != nil {
		t.Fatalf("create node: %v", err)
	}

	d := newTestDriver(s, agent.NewRegistry(nil))
	if err := d.RunAll(bp.ID); err != nil {
		t.Fatalf("RunAll: %v", err)
	}

	got, err := s.GetNode(dependent.ID)
	if err != nil {
		t.Fatalf("get node: %v", err)
	}
	if got.Status != model.NodePending {
		t.Errorf("status = %s, want %s (blocked dependency should exclude it from admission)", got.Status, model.NodePending)
	}
}

func TestTopoSortOrdersDependenciesFirst(t *testing.T) {
	a := &model.MacroNode{ID: "a", Order: 0}
	b := &model.MacroNode{ID: "b", Order: 1, Dependencies: []string{"a"}}
	c := &model.MacroNode{ID: "c", Order: 2, Dependencies: []string{"b"}}
	g := &model.BlueprintGraph{Nodes: []*model.MacroNode{a, b, c}}

	ordered, err := topoSort([]*model.MacroNode{c, a, b}, g)
	if err != nil {
		t.Fatalf("topoSort: %v", err)
	}
	if len(ordered) != 3 || ordered[0].ID != "a" || ordered[1].ID != "b" || ordered[2].ID != "c" {
		ids := make([]string, len(ordered))
		for i, n := range ordered {
			ids[i] = n.ID
		}
		t.Errorf("order = %v, want [a b c]", ids)
	}
}

func TestTopoSortDetectsCycle(t *testing.T) {
	a := &model.MacroNode{ID: "a", Order: 0, Dependencies: []string{"b"}}
	b := &model.MacroNode{ID: "b", Order: 1, Dependencies: []string{"a"}}
	g := &model.BlueprintGraph{Nodes: []*model.MacroNode{a, b}}

	if _, err := topoSort([]*model.MacroNode{a, b}, g); err == nil {
		t.Error("expected cycle detection error")
	}
}

func TestEvaluationInboxRecordThenTake(t *testing.T) {
	inbox := newEvaluationInbox()
	eval := mutation.Evaluation{Status: mutation.EvalComplete}
	inbox.Record("node1", eval)

	got, ok := inbox.Take("node1")
	if !ok {
		t.Fatal("expected evaluation to be present")
	}
	if got.Status != mutation.EvalComplete {
		t.Errorf("status = %v, want %v", got.Status, mutation.EvalComplete)
	}

	if _, ok := inbox.Take("node1"); ok {
		t.Error("expected evaluation to be consumed after Take")
	}
}
