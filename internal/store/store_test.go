package store

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/planexec/executor/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetBlueprint(t *testing.T) {
	s := openTestStore(t)

	bp := &model.Blueprint{Title: "demo", ProjectDir: "/tmp/demo", AgentType: "claude"}
	if err := s.CreateBlueprint(bp); err != nil {
		t.Fatalf("create blueprint: %v", err)
	}
	if bp.ID == "" {
		t.Fatal("expected id to be assigned")
	}
	if bp.Status != model.BlueprintDraft {
		t.Errorf("expected default draft status, got %s", bp.Status)
	}

	var loaded model.Blueprint
	if err := s.GetBlueprint(bp.ID, &loaded); err != nil {
		t.Fatalf("get blueprint: %v", err)
	}
	if loaded.Title != "demo" || loaded.ProjectDir != "/tmp/demo" {
		t.Errorf("unexpected loaded blueprint: %+v", loaded)
	}
}

func TestUpdateBlueprintStatusMissingID(t *testing.T) {
	s := openTestStore(t)
	if err := s.UpdateBlueprintStatus("bp_nope", model.BlueprintRunning); err == nil {
		t.Fatal("expected error for missing blueprint")
	}
}

func TestCreateNodesAndDependencyRoundTrip(t *testing.T) {
	s := openTestStore(t)

	bp := &model.Blueprint{Title: "demo"}
	if err := s.CreateBlueprint(bp); err != nil {
		t.Fatalf("create blueprint: %v", err)
	}

	n1 := &model.MacroNode{BlueprintID: bp.ID, Order: 0, Title: "first"}
	n2 := &model.MacroNode{BlueprintID: bp.ID, Order: 1, Title: "second"}
	if err := s.CreateNodes([]*model.MacroNode{n1, n2}); err != nil {
		t.Fatalf("create nodes: %v", err)
	}

	n2.Dependencies = []string{n1.ID}
	if err := s.WithTx(func(tx *sql.Tx) error {
		return s.UpdateNodeDependencies(tx, n2.ID, n2.Dependencies)
	}); err != nil {
		t.Fatalf("update dependencies: %v", err)
	}

	loaded, err := s.GetNode(n2.ID)
	if err != nil {
		t.Fatalf("get node: %v", err)
	}
	if len(loaded.Dependencies) != 1 || loaded.Dependencies[0] != n1.ID {
		t.Errorf("unexpected dependencies: %+v", loaded.Dependencies)
	}
}

func TestNodesByBlueprintOrdering(t *testing.T) {
	s := openTestStore(t)
	bp := &model.Blueprint{Title: "demo"}
	s.CreateBlueprint(bp)

	nodes := []*model.MacroNode{
		{BlueprintID: bp.ID, Order: 2, Title: "c"},
		{BlueprintID: bp.ID, Order: 0, Title: "a"},
		{BlueprintID: bp.ID, Order: 1, Title: "b"},
	}
	if err := s.CreateNodes(nodes); err != nil {
		t.Fatalf("create nodes: %v", err)
	}

	loaded, err := s.NodesByBlueprint(bp.ID)
	if err != nil {
		t.Fatalf("nodes by blueprint: %v", err)
	}
	if len(loaded) != 3 || loaded[0].Title != "a" || loaded[1].Title != "b" || loaded[2].Title != "c" {
		t.Fatalf("expected nodes in order a,b,c, got %+v", titlesOf(loaded))
	}
}

func titlesOf(nodes []*model.MacroNode) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Title
	}
	return out
}

func TestArtifactsAvailableToUntargetedAndTargeted(t *testing.T) {
	s := openTestStore(t)
	bp := &model.Blueprint{Title: "demo"}
	s.CreateBlueprint(bp)

	src := &model.MacroNode{BlueprintID: bp.ID, Order: 0, Title: "src"}
	other := &model.MacroNode{BlueprintID: bp.ID, Order: 1, Title: "other"}
	dep := &model.MacroNode{BlueprintID: bp.ID, Order: 2, Title: "dependent"}
	if err := s.CreateNodes([]*model.MacroNode{src, other, dep}); err != nil {
		t.Fatalf("create nodes: %v", err)
	}

	untargeted := &model.Artifact{BlueprintID: bp.ID, SourceNodeID: src.ID, Content: "general handoff"}
	targeted := &model.Artifact{BlueprintID: bp.ID, SourceNodeID: other.ID, TargetNodeID: dep.ID, Content: "specific handoff"}
	unrelated := &model.Artifact{BlueprintID: bp.ID, SourceNodeID: other.ID, Content: "not a dependency of dep"}
	for _, a := range []*model.Artifact{untargeted, targeted, unrelated} {
		if err := s.CreateArtifact(a); err != nil {
			t.Fatalf("create artifact: %v", err)
		}
	}

	available, err := s.ArtifactsAvailableTo(bp.ID, dep.ID, []string{src.ID})
	if err != nil {
		t.Fatalf("artifacts available: %v", err)
	}
	if len(available) != 2 {
		t.Fatalf("expected 2 available artifacts (untargeted from dependency + targeted), got %d: %+v", len(available), available)
	}
}

func TestExecutionLifecycle(t *testing.T) {
	s := openTestStore(t)
	bp := &model.Blueprint{Title: "demo"}
	s.CreateBlueprint(bp)
	n := &model.MacroNode{BlueprintID: bp.ID, Order: 0, Title: "n"}
	s.CreateNodes([]*model.MacroNode{n})

	exec := &model.NodeExecution{NodeID: n.ID, BlueprintID: bp.ID, Type: model.ExecPrimary}
	if err := s.CreateExecution(exec); err != nil {
		t.Fatalf("create execution: %v", err)
	}
	if err := s.SetExecutionPid(exec.ID, 4242); err != nil {
		t.Fatalf("set pid: %v", err)
	}

	running, err := s.RunningExecutions()
	if err != nil {
		t.Fatalf("running executions: %v", err)
	}
	if len(running) != 1 || running[0].CLIPid == nil || *running[0].CLIPid != 4242 {
		t.Fatalf("unexpected running executions: %+v", running)
	}

	exec.Status = model.ExecStatusDone
	exec.OutputSummary = "all done"
	if err := s.FinishExecution(exec); err != nil {
		t.Fatalf("finish execution: %v", err)
	}

	running, err = s.RunningExecutions()
	if err != nil {
		t.Fatalf("running executions after finish: %v", err)
	}
	if len(running) != 0 {
		t.Fatalf("expected no running executions after finish, got %d", len(running))
	}

	loaded, err := s.GetExecution(exec.ID)
	if err != nil {
		t.Fatalf("get execution: %v", err)
	}
	if loaded.Status != model.ExecStatusDone || loaded.OutputSummary != "all done" {
		t.Fatalf("unexpected loaded execution: %+v", loaded)
	}
}

func TestLoadBlueprintGraph(t *testing.T) {
	s := openTestStore(t)
	bp := &model.Blueprint{Title: "demo"}
	s.CreateBlueprint(bp)
	n1 := &model.MacroNode{BlueprintID: bp.ID, Order: 0, Title: "a"}
	s.CreateNodes([]*model.MacroNode{n1})
	s.CreateArtifact(&model.Artifact{BlueprintID: bp.ID, SourceNodeID: n1.ID, Content: "x"})
	s.CreateExecution(&model.NodeExecution{NodeID: n1.ID, BlueprintID: bp.ID, Type: model.ExecPrimary})

	g, err := s.LoadBlueprintGraph(bp.ID)
	if err != nil {
		t.Fatalf("load graph: %v", err)
	}
	if g.Blueprint.ID != bp.ID {
		t.Errorf("expected blueprint loaded")
	}
	if len(g.Nodes) != 1 || len(g.Artifacts) != 1 || len(g.Executions) != 1 {
		t.Fatalf("expected 1 node, 1 artifact, 1 execution, got %d/%d/%d", len(g.Nodes), len(g.Artifacts), len(g.Executions))
	}
	if g.NodeByID(n1.ID) == nil {
		t.Error("expected NodeByID to find the node")
	}
}

func TestQueuedNodes(t *testing.T) {
	s := openTestStore(t)
	bp := &model.Blueprint{Title: "demo"}
	s.CreateBlueprint(bp)
	n1 := &model.MacroNode{BlueprintID: bp.ID, Order: 0, Title: "queued-one", Status: model.NodeQueued}
	n2 := &model.MacroNode{BlueprintID: bp.ID, Order: 1, Title: "pending-one", Status: model.NodePending}
	s.CreateNodes([]*model.MacroNode{n1, n2})

	queued, err := s.QueuedNodes()
	if err != nil {
		t.Fatalf("queued nodes: %v", err)
	}
	if len(queued) != 1 || queued[0].ID != n1.ID {
		t.Fatalf("expected exactly the queued node, got %+v", queued)
	}
}

func TestBackfillTargetedArtifacts(t *testing.T) {
	s := openTestStore(t)
	bp := &model.Blueprint{Title: "demo"}
	s.CreateBlueprint(bp)

	src := &model.MacroNode{BlueprintID: bp.ID, Order: 0, Title: "src"}
	newDependent := &model.MacroNode{BlueprintID: bp.ID, Order: 1, Title: "added later"}
	if err := s.CreateNodes([]*model.MacroNode{src, newDependent}); err != nil {
		t.Fatalf("create nodes: %v", err)
	}
	if err := s.CreateArtifact(&model.Artifact{BlueprintID: bp.ID, SourceNodeID: src.ID, Content: "src's handoff"}); err != nil {
		t.Fatalf("create artifact: %v", err)
	}

	if err := s.BackfillTargetedArtifacts(bp.ID, newDependent.ID, []string{src.ID}); err != nil {
		t.Fatalf("backfill: %v", err)
	}

	handoff, ok, err := s.LatestHandoffFor(bp.ID, src.ID, newDependent.ID)
	if err != nil {
		t.Fatalf("latest handoff: %v", err)
	}
	if !ok {
		t.Fatal("expected a backfilled targeted artifact")
	}
	if handoff.Content != "src's handoff" {
		t.Errorf("content = %q, want %q", handoff.Content, "src's handoff")
	}

	// a second backfill call must not duplicate the targeted row.
	if err := s.BackfillTargetedArtifacts(bp.ID, newDependent.ID, []string{src.ID}); err != nil {
		t.Fatalf("second backfill: %v", err)
	}
	available, err := s.ArtifactsAvailableTo(bp.ID, newDependent.ID, []string{src.ID})
	if err != nil {
		t.Fatalf("artifacts available: %v", err)
	}
	// the original untargeted handoff plus exactly one targeted copy.
	if len(available) != 2 {
		t.Fatalf("expected backfill to be idempotent (2 available artifacts), got %d", len(available))
	}
}

func TestBackfillTargetedArtifactsNoExistingHandoffIsNoop(t *testing.T) {
	s := openTestStore(t)
	bp := &model.Blueprint{Title: "demo"}
	s.CreateBlueprint(bp)

	src := &model.MacroNode{BlueprintID: bp.ID, Order: 0, Title: "src"}
	dependent := &model.MacroNode{BlueprintID: bp.ID, Order: 1, Title: "dependent"}
	if err := s.CreateNodes([]*model.MacroNode{src, dependent}); err != nil {
		t.Fatalf("create nodes: %v", err)
	}

	if err := s.BackfillTargetedArtifacts(bp.ID, dependent.ID, []string{src.ID}); err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if _, ok, err := s.LatestHandoffFor(bp.ID, src.ID, dependent.ID); err != nil || ok {
		t.Fatalf("expected no handoff to exist, ok=%v err=%v", ok, err)
	}
}

func TestSkipNode(t *testing.T) {
	s := openTestStore(t)
	bp := &model.Blueprint{Title: "demo"}
	s.CreateBlueprint(bp)
	n := &model.MacroNode{BlueprintID: bp.ID, Order: 0, Title: "n"}
	s.CreateNodes([]*model.MacroNode{n})

	if err := s.SkipNode(n.ID, "superseded by manual change"); err != nil {
		t.Fatalf("skip node: %v", err)
	}
	loaded, err := s.GetNode(n.ID)
	if err != nil {
		t.Fatalf("get node: %v", err)
	}
	if loaded.Status != model.NodeSkipped || loaded.SkipReason != "superseded by manual change" {
		t.Fatalf("unexpected skipped node: %+v", loaded)
	}
}
