package depend

import (
	"testing"

	"github.com/planexec/executor/internal/model"
)

func lookupMap(m map[string]model.NodeStatus) Lookup {
	return func(id string) (model.NodeStatus, bool) {
		s, ok := m[id]
		return s, ok
	}
}

func TestAdmissibleAllowsRunningQueuedPendingDoneSkipped(t *testing.T) {
	statuses := []model.NodeStatus{
		model.NodeRunning, model.NodeQueued, model.NodePending,
		model.NodeDone, model.NodeSkipped,
	}
	for _, s := range statuses {
		lookup := lookupMap(map[string]model.NodeStatus{"a": s})
		if !Admissible([]string{"a"}, lookup) {
			t.Errorf("expected admission with dependency status %s", s)
		}
	}
}

func TestAdmissibleBlocksOnFailedOrBlocked(t *testing.T) {
	for _, s := range []model.NodeStatus{model.NodeFailed, model.NodeBlocked} {
		lookup := lookupMap(map[string]model.NodeStatus{"a": s})
		if Admissible([]string{"a"}, lookup) {
			t.Errorf("expected admission to be denied with dependency status %s", s)
		}
	}
}

func TestExecutableRequiresDoneOrSkipped(t *testing.T) {
	lookup := lookupMap(map[string]model.NodeStatus{
		"a": model.NodeDone,
		"b": model.NodeSkipped,
	})
	if !Executable([]string{"a", "b"}, lookup) {
		t.Error("expected executable when all deps done/skipped")
	}

	lookup = lookupMap(map[string]model.NodeStatus{
		"a": model.NodeDone,
		"b": model.NodeRunning,
	})
	if Executable([]string{"a", "b"}, lookup) {
		t.Error("expected not executable with a running dependency")
	}
}

func TestExecutableMissingDependencyFails(t *testing.T) {
	lookup := lookupMap(map[string]model.NodeStatus{})
	if Executable([]string{"ghost"}, lookup) {
		t.Error("expected executable to fail closed on unresolved dependency")
	}
}

func TestUnsatisfiedStrictListsOffenders(t *testing.T) {
	lookup := lookupMap(map[string]model.NodeStatus{
		"a": model.NodeDone,
		"b": model.NodeRunning,
		"c": model.NodePending,
	})
	got := UnsatisfiedStrict([]string{"a", "b", "c"}, lookup)
	if len(got) != 2 {
		t.Fatalf("expected 2 unsatisfied deps, got %v", got)
	}
}

func TestLookupFromGraph(t *testing.T) {
	g := &model.BlueprintGraph{Nodes: []*model.MacroNode{
		{ID: "n1", Status: model.NodeDone},
	}}
	lookup := LookupFromGraph(g)
	status, ok := lookup("n1")
	if !ok || status != model.NodeDone {
		t.Fatalf("expected n1 done, got %v %v", status, ok)
	}
	if _, ok := lookup("missing"); ok {
		t.Error("expected missing node to resolve false")
	}
}
