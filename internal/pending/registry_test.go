package pending

import (
	"testing"
	"time"
)

func TestAddAndList(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	r.Add("bp1", KindRun, "n1", now)
	r.Add("bp1", KindRun, "n2", now)

	list := r.List("bp1")
	if len(list) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(list))
	}
	if list[0].NodeID != "n1" || list[1].NodeID != "n2" {
		t.Errorf("expected FIFO order, got %+v", list)
	}
}

func TestRemoveWildcardNodeID(t *testing.T) {
	r := NewRegistry()
	r.Add("bp1", KindRun, "n1", time.Now())
	r.Add("bp1", KindRunAll, "", time.Now())

	r.Remove("bp1", "", KindRunAll)
	list := r.List("bp1")
	if len(list) != 1 || list[0].NodeID != "n1" {
		t.Fatalf("expected only n1 left, got %+v", list)
	}
}

func TestRemoveLastEntryDeletesKey(t *testing.T) {
	r := NewRegistry()
	r.Add("bp1", KindRun, "n1", time.Now())
	r.Remove("bp1", "n1", KindRun)

	if r.Len("bp1") != 0 {
		t.Errorf("expected empty after removing sole entry")
	}
	if r.HasActive() {
		t.Error("expected HasActive false once all blueprints are empty")
	}
}

func TestRemoveNonExistentIsNoop(t *testing.T) {
	r := NewRegistry()
	r.Remove("ghost", "nope", KindRun)
	if r.HasActive() {
		t.Error("expected no-op remove to leave registry inactive")
	}
}

func TestAllFlattensAcrossBlueprints(t *testing.T) {
	r := NewRegistry()
	r.Add("bp1", KindRun, "n1", time.Now())
	r.Add("bp2", KindReevaluate, "n2", time.Now())

	all := r.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 global entries, got %d", len(all))
	}
}
