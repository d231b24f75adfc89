package engine

import (
	"testing"
)

func TestBuildGraphDeduplicates(t *testing.T) {
	shared := &fakeTask{id: NewIdentity("shared", "account", "111111111111")}
	left := &fakeTask{id: NewIdentity("left"), deps: []Task{shared}}
	right := &fakeTask{
		id:   NewIdentity("right"),
		deps: []Task{&fakeTask{id: NewIdentity("shared", "account", "111111111111")}},
	}

	g, err := BuildGraph([]Task{left, right})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.TaskCount() != 3 {
		t.Errorf("TaskCount() = %d, want 3", g.TaskCount())
	}
}

func TestBuildGraphDistinguishesParams(t *testing.T) {
	a := &fakeTask{id: NewIdentity("provision", "region", "eu-west-1")}
	b := &fakeTask{id: NewIdentity("provision", "region", "us-east-1")}

	g, err := BuildGraph([]Task{a, b})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.TaskCount() != 2 {
		t.Errorf("TaskCount() = %d, want 2", g.TaskCount())
	}
}

func TestBuildGraphDetectsCycle(t *testing.T) {
	a := &fakeTask{id: NewIdentity("a")}
	b := &fakeTask{id: NewIdentity("b"), deps: []Task{a}}
	a.deps = []Task{b}

	_, err := BuildGraph([]Task{a})
	if err == nil {
		t.Fatal("expected cycle error")
	}
	if !IsConfiguration(err) {
		t.Errorf("cycle error must be a configuration error, got %v", err)
	}
	if !HasCode(err, ErrCodeCycle) {
		t.Errorf("cycle error must carry the cycle code, got %v", err)
	}
}

func TestBuildGraphDetectsSelfDependency(t *testing.T) {
	a := &fakeTask{id: NewIdentity("a")}
	a.deps = []Task{&fakeTask{id: NewIdentity("a")}}

	_, err := BuildGraph([]Task{a})
	if err == nil {
		t.Fatal("expected self-dependency error")
	}
	if !IsConfiguration(err) {
		t.Errorf("self-dependency must be a configuration error, got %v", err)
	}
}

func TestSkipDependentsIsTransitive(t *testing.T) {
	a := &fakeTask{id: NewIdentity("a")}
	b := &fakeTask{id: NewIdentity("b"), deps: []Task{a}}
	c := &fakeTask{id: NewIdentity("c"), deps: []Task{b}}
	other := &fakeTask{id: NewIdentity("other")}

	g, err := BuildGraph([]Task{c, other})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	failed := g.nodes["a"]
	failed.status = TaskStatusFailed
	skipped := g.skipDependents(failed, NewPermanentError("boom", nil))

	if len(skipped) != 2 {
		t.Fatalf("skipped %d nodes, want 2", len(skipped))
	}
	if g.nodes["b"].status != TaskStatusSkipped || g.nodes["c"].status != TaskStatusSkipped {
		t.Error("transitive dependents must be skipped")
	}
	if g.nodes["other"].status != TaskStatusPending {
		t.Error("unrelated task must stay pending")
	}
	if !HasCode(g.nodes["c"].err, ErrCodeDependencyFailed) {
		t.Errorf("skipped node error must carry dependency-failed code, got %v", g.nodes["c"].err)
	}
}
