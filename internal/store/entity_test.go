package store

import "testing"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(":memory:", Options{})
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddAndGetEntity(t *testing.T) {
	s := newTestStore(t)

	id, err := s.AddEntity(EntityInput{Name: "Widget", Kind: "class", Code: "class Widget: pass"})
	if err != nil {
		t.Fatalf("AddEntity failed: %v", err)
	}

	e, err := s.GetEntity(id)
	if err != nil {
		t.Fatalf("GetEntity failed: %v", err)
	}
	if e.Name != "Widget" || e.Kind != "class" {
		t.Errorf("unexpected entity: %+v", e)
	}
}

func TestGetEntityNotFound(t *testing.T) {
	s := newTestStore(t)

	e, err := s.GetEntity(999)
	if err != nil {
		t.Fatalf("GetEntity failed: %v", err)
	}
	if e != nil {
		t.Errorf("expected nil entity for missing id, got %+v", e)
	}
}

func TestFindEntities(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.AddEntity(EntityInput{Name: "make_widget", Kind: "function"}); err != nil {
		t.Fatalf("AddEntity failed: %v", err)
	}
	if _, err := s.AddEntity(EntityInput{Name: "make_gadget", Kind: "function"}); err != nil {
		t.Fatalf("AddEntity failed: %v", err)
	}
	if _, err := s.AddEntity(EntityInput{Name: "Widget", Kind: "class"}); err != nil {
		t.Fatalf("AddEntity failed: %v", err)
	}

	found, err := s.FindEntities("widget", "")
	if err != nil {
		t.Fatalf("FindEntities failed: %v", err)
	}
	if len(found) != 2 {
		t.Errorf("expected 2 matches for 'widget', got %d", len(found))
	}

	byKind, err := s.FindEntities("", "class")
	if err != nil {
		t.Fatalf("FindEntities failed: %v", err)
	}
	if len(byKind) != 1 || byKind[0].Name != "Widget" {
		t.Errorf("expected 1 class match, got %+v", byKind)
	}
}

func TestUpdateAndDeleteEntity(t *testing.T) {
	s := newTestStore(t)

	id, err := s.AddEntity(EntityInput{Name: "Widget", Kind: "class"})
	if err != nil {
		t.Fatalf("AddEntity failed: %v", err)
	}

	ok, err := s.UpdateEntity(id, map[string]any{"intent": "a reusable widget"})
	if err != nil {
		t.Fatalf("UpdateEntity failed: %v", err)
	}
	if !ok {
		t.Error("expected UpdateEntity to report a change")
	}
	e, err := s.GetEntity(id)
	if err != nil {
		t.Fatalf("GetEntity failed: %v", err)
	}
	if e.Intent != "a reusable widget" {
		t.Errorf("expected updated intent, got %q", e.Intent)
	}

	if err := s.DeleteEntity(id); err != nil {
		t.Fatalf("DeleteEntity failed: %v", err)
	}
	gone, err := s.GetEntity(id)
	if err != nil {
		t.Fatalf("GetEntity failed: %v", err)
	}
	if gone != nil {
		t.Error("expected entity to be gone after delete")
	}
}

func TestAddRelationshipAndTraversal(t *testing.T) {
	s := newTestStore(t)

	caller, err := s.AddEntity(EntityInput{Name: "run", Kind: "function"})
	if err != nil {
		t.Fatalf("AddEntity failed: %v", err)
	}
	callee, err := s.AddEntity(EntityInput{Name: "helper", Kind: "function"})
	if err != nil {
		t.Fatalf("AddEntity failed: %v", err)
	}

	if _, err := s.AddRelationship(caller, callee, "calls", nil); err != nil {
		t.Fatalf("AddRelationship failed: %v", err)
	}

	outgoing, err := s.GetRelationships(caller, DirectionOutgoing)
	if err != nil {
		t.Fatalf("GetRelationships failed: %v", err)
	}
	if len(outgoing) != 1 || outgoing[0].OtherName != "helper" {
		t.Errorf("expected one outgoing 'calls' edge to helper, got %+v", outgoing)
	}

	incoming, err := s.GetRelationships(callee, DirectionIncoming)
	if err != nil {
		t.Fatalf("GetRelationships failed: %v", err)
	}
	if len(incoming) != 1 || incoming[0].OtherName != "run" {
		t.Errorf("expected one incoming 'calls' edge from run, got %+v", incoming)
	}

	callers, err := s.GetCallers(callee)
	if err != nil {
		t.Fatalf("GetCallers failed: %v", err)
	}
	if len(callers) != 1 || callers[0].Name != "run" {
		t.Errorf("expected GetCallers(helper) == [run], got %+v", callers)
	}
}

func TestRelationshipExistsDoesNotDedupeAddRelationship(t *testing.T) {
	s := newTestStore(t)

	a, _ := s.AddEntity(EntityInput{Name: "a", Kind: "function"})
	b, _ := s.AddEntity(EntityInput{Name: "b", Kind: "function"})

	exists, err := s.RelationshipExists(a, b, "calls")
	if err != nil {
		t.Fatalf("RelationshipExists failed: %v", err)
	}
	if exists {
		t.Error("expected no relationship yet")
	}

	if _, err := s.AddRelationship(a, b, "calls", nil); err != nil {
		t.Fatalf("AddRelationship failed: %v", err)
	}
	exists, err = s.RelationshipExists(a, b, "calls")
	if err != nil {
		t.Fatalf("RelationshipExists failed: %v", err)
	}
	if !exists {
		t.Error("expected relationship to exist after insert")
	}

	// AddRelationship itself never dedupes - it is the caller's job
	// (AnalyzeImports/AnalyzeCalls) to check RelationshipExists first.
	if _, err := s.AddRelationship(a, b, "calls", nil); err != nil {
		t.Fatalf("second AddRelationship failed: %v", err)
	}
	rels, err := s.GetRelationships(a, DirectionOutgoing)
	if err != nil {
		t.Fatalf("GetRelationships failed: %v", err)
	}
	if len(rels) != 2 {
		t.Errorf("expected two identical 'calls' edges after two inserts, got %d", len(rels))
	}
}

func TestGetChildrenAndParent(t *testing.T) {
	s := newTestStore(t)

	class, _ := s.AddEntity(EntityInput{Name: "Widget", Kind: "class"})
	method, _ := s.AddEntity(EntityInput{Name: "Widget.render", Kind: "method"})
	if _, err := s.AddRelationship(class, method, "contains", nil); err != nil {
		t.Fatalf("AddRelationship failed: %v", err)
	}

	children, err := s.GetChildren(class)
	if err != nil {
		t.Fatalf("GetChildren failed: %v", err)
	}
	if len(children) != 1 || children[0].Name != "Widget.render" {
		t.Errorf("expected Widget.render as child, got %+v", children)
	}

	parent, err := s.GetParent(method)
	if err != nil {
		t.Fatalf("GetParent failed: %v", err)
	}
	if parent == nil || parent.Name != "Widget" {
		t.Errorf("expected Widget as parent, got %+v", parent)
	}
}

func TestImpactAnalysis(t *testing.T) {
	s := newTestStore(t)

	target, _ := s.AddEntity(EntityInput{Name: "core", Kind: "function"})
	direct, _ := s.AddEntity(EntityInput{Name: "direct_caller", Kind: "function"})
	indirect, _ := s.AddEntity(EntityInput{Name: "indirect_caller", Kind: "function"})

	if _, err := s.AddRelationship(direct, target, "calls", nil); err != nil {
		t.Fatalf("AddRelationship failed: %v", err)
	}
	if _, err := s.AddRelationship(indirect, direct, "calls", nil); err != nil {
		t.Fatalf("AddRelationship failed: %v", err)
	}

	impact, err := s.ImpactAnalysis(target)
	if err != nil {
		t.Fatalf("ImpactAnalysis failed: %v", err)
	}
	if len(impact.DirectCallers) != 1 || impact.DirectCallers[0].Name != "direct_caller" {
		t.Errorf("expected direct_caller as direct caller, got %+v", impact.DirectCallers)
	}
	if len(impact.IndirectCallers) != 1 || impact.IndirectCallers[0].Name != "indirect_caller" {
		t.Errorf("expected indirect_caller as indirect caller, got %+v", impact.IndirectCallers)
	}
}
