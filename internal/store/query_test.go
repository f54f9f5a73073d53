package store

import "testing"

func TestQuerySubstringSearch(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.AddEntity(EntityInput{Name: "WidgetFactory", Kind: "class", Intent: "builds widgets"}); err != nil {
		t.Fatalf("AddEntity failed: %v", err)
	}
	if _, err := s.AddEntity(EntityInput{Name: "GadgetFactory", Kind: "class"}); err != nil {
		t.Fatalf("AddEntity failed: %v", err)
	}

	results, err := s.Query("widget", 10)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 1 || results[0].Name != "WidgetFactory" {
		t.Errorf("expected WidgetFactory match, got %+v", results)
	}
}

func TestFindUsagesViaRelationshipAndCodeScan(t *testing.T) {
	s := newTestStore(t)

	target, err := s.AddEntity(EntityInput{Name: "core_helper", Kind: "function"})
	if err != nil {
		t.Fatalf("AddEntity failed: %v", err)
	}
	caller, err := s.AddEntity(EntityInput{Name: "linked_caller", Kind: "function"})
	if err != nil {
		t.Fatalf("AddEntity failed: %v", err)
	}
	if _, err := s.AddRelationship(caller, target, "calls", nil); err != nil {
		t.Fatalf("AddRelationship failed: %v", err)
	}

	if _, err := s.AddEntity(EntityInput{
		Name: "scanned_caller", Kind: "function", Code: "def scanned_caller():\n    return core_helper()\n",
	}); err != nil {
		t.Fatalf("AddEntity failed: %v", err)
	}

	usages, err := s.FindUsages("core_helper")
	if err != nil {
		t.Fatalf("FindUsages failed: %v", err)
	}

	var foundRelationship, foundScan bool
	for _, u := range usages {
		if u.Entity.Name == "linked_caller" && u.Relation == "calls" {
			foundRelationship = true
		}
		if u.Entity.Name == "scanned_caller" && u.Relation == "references (code scan)" {
			foundScan = true
		}
	}
	if !foundRelationship {
		t.Error("expected relationship-based usage from linked_caller")
	}
	if !foundScan {
		t.Error("expected code-scan usage from scanned_caller")
	}
}

func TestFindUsagesUnknownEntity(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.FindUsages("does_not_exist"); err == nil {
		t.Error("expected error for unknown entity")
	}
}

func TestGetCentralEntitiesRanksByDegree(t *testing.T) {
	s := newTestStore(t)

	hub, _ := s.AddEntity(EntityInput{Name: "hub", Kind: "function"})
	a, _ := s.AddEntity(EntityInput{Name: "a", Kind: "function"})
	b, _ := s.AddEntity(EntityInput{Name: "b", Kind: "function"})
	if _, err := s.AddRelationship(a, hub, "calls", nil); err != nil {
		t.Fatalf("AddRelationship failed: %v", err)
	}
	if _, err := s.AddRelationship(b, hub, "calls", nil); err != nil {
		t.Fatalf("AddRelationship failed: %v", err)
	}

	central, err := s.GetCentralEntities(5)
	if err != nil {
		t.Fatalf("GetCentralEntities failed: %v", err)
	}
	if len(central) == 0 || central[0].Entity.Name != "hub" {
		t.Errorf("expected hub to rank first, got %+v", central)
	}
	if central[0].Degree != 2 {
		t.Errorf("expected hub degree 2, got %d", central[0].Degree)
	}
}

func TestGetOrphansAndUncalledMethods(t *testing.T) {
	s := newTestStore(t)

	lonely, err := s.AddEntity(EntityInput{Name: "lonely_func", Kind: "function"})
	if err != nil {
		t.Fatalf("AddEntity failed: %v", err)
	}
	connectedA, _ := s.AddEntity(EntityInput{Name: "connected_a", Kind: "function"})
	connectedB, _ := s.AddEntity(EntityInput{Name: "connected_b", Kind: "function"})
	if _, err := s.AddRelationship(connectedA, connectedB, "calls", nil); err != nil {
		t.Fatalf("AddRelationship failed: %v", err)
	}

	orphans, err := s.GetOrphans()
	if err != nil {
		t.Fatalf("GetOrphans failed: %v", err)
	}
	if len(orphans) != 1 || orphans[0].ID != lonely {
		t.Errorf("expected lonely_func as the only orphan, got %+v", orphans)
	}

	uncalledMethod, err := s.AddEntity(EntityInput{Name: "Widget.unused", Kind: "method"})
	if err != nil {
		t.Fatalf("AddEntity failed: %v", err)
	}
	calledMethod, err := s.AddEntity(EntityInput{Name: "Widget.used", Kind: "method"})
	if err != nil {
		t.Fatalf("AddEntity failed: %v", err)
	}
	if _, err := s.AddRelationship(connectedA, calledMethod, "calls", nil); err != nil {
		t.Fatalf("AddRelationship failed: %v", err)
	}

	uncalled, err := s.GetUncalledMethods()
	if err != nil {
		t.Fatalf("GetUncalledMethods failed: %v", err)
	}
	var found bool
	for _, e := range uncalled {
		if e.ID == uncalledMethod {
			found = true
		}
		if e.ID == calledMethod {
			t.Error("expected called method to be excluded from uncalled list")
		}
	}
	if !found {
		t.Error("expected Widget.unused in uncalled methods")
	}
}

func TestGetPathFindsShortestRoute(t *testing.T) {
	s := newTestStore(t)

	a, _ := s.AddEntity(EntityInput{Name: "a", Kind: "function"})
	b, _ := s.AddEntity(EntityInput{Name: "b", Kind: "function"})
	c, _ := s.AddEntity(EntityInput{Name: "c", Kind: "function"})
	if _, err := s.AddRelationship(a, b, "calls", nil); err != nil {
		t.Fatalf("AddRelationship failed: %v", err)
	}
	if _, err := s.AddRelationship(b, c, "calls", nil); err != nil {
		t.Fatalf("AddRelationship failed: %v", err)
	}

	path, err := s.GetPath(a, c)
	if err != nil {
		t.Fatalf("GetPath failed: %v", err)
	}
	if len(path) != 3 || path[0].ID != a || path[1].ID != b || path[2].ID != c {
		t.Errorf("expected path a->b->c, got %+v", path)
	}
}

func TestGetPathNoRoute(t *testing.T) {
	s := newTestStore(t)

	a, _ := s.AddEntity(EntityInput{Name: "a", Kind: "function"})
	b, _ := s.AddEntity(EntityInput{Name: "b", Kind: "function"})

	if _, err := s.GetPath(a, b); err == nil {
		t.Error("expected no-path error for disconnected entities")
	}
}

func TestGetArchitectureSummary(t *testing.T) {
	s := newTestStore(t)

	a, _ := s.AddEntity(EntityInput{Name: "a", Kind: "function", Code: "def a(): pass"})
	b, _ := s.AddEntity(EntityInput{Name: "b", Kind: "class", Code: "class b: pass"})
	if _, err := s.AddRelationship(a, b, "calls", nil); err != nil {
		t.Fatalf("AddRelationship failed: %v", err)
	}

	summary, err := s.GetArchitectureSummary()
	if err != nil {
		t.Fatalf("GetArchitectureSummary failed: %v", err)
	}
	if summary.TotalEntities != 2 {
		t.Errorf("expected 2 entities, got %d", summary.TotalEntities)
	}
	if summary.TotalRelationships != 1 {
		t.Errorf("expected 1 relationship, got %d", summary.TotalRelationships)
	}
	if summary.EntitiesByKind["function"] != 1 || summary.EntitiesByKind["class"] != 1 {
		t.Errorf("unexpected kind breakdown: %+v", summary.EntitiesByKind)
	}
	if summary.ApproxCodeSize == "" {
		t.Error("expected a human-readable code size")
	}
}
