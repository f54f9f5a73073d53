package store

import "testing"

func TestAnalyzeImportsResolvesAbsoluteModule(t *testing.T) {
	s := newTestStore(t)

	callerID, err := s.AddEntity(EntityInput{Name: "main", Kind: "module"})
	if err != nil {
		t.Fatalf("AddEntity failed: %v", err)
	}
	targetID, err := s.AddEntity(EntityInput{Name: "os", Kind: "module"})
	if err != nil {
		t.Fatalf("AddEntity failed: %v", err)
	}
	nameToID := map[string]int64{"main": callerID, "os": targetID}

	stats, err := s.AnalyzeImports([]ImportEdge{
		{SourceEntityID: callerID, ModuleName: "os", FilePath: "/src/main.py"},
	}, nameToID)
	if err != nil {
		t.Fatalf("AnalyzeImports failed: %v", err)
	}
	if stats.RelationshipsAdded != 1 {
		t.Errorf("expected 1 relationship added, got %+v", stats)
	}

	rels, err := s.GetRelationships(callerID, DirectionOutgoing)
	if err != nil {
		t.Fatalf("GetRelationships failed: %v", err)
	}
	if len(rels) != 1 || rels[0].Relation != "imports" || rels[0].TargetID != targetID {
		t.Errorf("expected imports relationship to os, got %+v", rels)
	}
}

func TestAnalyzeImportsResolvesRelativeModule(t *testing.T) {
	s := newTestStore(t)

	callerID, err := s.AddEntity(EntityInput{Name: "greeter", Kind: "module"})
	if err != nil {
		t.Fatalf("AddEntity failed: %v", err)
	}
	targetID, err := s.AddEntity(EntityInput{Name: "src/helper", Kind: "module"})
	if err != nil {
		t.Fatalf("AddEntity failed: %v", err)
	}
	nameToID := map[string]int64{"greeter": callerID, "src/helper": targetID}

	stats, err := s.AnalyzeImports([]ImportEdge{
		{SourceEntityID: callerID, ModuleName: "./helper", IsRelative: true, FilePath: "src/greeter.py"},
	}, nameToID)
	if err != nil {
		t.Fatalf("AnalyzeImports failed: %v", err)
	}
	if stats.RelationshipsAdded != 1 {
		t.Errorf("expected relative import to resolve, got %+v", stats)
	}
}

func TestAnalyzeImportsUnresolvedCreatesCrossFileRef(t *testing.T) {
	s := newTestStore(t)

	callerID, err := s.AddEntity(EntityInput{Name: "main", Kind: "module"})
	if err != nil {
		t.Fatalf("AddEntity failed: %v", err)
	}
	nameToID := map[string]int64{"main": callerID}

	stats, err := s.AnalyzeImports([]ImportEdge{
		{SourceEntityID: callerID, ModuleName: "unknown_pkg", FilePath: "/src/main.py"},
	}, nameToID)
	if err != nil {
		t.Fatalf("AnalyzeImports failed: %v", err)
	}
	if stats.UnresolvedTargets != 1 {
		t.Errorf("expected 1 unresolved target, got %+v", stats)
	}
}

func TestAnalyzeImportsSkipsAlreadyExisting(t *testing.T) {
	s := newTestStore(t)

	callerID, err := s.AddEntity(EntityInput{Name: "main", Kind: "module"})
	if err != nil {
		t.Fatalf("AddEntity failed: %v", err)
	}
	targetID, err := s.AddEntity(EntityInput{Name: "os", Kind: "module"})
	if err != nil {
		t.Fatalf("AddEntity failed: %v", err)
	}
	nameToID := map[string]int64{"main": callerID, "os": targetID}
	edges := []ImportEdge{{SourceEntityID: callerID, ModuleName: "os", FilePath: "/src/main.py"}}

	if _, err := s.AnalyzeImports(edges, nameToID); err != nil {
		t.Fatalf("AnalyzeImports failed: %v", err)
	}
	stats, err := s.AnalyzeImports(edges, nameToID)
	if err != nil {
		t.Fatalf("AnalyzeImports (second pass) failed: %v", err)
	}
	if stats.RelationshipsSkipped != 1 || stats.RelationshipsAdded != 0 {
		t.Errorf("expected second pass to skip the existing import, got %+v", stats)
	}
}

func TestAnalyzeCallsSkipsBuiltins(t *testing.T) {
	s := newTestStore(t)

	callerID, err := s.AddEntity(EntityInput{Name: "do_work", Kind: "function"})
	if err != nil {
		t.Fatalf("AddEntity failed: %v", err)
	}
	nameToID := map[string]int64{"do_work": callerID}

	stats, err := s.AnalyzeCalls([]CallEdge{
		{SourceEntityID: callerID, CalleeName: "print"},
		{SourceEntityID: callerID, CalleeName: "len"},
	}, nameToID)
	if err != nil {
		t.Fatalf("AnalyzeCalls failed: %v", err)
	}
	if stats.RelationshipsAdded != 0 || stats.UnresolvedTargets != 0 {
		t.Errorf("expected builtins to be silently ignored, got %+v", stats)
	}
}

func TestAnalyzeCallsResolvesDirectAndQualifiedNames(t *testing.T) {
	s := newTestStore(t)

	callerID, err := s.AddEntity(EntityInput{Name: "Greeter.greet", Kind: "method"})
	if err != nil {
		t.Fatalf("AddEntity failed: %v", err)
	}
	helperID, err := s.AddEntity(EntityInput{Name: "format_message", Kind: "function"})
	if err != nil {
		t.Fatalf("AddEntity failed: %v", err)
	}
	nameToID := map[string]int64{"Greeter.greet": callerID, "format_message": helperID}

	stats, err := s.AnalyzeCalls([]CallEdge{
		{SourceEntityID: callerID, CalleeName: "format_message"},
		{SourceEntityID: callerID, CalleeName: "self.format_message"},
	}, nameToID)
	if err != nil {
		t.Fatalf("AnalyzeCalls failed: %v", err)
	}
	if stats.RelationshipsAdded != 1 {
		t.Errorf("expected the qualified call to dedupe against the direct one, got %+v", stats)
	}

	rels, err := s.GetRelationships(callerID, DirectionOutgoing)
	if err != nil {
		t.Fatalf("GetRelationships failed: %v", err)
	}
	if len(rels) != 1 || rels[0].TargetID != helperID {
		t.Errorf("expected one calls relationship to format_message, got %+v", rels)
	}
}

func TestAnalyzeCallsSkipsSelfReference(t *testing.T) {
	s := newTestStore(t)

	recursiveID, err := s.AddEntity(EntityInput{Name: "recurse", Kind: "function"})
	if err != nil {
		t.Fatalf("AddEntity failed: %v", err)
	}
	nameToID := map[string]int64{"recurse": recursiveID}

	stats, err := s.AnalyzeCalls([]CallEdge{
		{SourceEntityID: recursiveID, CalleeName: "recurse"},
	}, nameToID)
	if err != nil {
		t.Fatalf("AnalyzeCalls failed: %v", err)
	}
	if stats.RelationshipsAdded != 0 {
		t.Errorf("expected self-recursive call to be skipped, got %+v", stats)
	}
}

func TestAnalyzeCallsUnresolvedTarget(t *testing.T) {
	s := newTestStore(t)

	callerID, err := s.AddEntity(EntityInput{Name: "do_work", Kind: "function"})
	if err != nil {
		t.Fatalf("AddEntity failed: %v", err)
	}
	nameToID := map[string]int64{"do_work": callerID}

	stats, err := s.AnalyzeCalls([]CallEdge{
		{SourceEntityID: callerID, CalleeName: "totally_unknown_fn"},
	}, nameToID)
	if err != nil {
		t.Fatalf("AnalyzeCalls failed: %v", err)
	}
	if stats.UnresolvedTargets != 1 {
		t.Errorf("expected 1 unresolved target, got %+v", stats)
	}
}
