package store

import (
	"context"
	"testing"
)

func newTestStoreWithEmbedding(t *testing.T, engine *MockEmbeddingEngine) *Store {
	t.Helper()
	s, err := OpenStore(":memory:", Options{EmbeddingEngine: engine})
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if !s.HasVectorCapability() {
		t.Skip("sqlite-vec extension not available in this build")
	}
	return s
}

func TestGenerateEmbeddingsRequiresEngine(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GenerateEmbeddings(context.Background()); err == nil {
		t.Error("expected error with no embedding engine configured")
	}
}

func TestGenerateEmbeddingsEmbedsEntitiesAndNotes(t *testing.T) {
	engine := &MockEmbeddingEngine{
		EmbedFunc: func(ctx context.Context, text string) ([]float32, error) {
			return unitVector(0), nil
		},
	}
	s := newTestStoreWithEmbedding(t, engine)

	if _, err := s.AddEntity(EntityInput{Name: "parse_csv", Kind: "function", Intent: "parses a csv file"}); err != nil {
		t.Fatalf("AddEntity failed: %v", err)
	}
	if _, err := s.AddNote(AddNoteInput{Content: "observation about parse_csv"}); err != nil {
		t.Fatalf("AddNote failed: %v", err)
	}

	stats, err := s.GenerateEmbeddings(context.Background())
	if err != nil {
		t.Fatalf("GenerateEmbeddings failed: %v", err)
	}
	if stats.EntitiesEmbedded != 1 {
		t.Errorf("expected 1 entity embedded, got %d", stats.EntitiesEmbedded)
	}
	if stats.NotesEmbedded != 1 {
		t.Errorf("expected 1 note embedded, got %d", stats.NotesEmbedded)
	}

	// A second pass should skip everything already embedded.
	stats2, err := s.GenerateEmbeddings(context.Background())
	if err != nil {
		t.Fatalf("GenerateEmbeddings (second pass) failed: %v", err)
	}
	if stats2.EntitiesEmbedded != 0 || stats2.NotesEmbedded != 0 {
		t.Errorf("expected nothing re-embedded on second pass, got %+v", stats2)
	}
}

func TestSemanticSearchRequiresEngine(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.SemanticSearch(context.Background(), "query", 5); err == nil {
		t.Error("expected error with no embedding engine configured")
	}
}

func TestSemanticSearchRanksByVectorDistance(t *testing.T) {
	vectors := map[string][]float32{
		"cat food dispenser: feeds a cat":   unitVector(0),
		"car engine tuner: tunes an engine": unitVector(1),
	}
	engine := &MockEmbeddingEngine{
		EmbedFunc: func(ctx context.Context, text string) ([]float32, error) {
			if v, ok := vectors[text]; ok {
				return v, nil
			}
			return unitVector(0), nil
		},
	}
	s := newTestStoreWithEmbedding(t, engine)

	if _, err := s.AddEntity(EntityInput{Name: "cat food dispenser", Kind: "class", Intent: "feeds a cat"}); err != nil {
		t.Fatalf("AddEntity failed: %v", err)
	}
	if _, err := s.AddEntity(EntityInput{Name: "car engine tuner", Kind: "class", Intent: "tunes an engine"}); err != nil {
		t.Fatalf("AddEntity failed: %v", err)
	}

	if _, err := s.GenerateEmbeddings(context.Background()); err != nil {
		t.Fatalf("GenerateEmbeddings failed: %v", err)
	}

	matches, err := s.SemanticSearch(context.Background(), "cat food dispenser: feeds a cat", 5)
	if err != nil {
		t.Fatalf("SemanticSearch failed: %v", err)
	}
	if len(matches) == 0 || matches[0].Entity.Name != "cat food dispenser" {
		t.Errorf("expected cat food dispenser to rank first, got %+v", matches)
	}
}

func TestSemanticSearchDedupesByNameKeepingHighestScore(t *testing.T) {
	engine := &MockEmbeddingEngine{
		EmbedFunc: func(ctx context.Context, text string) ([]float32, error) {
			return unitVector(0), nil
		},
	}
	s := newTestStoreWithEmbedding(t, engine)

	if _, err := s.AddEntity(EntityInput{Name: "Widget.render", Kind: "method"}); err != nil {
		t.Fatalf("AddEntity failed: %v", err)
	}
	if _, err := s.AddEntity(EntityInput{Name: "Widget.render", Kind: "method"}); err != nil {
		t.Fatalf("AddEntity failed: %v", err)
	}

	if _, err := s.GenerateEmbeddings(context.Background()); err != nil {
		t.Fatalf("GenerateEmbeddings failed: %v", err)
	}

	matches, err := s.SemanticSearch(context.Background(), "anything", 10)
	if err != nil {
		t.Fatalf("SemanticSearch failed: %v", err)
	}
	count := 0
	for _, m := range matches {
		if m.Entity.Name == "Widget.render" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected Widget.render to appear exactly once after dedup, got %d", count)
	}
}
