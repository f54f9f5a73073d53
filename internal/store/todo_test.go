package store

import (
	"strconv"
	"testing"
)

func TestTodoLifecycle(t *testing.T) {
	s := newTestStore(t)

	id, err := s.AddTodo(AddTodoInput{Prompt: "fix the widget renderer", Priority: 1})
	if err != nil {
		t.Fatalf("AddTodo failed: %v", err)
	}

	todo, err := s.GetTodo(id)
	if err != nil {
		t.Fatalf("GetTodo failed: %v", err)
	}
	if todo.Status != "pending" {
		t.Errorf("expected new todo to be pending, got %q", todo.Status)
	}

	if err := s.StartTodo(id); err != nil {
		t.Fatalf("StartTodo failed: %v", err)
	}
	todo, err = s.GetTodo(id)
	if err != nil {
		t.Fatalf("GetTodo failed: %v", err)
	}
	if todo.Status != "in_progress" {
		t.Errorf("expected in_progress, got %q", todo.Status)
	}

	if err := s.CompleteTodo(id, "fixed by caching the layout pass"); err != nil {
		t.Fatalf("CompleteTodo failed: %v", err)
	}
	todo, err = s.GetTodo(id)
	if err != nil {
		t.Fatalf("GetTodo failed: %v", err)
	}
	if todo.Status != "completed" || todo.CompletionNotes == "" {
		t.Errorf("expected completed todo with notes, got %+v", todo)
	}
}

func TestStartTodoRejectsNonPending(t *testing.T) {
	s := newTestStore(t)

	id, err := s.AddTodo(AddTodoInput{Prompt: "one-shot task"})
	if err != nil {
		t.Fatalf("AddTodo failed: %v", err)
	}
	if err := s.StartTodo(id); err != nil {
		t.Fatalf("StartTodo failed: %v", err)
	}
	if err := s.StartTodo(id); err == nil {
		t.Error("expected second StartTodo on already in_progress todo to fail")
	}
}

func TestGetNextTodoOrdersByCriticalThenPriority(t *testing.T) {
	s := newTestStore(t)

	low, err := s.AddTodo(AddTodoInput{Prompt: "low priority", Priority: 1})
	if err != nil {
		t.Fatalf("AddTodo failed: %v", err)
	}
	if _, err := s.AddTodo(AddTodoInput{Prompt: "medium priority", Priority: 5}); err != nil {
		t.Fatalf("AddTodo failed: %v", err)
	}
	critical, err := s.AddTodo(AddTodoInput{Prompt: "critical fix", Priority: 1, Critical: true})
	if err != nil {
		t.Fatalf("AddTodo failed: %v", err)
	}

	next, err := s.GetNextTodo(true)
	if err != nil {
		t.Fatalf("GetNextTodo failed: %v", err)
	}
	if next == nil || next.ID != critical {
		t.Errorf("expected critical todo first, got %+v", next)
	}

	if err := s.CompleteTodo(critical, ""); err != nil {
		t.Fatalf("CompleteTodo failed: %v", err)
	}
	next, err = s.GetNextTodo(true)
	if err != nil {
		t.Fatalf("GetNextTodo failed: %v", err)
	}
	if next == nil || next.Prompt != "medium priority" {
		t.Errorf("expected medium priority todo next, got %+v", next)
	}

	if low == 0 {
		t.Fatal("low priority todo id should be non-zero")
	}
}

func TestCombineTodos(t *testing.T) {
	s := newTestStore(t)

	target, err := s.AddTodo(AddTodoInput{Prompt: "investigate flaky test", Title: "flaky test"})
	if err != nil {
		t.Fatalf("AddTodo failed: %v", err)
	}
	source, err := s.AddTodo(AddTodoInput{Prompt: "test_foo sometimes fails", Title: "test_foo flake"})
	if err != nil {
		t.Fatalf("AddTodo failed: %v", err)
	}

	if err := s.CombineTodos(target, []int64{source}); err != nil {
		t.Fatalf("CombineTodos failed: %v", err)
	}

	src, err := s.GetTodo(source)
	if err != nil {
		t.Fatalf("GetTodo failed: %v", err)
	}
	if src.Status != "combined" || src.CombinedInto == nil || *src.CombinedInto != target {
		t.Errorf("expected source todo marked combined, got %+v", src)
	}
	if src.CompletedAt != "" {
		t.Errorf("expected combined todo to leave completed_at unset, got %q", src.CompletedAt)
	}

	tgt, err := s.GetTodo(target)
	if err != nil {
		t.Fatalf("GetTodo failed: %v", err)
	}
	want := "[Merged from #" + strconv.FormatInt(source, 10) + "]"
	if !containsWord(tgt.Context, want) {
		t.Errorf("expected target context to contain %q, got %q", want, tgt.Context)
	}
}

func TestCombineTodosRequiresSourceIDs(t *testing.T) {
	s := newTestStore(t)

	target, err := s.AddTodo(AddTodoInput{Prompt: "keep this"})
	if err != nil {
		t.Fatalf("AddTodo failed: %v", err)
	}
	if err := s.CombineTodos(target, nil); err == nil {
		t.Error("expected error combining with no source ids")
	}
}

func TestReorderTodoShiftsIntervening(t *testing.T) {
	s := newTestStore(t)

	var ids []int64
	for _, prompt := range []string{"first", "second", "third", "fourth"} {
		id, err := s.AddTodo(AddTodoInput{Prompt: prompt})
		if err != nil {
			t.Fatalf("AddTodo failed: %v", err)
		}
		ids = append(ids, id)
	}

	// Move "first" (position 1) to position 3: second/third shift up by one.
	if err := s.ReorderTodo(ids[0], 3); err != nil {
		t.Fatalf("ReorderTodo failed: %v", err)
	}

	ordered, err := s.ListTodos(ListTodosFilter{})
	if err != nil {
		t.Fatalf("ListTodos failed: %v", err)
	}
	if len(ordered) != 4 {
		t.Fatalf("expected 4 todos, got %d", len(ordered))
	}
	var byPrompt []string
	for _, td := range ordered {
		byPrompt = append(byPrompt, td.Prompt)
	}
	want := []string{"second", "third", "first", "fourth"}
	for i, w := range want {
		if byPrompt[i] != w {
			t.Errorf("position %d: expected %q, got %v", i+1, w, byPrompt)
			break
		}
	}
}

func TestSearchAndStatsTodos(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.AddTodo(AddTodoInput{Prompt: "refactor the widget cache", Critical: true, Priority: 3}); err != nil {
		t.Fatalf("AddTodo failed: %v", err)
	}
	if _, err := s.AddTodo(AddTodoInput{Prompt: "write more gadget tests", Priority: 1}); err != nil {
		t.Fatalf("AddTodo failed: %v", err)
	}

	found, err := s.SearchTodos("widget", 10)
	if err != nil {
		t.Fatalf("SearchTodos failed: %v", err)
	}
	if len(found) != 1 {
		t.Errorf("expected 1 search match, got %d", len(found))
	}

	stats, err := s.GetTodoStats()
	if err != nil {
		t.Fatalf("GetTodoStats failed: %v", err)
	}
	if stats.Total != 2 || stats.Pending != 2 || stats.Critical != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.AvgPriority != 2 {
		t.Errorf("expected average priority 2, got %v", stats.AvgPriority)
	}
}

func TestGetTodoStatsCountsCombined(t *testing.T) {
	s := newTestStore(t)

	target, err := s.AddTodo(AddTodoInput{Prompt: "keep this one"})
	if err != nil {
		t.Fatalf("AddTodo failed: %v", err)
	}
	source, err := s.AddTodo(AddTodoInput{Prompt: "merge this one"})
	if err != nil {
		t.Fatalf("AddTodo failed: %v", err)
	}
	if err := s.CombineTodos(target, []int64{source}); err != nil {
		t.Fatalf("CombineTodos failed: %v", err)
	}

	stats, err := s.GetTodoStats()
	if err != nil {
		t.Fatalf("GetTodoStats failed: %v", err)
	}
	if stats.Combined != 1 {
		t.Errorf("expected 1 combined todo, got %d", stats.Combined)
	}
	if stats.Completed != 0 {
		t.Errorf("expected combined todo not to count as completed, got %d", stats.Completed)
	}
}
