package store

import "testing"

func TestLogAndGetFailures(t *testing.T) {
	s := newTestStore(t)

	entityID, err := s.AddEntity(EntityInput{Name: "parse_config", Kind: "function"})
	if err != nil {
		t.Fatalf("AddEntity failed: %v", err)
	}

	if _, err := s.LogFailure(LogFailureInput{
		EntityID:      &entityID,
		AttemptedFix:  "added a nil check before parsing",
		FailureReason: "config was non-nil but malformed",
	}); err != nil {
		t.Fatalf("LogFailure failed: %v", err)
	}

	logs, err := s.GetFailureLogs(GetFailureLogsFilter{EntityID: &entityID})
	if err != nil {
		t.Fatalf("GetFailureLogs failed: %v", err)
	}
	if len(logs) != 1 || logs[0].AttemptedFix == "" {
		t.Errorf("expected one failure log entry, got %+v", logs)
	}
}

func TestLogFailureResolvesEntityByName(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.AddEntity(EntityInput{Name: "parse_config", Kind: "function"}); err != nil {
		t.Fatalf("AddEntity failed: %v", err)
	}

	id, err := s.LogFailure(LogFailureInput{
		EntityName:   "parse_config",
		AttemptedFix: "tried a regex patch",
	})
	if err != nil {
		t.Fatalf("LogFailure failed: %v", err)
	}
	if id == 0 {
		t.Fatal("expected a non-zero failure log id")
	}

	logs, err := s.GetFailureLogs(GetFailureLogsFilter{EntityName: "parse_config"})
	if err != nil {
		t.Fatalf("GetFailureLogs failed: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(logs))
	}
	if logs[0].EntityID == nil {
		t.Error("expected resolved entity id to be recorded")
	}
}

func TestLogFailureRequiresAttemptedFix(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.LogFailure(LogFailureInput{EntityName: "whatever"}); err == nil {
		t.Error("expected error when attempted_fix is empty")
	}
}

func TestDeleteFailureLog(t *testing.T) {
	s := newTestStore(t)

	id, err := s.LogFailure(LogFailureInput{EntityName: "x", AttemptedFix: "tried something"})
	if err != nil {
		t.Fatalf("LogFailure failed: %v", err)
	}

	deleted, err := s.DeleteFailureLog(id)
	if err != nil {
		t.Fatalf("DeleteFailureLog failed: %v", err)
	}
	if !deleted {
		t.Error("expected DeleteFailureLog to report a deletion")
	}

	logs, err := s.GetFailureLogs(GetFailureLogsFilter{})
	if err != nil {
		t.Fatalf("GetFailureLogs failed: %v", err)
	}
	if len(logs) != 0 {
		t.Errorf("expected no remaining logs, got %d", len(logs))
	}
}
