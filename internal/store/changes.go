package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"loom/internal/logging"
)

// FileChange describes how a tracked file differs from what was last ingested.
type FileChange struct {
	FilePath string
	Kind     string // "added", "modified", "removed"
	Mtime    float64
	Size     int64
}

// IngestRun records the span and outcome of one ingestion pass.
type IngestRun struct {
	RunID     string
	StartedAt string
	EndedAt   string
	Paths     []string
	Stats     map[string]any
	Status    string
}

// StartIngestRun opens a new ingest_runs row and returns its id.
func (s *Store) StartIngestRun(paths []string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	runID := uuid.NewString()
	pathsJSON, _ := json.Marshal(paths)
	_, err := s.db.Exec(
		`INSERT INTO ingest_runs (run_id, started_at, paths, status) VALUES (?, ?, ?, 'running')`,
		runID, time.Now().UTC().Format(time.RFC3339Nano), string(pathsJSON),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return runID, nil
}

// EndIngestRun closes out an ingest_runs row with final stats.
func (s *Store) EndIngestRun(runID string, stats map[string]any, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	_, err = s.db.Exec(
		"UPDATE ingest_runs SET ended_at = ?, stats = ?, status = ? WHERE run_id = ?",
		time.Now().UTC().Format(time.RFC3339Nano), string(statsJSON), status, runID,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return nil
}

// TrackFile records (or updates) the mtime/size fingerprint of an
// ingested file, tying it to the ingest run that processed it.
func (s *Store) TrackFile(path string, mtime float64, size int64, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO file_tracking (file_path, mtime, size, last_ingest_run, ingested_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(file_path) DO UPDATE SET mtime = excluded.mtime, size = excluded.size,
			last_ingest_run = excluded.last_ingest_run, ingested_at = excluded.ingested_at`,
		path, mtime, size, runID, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return nil
}

// TrackEntityFile links an entity to the file it was extracted from.
func (s *Store) TrackEntityFile(entityID int64, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO entity_files (entity_id, file_path) VALUES (?, ?)", entityID, path,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return nil
}

// GetChangedFiles walks roots and compares each file's current mtime/size
// against what was last recorded: untracked files are "added", files whose
// mtime or size differ are "modified". A tracked file the walk did not
// reach is only checked for existence and reported "removed" when gone.
// It never removes stale tracking rows itself - that's the caller's job
// once it re-ingests.
func (s *Store) GetChangedFiles(roots []string) ([]FileChange, error) {
	s.mu.RLock()
	tracked := map[string][2]float64{}
	rows, err := s.db.Query("SELECT file_path, mtime, size FROM file_tracking")
	if err != nil {
		s.mu.RUnlock()
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	for rows.Next() {
		var path string
		var mtime float64
		var size sql.NullInt64
		if err := rows.Scan(&path, &mtime, &size); err != nil {
			rows.Close()
			s.mu.RUnlock()
			return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}
		tracked[path] = [2]float64{mtime, float64(size.Int64)}
	}
	rows.Close()
	s.mu.RUnlock()

	seen := map[string]bool{}
	var changes []FileChange

	for _, root := range roots {
		_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil || info == nil || info.IsDir() {
				return nil
			}
			seen[path] = true
			mtime := float64(info.ModTime().UnixNano()) / 1e9
			size := info.Size()
			prev, ok := tracked[path]
			switch {
			case !ok:
				changes = append(changes, FileChange{FilePath: path, Kind: "added", Mtime: mtime, Size: size})
			case prev[0] != mtime || int64(prev[1]) != size:
				changes = append(changes, FileChange{FilePath: path, Kind: "modified", Mtime: mtime, Size: size})
			}
			return nil
		})
	}

	for path := range tracked {
		if !seen[path] {
			if _, err := os.Stat(path); os.IsNotExist(err) {
				changes = append(changes, FileChange{FilePath: path, Kind: "removed"})
			}
		}
	}

	return changes, nil
}

// GetChangedEntities maps a set of changed file paths to the entities
// previously extracted from them, via entity_files.
func (s *Store) GetChangedEntities(changedFiles []string) ([]Entity, error) {
	if len(changedFiles) == 0 {
		return []Entity{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders := make([]string, len(changedFiles))
	args := make([]any, len(changedFiles))
	for i, f := range changedFiles {
		placeholders[i] = "?"
		args[i] = f
	}
	query := fmt.Sprintf(`
		SELECT DISTINCT e.id, e.name, e.kind, e.code, e.intent, e.metadata, e.created_at
		FROM entities e JOIN entity_files ef ON e.id = ef.entity_id
		WHERE ef.file_path IN (%s)`, strings.Join(placeholders, ","))

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	defer rows.Close()
	return collectEntities(rows)
}

// ImpactedTest pairs a candidate test entity with how strongly the
// changed entity set implicates it.
type ImpactedTest struct {
	Entity Entity
	Score  float64
	Reason string
}

// GetImpactedTests aggregates suggested tests across every changed
// entity, combined with a pass over recent trace runs: a test command
// that previously traced through one of the changed functions bumps
// that test's score further, since it's evidence the test actually
// exercises the changed code rather than just naming it.
func (s *Store) GetImpactedTests(changedFiles []string) ([]ImpactedTest, error) {
	changedEntities, err := s.GetChangedEntities(changedFiles)
	if err != nil {
		return nil, err
	}

	scores := map[int64]*ImpactedTest{}
	for _, ce := range changedEntities {
		tests, err := s.suggestTestsForEntity(ce)
		if err != nil {
			return nil, err
		}
		for _, t := range tests {
			if existing, ok := scores[t.Entity.ID]; ok {
				existing.Score += t.Score
			} else {
				cp := t
				scores[t.Entity.ID] = &cp
			}
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ce := range changedEntities {
		rows, err := s.db.Query(`
			SELECT DISTINCT tr.command FROM trace_calls tc
			JOIN trace_runs tr ON tc.run_id = tr.run_id
			WHERE tc.function_name = ? AND tr.command IS NOT NULL`, ce.Name)
		if err != nil {
			continue
		}
		for rows.Next() {
			var command string
			if err := rows.Scan(&command); err == nil {
				for _, entry := range scores {
					if entry.Entity.Kind == "function" || entry.Entity.Kind == "method" {
						if command != "" && containsWord(command, entry.Entity.Name) {
							entry.Score += 0.5
							entry.Reason += "; traced in " + command
						}
					}
				}
			}
		}
		rows.Close()
	}

	out := make([]ImpactedTest, 0, len(scores))
	for _, v := range scores {
		out = append(out, *v)
	}
	return out, nil
}

// suggestTestsForEntity finds test-like entities referencing ce by name,
// matching the original's "find anything named test_*<entity>* or that
// calls it" heuristic used by both suggest_tests and get_impacted_tests.
func (s *Store) suggestTestsForEntity(ce Entity) ([]ImpactedTest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, name, kind, code, intent, metadata, created_at FROM entities
		WHERE (kind = 'function' OR kind = 'method')
		  AND (name LIKE 'test_%' OR name LIKE '%Test%')
		  AND (name LIKE ? OR code LIKE ?)`,
		"%"+ce.Name+"%", "%"+ce.Name+"%")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	defer rows.Close()

	entities, err := collectEntities(rows)
	if err != nil {
		return nil, err
	}
	out := make([]ImpactedTest, 0, len(entities))
	for _, e := range entities {
		out = append(out, ImpactedTest{Entity: e, Score: 1.0, Reason: "references " + ce.Name})
	}
	return out, nil
}

// WatchChanges watches roots for filesystem events and invokes onChange
// for each create/write/remove, until ctx is cancelled. It is a thin
// layer over fsnotify; callers typically debounce and re-run
// GetChangedFiles themselves in response.
func (s *Store) WatchChanges(ctx context.Context, roots []string, onChange func(FileChange)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	defer watcher.Close()

	for _, root := range roots {
		if err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return nil
			}
			if info.IsDir() {
				return watcher.Add(path)
			}
			return nil
		}); err != nil {
			logging.Store("watch setup error for %s: %v", root, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			kind := ""
			switch {
			case event.Op&fsnotify.Create != 0:
				kind = "added"
			case event.Op&fsnotify.Write != 0:
				kind = "modified"
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				kind = "removed"
			default:
				continue
			}
			onChange(FileChange{FilePath: event.Name, Kind: kind})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Store("watch error: %v", err)
		}
	}
}

func containsWord(haystack, word string) bool {
	return word != "" && strings.Contains(haystack, word)
}
