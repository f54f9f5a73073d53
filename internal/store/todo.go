package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Todo is a unit of work tracked against the code graph, optionally
// linked to an entity or file so its context survives across sessions.
type Todo struct {
	ID               int64
	Title            string
	Prompt           string
	Context          string
	Status           string
	Priority         int
	Position         int
	CreatedAt        string
	UpdatedAt        string
	StartedAt        string
	CompletedAt      string
	EstimatedMinutes int
	Critical         bool
	Tags             []string
	CombinedInto     *int64
	CompletionNotes  string
	EntityName       string
	FilePath         string
	Metadata         map[string]any
}

// AddTodoInput is the payload for AddTodo.
type AddTodoInput struct {
	Prompt           string
	Title            string
	Context          string
	Priority         int
	EstimatedMinutes int
	Critical         bool
	Tags             []string
	EntityName       string
	FilePath          string
	Metadata         map[string]any
}

// AddTodo creates a pending todo at the tail of the position order.
func (s *Store) AddTodo(in AddTodoInput) (int64, error) {
	if in.Prompt == "" {
		return 0, fmt.Errorf("%w: prompt is required", ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := marshalMetadata(in.Metadata)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	var nextPos sql.NullInt64
	if err := s.db.QueryRow("SELECT MAX(position) FROM todos").Scan(&nextPos); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	position := int64(1)
	if nextPos.Valid {
		position = nextPos.Int64 + 1
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.Exec(
		`INSERT INTO todos (title, prompt, context, status, priority, position, created_at, estimated_minutes, critical, tags, entity_name, file_path, metadata)
		 VALUES (?, ?, ?, 'pending', ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullIfEmpty(in.Title), in.Prompt, nullIfEmpty(in.Context), in.Priority, position, now,
		nullIfZero(in.EstimatedMinutes), in.Critical, nullIfEmpty(strings.Join(in.Tags, ",")),
		nullIfEmpty(in.EntityName), nullIfEmpty(in.FilePath), meta,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return res.LastInsertId()
}

// GetTodo retrieves a single todo by id.
func (s *Store) GetTodo(id int64) (*Todo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(todoSelectColumns+" FROM todos WHERE id = ?", id)
	todo, err := scanTodo(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: todo %d", ErrNotFound, id)
	}
	return todo, err
}

// ListTodosFilter narrows ListTodos.
type ListTodosFilter struct {
	Status     string
	EntityName string
	Critical   *bool
	Limit      int
}

// ListTodos returns todos matching the filter in position order.
func (s *Store) ListTodos(f ListTodosFilter) ([]Todo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := todoSelectColumns + " FROM todos WHERE 1=1"
	var args []any
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, f.Status)
	}
	if f.EntityName != "" {
		query += " AND entity_name = ?"
		args = append(args, f.EntityName)
	}
	if f.Critical != nil {
		query += " AND critical = ?"
		args = append(args, *f.Critical)
	}
	query += " ORDER BY position ASC, priority DESC, created_at ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	defer rows.Close()
	return collectTodos(rows)
}

// GetNextTodo returns the highest-priority pending todo. When
// criticalFirst is true, critical items are ordered ahead of priority;
// either way ties break on priority descending, then position.
func (s *Store) GetNextTodo(criticalFirst bool) (*Todo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orderBy := "priority DESC, position ASC"
	if criticalFirst {
		orderBy = "critical DESC, priority DESC, position ASC"
	}
	row := s.db.QueryRow(
		todoSelectColumns + ` FROM todos WHERE status = 'pending' ORDER BY ` + orderBy + ` LIMIT 1`)
	todo, err := scanTodo(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return todo, err
}

// StartTodo transitions a pending todo to in_progress.
func (s *Store) StartTodo(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		"UPDATE todos SET status = 'in_progress', started_at = ?, updated_at = ? WHERE id = ? AND status = 'pending'",
		time.Now().UTC().Format(time.RFC3339Nano), time.Now().UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: todo %d not pending", ErrInvalidArgument, id)
	}
	return nil
}

// CompleteTodo marks a todo completed with optional completion notes.
func (s *Store) CompleteTodo(id int64, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.Exec(
		"UPDATE todos SET status = 'completed', completed_at = ?, updated_at = ?, completion_notes = ? WHERE id = ?",
		now, now, nullIfEmpty(notes), id,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: todo %d", ErrNotFound, id)
	}
	return nil
}

// UpdateTodoInput carries the mutable fields of UpdateTodo; nil fields
// are left unchanged.
type UpdateTodoInput struct {
	Title            *string
	Prompt           *string
	Context          *string
	Priority         *int
	EstimatedMinutes *int
	Critical         *bool
	Tags             *[]string
	Status           *string
}

// UpdateTodo applies a partial update to an existing todo.
func (s *Store) UpdateTodo(id int64, in UpdateTodoInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC().Format(time.RFC3339Nano)}

	if in.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *in.Title)
	}
	if in.Prompt != nil {
		sets = append(sets, "prompt = ?")
		args = append(args, *in.Prompt)
	}
	if in.Context != nil {
		sets = append(sets, "context = ?")
		args = append(args, *in.Context)
	}
	if in.Priority != nil {
		sets = append(sets, "priority = ?")
		args = append(args, *in.Priority)
	}
	if in.EstimatedMinutes != nil {
		sets = append(sets, "estimated_minutes = ?")
		args = append(args, *in.EstimatedMinutes)
	}
	if in.Critical != nil {
		sets = append(sets, "critical = ?")
		args = append(args, *in.Critical)
	}
	if in.Tags != nil {
		sets = append(sets, "tags = ?")
		args = append(args, strings.Join(*in.Tags, ","))
	}
	if in.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *in.Status)
	}

	args = append(args, id)
	res, err := s.db.Exec(fmt.Sprintf("UPDATE todos SET %s WHERE id = ?", strings.Join(sets, ", ")), args...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: todo %d", ErrNotFound, id)
	}
	return nil
}

// CombineTodos merges sourceIDs into targetID: the target absorbs their
// context as appended notes and each source is marked with the terminal
// status combined and combined_into pointing at the target, rather than
// deleted outright, so history stays intact.
func (s *Store) CombineTodos(targetID int64, sourceIDs []int64) error {
	if len(sourceIDs) == 0 {
		return fmt.Errorf("%w: combine requires at least one source todo id", ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	target, err := s.getTodoLocked(targetID)
	if err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	var extraContext []string
	for _, sid := range sourceIDs {
		if sid == targetID {
			continue
		}
		src, err := s.getTodoLocked(sid)
		if err != nil {
			return err
		}
		extraContext = append(extraContext, fmt.Sprintf("[Merged from #%d] %s", sid, src.Prompt))
		if src.Context != "" {
			extraContext = append(extraContext, src.Context)
		}
		if _, err := s.db.Exec(
			"UPDATE todos SET status = 'combined', combined_into = ?, updated_at = ? WHERE id = ?",
			targetID, now, sid,
		); err != nil {
			return fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}
	}

	if len(extraContext) > 0 {
		merged := target.Context
		if merged != "" {
			merged += "\n"
		}
		merged += strings.Join(extraContext, "\n")
		if _, err := s.db.Exec("UPDATE todos SET context = ?, updated_at = ? WHERE id = ?", merged, now, targetID); err != nil {
			return fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}
	}
	return nil
}

// SearchTodos finds todos whose prompt, title, or context contains query.
func (s *Store) SearchTodos(query string, limit int) ([]Todo, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	like := "%" + query + "%"
	rows, err := s.db.Query(
		todoSelectColumns+` FROM todos WHERE prompt LIKE ? OR title LIKE ? OR context LIKE ?
		 ORDER BY position ASC LIMIT ?`, like, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	defer rows.Close()
	return collectTodos(rows)
}

// TodoStats summarizes todo counts by status.
type TodoStats struct {
	Total       int
	Pending     int
	InProgress  int
	Completed   int
	Combined    int
	Critical    int
	AvgPriority float64
}

// GetTodoStats aggregates todo counts for a quick status dashboard.
func (s *Store) GetTodoStats() (*TodoStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &TodoStats{}
	row := s.db.QueryRow(`
		SELECT COUNT(*),
		       SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN status = 'in_progress' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN status = 'combined' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN critical THEN 1 ELSE 0 END),
		       AVG(priority)
		FROM todos`)
	var pending, inProgress, completed, combined, critical sql.NullInt64
	var avgPriority sql.NullFloat64
	if err := row.Scan(&stats.Total, &pending, &inProgress, &completed, &combined, &critical, &avgPriority); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	stats.Pending = int(pending.Int64)
	stats.InProgress = int(inProgress.Int64)
	stats.Completed = int(completed.Int64)
	stats.Combined = int(combined.Int64)
	stats.Critical = int(critical.Int64)
	stats.AvgPriority = avgPriority.Float64
	return stats, nil
}

// DeleteTodo permanently removes a todo.
func (s *Store) DeleteTodo(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM todos WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: todo %d", ErrNotFound, id)
	}
	return nil
}

// ClearCompletedTodos deletes every completed todo and returns the count removed.
func (s *Store) ClearCompletedTodos() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM todos WHERE status = 'completed'")
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return res.RowsAffected()
}

// ReorderTodo moves a todo to newPosition (1-based), shifting the todos
// between its old and new position by one slot. This mirrors the
// original reorder_todo: when moving down (to a higher position number),
// the todos after the old position up to and including the new one shift
// up by one; when moving up, the todos from the new position up to but
// excluding the old one shift down by one.
func (s *Store) ReorderTodo(id int64, newPosition int) error {
	if newPosition < 1 {
		return fmt.Errorf("%w: position must be >= 1", ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var oldPosition sql.NullInt64
	if err := s.db.QueryRow("SELECT position FROM todos WHERE id = ?", id).Scan(&oldPosition); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: todo %d", ErrNotFound, id)
		}
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	if !oldPosition.Valid {
		return fmt.Errorf("%w: todo %d has no position", ErrInvalidArgument, id)
	}
	old := int(oldPosition.Int64)
	if old == newPosition {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	defer tx.Rollback()

	if newPosition > old {
		if _, err := tx.Exec(
			"UPDATE todos SET position = position - 1 WHERE position > ? AND position <= ?", old, newPosition,
		); err != nil {
			return fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}
	} else {
		if _, err := tx.Exec(
			"UPDATE todos SET position = position + 1 WHERE position >= ? AND position < ?", newPosition, old,
		); err != nil {
			return fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}
	}
	if _, err := tx.Exec("UPDATE todos SET position = ? WHERE id = ?", newPosition, id); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return tx.Commit()
}

const todoSelectColumns = `SELECT id, title, prompt, context, status, priority, position, created_at, updated_at,
	started_at, completed_at, estimated_minutes, critical, tags, combined_into, completion_notes, entity_name, file_path, metadata`

type todoScanner interface {
	Scan(dest ...any) error
}

func scanTodo(row todoScanner) (*Todo, error) {
	var t Todo
	var title, context, updatedAt, startedAt, completedAt, tags, completionNotes, entityName, filePath, meta sql.NullString
	var estimatedMinutes sql.NullInt64
	var position sql.NullInt64
	var combinedInto sql.NullInt64
	if err := row.Scan(&t.ID, &title, &t.Prompt, &context, &t.Status, &t.Priority, &position, &t.CreatedAt, &updatedAt,
		&startedAt, &completedAt, &estimatedMinutes, &t.Critical, &tags, &combinedInto, &completionNotes,
		&entityName, &filePath, &meta); err != nil {
		return nil, err
	}
	t.Title = title.String
	t.Context = context.String
	t.Position = int(position.Int64)
	t.UpdatedAt = updatedAt.String
	t.StartedAt = startedAt.String
	t.CompletedAt = completedAt.String
	t.EstimatedMinutes = int(estimatedMinutes.Int64)
	if tags.Valid && tags.String != "" {
		t.Tags = strings.Split(tags.String, ",")
	}
	if combinedInto.Valid {
		v := combinedInto.Int64
		t.CombinedInto = &v
	}
	t.CompletionNotes = completionNotes.String
	t.EntityName = entityName.String
	t.FilePath = filePath.String
	if meta.Valid && meta.String != "" {
		json.Unmarshal([]byte(meta.String), &t.Metadata)
	}
	return &t, nil
}

func collectTodos(rows *sql.Rows) ([]Todo, error) {
	todos := []Todo{}
	for rows.Next() {
		t, err := scanTodo(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}
		todos = append(todos, *t)
	}
	return todos, rows.Err()
}

func (s *Store) getTodoLocked(id int64) (*Todo, error) {
	row := s.db.QueryRow(todoSelectColumns+" FROM todos WHERE id = ?", id)
	t, err := scanTodo(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: todo %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return t, nil
}
