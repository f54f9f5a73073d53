package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Note is a free-form observation (a hypothesis, a learning, a warning)
// attached to zero or more entities.
type Note struct {
	ID        string
	Type      string
	Title     string
	Content   string
	CreatedAt string
	Source    string
	Status    string
	EntityIDs []int64
}

// AddNoteInput is the payload for AddNote.
type AddNoteInput struct {
	Type      string
	Title     string
	Content   string
	Source    string
	EntityIDs []int64
}

// AddNote records a note and links it to the given entities, if any.
func (s *Store) AddNote(in AddNoteInput) (string, error) {
	if in.Content == "" {
		return "", fmt.Errorf("%w: content is required", ErrInvalidArgument)
	}
	noteType := in.Type
	if noteType == "" {
		noteType = "observation"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO notes (id, type, title, content, created_at, source, status) VALUES (?, ?, ?, ?, ?, ?, 'active')`,
		id, noteType, nullIfEmpty(in.Title), in.Content, now, nullIfEmpty(in.Source),
	); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	for _, eid := range in.EntityIDs {
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO note_links (note_id, entity_id, link_type) VALUES (?, ?, 'related')`, id, eid,
		); err != nil {
			return "", fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return id, nil
}

// GetNotesFilter narrows GetNotes.
type GetNotesFilter struct {
	Type   string
	Status string
	Limit  int
}

// GetNotes lists notes matching the filter, most recent first.
func (s *Store) GetNotes(f GetNotesFilter) ([]Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT id, type, title, content, created_at, source, status FROM notes WHERE 1=1"
	var args []any
	if f.Type != "" {
		query += " AND type = ?"
		args = append(args, f.Type)
	}
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, f.Status)
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	defer rows.Close()

	notes, err := collectNotes(rows)
	if err != nil {
		return nil, err
	}
	for i := range notes {
		ids, err := s.entityIDsForNote(notes[i].ID)
		if err != nil {
			return nil, err
		}
		notes[i].EntityIDs = ids
	}
	return notes, nil
}

// UpdateNoteStatus changes a note's status (e.g. active -> resolved).
func (s *Store) UpdateNoteStatus(id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("UPDATE notes SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: note %s", ErrNotFound, id)
	}
	return nil
}

// GetEntityNotes returns every note linked to an entity, whatever its
// status, most recent first.
func (s *Store) GetEntityNotes(entityID int64) ([]Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT n.id, n.type, n.title, n.content, n.created_at, n.source, n.status
		FROM notes n JOIN note_links l ON n.id = l.note_id
		WHERE l.entity_id = ? ORDER BY n.created_at DESC`, entityID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	defer rows.Close()
	return collectNotes(rows)
}

// GetNote fetches a single note by id, including its linked entity ids.
func (s *Store) GetNote(id string) (*Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow("SELECT id, type, title, content, created_at, source, status FROM notes WHERE id = ?", id)
	n, err := scanNote(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: note %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	ids, err := s.entityIDsForNote(id)
	if err != nil {
		return nil, err
	}
	n.EntityIDs = ids
	return n, nil
}

// UpdateNote replaces a note's title/content in place.
func (s *Store) UpdateNote(id, title, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("UPDATE notes SET title = ?, content = ? WHERE id = ?", nullIfEmpty(title), content, id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: note %s", ErrNotFound, id)
	}
	return nil
}

// ConsolidateNotes merges sourceIDs' content into targetID as appended
// sections and marks the sources consolidated (status set to
// "consolidated" rather than deleted, preserving provenance).
func (s *Store) ConsolidateNotes(targetID string, sourceIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var target Note
	row := s.db.QueryRow("SELECT id, type, title, content, created_at, source, status FROM notes WHERE id = ?", targetID)
	tptr, err := scanNote(row)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: note %s", ErrNotFound, targetID)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	target = *tptr

	var appended []string
	for _, sid := range sourceIDs {
		if sid == targetID {
			continue
		}
		row := s.db.QueryRow("SELECT id, type, title, content, created_at, source, status FROM notes WHERE id = ?", sid)
		src, err := scanNote(row)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}
		appended = append(appended, fmt.Sprintf("[from %s] %s", sid, src.Content))
		if _, err := s.db.Exec("UPDATE notes SET status = 'consolidated' WHERE id = ?", sid); err != nil {
			return fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}
	}

	if len(appended) > 0 {
		merged := target.Content + "\n\n" + strings.Join(appended, "\n\n")
		if _, err := s.db.Exec("UPDATE notes SET content = ? WHERE id = ?", merged, targetID); err != nil {
			return fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}
	}
	return nil
}

// DeleteNote removes a note and its entity links.
func (s *Store) DeleteNote(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM note_links WHERE note_id = ?", id); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	res, err := tx.Exec("DELETE FROM notes WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: note %s", ErrNotFound, id)
	}
	return tx.Commit()
}

// NoteStats summarizes note counts by type and status.
type NoteStats struct {
	Total       int
	ByType      map[string]int
	ByStatus    map[string]int
}

// GetNoteStats aggregates note counts.
func (s *Store) GetNoteStats() (*NoteStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &NoteStats{ByType: map[string]int{}, ByStatus: map[string]int{}}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM notes").Scan(&stats.Total); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	rows, err := s.db.Query("SELECT type, COUNT(*) FROM notes GROUP BY type")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	for rows.Next() {
		var t string
		var c int
		if err := rows.Scan(&t, &c); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}
		stats.ByType[t] = c
	}
	rows.Close()

	rows, err = s.db.Query("SELECT status, COUNT(*) FROM notes GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	for rows.Next() {
		var st string
		var c int
		if err := rows.Scan(&st, &c); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}
		stats.ByStatus[st] = c
	}
	rows.Close()
	return stats, nil
}

// SearchNotes finds notes whose title or content contains query.
func (s *Store) SearchNotes(query string, limit int) ([]Note, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	like := "%" + query + "%"
	rows, err := s.db.Query(
		`SELECT id, type, title, content, created_at, source, status FROM notes
		 WHERE title LIKE ? OR content LIKE ? ORDER BY created_at DESC LIMIT ?`, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	defer rows.Close()
	return collectNotes(rows)
}

// HypothesisCheck reports whether trace evidence supports or contradicts
// a recorded hypothesis note, by looking for failed calls against the
// functions the hypothesis text mentions.
type HypothesisCheck struct {
	NoteID          string
	Supported       bool
	Contradicted    bool
	SupportingCalls int
	FailingCalls    int
	Explanation     string
}

// CheckHypothesis cross-references a hypothesis-type note's content
// against recent trace data: if the note names a function that has
// recorded failures, that's contradicting evidence; otherwise, including
// when the named functions have no recorded calls at all, the hypothesis
// is reported as supported. This has no equivalent query object in
// the original note storage - it is a deliberate enrichment that ties
// notes and traces together, since both track the same entities.
func (s *Store) CheckHypothesis(noteID string) (*HypothesisCheck, error) {
	note, err := s.GetNote(noteID)
	if err != nil {
		return nil, err
	}

	check := &HypothesisCheck{NoteID: noteID}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT function_name, exception_type FROM trace_calls
		WHERE exception_type IS NOT NULL ORDER BY called_at DESC LIMIT 500`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	defer rows.Close()

	haystack := strings.ToLower(note.Title + " " + note.Content)
	for rows.Next() {
		var fn, exc string
		if err := rows.Scan(&fn, &exc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}
		if fn != "" && strings.Contains(haystack, strings.ToLower(fn)) {
			check.FailingCalls++
		}
	}

	if check.FailingCalls > 0 {
		check.Contradicted = true
		check.Explanation = fmt.Sprintf("found %d failing trace call(s) against functions named in this note", check.FailingCalls)
	} else {
		check.Supported = true
		check.Explanation = "no failing trace calls found against functions named in this note"
	}
	return check, nil
}

func scanNote(row *sql.Row) (*Note, error) {
	var n Note
	var title, source sql.NullString
	if err := row.Scan(&n.ID, &n.Type, &title, &n.Content, &n.CreatedAt, &source, &n.Status); err != nil {
		return nil, err
	}
	n.Title = title.String
	n.Source = source.String
	return &n, nil
}

func collectNotes(rows *sql.Rows) ([]Note, error) {
	notes := []Note{}
	for rows.Next() {
		var n Note
		var title, source sql.NullString
		if err := rows.Scan(&n.ID, &n.Type, &title, &n.Content, &n.CreatedAt, &source, &n.Status); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}
		n.Title = title.String
		n.Source = source.String
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func (s *Store) entityIDsForNote(noteID string) ([]int64, error) {
	rows, err := s.db.Query("SELECT entity_id FROM note_links WHERE note_id = ?", noteID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
