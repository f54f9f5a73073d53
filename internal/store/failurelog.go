package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// FailureLogEntry records one attempted-and-failed fix against an entity,
// so future attempts don't blindly repeat it.
type FailureLogEntry struct {
	ID            int64
	Timestamp     string
	EntityID      *int64
	EntityName    string
	FilePath      string
	Context       string
	AttemptedFix  string
	FailureReason string
	RelatedError  string
	Tags          []string
}

// LogFailureInput is the payload for LogFailure.
type LogFailureInput struct {
	AttemptedFix  string
	Context       string
	EntityName    string
	EntityID      *int64
	FilePath      string
	FailureReason string
	RelatedError  string
	Tags          []string
}

// LogFailure records a failed fix attempt. If EntityID is nil but
// EntityName is set, it resolves the name to an id via
// resolveEntityIDByName, preferring an exact name match.
func (s *Store) LogFailure(in LogFailureInput) (int64, error) {
	if in.AttemptedFix == "" {
		return 0, fmt.Errorf("%w: attempted_fix is required", ErrInvalidArgument)
	}

	entityID := in.EntityID
	if entityID == nil && in.EntityName != "" {
		resolved, err := s.resolveEntityIDByName(in.EntityName)
		if err != nil {
			return 0, err
		}
		entityID = resolved
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`INSERT INTO failure_logs (timestamp, entity_id, entity_name, file_path, context, attempted_fix, failure_reason, related_error, tags)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano), entityIDArg(entityID), nullIfEmpty(in.EntityName),
		nullIfEmpty(in.FilePath), nullIfEmpty(in.Context), in.AttemptedFix,
		nullIfEmpty(in.FailureReason), nullIfEmpty(in.RelatedError), nullIfEmpty(strings.Join(in.Tags, ",")),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return res.LastInsertId()
}

// GetFailureLogsFilter narrows GetFailureLogs. EntityID, when set, takes
// precedence over EntityName.
type GetFailureLogsFilter struct {
	EntityID      *int64
	EntityName    string
	FilePath      string
	Tags          []string
	ContextSearch string
	Limit         int
}

// GetFailureLogs returns failure log entries matching the filter, newest first.
func (s *Store) GetFailureLogs(f GetFailureLogsFilter) ([]FailureLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT id, timestamp, entity_id, entity_name, file_path, context, attempted_fix, failure_reason, related_error, tags FROM failure_logs WHERE 1=1"
	var args []any

	if f.EntityID != nil {
		query += " AND entity_id = ?"
		args = append(args, *f.EntityID)
	} else if f.EntityName != "" {
		query += " AND (entity_name = ? OR entity_name LIKE ?)"
		args = append(args, f.EntityName, "%"+f.EntityName+"%")
	}
	if f.FilePath != "" {
		query += " AND file_path = ?"
		args = append(args, f.FilePath)
	}
	if len(f.Tags) > 0 {
		clauses := make([]string, 0, len(f.Tags))
		for _, tag := range f.Tags {
			clauses = append(clauses, "tags LIKE ?")
			args = append(args, "%"+tag+"%")
		}
		query += " AND (" + strings.Join(clauses, " OR ") + ")"
	}
	if f.ContextSearch != "" {
		query += " AND (context LIKE ? OR attempted_fix LIKE ?)"
		args = append(args, "%"+f.ContextSearch+"%", "%"+f.ContextSearch+"%")
	}
	query += " ORDER BY timestamp DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	defer rows.Close()
	return collectFailureLogs(rows)
}

// GetRecentFailures returns failures logged within the last `days` days.
func (s *Store) GetRecentFailures(days, limit int) ([]FailureLogEntry, error) {
	if days <= 0 {
		days = 7
	}
	if limit <= 0 {
		limit = 20
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339Nano)

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, timestamp, entity_id, entity_name, file_path, context, attempted_fix, failure_reason, related_error, tags
		 FROM failure_logs WHERE timestamp >= ? ORDER BY timestamp DESC LIMIT ?`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	defer rows.Close()
	return collectFailureLogs(rows)
}

// DeleteFailureLog removes a failure log entry.
func (s *Store) DeleteFailureLog(id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM failure_logs WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ClearOldFailures deletes failure logs older than `days` days and
// returns how many were removed.
func (s *Store) ClearOldFailures(days int) (int64, error) {
	if days <= 0 {
		days = 30
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339Nano)

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM failure_logs WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return res.RowsAffected()
}

func collectFailureLogs(rows *sql.Rows) ([]FailureLogEntry, error) {
	logs := []FailureLogEntry{}
	for rows.Next() {
		var e FailureLogEntry
		var entityID sql.NullInt64
		var entityName, filePath, context, failureReason, relatedError, tags sql.NullString
		if err := rows.Scan(&e.ID, &e.Timestamp, &entityID, &entityName, &filePath, &context, &e.AttemptedFix, &failureReason, &relatedError, &tags); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}
		if entityID.Valid {
			v := entityID.Int64
			e.EntityID = &v
		}
		e.EntityName = entityName.String
		e.FilePath = filePath.String
		e.Context = context.String
		e.FailureReason = failureReason.String
		e.RelatedError = relatedError.String
		if tags.Valid && tags.String != "" {
			e.Tags = strings.Split(tags.String, ",")
		}
		logs = append(logs, e)
	}
	return logs, rows.Err()
}

func entityIDArg(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

// resolveEntityIDByName looks up an entity id by name, preferring an
// exact match over the first substring match, matching the original's
// "exact match preferred, else first result" convention used across
// failure-log, note, and todo resolution.
func (s *Store) resolveEntityIDByName(name string) (*int64, error) {
	entities, err := s.FindEntities(name, "")
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, nil
	}
	for _, e := range entities {
		if e.Name == name {
			id := e.ID
			return &id, nil
		}
	}
	id := entities[0].ID
	return &id, nil
}
