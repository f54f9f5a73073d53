package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// CrossFileRef is a reference from an entity to a name that may not exist
// as an entity at all - e.g. a JS handler referencing an HTML element id.
// Import analysis falls back to this table when an import's target module
// can't be resolved to an entity; unresolved call targets are only counted.
type CrossFileRef struct {
	ID                 int64
	SourceEntityID     int64
	TargetName         string
	RefType            string
	SourceFile         string
	LineNumber         int
	Verifiable         bool
	VerificationReason string
	Metadata           map[string]any
}

// AddCrossFileRef records a reference whose target couldn't be resolved
// to an existing entity at ingestion time.
func (s *Store) AddCrossFileRef(ref CrossFileRef) (int64, error) {
	if ref.TargetName == "" || ref.RefType == "" {
		return 0, fmt.Errorf("%w: target_name and ref_type are required", ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := marshalMetadata(ref.Metadata)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	res, err := s.db.Exec(
		`INSERT INTO cross_file_refs
		 (source_entity_id, target_name, ref_type, source_file, line_number, verifiable, verification_reason, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ref.SourceEntityID, ref.TargetName, ref.RefType, nullIfEmpty(ref.SourceFile),
		nullIfZero(ref.LineNumber), ref.Verifiable, nullIfEmpty(ref.VerificationReason), meta,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return res.LastInsertId()
}

// GetCrossFileRefs returns the unresolved references recorded for a
// target name, optionally filtered by ref type.
func (s *Store) GetCrossFileRefs(targetName, refType string) ([]CrossFileRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, source_entity_id, target_name, ref_type, source_file, line_number, verifiable, verification_reason, metadata
	          FROM cross_file_refs WHERE target_name = ?`
	args := []any{targetName}
	if refType != "" {
		query += " AND ref_type = ?"
		args = append(args, refType)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	defer rows.Close()

	refs := []CrossFileRef{}
	for rows.Next() {
		var r CrossFileRef
		var sourceFile, verificationReason, meta sql.NullString
		var lineNumber sql.NullInt64
		if err := rows.Scan(&r.ID, &r.SourceEntityID, &r.TargetName, &r.RefType, &sourceFile, &lineNumber, &r.Verifiable, &verificationReason, &meta); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}
		r.SourceFile = sourceFile.String
		r.LineNumber = int(lineNumber.Int64)
		r.VerificationReason = verificationReason.String
		if meta.Valid && meta.String != "" {
			json.Unmarshal([]byte(meta.String), &r.Metadata)
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

func nullIfZero(i int) any {
	if i == 0 {
		return nil
	}
	return i
}
