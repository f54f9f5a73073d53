package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/dustin/go-humanize"
)

// Query performs a simple substring search across entity names, code,
// and intent - the first tool reached for when nothing more specific fits.
func (s *Store) Query(text string, limit int) ([]Entity, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	like := "%" + text + "%"
	rows, err := s.db.Query(`
		SELECT id, name, kind, code, intent, metadata, created_at FROM entities
		WHERE name LIKE ? OR code LIKE ? OR intent LIKE ?
		ORDER BY CASE WHEN name LIKE ? THEN 0 ELSE 1 END, name
		LIMIT ?`, like, like, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	defer rows.Close()
	return collectEntities(rows)
}

// Usage pairs an entity with how it references the subject entity.
type Usage struct {
	Entity   Entity
	Relation string
}

// FindUsages returns every entity that references the named entity,
// first through recorded relationships (precise) and then, for entities
// with no relationship edges recorded yet, through a fallback code scan
// (best-effort, mirrors the original's willingness to grep source when
// the graph doesn't have the edge).
func (s *Store) FindUsages(name string) ([]Usage, error) {
	s.mu.RLock()
	entities, err := s.findEntitiesLocked(name, "")
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, fmt.Errorf("%w: entity %q", ErrNotFound, name)
	}
	target := entities[0]
	for _, e := range entities {
		if e.Name == name {
			target = e
			break
		}
	}

	var usages []Usage
	seen := map[int64]bool{}

	rels, err := s.GetRelationships(target.ID, DirectionIncoming)
	if err != nil {
		return nil, err
	}
	for _, r := range rels {
		if seen[r.SourceID] {
			continue
		}
		seen[r.SourceID] = true
		e, err := s.GetEntity(r.SourceID)
		if err != nil {
			continue
		}
		usages = append(usages, Usage{Entity: *e, Relation: r.Relation})
	}

	s.mu.RLock()
	rows, err := s.db.Query(
		"SELECT id, name, kind, code, intent, metadata, created_at FROM entities WHERE code LIKE ? AND id != ?",
		"%"+target.Name+"%", target.ID,
	)
	s.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	scanned, err := collectEntities(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	for _, e := range scanned {
		if !seen[e.ID] {
			seen[e.ID] = true
			usages = append(usages, Usage{Entity: e, Relation: "references (code scan)"})
		}
	}

	return usages, nil
}

// SuggestTests finds test-like entities that appear to cover the named
// entity, reusing the same heuristic GetImpactedTests applies per
// changed entity.
func (s *Store) SuggestTests(name string) ([]ImpactedTest, error) {
	s.mu.RLock()
	entities, err := s.findEntitiesLocked(name, "")
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, fmt.Errorf("%w: entity %q", ErrNotFound, name)
	}
	return s.suggestTestsForEntity(entities[0])
}

// CentralEntity pairs an entity with its in+out relationship degree.
type CentralEntity struct {
	Entity Entity
	Degree int
}

// GetCentralEntities ranks entities by total relationship degree -
// a cheap proxy for architectural importance.
func (s *Store) GetCentralEntities(limit int) ([]CentralEntity, error) {
	if limit <= 0 {
		limit = 10
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT e.id, e.name, e.kind, e.code, e.intent, e.metadata, e.created_at,
		       (SELECT COUNT(*) FROM relationships WHERE source_id = e.id OR target_id = e.id) AS degree
		FROM entities e ORDER BY degree DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	defer rows.Close()

	var out []CentralEntity
	for rows.Next() {
		e, degree, err := scanEntityWithDegree(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}
		out = append(out, CentralEntity{Entity: e, Degree: degree})
	}
	return out, rows.Err()
}

// GetOrphans returns entities with no relationships in either direction.
func (s *Store) GetOrphans() ([]Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, name, kind, code, intent, metadata, created_at FROM entities e
		WHERE NOT EXISTS (SELECT 1 FROM relationships WHERE source_id = e.id OR target_id = e.id)`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	defer rows.Close()
	return collectEntities(rows)
}

// GetUncalledMethods returns method entities with no incoming "calls" relationship.
func (s *Store) GetUncalledMethods() ([]Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, name, kind, code, intent, metadata, created_at FROM entities e
		WHERE kind = 'method'
		  AND NOT EXISTS (SELECT 1 FROM relationships WHERE target_id = e.id AND relation = 'calls')`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	defer rows.Close()
	return collectEntities(rows)
}

// GetPath finds the shortest relationship path between two entities via
// breadth-first search over the (undirected) relationship graph.
func (s *Store) GetPath(fromID, toID int64) ([]Entity, error) {
	if fromID == toID {
		e, err := s.GetEntity(fromID)
		if err != nil {
			return nil, err
		}
		return []Entity{*e}, nil
	}

	s.mu.RLock()
	adjacency := map[int64][]int64{}
	rows, err := s.db.Query("SELECT source_id, target_id FROM relationships")
	if err != nil {
		s.mu.RUnlock()
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	for rows.Next() {
		var src, tgt int64
		if err := rows.Scan(&src, &tgt); err != nil {
			rows.Close()
			s.mu.RUnlock()
			return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}
		adjacency[src] = append(adjacency[src], tgt)
		adjacency[tgt] = append(adjacency[tgt], src)
	}
	rows.Close()
	s.mu.RUnlock()

	visited := map[int64]bool{fromID: true}
	parent := map[int64]int64{}
	queue := []int64{fromID}
	found := false
	for len(queue) > 0 && !found {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adjacency[cur] {
			if visited[next] {
				continue
			}
			visited[next] = true
			parent[next] = cur
			if next == toID {
				found = true
				break
			}
			queue = append(queue, next)
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: no path from %d to %d", ErrNotFound, fromID, toID)
	}

	var idPath []int64
	for node := toID; node != fromID; node = parent[node] {
		idPath = append([]int64{node}, idPath...)
	}
	idPath = append([]int64{fromID}, idPath...)

	entities := make([]Entity, 0, len(idPath))
	for _, id := range idPath {
		e, err := s.GetEntity(id)
		if err != nil {
			return nil, err
		}
		entities = append(entities, *e)
	}
	return entities, nil
}

// ArchitectureSummary is a human-oriented snapshot of the graph's shape.
type ArchitectureSummary struct {
	TotalEntities      int
	EntitiesByKind     map[string]int
	TotalRelationships int
	RelationsByKind    map[string]int
	CentralEntities    []CentralEntity
	OrphanCount        int
	ApproxCodeSize     string
}

// GetArchitectureSummary aggregates counts and the top central entities
// into a single report, formatting the total code size with go-humanize
// for the same quick-glance readability the CLI text output favors
// throughout.
func (s *Store) GetArchitectureSummary() (*ArchitectureSummary, error) {
	summary := &ArchitectureSummary{EntitiesByKind: map[string]int{}, RelationsByKind: map[string]int{}}

	s.mu.RLock()
	if err := s.db.QueryRow("SELECT COUNT(*) FROM entities").Scan(&summary.TotalEntities); err != nil {
		s.mu.RUnlock()
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM relationships").Scan(&summary.TotalRelationships); err != nil {
		s.mu.RUnlock()
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	rows, err := s.db.Query("SELECT kind, COUNT(*) FROM entities GROUP BY kind")
	if err != nil {
		s.mu.RUnlock()
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			rows.Close()
			s.mu.RUnlock()
			return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}
		summary.EntitiesByKind[kind] = count
	}
	rows.Close()

	rows, err = s.db.Query("SELECT relation, COUNT(*) FROM relationships GROUP BY relation")
	if err != nil {
		s.mu.RUnlock()
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	for rows.Next() {
		var relation string
		var count int
		if err := rows.Scan(&relation, &count); err != nil {
			rows.Close()
			s.mu.RUnlock()
			return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}
		summary.RelationsByKind[relation] = count
	}
	rows.Close()

	var totalCodeBytes int64
	if err := s.db.QueryRow("SELECT COALESCE(SUM(LENGTH(code)), 0) FROM entities").Scan(&totalCodeBytes); err != nil {
		s.mu.RUnlock()
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	s.mu.RUnlock()
	summary.ApproxCodeSize = humanize.Bytes(uint64(totalCodeBytes))

	central, err := s.GetCentralEntities(5)
	if err != nil {
		return nil, err
	}
	summary.CentralEntities = central

	orphans, err := s.GetOrphans()
	if err != nil {
		return nil, err
	}
	summary.OrphanCount = len(orphans)

	return summary, nil
}

func (s *Store) findEntitiesLocked(nameContains, kind string) ([]Entity, error) {
	query := "SELECT id, name, kind, code, intent, metadata, created_at FROM entities WHERE 1=1"
	var args []any
	if nameContains != "" {
		query += " AND name LIKE ?"
		args = append(args, "%"+nameContains+"%")
	}
	if kind != "" {
		query += " AND kind = ?"
		args = append(args, kind)
	}
	query += " ORDER BY CASE WHEN name = ? THEN 0 ELSE 1 END, name"
	args = append(args, nameContains)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	defer rows.Close()
	return collectEntities(rows)
}

func scanEntityWithDegree(rows *sql.Rows) (Entity, int, error) {
	var e Entity
	var degree int
	var code, intent, metadata sql.NullString
	var createdAt sql.NullTime
	if err := rows.Scan(&e.ID, &e.Name, &e.Kind, &code, &intent, &metadata, &createdAt, &degree); err != nil {
		return Entity{}, 0, err
	}
	e.Code = code.String
	e.Intent = intent.String
	e.CreatedAt = createdAt.Time
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
			return Entity{}, 0, err
		}
	}
	return e, degree, nil
}
