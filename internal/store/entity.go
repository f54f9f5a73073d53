package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"loom/internal/logging"
)

// Direction selects which side of a relationship to traverse.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
	DirectionBoth     Direction = "both"
)

// EntityInput is the payload for AddEntity.
type EntityInput struct {
	Name     string
	Kind     string // "module", "class", "function", "method", "variable"
	Code     string
	Intent   string
	Metadata map[string]any
}

// Entity is a stored code entity.
type Entity struct {
	ID        int64
	Name      string
	Kind      string
	Code      string
	Intent    string
	Metadata  map[string]any
	CreatedAt time.Time
}

// RelationshipView is a relationship row joined with the name/kind of
// whichever endpoint the caller didn't already know (the target's, when
// traversing outgoing; the source's, when traversing incoming).
type RelationshipView struct {
	ID         int64
	SourceID   int64
	TargetID   int64
	Relation   string
	Metadata   map[string]any
	OtherName  string
	OtherKind  string
	Direction  Direction
}

// AddEntity inserts a new entity and returns its id.
func (s *Store) AddEntity(e EntityInput) (int64, error) {
	if e.Name == "" || e.Kind == "" {
		return 0, fmt.Errorf("%w: name and kind are required", ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := marshalMetadata(e.Metadata)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	res, err := s.db.Exec(
		"INSERT INTO entities (name, kind, code, intent, metadata) VALUES (?, ?, ?, ?, ?)",
		e.Name, e.Kind, nullIfEmpty(e.Code), nullIfEmpty(e.Intent), meta,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: insert entity: %v", ErrStorageFailure, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	logging.StoreDebug("added entity %d (%s %q)", id, e.Kind, e.Name)
	return id, nil
}

// GetEntity fetches an entity by id. Returns (nil, nil) if not found.
func (s *Store) GetEntity(id int64) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow("SELECT id, name, kind, code, intent, metadata, created_at FROM entities WHERE id = ?", id)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return e, nil
}

// FindEntities searches by a name substring and/or an exact kind match.
// Either filter may be empty to skip it.
func (s *Store) FindEntities(nameContains, kind string) ([]Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

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

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	defer rows.Close()

	return collectEntities(rows)
}

// UpdateEntity updates the given fields (subset of name/kind/code/intent/
// metadata). Returns false, nil if no allowed field was supplied.
func (s *Store) UpdateEntity(id int64, fields map[string]any) (bool, error) {
	allowed := map[string]bool{"name": true, "kind": true, "code": true, "intent": true, "metadata": true}

	setClause := ""
	var args []any
	for k, v := range fields {
		if !allowed[k] {
			continue
		}
		if k == "metadata" {
			m, ok := v.(map[string]any)
			if !ok {
				return false, fmt.Errorf("%w: metadata must be map[string]any", ErrInvalidArgument)
			}
			encoded, err := marshalMetadata(m)
			if err != nil {
				return false, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
			}
			v = encoded
		}
		if setClause != "" {
			setClause += ", "
		}
		setClause += fmt.Sprintf("%s = ?", k)
		args = append(args, v)
	}
	if setClause == "" {
		return false, nil
	}
	args = append(args, id)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(fmt.Sprintf("UPDATE entities SET %s WHERE id = ?", setClause), args...)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return true, nil
}

// DeleteEntity removes an entity and every relationship touching it.
func (s *Store) DeleteEntity(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM relationships WHERE source_id = ? OR target_id = ?", id, id); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	if _, err := s.db.Exec("DELETE FROM entities WHERE id = ?", id); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return nil
}

// AddRelationship records an edge between two entities. Unlike entities,
// relationships aren't deduplicated at this layer - callers that need
// idempotent edges (AnalyzeImports, AnalyzeCalls) check existence first,
// matching the faithful behavior documented in DESIGN.md.
func (s *Store) AddRelationship(source, target int64, relation string, metadata map[string]any) (int64, error) {
	if relation == "" {
		return 0, fmt.Errorf("%w: relation is required", ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := marshalMetadata(metadata)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	res, err := s.db.Exec(
		"INSERT INTO relationships (source_id, target_id, relation, metadata) VALUES (?, ?, ?, ?)",
		source, target, relation, meta,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return res.LastInsertId()
}

// RelationshipExists reports whether an edge with this exact
// (source, target, relation) triple is already recorded.
func (s *Store) RelationshipExists(source, target int64, relation string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var id int64
	err := s.db.QueryRow(
		"SELECT id FROM relationships WHERE source_id = ? AND target_id = ? AND relation = ?",
		source, target, relation,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return true, nil
}

// GetRelationships returns every relationship touching entityID in the
// requested direction, each joined with the name/kind of the other
// endpoint.
func (s *Store) GetRelationships(entityID int64, direction Direction) ([]RelationshipView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []RelationshipView

	if direction == DirectionOutgoing || direction == DirectionBoth {
		rows, err := s.db.Query(
			`SELECT r.id, r.source_id, r.target_id, r.relation, r.metadata, e.name, e.kind
			 FROM relationships r JOIN entities e ON r.target_id = e.id
			 WHERE r.source_id = ?`, entityID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}
		views, err := collectRelationshipViews(rows, DirectionOutgoing)
		rows.Close()
		if err != nil {
			return nil, err
		}
		results = append(results, views...)
	}

	if direction == DirectionIncoming || direction == DirectionBoth {
		rows, err := s.db.Query(
			`SELECT r.id, r.source_id, r.target_id, r.relation, r.metadata, e.name, e.kind
			 FROM relationships r JOIN entities e ON r.source_id = e.id
			 WHERE r.target_id = ?`, entityID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}
		views, err := collectRelationshipViews(rows, DirectionIncoming)
		rows.Close()
		if err != nil {
			return nil, err
		}
		results = append(results, views...)
	}

	return results, nil
}

// FindRelated returns the entities on the other end of entityID's
// relationships, optionally filtered to one relation name.
func (s *Store) FindRelated(entityID int64, relation string, direction Direction) ([]Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var query string
	if direction == DirectionIncoming {
		query = `SELECT e.id, e.name, e.kind, e.code, e.intent, e.metadata, e.created_at
		          FROM entities e JOIN relationships r ON e.id = r.source_id
		          WHERE r.target_id = ?`
	} else {
		query = `SELECT e.id, e.name, e.kind, e.code, e.intent, e.metadata, e.created_at
		          FROM entities e JOIN relationships r ON e.id = r.target_id
		          WHERE r.source_id = ?`
	}
	args := []any{entityID}
	if relation != "" {
		query += " AND r.relation = ?"
		args = append(args, relation)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	defer rows.Close()
	return collectEntities(rows)
}

// GetChildren returns the entities this entity "contains" (e.g. a
// module's top-level functions and classes, or a class's methods).
func (s *Store) GetChildren(id int64) ([]Entity, error) {
	return s.FindRelated(id, "contains", DirectionOutgoing)
}

// GetParent returns the entity that "contains" id, or nil if there is none.
func (s *Store) GetParent(id int64) (*Entity, error) {
	parents, err := s.FindRelated(id, "contains", DirectionIncoming)
	if err != nil {
		return nil, err
	}
	if len(parents) == 0 {
		return nil, nil
	}
	return &parents[0], nil
}

// CallGraphNode is one node of a GetCallGraph result tree.
type CallGraphNode struct {
	Entity    Entity
	Calls     []CallGraphNode
	CallCount int
	Cycle     bool
}

// GetCallGraph walks the "calls" relationship from id outward. depth
// limits how many levels are traversed (-1 for unlimited when recursive
// is true). Cycle detection uses a per-branch copy of the visited set so
// the same node can appear on multiple independent paths without being
// treated as a cycle on its first encounter along each path.
func (s *Store) GetCallGraph(id int64, depth int, recursive bool) (*CallGraphNode, error) {
	return s.getCallGraph(id, depth, recursive, map[int64]bool{})
}

func (s *Store) getCallGraph(id int64, depth int, recursive bool, visited map[int64]bool) (*CallGraphNode, error) {
	entity, err := s.GetEntity(id)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, nil
	}

	if visited[id] {
		return &CallGraphNode{Entity: *entity, Cycle: true}, nil
	}
	visited[id] = true

	node := &CallGraphNode{Entity: *entity}

	shouldRecurse := depth > 0 || (recursive && depth == -1)
	if !shouldRecurse {
		return node, nil
	}

	called, err := s.FindRelated(id, "calls", DirectionOutgoing)
	if err != nil {
		return nil, err
	}
	node.CallCount = len(called)

	nextDepth := depth - 1
	if depth <= 0 {
		nextDepth = -1
	}

	for _, c := range called {
		branchVisited := make(map[int64]bool, len(visited))
		for k := range visited {
			branchVisited[k] = true
		}
		child, err := s.getCallGraph(c.ID, nextDepth, recursive, branchVisited)
		if err != nil {
			return nil, err
		}
		if child != nil {
			node.Calls = append(node.Calls, *child)
		}
	}

	return node, nil
}

// GetCallers returns every entity with a "calls" edge pointing at id.
func (s *Store) GetCallers(id int64) ([]Entity, error) {
	return s.FindRelated(id, "calls", DirectionIncoming)
}

// ImpactAnalysis reports what would be affected by changing id: its
// direct callers, one level of indirect callers, and (for classes) the
// class's methods via "member_of".
type ImpactAnalysis struct {
	DirectCallers   []Entity
	IndirectCallers []Entity
	AffectedMethods []Entity
	RiskScore       int
}

func (s *Store) ImpactAnalysis(id int64) (*ImpactAnalysis, error) {
	entity, err := s.GetEntity(id)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return &ImpactAnalysis{}, nil
	}

	var affectedMethods []Entity
	if entity.Kind == "class" {
		affectedMethods, err = s.classMethods(id)
		if err != nil {
			return nil, err
		}
	}

	entitiesToAnalyze := map[int64]bool{id: true}
	for _, m := range affectedMethods {
		entitiesToAnalyze[m.ID] = true
	}

	var directCallers []Entity
	directCallerIDs := map[int64]bool{}
	for eid := range entitiesToAnalyze {
		callers, err := s.GetCallers(eid)
		if err != nil {
			return nil, err
		}
		for _, caller := range callers {
			if !directCallerIDs[caller.ID] && !entitiesToAnalyze[caller.ID] {
				directCallers = append(directCallers, caller)
				directCallerIDs[caller.ID] = true
			}
		}
	}

	var indirectCallers []Entity
	seenIndirect := map[int64]bool{}
	for _, caller := range directCallers {
		secondLevel, err := s.GetCallers(caller.ID)
		if err != nil {
			return nil, err
		}
		for _, indirect := range secondLevel {
			if !directCallerIDs[indirect.ID] && !entitiesToAnalyze[indirect.ID] && !seenIndirect[indirect.ID] {
				indirectCallers = append(indirectCallers, indirect)
				seenIndirect[indirect.ID] = true
			}
		}
	}

	return &ImpactAnalysis{
		DirectCallers:   directCallers,
		IndirectCallers: indirectCallers,
		AffectedMethods: affectedMethods,
		RiskScore:       len(directCallers) + len(indirectCallers) + len(affectedMethods),
	}, nil
}

// classMethods returns the methods that belong to classID via the
// "member_of" relationship, using a SQL join rather than name matching.
func (s *Store) classMethods(classID int64) ([]Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT e.id, e.name, e.kind, e.code, e.intent, e.metadata, e.created_at
		 FROM entities e JOIN relationships r ON e.id = r.source_id
		 WHERE r.target_id = ? AND r.relation = 'member_of' AND e.kind = 'method'`, classID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	defer rows.Close()
	return collectEntities(rows)
}

// --- scanning helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*Entity, error) {
	var e Entity
	var code, intent, meta sql.NullString
	var createdAt sql.NullTime
	if err := row.Scan(&e.ID, &e.Name, &e.Kind, &code, &intent, &meta, &createdAt); err != nil {
		return nil, err
	}
	e.Code = code.String
	e.Intent = intent.String
	e.CreatedAt = createdAt.Time
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &e, nil
}

func collectEntities(rows *sql.Rows) ([]Entity, error) {
	entities := []Entity{}
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}
		entities = append(entities, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return entities, nil
}

func collectRelationshipViews(rows *sql.Rows, direction Direction) ([]RelationshipView, error) {
	views := []RelationshipView{}
	for rows.Next() {
		var v RelationshipView
		var meta, otherName, otherKind sql.NullString
		if err := rows.Scan(&v.ID, &v.SourceID, &v.TargetID, &v.Relation, &meta, &otherName, &otherKind); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}
		v.OtherName = otherName.String
		v.OtherKind = otherKind.String
		v.Direction = direction
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &v.Metadata); err != nil {
				return nil, fmt.Errorf("decode relationship metadata: %w", err)
			}
		}
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return views, nil
}

func marshalMetadata(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
