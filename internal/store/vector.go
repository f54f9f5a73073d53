package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"sort"

	"loom/internal/logging"
)

const embeddingDimensions = 384

// ensureVecTable lazily creates a vec0 virtual table the first time it's
// needed, matching the original's _init_vec_table behavior of only
// paying the cost if semantic search is actually used.
func (s *Store) ensureVecTable(name string) error {
	if !s.vectorAvailable {
		return fmt.Errorf("%w: sqlite-vec extension not loaded", ErrCapabilityUnavailable)
	}
	_, err := s.db.Exec(fmt.Sprintf(
		"CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(rowid_ref INTEGER PRIMARY KEY, embedding float[%d])",
		name, embeddingDimensions,
	))
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrStorageFailure, name, err)
	}
	return nil
}

// GenerateEmbeddingsStats summarizes a GenerateEmbeddings pass.
type GenerateEmbeddingsStats struct {
	EntitiesEmbedded int
	NotesEmbedded    int
	Skipped          int
}

// GenerateEmbeddings embeds every entity and note that doesn't already
// have a vector stored, using the store's configured embedding engine.
// It is a no-op returning ErrCapabilityUnavailable when no engine is
// configured or the vec0 extension isn't loaded.
func (s *Store) GenerateEmbeddings(ctx context.Context) (*GenerateEmbeddingsStats, error) {
	if s.embeddingEngine == nil {
		return nil, fmt.Errorf("%w: no embedding engine configured", ErrCapabilityUnavailable)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureVecTableLocked("vec_entities"); err != nil {
		return nil, err
	}
	if err := s.ensureVecTableLocked("vec_notes"); err != nil {
		return nil, err
	}

	stats := &GenerateEmbeddingsStats{}

	rows, err := s.db.Query(`
		SELECT e.id, e.name, e.intent, e.code FROM entities e
		WHERE NOT EXISTS (SELECT 1 FROM vec_entities v WHERE v.rowid_ref = e.id)`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	type pending struct {
		id   int64
		text string
	}
	var entityBatch []pending
	for rows.Next() {
		var id int64
		var name string
		var intent, code sql.NullString
		if err := rows.Scan(&id, &name, &intent, &code); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}
		text := name
		if intent.Valid && intent.String != "" {
			text += ": " + intent.String
		} else if code.Valid {
			text += ": " + truncateForEmbedding(code.String)
		}
		entityBatch = append(entityBatch, pending{id, text})
	}
	rows.Close()

	if len(entityBatch) > 0 {
		texts := make([]string, len(entityBatch))
		for i, p := range entityBatch {
			texts[i] = p.text
		}
		vectors, err := s.embeddingEngine.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed entities: %w", err)
		}
		for i, p := range entityBatch {
			if err := s.insertVector("vec_entities", p.id, vectors[i]); err != nil {
				return nil, err
			}
			stats.EntitiesEmbedded++
		}
	}

	noteRows, err := s.db.Query(`
		SELECT n.rowid, n.title, n.content FROM notes n
		WHERE NOT EXISTS (SELECT 1 FROM vec_notes v WHERE v.rowid_ref = n.rowid)`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	var noteBatch []pending
	for noteRows.Next() {
		var id int64
		var title, content sql.NullString
		if err := noteRows.Scan(&id, &title, &content); err != nil {
			noteRows.Close()
			return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}
		text := title.String
		if text != "" {
			text += ": "
		}
		text += truncateForEmbedding(content.String)
		noteBatch = append(noteBatch, pending{id, text})
	}
	noteRows.Close()

	if len(noteBatch) > 0 {
		texts := make([]string, len(noteBatch))
		for i, p := range noteBatch {
			texts[i] = p.text
		}
		vectors, err := s.embeddingEngine.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed notes: %w", err)
		}
		for i, p := range noteBatch {
			if err := s.insertVector("vec_notes", p.id, vectors[i]); err != nil {
				return nil, err
			}
			stats.NotesEmbedded++
		}
	}

	logging.Store("generated embeddings: %d entities, %d notes", stats.EntitiesEmbedded, stats.NotesEmbedded)
	return stats, nil
}

func (s *Store) insertVector(table string, id int64, vec []float32) error {
	blob, err := floatsToBlob(vec)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	_, err = s.db.Exec(fmt.Sprintf("INSERT INTO %s (rowid_ref, embedding) VALUES (?, ?)", table), id, blob)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return nil
}

// SemanticMatch pairs an entity with a similarity score in [0, 1].
type SemanticMatch struct {
	Entity Entity
	Score  float64
}

// SemanticSearch embeds the query text and finds the closest entities by
// vector distance, deduplicating by name and keeping the highest score
// per name, matching the original's dedup-by-name-keep-highest rule
// (an entity and its overloads otherwise flood the result list).
func (s *Store) SemanticSearch(ctx context.Context, query string, limit int) ([]SemanticMatch, error) {
	if s.embeddingEngine == nil {
		return nil, fmt.Errorf("%w: no embedding engine configured", ErrCapabilityUnavailable)
	}
	if limit <= 0 {
		limit = 10
	}

	queryVec, err := s.embeddingEngine.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	blob, err := floatsToBlob(queryVec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.vectorAvailable {
		return nil, fmt.Errorf("%w: sqlite-vec extension not loaded", ErrCapabilityUnavailable)
	}

	rows, err := s.db.Query(`
		SELECT e.id, e.name, e.kind, e.code, e.intent, e.metadata, e.created_at, v.distance
		FROM vec_entities v JOIN entities e ON e.id = v.rowid_ref
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance`, blob, limit*3)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	defer rows.Close()

	bestByName := map[string]SemanticMatch{}
	for rows.Next() {
		var e Entity
		var code, intent, meta sql.NullString
		var createdAt sql.NullTime
		var distance float64
		if err := rows.Scan(&e.ID, &e.Name, &e.Kind, &code, &intent, &meta, &createdAt, &distance); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}
		e.Code = code.String
		e.Intent = intent.String
		e.CreatedAt = createdAt.Time
		score := 1.0 / (1.0 + distance)
		if existing, ok := bestByName[e.Name]; !ok || score > existing.Score {
			bestByName[e.Name] = SemanticMatch{Entity: e, Score: score}
		}
	}

	out := make([]SemanticMatch, 0, len(bestByName))
	for _, m := range bestByName {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ensureVecTableLocked(name string) error {
	return s.ensureVecTable(name)
}

func truncateForEmbedding(s string) string {
	const max = 500
	if len(s) > max {
		return s[:max]
	}
	return s
}

// floatsToBlob packs a float32 vector as a little-endian byte blob, the
// raw format sqlite-vec's vec0 tables expect for float[N] columns.
func floatsToBlob(v []float32) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Grow(len(v) * 4)
	for _, f := range v {
		if err := binary.Write(buf, binary.LittleEndian, f); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
