package store

import (
	"database/sql"
	"fmt"

	"loom/internal/logging"
)

// schemaVersion is the current schema version. OpenStore migrates any
// older database up to this version before returning.
const schemaVersion = 8

const baseSchemaDDL = `
CREATE TABLE IF NOT EXISTS entities (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	kind TEXT NOT NULL,
	code TEXT,
	intent TEXT,
	metadata TEXT,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS relationships (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source_id INTEGER NOT NULL,
	target_id INTEGER NOT NULL,
	relation TEXT NOT NULL,
	metadata TEXT,
	FOREIGN KEY (source_id) REFERENCES entities(id),
	FOREIGN KEY (target_id) REFERENCES entities(id)
);

CREATE INDEX IF NOT EXISTS idx_entities_name ON entities(name);
CREATE INDEX IF NOT EXISTS idx_entities_kind ON entities(kind);
CREATE INDEX IF NOT EXISTS idx_rel_source ON relationships(source_id);
CREATE INDEX IF NOT EXISTS idx_rel_target ON relationships(target_id);

CREATE TABLE IF NOT EXISTS notes (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	title TEXT,
	content TEXT NOT NULL,
	created_at TEXT NOT NULL,
	source TEXT,
	status TEXT DEFAULT 'active'
);

CREATE TABLE IF NOT EXISTS note_links (
	note_id TEXT NOT NULL,
	entity_id INTEGER NOT NULL,
	link_type TEXT NOT NULL,
	PRIMARY KEY (note_id, entity_id, link_type),
	FOREIGN KEY (note_id) REFERENCES notes(id),
	FOREIGN KEY (entity_id) REFERENCES entities(id)
);

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY
);
`

const migrateV2DDL = `
CREATE TABLE IF NOT EXISTS trace_runs (
	run_id TEXT PRIMARY KEY,
	started_at TEXT NOT NULL,
	ended_at TEXT,
	command TEXT,
	exit_code INTEGER,
	status TEXT
);

CREATE TABLE IF NOT EXISTS trace_calls (
	call_id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	function_name TEXT NOT NULL,
	file_path TEXT,
	line_number INTEGER,
	called_at TEXT NOT NULL,
	returned_at TEXT,
	duration_ms REAL,
	args_json TEXT,
	kwargs_json TEXT,
	return_value_json TEXT,
	exception_type TEXT,
	exception_message TEXT,
	exception_traceback TEXT,
	parent_call_id TEXT,
	depth INTEGER DEFAULT 0,
	FOREIGN KEY (run_id) REFERENCES trace_runs(run_id),
	FOREIGN KEY (parent_call_id) REFERENCES trace_calls(call_id)
);

CREATE INDEX IF NOT EXISTS idx_trace_calls_run ON trace_calls(run_id);
CREATE INDEX IF NOT EXISTS idx_trace_calls_function ON trace_calls(function_name);
CREATE INDEX IF NOT EXISTS idx_trace_calls_exception ON trace_calls(exception_type) WHERE exception_type IS NOT NULL;
`

const migrateV3DDL = `
CREATE TABLE IF NOT EXISTS file_tracking (
	file_path TEXT PRIMARY KEY,
	mtime REAL NOT NULL,
	size INTEGER,
	last_ingest_run TEXT,
	ingested_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ingest_runs (
	run_id TEXT PRIMARY KEY,
	started_at TEXT NOT NULL,
	ended_at TEXT,
	paths TEXT,
	stats TEXT,
	status TEXT
);

CREATE TABLE IF NOT EXISTS entity_files (
	entity_id INTEGER NOT NULL,
	file_path TEXT NOT NULL,
	PRIMARY KEY (entity_id, file_path),
	FOREIGN KEY (entity_id) REFERENCES entities(id)
);

CREATE INDEX IF NOT EXISTS idx_file_tracking_mtime ON file_tracking(mtime);
CREATE INDEX IF NOT EXISTS idx_entity_files_path ON entity_files(file_path);
`

const migrateV4DDL = `
CREATE TABLE IF NOT EXISTS failure_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	entity_id INTEGER,
	entity_name TEXT,
	file_path TEXT,
	context TEXT,
	attempted_fix TEXT NOT NULL,
	failure_reason TEXT,
	related_error TEXT,
	tags TEXT,
	FOREIGN KEY (entity_id) REFERENCES entities(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_failure_logs_entity ON failure_logs(entity_id);
CREATE INDEX IF NOT EXISTS idx_failure_logs_entity_name ON failure_logs(entity_name);
CREATE INDEX IF NOT EXISTS idx_failure_logs_file ON failure_logs(file_path);
CREATE INDEX IF NOT EXISTS idx_failure_logs_timestamp ON failure_logs(timestamp);
`

const migrateV6DDL = `
CREATE TABLE IF NOT EXISTS todos (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT,
	prompt TEXT NOT NULL,
	context TEXT,
	status TEXT DEFAULT 'pending',
	priority INTEGER DEFAULT 0,
	position INTEGER,
	created_at TEXT NOT NULL,
	updated_at TEXT,
	started_at TEXT,
	completed_at TEXT,
	estimated_minutes INTEGER,
	critical BOOLEAN DEFAULT 0,
	tags TEXT,
	combined_into INTEGER,
	completion_notes TEXT,
	entity_name TEXT,
	file_path TEXT,
	metadata TEXT,
	FOREIGN KEY (combined_into) REFERENCES todos(id) ON DELETE SET NULL
);

CREATE INDEX IF NOT EXISTS idx_todos_status ON todos(status);
CREATE INDEX IF NOT EXISTS idx_todos_priority ON todos(priority);
CREATE INDEX IF NOT EXISTS idx_todos_position ON todos(position);
CREATE INDEX IF NOT EXISTS idx_todos_created ON todos(created_at);
CREATE INDEX IF NOT EXISTS idx_todos_entity ON todos(entity_name);
CREATE INDEX IF NOT EXISTS idx_todos_file ON todos(file_path);
`

const migrateV8DDL = `
CREATE TABLE IF NOT EXISTS cross_file_refs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source_entity_id INTEGER NOT NULL,
	target_name TEXT NOT NULL,
	ref_type TEXT NOT NULL,
	source_file TEXT,
	line_number INTEGER,
	verifiable BOOLEAN DEFAULT 1,
	verification_reason TEXT,
	metadata TEXT,
	created_at TEXT DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (source_entity_id) REFERENCES entities(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_cross_file_refs_type ON cross_file_refs(ref_type);
CREATE INDEX IF NOT EXISTS idx_cross_file_refs_target ON cross_file_refs(target_name);
CREATE INDEX IF NOT EXISTS idx_cross_file_refs_source ON cross_file_refs(source_entity_id);
`

func initSchema(db *sql.DB) error {
	if _, err := db.Exec(baseSchemaDDL); err != nil {
		return fmt.Errorf("init base schema: %w", err)
	}
	return runMigrations(db)
}

func getSchemaVersionOf(db *sql.DB) int {
	row := db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1")
	var v int
	if err := row.Scan(&v); err != nil {
		return 0
	}
	return v
}

func setSchemaVersion(db *sql.DB, version int) error {
	_, err := db.Exec("INSERT OR REPLACE INTO schema_version (version) VALUES (?)", version)
	return err
}

// runMigrations applies any migrations between the stored version and
// schemaVersion in order, bumping the stored version after each succeeds.
// A migration's statements run directly on the connection, not inside a
// transaction. Every migration is idempotent (CREATE TABLE IF NOT
// EXISTS, guarded ALTER TABLE ... ADD COLUMN) so re-running OpenStore on an
// already-current database is a no-op.
func runMigrations(db *sql.DB) error {
	current := getSchemaVersionOf(db)
	logging.StoreDebug("schema version on disk: %d (target %d)", current, schemaVersion)

	steps := []struct {
		version int
		run     func(*sql.DB) error
	}{
		{2, migrateToV2},
		{3, migrateToV3},
		{4, migrateToV4},
		{5, migrateToV5},
		{6, migrateToV6},
		{7, migrateToV7},
		{8, migrateToV8},
	}

	for _, step := range steps {
		if current >= step.version {
			continue
		}
		logging.Store("applying migration v%d", step.version)
		if err := step.run(db); err != nil {
			return fmt.Errorf("migrate to v%d: %w", step.version, err)
		}
		if err := setSchemaVersion(db, step.version); err != nil {
			return fmt.Errorf("set schema version v%d: %w", step.version, err)
		}
		current = step.version
	}
	return nil
}

func migrateToV2(db *sql.DB) error {
	_, err := db.Exec(migrateV2DDL)
	return err
}

func migrateToV3(db *sql.DB) error {
	_, err := db.Exec(migrateV3DDL)
	return err
}

func migrateToV4(db *sql.DB) error {
	_, err := db.Exec(migrateV4DDL)
	return err
}

// migrateToV5 adds entity_name to failure_logs for stores that only ran
// the v4 migration before this column existed.
func migrateToV5(db *sql.DB) error {
	if !hasColumn(db, "failure_logs", "entity_name") {
		if _, err := db.Exec("ALTER TABLE failure_logs ADD COLUMN entity_name TEXT"); err != nil {
			return err
		}
	}
	_, err := db.Exec("CREATE INDEX IF NOT EXISTS idx_failure_logs_entity_name ON failure_logs(entity_name)")
	return err
}

func migrateToV6(db *sql.DB) error {
	_, err := db.Exec(migrateV6DDL)
	return err
}

// migrateToV7 adds the columns todos picked up after the v6 table was
// first created, defensively (a store created fresh at v6+ already has
// them via migrateV6DDL). The position backfill formula matches the
// original: each row's position becomes its rank by id.
func migrateToV7(db *sql.DB) error {
	type col struct {
		name string
		ddl  string
	}
	cols := []col{
		{"title", "ALTER TABLE todos ADD COLUMN title TEXT"},
		{"position", "ALTER TABLE todos ADD COLUMN position INTEGER"},
		{"estimated_minutes", "ALTER TABLE todos ADD COLUMN estimated_minutes INTEGER"},
		{"critical", "ALTER TABLE todos ADD COLUMN critical BOOLEAN DEFAULT 0"},
		{"combined_into", "ALTER TABLE todos ADD COLUMN combined_into INTEGER REFERENCES todos(id) ON DELETE SET NULL"},
		{"completion_notes", "ALTER TABLE todos ADD COLUMN completion_notes TEXT"},
	}
	backfillPosition := !hasColumn(db, "todos", "position")
	for _, c := range cols {
		if hasColumn(db, "todos", c.name) {
			continue
		}
		if _, err := db.Exec(c.ddl); err != nil {
			return err
		}
	}
	if backfillPosition {
		if _, err := db.Exec(`
			UPDATE todos SET position = (
				SELECT COUNT(*) FROM todos t2 WHERE t2.id <= todos.id
			)`); err != nil {
			return err
		}
	}
	_, err := db.Exec("CREATE INDEX IF NOT EXISTS idx_todos_position ON todos(position)")
	return err
}

func migrateToV8(db *sql.DB) error {
	_, err := db.Exec(migrateV8DDL)
	return err
}

func hasColumn(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notNull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return false
		}
		if name == column {
			return true
		}
	}
	return false
}
