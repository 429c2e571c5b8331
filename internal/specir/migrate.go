package specir

import (
	"database/sql"
	"fmt"
)

// migrate creates every Spec-IR table in dependency order: datatypes (kept
// as an enum in Go, validated via CHECK constraints) → object/float/
// relation/view types → attribute types → content tables → cache domain →
// search index. All statements are idempotent (CREATE ... IF NOT EXISTS) so this
// runs unconditionally at every Open.
func migrate(db *sql.DB, hasFTS5 bool) error {
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		return fmt.Errorf("enabling foreign keys: %w", err)
	}

	schema := `
	-- ---------------------------------------------------------------
	-- Type system (metamodel) — §3.1
	-- ---------------------------------------------------------------
	CREATE TABLE IF NOT EXISTS specification_types (
		id          TEXT PRIMARY KEY,
		name        TEXT,
		parent_id   TEXT,
		is_default  INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS object_types (
		id          TEXT PRIMARY KEY,
		parent_id   TEXT,
		is_composite INTEGER NOT NULL DEFAULT 0,
		is_default  INTEGER NOT NULL DEFAULT 0,
		prefix      TEXT,
		pid_format  TEXT
	);

	CREATE TABLE IF NOT EXISTS object_type_aliases (
		alias           TEXT PRIMARY KEY,
		object_type_id  TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS float_types (
		id                   TEXT PRIMARY KEY,
		caption_prefix       TEXT,
		counter_group        TEXT,
		needs_external_render INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS float_type_aliases (
		alias         TEXT PRIMARY KEY,
		float_type_id TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS relation_types (
		id               TEXT PRIMARY KEY,
		parent_id        TEXT,
		source_types     TEXT,
		target_types     TEXT,
		selector         TEXT,
		source_attribute TEXT
	);

	CREATE TABLE IF NOT EXISTS view_types (
		id                    TEXT PRIMARY KEY,
		counter_group         TEXT,
		inline_prefix         TEXT,
		materializer          TEXT NOT NULL,
		subtype_ref           TEXT,
		needs_external_render INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS view_type_aliases (
		alias        TEXT PRIMARY KEY,
		view_type_id TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS attribute_types (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_kind  TEXT NOT NULL CHECK (owner_kind IN ('object', 'float', 'specification')),
		owner_type_id TEXT NOT NULL,
		name        TEXT NOT NULL,
		datatype    TEXT NOT NULL CHECK (datatype IN ('string','int','real','bool','date','xhtml','enum')),
		min_occurs  INTEGER NOT NULL DEFAULT 0,
		max_occurs  INTEGER NOT NULL DEFAULT 1,
		min_value   REAL,
		max_value   REAL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_attribute_types_owner_name
		ON attribute_types (owner_kind, owner_type_id, name);

	CREATE TABLE IF NOT EXISTS enum_values (
		id                 INTEGER PRIMARY KEY AUTOINCREMENT,
		attribute_type_id  INTEGER NOT NULL,
		value              TEXT NOT NULL,
		ord                INTEGER NOT NULL,
		FOREIGN KEY (attribute_type_id) REFERENCES attribute_types(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS implicit_object_aliases (
		alias          TEXT PRIMARY KEY,
		object_type_id TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS implicit_specification_aliases (
		alias                   TEXT PRIMARY KEY,
		specification_type_id   TEXT NOT NULL
	);

	-- ---------------------------------------------------------------
	-- Content — §3.2
	-- ---------------------------------------------------------------
	CREATE TABLE IF NOT EXISTS specifications (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		root_path   TEXT NOT NULL UNIQUE,
		long_name   TEXT,
		type_ref    TEXT,
		pid         TEXT,
		header_ast  TEXT,
		body_ast    TEXT
	);

	CREATE TABLE IF NOT EXISTS spec_objects (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		specification_id INTEGER NOT NULL,
		type_ref         TEXT,
		from_file        TEXT NOT NULL,
		file_seq         INTEGER NOT NULL,
		pid              TEXT,
		pid_prefix       TEXT,
		pid_seq          INTEGER,
		pid_format       TEXT,
		pid_auto         INTEGER NOT NULL DEFAULT 0,
		title            TEXT,
		label            TEXT,
		level            INTEGER NOT NULL,
		start_line       INTEGER NOT NULL,
		end_line         INTEGER,
		ast              TEXT,
		content_hash     TEXT,
		alt_repr         TEXT,
		FOREIGN KEY (specification_id) REFERENCES specifications(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_spec_objects_spec_file_seq
		ON spec_objects (specification_id, from_file, file_seq);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_spec_objects_pid
		ON spec_objects (pid) WHERE pid IS NOT NULL;
	CREATE UNIQUE INDEX IF NOT EXISTS idx_spec_objects_spec_label
		ON spec_objects (specification_id, label) WHERE label IS NOT NULL;

	CREATE TABLE IF NOT EXISTS spec_floats (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		specification_id INTEGER NOT NULL,
		type_ref          TEXT,
		from_file         TEXT NOT NULL,
		file_seq          INTEGER NOT NULL,
		start_line        INTEGER NOT NULL,
		label             TEXT,
		number            INTEGER,
		caption           TEXT,
		pandoc_attrs      TEXT,
		raw_content       TEXT,
		raw_ast           TEXT,
		resolved_ast      TEXT,
		parent_object_id  INTEGER,
		anchor            TEXT,
		syntax_key        TEXT,
		FOREIGN KEY (specification_id) REFERENCES specifications(id) ON DELETE CASCADE,
		FOREIGN KEY (parent_object_id) REFERENCES spec_objects(id) ON DELETE SET NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_spec_floats_spec_label
		ON spec_floats (specification_id, label) WHERE label IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_spec_floats_parent ON spec_floats (parent_object_id);

	CREATE TABLE IF NOT EXISTS spec_relations (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		specification_id INTEGER NOT NULL,
		source_object_id  INTEGER NOT NULL,
		raw_target        TEXT,
		target_object_id  INTEGER,
		target_float_id   INTEGER,
		type_ref          TEXT,
		is_ambiguous      INTEGER NOT NULL DEFAULT 0,
		from_file         TEXT,
		link_line         INTEGER,
		source_attribute  TEXT,
		link_selector     TEXT,
		FOREIGN KEY (specification_id) REFERENCES specifications(id) ON DELETE CASCADE,
		FOREIGN KEY (source_object_id) REFERENCES spec_objects(id) ON DELETE CASCADE,
		FOREIGN KEY (target_object_id) REFERENCES spec_objects(id) ON DELETE SET NULL,
		FOREIGN KEY (target_float_id) REFERENCES spec_floats(id) ON DELETE SET NULL
	);
	CREATE INDEX IF NOT EXISTS idx_spec_relations_source ON spec_relations (source_object_id);
	CREATE INDEX IF NOT EXISTS idx_spec_relations_spec ON spec_relations (specification_id);

	CREATE TABLE IF NOT EXISTS spec_views (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		specification_id INTEGER NOT NULL,
		view_type_ref     TEXT,
		from_file         TEXT,
		file_seq          INTEGER,
		start_line        INTEGER,
		raw_ast           TEXT,
		resolved_ast      TEXT,
		resolved_data     TEXT,
		FOREIGN KEY (specification_id) REFERENCES specifications(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS spec_attribute_values (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		specification_id INTEGER NOT NULL,
		owner_object_id   INTEGER,
		owner_float_id    INTEGER,
		name              TEXT NOT NULL,
		raw_value         TEXT,
		string_value      TEXT,
		int_value         INTEGER,
		real_value        REAL,
		bool_value        INTEGER,
		date_value        TEXT,
		enum_value        TEXT,
		ast_value         TEXT,
		xhtml_value       TEXT,
		datatype          TEXT,
		FOREIGN KEY (specification_id) REFERENCES specifications(id) ON DELETE CASCADE,
		FOREIGN KEY (owner_object_id) REFERENCES spec_objects(id) ON DELETE CASCADE,
		FOREIGN KEY (owner_float_id) REFERENCES spec_floats(id) ON DELETE CASCADE,
		CHECK (
			(owner_object_id IS NOT NULL AND owner_float_id IS NULL) OR
			(owner_object_id IS NULL AND owner_float_id IS NOT NULL)
		)
	);
	CREATE INDEX IF NOT EXISTS idx_attr_values_owner_object ON spec_attribute_values (owner_object_id, name);
	CREATE INDEX IF NOT EXISTS idx_attr_values_owner_float ON spec_attribute_values (owner_float_id, name);

	-- ---------------------------------------------------------------
	-- Build cache domain — §3.3
	-- ---------------------------------------------------------------
	CREATE TABLE IF NOT EXISTS cache_source_files (
		path         TEXT PRIMARY KEY,
		content_sha  TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cache_build_graph (
		root_path    TEXT NOT NULL,
		include_path TEXT NOT NULL,
		include_sha  TEXT NOT NULL,
		PRIMARY KEY (root_path, include_path)
	);

	CREATE TABLE IF NOT EXISTS cache_output (
		specification_id INTEGER NOT NULL,
		output_path      TEXT NOT NULL,
		snapshot_hash    TEXT NOT NULL,
		generated_at     INTEGER NOT NULL,
		PRIMARY KEY (specification_id, output_path)
	);

	CREATE TABLE IF NOT EXISTS cache_external_render (
		cache_key     TEXT PRIMARY KEY,
		artifact_path TEXT NOT NULL,
		renderer_version TEXT NOT NULL,
		created_at    INTEGER NOT NULL
	);

	-- ---------------------------------------------------------------
	-- Diagnostics (not part of §3 data model proper, but persisted for
	-- cross-run reporting and the CLI's last-build summary)
	-- ---------------------------------------------------------------
	CREATE TABLE IF NOT EXISTS diagnostics (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		phase       TEXT NOT NULL,
		policy_key  TEXT,
		severity    TEXT NOT NULL,
		file        TEXT,
		line        INTEGER,
		message     TEXT NOT NULL,
		created_at  INTEGER NOT NULL
	);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("creating tables: %w", err)
	}

	return migrateSearchIndex(db, hasFTS5)
}

// migrateSearchIndex creates the full-text tables over objects, attributes,
// and floats (§3.4), using FTS5 when available and plain indexed tables
// otherwise.
func migrateSearchIndex(db *sql.DB, hasFTS5 bool) error {
	if hasFTS5 {
		_, err := db.Exec(`
			CREATE VIRTUAL TABLE IF NOT EXISTS fts_objects
				USING fts5(object_id UNINDEXED, title, body, raw_source);
			CREATE VIRTUAL TABLE IF NOT EXISTS fts_attributes
				USING fts5(attribute_value_id UNINDEXED, value);
			CREATE VIRTUAL TABLE IF NOT EXISTS fts_floats
				USING fts5(float_id UNINDEXED, caption, raw_source);
		`)
		if err != nil {
			return fmt.Errorf("creating FTS5 search tables: %w", err)
		}
		return nil
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS fts_objects (
			object_id INTEGER PRIMARY KEY,
			title TEXT, body TEXT, raw_source TEXT
		);
		CREATE TABLE IF NOT EXISTS fts_attributes (
			attribute_value_id INTEGER PRIMARY KEY,
			value TEXT
		);
		CREATE TABLE IF NOT EXISTS fts_floats (
			float_id INTEGER PRIMARY KEY,
			caption TEXT, raw_source TEXT
		);
	`)
	if err != nil {
		return fmt.Errorf("creating fallback search tables: %w", err)
	}
	return nil
}
