package sqlite

// schema is the full set of DDL statements applied (split on ";") inside a
// single transaction by initSchema. Every statement must be idempotent
// (IF NOT EXISTS) so opening an existing database is a no-op.
const schema = `
CREATE TABLE IF NOT EXISTS config (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS metadata (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS issues (
	id                   TEXT PRIMARY KEY,
	content_hash         TEXT,
	status               TEXT NOT NULL DEFAULT 'open',
	issue_type           TEXT NOT NULL DEFAULT 'task',
	priority             INTEGER NOT NULL DEFAULT 2,

	title                TEXT NOT NULL,
	description          TEXT NOT NULL DEFAULT '',
	design               TEXT NOT NULL DEFAULT '',
	acceptance_criteria  TEXT NOT NULL DEFAULT '',
	notes                TEXT NOT NULL DEFAULT '',

	assignee             TEXT,
	owner                TEXT,
	created_by           TEXT,
	closed_by_session    TEXT,
	sender               TEXT,

	created_at           DATETIME NOT NULL,
	updated_at           DATETIME NOT NULL,
	closed_at            DATETIME,
	due_at               DATETIME,
	defer_until          DATETIME,
	deleted_at           TEXT,
	compacted_at         DATETIME,

	deleted_by           TEXT,
	delete_reason        TEXT,
	original_type        TEXT,
	close_reason         TEXT,

	compaction_level     INTEGER NOT NULL DEFAULT 0,
	compacted_at_commit  TEXT,
	original_size        INTEGER NOT NULL DEFAULT 0,

	ephemeral            INTEGER NOT NULL DEFAULT 0,
	pinned               INTEGER NOT NULL DEFAULT 0,
	is_template          INTEGER NOT NULL DEFAULT 0,

	external_ref         TEXT,
	source_system        TEXT,
	source_repo          TEXT NOT NULL DEFAULT '.',

	estimated_minutes    INTEGER,

	rig                  TEXT,
	metadata             TEXT,

	CHECK ((status = 'closed' AND closed_at IS NOT NULL) OR (status != 'closed' AND closed_at IS NULL))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_issues_external_ref ON issues(external_ref) WHERE external_ref IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_issues_content_hash ON issues(content_hash);
CREATE INDEX IF NOT EXISTS idx_issues_ready ON issues(status, priority, created_at)
	WHERE ephemeral = 0 AND pinned = 0 AND is_template = 0 AND deleted_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_issues_updated ON issues(updated_at);

CREATE TABLE IF NOT EXISTS dependencies (
	issue_id      TEXT NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
	depends_on_id TEXT NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
	type          TEXT NOT NULL,
	created_at    DATETIME NOT NULL,
	created_by    TEXT,
	metadata      TEXT,
	thread_id     TEXT,
	PRIMARY KEY (issue_id, depends_on_id, type)
);

CREATE INDEX IF NOT EXISTS idx_dependencies_blocking ON dependencies(depends_on_id, issue_id)
	WHERE type IN ('blocks', 'parent-child', 'conditional-blocks', 'waits-for');
CREATE INDEX IF NOT EXISTS idx_dependencies_reverse ON dependencies(issue_id, depends_on_id);

CREATE TABLE IF NOT EXISTS labels (
	issue_id TEXT NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
	label    TEXT NOT NULL,
	PRIMARY KEY (issue_id, label)
);

CREATE TABLE IF NOT EXISTS comments (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	issue_id   TEXT NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
	author     TEXT NOT NULL,
	text       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_comments_issue ON comments(issue_id);

CREATE TABLE IF NOT EXISTS events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	issue_id   TEXT NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
	event_type TEXT NOT NULL,
	actor      TEXT NOT NULL,
	old_value  TEXT,
	new_value  TEXT,
	comment    TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_events_issue ON events(issue_id);

CREATE TABLE IF NOT EXISTS dirty_issues (
	issue_id     TEXT PRIMARY KEY REFERENCES issues(id) ON DELETE CASCADE,
	marked_at    DATETIME NOT NULL,
	content_hash TEXT
);

CREATE TABLE IF NOT EXISTS blocked_issues_cache (
	issue_id TEXT PRIMARY KEY REFERENCES issues(id) ON DELETE CASCADE,
	blockers TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS export_hashes (
	issue_id     TEXT PRIMARY KEY REFERENCES issues(id) ON DELETE CASCADE,
	content_hash TEXT NOT NULL
);
`
