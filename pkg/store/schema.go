package store

import (
	"context"
	"strings"
)

// schema is intentionally portable across SQLite and Postgres: timestamps
// are stored as RFC3339Nano TEXT (never a native DATETIME/TIMESTAMP type,
// which differ between the two engines) and JSON blobs are stored as TEXT,
// mirroring the teacher's SQLiteReceiptStore.migrate pattern of a single
// CREATE TABLE IF NOT EXISTS string executed at Open time.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	system_role TEXT NOT NULL,
	email_verified INTEGER NOT NULL DEFAULT 0,
	credits_balance INTEGER NOT NULL DEFAULT 0,
	full_name TEXT NOT NULL DEFAULT '',
	last_verify_sent_at TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	owner_user_id TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	start_date TEXT,
	end_date TEXT,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	monthly_spend_cap_credits INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS project_metadata (
	project_id TEXT PRIMARY KEY,
	fields TEXT NOT NULL DEFAULT '{}',
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS collaborators (
	project_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	role TEXT NOT NULL,
	inviter_id TEXT NOT NULL DEFAULT '',
	invited_at TEXT NOT NULL,
	accepted_at TEXT,
	PRIMARY KEY (project_id, user_id)
);

CREATE TABLE IF NOT EXISTS invitations (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	email TEXT NOT NULL,
	role TEXT NOT NULL,
	token_hash TEXT NOT NULL,
	status TEXT NOT NULL,
	inviter_id TEXT NOT NULL,
	expires_at TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS access_requests (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	requester_id TEXT NOT NULL,
	requested_role TEXT NOT NULL,
	status TEXT NOT NULL,
	decided_by TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	decided_at TEXT
);

CREATE TABLE IF NOT EXISTS files (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	uploader_id TEXT NOT NULL,
	filename TEXT NOT NULL,
	type TEXT NOT NULL,
	size INTEGER NOT NULL,
	checksum TEXT NOT NULL,
	uploaded_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	file_id TEXT NOT NULL,
	status TEXT NOT NULL,
	progress INTEGER NOT NULL DEFAULT 0,
	error_code TEXT NOT NULL DEFAULT '',
	price_list_id TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	started_at TEXT,
	finished_at TEXT
);

CREATE TABLE IF NOT EXISTS job_events (
	id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	timestamp TEXT NOT NULL,
	stage TEXT NOT NULL,
	message TEXT NOT NULL DEFAULT '',
	details TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_job_events_job_seq ON job_events(job_id, seq);

CREATE TABLE IF NOT EXISTS job_event_seq (
	job_id TEXT PRIMARY KEY,
	next_seq INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS boq_items (
	id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL,
	code TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	unit TEXT NOT NULL DEFAULT '',
	qty REAL NOT NULL DEFAULT 0,
	mapped_price_item TEXT NOT NULL DEFAULT '',
	allowance REAL NOT NULL DEFAULT 0,
	unit_price REAL NOT NULL DEFAULT 0,
	total_price REAL NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_boq_items_job ON boq_items(job_id);

CREATE TABLE IF NOT EXISTS revisions (
	id TEXT PRIMARY KEY,
	boq_item_id TEXT NOT NULL,
	actor TEXT NOT NULL,
	changes TEXT NOT NULL DEFAULT '{}',
	content_hash TEXT NOT NULL,
	prev_hash TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_revisions_item ON revisions(boq_item_id);

CREATE TABLE IF NOT EXISTS artifacts (
	id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	path TEXT NOT NULL,
	size INTEGER NOT NULL,
	checksum TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS suppliers (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	name TEXT NOT NULL,
	is_default INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS supplier_price_items (
	id TEXT PRIMARY KEY,
	supplier_id TEXT NOT NULL,
	code TEXT NOT NULL,
	unit_price REAL NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_supplier_price_items_supplier ON supplier_price_items(supplier_id, code);

CREATE TABLE IF NOT EXISTS price_lists (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	version TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 0,
	is_admin INTEGER NOT NULL DEFAULT 0,
	validate_cel TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS price_items (
	id TEXT PRIMARY KEY,
	price_list_id TEXT NOT NULL,
	code TEXT NOT NULL,
	unit_price REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_price_items_list_code ON price_items(price_list_id, code);

CREATE TABLE IF NOT EXISTS notifications (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	payload TEXT NOT NULL DEFAULT '{}',
	read_at TEXT,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS activities (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	actor_id TEXT NOT NULL,
	verb TEXT NOT NULL,
	payload TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS comments (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	author_id TEXT NOT NULL,
	body TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS user_integrations (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	provider TEXT NOT NULL,
	external_account_id TEXT NOT NULL,
	token_ref TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS job_outbox (
	job_id TEXT PRIMARY KEY,
	scheduled_at TEXT NOT NULL,
	status TEXT NOT NULL
);
`

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range splitStatements(schema) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// splitStatements breaks the schema into individual statements. SQLite's
// driver (unlike lib/pq) refuses multi-statement ExecContext calls, so
// each CREATE TABLE/INDEX is executed separately.
func splitStatements(s string) []string {
	var out []string
	for _, stmt := range strings.Split(s, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt != "" {
			out = append(out, stmt+";")
		}
	}
	return out
}
