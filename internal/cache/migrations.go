package cache

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS accounts (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	email              TEXT NOT NULL UNIQUE,
	provider_imap_host TEXT NOT NULL,
	provider_imap_port INTEGER NOT NULL,
	provider_smtp_host TEXT NOT NULL,
	provider_smtp_port INTEGER NOT NULL,
	is_active          INTEGER NOT NULL DEFAULT 1 CHECK(is_active IN (0, 1)),
	created_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS folders (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id    INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	name          TEXT NOT NULL,
	remote_id     TEXT NOT NULL,
	parent_id     INTEGER REFERENCES folders(id) ON DELETE SET NULL,
	type          TEXT NOT NULL DEFAULT 'custom'
	              CHECK(type IN ('inbox', 'sent', 'trash', 'drafts', 'custom')),
	message_count INTEGER NOT NULL DEFAULT 0,
	UNIQUE(account_id, remote_id)
);

CREATE TABLE IF NOT EXISTS emails (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id      INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	folder_id       INTEGER NOT NULL REFERENCES folders(id) ON DELETE CASCADE,
	uid             INTEGER NOT NULL,
	message_id      TEXT NOT NULL DEFAULT '',
	in_reply_to     TEXT NOT NULL DEFAULT '',
	references_list TEXT NOT NULL DEFAULT '',
	subject         TEXT NOT NULL DEFAULT '',
	sender          TEXT NOT NULL DEFAULT '',
	recipients      TEXT NOT NULL DEFAULT '[]',
	date_received   DATETIME NOT NULL,
	flags           TEXT NOT NULL DEFAULT '[]',
	content_path    TEXT NOT NULL DEFAULT '',
	body_text       TEXT NOT NULL DEFAULT '',
	body_html       TEXT NOT NULL DEFAULT '',
	is_read         INTEGER NOT NULL DEFAULT 0 CHECK(is_read IN (0, 1)),
	UNIQUE(account_id, folder_id, uid)
);

CREATE TABLE IF NOT EXISTS rules (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id     INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	name           TEXT NOT NULL,
	condition_json TEXT NOT NULL DEFAULT '{}',
	action_json    TEXT NOT NULL DEFAULT '{}',
	position       INTEGER NOT NULL DEFAULT 0,
	is_active      INTEGER NOT NULL DEFAULT 1 CHECK(is_active IN (0, 1))
);

CREATE INDEX IF NOT EXISTS idx_folders_account_id ON folders(account_id);
CREATE INDEX IF NOT EXISTS idx_emails_account_id ON emails(account_id);
CREATE INDEX IF NOT EXISTS idx_emails_folder_id ON emails(folder_id);
CREATE INDEX IF NOT EXISTS idx_emails_date_received ON emails(date_received);
CREATE INDEX IF NOT EXISTS idx_emails_message_id ON emails(message_id);
CREATE INDEX IF NOT EXISTS idx_rules_account_id ON rules(account_id);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS notifications (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	folder_id  INTEGER NOT NULL REFERENCES folders(id) ON DELETE CASCADE,
	uid        INTEGER NOT NULL,
	message    TEXT NOT NULL,
	read       INTEGER NOT NULL DEFAULT 0 CHECK(read IN (0, 1)),
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_notifications_read ON notifications(read);
CREATE INDEX IF NOT EXISTS idx_emails_is_read ON emails(folder_id, is_read);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
