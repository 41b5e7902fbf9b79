package store

import (
	"fmt"
	"strings"
)

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS identities (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			login TEXT UNIQUE NOT NULL,
			name TEXT NOT NULL,
			email TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			mobile TEXT NOT NULL DEFAULT '',
			signature TEXT NOT NULL DEFAULT '',
			lang TEXT NOT NULL DEFAULT 'en_US',
			tz TEXT NOT NULL DEFAULT 'UTC',
			active BOOLEAN NOT NULL DEFAULT 1,
			company_id INTEGER,
			company_ids TEXT NOT NULL DEFAULT '[]',
			password_hash TEXT NOT NULL DEFAULT '',
			login_date DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS groups (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL,
			full_name TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			comment TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE TABLE IF NOT EXISTS identity_groups (
			identity_id INTEGER NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
			group_id INTEGER NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
			PRIMARY KEY (identity_id, group_id)
		)`,

		`CREATE TABLE IF NOT EXISTS api_keys (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			identity_id INTEGER UNIQUE NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
			key_hash TEXT UNIQUE NOT NULL,
			key_prefix TEXT NOT NULL,
			label TEXT NOT NULL DEFAULT '',
			expires_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_used DATETIME
		)`,

		`CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			identity_id INTEGER NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
			token_hash TEXT UNIQUE NOT NULL,
			created_at DATETIME NOT NULL,
			expires_at DATETIME NOT NULL,
			last_activity DATETIME NOT NULL,
			active BOOLEAN NOT NULL DEFAULT 1,
			ip_address TEXT NOT NULL DEFAULT '',
			user_agent TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE TABLE IF NOT EXISTS access_rules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			group_id INTEGER NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
			collection TEXT NOT NULL DEFAULT '*',
			op_mask INTEGER NOT NULL DEFAULT 1,
			filters_json TEXT NOT NULL DEFAULT '[]',
			filter_op TEXT NOT NULL DEFAULT 'AND'
		)`,

		`CREATE TABLE IF NOT EXISTS sources (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL,
			driver TEXT NOT NULL,
			dsn TEXT NOT NULL,
			prefix TEXT NOT NULL DEFAULT '',
			read_only BOOLEAN NOT NULL DEFAULT 0,
			include_json TEXT NOT NULL DEFAULT '[]',
			is_active BOOLEAN NOT NULL DEFAULT 1,
			max_open_conns INTEGER NOT NULL DEFAULT 25,
			max_idle_conns INTEGER NOT NULL DEFAULT 5,
			conn_max_lifetime_ms INTEGER NOT NULL DEFAULT 300000,
			private_key_path TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_identity_id ON sessions(identity_id)`,
		`CREATE INDEX IF NOT EXISTS idx_access_rules_group_id ON access_rules(group_id)`,

		`INSERT OR IGNORE INTO groups (name, full_name, category, comment) VALUES
			('admin', 'Settings', 'Administration', 'Full access to every collection and setting.'),
			('user_manager', 'Access Rights', 'Administration', 'May create and edit identities and their groups.'),
			('user', 'Internal User', 'User types', 'Basic access; may view the identity directory.')`,

		`INSERT INTO access_rules (group_id, collection, op_mask)
			SELECT g.id, c.collection, c.op_mask FROM groups g
			JOIN (SELECT 'user' AS grp, 'identities' AS collection, 1 AS op_mask
				UNION ALL SELECT 'user', 'groups', 1
				UNION ALL SELECT 'user_manager', 'identities', 7
				UNION ALL SELECT 'user_manager', 'groups', 1) c ON c.grp = g.name
			WHERE NOT EXISTS (SELECT 1 FROM access_rules)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			// ALTER TABLE ADD COLUMN fails if the column already exists.
			if strings.Contains(err.Error(), "duplicate column") {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
