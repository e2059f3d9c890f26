package sqlite

import (
	"context"
	"fmt"
)

// migrations are idempotent and run in order at startup.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		email TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL,
		full_name TEXT NOT NULL DEFAULT '',
		phone TEXT,
		birthdate TIMESTAMP,
		gender TEXT,
		avatar_url TEXT,
		role_id INTEGER NOT NULL DEFAULT 2,
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS content_types (
		id TEXT PRIMARY KEY,
		api_id TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		schema TEXT NOT NULL DEFAULT '[]',
		owner_email TEXT NOT NULL,
		created_by TEXT,
		updated_by TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_content_types_owner ON content_types(owner_email)`,

	`CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		content_type_id TEXT NOT NULL REFERENCES content_types(id) ON DELETE CASCADE,
		title TEXT,
		status TEXT NOT NULL DEFAULT 'DRAFT',
		fields TEXT NOT NULL DEFAULT '{}',
		created_by TEXT,
		updated_by TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_entries_content_type ON entries(content_type_id)`,
	`CREATE INDEX IF NOT EXISTS idx_entries_status ON entries(status)`,

	`CREATE TABLE IF NOT EXISTS api_keys (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		description TEXT,
		created_by TEXT,
		token TEXT NOT NULL UNIQUE,
		space_id TEXT UNIQUE,
		delivery_token TEXT NOT NULL UNIQUE,
		preview_token TEXT NOT NULL UNIQUE,
		created_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS audit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		actor TEXT NOT NULL,
		action TEXT NOT NULL,
		resource TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		request_id TEXT,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_created ON audit_events(created_at)`,
}

func (s *SQLiteStorage) migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
