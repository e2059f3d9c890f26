// Package sqlite implements the storage backend on SQLite via mattn/go-sqlite3.
// It is the zero-dependency default for local development and tests; the
// postgres backend is the production path.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/quarryhq/quarry/pkg/api"
	"github.com/quarryhq/quarry/pkg/audit"
	"github.com/quarryhq/quarry/pkg/auth"
	"github.com/quarryhq/quarry/pkg/storage"
)

// SQLiteStorage implements api.Storage on a single SQLite file.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens (or creates) the database file and bootstraps the
// schema. Use ":memory:" for an ephemeral database.
func NewSQLiteStorage(config storage.Config) (*SQLiteStorage, error) {
	// _fk=1 turns on foreign key enforcement so content type deletes
	// cascade to entries.
	dsn := fmt.Sprintf("file:%s?_fk=1&_loc=UTC", config.SQLitePath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// SQLite allows one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent handlers.
	db.SetMaxOpenConns(1)

	s := &SQLiteStorage{db: db}
	if err := s.migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// DB exposes the underlying handle for health checks.
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

func mapError(err error) error {
	if err == sql.ErrNoRows {
		return api.ErrNotFound
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return api.ErrConflict
		case sqlite3.ErrConstraintForeignKey:
			return api.ErrNotFound
		}
	}
	return err
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Content types

func (s *SQLiteStorage) CreateContentType(ctx context.Context, ct *api.ContentType) error {
	schemaJSON, err := json.Marshal(ct.Schema)
	if err != nil {
		return fmt.Errorf("failed to marshal schema: %w", err)
	}

	ct.CreatedAt = now()
	ct.UpdatedAt = ct.CreatedAt
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO content_types (id, api_id, name, schema, owner_email, created_by, updated_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ct.ID, ct.APIID, ct.Name, schemaJSON, ct.OwnerEmail,
		nullString(ct.CreatedBy), nullString(ct.UpdatedBy), ct.CreatedAt, ct.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create content type: %w", mapError(err))
	}
	return nil
}

func scanContentType(row interface{ Scan(...interface{}) error }) (*api.ContentType, error) {
	var ct api.ContentType
	var schemaJSON []byte
	var createdBy, updatedBy sql.NullString
	err := row.Scan(&ct.ID, &ct.APIID, &ct.Name, &schemaJSON, &ct.OwnerEmail,
		&createdBy, &updatedBy, &ct.CreatedAt, &ct.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(schemaJSON, &ct.Schema); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema: %w", err)
	}
	ct.CreatedBy = createdBy.String
	ct.UpdatedBy = updatedBy.String
	return &ct, nil
}

const contentTypeColumns = `id, api_id, name, schema, owner_email, created_by, updated_by, created_at, updated_at`

func (s *SQLiteStorage) GetContentType(ctx context.Context, id string) (*api.ContentType, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+contentTypeColumns+` FROM content_types WHERE id = ?`, id)
	ct, err := scanContentType(row)
	if err != nil {
		return nil, mapError(err)
	}
	return ct, nil
}

func (s *SQLiteStorage) ResolveContentType(ctx context.Context, idOrAPIID string) (*api.ContentType, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+contentTypeColumns+` FROM content_types WHERE id = ? OR api_id = ?`,
		idOrAPIID, idOrAPIID)
	ct, err := scanContentType(row)
	if err != nil {
		return nil, mapError(err)
	}
	return ct, nil
}

func (s *SQLiteStorage) ListContentTypes(ctx context.Context, ownerEmail string) ([]*api.ContentType, error) {
	query := `SELECT ` + contentTypeColumns + ` FROM content_types`
	args := []interface{}{}
	if ownerEmail != "" {
		query += ` WHERE owner_email = ?`
		args = append(args, ownerEmail)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list content types: %w", err)
	}
	defer rows.Close()

	types := make([]*api.ContentType, 0)
	for rows.Next() {
		ct, err := scanContentType(rows)
		if err != nil {
			return nil, err
		}
		types = append(types, ct)
	}
	return types, rows.Err()
}

func (s *SQLiteStorage) UpdateContentType(ctx context.Context, ct *api.ContentType) error {
	schemaJSON, err := json.Marshal(ct.Schema)
	if err != nil {
		return fmt.Errorf("failed to marshal schema: %w", err)
	}

	ct.UpdatedAt = now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE content_types SET name = ?, schema = ?, updated_by = ?, updated_at = ?
		WHERE id = ?
	`, ct.Name, schemaJSON, nullString(ct.UpdatedBy), ct.UpdatedAt, ct.ID)
	if err != nil {
		return fmt.Errorf("failed to update content type: %w", mapError(err))
	}
	return requireRow(res)
}

func (s *SQLiteStorage) DeleteContentType(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM content_types WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete content type: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return api.ErrNotFound
	}
	return nil
}

// Entries

const entryColumns = `id, content_type_id, title, status, fields, created_by, updated_by, created_at, updated_at`

func (s *SQLiteStorage) CreateEntry(ctx context.Context, entry *api.Entry) error {
	fieldsJSON, err := json.Marshal(entry.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}

	entry.CreatedAt = now()
	entry.UpdatedAt = entry.CreatedAt
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entries (id, content_type_id, title, status, fields, created_by, updated_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.ContentTypeID, nullString(entry.Title), entry.Status, fieldsJSON,
		nullString(entry.CreatedBy), nullString(entry.UpdatedBy), entry.CreatedAt, entry.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create entry: %w", mapError(err))
	}
	return nil
}

func scanEntry(row interface{ Scan(...interface{}) error }) (*api.Entry, error) {
	var entry api.Entry
	var fieldsJSON []byte
	var title, createdBy, updatedBy sql.NullString
	err := row.Scan(&entry.ID, &entry.ContentTypeID, &title, &entry.Status, &fieldsJSON,
		&createdBy, &updatedBy, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(fieldsJSON, &entry.Fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
	}
	entry.Title = title.String
	entry.CreatedBy = createdBy.String
	entry.UpdatedBy = updatedBy.String
	return &entry, nil
}

func (s *SQLiteStorage) GetEntry(ctx context.Context, id string) (*api.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if err != nil {
		return nil, mapError(err)
	}
	return entry, nil
}

func (s *SQLiteStorage) ListEntries(ctx context.Context, filter api.EntryFilter) ([]*api.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries`
	conds := ""
	args := []interface{}{}
	if filter.ContentTypeID != "" {
		conds = ` WHERE content_type_id = ?`
		args = append(args, filter.ContentTypeID)
	}
	if filter.Status != "" {
		if conds == "" {
			conds = ` WHERE status = ?`
		} else {
			conds += ` AND status = ?`
		}
		args = append(args, filter.Status)
	}
	query += conds + ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*api.Entry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *SQLiteStorage) UpdateEntry(ctx context.Context, entry *api.Entry) error {
	fieldsJSON, err := json.Marshal(entry.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}

	entry.UpdatedAt = now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE entries SET title = ?, status = ?, fields = ?, updated_by = ?, updated_at = ?
		WHERE id = ?
	`, nullString(entry.Title), entry.Status, fieldsJSON, nullString(entry.UpdatedBy),
		entry.UpdatedAt, entry.ID)
	if err != nil {
		return fmt.Errorf("failed to update entry: %w", mapError(err))
	}
	return requireRow(res)
}

func (s *SQLiteStorage) DeleteEntry(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	return requireRow(res)
}

// Users

const userColumns = `email, password_hash, full_name, phone, birthdate, gender, avatar_url, role_id, active, created_at, updated_at`

func (s *SQLiteStorage) CreateUser(ctx context.Context, user *auth.User) error {
	user.CreatedAt = now()
	user.UpdatedAt = user.CreatedAt
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (email, password_hash, full_name, phone, birthdate, gender, avatar_url, role_id, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, user.Email, user.PasswordHash, user.FullName, nullString(user.Phone),
		nullBirthdate(user.Birthdate), nullString(user.Gender), nullString(user.AvatarURL),
		user.RoleID, user.Active, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", mapError(err))
	}
	return nil
}

func nullBirthdate(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func scanUser(row interface{ Scan(...interface{}) error }) (*auth.User, error) {
	var user auth.User
	var phone, gender, avatarURL sql.NullString
	var birthdate sql.NullTime
	err := row.Scan(&user.Email, &user.PasswordHash, &user.FullName, &phone, &birthdate,
		&gender, &avatarURL, &user.RoleID, &user.Active, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, err
	}
	user.Phone = phone.String
	user.Gender = gender.String
	user.AvatarURL = avatarURL.String
	if birthdate.Valid {
		t := birthdate.Time
		user.Birthdate = &t
	}
	return &user, nil
}

func (s *SQLiteStorage) GetUser(ctx context.Context, email string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	user, err := scanUser(row)
	if err != nil {
		return nil, mapError(err)
	}
	return user, nil
}

func (s *SQLiteStorage) ListUsers(ctx context.Context, filter api.UserFilter) ([]*auth.User, int64, error) {
	conds := ""
	args := []interface{}{}
	if filter.RoleID != 0 {
		conds = ` WHERE role_id = ?`
		args = append(args, filter.RoleID)
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`+conds, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count users: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	args = append(args, limit, (page-1)*limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users`+conds+` ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := make([]*auth.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, user)
	}
	return users, total, rows.Err()
}

func (s *SQLiteStorage) UpdateUser(ctx context.Context, user *auth.User) error {
	user.UpdatedAt = now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = ?, full_name = ?, phone = ?, birthdate = ?,
			gender = ?, avatar_url = ?, role_id = ?, active = ?, updated_at = ?
		WHERE email = ?
	`, user.PasswordHash, user.FullName, nullString(user.Phone), nullBirthdate(user.Birthdate),
		nullString(user.Gender), nullString(user.AvatarURL), user.RoleID, user.Active,
		user.UpdatedAt, user.Email)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", mapError(err))
	}
	return requireRow(res)
}

// API keys

const apiKeyColumns = `id, name, description, created_by, token, space_id, delivery_token, preview_token, created_at`

func (s *SQLiteStorage) CreateAPIKey(ctx context.Context, key *api.APIKey) error {
	key.CreatedAt = now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (name, description, created_by, token, space_id, delivery_token, preview_token, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, key.Name, nullString(key.Description), nullString(key.CreatedBy), key.Token,
		nullString(key.SpaceID), key.DeliveryToken, key.PreviewToken, key.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create api key: %w", mapError(err))
	}
	key.ID, err = res.LastInsertId()
	return err
}

func scanAPIKey(row interface{ Scan(...interface{}) error }) (*api.APIKey, error) {
	var key api.APIKey
	var description, createdBy, spaceID sql.NullString
	err := row.Scan(&key.ID, &key.Name, &description, &createdBy, &key.Token,
		&spaceID, &key.DeliveryToken, &key.PreviewToken, &key.CreatedAt)
	if err != nil {
		return nil, err
	}
	key.Description = description.String
	key.CreatedBy = createdBy.String
	key.SpaceID = spaceID.String
	return &key, nil
}

func (s *SQLiteStorage) ListAPIKeys(ctx context.Context) ([]*api.APIKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	keys := make([]*api.APIKey, 0)
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *SQLiteStorage) DeleteAPIKey(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete api key: %w", err)
	}
	return requireRow(res)
}

func (s *SQLiteStorage) GetAPIKeyByAccessToken(ctx context.Context, kind auth.AccessKind, token string) (*api.APIKey, error) {
	column := "delivery_token"
	if kind == auth.AccessPreview {
		column = "preview_token"
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE `+column+` = ?`, token)
	key, err := scanAPIKey(row)
	if err != nil {
		return nil, mapError(err)
	}
	return key, nil
}

// Audit

func (s *SQLiteStorage) RecordAuditEvent(ctx context.Context, event *audit.Event) error {
	event.CreatedAt = now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (actor, action, resource, resource_id, request_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, event.Actor, event.Action, event.Resource, event.ResourceID,
		nullString(event.RequestID), event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record audit event: %w", err)
	}
	event.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStorage) ListAuditEvents(ctx context.Context, limit int) ([]*audit.Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor, action, resource, resource_id, COALESCE(request_id, ''), created_at
		FROM audit_events ORDER BY created_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	events := make([]*audit.Event, 0)
	for rows.Next() {
		var event audit.Event
		if err := rows.Scan(&event.ID, &event.Actor, &event.Action, &event.Resource,
			&event.ResourceID, &event.RequestID, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, &event)
	}
	return events, rows.Err()
}

// Stats

func (s *SQLiteStorage) ContentStats(ctx context.Context) (*api.ContentStats, error) {
	var stats api.ContentStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM content_types),
			(SELECT COUNT(*) FROM entries WHERE status = ?),
			(SELECT COUNT(*) FROM entries WHERE status = ?),
			(SELECT COUNT(*) FROM entries WHERE status = ?),
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM api_keys)
	`, api.StatusDraft, api.StatusPublished, api.StatusArchived).Scan(
		&stats.ContentTypes, &stats.DraftEntries, &stats.PublishedEntries,
		&stats.ArchivedEntries, &stats.Users, &stats.APIKeys,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to collect content stats: %w", err)
	}
	return &stats, nil
}

func (s *SQLiteStorage) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
