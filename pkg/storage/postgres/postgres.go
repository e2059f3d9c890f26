// Package postgres implements the storage backend on PostgreSQL via lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/quarryhq/quarry/pkg/api"
	"github.com/quarryhq/quarry/pkg/audit"
	"github.com/quarryhq/quarry/pkg/auth"
	"github.com/quarryhq/quarry/pkg/storage"
)

// Postgres error codes that map onto the API error taxonomy.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PostgresStorage implements api.Storage on PostgreSQL.
type PostgresStorage struct {
	db     *sql.DB
	config storage.Config
}

// NewPostgresStorage connects, configures the pool, and bootstraps the
// schema.
func NewPostgresStorage(config storage.Config) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", config.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(config.PostgresMaxConns)
	db.SetMaxIdleConns(config.PostgresMinConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), config.PostgresTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s := &PostgresStorage{db: db, config: config}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// NewWithDB wraps an existing connection without running migrations. Used by
// tests.
func NewWithDB(db *sql.DB) *PostgresStorage {
	return &PostgresStorage{db: db}
}

// DB exposes the underlying handle for health checks.
func (s *PostgresStorage) DB() *sql.DB {
	return s.db
}

func mapError(err error) error {
	if err == sql.ErrNoRows {
		return api.ErrNotFound
	}
	if pqErr, ok := err.(*pq.Error); ok {
		switch pqErr.Code {
		case pgUniqueViolation:
			return api.ErrConflict
		case pgForeignKeyViolation:
			return api.ErrNotFound
		}
	}
	return err
}

// Content types

func (s *PostgresStorage) CreateContentType(ctx context.Context, ct *api.ContentType) error {
	schemaJSON, err := json.Marshal(ct.Schema)
	if err != nil {
		return fmt.Errorf("failed to marshal schema: %w", err)
	}

	query := `
		INSERT INTO content_types (id, api_id, name, schema, owner_email, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`
	err = s.db.QueryRowContext(ctx, query,
		ct.ID, ct.APIID, ct.Name, schemaJSON, ct.OwnerEmail, ct.CreatedBy, ct.UpdatedBy,
	).Scan(&ct.CreatedAt, &ct.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create content type: %w", mapError(err))
	}
	return nil
}

func (s *PostgresStorage) scanContentType(row interface{ Scan(...interface{}) error }) (*api.ContentType, error) {
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

func (s *PostgresStorage) GetContentType(ctx context.Context, id string) (*api.ContentType, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+contentTypeColumns+` FROM content_types WHERE id = $1`, id)
	ct, err := s.scanContentType(row)
	if err != nil {
		return nil, mapError(err)
	}
	return ct, nil
}

func (s *PostgresStorage) ResolveContentType(ctx context.Context, idOrAPIID string) (*api.ContentType, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+contentTypeColumns+` FROM content_types WHERE id = $1 OR api_id = $1`, idOrAPIID)
	ct, err := s.scanContentType(row)
	if err != nil {
		return nil, mapError(err)
	}
	return ct, nil
}

func (s *PostgresStorage) ListContentTypes(ctx context.Context, ownerEmail string) ([]*api.ContentType, error) {
	query := `SELECT ` + contentTypeColumns + ` FROM content_types`
	args := []interface{}{}
	if ownerEmail != "" {
		query += ` WHERE owner_email = $1`
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
		ct, err := s.scanContentType(rows)
		if err != nil {
			return nil, err
		}
		types = append(types, ct)
	}
	return types, rows.Err()
}

func (s *PostgresStorage) UpdateContentType(ctx context.Context, ct *api.ContentType) error {
	schemaJSON, err := json.Marshal(ct.Schema)
	if err != nil {
		return fmt.Errorf("failed to marshal schema: %w", err)
	}

	query := `
		UPDATE content_types
		SET name = $2, schema = $3, updated_by = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err = s.db.QueryRowContext(ctx, query, ct.ID, ct.Name, schemaJSON, ct.UpdatedBy).Scan(&ct.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update content type: %w", mapError(err))
	}
	return nil
}

func (s *PostgresStorage) DeleteContentType(ctx context.Context, id string) error {
	// Entries go with it via ON DELETE CASCADE.
	res, err := s.db.ExecContext(ctx, `DELETE FROM content_types WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete content type: %w", err)
	}
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

func (s *PostgresStorage) CreateEntry(ctx context.Context, entry *api.Entry) error {
	fieldsJSON, err := json.Marshal(entry.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}

	query := `
		INSERT INTO entries (id, content_type_id, title, status, fields, created_by, updated_by)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`
	err = s.db.QueryRowContext(ctx, query,
		entry.ID, entry.ContentTypeID, entry.Title, entry.Status, fieldsJSON,
		entry.CreatedBy, entry.UpdatedBy,
	).Scan(&entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create entry: %w", mapError(err))
	}
	return nil
}

func (s *PostgresStorage) scanEntry(row interface{ Scan(...interface{}) error }) (*api.Entry, error) {
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

func (s *PostgresStorage) GetEntry(ctx context.Context, id string) (*api.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE id = $1`, id)
	entry, err := s.scanEntry(row)
	if err != nil {
		return nil, mapError(err)
	}
	return entry, nil
}

func (s *PostgresStorage) ListEntries(ctx context.Context, filter api.EntryFilter) ([]*api.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries`
	args := []interface{}{}
	where := ""
	if filter.ContentTypeID != "" {
		args = append(args, filter.ContentTypeID)
		where = fmt.Sprintf(" WHERE content_type_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		if where == "" {
			where = fmt.Sprintf(" WHERE status = $%d", len(args))
		} else {
			where += fmt.Sprintf(" AND status = $%d", len(args))
		}
	}
	query += where + ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*api.Entry, 0)
	for rows.Next() {
		entry, err := s.scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *PostgresStorage) UpdateEntry(ctx context.Context, entry *api.Entry) error {
	fieldsJSON, err := json.Marshal(entry.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}

	query := `
		UPDATE entries
		SET title = NULLIF($2, ''), status = $3, fields = $4, updated_by = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err = s.db.QueryRowContext(ctx, query,
		entry.ID, entry.Title, entry.Status, fieldsJSON, entry.UpdatedBy,
	).Scan(&entry.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update entry: %w", mapError(err))
	}
	return nil
}

func (s *PostgresStorage) DeleteEntry(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return api.ErrNotFound
	}
	return nil
}

// Users

const userColumns = `email, password_hash, full_name, phone, birthdate, gender, avatar_url, role_id, active, created_at, updated_at`

func (s *PostgresStorage) CreateUser(ctx context.Context, user *auth.User) error {
	query := `
		INSERT INTO users (email, password_hash, full_name, phone, birthdate, gender, avatar_url, role_id, active)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9)
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		user.Email, user.PasswordHash, user.FullName, user.Phone,
		nullTime(user.Birthdate), user.Gender, user.AvatarURL, user.RoleID, user.Active,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", mapError(err))
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (s *PostgresStorage) scanUser(row interface{ Scan(...interface{}) error }) (*auth.User, error) {
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

func (s *PostgresStorage) GetUser(ctx context.Context, email string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	user, err := s.scanUser(row)
	if err != nil {
		return nil, mapError(err)
	}
	return user, nil
}

func (s *PostgresStorage) ListUsers(ctx context.Context, filter api.UserFilter) ([]*auth.User, int64, error) {
	where := ""
	args := []interface{}{}
	if filter.RoleID != 0 {
		args = append(args, filter.RoleID)
		where = ` WHERE role_id = $1`
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`+where, args...).Scan(&total); err != nil {
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
	query := fmt.Sprintf(`SELECT `+userColumns+` FROM users`+where+
		` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := make([]*auth.User, 0)
	for rows.Next() {
		user, err := s.scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, user)
	}
	return users, total, rows.Err()
}

func (s *PostgresStorage) UpdateUser(ctx context.Context, user *auth.User) error {
	query := `
		UPDATE users
		SET password_hash = $2, full_name = $3, phone = NULLIF($4, ''), birthdate = $5,
		    gender = NULLIF($6, ''), avatar_url = NULLIF($7, ''), role_id = $8, active = $9,
		    updated_at = NOW()
		WHERE email = $1
		RETURNING updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		user.Email, user.PasswordHash, user.FullName, user.Phone, nullTime(user.Birthdate),
		user.Gender, user.AvatarURL, user.RoleID, user.Active,
	).Scan(&user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", mapError(err))
	}
	return nil
}

// API keys

const apiKeyColumns = `id, name, description, created_by, token, space_id, delivery_token, preview_token, created_at`

func (s *PostgresStorage) CreateAPIKey(ctx context.Context, key *api.APIKey) error {
	query := `
		INSERT INTO api_keys (name, description, created_by, token, space_id, delivery_token, preview_token)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, NULLIF($5, ''), $6, $7)
		RETURNING id, created_at
	`
	err := s.db.QueryRowContext(ctx, query,
		key.Name, key.Description, key.CreatedBy, key.Token, key.SpaceID,
		key.DeliveryToken, key.PreviewToken,
	).Scan(&key.ID, &key.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create api key: %w", mapError(err))
	}
	return nil
}

func (s *PostgresStorage) scanAPIKey(row interface{ Scan(...interface{}) error }) (*api.APIKey, error) {
	var key api.APIKey
	var description, createdBy, spaceID, deliveryToken, previewToken sql.NullString
	err := row.Scan(&key.ID, &key.Name, &description, &createdBy, &key.Token,
		&spaceID, &deliveryToken, &previewToken, &key.CreatedAt)
	if err != nil {
		return nil, err
	}
	key.Description = description.String
	key.CreatedBy = createdBy.String
	key.SpaceID = spaceID.String
	key.DeliveryToken = deliveryToken.String
	key.PreviewToken = previewToken.String
	return &key, nil
}

func (s *PostgresStorage) ListAPIKeys(ctx context.Context) ([]*api.APIKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	keys := make([]*api.APIKey, 0)
	for rows.Next() {
		key, err := s.scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *PostgresStorage) DeleteAPIKey(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete api key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return api.ErrNotFound
	}
	return nil
}

func (s *PostgresStorage) GetAPIKeyByAccessToken(ctx context.Context, kind auth.AccessKind, token string) (*api.APIKey, error) {
	column := "delivery_token"
	if kind == auth.AccessPreview {
		column = "preview_token"
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE `+column+` = $1`, token)
	key, err := s.scanAPIKey(row)
	if err != nil {
		return nil, mapError(err)
	}
	return key, nil
}

// Audit

func (s *PostgresStorage) RecordAuditEvent(ctx context.Context, event *audit.Event) error {
	query := `
		INSERT INTO audit_events (actor, action, resource, resource_id, request_id)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
		RETURNING id, created_at
	`
	err := s.db.QueryRowContext(ctx, query,
		event.Actor, event.Action, event.Resource, event.ResourceID, event.RequestID,
	).Scan(&event.ID, &event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record audit event: %w", err)
	}
	return nil
}

func (s *PostgresStorage) ListAuditEvents(ctx context.Context, limit int) ([]*audit.Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor, action, resource, resource_id, COALESCE(request_id, ''), created_at
		FROM audit_events ORDER BY created_at DESC LIMIT $1
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

func (s *PostgresStorage) ContentStats(ctx context.Context) (*api.ContentStats, error) {
	var stats api.ContentStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM content_types),
			(SELECT COUNT(*) FROM entries WHERE status = $1),
			(SELECT COUNT(*) FROM entries WHERE status = $2),
			(SELECT COUNT(*) FROM entries WHERE status = $3),
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

func (s *PostgresStorage) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
