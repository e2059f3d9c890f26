package api

import (
	"context"
	"errors"
	"time"

	"github.com/quarryhq/quarry/pkg/audit"
	"github.com/quarryhq/quarry/pkg/auth"
	"github.com/quarryhq/quarry/pkg/schema"
)

// Storage errors shared by all backends.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

// Status is the entry publish lifecycle state.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusPublished Status = "PUBLISHED"
	StatusArchived  Status = "ARCHIVED"
)

// Valid reports whether s is a known lifecycle state.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPublished, StatusArchived:
		return true
	}
	return false
}

// ContentType is a named schema describing the shape of entries. The owner is
// fixed at creation; api_id is unique across all owners.
type ContentType struct {
	ID         string                   `json:"id"`
	APIID      string                   `json:"api_id"`
	Name       string                   `json:"name"`
	Schema     []schema.FieldDefinition `json:"schema"`
	OwnerEmail string                   `json:"owner_email"`
	CreatedBy  string                   `json:"created_by,omitempty"`
	UpdatedBy  string                   `json:"updated_by,omitempty"`
	CreatedAt  time.Time                `json:"created_at"`
	UpdatedAt  time.Time                `json:"updated_at"`
}

// Entry is a content record conforming to a content type's schema. Deleting
// the content type cascades to its entries.
type Entry struct {
	ID            string                 `json:"id"`
	ContentTypeID string                 `json:"content_type_id"`
	Title         string                 `json:"title,omitempty"`
	Fields        map[string]interface{} `json:"fields"`
	Status        Status                 `json:"status"`
	CreatedBy     string                 `json:"created_by,omitempty"`
	UpdatedBy     string                 `json:"updated_by,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// APIKey grants space-scoped read access via its delivery and preview tokens.
// A key with an empty SpaceID validates for any requested space.
type APIKey struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	CreatedBy     string    `json:"created_by,omitempty"`
	Token         string    `json:"token"`
	SpaceID       string    `json:"space_id,omitempty"`
	DeliveryToken string    `json:"delivery_token"`
	PreviewToken  string    `json:"preview_token"`
	CreatedAt     time.Time `json:"created_at"`
}

// EntryFilter narrows an entry listing. Zero values mean "no filter".
type EntryFilter struct {
	ContentTypeID string
	Status        Status
}

// UserFilter narrows and paginates a user listing.
type UserFilter struct {
	RoleID int
	Page   int
	Limit  int
}

// ContentStats is a point-in-time count of stored entities, exported as
// business gauges.
type ContentStats struct {
	ContentTypes     int64
	DraftEntries     int64
	PublishedEntries int64
	ArchivedEntries  int64
	Users            int64
	APIKeys          int64
}

// Storage defines the persistence operations required by the API server.
// Implementations return ErrNotFound and ErrConflict for the corresponding
// conditions; content-type delete cascades to entries atomically.
type Storage interface {
	// Content types
	CreateContentType(ctx context.Context, ct *ContentType) error
	GetContentType(ctx context.Context, id string) (*ContentType, error)
	// ResolveContentType looks a content type up by internal id or api_id.
	ResolveContentType(ctx context.Context, idOrAPIID string) (*ContentType, error)
	// ListContentTypes returns types newest-first, filtered to ownerEmail
	// unless it is empty.
	ListContentTypes(ctx context.Context, ownerEmail string) ([]*ContentType, error)
	UpdateContentType(ctx context.Context, ct *ContentType) error
	DeleteContentType(ctx context.Context, id string) error

	// Entries
	CreateEntry(ctx context.Context, entry *Entry) error
	GetEntry(ctx context.Context, id string) (*Entry, error)
	// ListEntries returns entries newest-first.
	ListEntries(ctx context.Context, filter EntryFilter) ([]*Entry, error)
	UpdateEntry(ctx context.Context, entry *Entry) error
	DeleteEntry(ctx context.Context, id string) error

	// Users
	CreateUser(ctx context.Context, user *auth.User) error
	GetUser(ctx context.Context, email string) (*auth.User, error)
	ListUsers(ctx context.Context, filter UserFilter) ([]*auth.User, int64, error)
	UpdateUser(ctx context.Context, user *auth.User) error

	// API keys
	CreateAPIKey(ctx context.Context, key *APIKey) error
	ListAPIKeys(ctx context.Context) ([]*APIKey, error)
	DeleteAPIKey(ctx context.Context, id int64) error
	// GetAPIKeyByAccessToken resolves a delivery or preview credential.
	GetAPIKeyByAccessToken(ctx context.Context, kind auth.AccessKind, token string) (*APIKey, error)

	// Audit
	audit.Sink
	// ListAuditEvents returns events newest-first, at most limit of them.
	ListAuditEvents(ctx context.Context, limit int) ([]*audit.Event, error)

	// ContentStats counts stored entities for the business gauges.
	ContentStats(ctx context.Context) (*ContentStats, error)

	HealthCheck(ctx context.Context) error
	Close() error
}
