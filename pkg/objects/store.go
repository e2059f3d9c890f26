// Package objects stores uploaded files (user avatars) behind a small
// interface with S3 and local filesystem implementations. Files are always
// served back through the API, so both backends share the /uploads URL shape.
package objects

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when the requested object does not exist.
var ErrNotFound = errors.New("object not found")

// Store persists uploaded files.
type Store interface {
	// Put writes the object under key, replacing any existing content.
	Put(ctx context.Context, key string, content io.Reader, contentType string) error
	// Get returns the object content and its content type.
	Get(ctx context.Context, key string) (io.ReadCloser, string, error)
	Delete(ctx context.Context, key string) error
	HealthCheck(ctx context.Context) error
}

// PublicURL is the API path an uploaded object is served from.
func PublicURL(key string) string {
	return "/uploads/" + key
}
