// Package audit records successful write operations for the admin audit
// trail. Recording is best effort; a failed write is logged and never fails
// the request that triggered it.
package audit

import (
	"context"
	"time"

	"github.com/quarryhq/quarry/pkg/contextkeys"
	"github.com/quarryhq/quarry/pkg/observability"
)

// Event is one recorded write operation.
type Event struct {
	ID         int64     `json:"id"`
	Actor      string    `json:"actor"`
	Action     string    `json:"action"`
	Resource   string    `json:"resource"`
	ResourceID string    `json:"resource_id"`
	RequestID  string    `json:"request_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Sink persists audit events. Implemented by the storage backends.
type Sink interface {
	RecordAuditEvent(ctx context.Context, event *Event) error
}

// Recorder writes events to a sink, annotating them with the request ID from
// context.
type Recorder struct {
	sink   Sink
	logger *observability.Logger
}

// NewRecorder creates a recorder over the given sink.
func NewRecorder(sink Sink, logger *observability.Logger) *Recorder {
	return &Recorder{sink: sink, logger: logger}
}

// Record persists one event. Failures are logged, not returned.
func (r *Recorder) Record(ctx context.Context, actor, action, resource, resourceID string) {
	event := &Event{
		Actor:      actor,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		RequestID:  contextkeys.RequestID(ctx),
	}
	if err := r.sink.RecordAuditEvent(ctx, event); err != nil {
		r.logger.WithError(err).
			WithField("action", action).
			WithField("resource", resource).
			Warn("Failed to record audit event")
	}
}
