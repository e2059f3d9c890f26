package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/quarryhq/quarry/pkg/httputil"
	"github.com/quarryhq/quarry/pkg/policy"
	"github.com/quarryhq/quarry/pkg/validation"
)

type createEntryRequest struct {
	ID            string                 `json:"id"`
	ContentTypeID string                 `json:"content_type_id"`
	Title         string                 `json:"title"`
	Fields        map[string]interface{} `json:"fields"`
}

// createEntry handles POST /entries. Any authenticated actor may create an
// entry in any content type; fields are validated against the type's schema.
func (s *Server) createEntry(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.authorize(w, r, policy.ResourceEntry, policy.ActionCreate, "")
	if !ok {
		return
	}

	var req createEntryRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" || req.ContentTypeID == "" {
		httputil.WriteValidationError(w, "id and content_type_id are required")
		return
	}

	ct, err := s.storage.GetContentType(r.Context(), req.ContentTypeID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteNotFoundError(w, "content type not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	if req.Fields == nil {
		req.Fields = map[string]interface{}{}
	}
	if err := validation.Fields(ct.Schema, req.Fields); err != nil {
		writeValidation(w, err)
		return
	}

	entry := &Entry{
		ID:            req.ID,
		ContentTypeID: ct.ID,
		Title:         req.Title,
		Fields:        req.Fields,
		Status:        StatusDraft,
		CreatedBy:     identity.Email,
		UpdatedBy:     identity.Email,
	}

	if err := s.storage.CreateEntry(r.Context(), entry); err != nil {
		if errors.Is(err, ErrConflict) {
			httputil.WriteConflict(w, "entry id already exists")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	s.invalidateReadCache(r)
	s.recorder.Record(r.Context(), identity.Email, "create", "entry", entry.ID)
	httputil.WriteCreated(w, entry)
}

// listEntries handles GET /entries?content_type_id=. With a filter, an
// unknown type is a 404; without one every entry is visible.
func (s *Server) listEntries(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r, policy.ResourceEntry, policy.ActionRead, ""); !ok {
		return
	}

	filter := EntryFilter{}
	if ctID := r.URL.Query().Get("content_type_id"); ctID != "" {
		ct, err := s.storage.GetContentType(r.Context(), ctID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				httputil.WriteNotFoundError(w, "content type not found")
				return
			}
			httputil.WriteInternalError(w, err)
			return
		}
		filter.ContentTypeID = ct.ID
	}

	entries, err := s.storage.ListEntries(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, entries)
}

// getEntry handles GET /entries/{id}
func (s *Server) getEntry(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r, policy.ResourceEntry, policy.ActionRead, ""); !ok {
		return
	}

	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	entry, err := s.storage.GetEntry(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteNotFoundError(w, "entry not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, entry)
}

type updateEntryRequest struct {
	Title  *string                `json:"title"`
	Fields map[string]interface{} `json:"fields"`
	Status *Status                `json:"status"`
}

// updateEntry handles PUT /entries/{id}. Absent request fields keep their
// current values; a provided fields map replaces the stored one wholesale and
// is re-validated against the schema.
func (s *Server) updateEntry(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.authorize(w, r, policy.ResourceEntry, policy.ActionUpdate, "")
	if !ok {
		return
	}

	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	entry, err := s.storage.GetEntry(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteNotFoundError(w, "entry not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	var req updateEntryRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if req.Title != nil {
		entry.Title = *req.Title
	}
	if req.Status != nil {
		if !req.Status.Valid() {
			httputil.WriteValidationError(w, "invalid status")
			return
		}
		entry.Status = *req.Status
	}
	if req.Fields != nil {
		ct, err := s.storage.GetContentType(r.Context(), entry.ContentTypeID)
		if err != nil {
			httputil.WriteInternalError(w, err)
			return
		}
		if err := validation.Fields(ct.Schema, req.Fields); err != nil {
			writeValidation(w, err)
			return
		}
		entry.Fields = req.Fields
	}
	entry.UpdatedBy = identity.Email

	if err := s.storage.UpdateEntry(r.Context(), entry); err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteNotFoundError(w, "entry not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	s.invalidateReadCache(r)
	s.recorder.Record(r.Context(), identity.Email, "update", "entry", entry.ID)
	httputil.WriteSuccess(w, entry)
}

// publishEntry handles POST /entries/{id}/publish. Publishing is idempotent
// with no transition guard.
func (s *Server) publishEntry(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.authorize(w, r, policy.ResourceEntry, policy.ActionPublish, "")
	if !ok {
		return
	}

	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	entry, err := s.storage.GetEntry(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteNotFoundError(w, "entry not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	entry.Status = StatusPublished
	entry.UpdatedBy = identity.Email

	if err := s.storage.UpdateEntry(r.Context(), entry); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	s.invalidateReadCache(r)
	s.recorder.Record(r.Context(), identity.Email, "publish", "entry", entry.ID)
	httputil.WriteSuccess(w, entry)
}

// deleteEntry handles DELETE /entries/{id}. The actor must own the entry's
// content type.
func (s *Server) deleteEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	entry, err := s.storage.GetEntry(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteNotFoundError(w, "entry not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	ct, err := s.storage.GetContentType(r.Context(), entry.ContentTypeID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	identity, ok := s.authorize(w, r, policy.ResourceEntry, policy.ActionDelete, ct.OwnerEmail)
	if !ok {
		return
	}

	if err := s.storage.DeleteEntry(r.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteNotFoundError(w, "entry not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	s.invalidateReadCache(r)
	s.recorder.Record(r.Context(), identity.Email, "delete", "entry", id)
	httputil.WriteNoContent(w)
}
