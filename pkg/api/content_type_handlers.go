package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/quarryhq/quarry/pkg/httputil"
	"github.com/quarryhq/quarry/pkg/policy"
	"github.com/quarryhq/quarry/pkg/schema"
	"github.com/quarryhq/quarry/pkg/validation"
)

type createContentTypeRequest struct {
	ID     string                   `json:"id"`
	APIID  string                   `json:"api_id"`
	Name   string                   `json:"name"`
	Schema []schema.FieldDefinition `json:"schema"`
}

// createContentType handles POST /content_types
func (s *Server) createContentType(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.authorize(w, r, policy.ResourceContentType, policy.ActionCreate, "")
	if !ok {
		return
	}

	var req createContentTypeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	req.ID = strings.TrimSpace(req.ID)
	req.APIID = strings.TrimSpace(req.APIID)
	if req.ID == "" || req.APIID == "" || req.Name == "" {
		httputil.WriteValidationError(w, "id, api_id and name are required")
		return
	}
	if err := validation.Schema(req.Schema); err != nil {
		writeValidation(w, err)
		return
	}
	if req.Schema == nil {
		req.Schema = []schema.FieldDefinition{}
	}

	ct := &ContentType{
		ID:         req.ID,
		APIID:      req.APIID,
		Name:       req.Name,
		Schema:     req.Schema,
		OwnerEmail: identity.Email,
		CreatedBy:  identity.Email,
		UpdatedBy:  identity.Email,
	}

	if err := s.storage.CreateContentType(r.Context(), ct); err != nil {
		if errors.Is(err, ErrConflict) {
			httputil.WriteConflict(w, "content type id or api_id already exists")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	s.invalidateReadCache(r)
	s.recorder.Record(r.Context(), identity.Email, "create", "content_type", ct.ID)
	httputil.WriteCreated(w, ct)
}

// listContentTypes handles GET /content_types, scoped to the actor's types.
func (s *Server) listContentTypes(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.authorize(w, r, policy.ResourceContentType, policy.ActionRead, "")
	if !ok {
		return
	}

	types, err := s.storage.ListContentTypes(r.Context(), identity.Email)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, types)
}

// getContentType handles GET /content_types/{id}. Lookup by id is not
// ownership filtered.
func (s *Server) getContentType(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r, policy.ResourceContentType, policy.ActionRead, ""); !ok {
		return
	}

	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	ct, err := s.storage.GetContentType(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteNotFoundError(w, "content type not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, ct)
}

type updateContentTypeRequest struct {
	Name   *string                   `json:"name"`
	Schema *[]schema.FieldDefinition `json:"schema"`
}

// updateContentType handles PUT /content_types/{id}. Owner only; absent
// request fields keep their current values.
func (s *Server) updateContentType(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	ct, err := s.storage.GetContentType(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteNotFoundError(w, "content type not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	identity, ok := s.authorize(w, r, policy.ResourceContentType, policy.ActionUpdate, ct.OwnerEmail)
	if !ok {
		return
	}

	var req updateContentTypeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if req.Name != nil {
		if *req.Name == "" {
			httputil.WriteValidationError(w, "name must not be empty")
			return
		}
		ct.Name = *req.Name
	}
	if req.Schema != nil {
		if err := validation.Schema(*req.Schema); err != nil {
			writeValidation(w, err)
			return
		}
		ct.Schema = *req.Schema
	}
	ct.UpdatedBy = identity.Email

	if err := s.storage.UpdateContentType(r.Context(), ct); err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteNotFoundError(w, "content type not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	s.invalidateReadCache(r)
	s.recorder.Record(r.Context(), identity.Email, "update", "content_type", ct.ID)
	httputil.WriteSuccess(w, ct)
}

// deleteContentType handles DELETE /content_types/{id}. Owner only; entries
// cascade.
func (s *Server) deleteContentType(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	ct, err := s.storage.GetContentType(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteNotFoundError(w, "content type not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	identity, ok := s.authorize(w, r, policy.ResourceContentType, policy.ActionDelete, ct.OwnerEmail)
	if !ok {
		return
	}

	if err := s.storage.DeleteContentType(r.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteNotFoundError(w, "content type not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	s.invalidateReadCache(r)
	s.recorder.Record(r.Context(), identity.Email, "delete", "content_type", id)
	httputil.WriteNoContent(w)
}

// writeValidation renders a validation error, listing every violation when
// the error carries them.
func writeValidation(w http.ResponseWriter, err error) {
	var verr *validation.Error
	if errors.As(err, &verr) {
		httputil.WriteValidationFailure(w, verr.Violations)
		return
	}
	httputil.WriteValidationError(w, err.Error())
}
