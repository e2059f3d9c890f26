package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/quarryhq/quarry/pkg/auth"
	"github.com/quarryhq/quarry/pkg/httputil"
	"github.com/quarryhq/quarry/pkg/policy"
)

// listAPIKeys handles GET /api-keys
func (s *Server) listAPIKeys(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r, policy.ResourceAPIKey, policy.ActionRead, ""); !ok {
		return
	}

	keys, err := s.storage.ListAPIKeys(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, keys)
}

type createAPIKeyRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// createAPIKey handles POST /api-keys (admin only). The server generates the
// management token, the space id, and both access tokens.
func (s *Server) createAPIKey(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.authorize(w, r, policy.ResourceAPIKey, policy.ActionCreate, "")
	if !ok {
		return
	}

	var req createAPIKeyRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		httputil.WriteValidationError(w, "name is required")
		return
	}

	key, err := s.generateAPIKey(req.Name, req.Description, identity.Email)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	// Space ids are random 16-char strings; retry a couple of times on the
	// unlikely collision.
	var createErr error
	for attempt := 0; attempt < 3; attempt++ {
		createErr = s.storage.CreateAPIKey(r.Context(), key)
		if !errors.Is(createErr, ErrConflict) {
			break
		}
		if key.SpaceID, err = s.tokens.SpaceID(); err != nil {
			httputil.WriteInternalError(w, err)
			return
		}
	}
	if createErr != nil {
		if errors.Is(createErr, ErrConflict) {
			httputil.WriteConflict(w, "api key already exists")
			return
		}
		httputil.WriteInternalError(w, createErr)
		return
	}

	s.recorder.Record(r.Context(), identity.Email, "create", "api_key", key.SpaceID)
	httputil.WriteCreated(w, key)
}

func (s *Server) generateAPIKey(name, description, createdBy string) (*APIKey, error) {
	token, err := s.tokens.ManagementToken()
	if err != nil {
		return nil, err
	}
	spaceID, err := s.tokens.SpaceID()
	if err != nil {
		return nil, err
	}
	deliveryToken, err := s.tokens.AccessToken(auth.AccessDelivery)
	if err != nil {
		return nil, err
	}
	previewToken, err := s.tokens.AccessToken(auth.AccessPreview)
	if err != nil {
		return nil, err
	}
	return &APIKey{
		Name:          strings.TrimSpace(name),
		Description:   description,
		CreatedBy:     createdBy,
		Token:         token,
		SpaceID:       spaceID,
		DeliveryToken: deliveryToken,
		PreviewToken:  previewToken,
	}, nil
}

// deleteAPIKey handles DELETE /api-keys/{id} (admin only).
func (s *Server) deleteAPIKey(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.authorize(w, r, policy.ResourceAPIKey, policy.ActionDelete, "")
	if !ok {
		return
	}

	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := s.storage.DeleteAPIKey(r.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteSuccess(w, map[string]bool{"ok": false})
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	s.recorder.Record(r.Context(), identity.Email, "delete", "api_key", httputil.GetPathVars(r)["id"])
	httputil.WriteSuccess(w, map[string]bool{"ok": true})
}
