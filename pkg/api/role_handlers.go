package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/quarryhq/quarry/pkg/auth"
	"github.com/quarryhq/quarry/pkg/httputil"
	"github.com/quarryhq/quarry/pkg/policy"
)

type roleInfo struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// listRoles handles GET /roles, returning the fixed role set.
func (s *Server) listRoles(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, []roleInfo{
		{ID: auth.RoleAdmin, Name: auth.RoleName(auth.RoleAdmin)},
		{ID: auth.RoleEmployee, Name: auth.RoleName(auth.RoleEmployee)},
	})
}

type assignRoleRequest struct {
	UserID string `json:"user_id"` // the user's email
	RoleID int    `json:"role_id"`
}

// assignRole handles PUT /roles/assign (admin only).
func (s *Server) assignRole(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.authorize(w, r, policy.ResourceUser, policy.ActionAssignRole, "")
	if !ok {
		return
	}

	var req assignRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if req.RoleID != auth.RoleAdmin && req.RoleID != auth.RoleEmployee {
		httputil.WriteValidationError(w, "unknown role id")
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.UserID))
	user, err := s.storage.GetUser(r.Context(), email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteNotFoundError(w, "user not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	user.RoleID = req.RoleID
	if err := s.storage.UpdateUser(r.Context(), user); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	s.recorder.Record(r.Context(), identity.Email, "assign_role", "user", user.Email)
	httputil.WriteSuccess(w, userResponse(user))
}
