package api

import (
	"net/http"

	"github.com/quarryhq/quarry/pkg/httputil"
	"github.com/quarryhq/quarry/pkg/policy"
)

// listAuditEvents handles GET /audit?limit= (admin only), newest first.
func (s *Server) listAuditEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r, policy.ResourceAuditLog, policy.ActionRead, ""); !ok {
		return
	}

	limit := httputil.QueryInt(r, "limit", 100)
	events, err := s.storage.ListAuditEvents(r.Context(), limit)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, events)
}
