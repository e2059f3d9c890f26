package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/quarryhq/quarry/pkg/auth"
	"github.com/quarryhq/quarry/pkg/httputil"
	"github.com/quarryhq/quarry/pkg/observability"
)

// accessKeyResolver adapts the storage layer to the token middleware.
type accessKeyResolver struct {
	storage Storage
	metrics *observability.Metrics
}

func newAccessKeyResolver(storage Storage, metrics *observability.Metrics) *accessKeyResolver {
	return &accessKeyResolver{storage: storage, metrics: metrics}
}

func (r *accessKeyResolver) ResolveAccessKey(ctx context.Context, kind auth.AccessKind, token string) (*auth.SpaceKey, error) {
	key, err := r.storage.GetAPIKeyByAccessToken(ctx, kind, token)
	if err != nil {
		if r.metrics != nil {
			r.metrics.TokenLookupsTotal.WithLabelValues(string(kind), "miss").Inc()
		}
		return nil, err
	}
	if r.metrics != nil {
		r.metrics.TokenLookupsTotal.WithLabelValues(string(kind), "hit").Inc()
	}
	return &auth.SpaceKey{
		KeyID:   key.ID,
		SpaceID: key.SpaceID,
		Kind:    kind,
	}, nil
}

// readContentTypes serves GET /{delivery,preview}/{space_id}/content_types.
// Both kinds see every content type.
func (s *Server) readContentTypes(kind auth.AccessKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cacheKey := fmt.Sprintf("%s:content_types", kind)
		if s.serveCached(w, r, cacheKey) {
			return
		}

		types, err := s.storage.ListContentTypes(r.Context(), "")
		if err != nil {
			httputil.WriteInternalError(w, err)
			return
		}
		s.writeAndCache(w, r, cacheKey, types)
	}
}

// readEntries serves GET /{delivery,preview}/{space_id}/entries. Delivery
// sees published entries only; preview sees every status. The
// content_type_id filter accepts an internal id or an api_id, and an unknown
// value yields an empty list rather than an error.
func (s *Server) readEntries(kind auth.AccessKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := EntryFilter{}
		if kind == auth.AccessDelivery {
			filter.Status = StatusPublished
		}

		if ctParam := r.URL.Query().Get("content_type_id"); ctParam != "" {
			ct, err := s.storage.ResolveContentType(r.Context(), ctParam)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					httputil.WriteSuccess(w, []*Entry{})
					return
				}
				httputil.WriteInternalError(w, err)
				return
			}
			filter.ContentTypeID = ct.ID
		}

		cacheKey := fmt.Sprintf("%s:entries:%s", kind, filter.ContentTypeID)
		if s.serveCached(w, r, cacheKey) {
			return
		}

		entries, err := s.storage.ListEntries(r.Context(), filter)
		if err != nil {
			httputil.WriteInternalError(w, err)
			return
		}
		s.writeAndCache(w, r, cacheKey, entries)
	}
}

// serveCached writes a cached response if one exists. The space scope has
// already been enforced by the token middleware, and cached payloads do not
// vary by space.
func (s *Server) serveCached(w http.ResponseWriter, r *http.Request, key string) bool {
	if s.cache == nil {
		return false
	}
	data := s.cache.Get(r.Context(), key)
	if data == nil {
		if s.metrics != nil {
			s.metrics.CacheMissesTotal.WithLabelValues("tiered").Inc()
		}
		return false
	}
	if s.metrics != nil {
		s.metrics.CacheHitsTotal.WithLabelValues("tiered").Inc()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
	return true
}

// writeAndCache renders the response and stores the payload for subsequent
// reads.
func (s *Server) writeAndCache(w http.ResponseWriter, r *http.Request, key string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if s.cache != nil {
		s.cache.Set(r.Context(), key, data)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
