package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/quarryhq/quarry/pkg/audit"
	"github.com/quarryhq/quarry/pkg/auth"
	"github.com/quarryhq/quarry/pkg/httputil"
	"github.com/quarryhq/quarry/pkg/middleware"
	"github.com/quarryhq/quarry/pkg/objects"
	"github.com/quarryhq/quarry/pkg/observability"
	"github.com/quarryhq/quarry/pkg/policy"
	"github.com/quarryhq/quarry/pkg/storage"
)

// Server is the management and delivery API surface.
type Server struct {
	storage  Storage
	router   *mux.Router
	logger   *observability.Logger
	metrics  *observability.Metrics
	signer   *auth.SessionSigner
	tokens   *auth.TokenGenerator
	recorder *audit.Recorder
	cache    *storage.TieredCache
	objects  objects.Store

	maxUploadBytes int64
	corsOrigins    []string
}

// ServerOptions carries the dependencies the server needs. Cache and Objects
// may be nil; the delivery surface then skips caching and avatar uploads are
// rejected.
type ServerOptions struct {
	Storage        Storage
	Logger         *observability.Logger
	Metrics        *observability.Metrics
	Signer         *auth.SessionSigner
	Tokens         *auth.TokenGenerator
	Cache          *storage.TieredCache
	Objects        objects.Store
	MaxUploadBytes int64
	CORSOrigins    []string
}

// NewServer creates the API server and wires all routes.
func NewServer(opts ServerOptions) *Server {
	s := &Server{
		storage:        opts.Storage,
		router:         mux.NewRouter(),
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		signer:         opts.Signer,
		tokens:         opts.Tokens,
		recorder:       audit.NewRecorder(opts.Storage, opts.Logger),
		cache:          opts.Cache,
		objects:        opts.Objects,
		maxUploadBytes: opts.MaxUploadBytes,
		corsOrigins:    opts.CORSOrigins,
	}
	if s.maxUploadBytes <= 0 {
		s.maxUploadBytes = 5 << 20
	}
	if s.tokens == nil {
		s.tokens = auth.NewTokenGenerator()
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(httputil.RequestIDMiddleware)
	s.router.Use(httputil.RecoveryMiddleware)
	s.router.Use(httputil.LoggingMiddleware)
	s.router.Use(httputil.CORSMiddleware(s.corsOrigins))
	if s.metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.metrics))
	}
}

// setupRoutes configures all the API routes. Route order matters: public and
// token-gated prefixes register before the session-gated catch-all.
func (s *Server) setupRoutes() {
	// Public routes
	s.router.HandleFunc("/auth/register", s.register).Methods("POST")
	s.router.HandleFunc("/auth/login", s.login).Methods("POST")
	s.router.HandleFunc("/uploads/{key:.+}", s.getUpload).Methods("GET")

	// Delivery and preview routes (API key token auth)
	resolver := newAccessKeyResolver(s.storage, s.metrics)

	delivery := s.router.PathPrefix("/delivery/{space_id}").Subrouter()
	delivery.Use(middleware.NewTokenMiddleware(auth.AccessDelivery, resolver).Handler)
	delivery.HandleFunc("/content_types", s.readContentTypes(auth.AccessDelivery)).Methods("GET")
	delivery.HandleFunc("/entries", s.readEntries(auth.AccessDelivery)).Methods("GET")

	preview := s.router.PathPrefix("/preview/{space_id}").Subrouter()
	preview.Use(middleware.NewTokenMiddleware(auth.AccessPreview, resolver).Handler)
	preview.HandleFunc("/content_types", s.readContentTypes(auth.AccessPreview)).Methods("GET")
	preview.HandleFunc("/entries", s.readEntries(auth.AccessPreview)).Methods("GET")

	// Management routes (session auth)
	session := middleware.NewSessionMiddleware(s.signer)
	mgmt := s.router.NewRoute().Subrouter()
	mgmt.Use(session.Handler)

	mgmt.HandleFunc("/content_types", s.listContentTypes).Methods("GET")
	mgmt.HandleFunc("/content_types", s.createContentType).Methods("POST")
	mgmt.HandleFunc("/content_types/{id}", s.getContentType).Methods("GET")
	mgmt.HandleFunc("/content_types/{id}", s.updateContentType).Methods("PUT")
	mgmt.HandleFunc("/content_types/{id}", s.deleteContentType).Methods("DELETE")

	mgmt.HandleFunc("/entries", s.listEntries).Methods("GET")
	mgmt.HandleFunc("/entries", s.createEntry).Methods("POST")
	mgmt.HandleFunc("/entries/{id}", s.getEntry).Methods("GET")
	mgmt.HandleFunc("/entries/{id}", s.updateEntry).Methods("PUT")
	mgmt.HandleFunc("/entries/{id}/publish", s.publishEntry).Methods("POST")
	mgmt.HandleFunc("/entries/{id}", s.deleteEntry).Methods("DELETE")

	mgmt.HandleFunc("/users/me", s.getMe).Methods("GET")
	mgmt.HandleFunc("/users/me", s.updateMe).Methods("PUT")
	mgmt.HandleFunc("/users/me/password", s.changePassword).Methods("POST")
	mgmt.HandleFunc("/users/me/avatar", s.uploadAvatar).Methods("POST")
	mgmt.HandleFunc("/users", s.listUsers).Methods("GET")
	mgmt.HandleFunc("/users", s.createUser).Methods("POST")

	mgmt.HandleFunc("/roles", s.listRoles).Methods("GET")
	mgmt.HandleFunc("/roles/assign", s.assignRole).Methods("PUT")

	mgmt.HandleFunc("/api-keys", s.listAPIKeys).Methods("GET")
	mgmt.HandleFunc("/api-keys", s.createAPIKey).Methods("POST")
	mgmt.HandleFunc("/api-keys/{id}", s.deleteAPIKey).Methods("DELETE")

	mgmt.HandleFunc("/audit", s.listAuditEvents).Methods("GET")
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// invalidateReadCache drops the delivery/preview cache after a content write.
func (s *Server) invalidateReadCache(r *http.Request) {
	if s.cache == nil {
		return
	}
	s.cache.Invalidate(r.Context())
	if s.metrics != nil {
		s.metrics.CacheInvalidationsTotal.Inc()
	}
}

// authorize evaluates the policy table and writes the error response on
// denial. Returns the identity when allowed.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, resource policy.Resource, action policy.Action, ownerEmail string) (*auth.Identity, bool) {
	identity := middleware.IdentityFrom(r)
	decision := policy.Evaluate(resource, action, identity, ownerEmail)
	if !decision.Allowed {
		if s.metrics != nil {
			s.metrics.AccessDeniedTotal.WithLabelValues(string(resource), string(action)).Inc()
		}
		if identity == nil {
			httputil.WriteUnauthorized(w, decision.Reason)
		} else {
			httputil.WriteForbidden(w, decision.Reason)
		}
		return nil, false
	}
	return identity, true
}
