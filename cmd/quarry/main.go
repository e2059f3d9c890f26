package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/quarryhq/quarry/pkg/api"
	"github.com/quarryhq/quarry/pkg/auth"
	"github.com/quarryhq/quarry/pkg/config"
	"github.com/quarryhq/quarry/pkg/objects"
	"github.com/quarryhq/quarry/pkg/observability"
	"github.com/quarryhq/quarry/pkg/storage"
	"github.com/quarryhq/quarry/pkg/storage/postgres"
	"github.com/quarryhq/quarry/pkg/storage/sqlite"
)

const version = "1.0.0"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	ctx := context.Background()

	// Storage backend
	store, db, err := openStorage(cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	logger.Infof("Storage initialized (%s)", cfg.Storage.Type)

	// Delivery cache
	var redisClient *redis.Client
	var cache *storage.TieredCache
	if cfg.Storage.CacheEnabled {
		redisClient, err = storage.NewRedisClient(cfg.Storage)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		cache, err = storage.NewTieredCache(cfg.Storage.L1CacheSize, cfg.Storage.CacheTTL, redisClient)
		if err != nil {
			log.Fatalf("Failed to initialize delivery cache: %v", err)
		}
		if redisClient != nil {
			logger.Info("Delivery cache enabled (LRU + redis)")
		} else {
			logger.Info("Delivery cache enabled (LRU only)")
		}
	}

	// Object store for uploads
	objStore, err := openObjectStore(ctx, cfg.Objects)
	if err != nil {
		log.Fatalf("Failed to initialize object store: %v", err)
	}

	// OpenTelemetry
	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to initialize OpenTelemetry: %v", err)
	}

	// Prometheus metrics
	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	// Seed admin account
	if err := seedAdmin(ctx, store, cfg.Auth, logger); err != nil {
		log.Fatalf("Failed to seed admin account: %v", err)
	}

	signer := auth.NewSessionSigner([]byte(cfg.Auth.JWTSecret), cfg.Auth.SessionTTL)

	server := api.NewServer(api.ServerOptions{
		Storage:        store,
		Logger:         logger,
		Metrics:        metrics,
		Signer:         signer,
		Tokens:         auth.NewTokenGenerator(),
		Cache:          cache,
		Objects:        objStore,
		MaxUploadBytes: cfg.Objects.MaxUploadBytes,
		CORSOrigins:    cfg.Server.CORSOrigins,
	})

	var handler http.Handler = server
	if providers != nil {
		handler = otelhttp.NewHandler(handler, "quarry.api")
	}

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics on a separate port for probes
	healthMux := http.NewServeMux()
	checker := observability.NewHealthChecker(db, redisClient, version)
	observability.RegisterHealthRoutes(healthMux, checker)
	healthMux.HandleFunc("/healthz", checker.Liveness)
	healthMux.HandleFunc("/readyz", checker.Readiness)
	if metrics != nil {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthMux,
	}

	// Business gauge refresher
	var refresher *observability.StatsRefresher
	if metrics != nil {
		refresher = observability.NewStatsRefresher(metrics, logger, statsFunc(store), db)
		if err := refresher.Start(cfg.Observability.StatsRefreshSchedule); err != nil {
			log.Fatalf("Failed to start stats refresher: %v", err)
		}
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		if refresher != nil {
			return refresher.Stop(ctx)
		}
		return nil
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		if cache != nil {
			return cache.Close()
		}
		return nil
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return store.Close()
	})

	g := new(errgroup.Group)
	g.Go(func() error {
		logger.Infof("API server listening on %s", apiServer.Addr)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Infof("Health server listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(shutdown.WaitForShutdown)

	if err := g.Wait(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// openStorage selects the backend from config and exposes the raw DB handle
// for health checks and pool gauges.
func openStorage(cfg storage.Config) (api.Storage, *sql.DB, error) {
	switch cfg.Type {
	case "postgres":
		pg, err := postgres.NewPostgresStorage(cfg)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.DB(), nil
	default:
		sq, err := sqlite.NewSQLiteStorage(cfg)
		if err != nil {
			return nil, nil, err
		}
		return sq, sq.DB(), nil
	}
}

func openObjectStore(ctx context.Context, cfg config.ObjectsConfig) (objects.Store, error) {
	switch cfg.Type {
	case "s3":
		return objects.NewS3Store(ctx, objects.S3Options{
			Endpoint:     cfg.S3Endpoint,
			Region:       cfg.S3Region,
			Bucket:       cfg.S3Bucket,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			UsePathStyle: cfg.S3UsePathStyle,
		})
	default:
		return objects.NewFilesystemStore(cfg.FilesystemRoot)
	}
}

// seedAdmin ensures the configured admin account exists with the configured
// password, creating it or re-hashing the password as needed.
func seedAdmin(ctx context.Context, store api.Storage, cfg config.AuthConfig, logger *observability.Logger) error {
	if cfg.SeedAdminEmail == "" || cfg.SeedAdminPassword == "" {
		return nil
	}

	hash, err := auth.HashPassword(cfg.SeedAdminPassword)
	if err != nil {
		return err
	}

	user, err := store.GetUser(ctx, cfg.SeedAdminEmail)
	if err != nil {
		if !errors.Is(err, api.ErrNotFound) {
			return err
		}
		user = &auth.User{
			Email:        cfg.SeedAdminEmail,
			PasswordHash: hash,
			FullName:     "Administrator",
			Gender:       "prefer_not_to_say",
			RoleID:       auth.RoleAdmin,
			Active:       true,
		}
		if err := store.CreateUser(ctx, user); err != nil {
			return err
		}
		logger.Infof("Seeded admin account %s", user.Email)
		return nil
	}

	user.PasswordHash = hash
	user.RoleID = auth.RoleAdmin
	user.Active = true
	if err := store.UpdateUser(ctx, user); err != nil {
		return err
	}
	logger.Infof("Refreshed admin account %s", user.Email)
	return nil
}

func statsFunc(store api.Storage) observability.StatsFunc {
	return func(ctx context.Context) (observability.ContentCounts, error) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		stats, err := store.ContentStats(ctx)
		if err != nil {
			return observability.ContentCounts{}, err
		}
		return observability.ContentCounts{
			ContentTypes:     stats.ContentTypes,
			DraftEntries:     stats.DraftEntries,
			PublishedEntries: stats.PublishedEntries,
			ArchivedEntries:  stats.ArchivedEntries,
			Users:            stats.Users,
			APIKeys:          stats.APIKeys,
		}, nil
	}
}
