package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quarryhq/quarry/pkg/observability"
	"github.com/quarryhq/quarry/pkg/storage"
)

// Config holds all application configuration. It is resolved once at startup
// and treated as immutable afterwards.
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server"`

	// Storage configuration
	Storage storage.Config `yaml:"storage"`

	// Auth configuration
	Auth AuthConfig `yaml:"auth"`

	// Object store configuration (avatar uploads)
	Objects ObjectsConfig `yaml:"objects"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`

	// Allowed CORS origins; "*" allows any
	CORSOrigins []string `yaml:"cors_origins"`
}

// AuthConfig holds session and bootstrap settings
type AuthConfig struct {
	// JWTSecret signs session tokens. Required.
	JWTSecret string `yaml:"jwt_secret"`

	// SessionTTL bounds session token lifetime
	SessionTTL time.Duration `yaml:"session_ttl"`

	// Seed admin credentials, ensured at startup when both are set
	SeedAdminEmail    string `yaml:"seed_admin_email"`
	SeedAdminPassword string `yaml:"seed_admin_password"`
}

// ObjectsConfig holds object store settings for uploaded files
type ObjectsConfig struct {
	Type string `yaml:"type"` // "filesystem" or "s3"

	// Filesystem config
	FilesystemRoot string `yaml:"filesystem_root"`

	// S3 config
	S3Endpoint     string `yaml:"s3_endpoint"`
	S3Region       string `yaml:"s3_region"`
	S3Bucket       string `yaml:"s3_bucket"`
	S3AccessKey    string `yaml:"s3_access_key"`
	S3SecretKey    string `yaml:"s3_secret_key"`
	S3UsePathStyle bool   `yaml:"s3_use_path_style"`

	// MaxUploadBytes caps a single uploaded file
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel `yaml:"log_level"`

	// Metrics
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// Business gauge refresh schedule (cron expression, empty disables)
	StatsRefreshSchedule string `yaml:"stats_refresh_schedule"`

	// OpenTelemetry
	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"` // Use insecure gRPC connection
}

// LoadConfig loads configuration from an optional YAML file pointed at by
// QUARRY_CONFIG_FILE, then applies environment variable overrides.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        defaultServerConfig(),
		Storage:       storage.DefaultConfig(),
		Auth:          defaultAuthConfig(),
		Objects:       defaultObjectsConfig(),
		Observability: defaultObservabilityConfig(),
	}

	if path := os.Getenv("QUARRY_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyServerEnv(&cfg.Server)
	applyStorageEnv(&cfg.Storage)
	applyAuthEnv(&cfg.Auth)
	applyObjectsEnv(&cfg.Objects)
	applyObservabilityEnv(&cfg.Observability)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		Port:            "8080",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		HealthPort:      "9090",
		CORSOrigins:     []string{"*"},
	}
}

func defaultAuthConfig() AuthConfig {
	return AuthConfig{
		SessionTTL: 2 * time.Hour,
	}
}

func defaultObjectsConfig() ObjectsConfig {
	return ObjectsConfig{
		Type:           "filesystem",
		FilesystemRoot: "./uploads",
		S3Region:       "us-east-1",
		MaxUploadBytes: 5 << 20,
	}
}

func defaultObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:             observability.InfoLevel,
		MetricsEnabled:       true,
		StatsRefreshSchedule: "@every 1m",
		OTelEndpoint:         "localhost:4317",
		OTelServiceName:      "quarry",
		OTelServiceVersion:   "1.0.0",
		OTelInsecure:         true,
	}
}

func applyServerEnv(cfg *ServerConfig) {
	cfg.Host = getEnv("QUARRY_HOST", cfg.Host)
	cfg.Port = getEnv("QUARRY_PORT", cfg.Port)
	cfg.ReadTimeout = getEnvDuration("QUARRY_READ_TIMEOUT", cfg.ReadTimeout)
	cfg.WriteTimeout = getEnvDuration("QUARRY_WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.IdleTimeout = getEnvDuration("QUARRY_IDLE_TIMEOUT", cfg.IdleTimeout)
	cfg.ShutdownTimeout = getEnvDuration("QUARRY_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	cfg.HealthPort = getEnv("QUARRY_HEALTH_PORT", cfg.HealthPort)
	if origins := getEnv("QUARRY_CORS_ORIGINS", ""); origins != "" {
		cfg.CORSOrigins = splitAndTrim(origins)
	}
}

func applyStorageEnv(cfg *storage.Config) {
	if storageType := getEnv("QUARRY_STORAGE_TYPE", ""); storageType != "" {
		cfg.Type = storageType
	}

	// PostgreSQL config
	if pgURL := getEnv("QUARRY_POSTGRES_URL", ""); pgURL != "" {
		cfg.PostgresURL = pgURL
	}
	if maxConns := getEnvInt("QUARRY_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("QUARRY_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("QUARRY_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	// SQLite config
	if sqlitePath := getEnv("QUARRY_SQLITE_PATH", ""); sqlitePath != "" {
		cfg.SQLitePath = sqlitePath
	}

	// Redis config
	if redisURL := getEnv("QUARRY_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("QUARRY_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("QUARRY_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("QUARRY_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("QUARRY_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	// Cache config
	if cacheEnabled := getEnv("QUARRY_CACHE_ENABLED", ""); cacheEnabled != "" {
		cfg.CacheEnabled = strings.ToLower(cacheEnabled) == "true"
	}
	if cacheTTL := getEnvDuration("QUARRY_CACHE_TTL", 0); cacheTTL > 0 {
		cfg.CacheTTL = cacheTTL
	}
	if l1CacheSize := getEnvInt("QUARRY_L1_CACHE_SIZE", 0); l1CacheSize > 0 {
		cfg.L1CacheSize = l1CacheSize
	}
}

func applyAuthEnv(cfg *AuthConfig) {
	cfg.JWTSecret = getEnv("QUARRY_JWT_SECRET", cfg.JWTSecret)
	cfg.SessionTTL = getEnvDuration("QUARRY_SESSION_TTL", cfg.SessionTTL)
	cfg.SeedAdminEmail = getEnv("QUARRY_SEED_ADMIN_EMAIL", cfg.SeedAdminEmail)
	cfg.SeedAdminPassword = getEnv("QUARRY_SEED_ADMIN_PASSWORD", cfg.SeedAdminPassword)
}

func applyObjectsEnv(cfg *ObjectsConfig) {
	if objectsType := getEnv("QUARRY_OBJECTS_TYPE", ""); objectsType != "" {
		cfg.Type = objectsType
	}
	if fsRoot := getEnv("QUARRY_FILESYSTEM_ROOT", ""); fsRoot != "" {
		cfg.FilesystemRoot = fsRoot
	}
	if s3Endpoint := getEnv("QUARRY_S3_ENDPOINT", ""); s3Endpoint != "" {
		cfg.S3Endpoint = s3Endpoint
	}
	if s3Region := getEnv("QUARRY_S3_REGION", ""); s3Region != "" {
		cfg.S3Region = s3Region
	}
	if s3Bucket := getEnv("QUARRY_S3_BUCKET", ""); s3Bucket != "" {
		cfg.S3Bucket = s3Bucket
	}
	if s3AccessKey := getEnv("QUARRY_S3_ACCESS_KEY", ""); s3AccessKey != "" {
		cfg.S3AccessKey = s3AccessKey
	}
	if s3SecretKey := getEnv("QUARRY_S3_SECRET_KEY", ""); s3SecretKey != "" {
		cfg.S3SecretKey = s3SecretKey
	}
	if s3UsePathStyle := getEnv("QUARRY_S3_USE_PATH_STYLE", ""); s3UsePathStyle != "" {
		cfg.S3UsePathStyle = strings.ToLower(s3UsePathStyle) == "true"
	}
	if maxUpload := getEnvInt64("QUARRY_MAX_UPLOAD_BYTES", 0); maxUpload > 0 {
		cfg.MaxUploadBytes = maxUpload
	}
}

func applyObservabilityEnv(cfg *ObservabilityConfig) {
	if level := getEnv("QUARRY_LOG_LEVEL", ""); level != "" {
		cfg.LogLevel = parseLogLevel(level)
	}
	cfg.MetricsEnabled = getEnvBool("QUARRY_METRICS_ENABLED", cfg.MetricsEnabled)
	if schedule, ok := os.LookupEnv("QUARRY_STATS_REFRESH_SCHEDULE"); ok {
		cfg.StatsRefreshSchedule = schedule
	}
	cfg.OTelEnabled = getEnvBool("QUARRY_OTEL_ENABLED", cfg.OTelEnabled)
	cfg.OTelEndpoint = getEnv("QUARRY_OTEL_ENDPOINT", cfg.OTelEndpoint)
	cfg.OTelServiceName = getEnv("QUARRY_OTEL_SERVICE_NAME", cfg.OTelServiceName)
	cfg.OTelServiceVersion = getEnv("QUARRY_OTEL_SERVICE_VERSION", cfg.OTelServiceVersion)
	cfg.OTelInsecure = getEnvBool("QUARRY_OTEL_INSECURE", cfg.OTelInsecure)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	// Validate storage config based on type
	switch c.Storage.Type {
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for sqlite storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be postgres or sqlite)", c.Storage.Type)
	}

	// Validate auth config
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}

	// Validate object store config
	switch c.Objects.Type {
	case "filesystem":
		if c.Objects.FilesystemRoot == "" {
			return fmt.Errorf("filesystem root is required for filesystem object store")
		}
	case "s3":
		if c.Objects.S3Bucket == "" {
			return fmt.Errorf("S3 bucket is required for s3 object store")
		}
	default:
		return fmt.Errorf("invalid object store type: %s (must be filesystem or s3)", c.Objects.Type)
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
