package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Backend names accepted by DATA_BACKEND / STORAGE_BACKEND.
const (
	BackendSupabase = "supabase"
	BackendPostgres = "postgres"
	BackendS3       = "s3"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port        int
	LogLevel    string
	CORSOrigins []string

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Cache
	RoleCacheTTL time.Duration
	RedisURL     string

	// Observability
	OTLPEndpoint string

	// Supabase
	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseServiceKey string
	SupabaseJWTSecret  string

	// Persistence
	DataBackend     string
	DatabaseURL     string
	DBMaxConns      int
	StorageBackend  string
	AvatarBucket    string
	S3Endpoint      string
	S3Region        string
	S3AccessKeyID   string
	S3SecretKey     string
	S3PublicBaseURL string

	// Avatars
	AvatarSize     int
	MaxUploadBytes int64

	// Background workers
	AuditQueueSize       int
	OverdueSweepInterval time.Duration
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	supabaseURL := strings.TrimRight(getEnv("SUPABASE_URL", ""), "/")

	return &Config{
		Port:        getEnvInt("PORT", 8080),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		CORSOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 50),

		RoleCacheTTL: getEnvDuration("ROLE_CACHE_TTL", time.Minute),
		RedisURL:     getEnv("REDIS_URL", ""),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		SupabaseURL:        supabaseURL,
		SupabaseAnonKey:    getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),
		SupabaseJWTSecret:  getEnv("SUPABASE_JWT_SECRET", ""),

		DataBackend:     strings.ToLower(getEnv("DATA_BACKEND", BackendSupabase)),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		DBMaxConns:      getEnvInt("DB_MAX_CONNS", 10),
		StorageBackend:  strings.ToLower(getEnv("STORAGE_BACKEND", BackendSupabase)),
		AvatarBucket:    getEnv("AVATAR_BUCKET", "avatars"),
		S3Endpoint:      getEnv("S3_ENDPOINT", supabaseURL+"/storage/v1/s3"),
		S3Region:        getEnv("S3_REGION", "eu-west-1"),
		S3AccessKeyID:   getEnv("S3_ACCESS_KEY_ID", ""),
		S3SecretKey:     getEnv("S3_SECRET_ACCESS_KEY", ""),
		S3PublicBaseURL: getEnv("S3_PUBLIC_BASE_URL", supabaseURL+"/storage/v1/object/public"),

		AvatarSize:     getEnvInt("AVATAR_SIZE", 512),
		MaxUploadBytes: int64(getEnvInt("MAX_UPLOAD_BYTES", 5<<20)),

		AuditQueueSize:       getEnvInt("AUDIT_QUEUE_SIZE", 256),
		OverdueSweepInterval: getEnvDuration("OVERDUE_SWEEP_INTERVAL", time.Hour),
	}
}

// SettingError reports an environment variable whose value cannot be used.
type SettingError struct {
	Key    string
	Reason string
}

func (e *SettingError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Key, e.Reason)
}

// Validate reports settings that make the selected backends unusable.
func (c *Config) Validate() error {
	switch c.DataBackend {
	case BackendSupabase:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return &SettingError{Key: "DATABASE_URL", Reason: "required when DATA_BACKEND=" + BackendPostgres}
		}
	default:
		return &SettingError{Key: "DATA_BACKEND", Reason: fmt.Sprintf("unknown backend %q", c.DataBackend)}
	}

	switch c.StorageBackend {
	case BackendSupabase:
	case BackendS3:
		if c.S3AccessKeyID == "" || c.S3SecretKey == "" {
			return &SettingError{Key: "S3_ACCESS_KEY_ID", Reason: "S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY are required when STORAGE_BACKEND=" + BackendS3}
		}
	default:
		return &SettingError{Key: "STORAGE_BACKEND", Reason: fmt.Sprintf("unknown backend %q", c.StorageBackend)}
	}

	if c.SupabaseURL == "" {
		return &SettingError{Key: "SUPABASE_URL", Reason: "required"}
	}
	if c.SupabaseJWTSecret == "" {
		return &SettingError{Key: "SUPABASE_JWT_SECRET", Reason: "required"}
	}
	if c.AvatarSize < 32 {
		return &SettingError{Key: "AVATAR_SIZE", Reason: "must be at least 32"}
	}
	if c.RoleCacheTTL <= 0 {
		return &SettingError{Key: "ROLE_CACHE_TTL", Reason: "must be positive"}
	}
	if c.AuditQueueSize <= 0 {
		return &SettingError{Key: "AUDIT_QUEUE_SIZE", Reason: "must be positive"}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
