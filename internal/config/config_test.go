package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SUPABASE_URL", "https://proj.supabase.co/")

	cfg := Load()
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "https://proj.supabase.co", cfg.SupabaseURL)
	assert.Equal(t, BackendSupabase, cfg.DataBackend)
	assert.Equal(t, "avatars", cfg.AvatarBucket)
	assert.Equal(t, 512, cfg.AvatarSize)
	assert.Equal(t, int64(5<<20), cfg.MaxUploadBytes)
	assert.Equal(t, "https://proj.supabase.co/storage/v1/s3", cfg.S3Endpoint)
	assert.Equal(t, time.Hour, cfg.OverdueSweepInterval)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORSOrigins)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("DATA_BACKEND", "Postgres")
	t.Setenv("OVERDUE_SWEEP_INTERVAL", "15m")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.pt, https://b.pt,")
	t.Setenv("AVATAR_SIZE", "not-a-number")

	cfg := Load()
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, BackendPostgres, cfg.DataBackend)
	assert.Equal(t, 15*time.Minute, cfg.OverdueSweepInterval)
	assert.Equal(t, []string{"https://a.pt", "https://b.pt"}, cfg.CORSOrigins)
	assert.Equal(t, 512, cfg.AvatarSize)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			SupabaseURL:       "https://proj.supabase.co",
			SupabaseJWTSecret: "secret",
			DataBackend:       BackendSupabase,
			StorageBackend:    BackendSupabase,
			AvatarSize:        512,
			RoleCacheTTL:      time.Minute,
			AuditQueueSize:    256,
		}
	}

	require.NoError(t, base().Validate())

	cfg := base()
	cfg.DataBackend = BackendPostgres
	assert.Error(t, cfg.Validate())
	cfg.DatabaseURL = "postgres://localhost/gestor"
	assert.NoError(t, cfg.Validate())

	cfg = base()
	cfg.StorageBackend = BackendS3
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.DataBackend = "mysql"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.SupabaseJWTSecret = ""
	assert.Error(t, cfg.Validate())

	for _, ttl := range []time.Duration{0, -time.Minute} {
		cfg = base()
		cfg.RoleCacheTTL = ttl
		var se *SettingError
		require.ErrorAs(t, cfg.Validate(), &se)
		assert.Equal(t, "ROLE_CACHE_TTL", se.Key)
	}

	cfg = base()
	cfg.AuditQueueSize = 0
	assert.Error(t, cfg.Validate())
}

func TestLoadDotEnv_DoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("GESTOR_TEST_A=from-file\nGESTOR_TEST_B=\"quoted\"\n"), 0o600))

	t.Setenv("GESTOR_TEST_A", "from-env")
	t.Setenv("GESTOR_TEST_B", "")
	os.Unsetenv("GESTOR_TEST_B")

	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "from-env", os.Getenv("GESTOR_TEST_A"))
	assert.Equal(t, "quoted", os.Getenv("GESTOR_TEST_B"))
}
