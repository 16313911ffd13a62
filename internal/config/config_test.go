package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("STORAGE_DIR", filepath.Join(t.TempDir(), "data"))
	t.Setenv("AUTH_MODE", "none")
}

func TestLoad_Defaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "myData", cfg.CollectionName)
	assert.Equal(t, "postgres", cfg.MetadataDriver)
	assert.Equal(t, int64(100*1024*1024), cfg.MaxUploadBytes)
	assert.Equal(t, 24*time.Hour, cfg.ChunkTTL)
	assert.Equal(t, 10*time.Minute, cfg.CleanupInterval)
	assert.Equal(t, "X-Auth-Token", cfg.AuthCookieName)
	assert.Equal(t, "local", cfg.StorageDriver)
	assert.DirExists(t, cfg.StorageDir)
}

func TestLoad_Overrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("COLLECTION_NAME", "photos")
	t.Setenv("METADATA_DRIVER", "Memory")
	t.Setenv("CHUNK_TTL", "2h")
	t.Setenv("MAX_UPLOAD_BYTES", "2048")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.local, http://b.local,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "photos", cfg.CollectionName)
	assert.Equal(t, "memory", cfg.MetadataDriver)
	assert.Equal(t, 2*time.Hour, cfg.ChunkTTL)
	assert.Equal(t, int64(2048), cfg.MaxUploadBytes)
	assert.Equal(t, []string{"http://a.local", "http://b.local"}, cfg.CORSAllowedOrigins)
}

func TestLoad_AuthModes(t *testing.T) {
	setBaseEnv(t)

	t.Setenv("AUTH_MODE", "jwt")
	_, err := Load()
	assert.Error(t, err, "jwt mode without key material")

	t.Setenv("JWT_SECRET", "s3cret")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "jwt", cfg.AuthMode)

	t.Setenv("AUTH_MODE", "apikey")
	cfg, err = Load()
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.APIKeys)

	t.Setenv("AUTH_MODE", "oauth")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoad_InvalidValues(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("CHUNK_TTL", "soon")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("CHUNK_TTL", "")
	t.Setenv("METADATA_DRIVER", "mongo")
	_, err = Load()
	assert.Error(t, err)
}

func TestPostgresDSN(t *testing.T) {
	cfg := &Config{DBHost: "db", DBPort: 5433, DBUser: "u", DBPassword: "p@ss", DBName: "files", DBSSLMode: "disable"}
	assert.Equal(t, "postgres://u:p%40ss@db:5433/files?sslmode=disable", cfg.PostgresDSN())
}
