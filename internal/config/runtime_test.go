package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"APP_ENV", "ENV", "HTTP_ADDR", "DATABASE_URL", "REDIS_URL", "JWT_SECRET", "JWT_TTL",
		"INGEST_API_KEYS", "INGEST_ENABLED", "INGEST_ALLOWED_IPS", "INGEST_MAX_PAYLOAD_BYTES",
		"INGEST_RATE_LIMIT_WINDOW", "INGEST_RATE_LIMIT_MAX", "INGEST_CHUNK_TTL",
		"INGEST_DEFAULT_EFFORT_HOURS", "CORS_ALLOWED_ORIGINS", "PURGE_RETENTION",
		"ADMIN_LOGIN", "ADMIN_PASSWORD",
	} {
		t.Setenv(name, "")
	}
}

func TestLoadRuntimeConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadRuntimeConfig()
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.AppEnv)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.True(t, cfg.IngestEnabled)
	assert.Empty(t, cfg.APIKeys)
	assert.Equal(t, int64(10485760), cfg.IngestDefaults.MaxPayloadBytes)
	assert.Equal(t, 60, cfg.IngestDefaults.RateLimitWindowSeconds)
	assert.Equal(t, 30, cfg.IngestDefaults.RateLimitMax)
	assert.Equal(t, 30*time.Minute, cfg.IngestDefaults.ChunkTTL())
}

func TestLoadRuntimeConfig_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("INGEST_API_KEYS", "etl:abc, !old:def")
	t.Setenv("INGEST_MAX_PAYLOAD_BYTES", "2048")
	t.Setenv("INGEST_RATE_LIMIT_WINDOW", "10s")
	t.Setenv("INGEST_DEFAULT_EFFORT_HOURS", "1.5")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://ops.example.com, ")

	cfg, err := LoadRuntimeConfig()
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"etl": "abc", "!old": "def"}, cfg.APIKeys)
	assert.Equal(t, int64(2048), cfg.IngestDefaults.MaxPayloadBytes)
	assert.Equal(t, 10, cfg.IngestDefaults.RateLimitWindowSeconds)
	assert.Equal(t, 1.5, cfg.IngestDefaults.DefaultEffortHours)
	assert.Equal(t, []string{"https://ops.example.com"}, cfg.CORSAllowedOrigins)
}

func TestLoadRuntimeConfig_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"malformed key":    {"INGEST_API_KEYS": "nocolon"},
		"duplicate key":    {"INGEST_API_KEYS": "a:1,a:2"},
		"bad duration":     {"INGEST_CHUNK_TTL": "soon"},
		"zero payload":     {"INGEST_MAX_PAYLOAD_BYTES": "0"},
		"negative effort":  {"INGEST_DEFAULT_EFFORT_HOURS": "-1"},
		"prod default jwt": {"APP_ENV": "production", "INGEST_API_KEYS": "a:1", "ADMIN_PASSWORD": "x"},
		"prod no keys":     {"APP_ENV": "prod", "JWT_SECRET": "s3cret", "ADMIN_PASSWORD": "x"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := LoadRuntimeConfig()
			assert.Error(t, err)
		})
	}
}
