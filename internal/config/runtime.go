package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"opsdash/internal/domain/settings"
)

const (
	defaultHTTPAddr           = ":8080"
	defaultDatabaseURL        = "opsdash.db"
	defaultJWTSecret          = "change-me-jwt-secret"
	defaultJWTTTL             = "24h"
	defaultMaxPayloadBytes    = "10485760"
	defaultRateLimitWindow    = "1m"
	defaultRateLimitMax       = "30"
	defaultChunkTTL           = "30m"
	defaultEffortHours        = "0"
	defaultIngestEnabled      = "true"
	defaultPurgeRetention     = "2160h"
	defaultAdminLogin         = "admin"
	defaultAdminPassword      = "change-me-admin-password"
	maxSettingsPayloadBytes   = 1 << 30
	maxSettingsWindowSeconds  = 86400
	maxSettingsChunkTTLSecond = 86400
)

type RuntimeConfig struct {
	AppEnv      string
	HTTPAddr    string
	DatabaseURL string
	RedisURL    string

	JWTSecret string
	JWTTTL    time.Duration

	// APIKeys maps a key name to its secret. A name starting with "!" is a
	// revoked key.
	APIKeys          map[string]string
	IngestEnabled    bool
	IngestAllowedIPs []string

	// IngestDefaults seed the ingest_settings row and answer until an admin
	// saves one.
	IngestDefaults settings.Settings

	CORSAllowedOrigins []string
	PurgeRetention     time.Duration

	AdminLogin    string
	AdminPassword string
}

func LoadRuntimeConfig() (*RuntimeConfig, error) {
	cfg := &RuntimeConfig{}
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = strings.TrimSpace(os.Getenv("ENV"))
	}
	if appEnv == "" {
		appEnv = "dev"
	}
	cfg.AppEnv = strings.ToLower(appEnv)

	cfg.HTTPAddr = strings.TrimSpace(getEnv("HTTP_ADDR", defaultHTTPAddr))
	cfg.DatabaseURL = strings.TrimSpace(getEnv("DATABASE_URL", defaultDatabaseURL))
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.JWTSecret = strings.TrimSpace(getEnv("JWT_SECRET", defaultJWTSecret))
	cfg.AdminLogin = strings.TrimSpace(getEnv("ADMIN_LOGIN", defaultAdminLogin))
	cfg.AdminPassword = strings.TrimSpace(getEnv("ADMIN_PASSWORD", defaultAdminPassword))

	var err error
	cfg.JWTTTL, err = parseDurationEnv("JWT_TTL", defaultJWTTTL)
	if err != nil {
		return nil, err
	}
	cfg.PurgeRetention, err = parseDurationEnv("PURGE_RETENTION", defaultPurgeRetention)
	if err != nil {
		return nil, err
	}

	cfg.APIKeys, err = parseAPIKeys(os.Getenv("INGEST_API_KEYS"))
	if err != nil {
		return nil, err
	}
	cfg.IngestEnabled = parseBoolEnv("INGEST_ENABLED", defaultIngestEnabled)
	cfg.IngestAllowedIPs = parseListEnv("INGEST_ALLOWED_IPS")
	cfg.CORSAllowedOrigins = parseListEnv("CORS_ALLOWED_ORIGINS")

	cfg.IngestDefaults, err = loadIngestDefaults()
	if err != nil {
		return nil, err
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	log.Printf("runtime config: env=%s addr=%s redis=%t api_keys=%d ingest_enabled=%t",
		cfg.AppEnv, cfg.HTTPAddr, cfg.RedisURL != "", len(cfg.APIKeys), cfg.IngestEnabled)

	return cfg, nil
}

func loadIngestDefaults() (settings.Settings, error) {
	var s settings.Settings
	var err error

	if s.MaxPayloadBytes, err = parseInt64Env("INGEST_MAX_PAYLOAD_BYTES", defaultMaxPayloadBytes); err != nil {
		return s, err
	}
	window, err := parseDurationEnv("INGEST_RATE_LIMIT_WINDOW", defaultRateLimitWindow)
	if err != nil {
		return s, err
	}
	s.RateLimitWindowSeconds = int(window / time.Second)

	maxReq, err := parseInt64Env("INGEST_RATE_LIMIT_MAX", defaultRateLimitMax)
	if err != nil {
		return s, err
	}
	s.RateLimitMax = int(maxReq)

	ttl, err := parseDurationEnv("INGEST_CHUNK_TTL", defaultChunkTTL)
	if err != nil {
		return s, err
	}
	s.ChunkTTLSeconds = int(ttl / time.Second)

	raw := strings.TrimSpace(getEnv("INGEST_DEFAULT_EFFORT_HOURS", defaultEffortHours))
	if s.DefaultEffortHours, err = strconv.ParseFloat(raw, 64); err != nil {
		return s, fmt.Errorf("invalid INGEST_DEFAULT_EFFORT_HOURS value %q: %w", raw, err)
	}
	return s, nil
}

// parseAPIKeys reads "name:key,name2:key2".
func parseAPIKeys(raw string) (map[string]string, error) {
	keys := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, key, ok := strings.Cut(pair, ":")
		name, key = strings.TrimSpace(name), strings.TrimSpace(key)
		if !ok || name == "" || key == "" {
			return nil, fmt.Errorf("INGEST_API_KEYS entry %q must be name:key", pair)
		}
		if _, dup := keys[name]; dup {
			return nil, fmt.Errorf("INGEST_API_KEYS has duplicate name %q", name)
		}
		keys[name] = key
	}
	return keys, nil
}

func validateConfig(cfg *RuntimeConfig) error {
	if cfg.JWTTTL <= 0 {
		return fmt.Errorf("JWT_TTL must be > 0")
	}
	if cfg.PurgeRetention <= 0 {
		return fmt.Errorf("PURGE_RETENTION must be > 0")
	}
	if cfg.HTTPAddr == "" {
		return fmt.Errorf("HTTP_ADDR must not be empty")
	}

	d := cfg.IngestDefaults
	if d.MaxPayloadBytes <= 0 || d.MaxPayloadBytes > maxSettingsPayloadBytes {
		return fmt.Errorf("INGEST_MAX_PAYLOAD_BYTES must be in 1..%d", maxSettingsPayloadBytes)
	}
	if d.RateLimitWindowSeconds <= 0 || d.RateLimitWindowSeconds > maxSettingsWindowSeconds {
		return fmt.Errorf("INGEST_RATE_LIMIT_WINDOW must be between 1s and 24h")
	}
	if d.RateLimitMax <= 0 {
		return fmt.Errorf("INGEST_RATE_LIMIT_MAX must be > 0")
	}
	if d.ChunkTTLSeconds <= 0 || d.ChunkTTLSeconds > maxSettingsChunkTTLSecond {
		return fmt.Errorf("INGEST_CHUNK_TTL must be between 1s and 24h")
	}
	if d.DefaultEffortHours < 0 {
		return fmt.Errorf("INGEST_DEFAULT_EFFORT_HOURS must be >= 0")
	}

	if isProdLike(cfg.AppEnv) {
		if isEmptyOrDefault(cfg.JWTSecret, defaultJWTSecret) {
			return fmt.Errorf("in prod/release JWT_SECRET must be set and not default")
		}
		if isEmptyOrDefault(cfg.AdminPassword, defaultAdminPassword) {
			return fmt.Errorf("in prod/release ADMIN_PASSWORD must be set and not default")
		}
		if len(cfg.APIKeys) == 0 {
			return fmt.Errorf("in prod/release INGEST_API_KEYS must be set")
		}
	}

	return nil
}

// IsProdLike reports whether env names a production deployment.
func IsProdLike(env string) bool { return isProdLike(env) }

func isProdLike(env string) bool {
	env = strings.ToLower(strings.TrimSpace(env))
	return env == "prod" || env == "production" || env == "release"
}

func isEmptyOrDefault(v, def string) bool {
	trimmed := strings.TrimSpace(v)
	return trimmed == "" || trimmed == def
}

func parseDurationEnv(name, fallback string) (time.Duration, error) {
	value := strings.TrimSpace(getEnv(name, fallback))
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", name, value, err)
	}
	return d, nil
}

func parseInt64Env(name, fallback string) (int64, error) {
	value := strings.TrimSpace(getEnv(name, fallback))
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", name, value, err)
	}
	return n, nil
}

func parseBoolEnv(name, fallback string) bool {
	value := strings.ToLower(strings.TrimSpace(getEnv(name, fallback)))
	return value == "1" || value == "true" || value == "yes" || value == "on"
}

func parseListEnv(name string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(name), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnv(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
