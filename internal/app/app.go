// Package app assembles the HTTP server from the runtime config.
package app

import (
	"context"
	"net/http"
	"time"

	"opsdash/internal/cache"
	"opsdash/internal/config"
	"opsdash/internal/domain"
	"opsdash/internal/domain/ingest"
	"opsdash/internal/domain/settings"
	"opsdash/internal/middleware"
	"opsdash/internal/pkg/identity"
	"opsdash/internal/pkg/jwt"
	"opsdash/internal/pkg/ratelimit"
	"opsdash/internal/realtime"
	"opsdash/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// App holds the router and the long-lived collaborators behind it.
type App struct {
	Router   *gin.Engine
	JWT      *jwt.Service
	Hub      *realtime.Hub
	Sessions *ingest.SessionStore
	Settings *settings.Service
}

// Migrate creates or updates every table the service owns.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.User{},
		&settings.Settings{},
		&ingest.ImportLog{},
		&ingest.Record{},
	)
}

// New wires the service. rdb may be nil, in which case rate limiting is
// process-local and invalidation is only pushed to local websocket clients.
func New(cfg *config.RuntimeConfig, db *gorm.DB, rdb *redis.Client) *App {
	if config.IsProdLike(cfg.AppEnv) {
		gin.SetMode(gin.ReleaseMode)
	}

	j := jwt.New(cfg.JWTSecret, cfg.JWTTTL)
	hub := realtime.NewHub()

	var limiter ratelimit.Limiter = ratelimit.NewMemory()
	invalidator := cache.Multi{cache.LogInvalidator{}, hub}
	if rdb != nil {
		limiter = ratelimit.NewRedis(rdb)
		invalidator = append(invalidator, cache.NewRedisInvalidator(rdb))
	}

	settingsService := settings.NewService(settings.NewRepository(db), cfg.IngestDefaults)
	settingsHandler := settings.NewHandler(settingsService)

	userRepo := repository.NewUserRepository(db)
	ingestRepo := ingest.NewRepository(db)
	sessions := ingest.NewSessionStore()
	engine := ingest.NewCommitEngine(ingestRepo, userRepo, invalidator)
	ingestService := ingest.NewService(sessions, settingsService, limiter, ingestRepo, engine)
	ingestHandler := ingest.NewHandler(ingestService)

	authn := identity.Chain{
		identity.NewAPIKeyAuthenticator(cfg.APIKeys),
		identity.NewTokenAuthenticator(j),
	}
	gate := middleware.IngestGate{Enabled: cfg.IngestEnabled, AllowedIPs: cfg.IngestAllowedIPs}

	r := gin.New()
	r.Use(gin.Logger(), middleware.ErrorLogger(), middleware.CORS(cfg.CORSAllowedOrigins))

	r.GET("/healthz", healthz(db))

	v1 := r.Group("/api/v1")
	{
		machine := v1.Group("")
		machine.Use(middleware.CredentialAuth(authn, gate))
		ingest.RegisterRoutes(machine, ingestHandler)

		dashboard := v1.Group("")
		dashboard.Use(middleware.JWTAuth(j))
		ingest.RegisterLogRoutes(dashboard, ingestHandler)

		admin := v1.Group("/admin")
		admin.Use(middleware.JWTAuth(j), middleware.AdminOnly())
		settings.RegisterRoutes(admin, settingsHandler)

		realtime.RegisterRoutes(v1, realtime.NewHandler(hub, j, cfg.CORSAllowedOrigins))
	}

	return &App{
		Router:   r,
		JWT:      j,
		Hub:      hub,
		Sessions: sessions,
		Settings: settingsService,
	}
}

func healthz(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
