package main

import (
	"context"
	"log"
	"time"

	"opsdash/internal/app"
	"opsdash/internal/config"
	"opsdash/internal/database"
	"opsdash/internal/domain"
	"opsdash/internal/domain/settings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm/clause"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadRuntimeConfig()
	if err != nil {
		log.Fatal(err)
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("DB connection failed:", err)
	}

	log.Println("Running AutoMigrate...")
	if err := app.Migrate(db); err != nil {
		log.Fatal("AutoMigrate failed:", err)
	}

	adminHash, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		log.Fatal(err)
	}
	// The system account can never log in; its password is random.
	systemHash, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), bcrypt.DefaultCost)
	if err != nil {
		log.Fatal(err)
	}

	users := []domain.User{
		{Login: cfg.AdminLogin, Name: "Administrator", Role: domain.RoleAdmin, PasswordHash: string(adminHash)},
		{Login: domain.SystemLogin, Name: "Automation", Role: domain.RoleSystem, Disabled: true, PasswordHash: string(systemHash)},
	}
	for i := range users {
		err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "login"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "role", "disabled", "password_hash", "updated_at"}),
		}).Create(&users[i]).Error
		if err != nil {
			log.Fatalf("upsert user %s: %v", users[i].Login, err)
		}
		log.Printf("user ready: login=%s role=%s", users[i].Login, users[i].Role)
	}

	row := cfg.IngestDefaults
	row.UpdatedAt = time.Now().UTC()
	if err := settings.NewRepository(db).Save(context.Background(), &row); err != nil {
		log.Fatalf("upsert ingest settings: %v", err)
	}
	log.Printf("ingest settings ready: max_payload_bytes=%d rate_limit=%d/%ds chunk_ttl=%ds",
		row.MaxPayloadBytes, row.RateLimitMax, row.RateLimitWindowSeconds, row.ChunkTTLSeconds)
}
