package main

import (
	"context"
	"log"
	"time"

	"opsdash/internal/cache"
	"opsdash/internal/config"
	"opsdash/internal/database"
	"opsdash/internal/domain/ingest"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadRuntimeConfig()
	if err != nil {
		log.Fatal(err)
	}

	db, err := database.ConnectWithOptions(cfg.DatabaseURL, database.Options{Quiet: true})
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}

	invalidator := cache.Multi{cache.LogInvalidator{}}
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("invalid REDIS_URL: %v", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		invalidator = append(invalidator, cache.NewRedisInvalidator(rdb))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := time.Now().UTC().Add(-cfg.PurgeRetention)
	n, err := ingest.PurgeCancelled(ctx, ingest.NewRepository(db), invalidator, cutoff)
	if err != nil {
		log.Fatalf("purge cancelled records failed: %v", err)
	}
	log.Printf("purge completed: cancelled_records=%d cutoff=%s", n, cutoff.Format(time.RFC3339))
}
