package database

import (
	"log"
	"strings"

	"gorm.io/driver/postgres"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

type Options struct {
	// Quiet disables gorm's SQL logging (tests, cron binaries).
	Quiet bool
}

func Connect(dsn string) (*gorm.DB, error) {
	return ConnectWithOptions(dsn, Options{})
}

func ConnectWithOptions(dsn string, opts Options) (*gorm.DB, error) {
	cfg := &gorm.Config{}
	if opts.Quiet {
		cfg.Logger = logger.Default.LogMode(logger.Silent)
	}

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		log.Println("Connecting to PostgreSQL...")
		return gorm.Open(postgres.Open(dsn), cfg)
	}

	log.Println("Using SQLite for local development:", dsn)

	db, err := gorm.Open(
		gormsqlite.New(gormsqlite.Config{
			DriverName: "sqlite",
			DSN:        dsn,
		}),
		cfg,
	)
	if err != nil {
		return nil, err
	}

	// SQLite allows a single writer; a shared in-memory DSN also needs every
	// statement on the same connection to see one database.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	return db, nil
}
