// Package database opens the Postgres connection behind the gorm store,
// starting a bundled server for zero-config local runs.
package database

import (
	"context"
	"fmt"
	"log"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/xelth-com/parcelseal/internal/config"
)

// DB wraps gorm.DB and the embedded server, if one was started
type DB struct {
	*gorm.DB
	embedded *embeddedpostgres.EmbeddedPostgres
}

// dsn builds the libpq connection string for cfg
func dsn(cfg config.DatabaseConfig) string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database,
	)
}

// Connect opens the database, external or embedded
func Connect(cfg config.DatabaseConfig) (*DB, error) {
	var embedded *embeddedpostgres.EmbeddedPostgres
	if useEmbedded(cfg) {
		var err error
		embedded, cfg, err = startEmbedded(cfg)
		if err != nil {
			return nil, err
		}
	} else {
		log.Printf("🌐 Mode: [External PostgreSQL] - Connecting to %s:%s\n", cfg.Host, cfg.Port)
	}

	// SQL is logged at warn level only so sealed payloads and recipient
	// columns stay out of the logs
	level := logger.Warn
	if cfg.Alter {
		level = logger.Silent
	}

	db, err := gorm.Open(postgres.Open(dsn(cfg)), &gorm.Config{
		Logger: logger.Default.LogMode(level),
		// Unique violations come back as gorm.ErrDuplicatedKey
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		if embedded != nil {
			_ = embedded.Stop()
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(50)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	log.Println("✅ Database connection established")
	return &DB{DB: db, embedded: embedded}, nil
}

// Close shuts the pool and then the embedded server
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err == nil {
		err = sqlDB.Close()
	}
	if db.embedded != nil {
		log.Println("🛑 Stopping Embedded PostgreSQL process...")
		if stopErr := db.embedded.Stop(); stopErr != nil && err == nil {
			err = stopErr
		}
	}
	return err
}

// AutoMigrate creates or updates the tables for the given models
func (db *DB) AutoMigrate(models ...interface{}) error {
	if err := db.DB.AutoMigrate(models...); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	log.Printf("✅ Schema migrated (%d tables)", len(models))
	return nil
}

// Ping checks the connection for /health
func (db *DB) Ping() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}
