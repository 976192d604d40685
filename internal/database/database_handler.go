package database

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"kestrel/internal/domain"
)

const (
	maxOpenConnections = 16
	maxIdleConnections = 4
	connMaxLifetime    = 30 * time.Minute
)

// SetupDB opens the registry database and migrates the crawler-owned tables.
// The returned handle is injected into every component that needs it; there
// is no package-level connection.
func SetupDB(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("database: open connection: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database: access connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpenConnections)
	sqlDB.SetMaxIdleConns(maxIdleConnections)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates the registry tables. Split out so tests can run it against
// an in-memory sqlite handle.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&domain.GameServer{}, &domain.GameServerBlacklist{}); err != nil {
		return fmt.Errorf("database: migrate: %w", err)
	}
	return nil
}
