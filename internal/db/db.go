// internal/db/db.go
package db

import (
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/devid-org/github-attestation-bot/internal/logging"
)

var DB *gorm.DB

func Init(databaseURL string, migrationsPath string) error {
	var err error
	var gormDB *gorm.DB

	for i := 0; i < 30; i++ {
		gormDB, err = gorm.Open(postgres.Open(databaseURL), &gorm.Config{})
		if err == nil {
			break
		}
		logging.Warn("database connection attempt failed",
			zap.Int("attempt", i+1), zap.Error(err))
		time.Sleep(time.Second * 2)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to the database after 30 attempts: %w", err)
	}

	DB = gormDB

	if err := runMigrations(databaseURL, migrationsPath); err != nil {
		return fmt.Errorf("error running migrations: %w", err)
	}
	return nil
}

func Close() error {
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return fmt.Errorf("error getting sql.DB: %w", err)
		}
		return sqlDB.Close()
	}
	return nil
}

func runMigrations(databaseURL string, migrationsPath string) error {
	logging.Info("running migrations", zap.String("path", migrationsPath))

	m, err := migrate.New("file://"+migrationsPath, databaseURL)
	if err != nil {
		return fmt.Errorf("error initializing migrations: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("error running migrations: %w", err)
	}

	logging.Info("migrations completed")
	return nil
}
