package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"boardsync-backend/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const sqlitePrefix = "sqlite:"

var DB *gorm.DB

// OpenDB opens a postgres DSN, or a sqlite database when dsn starts with
// "sqlite:" (for example "sqlite::memory:" or "sqlite:boards.db").
func OpenDB(dsn string, level logger.LogLevel) (*gorm.DB, error) {
	var dialector gorm.Dialector
	path, isSQLite := strings.CutPrefix(dsn, sqlitePrefix)
	if isSQLite {
		dialector = sqlite.Open(path)
	} else {
		dialector = postgres.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying sql.DB for connection pool settings
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	if isSQLite {
		// every sqlite connection would otherwise see its own :memory: database
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}
	return db, nil
}

func ConnectDB(dsn string) error {
	var err error
	DB, err = OpenDB(dsn, logger.Info)
	if err != nil {
		return err
	}
	slog.Info("database connected")
	return nil
}

// Migrate creates or updates the tables of all models.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		// define all models here
		&models.Board{},
		&models.BoardEvent{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func MigrateAllModels(run bool) error {
	if !run {
		slog.Info("skipping migration")
		return nil
	}
	if err := Migrate(DB); err != nil {
		return err
	}
	slog.Info("database migration completed")
	return nil
}

func CloseDB() error {
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
