package database

import (
	"fmt"
	"time"

	"github.com/wnt/battled/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens the postgres database behind dsn and migrates the schema
func Connect(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN is empty")
	}

	db, err := gorm.Open(postgres.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Set connection pool settings
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	// The daemon is the only writer; keep the pool small
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:      logger.Default.LogMode(logger.Silent),
		PrepareStmt: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Migrate creates or updates the battle schema
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Token{},
		&models.Battle{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	// Open battles are listed newest first on every pass
	if err := db.Exec("CREATE INDEX IF NOT EXISTS idx_battles_status_created_at ON battles(status, created_at)").Error; err != nil {
		return fmt.Errorf("failed to create battle index: %w", err)
	}

	return nil
}
