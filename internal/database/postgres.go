package database

import (
	"fmt"
	"log/slog"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"vipgate-bot/internal/config"
	"vipgate-bot/internal/models"
)

func ConnectPostgres(cfg *config.Config, log *slog.Logger) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Info("Connected to PostgreSQL", "host", cfg.DBHost, "db", cfg.DBName)

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate creates or updates the subscribers, payment_attempts and
// manual_approvals tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Subscriber{}, &models.PaymentAttempt{}, &models.ManualApproval{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}
