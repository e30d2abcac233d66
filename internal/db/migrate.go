package db

import (
	"fmt"

	"github.com/microapp-studio/runcore/internal/models"
	"gorm.io/gorm"
)

// Migrate creates or updates every table owned by the service.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: migrate: nil connection")
	}
	if errMigrate := conn.AutoMigrate(
		&models.User{},
		&models.Microapp{},
		&models.Subscription{},
		&models.BillingCycle{},
		&models.TopUp{},
		&models.Run{},
		&models.UsageEvent{},
		&models.Setting{},
	); errMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errMigrate)
	}
	return nil
}
