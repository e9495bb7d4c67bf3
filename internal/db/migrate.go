package db

import (
	"fmt"

	"github.com/zulandar/roundhouse/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model that needs a table.
func AllModels() []interface{} {
	return []interface{}{
		&models.Conversation{},
		&models.ConversationMessage{},
		&models.GenerationLog{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
