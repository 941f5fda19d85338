package events

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/fidelis-church/fidelis-backend/internal/db"
)

// Migrate creates the event tables in the church schema.
func Migrate(tx *gorm.DB) error {
	if err := db.EnsureSchema(tx, "church"); err != nil {
		return fmt.Errorf("ensure schema church: %w", err)
	}
	if err := tx.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`).Error; err != nil {
		return fmt.Errorf("enable uuid-ossp: %w", err)
	}
	if err := tx.AutoMigrate(&Event{}, &RSVP{}); err != nil {
		return fmt.Errorf("auto-migrate events: %w", err)
	}
	return nil
}
