package auth

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/fidelis-church/fidelis-backend/internal/db"
)

// Migrate creates the app_auth schema and its tables.
func Migrate(tx *gorm.DB) error {
	if err := db.EnsureSchema(tx, "app_auth"); err != nil {
		return fmt.Errorf("ensure schema app_auth: %w", err)
	}
	if err := tx.AutoMigrate(&User{}, &Session{}); err != nil {
		return fmt.Errorf("auto-migrate auth tables: %w", err)
	}
	return nil
}
