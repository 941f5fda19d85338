package visitors

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/fidelis-church/fidelis-backend/internal/db"
)

// Migrate creates the church schema and the visitors table.
func Migrate(tx *gorm.DB) error {
	if err := db.EnsureSchema(tx, "church"); err != nil {
		return fmt.Errorf("ensure schema church: %w", err)
	}
	if err := tx.AutoMigrate(&Visitor{}); err != nil {
		return fmt.Errorf("auto-migrate visitors: %w", err)
	}
	return nil
}
