package webhooks

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fidelis-church/fidelis-backend/internal/db"
)

// Submission is the raw form post, kept for audit and manual follow-up.
type Submission struct {
	SubmissionID string    `gorm:"primaryKey" json:"submission_id"`
	Payload      db.JSONB  `gorm:"type:jsonb;not null" json:"payload"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	City         string    `json:"city"`
	Subscribed   bool      `json:"subscribed"`
	ReceivedAt   time.Time `gorm:"autoCreateTime" json:"received_at"`
}

func (Submission) TableName() string { return "inbox.form_submissions" }

// GormInbox stores submissions once; replays are ignored.
type GormInbox struct {
	DB *gorm.DB
}

func (g GormInbox) Save(ctx context.Context, s Submission) error {
	return g.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&s).Error
}

// Migrate creates the inbox schema and table.
func Migrate(tx *gorm.DB) error {
	if err := db.EnsureSchema(tx, "inbox"); err != nil {
		return fmt.Errorf("ensure schema inbox: %w", err)
	}
	if err := tx.AutoMigrate(&Submission{}); err != nil {
		return fmt.Errorf("auto-migrate inbox: %w", err)
	}
	return nil
}
