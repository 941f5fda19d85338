package events

import (
	"time"

	"github.com/google/uuid"
)

// RSVP statuses.
const (
	StatusGoing    = "going"
	StatusMaybe    = "maybe"
	StatusDeclined = "declined"
)

// Event is a gathering visitors can RSVP to. A zero Capacity means unlimited.
type Event struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()" json:"id"`
	City        string    `gorm:"not null" json:"city"`
	CityKey     string    `gorm:"not null;index:idx_event_city_start,priority:1" json:"-"`
	Title       string    `gorm:"not null" json:"title"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	StartsAt    time.Time `gorm:"not null;index:idx_event_city_start,priority:2" json:"starts_at"`
	Capacity    int       `gorm:"not null;default:0" json:"capacity"`
	CreatedBy   string    `json:"created_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	RSVPs []RSVP `gorm:"foreignKey:EventID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Event) TableName() string {
	return "church.events"
}

// RSVP is one answer to an event, unique per email.
type RSVP struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()" json:"id"`
	EventID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_rsvp_event_email" json:"event_id"`
	Name      string    `gorm:"not null" json:"name"`
	Email     string    `gorm:"not null;uniqueIndex:idx_rsvp_event_email" json:"email"`
	Phone     string    `json:"phone,omitempty"`
	Status    string    `gorm:"not null" json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (RSVP) TableName() string {
	return "church.event_rsvps"
}

type EventInput struct {
	City        string    `json:"city" validate:"max=80"`
	Title       string    `json:"title" validate:"required,max=120"`
	Description string    `json:"description" validate:"max=2000"`
	Location    string    `json:"location" validate:"max=200"`
	StartsAt    time.Time `json:"starts_at" validate:"required"`
	Capacity    int       `json:"capacity" validate:"gte=0"`
}

type RSVPInput struct {
	Name   string `json:"name" validate:"required,max=120"`
	Email  string `json:"email" validate:"required,email,max=254"`
	Phone  string `json:"phone" validate:"omitempty,max=32"`
	Status string `json:"status" validate:"required,oneof=going maybe declined"`
}

// Summary counts answers. RemainingCapacity is nil for unlimited events.
type Summary struct {
	Going             int  `json:"going"`
	Maybe             int  `json:"maybe"`
	Declined          int  `json:"declined"`
	RemainingCapacity *int `json:"remaining_capacity"`
}
