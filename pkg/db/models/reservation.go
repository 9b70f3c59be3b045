package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/bookitzzz-backend/pkg/enums"
)

// Reservation is a queue entry for a book. Position comes from the book's
// reservation sequence and is unique per book.
type Reservation struct {
	ID          uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	UserID      uuid.UUID               `gorm:"column:user_id;type:uuid;not null;index"`
	BookID      uuid.UUID               `gorm:"column:book_id;type:uuid;not null;uniqueIndex:ux_reservations_book_position,priority:1"`
	Position    int                     `gorm:"column:position;not null;uniqueIndex:ux_reservations_book_position,priority:2"`
	Status      enums.ReservationStatus `gorm:"column:status;type:text;not null;index"`
	FulfilledAt *time.Time              `gorm:"column:fulfilled_at"`
	HeldUntil   *time.Time              `gorm:"column:held_until"`
	ClaimedAt   *time.Time              `gorm:"column:claimed_at"`
	CancelledAt *time.Time              `gorm:"column:cancelled_at"`
	CreatedAt   time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (r *Reservation) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
