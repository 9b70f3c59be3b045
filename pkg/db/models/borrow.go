package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/bookitzzz-backend/pkg/enums"
)

// Borrow is one loan of one copy. Rows are never deleted.
type Borrow struct {
	ID         uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	UserID     uuid.UUID          `gorm:"column:user_id;type:uuid;not null;index"`
	BookID     uuid.UUID          `gorm:"column:book_id;type:uuid;not null;index"`
	StartedAt  time.Time          `gorm:"column:started_at;not null"`
	DueAt      time.Time          `gorm:"column:due_at;not null;index"`
	ReturnedAt *time.Time         `gorm:"column:returned_at"`
	Status     enums.BorrowStatus `gorm:"column:status;type:text;not null;index"`
	CreatedAt  time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time          `gorm:"column:updated_at;autoUpdateTime"`

	Book *Book `gorm:"foreignKey:BookID"`
}

func (b *Borrow) BeforeCreate(*gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}
