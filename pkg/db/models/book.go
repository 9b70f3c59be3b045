package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbtypes "github.com/angelmondragon/bookitzzz-backend/pkg/db/types"
)

// Book is a catalog title together with its copy counters.
type Book struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	Title           string              `gorm:"column:title;not null"`
	Subtitle        *string             `gorm:"column:subtitle"`
	Authors         dbtypes.StringArray `gorm:"column:authors;not null"`
	Description     *string             `gorm:"column:description"`
	ISBN            *string             `gorm:"column:isbn;index"`
	Publisher       *string             `gorm:"column:publisher"`
	PublishedAt     *time.Time          `gorm:"column:published_at"`
	Genres          dbtypes.StringArray `gorm:"column:genres;not null"`
	CoverURL        *string             `gorm:"column:cover_url"`
	CopiesTotal     int                 `gorm:"column:copies_total;not null"`
	CopiesAvailable int                 `gorm:"column:copies_available;not null"`
	ReservationSeq  int                 `gorm:"column:reservation_seq;not null;default:0"`
	IsDeleted       bool                `gorm:"column:is_deleted;not null;default:false;index"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime;index"`
	UpdatedAt       time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (b *Book) BeforeCreate(*gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}
