package reviews

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/bookitzzz-backend/pkg/db/models"
	"github.com/angelmondragon/bookitzzz-backend/pkg/pagination"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// BookIsLive reports whether the book exists and is not soft-deleted.
func (r *Repository) BookIsLive(ctx context.Context, bookID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Book{}).
		Where("id = ? AND is_deleted = ?", bookID, false).
		Count(&count).Error
	return count > 0, err
}

// Create inserts review on tx.
func (r *Repository) Create(ctx context.Context, tx *gorm.DB, review *models.Review) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(review).Error
}

// ListForBook returns a book's reviews newest first with their authors.
func (r *Repository) ListForBook(ctx context.Context, bookID uuid.UUID, page pagination.Params) ([]models.Review, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Review{}).Where("book_id = ?", bookID)

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []models.Review
	err := query.
		Preload("User").
		Order("created_at DESC").
		Order("id DESC").
		Offset(page.Offset()).
		Limit(page.Limit).
		Find(&rows).Error
	return rows, total, err
}
