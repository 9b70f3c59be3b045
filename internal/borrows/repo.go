package borrows

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/bookitzzz-backend/pkg/db/models"
	"github.com/angelmondragon/bookitzzz-backend/pkg/enums"
	"github.com/angelmondragon/bookitzzz-backend/pkg/pagination"
)

// ListFilter narrows borrow listings. Zero values are ignored.
type ListFilter struct {
	UserID uuid.UUID
	BookID uuid.UUID
	Status enums.BorrowStatus
}

// Repository persists borrows.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return r.db.WithContext(ctx)
}

// FindLiveBook returns the book unless it is missing or soft-deleted.
func (r *Repository) FindLiveBook(ctx context.Context, tx *gorm.DB, bookID uuid.UUID) (*models.Book, error) {
	var book models.Book
	if err := r.conn(ctx, tx).
		Where("id = ? AND is_deleted = ?", bookID, false).
		First(&book).Error; err != nil {
		return nil, err
	}
	return &book, nil
}

// UserExists reports whether an active account exists for id.
func (r *Repository) UserExists(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (bool, error) {
	var count int64
	err := r.conn(ctx, tx).
		Model(&models.User{}).
		Where("id = ? AND is_active = ?", userID, true).
		Count(&count).Error
	return count > 0, err
}

func (r *Repository) Create(ctx context.Context, tx *gorm.DB, borrow *models.Borrow) error {
	return r.conn(ctx, tx).Create(borrow).Error
}

func (r *Repository) FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Borrow, error) {
	var borrow models.Borrow
	if err := r.conn(ctx, tx).Preload("Book").First(&borrow, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &borrow, nil
}

// MarkReturned closes an open borrow. It reports false when the borrow was
// already returned by someone else.
func (r *Repository) MarkReturned(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time) (bool, error) {
	result := r.conn(ctx, tx).
		Model(&models.Borrow{}).
		Where("id = ? AND returned_at IS NULL AND status IN ?", id, []enums.BorrowStatus{enums.BorrowStatusBorrowed, enums.BorrowStatusOverdue}).
		Updates(map[string]any{
			"status":      enums.BorrowStatusReturned,
			"returned_at": at,
			"updated_at":  at,
		})
	return result.RowsAffected > 0, result.Error
}

// SweepCursor is the last (due_at, id) pair seen by a batched scan.
type SweepCursor struct {
	DueAt time.Time
	ID    uuid.UUID
}

// ListOverdueCandidates returns BORROWED rows past due, oldest due first,
// strictly after the cursor when one is given.
func (r *Repository) ListOverdueCandidates(ctx context.Context, now time.Time, after *SweepCursor, limit int) ([]models.Borrow, error) {
	var rows []models.Borrow
	query := r.db.WithContext(ctx).
		Where("status = ? AND returned_at IS NULL AND due_at < ?", enums.BorrowStatusBorrowed, now)
	if after != nil {
		query = query.Where("(due_at > ? OR (due_at = ? AND id > ?))", after.DueAt, after.DueAt, after.ID)
	}
	query = query.Order("due_at ASC").Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// MarkOverdue flips a BORROWED row to OVERDUE. It reports false when the row
// changed state since it was selected.
func (r *Repository) MarkOverdue(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time) (bool, error) {
	result := r.conn(ctx, tx).
		Model(&models.Borrow{}).
		Where("id = ? AND status = ? AND returned_at IS NULL", id, enums.BorrowStatusBorrowed).
		Updates(map[string]any{
			"status":     enums.BorrowStatusOverdue,
			"updated_at": at,
		})
	return result.RowsAffected > 0, result.Error
}

// List returns borrows newest first.
func (r *Repository) List(ctx context.Context, filter ListFilter, page pagination.Params) ([]models.Borrow, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Borrow{})
	if filter.UserID != uuid.Nil {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.BookID != uuid.Nil {
		query = query.Where("book_id = ?", filter.BookID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.Borrow
	if err := query.
		Preload("Book").
		Order("started_at DESC").
		Order("id DESC").
		Offset(page.Offset()).
		Limit(page.Limit).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// CountByStatus counts borrows in the given state.
func (r *Repository) CountByStatus(ctx context.Context, status enums.BorrowStatus) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Borrow{}).
		Where("status = ?", status).
		Count(&count).Error
	return count, err
}
