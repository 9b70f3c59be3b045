package reservations

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/bookitzzz-backend/pkg/db/models"
	"github.com/angelmondragon/bookitzzz-backend/pkg/enums"
)

// Repository persists reservations and the per-book reservation sequence.
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

// LockBook loads a live book row with FOR UPDATE so sequence bumps serialize.
func (r *Repository) LockBook(ctx context.Context, tx *gorm.DB, bookID uuid.UUID) (*models.Book, error) {
	var book models.Book
	err := r.conn(ctx, tx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND is_deleted = ?", bookID, false).
		First(&book).Error
	if err != nil {
		return nil, err
	}
	return &book, nil
}

// NextPosition bumps the book's reservation sequence and returns the new value.
func (r *Repository) NextPosition(ctx context.Context, tx *gorm.DB, bookID uuid.UUID) (int, error) {
	db := r.conn(ctx, tx)
	result := db.Model(&models.Book{}).
		Where("id = ?", bookID).
		UpdateColumn("reservation_seq", gorm.Expr("reservation_seq + 1"))
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected == 0 {
		return 0, gorm.ErrRecordNotFound
	}
	var seq int
	if err := db.Model(&models.Book{}).
		Where("id = ?", bookID).
		Select("reservation_seq").
		Scan(&seq).Error; err != nil {
		return 0, err
	}
	return seq, nil
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

func (r *Repository) Create(ctx context.Context, tx *gorm.DB, reservation *models.Reservation) error {
	return r.conn(ctx, tx).Create(reservation).Error
}

func (r *Repository) FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Reservation, error) {
	var reservation models.Reservation
	if err := r.conn(ctx, tx).First(&reservation, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &reservation, nil
}

// NextActive returns the lowest-position ACTIVE reservation for the book, or
// nil when the queue is empty.
func (r *Repository) NextActive(ctx context.Context, tx *gorm.DB, bookID uuid.UUID) (*models.Reservation, error) {
	var reservation models.Reservation
	err := r.conn(ctx, tx).
		Where("book_id = ? AND status = ?", bookID, enums.ReservationStatusActive).
		Order("position ASC").
		First(&reservation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &reservation, nil
}

// MarkFulfilled moves an ACTIVE reservation to FULFILLED. It reports false
// when the row was no longer ACTIVE.
func (r *Repository) MarkFulfilled(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time, heldUntil *time.Time) (bool, error) {
	result := r.conn(ctx, tx).
		Model(&models.Reservation{}).
		Where("id = ? AND status = ?", id, enums.ReservationStatusActive).
		Updates(map[string]any{
			"status":       enums.ReservationStatusFulfilled,
			"fulfilled_at": at,
			"held_until":   heldUntil,
			"updated_at":   at,
		})
	return result.RowsAffected > 0, result.Error
}

// MarkCancelled moves an ACTIVE reservation to CANCELLED.
func (r *Repository) MarkCancelled(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time) (bool, error) {
	result := r.conn(ctx, tx).
		Model(&models.Reservation{}).
		Where("id = ? AND status = ?", id, enums.ReservationStatusActive).
		Updates(map[string]any{
			"status":       enums.ReservationStatusCancelled,
			"cancelled_at": at,
			"updated_at":   at,
		})
	return result.RowsAffected > 0, result.Error
}

// CountAhead counts ACTIVE reservations queued before position.
func (r *Repository) CountAhead(ctx context.Context, tx *gorm.DB, bookID uuid.UUID, position int) (int64, error) {
	var count int64
	err := r.conn(ctx, tx).
		Model(&models.Reservation{}).
		Where("book_id = ? AND status = ? AND position < ?", bookID, enums.ReservationStatusActive, position).
		Count(&count).Error
	return count, err
}

// ListForBook returns the book's reservations in queue order. An empty
// status returns every state.
func (r *Repository) ListForBook(ctx context.Context, bookID uuid.UUID, status enums.ReservationStatus) ([]models.Reservation, error) {
	query := r.db.WithContext(ctx).Where("book_id = ?", bookID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var rows []models.Reservation
	if err := query.Order("position ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListForUser returns the member's reservations newest first.
func (r *Repository) ListForUser(ctx context.Context, userID uuid.UUID, status enums.ReservationStatus) ([]models.Reservation, error) {
	query := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var rows []models.Reservation
	if err := query.Order("created_at DESC").Order("position DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// CountOpenHolds counts fulfilled reservations whose hold is unexpired and
// unclaimed, skipping those owned by excludeUser.
func (r *Repository) CountOpenHolds(ctx context.Context, tx *gorm.DB, bookID, excludeUser uuid.UUID, now time.Time) (int64, error) {
	var count int64
	err := r.conn(ctx, tx).
		Model(&models.Reservation{}).
		Where("book_id = ? AND status = ?", bookID, enums.ReservationStatusFulfilled).
		Where("held_until IS NOT NULL AND held_until > ? AND claimed_at IS NULL", now).
		Where("user_id <> ?", excludeUser).
		Count(&count).Error
	return count, err
}

// ClaimHold stamps claimed_at on the member's oldest open hold for the book.
func (r *Repository) ClaimHold(ctx context.Context, tx *gorm.DB, bookID, userID uuid.UUID, now time.Time) (bool, error) {
	db := r.conn(ctx, tx)
	var hold models.Reservation
	err := db.
		Where("book_id = ? AND user_id = ? AND status = ?", bookID, userID, enums.ReservationStatusFulfilled).
		Where("held_until IS NOT NULL AND held_until > ? AND claimed_at IS NULL", now).
		Order("position ASC").
		First(&hold).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	result := db.Model(&models.Reservation{}).
		Where("id = ? AND claimed_at IS NULL", hold.ID).
		Updates(map[string]any{"claimed_at": now, "updated_at": now})
	return result.RowsAffected > 0, result.Error
}

// CountActive counts ACTIVE reservations across all books.
func (r *Repository) CountActive(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Reservation{}).
		Where("status = ?", enums.ReservationStatusActive).
		Count(&count).Error
	return count, err
}
