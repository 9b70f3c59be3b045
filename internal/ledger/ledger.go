package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/bookitzzz-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/bookitzzz-backend/pkg/errors"
)

// Ledger mutates the copy counters of a book. Every method runs on the
// transaction supplied by the caller and never opens its own.
type Ledger interface {
	Checkout(ctx context.Context, tx *gorm.DB, bookID uuid.UUID, heldForOthers int) error
	ReturnCopy(ctx context.Context, tx *gorm.DB, bookID uuid.UUID) error
}

type ledger struct{}

// New returns the counter ledger.
func New() Ledger {
	return ledger{}
}

// Checkout takes one copy. heldForOthers is the number of available copies
// reserved for other members and must stay on the shelf.
func (ledger) Checkout(ctx context.Context, tx *gorm.DB, bookID uuid.UUID, heldForOthers int) error {
	if tx == nil {
		return fmt.Errorf("transaction required")
	}
	if heldForOthers < 0 {
		heldForOthers = 0
	}
	result := tx.WithContext(ctx).
		Model(&models.Book{}).
		Where("id = ? AND copies_available > ?", bookID, heldForOthers).
		UpdateColumn("copies_available", gorm.Expr("copies_available - 1"))
	if result.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, result.Error, "decrement copies")
	}
	if result.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeOutOfStock, "no copies available; place a reservation instead").
			WithDetails(map[string]any{"bookId": bookID.String()})
	}
	return nil
}

// ReturnCopy puts one copy back on the shelf.
func (ledger) ReturnCopy(ctx context.Context, tx *gorm.DB, bookID uuid.UUID) error {
	if tx == nil {
		return fmt.Errorf("transaction required")
	}
	result := tx.WithContext(ctx).
		Model(&models.Book{}).
		Where("id = ? AND copies_available < copies_total", bookID).
		UpdateColumn("copies_available", gorm.Expr("copies_available + 1"))
	if result.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, result.Error, "increment copies")
	}
	if result.RowsAffected == 0 {
		return pkgerrors.Newf(pkgerrors.CodeInvariantViolation, "return would exceed copies_total for book %s", bookID)
	}
	return nil
}
