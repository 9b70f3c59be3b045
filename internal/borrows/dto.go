package borrows

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/bookitzzz-backend/pkg/db/models"
	"github.com/angelmondragon/bookitzzz-backend/pkg/enums"
	"github.com/angelmondragon/bookitzzz-backend/pkg/pagination"
	"github.com/angelmondragon/bookitzzz-backend/pkg/types"
)

// BorrowDTO is a borrow with its fine computed at read time.
type BorrowDTO struct {
	ID           uuid.UUID          `json:"id"`
	UserID       uuid.UUID          `json:"userId"`
	BookID       uuid.UUID          `json:"bookId"`
	BookTitle    string             `json:"bookTitle,omitempty"`
	StartedAt    time.Time          `json:"startedAt"`
	DueAt        time.Time          `json:"dueAt"`
	ReturnedAt   *time.Time         `json:"returnedAt,omitempty"`
	Status       enums.BorrowStatus `json:"status"`
	Overdue      bool               `json:"overdue"`
	ReturnedLate bool               `json:"returnedLate"`
	Fine         int64              `json:"fine"`
}

// ReturnResult reports the closed borrow and who, if anyone, was next in line.
type ReturnResult struct {
	Borrow               BorrowDTO  `json:"borrow"`
	FulfilledReservation *uuid.UUID `json:"fulfilledReservationId,omitempty"`
}

// ListResult is one page of borrow rows.
type ListResult = types.Page[BorrowDTO]

// Actor is the authenticated caller of a borrow operation.
type Actor struct {
	UserID uuid.UUID
	Role   enums.UserRole
}

type CheckoutInput struct {
	Actor  Actor
	UserID uuid.UUID
	BookID uuid.UUID
}

type ListParams struct {
	Actor  Actor
	Filter ListFilter
	Page   pagination.Params
}

func toDTO(b models.Borrow, now time.Time, finePerDay int64) BorrowDTO {
	dto := BorrowDTO{
		ID:           b.ID,
		UserID:       b.UserID,
		BookID:       b.BookID,
		StartedAt:    b.StartedAt,
		DueAt:        b.DueAt,
		ReturnedAt:   b.ReturnedAt,
		Status:       b.Status,
		Overdue:      b.Status == enums.BorrowStatusOverdue || IsOverdue(b, now),
		ReturnedLate: b.ReturnedAt != nil && b.ReturnedAt.After(b.DueAt),
		Fine:         ComputeFine(b, now, finePerDay),
	}
	if b.Book != nil {
		dto.BookTitle = b.Book.Title
	}
	return dto
}
