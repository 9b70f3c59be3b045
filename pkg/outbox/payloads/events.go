package payloads

import (
	"time"

	"github.com/google/uuid"
)

// BorrowCreatedEvent lets the notification service schedule due-soon reminders.
type BorrowCreatedEvent struct {
	BorrowID  uuid.UUID `json:"borrowId"`
	UserID    uuid.UUID `json:"userId"`
	BookID    uuid.UUID `json:"bookId"`
	BookTitle string    `json:"bookTitle"`
	StartedAt time.Time `json:"startedAt"`
	DueAt     time.Time `json:"dueAt"`
}

type BorrowReturnedEvent struct {
	BorrowID   uuid.UUID `json:"borrowId"`
	UserID     uuid.UUID `json:"userId"`
	BookID     uuid.UUID `json:"bookId"`
	ReturnedAt time.Time `json:"returnedAt"`
	WasOverdue bool      `json:"wasOverdue"`
	Fine       int64     `json:"fine"`
}

type BorrowOverdueEvent struct {
	BorrowID uuid.UUID `json:"borrowId"`
	UserID   uuid.UUID `json:"userId"`
	BookID   uuid.UUID `json:"bookId"`
	DueAt    time.Time `json:"dueAt"`
	MarkedAt time.Time `json:"markedAt"`
}

type ReservationCreatedEvent struct {
	ReservationID uuid.UUID `json:"reservationId"`
	UserID        uuid.UUID `json:"userId"`
	BookID        uuid.UUID `json:"bookId"`
	Position      int       `json:"position"`
}

// ReservationFulfilledEvent tells the holder a copy came back.
type ReservationFulfilledEvent struct {
	ReservationID uuid.UUID  `json:"reservationId"`
	UserID        uuid.UUID  `json:"userId"`
	BookID        uuid.UUID  `json:"bookId"`
	Position      int        `json:"position"`
	FulfilledAt   time.Time  `json:"fulfilledAt"`
	HeldUntil     *time.Time `json:"heldUntil,omitempty"`
}

type ReservationCancelledEvent struct {
	ReservationID uuid.UUID `json:"reservationId"`
	UserID        uuid.UUID `json:"userId"`
	BookID        uuid.UUID `json:"bookId"`
	CancelledBy   uuid.UUID `json:"cancelledBy"`
}

type BooksImportedEvent struct {
	ImportID uuid.UUID `json:"import_id"`
	Imported int       `json:"imported"`
	Skipped  int       `json:"skipped"`
}

// Addressed is implemented by payloads meant for a single member. The relay
// copies the recipient into the message attributes so subscribers can filter.
type Addressed interface {
	Recipient() uuid.UUID
}

func (e BorrowCreatedEvent) Recipient() uuid.UUID        { return e.UserID }
func (e BorrowReturnedEvent) Recipient() uuid.UUID       { return e.UserID }
func (e BorrowOverdueEvent) Recipient() uuid.UUID        { return e.UserID }
func (e ReservationCreatedEvent) Recipient() uuid.UUID   { return e.UserID }
func (e ReservationFulfilledEvent) Recipient() uuid.UUID { return e.UserID }
func (e ReservationCancelledEvent) Recipient() uuid.UUID { return e.UserID }
