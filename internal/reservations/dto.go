package reservations

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/bookitzzz-backend/pkg/db/models"
	"github.com/angelmondragon/bookitzzz-backend/pkg/enums"
)

// QueueEntry is a reservation as reported to clients.
type QueueEntry struct {
	ID          uuid.UUID               `json:"id"`
	UserID      uuid.UUID               `json:"userId"`
	BookID      uuid.UUID               `json:"bookId"`
	Position    int                     `json:"position"`
	Ahead       int64                   `json:"ahead"`
	Status      enums.ReservationStatus `json:"status"`
	CreatedAt   time.Time               `json:"createdAt"`
	FulfilledAt *time.Time              `json:"fulfilledAt,omitempty"`
	HeldUntil   *time.Time              `json:"heldUntil,omitempty"`
	ClaimedAt   *time.Time              `json:"claimedAt,omitempty"`
	CancelledAt *time.Time              `json:"cancelledAt,omitempty"`
}

func toQueueEntry(r models.Reservation, ahead int64) QueueEntry {
	return QueueEntry{
		ID:          r.ID,
		UserID:      r.UserID,
		BookID:      r.BookID,
		Position:    r.Position,
		Ahead:       ahead,
		Status:      r.Status,
		CreatedAt:   r.CreatedAt,
		FulfilledAt: r.FulfilledAt,
		HeldUntil:   r.HeldUntil,
		ClaimedAt:   r.ClaimedAt,
		CancelledAt: r.CancelledAt,
	}
}

// CancelInput identifies the reservation and who is cancelling it.
type CancelInput struct {
	ReservationID uuid.UUID
	ActorID       uuid.UUID
	ActorRole     enums.UserRole
}
