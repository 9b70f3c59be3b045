package borrows

import (
	"time"

	"github.com/angelmondragon/bookitzzz-backend/pkg/db/models"
)

const day = 24 * time.Hour

// DueDate adds whole calendar days to start, keeping the wall-clock time.
func DueDate(start time.Time, days int) time.Time {
	return start.AddDate(0, 0, days)
}

// ComputeFine charges finePerDay for every full day past due. The effective
// moment is the return time, or now while the copy is still out.
func ComputeFine(borrow models.Borrow, now time.Time, finePerDay int64) int64 {
	effective := now
	if borrow.ReturnedAt != nil {
		effective = *borrow.ReturnedAt
	}
	if !effective.After(borrow.DueAt) {
		return 0
	}
	days := int64(effective.Sub(borrow.DueAt) / day)
	return days * finePerDay
}

// IsOverdue reports whether an open borrow has passed its due date.
func IsOverdue(borrow models.Borrow, now time.Time) bool {
	return borrow.ReturnedAt == nil && now.After(borrow.DueAt)
}
