package borrows

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/angelmondragon/bookitzzz-backend/pkg/db/models"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestComputeFine(t *testing.T) {
	due := date(2025, time.November, 20)
	returnedLate := date(2025, time.November, 22)
	returnedSameDay := due
	returnedPartial := due.Add(36 * time.Hour)

	cases := []struct {
		name     string
		returned *time.Time
		now      time.Time
		want     int64
	}{
		{"returned two days late", &returnedLate, date(2025, time.December, 1), 100},
		{"returned on due date", &returnedSameDay, date(2025, time.December, 1), 0},
		{"partial day rounds down", &returnedPartial, date(2025, time.December, 1), 50},
		{"open and five days late", nil, date(2025, time.November, 25), 250},
		{"open and not yet due", nil, date(2025, time.November, 19), 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := models.Borrow{DueAt: due, ReturnedAt: tc.returned}
			assert.Equal(t, tc.want, ComputeFine(b, tc.now, 50))
		})
	}
}

func TestComputeFineUsesConfiguredRate(t *testing.T) {
	due := date(2025, time.November, 1)
	b := models.Borrow{DueAt: due}
	assert.Equal(t, int64(30), ComputeFine(b, due.Add(3*day), 10))
	assert.Equal(t, int64(0), ComputeFine(b, due.Add(3*day), 0))
}

func TestDueDate(t *testing.T) {
	assert.Equal(t, date(2025, time.December, 6), DueDate(date(2025, time.November, 22), 14))

	start := time.Date(2025, time.January, 31, 15, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, time.February, 14, 15, 30, 0, 0, time.UTC), DueDate(start, 14))
}

func TestIsOverdue(t *testing.T) {
	due := date(2025, time.November, 20)
	returned := due.Add(day)
	assert.True(t, IsOverdue(models.Borrow{DueAt: due}, due.Add(time.Minute)))
	assert.False(t, IsOverdue(models.Borrow{DueAt: due}, due))
	assert.False(t, IsOverdue(models.Borrow{DueAt: due, ReturnedAt: &returned}, due.Add(2*day)))
}
