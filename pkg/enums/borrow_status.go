package enums

import "fmt"

// BorrowStatus tracks the loan lifecycle.
type BorrowStatus string

const (
	BorrowStatusBorrowed BorrowStatus = "BORROWED"
	BorrowStatusOverdue  BorrowStatus = "OVERDUE"
	BorrowStatusReturned BorrowStatus = "RETURNED"
)

var validBorrowStatuses = []BorrowStatus{
	BorrowStatusBorrowed,
	BorrowStatusOverdue,
	BorrowStatusReturned,
}

func (s BorrowStatus) String() string {
	return string(s)
}

func (s BorrowStatus) IsValid() bool {
	for _, candidate := range validBorrowStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsOpen reports whether the copy is still out with the borrower.
func (s BorrowStatus) IsOpen() bool {
	return s == BorrowStatusBorrowed || s == BorrowStatusOverdue
}

// ParseBorrowStatus converts raw input into a BorrowStatus.
func ParseBorrowStatus(value string) (BorrowStatus, error) {
	for _, candidate := range validBorrowStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid borrow status %q", value)
}
