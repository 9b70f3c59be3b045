package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type column of outbox_events.
type OutboxAggregateType string

const (
	AggregateBorrow      OutboxAggregateType = "borrow"
	AggregateReservation OutboxAggregateType = "reservation"
	AggregateBook        OutboxAggregateType = "book"
)

// OutboxEventType maps to the event_type column of outbox_events.
type OutboxEventType string

const (
	EventBorrowCreated        OutboxEventType = "borrow_created"
	EventBorrowReturned       OutboxEventType = "borrow_returned"
	EventBorrowOverdue        OutboxEventType = "borrow_overdue"
	EventReservationCreated   OutboxEventType = "reservation_created"
	EventReservationFulfilled OutboxEventType = "reservation_fulfilled"
	EventReservationCancelled OutboxEventType = "reservation_cancelled"
	EventBooksImported        OutboxEventType = "books_imported"
)

// eventAggregates is the closed set of event types and the aggregate each
// one is keyed by.
var eventAggregates = map[OutboxEventType]OutboxAggregateType{
	EventBorrowCreated:        AggregateBorrow,
	EventBorrowReturned:       AggregateBorrow,
	EventBorrowOverdue:        AggregateBorrow,
	EventReservationCreated:   AggregateReservation,
	EventReservationFulfilled: AggregateReservation,
	EventReservationCancelled: AggregateReservation,
	EventBooksImported:        AggregateBook,
}

// OutboxEventTypes lists every known event type.
func OutboxEventTypes() []OutboxEventType {
	return []OutboxEventType{
		EventBorrowCreated,
		EventBorrowReturned,
		EventBorrowOverdue,
		EventReservationCreated,
		EventReservationFulfilled,
		EventReservationCancelled,
		EventBooksImported,
	}
}

func (e OutboxEventType) IsValid() bool {
	_, ok := eventAggregates[e]
	return ok
}

// Aggregate returns the aggregate type rows of this event carry, or "" for
// unknown events.
func (e OutboxEventType) Aggregate() OutboxAggregateType {
	return eventAggregates[e]
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	if e := OutboxEventType(value); e.IsValid() {
		return e, nil
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// OutboxDLQErrorReason records why a row was parked in outbox_dlq.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

func (r OutboxDLQErrorReason) IsValid() bool {
	return r == OutboxDLQReasonMaxAttempts || r == OutboxDLQReasonNonRetryable
}
