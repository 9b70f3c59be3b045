package reservations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/bookitzzz-backend/internal/audit"
	"github.com/angelmondragon/bookitzzz-backend/pkg/config"
	"github.com/angelmondragon/bookitzzz-backend/pkg/db"
	"github.com/angelmondragon/bookitzzz-backend/pkg/db/models"
	"github.com/angelmondragon/bookitzzz-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bookitzzz-backend/pkg/errors"
	"github.com/angelmondragon/bookitzzz-backend/pkg/logger"
	"github.com/angelmondragon/bookitzzz-backend/pkg/metrics"
	"github.com/angelmondragon/bookitzzz-backend/pkg/outbox"
	"github.com/angelmondragon/bookitzzz-backend/pkg/outbox/payloads"
)

const positionConstraint = "ux_reservations_book_position"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Queue is the slice of the reservation service the borrow lifecycle needs.
type Queue interface {
	FulfillNext(ctx context.Context, tx *gorm.DB, bookID uuid.UUID) (*models.Reservation, error)
	HeldForOthers(ctx context.Context, tx *gorm.DB, bookID, userID uuid.UUID) (int, error)
	ClaimHold(ctx context.Context, tx *gorm.DB, bookID, userID uuid.UUID) (bool, error)
}

type Service interface {
	Queue
	Reserve(ctx context.Context, userID, bookID uuid.UUID) (*QueueEntry, error)
	Cancel(ctx context.Context, input CancelInput) (*QueueEntry, error)
	Get(ctx context.Context, id uuid.UUID) (*QueueEntry, error)
	ListForBook(ctx context.Context, bookID uuid.UUID, status enums.ReservationStatus) ([]QueueEntry, error)
	ListForUser(ctx context.Context, userID uuid.UUID, status enums.ReservationStatus) ([]QueueEntry, error)
}

type ServiceParams struct {
	DB      txRunner
	Repo    *Repository
	Outbox  outbox.Emitter
	Audit   audit.Recorder
	Logger  *logger.Logger
	Metrics *metrics.LoanMetrics
	Library config.LibraryConfig
}

type service struct {
	db      txRunner
	repo    *Repository
	outbox  outbox.Emitter
	audit   audit.Recorder
	logg    *logger.Logger
	metrics *metrics.LoanMetrics
	holds   bool
	holdFor time.Duration
	now     func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("reservation repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Audit == nil {
		return nil, fmt.Errorf("audit recorder required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		db:      params.DB,
		repo:    params.Repo,
		outbox:  params.Outbox,
		audit:   params.Audit,
		logg:    params.Logger,
		metrics: params.Metrics,
		holds:   params.Library.HoldsEnabled(),
		holdFor: params.Library.ReservationHold,
		now:     time.Now,
	}, nil
}

func (s *service) Reserve(ctx context.Context, userID, bookID uuid.UUID) (*QueueEntry, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if bookID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "book id is required")
	}

	var entry QueueEntry
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.repo.LockBook(ctx, tx, bookID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "book not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load book")
		}
		exists, err := s.repo.UserExists(ctx, tx, userID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
		}
		if !exists {
			return pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}

		position, err := s.repo.NextPosition(ctx, tx, bookID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "assign reservation position")
		}

		reservation := models.Reservation{
			UserID:   userID,
			BookID:   bookID,
			Position: position,
			Status:   enums.ReservationStatusActive,
		}
		if err := s.repo.Create(ctx, tx, &reservation); err != nil {
			if db.IsUniqueViolation(err, positionConstraint) {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "reservation queue changed; retry")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create reservation")
		}

		ahead, err := s.repo.CountAhead(ctx, tx, bookID, position)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count queue")
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventReservationCreated,
			AggregateType: enums.AggregateReservation,
			AggregateID:   reservation.ID,
			Actor:         &outbox.ActorRef{UserID: userID},
			Data: payloads.ReservationCreatedEvent{
				ReservationID: reservation.ID,
				UserID:        userID,
				BookID:        bookID,
				Position:      position,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit reservation created")
		}

		entry = toQueueEntry(reservation, ahead)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncReservation(string(enums.ReservationStatusActive))
	logCtx := s.logg.WithBookID(s.logg.WithUserID(ctx, userID.String()), bookID.String())
	s.logg.Info(s.logg.WithField(logCtx, "position", entry.Position), "reservation created")
	return &entry, nil
}

// FulfillNext hands the next queued member the returned copy. It runs on the
// caller's transaction and returns nil when nobody is waiting.
func (s *service) FulfillNext(ctx context.Context, tx *gorm.DB, bookID uuid.UUID) (*models.Reservation, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	now := s.now().UTC()

	for {
		next, err := s.repo.NextActive(ctx, tx, bookID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load next reservation")
		}
		if next == nil {
			return nil, nil
		}

		var heldUntil *time.Time
		if s.holds {
			until := now.Add(s.holdFor)
			heldUntil = &until
		}

		updated, err := s.repo.MarkFulfilled(ctx, tx, next.ID, now, heldUntil)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fulfill reservation")
		}
		if !updated {
			// cancelled concurrently; move on to the next entry
			continue
		}

		next.Status = enums.ReservationStatusFulfilled
		next.FulfilledAt = &now
		next.HeldUntil = heldUntil

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventReservationFulfilled,
			AggregateType: enums.AggregateReservation,
			AggregateID:   next.ID,
			Data: payloads.ReservationFulfilledEvent{
				ReservationID: next.ID,
				UserID:        next.UserID,
				BookID:        next.BookID,
				Position:      next.Position,
				FulfilledAt:   now,
				HeldUntil:     heldUntil,
			},
		}); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit reservation fulfilled")
		}

		s.metrics.IncReservation(string(enums.ReservationStatusFulfilled))
		logCtx := s.logg.WithBookID(s.logg.WithUserID(ctx, next.UserID.String()), bookID.String())
		s.logg.Info(logCtx, "reservation fulfilled")
		return next, nil
	}
}

// HeldForOthers reports how many available copies must stay on the shelf for
// other members' holds. Always zero under first-come-first-served.
func (s *service) HeldForOthers(ctx context.Context, tx *gorm.DB, bookID, userID uuid.UUID) (int, error) {
	if !s.holds {
		return 0, nil
	}
	count, err := s.repo.CountOpenHolds(ctx, tx, bookID, userID, s.now().UTC())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count holds")
	}
	return int(count), nil
}

// ClaimHold records that the holder picked up their copy.
func (s *service) ClaimHold(ctx context.Context, tx *gorm.DB, bookID, userID uuid.UUID) (bool, error) {
	if !s.holds {
		return false, nil
	}
	claimed, err := s.repo.ClaimHold(ctx, tx, bookID, userID, s.now().UTC())
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim hold")
	}
	return claimed, nil
}

func (s *service) Cancel(ctx context.Context, input CancelInput) (*QueueEntry, error) {
	if input.ReservationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reservation id is required")
	}

	var entry QueueEntry
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		reservation, err := s.repo.FindByID(ctx, tx, input.ReservationID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "reservation not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load reservation")
		}
		onBehalf := reservation.UserID != input.ActorID
		if onBehalf && !input.ActorRole.IsStaff() {
			return pkgerrors.New(pkgerrors.CodeForbidden, "cannot cancel another member's reservation")
		}
		if reservation.Status != enums.ReservationStatusActive {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "only active reservations can be cancelled").
				WithDetails(map[string]any{"status": reservation.Status})
		}

		now := s.now().UTC()
		updated, err := s.repo.MarkCancelled(ctx, tx, reservation.ID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel reservation")
		}
		if !updated {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "only active reservations can be cancelled")
		}
		reservation.Status = enums.ReservationStatusCancelled
		reservation.CancelledAt = &now

		if onBehalf {
			actor := input.ActorID
			if err := s.audit.Record(ctx, tx, audit.Entry{
				ActorID:  &actor,
				Action:   enums.AuditActionCancelHold,
				Entity:   enums.AuditEntityReservation,
				EntityID: reservation.ID.String(),
				Data:     map[string]any{"userId": reservation.UserID, "bookId": reservation.BookID},
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "audit cancellation")
			}
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventReservationCancelled,
			AggregateType: enums.AggregateReservation,
			AggregateID:   reservation.ID,
			Actor:         &outbox.ActorRef{UserID: input.ActorID, Role: string(input.ActorRole)},
			Data: payloads.ReservationCancelledEvent{
				ReservationID: reservation.ID,
				UserID:        reservation.UserID,
				BookID:        reservation.BookID,
				CancelledBy:   input.ActorID,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit reservation cancelled")
		}

		entry = toQueueEntry(*reservation, 0)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncReservation(string(enums.ReservationStatusCancelled))
	return &entry, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*QueueEntry, error) {
	reservation, err := s.repo.FindByID(ctx, nil, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "reservation not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load reservation")
	}
	entry, err := s.withAhead(ctx, *reservation)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *service) ListForBook(ctx context.Context, bookID uuid.UUID, status enums.ReservationStatus) ([]QueueEntry, error) {
	rows, err := s.repo.ListForBook(ctx, bookID, status)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list reservations")
	}
	entries := make([]QueueEntry, 0, len(rows))
	var ahead int64
	for _, row := range rows {
		// rows are in position order, so ahead is the running count of ACTIVE rows
		entries = append(entries, toQueueEntry(row, aheadFor(row, ahead)))
		if row.Status == enums.ReservationStatusActive {
			ahead++
		}
	}
	return entries, nil
}

func (s *service) ListForUser(ctx context.Context, userID uuid.UUID, status enums.ReservationStatus) ([]QueueEntry, error) {
	rows, err := s.repo.ListForUser(ctx, userID, status)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list reservations")
	}
	entries := make([]QueueEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := s.withAhead(ctx, row)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *service) withAhead(ctx context.Context, r models.Reservation) (QueueEntry, error) {
	if r.Status != enums.ReservationStatusActive {
		return toQueueEntry(r, 0), nil
	}
	ahead, err := s.repo.CountAhead(ctx, nil, r.BookID, r.Position)
	if err != nil {
		return QueueEntry{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count queue")
	}
	return toQueueEntry(r, ahead), nil
}

func aheadFor(r models.Reservation, activeBefore int64) int64 {
	if r.Status != enums.ReservationStatusActive {
		return 0
	}
	return activeBefore
}
