package borrows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/bookitzzz-backend/internal/audit"
	"github.com/angelmondragon/bookitzzz-backend/internal/ledger"
	"github.com/angelmondragon/bookitzzz-backend/internal/reservations"
	"github.com/angelmondragon/bookitzzz-backend/pkg/config"
	"github.com/angelmondragon/bookitzzz-backend/pkg/db/models"
	"github.com/angelmondragon/bookitzzz-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bookitzzz-backend/pkg/errors"
	"github.com/angelmondragon/bookitzzz-backend/pkg/logger"
	"github.com/angelmondragon/bookitzzz-backend/pkg/metrics"
	"github.com/angelmondragon/bookitzzz-backend/pkg/outbox"
	"github.com/angelmondragon/bookitzzz-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/bookitzzz-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type Service interface {
	Checkout(ctx context.Context, input CheckoutInput) (*BorrowDTO, error)
	Return(ctx context.Context, actor Actor, borrowID uuid.UUID) (*ReturnResult, error)
	Get(ctx context.Context, actor Actor, borrowID uuid.UUID) (*BorrowDTO, error)
	List(ctx context.Context, params ListParams) (*ListResult, error)
}

type ServiceParams struct {
	DB      txRunner
	Repo    *Repository
	Ledger  ledger.Ledger
	Queue   reservations.Queue
	Outbox  outbox.Emitter
	Audit   audit.Recorder
	Logger  *logger.Logger
	Metrics *metrics.LoanMetrics
	Library config.LibraryConfig
}

type service struct {
	db         txRunner
	repo       *Repository
	ledger     ledger.Ledger
	queue      reservations.Queue
	outbox     outbox.Emitter
	audit      audit.Recorder
	logg       *logger.Logger
	metrics    *metrics.LoanMetrics
	loanDays   int
	finePerDay int64
	maxPage    int
	defPage    int
	now        func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("borrow repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if params.Queue == nil {
		return nil, fmt.Errorf("reservation queue required")
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
	loanDays := params.Library.LoanPeriodDays
	if loanDays <= 0 {
		loanDays = 14
	}
	return &service{
		db:         params.DB,
		repo:       params.Repo,
		ledger:     params.Ledger,
		queue:      params.Queue,
		outbox:     params.Outbox,
		audit:      params.Audit,
		logg:       params.Logger,
		metrics:    params.Metrics,
		loanDays:   loanDays,
		finePerDay: params.Library.FinePerDay,
		maxPage:    params.Library.MaxPageSize,
		defPage:    params.Library.DefaultPageSize,
		now:        time.Now,
	}, nil
}

func (s *service) Checkout(ctx context.Context, input CheckoutInput) (*BorrowDTO, error) {
	userID := input.UserID
	if userID == uuid.Nil {
		userID = input.Actor.UserID
	}
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if input.BookID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "book id is required")
	}
	if userID != input.Actor.UserID && !input.Actor.Role.IsStaff() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "members may only borrow for themselves")
	}

	now := s.now().UTC()
	var created models.Borrow
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		book, err := s.repo.FindLiveBook(ctx, tx, input.BookID)
		if err != nil {
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

		held, err := s.queue.HeldForOthers(ctx, tx, book.ID, userID)
		if err != nil {
			return err
		}
		if err := s.ledger.Checkout(ctx, tx, book.ID, held); err != nil {
			return err
		}
		if _, err := s.queue.ClaimHold(ctx, tx, book.ID, userID); err != nil {
			return err
		}

		created = models.Borrow{
			UserID:    userID,
			BookID:    book.ID,
			StartedAt: now,
			DueAt:     DueDate(now, s.loanDays),
			Status:    enums.BorrowStatusBorrowed,
		}
		if err := s.repo.Create(ctx, tx, &created); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create borrow")
		}
		created.Book = book

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventBorrowCreated,
			AggregateType: enums.AggregateBorrow,
			AggregateID:   created.ID,
			Actor:         &outbox.ActorRef{UserID: input.Actor.UserID, Role: string(input.Actor.Role)},
			OccurredAt:    now,
			Data: payloads.BorrowCreatedEvent{
				BorrowID:  created.ID,
				UserID:    userID,
				BookID:    book.ID,
				BookTitle: book.Title,
				StartedAt: created.StartedAt,
				DueAt:     created.DueAt,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit borrow created")
		}
		return nil
	})
	if err != nil {
		s.metrics.IncCheckout(checkoutOutcome(err))
		return nil, err
	}

	s.metrics.IncCheckout(metrics.OutcomeSuccess)
	logCtx := s.logg.WithBorrowID(s.logg.WithBookID(s.logg.WithUserID(ctx, userID.String()), input.BookID.String()), created.ID.String())
	s.logg.Info(s.logg.WithField(logCtx, "due_at", created.DueAt), "book checked out")

	dto := toDTO(created, now, s.finePerDay)
	return &dto, nil
}

func (s *service) Return(ctx context.Context, actor Actor, borrowID uuid.UUID) (*ReturnResult, error) {
	if borrowID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "borrow id is required")
	}

	now := s.now().UTC()
	var (
		closed    models.Borrow
		fulfilled *uuid.UUID
	)
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		borrow, err := s.repo.FindByID(ctx, tx, borrowID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "borrow not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load borrow")
		}
		onBehalf := borrow.UserID != actor.UserID
		if onBehalf && !actor.Role.IsStaff() {
			return pkgerrors.New(pkgerrors.CodeForbidden, "cannot return another member's borrow")
		}
		if borrow.Status == enums.BorrowStatusReturned || borrow.ReturnedAt != nil {
			return pkgerrors.New(pkgerrors.CodeAlreadyReturned, "borrow already returned")
		}

		wasOverdue := borrow.Status == enums.BorrowStatusOverdue || IsOverdue(*borrow, now)
		updated, err := s.repo.MarkReturned(ctx, tx, borrow.ID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "close borrow")
		}
		if !updated {
			return pkgerrors.New(pkgerrors.CodeAlreadyReturned, "borrow already returned")
		}
		borrow.Status = enums.BorrowStatusReturned
		borrow.ReturnedAt = &now

		if err := s.ledger.ReturnCopy(ctx, tx, borrow.BookID); err != nil {
			return err
		}

		next, err := s.queue.FulfillNext(ctx, tx, borrow.BookID)
		if err != nil {
			return err
		}
		if next != nil {
			id := next.ID
			fulfilled = &id
		}

		if onBehalf {
			actorID := actor.UserID
			if err := s.audit.Record(ctx, tx, audit.Entry{
				ActorID:  &actorID,
				Action:   enums.AuditActionManualReturn,
				Entity:   enums.AuditEntityBorrow,
				EntityID: borrow.ID.String(),
				Data:     map[string]any{"userId": borrow.UserID, "bookId": borrow.BookID},
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "audit return")
			}
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventBorrowReturned,
			AggregateType: enums.AggregateBorrow,
			AggregateID:   borrow.ID,
			Actor:         &outbox.ActorRef{UserID: actor.UserID, Role: string(actor.Role)},
			OccurredAt:    now,
			Data: payloads.BorrowReturnedEvent{
				BorrowID:   borrow.ID,
				UserID:     borrow.UserID,
				BookID:     borrow.BookID,
				ReturnedAt: now,
				WasOverdue: wasOverdue,
				Fine:       ComputeFine(*borrow, now, s.finePerDay),
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit borrow returned")
		}

		closed = *borrow
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncReturn()
	logCtx := s.logg.WithBorrowID(s.logg.WithBookID(ctx, closed.BookID.String()), closed.ID.String())
	s.logg.Info(s.logg.WithField(logCtx, "next_in_queue", fulfilled != nil), "book returned")

	return &ReturnResult{
		Borrow:               toDTO(closed, now, s.finePerDay),
		FulfilledReservation: fulfilled,
	}, nil
}

func (s *service) Get(ctx context.Context, actor Actor, borrowID uuid.UUID) (*BorrowDTO, error) {
	borrow, err := s.repo.FindByID(ctx, nil, borrowID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "borrow not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load borrow")
	}
	if borrow.UserID != actor.UserID && !actor.Role.IsStaff() {
		// hide other members' loans
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "borrow not found")
	}
	dto := toDTO(*borrow, s.now().UTC(), s.finePerDay)
	return &dto, nil
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	filter := params.Filter
	if !params.Actor.Role.IsStaff() {
		filter.UserID = params.Actor.UserID
	}
	page := params.Page.Normalize(s.defPage, s.maxPage)

	rows, total, err := s.repo.List(ctx, filter, page)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list borrows")
	}
	now := s.now().UTC()
	data := make([]BorrowDTO, 0, len(rows))
	for _, row := range rows {
		data = append(data, toDTO(row, now, s.finePerDay))
	}
	return types.NewPage(data, page, total), nil
}

func checkoutOutcome(err error) string {
	switch {
	case pkgerrors.IsCode(err, pkgerrors.CodeOutOfStock):
		return metrics.OutcomeOutOfStock
	case pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
		return metrics.OutcomeNotFound
	default:
		return metrics.OutcomeError
	}
}
