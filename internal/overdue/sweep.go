package overdue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/bookitzzz-backend/internal/audit"
	"github.com/angelmondragon/bookitzzz-backend/internal/borrows"
	"github.com/angelmondragon/bookitzzz-backend/pkg/db/models"
	"github.com/angelmondragon/bookitzzz-backend/pkg/enums"
	"github.com/angelmondragon/bookitzzz-backend/pkg/logger"
	"github.com/angelmondragon/bookitzzz-backend/pkg/metrics"
	"github.com/angelmondragon/bookitzzz-backend/pkg/outbox"
	"github.com/angelmondragon/bookitzzz-backend/pkg/outbox/payloads"
)

const (
	JobName          = "overdue-sweep"
	defaultBatchSize = 200
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type borrowRepo interface {
	ListOverdueCandidates(ctx context.Context, now time.Time, after *borrows.SweepCursor, limit int) ([]models.Borrow, error)
	MarkOverdue(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time) (bool, error)
}

type Params struct {
	Logger    *logger.Logger
	DB        txRunner
	Borrows   borrowRepo
	Audit     audit.Recorder
	Outbox    outbox.Emitter
	Metrics   *metrics.LoanMetrics
	BatchSize int
}

// Sweeper flips past-due BORROWED loans to OVERDUE. It satisfies cron.Job.
type Sweeper struct {
	logg      *logger.Logger
	db        txRunner
	borrows   borrowRepo
	audit     audit.Recorder
	outbox    outbox.Emitter
	metrics   *metrics.LoanMetrics
	batchSize int
	now       func() time.Time
}

func NewSweeper(params Params) (*Sweeper, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Borrows == nil {
		return nil, fmt.Errorf("borrow repository required")
	}
	if params.Audit == nil {
		return nil, fmt.Errorf("audit recorder required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &Sweeper{
		logg:      params.Logger,
		db:        params.DB,
		borrows:   params.Borrows,
		audit:     params.Audit,
		outbox:    params.Outbox,
		metrics:   params.Metrics,
		batchSize: batch,
		now:       time.Now,
	}, nil
}

func (s *Sweeper) Name() string { return JobName }

func (s *Sweeper) Run(ctx context.Context) error {
	_, err := s.Sweep(ctx)
	return err
}

// Sweep processes every overdue candidate and returns how many borrows it
// transitioned. Rows that fail are skipped and reported in the returned error.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now().UTC()
	var (
		processed int
		errs      error
		cursor    *borrows.SweepCursor
	)

	for {
		if err := ctx.Err(); err != nil {
			return processed, multierr.Append(errs, err)
		}
		batch, err := s.borrows.ListOverdueCandidates(ctx, now, cursor, s.batchSize)
		if err != nil {
			return processed, multierr.Append(errs, fmt.Errorf("list overdue candidates: %w", err))
		}
		for _, borrow := range batch {
			marked, err := s.markOne(ctx, borrow, now)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("borrow %s: %w", borrow.ID, err))
				continue
			}
			if marked {
				processed++
			}
		}
		if len(batch) < s.batchSize {
			break
		}
		last := batch[len(batch)-1]
		cursor = &borrows.SweepCursor{DueAt: last.DueAt, ID: last.ID}
	}

	s.metrics.AddOverdue(processed)
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"processed": processed,
		"failed":    len(multierr.Errors(errs)),
		"cutoff":    now,
	})
	if errs != nil {
		s.logg.Warn(logCtx, "overdue sweep finished with failures")
	} else {
		s.logg.Info(logCtx, "overdue sweep complete")
	}
	return processed, errs
}

func (s *Sweeper) markOne(ctx context.Context, borrow models.Borrow, now time.Time) (bool, error) {
	var marked bool
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		updated, err := s.borrows.MarkOverdue(ctx, tx, borrow.ID, now)
		if err != nil {
			return err
		}
		if !updated {
			// returned or already marked since the scan
			return nil
		}
		if err := s.audit.Record(ctx, tx, audit.Entry{
			Action:   enums.AuditActionMarkOverdue,
			Entity:   enums.AuditEntityBorrow,
			EntityID: borrow.ID.String(),
			Data: map[string]any{
				"userId": borrow.UserID,
				"bookId": borrow.BookID,
				"dueAt":  borrow.DueAt,
			},
		}); err != nil {
			return err
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventBorrowOverdue,
			AggregateType: enums.AggregateBorrow,
			AggregateID:   borrow.ID,
			OccurredAt:    now,
			Data: payloads.BorrowOverdueEvent{
				BorrowID: borrow.ID,
				UserID:   borrow.UserID,
				BookID:   borrow.BookID,
				DueAt:    borrow.DueAt,
				MarkedAt: now,
			},
		}); err != nil {
			return err
		}
		marked = true
		return nil
	})
	return marked, err
}
