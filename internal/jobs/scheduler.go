// Package jobs assembles the scheduled library jobs for the cron worker and
// libraryctl.
package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/angelmondragon/bookitzzz-backend/internal/audit"
	"github.com/angelmondragon/bookitzzz-backend/internal/borrows"
	"github.com/angelmondragon/bookitzzz-backend/internal/cron"
	"github.com/angelmondragon/bookitzzz-backend/internal/overdue"
	"github.com/angelmondragon/bookitzzz-backend/pkg/config"
	"github.com/angelmondragon/bookitzzz-backend/pkg/logger"
	"github.com/angelmondragon/bookitzzz-backend/pkg/metrics"
	"github.com/angelmondragon/bookitzzz-backend/pkg/outbox"
)

type database interface {
	DB() *gorm.DB
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Params wire NewScheduler. A nil Registerer disables job metrics.
type Params struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         database
	Locker     cron.Locker
	Registerer prometheus.Registerer
}

// NewScheduler registers the overdue sweep and the outbox retention job,
// each guarded by its own lock and bounded by the lock TTL.
func NewScheduler(params Params) (*cron.Service, error) {
	switch {
	case params.Config == nil:
		return nil, errors.New("config required")
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.DB == nil:
		return nil, errors.New("database required")
	case params.Locker == nil:
		return nil, errors.New("locker required")
	}
	cfg, logg := params.Config, params.Logger

	conn := params.DB.DB()
	outboxRepo := outbox.NewRepository(conn)
	sweeper, err := overdue.NewSweeper(overdue.Params{
		Logger:    logg,
		DB:        params.DB,
		Borrows:   borrows.NewRepository(conn),
		Audit:     audit.NewRepository(conn),
		Outbox:    outbox.NewService(outboxRepo, logg),
		Metrics:   metrics.NewLoanMetrics(params.Registerer),
		BatchSize: cfg.Cron.SweepBatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("create overdue sweeper: %w", err)
	}

	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:           logg,
		DB:               params.DB,
		Outbox:           outboxRepo,
		DeadLetters:      outbox.NewDLQRepository(conn),
		RetentionDays:    cfg.Outbox.RetentionDays,
		DLQRetentionDays: cfg.Outbox.DLQRetentionDays,
	})
	if err != nil {
		return nil, fmt.Errorf("create outbox retention job: %w", err)
	}

	return cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   cron.NewRegistry(sweeper, retention),
		Locker:     params.Locker,
		Metrics:    metrics.NewCronJobMetrics(params.Registerer),
		Interval:   cfg.Cron.Interval,
		JobTimeout: cfg.Cron.LockTTL,
	})
}
