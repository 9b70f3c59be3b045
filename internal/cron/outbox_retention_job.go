package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/bookitzzz-backend/pkg/logger"
)

const (
	OutboxRetentionJobName = "outbox-retention"

	defaultPublishedRetentionDays = 30
	defaultDLQRetentionDays       = 90
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type publishedPruner interface {
	DeletePublishedBefore(tx *gorm.DB, cutoff time.Time) (int64, error)
}

type deadLetterPruner interface {
	DeleteFailedBefore(tx *gorm.DB, cutoff time.Time) (int64, error)
}

// OutboxRetentionJobParams configure the retention job. Day counts of zero
// fall back to 30 for delivered events and 90 for dead letters.
type OutboxRetentionJobParams struct {
	Logger           *logger.Logger
	DB               txRunner
	Outbox           publishedPruner
	DeadLetters      deadLetterPruner
	RetentionDays    int
	DLQRetentionDays int
}

type outboxRetentionJob struct {
	logg        *logger.Logger
	db          txRunner
	outbox      publishedPruner
	deadLetters deadLetterPruner
	published   int
	dlq         int
	now         func() time.Time
}

// NewOutboxRetentionJob prunes delivered notification events and, when a
// dead-letter store is given, old dead letters. Undelivered events are never
// touched.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.DB == nil:
		return nil, errors.New("db runner required")
	case params.Outbox == nil:
		return nil, errors.New("outbox repository required")
	}
	job := &outboxRetentionJob{
		logg:        params.Logger,
		db:          params.DB,
		outbox:      params.Outbox,
		deadLetters: params.DeadLetters,
		published:   defaultPublishedRetentionDays,
		dlq:         defaultDLQRetentionDays,
		now:         time.Now,
	}
	if params.RetentionDays > 0 {
		job.published = params.RetentionDays
	}
	if params.DLQRetentionDays > 0 {
		job.dlq = params.DLQRetentionDays
	}
	return job, nil
}

func (j *outboxRetentionJob) Name() string { return OutboxRetentionJobName }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	today := j.now().UTC()
	publishedCutoff := today.AddDate(0, 0, -j.published)
	dlqCutoff := today.AddDate(0, 0, -j.dlq)

	var published, deadLetters int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		n, err := j.outbox.DeletePublishedBefore(tx, publishedCutoff)
		if err != nil {
			return fmt.Errorf("prune published events: %w", err)
		}
		published = n
		if j.deadLetters == nil {
			return nil
		}
		if n, err = j.deadLetters.DeleteFailedBefore(tx, dlqCutoff); err != nil {
			return fmt.Errorf("prune dead letters: %w", err)
		}
		deadLetters = n
		return nil
	})
	if err != nil {
		return fmt.Errorf("outbox retention: %w", err)
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"published_cutoff":    publishedCutoff,
		"published_deleted":   published,
		"dead_letter_cutoff":  dlqCutoff,
		"dead_letter_deleted": deadLetters,
	}), "outbox retention finished")
	return nil
}
