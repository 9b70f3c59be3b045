package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/bookitzzz-backend/pkg/db/models"
)

const defaultDLQListLimit = 50

// ErrNotDeadLettered is returned by RequeueTx for an unknown event id.
var ErrNotDeadLettered = errors.New("event is not in the dead-letter queue")

// DLQRepository stores outbox rows the relay gave up on.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

// InsertTx writes entry on the relay's batch transaction.
func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if entry.ErrorMessage != nil {
		msg := truncate(*entry.ErrorMessage)
		entry.ErrorMessage = &msg
	}
	if entry.FailedAt.IsZero() {
		entry.FailedAt = time.Now().UTC()
	}
	return tx.Create(&entry).Error
}

// FindByEventID returns nil when the event was never dead-lettered.
func (r *DLQRepository) FindByEventID(ctx context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error) {
	var entry models.OutboxDLQ
	err := r.db.WithContext(ctx).Where("event_id = ?", eventID).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// List returns the most recent failures first.
func (r *DLQRepository) List(ctx context.Context, limit int) ([]models.OutboxDLQ, error) {
	if limit <= 0 {
		limit = defaultDLQListLimit
	}
	var entries []models.OutboxDLQ
	err := r.db.WithContext(ctx).
		Order("failed_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// RequeueTx hands a dead-lettered event back to the relay with a fresh
// attempt budget and removes it from the queue. The outbox row is restored
// from the DLQ copy when retention already pruned it.
func (r *DLQRepository) RequeueTx(tx *gorm.DB, eventID uuid.UUID) (*models.OutboxEvent, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	var entry models.OutboxDLQ
	err := tx.Where("event_id = ?", eventID).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotDeadLettered
	}
	if err != nil {
		return nil, fmt.Errorf("load dlq entry: %w", err)
	}

	var event models.OutboxEvent
	err = tx.Where("id = ?", eventID).Take(&event).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		event = models.OutboxEvent{
			ID:            entry.EventID,
			EventType:     entry.EventType,
			AggregateType: entry.AggregateType,
			AggregateID:   entry.AggregateID,
			Payload:       entry.Payload,
		}
		if err := tx.Create(&event).Error; err != nil {
			return nil, fmt.Errorf("restore outbox row: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("load outbox row: %w", err)
	case event.Published():
		return nil, fmt.Errorf("event %s was already published", eventID)
	default:
		if err := tx.Model(&event).Updates(map[string]any{
			"attempt_count": 0,
			"last_error":    nil,
		}).Error; err != nil {
			return nil, fmt.Errorf("reset outbox row: %w", err)
		}
		event.AttemptCount = 0
		event.LastError = nil
	}

	if err := tx.Delete(&entry).Error; err != nil {
		return nil, fmt.Errorf("delete dlq entry: %w", err)
	}
	return &event, nil
}

// DeleteFailedBefore prunes entries that failed before cutoff.
func (r *DLQRepository) DeleteFailedBefore(tx *gorm.DB, cutoff time.Time) (int64, error) {
	res := tx.Where("failed_at < ?", cutoff).Delete(&models.OutboxDLQ{})
	return res.RowsAffected, res.Error
}
