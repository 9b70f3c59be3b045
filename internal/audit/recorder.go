package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/bookitzzz-backend/pkg/db/models"
	"github.com/angelmondragon/bookitzzz-backend/pkg/enums"
	"github.com/angelmondragon/bookitzzz-backend/pkg/pagination"
)

// Entry is one audit record to append.
type Entry struct {
	ActorID  *uuid.UUID
	Action   enums.AuditAction
	Entity   enums.AuditEntity
	EntityID string
	Data     any
}

// Filter narrows audit listings.
type Filter struct {
	Entity   string
	EntityID string
	Action   string
}

// Recorder appends audit rows on the caller's transaction.
type Recorder interface {
	Record(ctx context.Context, tx *gorm.DB, entry Entry) error
}

// Repository reads and writes audit_logs.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Record inserts the entry using tx.
func (r *Repository) Record(ctx context.Context, tx *gorm.DB, entry Entry) error {
	if tx == nil {
		return fmt.Errorf("transaction required")
	}
	if entry.Action == "" || entry.Entity == "" || entry.EntityID == "" {
		return fmt.Errorf("audit action, entity and entity id are required")
	}
	data, err := json.Marshal(entry.Data)
	if err != nil {
		return fmt.Errorf("marshal audit data: %w", err)
	}
	row := models.AuditLog{
		ActorID:  entry.ActorID,
		Action:   string(entry.Action),
		Entity:   string(entry.Entity),
		EntityID: entry.EntityID,
		Data:     data,
	}
	return tx.WithContext(ctx).Create(&row).Error
}

// List returns audit rows newest first.
func (r *Repository) List(ctx context.Context, filter Filter, page pagination.Params) ([]models.AuditLog, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.AuditLog{})
	if filter.Entity != "" {
		query = query.Where("entity = ?", filter.Entity)
	}
	if filter.EntityID != "" {
		query = query.Where("entity_id = ?", filter.EntityID)
	}
	if filter.Action != "" {
		query = query.Where("action = ?", filter.Action)
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.AuditLog
	if err := query.
		Order("created_at DESC").
		Order("id DESC").
		Offset(page.Offset()).
		Limit(page.Limit).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}
