package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditLog is an append-only record of a system or staff action.
type AuditLog struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	ActorID   *uuid.UUID      `gorm:"column:actor_id;type:uuid"`
	Action    string          `gorm:"column:action;not null;index"`
	Entity    string          `gorm:"column:entity;not null"`
	EntityID  string          `gorm:"column:entity_id;not null;index"`
	Data      json.RawMessage `gorm:"column:data;type:jsonb;not null"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (a *AuditLog) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
