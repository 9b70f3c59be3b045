package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/bookitzzz-backend/pkg/db/models"
	"github.com/angelmondragon/bookitzzz-backend/pkg/pagination"
	"github.com/angelmondragon/bookitzzz-backend/pkg/types"
)

// EntryDTO is an audit row as returned to staff.
type EntryDTO struct {
	ID        uuid.UUID       `json:"id"`
	ActorID   *uuid.UUID      `json:"actorId,omitempty"`
	Action    string          `json:"action"`
	Entity    string          `json:"entity"`
	EntityID  string          `json:"entityId"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"createdAt"`
}

// ListResult is one page of audit entries.
type ListResult = types.Page[EntryDTO]

func ToDTO(row models.AuditLog) EntryDTO {
	data := row.Data
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	return EntryDTO{
		ID:        row.ID,
		ActorID:   row.ActorID,
		Action:    row.Action,
		Entity:    row.Entity,
		EntityID:  row.EntityID,
		Data:      data,
		CreatedAt: row.CreatedAt,
	}
}

// NewListResult maps a page of rows.
func NewListResult(rows []models.AuditLog, page pagination.Params, total int64) *ListResult {
	data := make([]EntryDTO, 0, len(rows))
	for _, row := range rows {
		data = append(data, ToDTO(row))
	}
	return types.NewPage(data, page, total)
}
