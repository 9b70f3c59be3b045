package reviews

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/bookitzzz-backend/pkg/db/models"
	"github.com/angelmondragon/bookitzzz-backend/pkg/types"
)

type CreateInput struct {
	Rating  int     `json:"rating" validate:"required,min=1,max=5"`
	Content *string `json:"content" validate:"omitempty,max=5000"`
}

type Author struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

type ReviewDTO struct {
	ID        uuid.UUID `json:"id"`
	BookID    uuid.UUID `json:"bookId"`
	Rating    int       `json:"rating"`
	Content   *string   `json:"content,omitempty"`
	Author    *Author   `json:"user,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ListResult is one page of review rows.
type ListResult = types.Page[ReviewDTO]

func toDTO(r models.Review) ReviewDTO {
	dto := ReviewDTO{
		ID:        r.ID,
		BookID:    r.BookID,
		Rating:    r.Rating,
		Content:   r.Content,
		CreatedAt: r.CreatedAt,
	}
	if r.User != nil {
		dto.Author = &Author{ID: r.User.ID, Name: r.User.Name}
	}
	return dto
}
