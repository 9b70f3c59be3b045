package books

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/bookitzzz-backend/pkg/db/models"
	"github.com/angelmondragon/bookitzzz-backend/pkg/pagination"
	"github.com/angelmondragon/bookitzzz-backend/pkg/types"
)

type BookDTO struct {
	ID              uuid.UUID  `json:"id"`
	Title           string     `json:"title"`
	Subtitle        *string    `json:"subtitle,omitempty"`
	Authors         []string   `json:"authors"`
	Description     *string    `json:"description,omitempty"`
	ISBN            *string    `json:"isbn,omitempty"`
	Publisher       *string    `json:"publisher,omitempty"`
	PublishedAt     *time.Time `json:"publishedAt,omitempty"`
	Genres          []string   `json:"genres"`
	CoverURL        *string    `json:"coverUrl,omitempty"`
	CopiesTotal     int        `json:"copiesTotal"`
	CopiesAvailable int        `json:"copiesAvailable"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Rating is the aggregated review score. Average is null when unrated.
type Rating struct {
	Average *decimal.Decimal `json:"average"`
	Count   int64            `json:"count"`
}

type BookDetail struct {
	BookDTO
	Rating Rating `json:"aggregatedRating"`
}

// ListResult is one page of book rows.
type ListResult = types.Page[BookDTO]

type ListParams struct {
	Query string
	Genre string
	Page  pagination.Params
}

// CreateInput is a new catalog entry. CopiesAvailable defaults to CopiesTotal.
type CreateInput struct {
	Title           string     `json:"title" validate:"required,max=500"`
	Subtitle        *string    `json:"subtitle" validate:"omitempty,max=500"`
	Authors         []string   `json:"authors" validate:"omitempty,dive,required,max=200"`
	Description     *string    `json:"description"`
	ISBN            *string    `json:"isbn" validate:"omitempty,isbn"`
	Publisher       *string    `json:"publisher" validate:"omitempty,max=200"`
	PublishedAt     *time.Time `json:"publishedAt"`
	Genres          []string   `json:"genres" validate:"omitempty,dive,required,max=100"`
	CoverURL        *string    `json:"coverUrl" validate:"omitempty,url"`
	CopiesTotal     *int       `json:"copiesTotal" validate:"omitempty,min=0"`
	CopiesAvailable *int       `json:"copiesAvailable" validate:"omitempty,min=0"`
}

// UpdateInput is a partial update. Nil fields are left unchanged.
type UpdateInput struct {
	Title       *string    `json:"title" validate:"omitempty,min=1,max=500"`
	Subtitle    *string    `json:"subtitle" validate:"omitempty,max=500"`
	Authors     []string   `json:"authors" validate:"omitempty,dive,required,max=200"`
	Description *string    `json:"description"`
	ISBN        *string    `json:"isbn" validate:"omitempty,isbn"`
	Publisher   *string    `json:"publisher" validate:"omitempty,max=200"`
	PublishedAt *time.Time `json:"publishedAt"`
	Genres      []string   `json:"genres" validate:"omitempty,dive,required,max=100"`
	CoverURL    *string    `json:"coverUrl" validate:"omitempty,url"`
	CopiesTotal *int       `json:"copiesTotal" validate:"omitempty,min=0"`
}

func toDTO(b models.Book) BookDTO {
	authors := []string(b.Authors)
	if authors == nil {
		authors = []string{}
	}
	genres := []string(b.Genres)
	if genres == nil {
		genres = []string{}
	}
	return BookDTO{
		ID:              b.ID,
		Title:           b.Title,
		Subtitle:        b.Subtitle,
		Authors:         authors,
		Description:     b.Description,
		ISBN:            b.ISBN,
		Publisher:       b.Publisher,
		PublishedAt:     b.PublishedAt,
		Genres:          genres,
		CoverURL:        b.CoverURL,
		CopiesTotal:     b.CopiesTotal,
		CopiesAvailable: b.CopiesAvailable,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
}

func toRating(agg RatingAggregate) Rating {
	rating := Rating{Count: agg.Count}
	if agg.Average != nil && agg.Count > 0 {
		avg := decimal.NewFromFloat(*agg.Average).Round(2)
		rating.Average = &avg
	}
	return rating
}
