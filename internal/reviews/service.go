package reviews

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/bookitzzz-backend/internal/audit"
	"github.com/angelmondragon/bookitzzz-backend/pkg/config"
	"github.com/angelmondragon/bookitzzz-backend/pkg/db/models"
	"github.com/angelmondragon/bookitzzz-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bookitzzz-backend/pkg/errors"
	"github.com/angelmondragon/bookitzzz-backend/pkg/logger"
	"github.com/angelmondragon/bookitzzz-backend/pkg/pagination"
	"github.com/angelmondragon/bookitzzz-backend/pkg/types"
)

const (
	minRating = 1
	maxRating = 5
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type Service interface {
	Create(ctx context.Context, userID, bookID uuid.UUID, input CreateInput) (*ReviewDTO, error)
	List(ctx context.Context, bookID uuid.UUID, page pagination.Params) (*ListResult, error)
}

type ServiceParams struct {
	DB      txRunner
	Repo    *Repository
	Audit   audit.Recorder
	Logger  *logger.Logger
	Library config.LibraryConfig
}

type service struct {
	db      txRunner
	repo    *Repository
	audit   audit.Recorder
	logg    *logger.Logger
	defPage int
	maxPage int
}

func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("review repository required")
	}
	if params.Audit == nil {
		return nil, fmt.Errorf("audit recorder required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		db:      params.DB,
		repo:    params.Repo,
		audit:   params.Audit,
		logg:    params.Logger,
		defPage: params.Library.DefaultPageSize,
		maxPage: params.Library.MaxPageSize,
	}, nil
}

func (s *service) Create(ctx context.Context, userID, bookID uuid.UUID, input CreateInput) (*ReviewDTO, error) {
	if input.Rating < minRating || input.Rating > maxRating {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "rating must be between 1 and 5").
			WithDetails(map[string]any{"rating": input.Rating})
	}
	live, err := s.repo.BookIsLive(ctx, bookID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load book")
	}
	if !live {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "book not found")
	}

	review := &models.Review{BookID: bookID, UserID: userID, Rating: input.Rating}
	if input.Content != nil {
		if content := strings.TrimSpace(*input.Content); content != "" {
			review.Content = &content
		}
	}
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.Create(ctx, tx, review); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create review")
		}
		actor := userID
		if err := s.audit.Record(ctx, tx, audit.Entry{
			ActorID:  &actor,
			Action:   enums.AuditActionCreateReview,
			Entity:   enums.AuditEntityReview,
			EntityID: review.ID.String(),
			Data:     map[string]any{"bookId": bookID, "rating": review.Rating},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "audit review")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithBookID(s.logg.WithUserID(ctx, userID.String()), bookID.String()), "review created")
	dto := toDTO(*review)
	return &dto, nil
}

func (s *service) List(ctx context.Context, bookID uuid.UUID, page pagination.Params) (*ListResult, error) {
	page = page.Normalize(s.defPage, s.maxPage)
	rows, total, err := s.repo.ListForBook(ctx, bookID, page)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list reviews")
	}
	data := make([]ReviewDTO, 0, len(rows))
	for _, row := range rows {
		data = append(data, toDTO(row))
	}
	return types.NewPage(data, page, total), nil
}
