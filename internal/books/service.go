package books

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/bookitzzz-backend/internal/audit"
	"github.com/angelmondragon/bookitzzz-backend/pkg/config"
	"github.com/angelmondragon/bookitzzz-backend/pkg/db/models"
	dbtypes "github.com/angelmondragon/bookitzzz-backend/pkg/db/types"
	"github.com/angelmondragon/bookitzzz-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bookitzzz-backend/pkg/errors"
	"github.com/angelmondragon/bookitzzz-backend/pkg/logger"
	"github.com/angelmondragon/bookitzzz-backend/pkg/outbox"
	"github.com/angelmondragon/bookitzzz-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type Service interface {
	List(ctx context.Context, params ListParams) (*ListResult, error)
	Get(ctx context.Context, id uuid.UUID) (*BookDetail, error)
	Create(ctx context.Context, actorID uuid.UUID, input CreateInput) (*BookDTO, error)
	Update(ctx context.Context, actorID uuid.UUID, id uuid.UUID, input UpdateInput) (*BookDTO, error)
	SoftDelete(ctx context.Context, actorID uuid.UUID, id uuid.UUID) error
	Import(ctx context.Context, actorID *uuid.UUID, src io.Reader) (*ImportResult, error)
}

type ServiceParams struct {
	DB      txRunner
	Repo    *Repository
	Audit   audit.Recorder
	Outbox  outbox.Emitter
	Logger  *logger.Logger
	Library config.LibraryConfig
}

type service struct {
	db      txRunner
	repo    *Repository
	audit   audit.Recorder
	outbox  outbox.Emitter
	logg    *logger.Logger
	defPage int
	maxPage int
}

func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("book repository required")
	}
	if params.Audit == nil {
		return nil, fmt.Errorf("audit recorder required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		db:      params.DB,
		repo:    params.Repo,
		audit:   params.Audit,
		outbox:  params.Outbox,
		logg:    params.Logger,
		defPage: params.Library.DefaultPageSize,
		maxPage: params.Library.MaxPageSize,
	}, nil
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	page := params.Page.Normalize(s.defPage, s.maxPage)
	rows, total, err := s.repo.Search(ctx, SearchFilter{Query: params.Query, Genre: params.Genre}, page)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "search books")
	}
	data := make([]BookDTO, 0, len(rows))
	for _, row := range rows {
		data = append(data, toDTO(row))
	}
	return types.NewPage(data, page, total), nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*BookDetail, error) {
	book, err := s.repo.FindLive(ctx, nil, id)
	if err != nil {
		return nil, notFoundOr(err, "load book")
	}
	agg, err := s.repo.Ratings(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "aggregate ratings")
	}
	return &BookDetail{BookDTO: toDTO(*book), Rating: toRating(agg)}, nil
}

func (s *service) Create(ctx context.Context, actorID uuid.UUID, input CreateInput) (*BookDTO, error) {
	book, err := newBook(input)
	if err != nil {
		return nil, err
	}
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.Create(ctx, tx, book); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create book")
		}
		actor := actorID
		if err := s.audit.Record(ctx, tx, audit.Entry{
			ActorID:  &actor,
			Action:   enums.AuditActionCreateBook,
			Entity:   enums.AuditEntityBook,
			EntityID: book.ID.String(),
			Data:     map[string]any{"title": book.Title, "copiesTotal": book.CopiesTotal, "copiesAvailable": book.CopiesAvailable},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "audit create")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logCtx := s.logg.WithBookID(s.logg.WithUserID(ctx, actorID.String()), book.ID.String())
	s.logg.Info(logCtx, "book created")
	dto := toDTO(*book)
	return &dto, nil
}

func newBook(input CreateInput) (*models.Book, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "title is required")
	}
	total := 1
	if input.CopiesTotal != nil {
		total = *input.CopiesTotal
	}
	available := total
	if input.CopiesAvailable != nil {
		available = *input.CopiesAvailable
	}
	if total < 0 || available < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "copy counts must not be negative")
	}
	if available > total {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "copiesAvailable cannot exceed copiesTotal")
	}
	return &models.Book{
		Title:           title,
		Subtitle:        trimmed(input.Subtitle),
		Authors:         cleanList(input.Authors),
		Description:     trimmed(input.Description),
		ISBN:            trimmed(input.ISBN),
		Publisher:       trimmed(input.Publisher),
		PublishedAt:     input.PublishedAt,
		Genres:          cleanList(input.Genres),
		CoverURL:        trimmed(input.CoverURL),
		CopiesTotal:     total,
		CopiesAvailable: available,
	}, nil
}

func (s *service) Update(ctx context.Context, actorID uuid.UUID, id uuid.UUID, input UpdateInput) (*BookDTO, error) {
	var updated *models.Book
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		current, err := s.repo.FindLive(ctx, tx, id)
		if err != nil {
			return notFoundOr(err, "load book")
		}

		fields := map[string]any{}
		if input.Title != nil {
			title := strings.TrimSpace(*input.Title)
			if title == "" {
				return pkgerrors.New(pkgerrors.CodeValidation, "title cannot be blank")
			}
			fields["title"] = title
		}
		if input.Subtitle != nil {
			fields["subtitle"] = trimmed(input.Subtitle)
		}
		if input.Authors != nil {
			fields["authors"] = cleanList(input.Authors)
		}
		if input.Description != nil {
			fields["description"] = trimmed(input.Description)
		}
		if input.ISBN != nil {
			fields["isbn"] = trimmed(input.ISBN)
		}
		if input.Publisher != nil {
			fields["publisher"] = trimmed(input.Publisher)
		}
		if input.PublishedAt != nil {
			fields["published_at"] = input.PublishedAt
		}
		if input.Genres != nil {
			fields["genres"] = cleanList(input.Genres)
		}
		if input.CoverURL != nil {
			fields["cover_url"] = trimmed(input.CoverURL)
		}
		if err := s.repo.UpdateFields(ctx, tx, id, fields); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update book")
		}

		if input.CopiesTotal != nil {
			if *input.CopiesTotal < 0 {
				return pkgerrors.New(pkgerrors.CodeValidation, "copiesTotal must not be negative")
			}
			ok, err := s.repo.ResizeCopies(ctx, tx, id, *input.CopiesTotal-current.CopiesTotal)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resize copies")
			}
			if !ok {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "copiesTotal is below the number of copies on loan").
					WithDetails(map[string]any{"onLoan": current.CopiesTotal - current.CopiesAvailable})
			}
		}

		updated, err = s.repo.FindLive(ctx, tx, id)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload book")
		}

		changed := make([]string, 0, len(fields)+1)
		for name := range fields {
			changed = append(changed, name)
		}
		if input.CopiesTotal != nil {
			changed = append(changed, "copies_total")
		}
		slices.Sort(changed)
		actor := actorID
		if err := s.audit.Record(ctx, tx, audit.Entry{
			ActorID:  &actor,
			Action:   enums.AuditActionUpdateBook,
			Entity:   enums.AuditEntityBook,
			EntityID: id.String(),
			Data: map[string]any{
				"fields":          changed,
				"copiesTotal":     updated.CopiesTotal,
				"copiesAvailable": updated.CopiesAvailable,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "audit update")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logCtx := s.logg.WithBookID(s.logg.WithUserID(ctx, actorID.String()), id.String())
	s.logg.Info(logCtx, "book updated")
	dto := toDTO(*updated)
	return &dto, nil
}

func (s *service) SoftDelete(ctx context.Context, actorID uuid.UUID, id uuid.UUID) error {
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		deleted, err := s.repo.SoftDelete(ctx, tx, id)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete book")
		}
		if !deleted {
			return pkgerrors.New(pkgerrors.CodeNotFound, "book not found")
		}
		actor := actorID
		if err := s.audit.Record(ctx, tx, audit.Entry{
			ActorID:  &actor,
			Action:   enums.AuditActionSoftDelete,
			Entity:   enums.AuditEntityBook,
			EntityID: id.String(),
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "audit delete")
		}
		s.logg.Info(s.logg.WithBookID(ctx, id.String()), "book soft-deleted")
		return nil
	})
}

func notFoundOr(err error, action string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "book not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, action)
}

func trimmed(value *string) *string {
	if value == nil {
		return nil
	}
	v := strings.TrimSpace(*value)
	if v == "" {
		return nil
	}
	return &v
}

func cleanList(values []string) dbtypes.StringArray {
	out := make(dbtypes.StringArray, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
