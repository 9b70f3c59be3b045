package books

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/bookitzzz-backend/internal/audit"
	"github.com/angelmondragon/bookitzzz-backend/pkg/db/models"
	"github.com/angelmondragon/bookitzzz-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bookitzzz-backend/pkg/errors"
	"github.com/angelmondragon/bookitzzz-backend/pkg/outbox"
	"github.com/angelmondragon/bookitzzz-backend/pkg/outbox/payloads"
)

// Column order of an import file. The first row is always a header.
const (
	colTitle = iota
	colSubtitle
	colAuthors
	colDescription
	colISBN
	colPublisher
	colPublishedAt
	colGenres
	colCoverURL
	colCopiesTotal
	colCopiesAvailable
)

const listSeparator = ";"

type ImportError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

type ImportResult struct {
	ImportID uuid.UUID     `json:"import_id"`
	Imported int           `json:"imported"`
	Skipped  int           `json:"skipped"`
	Errors   []ImportError `json:"errors"`
}

type importRow struct {
	line int
	book *models.Book
}

// Import loads books from CSV. Bad rows are skipped and reported; the good
// rows are written in a single transaction.
func (s *service) Import(ctx context.Context, actorID *uuid.UUID, src io.Reader) (*ImportResult, error) {
	if src == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "import file is required")
	}
	rows, result, err := parseImport(src)
	if err != nil {
		return nil, err
	}
	result.ImportID = uuid.New()

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		isbns := make([]string, 0, len(rows))
		for _, row := range rows {
			if row.book.ISBN != nil {
				isbns = append(isbns, *row.book.ISBN)
			}
		}
		existing, err := s.repo.LiveISBNs(ctx, tx, isbns)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check existing isbns")
		}

		for _, row := range rows {
			if row.book.ISBN != nil {
				if _, dup := existing[*row.book.ISBN]; dup {
					result.skip(row.line, fmt.Sprintf("isbn %s already in catalog", *row.book.ISBN))
					continue
				}
				existing[*row.book.ISBN] = struct{}{}
			}
			if err := s.repo.Create(ctx, tx, row.book); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert imported book")
			}
			result.Imported++
		}

		if err := s.audit.Record(ctx, tx, audit.Entry{
			ActorID:  actorID,
			Action:   enums.AuditActionImportBooks,
			Entity:   enums.AuditEntityBook,
			EntityID: result.ImportID.String(),
			Data:     map[string]int{"imported": result.Imported, "skipped": result.Skipped},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "audit import")
		}

		if result.Imported == 0 {
			return nil
		}
		event := outbox.DomainEvent{
			EventType:     enums.EventBooksImported,
			AggregateType: enums.AggregateBook,
			AggregateID:   result.ImportID,
			Data: payloads.BooksImportedEvent{
				ImportID: result.ImportID,
				Imported: result.Imported,
				Skipped:  result.Skipped,
			},
		}
		if actorID != nil {
			event.Actor = &outbox.ActorRef{UserID: *actorID}
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit books imported")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"import_id": result.ImportID.String(),
		"imported":  result.Imported,
		"skipped":   result.Skipped,
	}), "book import finished")
	return result, nil
}

func (r *ImportResult) skip(line int, message string) {
	r.Skipped++
	r.Errors = append(r.Errors, ImportError{Row: line, Message: message})
}

func parseImport(src io.Reader) ([]importRow, *ImportResult, error) {
	reader := csv.NewReader(src)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	result := &ImportResult{Errors: []ImportError{}}
	var rows []importRow
	header := true
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				result.skip(parseErr.StartLine, parseErr.Err.Error())
				header = false
				continue
			}
			return nil, nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read import file")
		}
		if header {
			header = false
			continue
		}
		line, _ := reader.FieldPos(0)
		if isBlank(record) {
			continue
		}
		book, err := bookFromRecord(record)
		if err != nil {
			result.skip(line, err.Error())
			continue
		}
		rows = append(rows, importRow{line: line, book: book})
	}
	if header {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "import file is empty")
	}
	return rows, result, nil
}

func bookFromRecord(record []string) (*models.Book, error) {
	field := func(idx int) string {
		if idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}
	optional := func(idx int) *string {
		if v := field(idx); v != "" {
			return &v
		}
		return nil
	}

	title := field(colTitle)
	if title == "" {
		return nil, errors.New("title is required")
	}

	var errs error
	total := 1
	if raw := field(colCopiesTotal); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			errs = multierr.Append(errs, fmt.Errorf("invalid copies_total %q", raw))
		}
		total = n
	}
	available := total
	if raw := field(colCopiesAvailable); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			errs = multierr.Append(errs, fmt.Errorf("invalid copies_available %q", raw))
		}
		available = n
	}
	var publishedAt *time.Time
	if raw := field(colPublishedAt); raw != "" {
		parsed, err := parseDate(raw)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("invalid published_at %q", raw))
		}
		publishedAt = parsed
	}
	if errs != nil {
		return nil, errs
	}
	if available > total {
		available = total
	}

	return &models.Book{
		Title:           title,
		Subtitle:        optional(colSubtitle),
		Authors:         cleanList(strings.Split(field(colAuthors), listSeparator)),
		Description:     optional(colDescription),
		ISBN:            optional(colISBN),
		Publisher:       optional(colPublisher),
		PublishedAt:     publishedAt,
		Genres:          cleanList(strings.Split(field(colGenres), listSeparator)),
		CoverURL:        optional(colCoverURL),
		CopiesTotal:     total,
		CopiesAvailable: available,
	}, nil
}

func parseDate(raw string) (*time.Time, error) {
	for _, layout := range []string{"2006-01-02", time.RFC3339, "2006"} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			utc := parsed.UTC()
			return &utc, nil
		}
	}
	return nil, fmt.Errorf("unsupported date %q", raw)
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
