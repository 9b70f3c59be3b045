package books

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/bookitzzz-backend/pkg/db/models"
	"github.com/angelmondragon/bookitzzz-backend/pkg/pagination"
)

// SearchFilter narrows catalog listings.
type SearchFilter struct {
	Query string
	Genre string
}

// RatingAggregate is the review summary of a book.
type RatingAggregate struct {
	Average *float64
	Count   int64
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return r.db.WithContext(ctx)
}

// Search returns live books matching the filter, newest first.
func (r *Repository) Search(ctx context.Context, filter SearchFilter, page pagination.Params) ([]models.Book, int64, error) {
	query := applySearch(r.db.WithContext(ctx).Model(&models.Book{}), filter)

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.Book
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

// applySearch builds the catalog predicate. Postgres matches array elements
// natively; other dialects match against the stored array literal.
func applySearch(query *gorm.DB, filter SearchFilter) *gorm.DB {
	query = query.Where("is_deleted = ?", false)
	postgres := query.Dialector.Name() == "postgres"

	if genre := strings.TrimSpace(filter.Genre); genre != "" {
		if postgres {
			query = query.Where("? = ANY(genres)", genre)
		} else {
			query = query.Where(`genres LIKE ? ESCAPE '\'`, "%"+escapeLike(quoteElement(genre))+"%")
		}
	}

	if q := strings.TrimSpace(filter.Query); q != "" {
		pattern := "%" + escapeLike(q) + "%"
		if postgres {
			query = query.Where(
				"(title ILIKE ? OR isbn LIKE ? OR EXISTS (SELECT 1 FROM unnest(authors) AS a WHERE a ILIKE ?))",
				pattern, pattern, pattern,
			)
		} else {
			query = query.Where(
				`(LOWER(title) LIKE LOWER(?) ESCAPE '\' OR isbn LIKE ? ESCAPE '\' OR LOWER(authors) LIKE LOWER(?) ESCAPE '\')`,
				pattern, pattern, pattern,
			)
		}
	}
	return query
}

// quoteElement renders value the way it appears inside a text[] literal.
func quoteElement(value string) string {
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	return `"` + escaped + `"`
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}

// FindLive returns a book unless it is missing or soft-deleted.
func (r *Repository) FindLive(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Book, error) {
	var book models.Book
	if err := r.conn(ctx, tx).Where("id = ? AND is_deleted = ?", id, false).First(&book).Error; err != nil {
		return nil, err
	}
	return &book, nil
}

func (r *Repository) Create(ctx context.Context, tx *gorm.DB, book *models.Book) error {
	return r.conn(ctx, tx).Create(book).Error
}

// UpdateFields applies a partial update to a live book.
func (r *Repository) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	return r.conn(ctx, tx).
		Model(&models.Book{}).
		Where("id = ? AND is_deleted = ?", id, false).
		Updates(fields).Error
}

// ResizeCopies moves copies_total by delta and shifts copies_available by
// the same amount. It reports false when that would leave fewer copies on
// the shelf than zero, meaning too many are out on loan.
func (r *Repository) ResizeCopies(ctx context.Context, tx *gorm.DB, id uuid.UUID, delta int) (bool, error) {
	if delta == 0 {
		return true, nil
	}
	result := r.conn(ctx, tx).
		Model(&models.Book{}).
		Where("id = ? AND is_deleted = ? AND copies_available + ? >= 0", id, false, delta).
		UpdateColumns(map[string]any{
			"copies_total":     gorm.Expr("copies_total + ?", delta),
			"copies_available": gorm.Expr("copies_available + ?", delta),
		})
	return result.RowsAffected > 0, result.Error
}

// SoftDelete hides a book from the catalog. It reports false when the book
// was already deleted or never existed.
func (r *Repository) SoftDelete(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error) {
	result := r.conn(ctx, tx).
		Model(&models.Book{}).
		Where("id = ? AND is_deleted = ?", id, false).
		Update("is_deleted", true)
	return result.RowsAffected > 0, result.Error
}

// LiveISBNs returns which of the given ISBNs already belong to live books.
func (r *Repository) LiveISBNs(ctx context.Context, tx *gorm.DB, isbns []string) (map[string]struct{}, error) {
	found := make(map[string]struct{}, len(isbns))
	if len(isbns) == 0 {
		return found, nil
	}
	var existing []string
	if err := r.conn(ctx, tx).
		Model(&models.Book{}).
		Where("is_deleted = ? AND isbn IN ?", false, isbns).
		Pluck("isbn", &existing).Error; err != nil {
		return nil, err
	}
	for _, isbn := range existing {
		found[isbn] = struct{}{}
	}
	return found, nil
}

// Ratings aggregates review ratings for a book.
func (r *Repository) Ratings(ctx context.Context, bookID uuid.UUID) (RatingAggregate, error) {
	var row struct {
		Average *float64
		Count   int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.Review{}).
		Select("AVG(rating) AS average, COUNT(*) AS count").
		Where("book_id = ?", bookID).
		Scan(&row).Error
	if err != nil {
		return RatingAggregate{}, err
	}
	return RatingAggregate{Average: row.Average, Count: row.Count}, nil
}

// CountLive counts books that are not soft-deleted.
func (r *Repository) CountLive(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Book{}).Where("is_deleted = ?", false).Count(&count).Error
	return count, err
}
