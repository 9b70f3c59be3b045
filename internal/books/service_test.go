package books

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/bookitzzz-backend/internal/audit"
	"github.com/angelmondragon/bookitzzz-backend/pkg/config"
	"github.com/angelmondragon/bookitzzz-backend/pkg/db"
	"github.com/angelmondragon/bookitzzz-backend/pkg/db/models"
	"github.com/angelmondragon/bookitzzz-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bookitzzz-backend/pkg/errors"
	"github.com/angelmondragon/bookitzzz-backend/pkg/logger"
	"github.com/angelmondragon/bookitzzz-backend/pkg/outbox"
	"github.com/angelmondragon/bookitzzz-backend/pkg/pagination"
)

func TestListSearchesTitleAuthorsAndISBN(t *testing.T) {
	conn := newTestDB(t)
	svc := newTestService(t, conn)
	seedCatalog(t, conn)
	ctx := context.Background()

	cases := []struct {
		name  string
		query string
		genre string
		want  []string
	}{
		{name: "title case-insensitive", query: "dune", want: []string{"Dune"}},
		{name: "author substring", query: "le guin", want: []string{"The Dispossessed", "A Wizard of Earthsea"}},
		{name: "isbn", query: "9780441172719", want: []string{"Dune"}},
		{name: "genre", genre: "Fantasy", want: []string{"A Wizard of Earthsea"}},
		{name: "genre and query", query: "the", genre: "Science Fiction", want: []string{"The Dispossessed"}},
		{name: "like wildcards are literal", query: "100%", want: nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := svc.List(ctx, ListParams{Query: tc.query, Genre: tc.genre})
			require.NoError(t, err)
			assert.ElementsMatch(t, tc.want, titles(res.Data))
			assert.EqualValues(t, len(tc.want), res.Meta.Total)
		})
	}
}

func TestListExcludesDeletedAndOrdersNewestFirst(t *testing.T) {
	conn := newTestDB(t)
	svc := newTestService(t, conn)
	seedCatalog(t, conn)

	res, err := svc.List(context.Background(), ListParams{})
	require.NoError(t, err)
	assert.Equal(t, []string{"A Wizard of Earthsea", "The Dispossessed", "Dune"}, titles(res.Data))
	assert.NotContains(t, titles(res.Data), "Withdrawn")
}

func TestListPaginationMeta(t *testing.T) {
	conn := newTestDB(t)
	svc := newTestService(t, conn)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		book := models.Book{Title: "Volume", CopiesTotal: 1, CopiesAvailable: 1, CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		require.NoError(t, conn.Create(&book).Error)
	}

	res, err := svc.List(context.Background(), ListParams{Page: pagination.Params{Page: 2, Limit: 2}})
	require.NoError(t, err)
	assert.Len(t, res.Data, 2)
	assert.Equal(t, pagination.Meta{Total: 5, Page: 2, Limit: 2, TotalPages: 3, HasMore: true}, res.Meta)

	res, err = svc.List(context.Background(), ListParams{Page: pagination.Params{Page: 1, Limit: 500}})
	require.NoError(t, err)
	assert.Equal(t, 50, res.Meta.Limit)
	assert.False(t, res.Meta.HasMore)
}

func TestGetIncludesRating(t *testing.T) {
	conn := newTestDB(t)
	svc := newTestService(t, conn)
	book := models.Book{Title: "Kindred", CopiesTotal: 1, CopiesAvailable: 1}
	require.NoError(t, conn.Create(&book).Error)

	detail, err := svc.Get(context.Background(), book.ID)
	require.NoError(t, err)
	assert.Nil(t, detail.Rating.Average)
	assert.Zero(t, detail.Rating.Count)

	for _, rating := range []int{5, 4, 4} {
		require.NoError(t, conn.Create(&models.Review{BookID: book.ID, UserID: uuid.New(), Rating: rating}).Error)
	}
	detail, err = svc.Get(context.Background(), book.ID)
	require.NoError(t, err)
	require.NotNil(t, detail.Rating.Average)
	assert.Equal(t, "4.33", detail.Rating.Average.String())
	assert.EqualValues(t, 3, detail.Rating.Count)
}

func TestGetMissingOrDeleted(t *testing.T) {
	conn := newTestDB(t)
	svc := newTestService(t, conn)
	deleted := models.Book{Title: "Gone", IsDeleted: true}
	require.NoError(t, conn.Create(&deleted).Error)

	_, err := svc.Get(context.Background(), uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
	_, err = svc.Get(context.Background(), deleted.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestCreateDefaultsAndValidation(t *testing.T) {
	conn := newTestDB(t)
	svc := newTestService(t, conn)
	ctx := context.Background()
	actor := uuid.New()

	three := 3
	created, err := svc.Create(ctx, actor, CreateInput{Title: "  Beloved ", Authors: []string{"Toni Morrison", " "}, CopiesTotal: &three})
	require.NoError(t, err)
	assert.Equal(t, "Beloved", created.Title)
	assert.Equal(t, []string{"Toni Morrison"}, created.Authors)
	assert.Equal(t, 3, created.CopiesAvailable)
	assert.Equal(t, []string{}, created.Genres)

	four := 4
	_, err = svc.Create(ctx, actor, CreateInput{Title: "Sula", CopiesTotal: &three, CopiesAvailable: &four})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.Create(ctx, actor, CreateInput{Title: "   "})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	var logs []models.AuditLog
	require.NoError(t, conn.Where("action = ?", enums.AuditActionCreateBook).Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, created.ID.String(), logs[0].EntityID)
	require.NotNil(t, logs[0].ActorID)
	assert.Equal(t, actor, *logs[0].ActorID)
}

func TestUpdateResizesCopies(t *testing.T) {
	conn := newTestDB(t)
	svc := newTestService(t, conn)
	ctx := context.Background()
	book := models.Book{Title: "Parable of the Sower", CopiesTotal: 3, CopiesAvailable: 1}
	require.NoError(t, conn.Create(&book).Error)

	title := "Parable of the Talents"
	five := 5
	updated, err := svc.Update(ctx, uuid.New(), book.ID, UpdateInput{Title: &title, CopiesTotal: &five, Genres: []string{"Science Fiction"}})
	require.NoError(t, err)
	assert.Equal(t, title, updated.Title)
	assert.Equal(t, 5, updated.CopiesTotal)
	assert.Equal(t, 3, updated.CopiesAvailable)
	assert.Equal(t, []string{"Science Fiction"}, updated.Genres)

	// two copies are on loan, so shrinking below two fails
	one := 1
	_, err = svc.Update(ctx, uuid.New(), book.ID, UpdateInput{Title: &title, CopiesTotal: &one})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "got %v", err)

	var reloaded models.Book
	require.NoError(t, conn.First(&reloaded, "id = ?", book.ID).Error)
	assert.Equal(t, 5, reloaded.CopiesTotal)
	assert.Equal(t, 3, reloaded.CopiesAvailable)

	two := 2
	updated, err = svc.Update(ctx, uuid.New(), book.ID, UpdateInput{CopiesTotal: &two})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.CopiesTotal)
	assert.Equal(t, 0, updated.CopiesAvailable)

	var logs []models.AuditLog
	require.NoError(t, conn.Where("action = ? AND entity_id = ?", enums.AuditActionUpdateBook, book.ID.String()).Find(&logs).Error)
	require.Len(t, logs, 2, "the rejected shrink rolls back its audit row")
	var data []string
	for _, row := range logs {
		data = append(data, string(row.Data))
	}
	assert.Contains(t, strings.Join(data, "\n"), `"fields":["copies_total","genres","title"]`)
}

func TestUpdateMissingBook(t *testing.T) {
	conn := newTestDB(t)
	svc := newTestService(t, conn)
	title := "x"
	_, err := svc.Update(context.Background(), uuid.New(), uuid.New(), UpdateInput{Title: &title})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestSoftDeleteRecordsAudit(t *testing.T) {
	conn := newTestDB(t)
	svc := newTestService(t, conn)
	ctx := context.Background()
	book := models.Book{Title: "Lilith's Brood", CopiesTotal: 1, CopiesAvailable: 1}
	require.NoError(t, conn.Create(&book).Error)
	actor := uuid.New()

	require.NoError(t, svc.SoftDelete(ctx, actor, book.ID))
	err := svc.SoftDelete(ctx, actor, book.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	var logs []models.AuditLog
	require.NoError(t, conn.Where("entity_id = ?", book.ID.String()).Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, string(enums.AuditActionSoftDelete), logs[0].Action)
	require.NotNil(t, logs[0].ActorID)
	assert.Equal(t, actor, *logs[0].ActorID)

	res, err := svc.List(ctx, ListParams{})
	require.NoError(t, err)
	assert.Empty(t, res.Data)
}

func TestImportCSV(t *testing.T) {
	conn := newTestDB(t)
	svc := newTestService(t, conn)
	isbn := "9780441172719"
	require.NoError(t, conn.Create(&models.Book{Title: "Dune", ISBN: &isbn, CopiesTotal: 1, CopiesAvailable: 1}).Error)

	file := strings.Join([]string{
		"title,subtitle,authors,description,isbn,publisher,published_at,genres,cover_url,copies_total,copies_available",
		"The Left Hand of Darkness,,Ursula K. Le Guin,,9780441478125,Ace,1969-03-01,Science Fiction;Classic,,4,9",
		",,Nobody,,,,,,,1,1",
		"Dune Messiah,,Frank Herbert,,9780441172719,,,,,2,2",
		"Kindred,,Octavia E. Butler,,,,,,,,",
		"Bad Counts,,,,,,,,,many,1",
		"",
		"Duplicate In File,,,,9780441478125,,,,,1,1",
	}, "\n")

	actor := uuid.New()
	res, err := svc.Import(context.Background(), &actor, strings.NewReader(file))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Imported)
	assert.Equal(t, 4, res.Skipped)
	rows := make([]int, 0, len(res.Errors))
	for _, e := range res.Errors {
		rows = append(rows, e.Row)
	}
	assert.ElementsMatch(t, []int{3, 4, 6, 8}, rows)

	var lefthand models.Book
	require.NoError(t, conn.Where("title = ?", "The Left Hand of Darkness").First(&lefthand).Error)
	assert.Equal(t, 4, lefthand.CopiesTotal)
	assert.Equal(t, 4, lefthand.CopiesAvailable)
	assert.Equal(t, []string{"Science Fiction", "Classic"}, []string(lefthand.Genres))
	require.NotNil(t, lefthand.PublishedAt)
	assert.Equal(t, 1969, lefthand.PublishedAt.Year())

	var kindred models.Book
	require.NoError(t, conn.Where("title = ?", "Kindred").First(&kindred).Error)
	assert.Equal(t, 1, kindred.CopiesTotal)
	assert.Equal(t, 1, kindred.CopiesAvailable)

	var events []models.OutboxEvent
	require.NoError(t, conn.Where("event_type = ?", enums.EventBooksImported).Find(&events).Error)
	require.Len(t, events, 1)
	assert.NotEqual(t, uuid.Nil, res.ImportID)
	assert.Equal(t, res.ImportID, events[0].AggregateID)
	var audits int64
	require.NoError(t, conn.Model(&models.AuditLog{}).
		Where("action = ? AND entity_id = ?", enums.AuditActionImportBooks, res.ImportID.String()).
		Count(&audits).Error)
	assert.EqualValues(t, 1, audits)
}

func TestImportEmptyFile(t *testing.T) {
	conn := newTestDB(t)
	svc := newTestService(t, conn)
	_, err := svc.Import(context.Background(), nil, strings.NewReader(""))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:books_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.Book{}, &models.Review{}, &models.AuditLog{}, &models.OutboxEvent{}))
	return conn
}

func newTestService(t *testing.T, conn *gorm.DB) Service {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "test"})
	svc, err := NewService(ServiceParams{
		DB:      db.NewFromGorm(conn),
		Repo:    NewRepository(conn),
		Audit:   audit.NewRepository(conn),
		Outbox:  outbox.NewService(outbox.NewRepository(conn), logg),
		Logger:  logg,
		Library: config.LibraryConfig{DefaultPageSize: 20, MaxPageSize: 50},
	})
	require.NoError(t, err)
	return svc
}

func seedCatalog(t *testing.T, conn *gorm.DB) {
	t.Helper()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	isbn := "9780441172719"
	rows := []models.Book{
		{Title: "Dune", Authors: []string{"Frank Herbert"}, ISBN: &isbn, Genres: []string{"Science Fiction"}, CreatedAt: base},
		{Title: "The Dispossessed", Authors: []string{"Ursula K. Le Guin"}, Genres: []string{"Science Fiction"}, CreatedAt: base.Add(time.Hour)},
		{Title: "A Wizard of Earthsea", Authors: []string{"Ursula K. Le Guin"}, Genres: []string{"Fantasy"}, CreatedAt: base.Add(2 * time.Hour)},
		{Title: "Withdrawn", Authors: []string{"Frank Herbert"}, Genres: []string{"Fantasy"}, IsDeleted: true, CreatedAt: base.Add(3 * time.Hour)},
	}
	for i := range rows {
		rows[i].CopiesTotal = 1
		rows[i].CopiesAvailable = 1
		require.NoError(t, conn.Create(&rows[i]).Error)
	}
}

func titles(rows []BookDTO) []string {
	var out []string
	for _, row := range rows {
		out = append(out, row.Title)
	}
	return out
}
