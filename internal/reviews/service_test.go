package reviews

import (
	"context"
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
	"github.com/angelmondragon/bookitzzz-backend/pkg/pagination"
)

func TestCreateValidatesRating(t *testing.T) {
	conn := newTestDB(t)
	svc := newTestService(t, conn)
	book := seedBook(t, conn, false)
	user := seedUser(t, conn)

	for _, rating := range []int{0, 6, -1} {
		_, err := svc.Create(context.Background(), user.ID, book.ID, CreateInput{Rating: rating})
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "rating %d: %v", rating, err)
	}

	content := "  A quiet masterpiece. "
	review, err := svc.Create(context.Background(), user.ID, book.ID, CreateInput{Rating: 5, Content: &content})
	require.NoError(t, err)
	assert.Equal(t, 5, review.Rating)
	require.NotNil(t, review.Content)
	assert.Equal(t, "A quiet masterpiece.", *review.Content)

	var logs []models.AuditLog
	require.NoError(t, conn.Where("entity = ?", enums.AuditEntityReview).Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, string(enums.AuditActionCreateReview), logs[0].Action)
	assert.Equal(t, review.ID.String(), logs[0].EntityID)
	require.NotNil(t, logs[0].ActorID)
	assert.Equal(t, user.ID, *logs[0].ActorID)
}

func TestCreateRequiresLiveBook(t *testing.T) {
	conn := newTestDB(t)
	svc := newTestService(t, conn)
	deleted := seedBook(t, conn, true)
	user := seedUser(t, conn)

	_, err := svc.Create(context.Background(), user.ID, uuid.New(), CreateInput{Rating: 3})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
	_, err = svc.Create(context.Background(), user.ID, deleted.ID, CreateInput{Rating: 3})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestListNewestFirstWithAuthor(t *testing.T) {
	conn := newTestDB(t)
	svc := newTestService(t, conn)
	book := seedBook(t, conn, false)
	user := seedUser(t, conn)
	base := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)
	for i, rating := range []int{2, 4, 5} {
		row := models.Review{BookID: book.ID, UserID: user.ID, Rating: rating, CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		require.NoError(t, conn.Create(&row).Error)
	}

	res, err := svc.List(context.Background(), book.ID, pagination.Params{})
	require.NoError(t, err)
	require.Len(t, res.Data, 3)
	assert.Equal(t, []int{5, 4, 2}, []int{res.Data[0].Rating, res.Data[1].Rating, res.Data[2].Rating})
	require.NotNil(t, res.Data[0].Author)
	assert.Equal(t, "Octavia", res.Data[0].Author.Name)
	assert.EqualValues(t, 3, res.Meta.Total)

	res, err = svc.List(context.Background(), book.ID, pagination.Params{Page: 2, Limit: 2})
	require.NoError(t, err)
	require.Len(t, res.Data, 1)
	assert.Equal(t, 2, res.Data[0].Rating)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:reviews_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.User{}, &models.Book{}, &models.Review{}, &models.AuditLog{}))
	return conn
}

func newTestService(t *testing.T, conn *gorm.DB) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		DB:      db.NewFromGorm(conn),
		Repo:    NewRepository(conn),
		Audit:   audit.NewRepository(conn),
		Logger:  logger.New(logger.Options{ServiceName: "test"}),
		Library: config.LibraryConfig{DefaultPageSize: 20, MaxPageSize: 50},
	})
	require.NoError(t, err)
	return svc
}

func seedBook(t *testing.T, conn *gorm.DB, deleted bool) models.Book {
	t.Helper()
	book := models.Book{Title: "Kindred", CopiesTotal: 1, CopiesAvailable: 1, IsDeleted: deleted}
	require.NoError(t, conn.Create(&book).Error)
	return book
}

func seedUser(t *testing.T, conn *gorm.DB) models.User {
	t.Helper()
	user := models.User{Email: uuid.NewString() + "@example.com", Name: "Octavia", PasswordHash: "x", Role: enums.UserRoleMember, IsActive: true}
	require.NoError(t, conn.Create(&user).Error)
	return user
}
