package borrows

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/bookitzzz-backend/internal/audit"
	"github.com/angelmondragon/bookitzzz-backend/internal/ledger"
	"github.com/angelmondragon/bookitzzz-backend/internal/reservations"
	"github.com/angelmondragon/bookitzzz-backend/pkg/config"
	"github.com/angelmondragon/bookitzzz-backend/pkg/db"
	"github.com/angelmondragon/bookitzzz-backend/pkg/db/models"
	"github.com/angelmondragon/bookitzzz-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bookitzzz-backend/pkg/errors"
	"github.com/angelmondragon/bookitzzz-backend/pkg/logger"
	"github.com/angelmondragon/bookitzzz-backend/pkg/outbox"
	"github.com/angelmondragon/bookitzzz-backend/pkg/pagination"
)

var checkoutTime = time.Date(2025, 11, 6, 10, 0, 0, 0, time.UTC)

type fixture struct {
	conn   *gorm.DB
	svc    *service
	queue  reservations.Service
	member models.User
	staff  models.User
}

func TestCheckoutCreatesBorrowAndDecrements(t *testing.T) {
	f := newFixture(t, config.LibraryConfig{})
	book := f.seedBook(t, 2, 2)

	dto, err := f.svc.Checkout(context.Background(), CheckoutInput{Actor: f.memberActor(), BookID: book.ID})
	require.NoError(t, err)
	assert.Equal(t, enums.BorrowStatusBorrowed, dto.Status)
	assert.Equal(t, f.member.ID, dto.UserID)
	assert.True(t, dto.StartedAt.Equal(checkoutTime))
	assert.True(t, dto.DueAt.Equal(checkoutTime.AddDate(0, 0, 14)))
	assert.Equal(t, "Dune", dto.BookTitle)
	assert.Zero(t, dto.Fine)

	assert.Equal(t, 1, f.book(t, book.ID).CopiesAvailable)
	assert.EqualValues(t, 1, f.countEvents(t, enums.EventBorrowCreated))
}

func TestCheckoutOutOfStockLeavesNoBorrow(t *testing.T) {
	f := newFixture(t, config.LibraryConfig{})
	book := f.seedBook(t, 1, 0)

	_, err := f.svc.Checkout(context.Background(), CheckoutInput{Actor: f.memberActor(), BookID: book.ID})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeOutOfStock), "got %v", err)

	var count int64
	require.NoError(t, f.conn.Model(&models.Borrow{}).Count(&count).Error)
	assert.Zero(t, count)
	assert.Equal(t, 0, f.book(t, book.ID).CopiesAvailable)
	assert.Zero(t, f.countEvents(t, enums.EventBorrowCreated))
}

func TestCheckoutMissingOrDeletedBook(t *testing.T) {
	f := newFixture(t, config.LibraryConfig{})
	book := f.seedBook(t, 1, 1)
	require.NoError(t, f.conn.Model(&models.Book{}).Where("id = ?", book.ID).Update("is_deleted", true).Error)

	_, err := f.svc.Checkout(context.Background(), CheckoutInput{Actor: f.memberActor(), BookID: book.ID})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "got %v", err)

	_, err = f.svc.Checkout(context.Background(), CheckoutInput{Actor: f.memberActor(), BookID: uuid.New()})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "got %v", err)
	assert.Equal(t, 1, f.book(t, book.ID).CopiesAvailable)
}

func TestCheckoutOnBehalfRequiresStaff(t *testing.T) {
	f := newFixture(t, config.LibraryConfig{})
	book := f.seedBook(t, 2, 2)

	_, err := f.svc.Checkout(context.Background(), CheckoutInput{Actor: f.memberActor(), UserID: f.staff.ID, BookID: book.ID})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden), "got %v", err)

	dto, err := f.svc.Checkout(context.Background(), CheckoutInput{Actor: f.staffActor(), UserID: f.member.ID, BookID: book.ID})
	require.NoError(t, err)
	assert.Equal(t, f.member.ID, dto.UserID)

	_, err = f.svc.Checkout(context.Background(), CheckoutInput{Actor: f.staffActor(), UserID: uuid.New(), BookID: book.ID})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "got %v", err)
}

func TestReturnRestoresCopyAndRejectsSecondReturn(t *testing.T) {
	f := newFixture(t, config.LibraryConfig{})
	book := f.seedBook(t, 1, 1)
	ctx := context.Background()

	borrow, err := f.svc.Checkout(ctx, CheckoutInput{Actor: f.memberActor(), BookID: book.ID})
	require.NoError(t, err)
	assert.Equal(t, 0, f.book(t, book.ID).CopiesAvailable)

	result, err := f.svc.Return(ctx, f.memberActor(), borrow.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.BorrowStatusReturned, result.Borrow.Status)
	require.NotNil(t, result.Borrow.ReturnedAt)
	assert.False(t, result.Borrow.ReturnedLate)
	assert.Nil(t, result.FulfilledReservation)
	assert.Equal(t, 1, f.book(t, book.ID).CopiesAvailable)

	_, err = f.svc.Return(ctx, f.memberActor(), borrow.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeAlreadyReturned), "got %v", err)
	assert.Equal(t, 1, f.book(t, book.ID).CopiesAvailable)

	_, err = f.svc.Return(ctx, f.memberActor(), uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "got %v", err)
}

func TestReturnRollsBackWhenCounterWouldOverflow(t *testing.T) {
	f := newFixture(t, config.LibraryConfig{})
	book := f.seedBook(t, 1, 1)
	ctx := context.Background()

	borrow, err := f.svc.Checkout(ctx, CheckoutInput{Actor: f.memberActor(), BookID: book.ID})
	require.NoError(t, err)
	// simulate an out-of-band restock that already put the copy back
	require.NoError(t, f.conn.Model(&models.Book{}).Where("id = ?", book.ID).Update("copies_available", 1).Error)

	_, err = f.svc.Return(ctx, f.memberActor(), borrow.ID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvariantViolation), "got %v", err)

	var stored models.Borrow
	require.NoError(t, f.conn.First(&stored, "id = ?", borrow.ID).Error)
	assert.Equal(t, enums.BorrowStatusBorrowed, stored.Status)
	assert.Nil(t, stored.ReturnedAt)
}

func TestReturnFulfillsNextReservation(t *testing.T) {
	f := newFixture(t, config.LibraryConfig{})
	book := f.seedBook(t, 1, 1)
	ctx := context.Background()

	borrow, err := f.svc.Checkout(ctx, CheckoutInput{Actor: f.memberActor(), BookID: book.ID})
	require.NoError(t, err)

	waiting, err := f.queue.Reserve(ctx, f.staff.ID, book.ID)
	require.NoError(t, err)

	result, err := f.svc.Return(ctx, f.memberActor(), borrow.ID)
	require.NoError(t, err)
	require.NotNil(t, result.FulfilledReservation)
	assert.Equal(t, waiting.ID, *result.FulfilledReservation)

	entry, err := f.queue.Get(ctx, waiting.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ReservationStatusFulfilled, entry.Status)
	assert.EqualValues(t, 1, f.countEvents(t, enums.EventReservationFulfilled))
	assert.EqualValues(t, 1, f.countEvents(t, enums.EventBorrowReturned))
}

func TestLateReturnChargesFine(t *testing.T) {
	f := newFixture(t, config.LibraryConfig{FinePerDay: 50})
	book := f.seedBook(t, 1, 1)
	ctx := context.Background()

	borrow, err := f.svc.Checkout(ctx, CheckoutInput{Actor: f.memberActor(), BookID: book.ID})
	require.NoError(t, err)

	f.svc.now = func() time.Time { return borrow.DueAt.Add(2*day + time.Hour) }
	result, err := f.svc.Return(ctx, f.memberActor(), borrow.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), result.Borrow.Fine)
	assert.True(t, result.Borrow.ReturnedLate)
	assert.False(t, result.Borrow.Overdue)
}

func TestStaffReturnIsAudited(t *testing.T) {
	f := newFixture(t, config.LibraryConfig{})
	book := f.seedBook(t, 1, 1)
	ctx := context.Background()

	borrow, err := f.svc.Checkout(ctx, CheckoutInput{Actor: f.memberActor(), BookID: book.ID})
	require.NoError(t, err)

	stranger := Actor{UserID: uuid.New(), Role: enums.UserRoleMember}
	_, err = f.svc.Return(ctx, stranger, borrow.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden), "got %v", err)

	_, err = f.svc.Return(ctx, f.staffActor(), borrow.ID)
	require.NoError(t, err)

	var logs []models.AuditLog
	require.NoError(t, f.conn.Where("entity = ?", enums.AuditEntityBorrow).Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, string(enums.AuditActionManualReturn), logs[0].Action)
	assert.Equal(t, borrow.ID.String(), logs[0].EntityID)
}

func TestHoldPolicyKeepsReturnedCopyForHolder(t *testing.T) {
	f := newFixture(t, config.LibraryConfig{ReservationPolicy: config.ReservationPolicyHold, ReservationHold: 48 * time.Hour})
	book := f.seedBook(t, 1, 1)
	ctx := context.Background()
	walkIn := f.seedUser(t, "walkin@example.com", enums.UserRoleMember)

	borrow, err := f.svc.Checkout(ctx, CheckoutInput{Actor: f.memberActor(), BookID: book.ID})
	require.NoError(t, err)
	_, err = f.queue.Reserve(ctx, f.staff.ID, book.ID)
	require.NoError(t, err)
	_, err = f.svc.Return(ctx, f.memberActor(), borrow.ID)
	require.NoError(t, err)

	_, err = f.svc.Checkout(ctx, CheckoutInput{Actor: Actor{UserID: walkIn.ID, Role: enums.UserRoleMember}, BookID: book.ID})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeOutOfStock), "got %v", err)

	_, err = f.svc.Checkout(ctx, CheckoutInput{Actor: f.staffActor(), BookID: book.ID})
	require.NoError(t, err)

	var hold models.Reservation
	require.NoError(t, f.conn.Where("book_id = ? AND user_id = ?", book.ID, f.staff.ID).First(&hold).Error)
	assert.NotNil(t, hold.ClaimedAt)
}

func TestFCFSLetsAnyoneTakeReturnedCopy(t *testing.T) {
	f := newFixture(t, config.LibraryConfig{ReservationPolicy: config.ReservationPolicyFCFS})
	book := f.seedBook(t, 1, 1)
	ctx := context.Background()
	walkIn := f.seedUser(t, "walkin@example.com", enums.UserRoleMember)

	borrow, err := f.svc.Checkout(ctx, CheckoutInput{Actor: f.memberActor(), BookID: book.ID})
	require.NoError(t, err)
	_, err = f.queue.Reserve(ctx, f.staff.ID, book.ID)
	require.NoError(t, err)
	_, err = f.svc.Return(ctx, f.memberActor(), borrow.ID)
	require.NoError(t, err)

	_, err = f.svc.Checkout(ctx, CheckoutInput{Actor: Actor{UserID: walkIn.ID, Role: enums.UserRoleMember}, BookID: book.ID})
	require.NoError(t, err)
}

func TestListScopesMembersToOwnBorrows(t *testing.T) {
	f := newFixture(t, config.LibraryConfig{})
	book := f.seedBook(t, 3, 3)
	ctx := context.Background()

	_, err := f.svc.Checkout(ctx, CheckoutInput{Actor: f.memberActor(), BookID: book.ID})
	require.NoError(t, err)
	staffBorrow, err := f.svc.Checkout(ctx, CheckoutInput{Actor: f.staffActor(), BookID: book.ID})
	require.NoError(t, err)
	_, err = f.svc.Return(ctx, f.staffActor(), staffBorrow.ID)
	require.NoError(t, err)

	mine, err := f.svc.List(ctx, ListParams{Actor: f.memberActor(), Filter: ListFilter{UserID: f.staff.ID}})
	require.NoError(t, err)
	require.Len(t, mine.Data, 1)
	assert.Equal(t, f.member.ID, mine.Data[0].UserID)
	assert.EqualValues(t, 1, mine.Meta.Total)

	all, err := f.svc.List(ctx, ListParams{Actor: f.staffActor(), Page: pagination.Params{Page: 1, Limit: 10}})
	require.NoError(t, err)
	assert.EqualValues(t, 2, all.Meta.Total)

	returned, err := f.svc.List(ctx, ListParams{Actor: f.staffActor(), Filter: ListFilter{Status: enums.BorrowStatusReturned}})
	require.NoError(t, err)
	require.Len(t, returned.Data, 1)
	assert.Equal(t, staffBorrow.ID, returned.Data[0].ID)

	_, err = f.svc.Get(ctx, f.memberActor(), staffBorrow.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "got %v", err)
	got, err := f.svc.Get(ctx, f.staffActor(), staffBorrow.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.BorrowStatusReturned, got.Status)
}

func TestConcurrentCheckoutsOnlyOneWins(t *testing.T) {
	f := newFixture(t, config.LibraryConfig{})
	sqlDB, err := f.conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	book := f.seedBook(t, 1, 1)
	const workers = 6
	users := make([]models.User, workers)
	for i := range users {
		users[i] = f.seedUser(t, uuid.NewString()+"@example.com", enums.UserRoleMember)
	}

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		successes  int
		outOfStock int
	)
	for _, u := range users {
		wg.Add(1)
		go func(user models.User) {
			defer wg.Done()
			_, err := f.svc.Checkout(context.Background(), CheckoutInput{
				Actor:  Actor{UserID: user.ID, Role: enums.UserRoleMember},
				BookID: book.ID,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case pkgerrors.IsCode(err, pkgerrors.CodeOutOfStock):
				outOfStock++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(u)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, outOfStock)
	assert.Equal(t, 0, f.book(t, book.ID).CopiesAvailable)

	var count int64
	require.NoError(t, f.conn.Model(&models.Borrow{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func newFixture(t *testing.T, lib config.LibraryConfig) *fixture {
	t.Helper()
	dsn := "file:borrows_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(models.All()...))

	logg := logger.New(logger.Options{ServiceName: "test"})
	runner := db.NewFromGorm(conn)
	emitter := outbox.NewService(outbox.NewRepository(conn), logg)
	recorder := audit.NewRepository(conn)

	queue, err := reservations.NewService(reservations.ServiceParams{
		DB:      runner,
		Repo:    reservations.NewRepository(conn),
		Outbox:  emitter,
		Audit:   recorder,
		Logger:  logg,
		Library: lib,
	})
	require.NoError(t, err)

	svcIface, err := NewService(ServiceParams{
		DB:      runner,
		Repo:    NewRepository(conn),
		Ledger:  ledger.New(),
		Queue:   queue,
		Outbox:  emitter,
		Audit:   recorder,
		Logger:  logg,
		Library: lib,
	})
	require.NoError(t, err)
	svc := svcIface.(*service)
	svc.now = func() time.Time { return checkoutTime }

	f := &fixture{conn: conn, svc: svc, queue: queue}
	f.member = f.seedUser(t, "member@example.com", enums.UserRoleMember)
	f.staff = f.seedUser(t, "librarian@example.com", enums.UserRoleLibrarian)
	return f
}

func (f *fixture) memberActor() Actor {
	return Actor{UserID: f.member.ID, Role: enums.UserRoleMember}
}

func (f *fixture) staffActor() Actor {
	return Actor{UserID: f.staff.ID, Role: enums.UserRoleLibrarian}
}

func (f *fixture) seedUser(t *testing.T, email string, role enums.UserRole) models.User {
	t.Helper()
	user := models.User{Email: email, Name: email, PasswordHash: "x", Role: role, IsActive: true}
	require.NoError(t, f.conn.Create(&user).Error)
	return user
}

func (f *fixture) seedBook(t *testing.T, total, available int) models.Book {
	t.Helper()
	book := models.Book{Title: "Dune", Authors: []string{"Frank Herbert"}, CopiesTotal: total, CopiesAvailable: available}
	require.NoError(t, f.conn.Create(&book).Error)
	return book
}

func (f *fixture) book(t *testing.T, id uuid.UUID) models.Book {
	t.Helper()
	var book models.Book
	require.NoError(t, f.conn.First(&book, "id = ?", id).Error)
	return book
}

func (f *fixture) countEvents(t *testing.T, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&count).Error)
	return count
}
