package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/bookitzzz-backend/internal/cron"
	"github.com/angelmondragon/bookitzzz-backend/internal/overdue"
	"github.com/angelmondragon/bookitzzz-backend/pkg/config"
	"github.com/angelmondragon/bookitzzz-backend/pkg/db"
	"github.com/angelmondragon/bookitzzz-backend/pkg/db/models"
	"github.com/angelmondragon/bookitzzz-backend/pkg/enums"
	"github.com/angelmondragon/bookitzzz-backend/pkg/logger"
	"github.com/angelmondragon/bookitzzz-backend/pkg/metrics"
)

type memoryLock struct {
	mu   *sync.Mutex
	held map[string]bool
	name string
}

func (l memoryLock) Acquire(context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[l.name] {
		return false, nil
	}
	l.held[l.name] = true
	return true, nil
}

func (l memoryLock) Release(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, l.name)
	return nil
}

type memoryLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func (m *memoryLocker) ForJob(name string) cron.Lock {
	return memoryLock{mu: &m.mu, held: m.held, name: name}
}

func newTestDB(t *testing.T) *db.Client {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:jobs_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(models.All()...))
	return db.NewFromGorm(conn)
}

func testConfig() *config.Config {
	return &config.Config{
		Cron:   config.CronConfig{Interval: time.Hour, LockTTL: time.Minute, SweepBatchSize: 10},
		Outbox: config.OutboxConfig{RetentionDays: 30, DLQRetentionDays: 90},
	}
}

func TestNewSchedulerRunsLibraryJobs(t *testing.T) {
	client := newTestDB(t)
	conn := client.DB()

	user := models.User{Email: "reader@example.com", Name: "Reader", PasswordHash: "x", Role: enums.UserRoleMember}
	require.NoError(t, conn.Create(&user).Error)
	book := models.Book{Title: "Kindred", CopiesTotal: 1, CopiesAvailable: 0}
	require.NoError(t, conn.Create(&book).Error)
	past := time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, conn.Create(&models.Borrow{
		UserID:    user.ID,
		BookID:    book.ID,
		StartedAt: past.AddDate(0, 0, -14),
		DueAt:     past,
		Status:    enums.BorrowStatusBorrowed,
	}).Error)

	old := time.Now().UTC().AddDate(0, 0, -45)
	require.NoError(t, conn.Create(&models.OutboxEvent{
		EventType:     enums.EventBorrowCreated,
		AggregateType: enums.AggregateBorrow,
		AggregateID:   uuid.New(),
		Payload:       []byte(`{}`),
		PublishedAt:   &old,
	}).Error)

	reg := prometheus.NewRegistry()
	service, err := NewScheduler(Params{
		Config:     testConfig(),
		Logger:     logger.New(logger.Options{ServiceName: "test"}),
		DB:         client,
		Locker:     &memoryLocker{held: map[string]bool{}},
		Registerer: reg,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{overdue.JobName, cron.OutboxRetentionJobName}, service.JobNames())

	outcomes := service.RunOnce(context.Background())
	assert.Equal(t, metrics.JobOutcomeSuccess, outcomes[overdue.JobName])
	assert.Equal(t, metrics.JobOutcomeSuccess, outcomes[cron.OutboxRetentionJobName])

	var borrow models.Borrow
	require.NoError(t, conn.Take(&borrow).Error)
	assert.Equal(t, enums.BorrowStatusOverdue, borrow.Status)

	var published int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Where("published_at IS NOT NULL").Count(&published).Error)
	assert.Zero(t, published)
	var overdueEvents int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventBorrowOverdue).Count(&overdueEvents).Error)
	assert.EqualValues(t, 1, overdueEvents)
}

func TestNewSchedulerRequiresDependencies(t *testing.T) {
	_, err := NewScheduler(Params{Config: testConfig(), Logger: logger.New(logger.Options{})})
	assert.Error(t, err)
}
