package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/bookitzzz-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bookitzzz-backend/pkg/errors"
	"github.com/angelmondragon/bookitzzz-backend/pkg/logger"
	redisclient "github.com/angelmondragon/bookitzzz-backend/pkg/redis"
)

// Snapshot is the admin dashboard summary.
type Snapshot struct {
	TotalBooks         int64     `json:"totalBooks"`
	ActiveBorrows      int64     `json:"activeBorrows"`
	OverdueCount       int64     `json:"overdueCount"`
	TotalUsers         int64     `json:"totalUsers"`
	ActiveReservations int64     `json:"activeReservations"`
	GeneratedAt        time.Time `json:"generatedAt"`
}

type bookCounter interface {
	CountLive(ctx context.Context) (int64, error)
}

type borrowCounter interface {
	CountByStatus(ctx context.Context, status enums.BorrowStatus) (int64, error)
}

type userCounter interface {
	Count(ctx context.Context, activeOnly bool) (int64, error)
}

type reservationCounter interface {
	CountActive(ctx context.Context) (int64, error)
}

type cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	CacheKey(parts ...string) string
}

var _ cache = (*redisclient.Client)(nil)

type Service interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

type ServiceParams struct {
	Books        bookCounter
	Borrows      borrowCounter
	Users        userCounter
	Reservations reservationCounter
	Cache        cache
	TTL          time.Duration
	Logger       *logger.Logger
}

type service struct {
	books        bookCounter
	borrows      borrowCounter
	users        userCounter
	reservations reservationCounter
	cache        cache
	ttl          time.Duration
	logg         *logger.Logger
	now          func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Books == nil || params.Borrows == nil || params.Users == nil || params.Reservations == nil {
		return nil, fmt.Errorf("all stats counters are required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		books:        params.Books,
		borrows:      params.Borrows,
		users:        params.Users,
		reservations: params.Reservations,
		cache:        params.Cache,
		ttl:          params.TTL,
		logg:         params.Logger,
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

// Snapshot serves from cache when possible. Cache failures are logged and
// fall through to the database.
func (s *service) Snapshot(ctx context.Context) (*Snapshot, error) {
	key := ""
	if s.cacheEnabled() {
		key = s.cache.CacheKey("stats", "admin")
		if cached, ok := s.readCache(ctx, key); ok {
			return cached, nil
		}
	}

	snap, err := s.compute(ctx)
	if err != nil {
		return nil, err
	}

	if key != "" {
		payload, err := json.Marshal(snap)
		if err == nil {
			err = s.cache.Set(ctx, key, string(payload), s.ttl)
		}
		if err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "stats cache write failed")
		}
	}
	return snap, nil
}

func (s *service) cacheEnabled() bool {
	return s.cache != nil && s.ttl > 0
}

func (s *service) readCache(ctx context.Context, key string) (*Snapshot, bool) {
	raw, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, redisclient.Nil) {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "stats cache read failed")
		}
		return nil, false
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, false
	}
	return &snap, true
}

func (s *service) compute(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{GeneratedAt: s.now()}
	group, gctx := errgroup.WithContext(ctx)
	count := func(dst *int64, what string, fn func(context.Context) (int64, error)) {
		group.Go(func() error {
			n, err := fn(gctx)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count "+what)
			}
			*dst = n
			return nil
		})
	}
	count(&snap.TotalBooks, "books", s.books.CountLive)
	count(&snap.ActiveBorrows, "active borrows", func(ctx context.Context) (int64, error) {
		return s.borrows.CountByStatus(ctx, enums.BorrowStatusBorrowed)
	})
	count(&snap.OverdueCount, "overdue borrows", func(ctx context.Context) (int64, error) {
		return s.borrows.CountByStatus(ctx, enums.BorrowStatusOverdue)
	})
	count(&snap.TotalUsers, "users", func(ctx context.Context) (int64, error) {
		return s.users.Count(ctx, false)
	})
	count(&snap.ActiveReservations, "reservations", s.reservations.CountActive)
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return snap, nil
}
