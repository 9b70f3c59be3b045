package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/bookitzzz-backend/api/routes"
	"github.com/angelmondragon/bookitzzz-backend/internal/audit"
	"github.com/angelmondragon/bookitzzz-backend/internal/auth"
	"github.com/angelmondragon/bookitzzz-backend/internal/books"
	"github.com/angelmondragon/bookitzzz-backend/internal/borrows"
	"github.com/angelmondragon/bookitzzz-backend/internal/cron"
	"github.com/angelmondragon/bookitzzz-backend/internal/ledger"
	"github.com/angelmondragon/bookitzzz-backend/internal/overdue"
	"github.com/angelmondragon/bookitzzz-backend/internal/reservations"
	"github.com/angelmondragon/bookitzzz-backend/internal/reviews"
	"github.com/angelmondragon/bookitzzz-backend/internal/stats"
	"github.com/angelmondragon/bookitzzz-backend/internal/users"
	"github.com/angelmondragon/bookitzzz-backend/pkg/auth/session"
	"github.com/angelmondragon/bookitzzz-backend/pkg/bootstrap"
	"github.com/angelmondragon/bookitzzz-backend/pkg/config"
	"github.com/angelmondragon/bookitzzz-backend/pkg/env"
	"github.com/angelmondragon/bookitzzz-backend/pkg/logger"
	"github.com/angelmondragon/bookitzzz-backend/pkg/metrics"
	"github.com/angelmondragon/bookitzzz-backend/pkg/outbox"
	"github.com/angelmondragon/bookitzzz-backend/pkg/redis"
)

const (
	serviceName     = "api"
	shutdownTimeout = 15 * time.Second
)

func main() {
	cfg, logg, err := bootstrap.Load(serviceName)
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	ctx, stop := bootstrap.SignalContext()
	defer stop()

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		stop()
		os.Exit(1)
	}
	logg.Info(ctx, "api server shut down")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	dbClient, err := bootstrap.OpenDB(ctx, cfg, logg)
	if err != nil {
		return err
	}
	defer bootstrap.CloseLogged(logg, "database", dbClient.Close)

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	defer bootstrap.CloseLogged(logg, "redis", redisClient.Close)

	sessionManager, err := session.NewManager(redisClient, cfg.JWT)
	if err != nil {
		return fmt.Errorf("create session manager: %w", err)
	}

	sqlDB, err := dbClient.SQL()
	if err != nil {
		return err
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewDBStatsCollector(sqlDB, "bookitzzz"),
	)
	loanMetrics := metrics.NewLoanMetrics(registry)

	conn := dbClient.DB()
	usersRepo := users.NewRepository(conn)
	booksRepo := books.NewRepository(conn)
	borrowsRepo := borrows.NewRepository(conn)
	reservationsRepo := reservations.NewRepository(conn)
	auditRepo := audit.NewRepository(conn)
	emitter := outbox.NewService(outbox.NewRepository(conn), logg)

	authService, err := auth.NewService(auth.ServiceParams{
		UserRepo:       usersRepo,
		SessionManager: sessionManager,
		JWTConfig:      cfg.JWT,
		PasswordConfig: cfg.Password,
		Logger:         logg,
	})
	if err != nil {
		return fmt.Errorf("create auth service: %w", err)
	}

	bookService, err := books.NewService(books.ServiceParams{
		DB:      dbClient,
		Repo:    booksRepo,
		Audit:   auditRepo,
		Outbox:  emitter,
		Logger:  logg,
		Library: cfg.Library,
	})
	if err != nil {
		return fmt.Errorf("create book service: %w", err)
	}

	reservationService, err := reservations.NewService(reservations.ServiceParams{
		DB:      dbClient,
		Repo:    reservationsRepo,
		Outbox:  emitter,
		Audit:   auditRepo,
		Logger:  logg,
		Metrics: loanMetrics,
		Library: cfg.Library,
	})
	if err != nil {
		return fmt.Errorf("create reservation service: %w", err)
	}

	borrowService, err := borrows.NewService(borrows.ServiceParams{
		DB:      dbClient,
		Repo:    borrowsRepo,
		Ledger:  ledger.New(),
		Queue:   reservationService,
		Outbox:  emitter,
		Audit:   auditRepo,
		Logger:  logg,
		Metrics: loanMetrics,
		Library: cfg.Library,
	})
	if err != nil {
		return fmt.Errorf("create borrow service: %w", err)
	}

	reviewService, err := reviews.NewService(reviews.ServiceParams{
		DB:      dbClient,
		Repo:    reviews.NewRepository(conn),
		Audit:   auditRepo,
		Logger:  logg,
		Library: cfg.Library,
	})
	if err != nil {
		return fmt.Errorf("create review service: %w", err)
	}

	statsService, err := stats.NewService(stats.ServiceParams{
		Books:        booksRepo,
		Borrows:      borrowsRepo,
		Users:        usersRepo,
		Reservations: reservationsRepo,
		Cache:        redisClient,
		TTL:          cfg.Stats.CacheTTL,
		Logger:       logg,
	})
	if err != nil {
		return fmt.Errorf("create stats service: %w", err)
	}

	sweeper, err := overdue.NewSweeper(overdue.Params{
		Logger:    logg,
		DB:        dbClient,
		Borrows:   borrowsRepo,
		Audit:     auditRepo,
		Outbox:    emitter,
		Metrics:   loanMetrics,
		BatchSize: cfg.Cron.SweepBatchSize,
	})
	if err != nil {
		return fmt.Errorf("create overdue sweeper: %w", err)
	}

	locker, err := cron.NewRedisLocker(redisClient, cfg.Cron.LockTTL)
	if err != nil {
		return fmt.Errorf("create job locker: %w", err)
	}

	addr := ":" + env.Get(cfg.App.Port, "PORT")
	serverCtx := logg.WithField(ctx, "addr", addr)
	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, routes.Deps{
			DB:           dbClient,
			Redis:        redisClient,
			Idempotency:  redisClient,
			Sessions:     sessionManager,
			Auth:         authService,
			Users:        usersRepo,
			Books:        bookService,
			Borrows:      borrowService,
			Reservations: reservationService,
			Reviews:      reviewService,
			Stats:        statsService,
			Audit:        auditRepo,
			Sweeper:      sweeper,
			SweepLock:    locker.ForJob(overdue.JobName),
			HTTPMetrics:  metrics.NewHTTPMetrics(registry),
			Gatherer:     registry,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logg.Info(serverCtx, "starting api server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
