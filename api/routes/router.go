package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/bookitzzz-backend/api/controllers"
	"github.com/angelmondragon/bookitzzz-backend/api/middleware"
	"github.com/angelmondragon/bookitzzz-backend/internal/auth"
	"github.com/angelmondragon/bookitzzz-backend/internal/books"
	"github.com/angelmondragon/bookitzzz-backend/internal/borrows"
	"github.com/angelmondragon/bookitzzz-backend/internal/cron"
	"github.com/angelmondragon/bookitzzz-backend/internal/reservations"
	"github.com/angelmondragon/bookitzzz-backend/internal/reviews"
	"github.com/angelmondragon/bookitzzz-backend/internal/stats"
	"github.com/angelmondragon/bookitzzz-backend/pkg/auth/session"
	"github.com/angelmondragon/bookitzzz-backend/pkg/config"
	"github.com/angelmondragon/bookitzzz-backend/pkg/logger"
	"github.com/angelmondragon/bookitzzz-backend/pkg/metrics"
)

// Deps carries everything the HTTP surface calls into. Nil pingers are
// skipped by the readiness probe.
type Deps struct {
	DB           controllers.Pinger
	Redis        controllers.Pinger
	Idempotency  middleware.IdempotencyStore
	Sessions     session.AccessSessionChecker
	Auth         auth.Service
	Users        controllers.UserFinder
	Books        books.Service
	Borrows      borrows.Service
	Reservations reservations.Service
	Reviews      reviews.Service
	Stats        stats.Service
	Audit        controllers.AuditLister
	Sweeper      controllers.OverdueSweeper
	SweepLock    cron.Lock
	HTTPMetrics  *metrics.HTTPMetrics
	Gatherer     prometheus.Gatherer
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.CORS(cfg.CORS.AllowedOrigins),
		middleware.Logging(logg, deps.HTTPMetrics),
	)

	readiness := map[string]controllers.Pinger{}
	if deps.DB != nil {
		readiness["db"] = deps.DB
	}
	if deps.Redis != nil {
		readiness["redis"] = deps.Redis
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, readiness, logg))
	})
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	authenticated := middleware.Auth(cfg.JWT, deps.Sessions, logg)
	idempotent := middleware.Idempotency(deps.Idempotency, logg,
		middleware.WithImportBodyLimit(int64(cfg.Library.ImportMaxMB)<<20))

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Post("/login", controllers.AuthLogin(deps.Auth, logg))
		r.Post("/refresh", controllers.AuthRefresh(deps.Auth, logg))
		r.Group(func(r chi.Router) {
			r.Use(authenticated)
			r.Post("/logout", controllers.AuthLogout(deps.Auth, logg))
			r.Get("/me", controllers.AuthMe(deps.Users, logg))
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/books", controllers.BooksList(deps.Books, cfg.Library, logg))
		r.Get("/books/{bookId}", controllers.BookGet(deps.Books, logg))
		r.Get("/books/{bookId}/reviews", controllers.ReviewsList(deps.Reviews, cfg.Library, logg))

		r.Group(func(r chi.Router) {
			r.Use(authenticated)
			r.Use(idempotent)

			r.Route("/borrows", func(r chi.Router) {
				r.Post("/", controllers.BorrowCreate(deps.Borrows, logg))
				r.Get("/", controllers.BorrowsList(deps.Borrows, cfg.Library, logg))
				r.Get("/{borrowId}", controllers.BorrowGet(deps.Borrows, logg))
				r.Post("/{borrowId}/return", controllers.BorrowReturn(deps.Borrows, logg))
			})

			r.Route("/reservations", func(r chi.Router) {
				r.Post("/", controllers.ReservationCreate(deps.Reservations, logg))
				r.Get("/me", controllers.ReservationsMine(deps.Reservations, logg))
				r.Get("/{reservationId}", controllers.ReservationGet(deps.Reservations, logg))
				r.Post("/{reservationId}/cancel", controllers.ReservationCancel(deps.Reservations, logg))
			})

			r.Post("/books/{bookId}/reviews", controllers.ReviewCreate(deps.Reviews, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireStaff(logg))
				r.Post("/books", controllers.BookCreate(deps.Books, logg))
				r.Post("/books/import", controllers.BooksImport(deps.Books, cfg.Library, logg))
				r.Patch("/books/{bookId}", controllers.BookUpdate(deps.Books, logg))
				r.Delete("/books/{bookId}", controllers.BookDelete(deps.Books, logg))
				r.Get("/books/{bookId}/reservations", controllers.BookReservations(deps.Reservations, logg))
			})
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(authenticated)
		r.Use(middleware.RequireStaff(logg))
		r.Get("/stats", controllers.AdminStats(deps.Stats, logg))
		r.Get("/audit", controllers.AdminAuditList(deps.Audit, cfg.Library, logg))
		r.Post("/sweeps/overdue", controllers.AdminOverdueSweep(deps.Sweeper, deps.SweepLock, logg))
	})

	return r
}
