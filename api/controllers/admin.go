package controllers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/angelmondragon/bookitzzz-backend/api/responses"
	"github.com/angelmondragon/bookitzzz-backend/api/validators"
	"github.com/angelmondragon/bookitzzz-backend/internal/audit"
	"github.com/angelmondragon/bookitzzz-backend/internal/cron"
	"github.com/angelmondragon/bookitzzz-backend/internal/stats"
	"github.com/angelmondragon/bookitzzz-backend/pkg/config"
	"github.com/angelmondragon/bookitzzz-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/bookitzzz-backend/pkg/errors"
	"github.com/angelmondragon/bookitzzz-backend/pkg/logger"
	"github.com/angelmondragon/bookitzzz-backend/pkg/pagination"
)

// AuditLister pages through persisted audit entries.
type AuditLister interface {
	List(ctx context.Context, filter audit.Filter, page pagination.Params) ([]models.AuditLog, int64, error)
}

// OverdueSweeper runs one overdue pass and reports how many borrows moved.
type OverdueSweeper interface {
	Sweep(ctx context.Context) (int, error)
}

func AdminStats(svc stats.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stats service unavailable"))
			return
		}
		snapshot, err := svc.Snapshot(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, snapshot)
	}
}

// AdminAuditList pages through audit_logs with optional entity, entity_id
// and action filters.
func AdminAuditList(repo AuditLister, lib config.LibraryConfig, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := validators.ParsePage(r, lib.DefaultPageSize, lib.MaxPageSize)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		query := r.URL.Query()
		filter := audit.Filter{
			Entity:   strings.TrimSpace(query.Get("entity")),
			EntityID: strings.TrimSpace(query.Get("entity_id")),
			Action:   strings.TrimSpace(query.Get("action")),
		}
		rows, total, err := repo.List(r.Context(), filter, page)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list audit logs"))
			return
		}
		responses.WriteRaw(w, http.StatusOK, audit.NewListResult(rows, page, total))
	}
}

// AdminOverdueSweep runs the overdue sweep now under the same lock the
// cron worker takes.
func AdminOverdueSweep(sweeper OverdueSweeper, lock cron.Lock, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if sweeper == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sweeper unavailable"))
			return
		}
		var processed int
		run := func(ctx context.Context) error {
			n, err := sweeper.Sweep(ctx)
			processed = n
			return err
		}

		var err error
		if lock != nil {
			err = cron.RunExclusive(r.Context(), lock, run)
		} else {
			err = run(r.Context())
		}
		if errors.Is(err, cron.ErrLocked) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeConflict, "overdue sweep already running"))
			return
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if logg != nil {
			logg.Info(logg.WithField(r.Context(), "processed", processed), "overdue.sweep.manual")
		}
		responses.WriteSuccess(w, map[string]int{"processed": processed})
	}
}
