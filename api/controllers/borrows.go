package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/bookitzzz-backend/api/responses"
	"github.com/angelmondragon/bookitzzz-backend/api/validators"
	"github.com/angelmondragon/bookitzzz-backend/internal/borrows"
	"github.com/angelmondragon/bookitzzz-backend/pkg/config"
	"github.com/angelmondragon/bookitzzz-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bookitzzz-backend/pkg/errors"
	"github.com/angelmondragon/bookitzzz-backend/pkg/logger"
)

// checkoutRequest borrows bookId. Staff may set userId to lend on behalf of a
// member.
type checkoutRequest struct {
	BookID string `json:"bookId" validate:"required,uuid"`
	UserID string `json:"userId" validate:"omitempty,uuid"`
}

func BorrowCreate(svc borrows.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, role, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body checkoutRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		bookID, _ := uuid.Parse(body.BookID)
		userID, err := optionalUUID(body.UserID, "userId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		borrow, err := svc.Checkout(r.Context(), borrows.CheckoutInput{
			Actor:  borrows.Actor{UserID: actorID, Role: role},
			UserID: userID,
			BookID: bookID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, borrow)
	}
}

func BorrowReturn(svc borrows.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, role, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		borrowID, err := validators.ParseURLUUID(r, "borrowId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.Return(r.Context(), borrows.Actor{UserID: actorID, Role: role}, borrowID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func BorrowGet(svc borrows.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, role, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		borrowID, err := validators.ParseURLUUID(r, "borrowId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		borrow, err := svc.Get(r.Context(), borrows.Actor{UserID: actorID, Role: role}, borrowID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, borrow)
	}
}

// BorrowsList returns the caller's borrows. Staff see every borrow and may
// filter by status, user_id and book_id.
func BorrowsList(svc borrows.Service, lib config.LibraryConfig, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, role, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := validators.ParsePage(r, lib.DefaultPageSize, lib.MaxPageSize)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filter, err := parseBorrowFilter(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.List(r.Context(), borrows.ListParams{
			Actor:  borrows.Actor{UserID: actorID, Role: role},
			Filter: filter,
			Page:   page,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteRaw(w, http.StatusOK, result)
	}
}

func parseBorrowFilter(r *http.Request) (borrows.ListFilter, error) {
	var filter borrows.ListFilter
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, err := enums.ParseBorrowStatus(strings.ToUpper(raw))
		if err != nil {
			return filter, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status").WithDetails(map[string]any{"field": "status"})
		}
		filter.Status = status
	}
	userID, err := validators.ParseQueryUUID(r, "user_id")
	if err != nil {
		return filter, err
	}
	bookID, err := validators.ParseQueryUUID(r, "book_id")
	if err != nil {
		return filter, err
	}
	filter.UserID = userID
	filter.BookID = bookID
	return filter, nil
}
