package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/bookitzzz-backend/api/middleware"
	"github.com/angelmondragon/bookitzzz-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bookitzzz-backend/pkg/errors"
)

func requireActor(r *http.Request) (uuid.UUID, enums.UserRole, error) {
	userID, role, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		return uuid.Nil, "", pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	return userID, role, nil
}

// optionalUUID parses raw when present.
func optionalUUID(raw, field string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid "+field).WithDetails(map[string]any{"field": field})
	}
	return id, nil
}
