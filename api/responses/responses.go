// Package responses renders the JSON bodies of the library API.
package responses

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	pkgerrors "github.com/angelmondragon/bookitzzz-backend/pkg/errors"
	"github.com/angelmondragon/bookitzzz-backend/pkg/logger"
	"github.com/angelmondragon/bookitzzz-backend/pkg/types"
)

const contentTypeJSON = "application/json"

// fallbackBody is sent when a payload cannot be encoded.
var fallbackBody = []byte(`{"error":{"code":"INTERNAL_ERROR","message":"failed to encode response"}}` + "\n")

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

// WriteSuccessStatus wraps data as {"data": ...}.
func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	render(w, status, types.SuccessEnvelope{Data: data})
}

// WriteRaw renders payload as is. Listings pass a page so data and meta sit
// next to each other.
func WriteRaw(w http.ResponseWriter, status int, payload any) {
	render(w, status, payload)
}

// WriteError maps err onto its HTTP status and error envelope and logs it.
// Errors without a code are reported as INTERNAL_ERROR with a generic message.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	typed, meta := pkgerrors.Classify(err)

	apiErr := types.APIError{Code: string(typed.Code()), Message: meta.PublicMessage}
	if meta.ExposeMessage && typed.Message() != "" {
		apiErr.Message = typed.Message()
	}
	if meta.DetailsAllowed {
		apiErr.Details = typed.Details()
	}

	if logg != nil {
		fields := pkgerrors.LogFields(err)
		fields["http_status"] = meta.HTTPStatus
		logCtx := logg.WithFields(ctx, fields)
		switch {
		case meta.HTTPStatus >= http.StatusInternalServerError:
			logg.Error(logCtx, "request.error", err)
		default:
			logg.Warn(logCtx, "request.rejected")
		}
	}

	render(w, meta.HTTPStatus, types.ErrorEnvelope{Error: apiErr})
}

// render encodes before writing headers so an unencodable payload turns into
// a 500 instead of a truncated body.
func render(w http.ResponseWriter, status int, payload any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		status = http.StatusInternalServerError
		buf.Reset()
		buf.Write(fallbackBody)
	}
	h := w.Header()
	h.Set("Content-Type", contentTypeJSON)
	h.Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
