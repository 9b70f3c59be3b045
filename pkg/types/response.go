package types

import "github.com/angelmondragon/bookitzzz-backend/pkg/pagination"

// SuccessEnvelope wraps single-resource responses as {"data": ...}.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// ErrorEnvelope is the body of every non-2xx response.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Page is the listing envelope: rows next to their page metadata.
type Page[T any] struct {
	Data []T             `json:"data"`
	Meta pagination.Meta `json:"meta"`
}

// NewPage pairs rows with metadata for page p out of total. Data is never
// null on the wire.
func NewPage[T any](rows []T, p pagination.Params, total int64) *Page[T] {
	if rows == nil {
		rows = []T{}
	}
	return &Page[T]{Data: rows, Meta: pagination.NewMeta(p, total)}
}
