package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/bookitzzz-backend/api/responses"
	pkgerrors "github.com/angelmondragon/bookitzzz-backend/pkg/errors"
	"github.com/angelmondragon/bookitzzz-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/bookitzzz-backend/pkg/redis"
)

const (
	defaultIdempotencyTTL  = 24 * time.Hour
	criticalIdempotencyTTL = 7 * 24 * time.Hour
	inFlightTTL            = time.Minute

	idempotencyHeader = "Idempotency-Key"
	replayHeader      = "Idempotent-Replay"
	maxIdempotencyKey = 255

	jsonBodyLimit   = 1 << 20
	importBodyLimit = 10 << 20
)

// IdempotencyStore is the slice of redis the replay cache needs.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

var _ IdempotencyStore = (*pkgredis.Client)(nil)

// idempotencyRule matches a route pattern where "*" stands for exactly one
// non-empty path segment.
// A zero maxBody means the upload limit configured with WithImportBodyLimit.
type idempotencyRule struct {
	method   string
	pattern  []string
	ttl      time.Duration
	required bool
	maxBody  int64
}

func rule(method, pattern string, ttl time.Duration, required bool, maxBody int64) idempotencyRule {
	return idempotencyRule{method: method, pattern: splitPath(pattern), ttl: ttl, required: required, maxBody: maxBody}
}

var idempotencyRules = []idempotencyRule{
	rule(http.MethodPost, "/api/v1/borrows", criticalIdempotencyTTL, true, jsonBodyLimit),
	rule(http.MethodPost, "/api/v1/borrows/*/return", criticalIdempotencyTTL, false, jsonBodyLimit),
	rule(http.MethodPost, "/api/v1/reservations", defaultIdempotencyTTL, true, jsonBodyLimit),
	rule(http.MethodPost, "/api/v1/reservations/*/cancel", defaultIdempotencyTTL, false, jsonBodyLimit),
	rule(http.MethodPost, "/api/v1/books/import", defaultIdempotencyTTL, false, 0),
	rule(http.MethodPost, "/api/v1/books/*/reviews", defaultIdempotencyTTL, false, jsonBodyLimit),
}

type idempotencyOptions struct {
	importBodyLimit int64
}

// IdempotencyOption tunes the Idempotency middleware.
type IdempotencyOption func(*idempotencyOptions)

// WithImportBodyLimit caps the buffered body of the CSV import route.
// Non-positive values keep the default.
func WithImportBodyLimit(n int64) IdempotencyOption {
	return func(o *idempotencyOptions) {
		if n > 0 {
			o.importBodyLimit = n
		}
	}
}

const (
	recordPending  = "pending"
	recordComplete = "complete"
)

type idempotencyRecord struct {
	State       string `json:"state"`
	RequestHash string `json:"request_hash"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// Idempotency replays the stored response for a repeated Idempotency-Key on
// the routes in idempotencyRules. Keys are scoped per user, method and path.
// A key in flight answers CONFLICT, a key reused with a different body answers
// IDEMPOTENCY_KEY_REUSED, and 5xx responses are not stored. Bodies are
// buffered up to the route's limit; larger ones answer VALIDATION.
func Idempotency(store IdempotencyStore, logg *logger.Logger, opts ...IdempotencyOption) func(http.Handler) http.Handler {
	options := idempotencyOptions{importBodyLimit: importBodyLimit}
	for _, opt := range opts {
		opt(&options)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rule, ok := matchIdempotencyRule(r.Method, r.URL.Path)
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			clientKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			switch {
			case clientKey == "" && rule.required:
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
				return
			case clientKey == "":
				next.ServeHTTP(w, r)
				return
			case len(clientKey) > maxIdempotencyKey:
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header too long"))
				return
			}

			maxBody := rule.maxBody
			if maxBody <= 0 {
				maxBody = options.importBodyLimit
			}
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "request body too large").
					WithDetails(map[string]any{"maxBytes": maxBody}))
				return
			}
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			key := store.IdempotencyKey(idempotencyScope(r), clientKey)
			requestHash := hashRequest(body)
			pending, err := json.Marshal(idempotencyRecord{State: recordPending, RequestHash: requestHash})
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode idempotency record"))
				return
			}

			claimed, err := store.SetNX(ctx, key, string(pending), inFlightTTL)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve idempotency key"))
				return
			}
			if !claimed {
				replayStored(ctx, logg, w, store, key, clientKey, requestHash)
				return
			}

			capture := &responseCapture{ResponseWriter: w}
			defer func() {
				if p := recover(); p != nil {
					releaseKey(ctx, logg, store, key)
					panic(p)
				}
			}()
			next.ServeHTTP(capture, r)

			status := capture.statusCode()
			if status >= http.StatusInternalServerError {
				releaseKey(ctx, logg, store, key)
				return
			}
			done, err := json.Marshal(idempotencyRecord{
				State:       recordComplete,
				RequestHash: requestHash,
				Status:      status,
				ContentType: capture.Header().Get("Content-Type"),
				Body:        capture.body.Bytes(),
			})
			if err != nil {
				logError(ctx, logg, "encode idempotency record", err)
				releaseKey(ctx, logg, store, key)
				return
			}
			if err := store.Set(context.WithoutCancel(ctx), key, string(done), rule.ttl); err != nil {
				logError(ctx, logg, "persist idempotency record", err)
			}
		})
	}
}

func replayStored(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, store IdempotencyStore, key, clientKey, requestHash string) {
	raw, err := store.Get(ctx, key)
	if errors.Is(err, pkgredis.Nil) {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this Idempotency-Key is still in progress"))
		return
	}
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load idempotency record"))
		return
	}

	var record idempotencyRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode idempotency record"))
		return
	}
	if record.RequestHash != requestHash {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "Idempotency-Key reused with a different request body"))
		return
	}
	if record.State != recordComplete {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this Idempotency-Key is still in progress"))
		return
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "idempotency_key", clientKey), "idempotent replay")
	}
	if record.ContentType != "" {
		w.Header().Set("Content-Type", record.ContentType)
	}
	w.Header().Set(replayHeader, "true")
	w.WriteHeader(record.Status)
	_, _ = w.Write(record.Body)
}

func releaseKey(ctx context.Context, logg *logger.Logger, store IdempotencyStore, key string) {
	if err := store.Del(context.WithoutCancel(ctx), key); err != nil {
		logError(ctx, logg, "release idempotency key", err)
	}
}

func idempotencyScope(r *http.Request) string {
	actor := UserIDFromContext(r.Context())
	if actor == "" {
		actor = "anonymous"
	}
	return strings.Join([]string{actor, r.Method, strings.TrimSuffix(r.URL.Path, "/")}, "|")
}

func hashRequest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func matchIdempotencyRule(method, path string) (idempotencyRule, bool) {
	segments := splitPath(path)
	if len(segments) == 0 {
		return idempotencyRule{}, false
	}
	for _, candidate := range idempotencyRules {
		if candidate.method == method && segmentsMatch(candidate.pattern, segments) {
			return candidate, true
		}
	}
	return idempotencyRule{}, false
}

// splitPath keeps empty inner segments so "/borrows//return" does not match
// "/borrows/*/return".
func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func segmentsMatch(pattern, segments []string) bool {
	if len(pattern) != len(segments) {
		return false
	}
	for i, want := range pattern {
		switch {
		case want == "*" && segments[i] != "":
		case want == segments[i]:
		default:
			return false
		}
	}
	return true
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (r *responseCapture) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseCapture) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *responseCapture) statusCode() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func logError(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if logg == nil || err == nil {
		return
	}
	logg.Error(ctx, msg, err)
}
