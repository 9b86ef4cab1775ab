// Package handler holds the HTTP handlers of the ledger API.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/alanyoungcy/perpledger/internal/domain"
	"github.com/alanyoungcy/perpledger/internal/server/middleware"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// errorResponse is the body of every non-2xx answer.
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// writeJSON marshals v and writes it with status. A marshal failure becomes a
// plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusForKind maps a ledger error kind onto an HTTP status.
func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindInvalidInput:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindUnauthorized:
		return http.StatusForbidden
	case domain.KindAlreadyClosed, domain.KindAlreadyInitialized:
		return http.StatusConflict
	case domain.KindInsufficientBalance:
		return http.StatusUnprocessableEntity
	case domain.KindUninitialized:
		return http.StatusPreconditionFailed
	case domain.KindOracleUnavailable:
		return http.StatusServiceUnavailable
	case domain.KindPaused:
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}

// writeLedgerError answers with the status and kind of err. Internal errors
// are logged and their text is not leaked.
func writeLedgerError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	kind := domain.KindOf(err)
	status := statusForKind(kind)
	msg := err.Error()
	if kind == domain.KindInternal {
		logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("request_id", middleware.RequestID(r.Context())),
			slog.String("error", err.Error()),
		)
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg, Kind: string(kind)})
}

// decodeJSON reads a bounded JSON body into dst, rejecting unknown fields and
// trailing data.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", domain.ErrInvalidInput, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: request body must hold a single JSON object", domain.ErrInvalidInput)
	}
	return nil
}

// pathID parses the {id} path value as a position id.
func pathID(r *http.Request) (uint64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad position id %q", domain.ErrInvalidInput, raw)
	}
	return id, nil
}

// queryInt64 parses a required integer query parameter.
func queryInt64(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, fmt.Errorf("%w: %s is required", domain.ErrInvalidInput, name)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", domain.ErrInvalidInput, name)
	}
	return n, nil
}

// parseListOpts reads limit and offset. Defaults: limit=50 (max 500),
// offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		limit = min(n, 500)
	}
	offset := 0
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n >= 0 {
		offset = n
	}
	return domain.ListOpts{Limit: limit, Offset: offset}
}

// checkCaller enforces that a signed caller identity, when the request
// carries one, matches the party named in the body.
func checkCaller(r *http.Request, claimed string) error {
	caller, ok := middleware.Caller(r.Context())
	if !ok {
		return nil
	}
	if !strings.EqualFold(caller, claimed) {
		return fmt.Errorf("%w: signer %s does not match %s", domain.ErrUnauthorized, caller, claimed)
	}
	return nil
}
