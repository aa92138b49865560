package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayo6706/fraudflow/internal/api/middleware"
	"github.com/ayo6706/fraudflow/internal/api/problem"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message)
}

// respondInternal logs err and hides it behind a generic 500, unless it is a
// constraint violation that maps to a client error.
func respondInternal(w http.ResponseWriter, r *http.Request, problemType, msg string, err error) {
	if status, dbType, dbMsg, ok := mapDBError(err); ok {
		RespondError(w, r, status, dbType, dbMsg)
		return
	}
	zap.L().Error(msg,
		zap.Error(err),
		zap.String("path", r.URL.Path),
		zap.String("trace_id", middleware.TraceIDFromContext(r.Context())),
	)
	RespondError(w, r, http.StatusInternalServerError, problemType, msg)
}

// queryLimit reads ?limit; zero means the service default.
func queryLimit(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	return n, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func mapDBError(err error) (status int, problemType, message string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return 0, "", "", false
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		return http.StatusConflict, "db/unique-violation", "resource already exists", true
	case "23514": // check_violation
		return http.StatusBadRequest, "db/check-violation", "request violates data constraints", true
	case "23502": // not_null_violation
		return http.StatusBadRequest, "db/not-null-violation", "missing required field", true
	case "22003": // numeric_value_out_of_range
		return http.StatusBadRequest, "db/numeric-out-of-range", "numeric value out of range", true
	default:
		return 0, "", "", false
	}
}
