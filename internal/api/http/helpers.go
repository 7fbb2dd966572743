package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/skillgrove/skillgrove-api/internal/attempt"
	"github.com/skillgrove/skillgrove-api/internal/quiz"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps business-rule errors to stable HTTP codes. None of these
// are retryable by the UI; only transient storage failures (500) are.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, attempt.ErrQuizNotFound), errors.Is(err, attempt.ErrAttemptNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, attempt.ErrValidation), errors.Is(err, quiz.ErrValidation),
		errors.Is(err, attempt.ErrEmptyAttempt):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, attempt.ErrAttemptLimitExceeded),
		errors.Is(err, attempt.ErrAttemptAlreadyActive),
		errors.Is(err, attempt.ErrInvalidStateTransition),
		errors.Is(err, attempt.ErrStaleQuizDefinition):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
