package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/skillgrove/skillgrove-api/internal/attempt"
	"github.com/skillgrove/skillgrove-api/internal/rbac"
)

// GET /quizzes/{quizID}/history?user_id=...
// Returns all entries plus the best and most recent attempt. Learners are
// scoped to their own history regardless of the user_id filter.
func GetHistoryHandler(store attempt.Store, checker *rbac.Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		quizID := chi.URLParam(r, "quizID")
		userID := strings.TrimSpace(r.URL.Query().Get("user_id"))

		role := rbac.RoleFromContext(r.Context())
		sub := rbac.SubjectFromContext(r.Context())
		if !checker.Has(role, "history:view-all") {
			userID = sub
		}
		if userID == "" {
			http.Error(w, "user_id required", http.StatusBadRequest)
			return
		}

		entries, err := store.ListHistory(r.Context(), userID, quizID)
		if err != nil {
			writeError(w, err)
			return
		}
		out := struct {
			Entries    []attempt.HistoryEntry `json:"entries"`
			Best       *attempt.HistoryEntry  `json:"best,omitempty"`
			MostRecent *attempt.HistoryEntry  `json:"most_recent,omitempty"`
		}{Entries: entries}

		if best, ok, err := store.BestAttempt(r.Context(), userID, quizID); err != nil {
			writeError(w, err)
			return
		} else if ok {
			out.Best = &best
		}
		if recent, ok, err := store.MostRecentAttempt(r.Context(), userID, quizID); err != nil {
			writeError(w, err)
			return
		} else if ok {
			out.MostRecent = &recent
		}
		writeJSON(w, http.StatusOK, out)
	}
}
