package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/skillgrove/skillgrove-api/internal/attempt"
	"github.com/skillgrove/skillgrove-api/internal/quiz"
	"github.com/skillgrove/skillgrove-api/internal/rbac"
)

// PUT /quizzes
func UploadQuizHandler(store attempt.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var z quiz.Quiz
		if err := json.NewDecoder(r.Body).Decode(&z); err != nil {
			http.Error(w, "bad json: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := z.Validate(); err != nil {
			writeError(w, err)
			return
		}
		if err := store.PutQuiz(r.Context(), z); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": z.ID})
	}
}

// GET /quizzes/{quizID}
// Learners get the redacted definition; roles with quiz:view-keys see the
// answer keys.
func GetQuizHandler(store attempt.Store, checker *rbac.Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		z, err := store.GetQuiz(r.Context(), chi.URLParam(r, "quizID"))
		if err != nil {
			writeError(w, err)
			return
		}
		if !checker.Has(rbac.RoleFromContext(r.Context()), "quiz:view-keys") {
			z = z.Redacted()
		}
		writeJSON(w, http.StatusOK, z)
	}
}
