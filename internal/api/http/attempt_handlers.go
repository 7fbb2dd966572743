package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/skillgrove/skillgrove-api/internal/attempt"
	"github.com/skillgrove/skillgrove-api/internal/rbac"
)

// ownsOrViewsAll loads the session and enforces that the caller either owns
// it or carries attempt:view-all.
func ownsOrViewsAll(ctl *attempt.Controller, checker *rbac.Checker, r *http.Request, attemptID string) error {
	st, err := ctl.Session(r.Context(), attemptID)
	if err != nil {
		return err
	}
	sub := rbac.SubjectFromContext(r.Context())
	if st.UserID == sub {
		return nil
	}
	if checker.Has(rbac.RoleFromContext(r.Context()), "attempt:view-all") {
		return nil
	}
	return attempt.ErrAttemptNotFound // do not leak other users' attempt IDs
}

// POST /attempts  { "quiz_id": "..." }
func StartAttemptHandler(ctl *attempt.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			QuizID string `json:"quiz_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.QuizID == "" {
			http.Error(w, "quiz_id required", http.StatusBadRequest)
			return
		}
		s, err := ctl.Start(r.Context(), req.QuizID, rbac.SubjectFromContext(r.Context()))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, s)
	}
}

// POST /attempts/{attemptID}/answers
func RecordAnswerHandler(ctl *attempt.Controller, checker *rbac.Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "attemptID")
		if err := ownsOrViewsAll(ctl, checker, r, id); err != nil {
			writeError(w, err)
			return
		}
		var ev attempt.AnswerEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		rec, err := ctl.RecordAnswer(r.Context(), id, ev)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

// POST /attempts/{attemptID}/navigate  { "index": 2 }
func NavigateHandler(ctl *attempt.Controller, checker *rbac.Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "attemptID")
		if err := ownsOrViewsAll(ctl, checker, r, id); err != nil {
			writeError(w, err)
			return
		}
		var req struct {
			Index int `json:"index"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		s, err := ctl.Navigate(r.Context(), id, req.Index)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

// POST /attempts/{attemptID}/submit
func SubmitAttemptHandler(ctl *attempt.Controller, checker *rbac.Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "attemptID")
		if err := ownsOrViewsAll(ctl, checker, r, id); err != nil {
			writeError(w, err)
			return
		}
		res, err := ctl.Submit(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// GET /attempts/{attemptID}
func GetAttemptStateHandler(ctl *attempt.Controller, checker *rbac.Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "attemptID")
		if err := ownsOrViewsAll(ctl, checker, r, id); err != nil {
			writeError(w, err)
			return
		}
		st, err := ctl.GetState(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

// GET /attempts/{attemptID}/result
func GetAttemptResultHandler(ctl *attempt.Controller, checker *rbac.Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "attemptID")
		if err := ownsOrViewsAll(ctl, checker, r, id); err != nil {
			writeError(w, err)
			return
		}
		res, err := ctl.Result(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}
