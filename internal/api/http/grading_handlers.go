package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/skillgrove/skillgrove-api/internal/attempt"
	"github.com/skillgrove/skillgrove-api/internal/grading"
	"github.com/skillgrove/skillgrove-api/internal/rbac"
)

type applyGradesReq struct {
	Items map[string]grading.ManualGrade `json:"items"` // question_id -> grade
}

// GET /attempts/{attemptID}/grading
// Lists the not-auto-gradable answers awaiting instructor review.
func GetPendingGradingHandler(ctl *attempt.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		attemptID := strings.TrimSpace(chi.URLParam(r, "attemptID"))
		if attemptID == "" {
			http.Error(w, "attemptID required", http.StatusBadRequest)
			return
		}
		items, err := ctl.PendingManualItems(r.Context(), attemptID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, items)
	}
}

// POST /attempts/{attemptID}/grading
func ApplyManualGradesHandler(ctl *attempt.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		attemptID := strings.TrimSpace(chi.URLParam(r, "attemptID"))
		if attemptID == "" {
			http.Error(w, "attemptID required", http.StatusBadRequest)
			return
		}
		var req applyGradesReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json: "+err.Error(), http.StatusBadRequest)
			return
		}
		gradedBy := rbac.SubjectFromContext(r.Context())
		res, err := ctl.ApplyManualGrades(r.Context(), attemptID, req.Items, gradedBy)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}
