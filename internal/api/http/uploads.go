package http

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/skillgrove/skillgrove-api/internal/attempt"
	"github.com/skillgrove/skillgrove-api/internal/rbac"
	"github.com/skillgrove/skillgrove-api/internal/storage"
)

// MountUploads serves answer media for file_assignment, video_recording and
// audio_recording questions. The client uploads the blob first, then records
// the returned key as the question's text_answer. Both directions enforce
// the same ownership rule as the attempt handlers.
func MountUploads(r chi.Router, bs storage.BlobStore, ctl *attempt.Controller, checker *rbac.Checker) {
	// POST /uploads/{attemptID}/{questionID}
	r.Post("/{attemptID}/{questionID}", func(w http.ResponseWriter, r *http.Request) {
		attemptID := chi.URLParam(r, "attemptID")
		questionID := chi.URLParam(r, "questionID")
		if err := ownsOrViewsAll(ctl, checker, r, attemptID); err != nil {
			writeError(w, err)
			return
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "file required", http.StatusBadRequest)
			return
		}
		defer f.Close()

		key := "attempts/" + attemptID + "/" + questionID
		if _, err := bs.Put(key, f); err != nil {
			http.Error(w, "store error: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"key": key})
	})

	// GET /uploads/attempts/{attemptID}/{questionID}
	r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
		parts := strings.Split(key, "/")
		if len(parts) != 3 || parts[0] != "attempts" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := ownsOrViewsAll(ctl, checker, r, parts[1]); err != nil {
			writeError(w, err)
			return
		}
		rc, err := bs.Get(key)
		if err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		defer rc.Close()
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = io.Copy(w, rc)
	})
}
