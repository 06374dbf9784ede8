package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/lehigh-university-libraries/autotagger/internal/jobs"
	"github.com/lehigh-university-libraries/autotagger/internal/providers"
	"github.com/lehigh-university-libraries/autotagger/internal/recognizer"
)

type startBatchRequest struct {
	Q string `json:"q"`
}

// HandleStartBatch handles POST /api/recognize
func (h *Handler) HandleStartBatch(w http.ResponseWriter, r *http.Request) {
	var req startBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Q) == "" {
		h.writeError(w, `Invalid request, parameter "q" is required.`, http.StatusBadRequest)
		return
	}

	job := h.jobs.Create(req.Q)
	// Jobs outlive the request; they stop with the server.
	h.batch.Start(h.baseCtx, job)

	h.writeJSON(w, http.StatusAccepted, map[string]string{"processId": job.ID})
}

// HandleListBatches handles GET /api/recognize
func (h *Handler) HandleListBatches(w http.ResponseWriter, r *http.Request) {
	all := h.jobs.List()
	snapshots := make([]jobs.Snapshot, 0, len(all))
	for _, job := range all {
		snapshots = append(snapshots, job.Snapshot())
	}
	h.writeJSON(w, http.StatusOK, snapshots)
}

// HandleGetBatch handles GET /api/recognize/{id}
func (h *Handler) HandleGetBatch(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := h.jobs.Get(id)
	if err != nil {
		h.writeError(w, fmt.Sprintf("Process with id %q doesn't exist.", id), http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, job.Snapshot())
}

// HandleCancelBatch handles DELETE /api/recognize/{id}
func (h *Handler) HandleCancelBatch(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := h.jobs.Cancel(id)
	if err != nil {
		h.writeError(w, fmt.Sprintf("Process with id %q doesn't exist.", id), http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Process with id %q is being cancelled.", job.ID),
		"process": job.Snapshot(),
	})
}

// HandleRecognizeAsset handles POST /api/recognize/asset/{id}
func (h *Handler) HandleRecognizeAsset(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	hints := providers.Hints{
		AssetPath: r.URL.Query().Get("assetPath"),
		Models:    r.URL.Query()["model"],
	}

	hit, err := h.recognizer.Recognize(r.Context(), id, hints)
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, hit)
	case errors.Is(err, recognizer.ErrNotFound):
		h.writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, recognizer.ErrNoPreview):
		h.writeError(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		h.writeError(w, "Image recognition failed: "+err.Error(), http.StatusBadGateway)
	}
}
