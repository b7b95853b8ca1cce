package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"fleetmap/core-go/internal/rollback"
)

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	// The persisted history is preferred when an event store is wired in;
	// ?since= always queries the in-memory log because sequence numbers are
	// assigned there.
	if since := r.URL.Query().Get("since"); since != "" {
		seq, err := strconv.ParseUint(since, 10, 64)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "validation_failed", "since must be an unsigned integer", nil)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]any{"events": h.reg.Events(seq)})
		return
	}

	if h.history != nil {
		limit := 0
		if s := r.URL.Query().Get("limit"); s != "" {
			limit, _ = strconv.Atoi(s)
		}
		events, err := h.history.History(r.Context(), limit)
		if err != nil {
			h.writeError(w, http.StatusInternalServerError, "db_error", err.Error(), nil)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]any{"events": events})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"events": h.reg.Events(0)})
}

func (h *Handler) handleRepair(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.reg.RecoverFromErrors())
}

type createSnapshotRequest struct {
	Description string `json:"description"`
}

func (h *Handler) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"snapshots": h.snaps.List()})
}

func (h *Handler) handleCreateSnapshot(w http.ResponseWriter, r *http.Request) {
	var req createSnapshotRequest
	if r.ContentLength != 0 {
		if err := decodeJSONStrict(r, &req); err != nil {
			h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid JSON body", map[string]any{"error": err.Error()})
			return
		}
	}
	if req.Description == "" {
		req.Description = "manual"
	}
	snap, err := h.snaps.Create(req.Description)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "snapshot_failed", err.Error(), nil)
		return
	}
	h.writeJSON(w, http.StatusCreated, snap)
}

type rollbackRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleRollback(w http.ResponseWriter, r *http.Request) {
	var req rollbackRequest
	if r.ContentLength != 0 {
		if err := decodeJSONStrict(r, &req); err != nil {
			h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid JSON body", map[string]any{"error": err.Error()})
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "manual"
	}

	id := chi.URLParam(r, "id")
	err := h.snaps.Rollback(id, req.Reason)
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, map[string]any{"restored": id})
	case errors.Is(err, rollback.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, rollback.ErrIntegrity):
		h.writeError(w, http.StatusConflict, "integrity_failed", err.Error(), map[string]any{"snapshot_id": id})
	default:
		h.writeError(w, http.StatusInternalServerError, "rollback_failed", err.Error(), nil)
	}
}

func (h *Handler) handleDeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := h.snaps.Delete(chi.URLParam(r, "id")); err != nil {
		h.writeError(w, http.StatusNotFound, "not_found", err.Error(), nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListErrors(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"records": h.rec.Records()})
}

func (h *Handler) handleErrorStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.rec.Stats())
}

func (h *Handler) handleClearErrors(w http.ResponseWriter, r *http.Request) {
	h.rec.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListBreakers(w http.ResponseWriter, r *http.Request) {
	names := h.breakers.Names()
	out := make(map[string]any, len(names))
	for _, name := range names {
		out[name] = h.breakers.Stats(name)
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"breakers": out})
}
