package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"fleetmap/core-go/internal/mapasset"
	"fleetmap/core-go/internal/registry"
)

type registerMapRequest struct {
	ID         string              `json:"id"`
	Name       string              `json:"name"`
	Descriptor mapasset.Descriptor `json:"descriptor"`
	Preload    bool                `json:"preload"`
}

func (h *Handler) handleListMaps(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"maps": h.reg.Maps()})
}

func (h *Handler) handleRegisterMap(w http.ResponseWriter, r *http.Request) {
	var req registerMapRequest
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid JSON body", map[string]any{"error": err.Error()})
		return
	}
	if req.ID == "" {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "id is required", nil)
		return
	}
	if req.Descriptor.MetadataRef == "" {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "descriptor.metadata_ref is required", nil)
		return
	}

	entry, err := h.reg.RegisterMap(r.Context(), req.ID, registry.MapConfig{
		Name:       req.Name,
		Descriptor: req.Descriptor,
		Preload:    req.Preload,
	})
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "register_failed", err.Error(), nil)
		return
	}
	h.writeJSON(w, http.StatusCreated, entry)
}

func (h *Handler) handleGetMap(w http.ResponseWriter, r *http.Request) {
	entry, err := h.reg.Map(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, "not_found", err.Error(), nil)
		return
	}
	h.writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleUnregisterMap(w http.ResponseWriter, r *http.Request) {
	if err := h.reg.UnregisterMap(chi.URLParam(r, "id")); err != nil {
		h.writeError(w, http.StatusNotFound, "not_found", err.Error(), nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLoadMap(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entry, err := h.reg.LoadMap(r.Context(), id)
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, entry)
	case errors.Is(err, registry.ErrMapNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, registry.ErrLoadInProgress):
		h.writeError(w, http.StatusConflict, "load_in_progress", err.Error(), nil)
	default:
		h.writeError(w, http.StatusBadGateway, "load_failed", err.Error(), map[string]any{"map_id": id})
	}
}

func (h *Handler) handleUnloadMap(w http.ResponseWriter, r *http.Request) {
	err := h.reg.UnloadMap(chi.URLParam(r, "id"))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, registry.ErrMapNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, registry.ErrInvalidTransition):
		h.writeError(w, http.StatusConflict, "invalid_transition", err.Error(), nil)
	default:
		h.writeError(w, http.StatusInternalServerError, "unload_failed", err.Error(), nil)
	}
}

// handleMapBuffer streams the raw RGBA pixels of a loaded map. Dimensions
// travel in headers so clients can reconstruct the image without a second
// request.
func (h *Handler) handleMapBuffer(w http.ResponseWriter, r *http.Request) {
	entry, err := h.reg.Map(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, "not_found", err.Error(), nil)
		return
	}
	if entry.Status != registry.StatusLoaded || entry.Buffer == nil {
		h.writeError(w, http.StatusConflict, "not_loaded", "map has no loaded buffer", map[string]any{"status": string(entry.Status)})
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Map-Width", strconv.Itoa(entry.Buffer.Width))
	w.Header().Set("X-Map-Height", strconv.Itoa(entry.Buffer.Height))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(entry.Buffer.Pixels)
}

func (h *Handler) handleGetViewport(w http.ResponseWriter, r *http.Request) {
	vp, ok := h.reg.Viewport(chi.URLParam(r, "id"))
	if !ok {
		h.writeError(w, http.StatusNotFound, "not_found", "no viewport for map", nil)
		return
	}
	h.writeJSON(w, http.StatusOK, vp)
}

func (h *Handler) handleSetViewport(w http.ResponseWriter, r *http.Request) {
	var vp registry.Viewport
	if err := decodeJSONStrict(r, &vp); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid JSON body", map[string]any{"error": err.Error()})
		return
	}
	vp.MapID = chi.URLParam(r, "id")
	if err := h.reg.SetViewport(vp); err != nil {
		h.writeError(w, http.StatusNotFound, "not_found", err.Error(), nil)
		return
	}
	h.writeJSON(w, http.StatusOK, vp)
}
