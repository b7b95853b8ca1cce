package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"fleetmap/core-go/internal/registry"
	"fleetmap/core-go/internal/transform"
)

func (h *Handler) handleListRobots(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"robots": h.reg.Robots()})
}

func (h *Handler) handleRobotPose(w http.ResponseWriter, r *http.Request) {
	var pose transform.Pose
	if err := decodeJSONStrict(r, &pose); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid JSON body", map[string]any{"error": err.Error()})
		return
	}
	h.reg.UpdateRobotPose(chi.URLParam(r, "id"), pose)
	w.WriteHeader(http.StatusNoContent)
}

type assignRequest struct {
	RobotID    string `json:"robot_id"`
	MapID      string `json:"map_id"`
	AssignedBy string `json:"assigned_by"`
}

func (h *Handler) handleListAssignments(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"assignments": h.reg.Assignments()})
}

func (h *Handler) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid JSON body", map[string]any{"error": err.Error()})
		return
	}
	if req.RobotID == "" || req.MapID == "" {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "robot_id and map_id are required", nil)
		return
	}

	a, err := h.reg.AssignRobotToMap(req.RobotID, req.MapID, req.AssignedBy)
	if err != nil {
		h.writeError(w, http.StatusNotFound, "not_found", err.Error(), nil)
		return
	}
	h.writeJSON(w, http.StatusCreated, a)
}

func (h *Handler) handleUnassign(w http.ResponseWriter, r *http.Request) {
	h.reg.UnassignRobot(chi.URLParam(r, "robotId"))
	w.WriteHeader(http.StatusNoContent)
}

type transferRequest struct {
	MapID      string `json:"map_id"`
	AssignedBy string `json:"assigned_by"`
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid JSON body", map[string]any{"error": err.Error()})
		return
	}
	if req.MapID == "" {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "map_id is required", nil)
		return
	}

	a, err := h.reg.TransferRobot(chi.URLParam(r, "robotId"), req.MapID, req.AssignedBy)
	if err != nil {
		status := http.StatusInternalServerError
		code := "transfer_failed"
		if errors.Is(err, registry.ErrMapNotFound) {
			status = http.StatusNotFound
			code = "not_found"
		}
		h.writeError(w, status, code, err.Error(), nil)
		return
	}
	h.writeJSON(w, http.StatusOK, a)
}
