package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/conductor/internal/conductor"
	"github.com/nerrad567/conductor/internal/device"
)

// makeReadyRequest is the optional body of the make-ready endpoint.
type makeReadyRequest struct {
	OkToDestroyStuff bool `json:"ok_to_destroy_stuff"`
}

// handleListDevices returns every connected device with its status and
// pipeline statistics.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.conductor.DeviceStatuses()
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns one device.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	info, err := s.conductor.DeviceStatus(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDeviceError(w, err, "failed to get device")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleAddDevice connects a new device.
func (s *Server) handleAddDevice(w http.ResponseWriter, r *http.Request) {
	var opts device.Options
	if !decodeJSON(w, r, &opts, false) {
		return
	}
	if opts.Type == "" {
		writeValidationError(w, "type is required")
		return
	}

	id, err := s.conductor.AddDevice(r.Context(), opts)
	if err != nil {
		s.writeDeviceError(w, err, "failed to add device")
		return
	}

	s.logger.Info("device added via API", "device_id", id, "type", opts.Type)
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

// handleRemoveDevice terminates and removes a device.
func (s *Server) handleRemoveDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.conductor.RemoveDevice(r.Context(), id); err != nil {
		if errors.Is(err, conductor.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		// The device is gone even when its termination failed.
		s.logger.Warn("device terminated with error", "device_id", id, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleMakeReady prepares every device for a show.
func (s *Server) handleMakeReady(w http.ResponseWriter, r *http.Request) {
	var req makeReadyRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	if err := s.conductor.DevicesMakeReady(r.Context(), req.OkToDestroyStuff); err != nil {
		writeError(w, http.StatusBadGateway, ErrCodeDeviceFailure, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// handleClearFuture asks a device to drop its natively scheduled commands.
func (s *Server) handleClearFuture(w http.ResponseWriter, r *http.Request) {
	if err := s.conductor.ClearFuture(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeDeviceError(w, err, "failed to clear future")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "cleared"})
}

// handleListActions lists a device's actions.
func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	actions, err := s.conductor.Actions(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDeviceError(w, err, "failed to list actions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": actions, "count": len(actions)})
}

// handleExecuteAction runs a device action. The optional body is passed to
// the action as its payload.
func (s *Server) handleExecuteAction(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if !decodeJSON(w, r, &payload, true) {
		return
	}

	id, action := chi.URLParam(r, "id"), chi.URLParam(r, "action")
	result, err := s.conductor.ExecuteAction(r.Context(), id, action, payload)
	if err != nil {
		s.writeDeviceError(w, err, "failed to execute action")
		return
	}

	s.logger.Info("device action executed", "device_id", id, "action", action, "ok", result.OK)
	writeJSON(w, http.StatusOK, result)
}

// writeDeviceError maps conductor and device errors onto HTTP statuses.
func (s *Server) writeDeviceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, conductor.ErrDeviceNotFound):
		writeNotFound(w, "device not found")
	case errors.Is(err, device.ErrActionNotFound):
		writeNotFound(w, "action not found")
	case errors.Is(err, device.ErrUnknownType):
		writeValidationError(w, err.Error())
	case errors.Is(err, conductor.ErrDeviceExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, conductor.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	case errors.Is(err, device.ErrNotConnected), errors.Is(err, device.ErrNotInitialised):
		writeError(w, http.StatusBadGateway, ErrCodeDeviceFailure, err.Error())
	default:
		s.logger.Error(fallback, "error", err)
		writeInternalError(w, fallback+": "+err.Error())
	}
}
