package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/conductor/internal/store"
)

// maxCommandLimit caps the limit query parameter of the command log.
const maxCommandLimit = 1000

// handleListCommands returns the persisted command log, newest first.
//
// Query parameters:
//   - device_id: only commands of this device
//   - failed: "true" for failed commands only
//   - since: Unix milliseconds lower bound on execution time
//   - limit: maximum entries (default 100, max 1000)
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeNotFound(w, "command log is disabled")
		return
	}

	q := r.URL.Query()
	filter := store.CommandFilter{DeviceID: q.Get("device_id")}

	if v := q.Get("failed"); v != "" {
		failed, err := strconv.ParseBool(v)
		if err != nil {
			writeBadRequest(w, "failed must be a boolean")
			return
		}
		filter.FailedOnly = failed
	}
	if v := q.Get("since"); v != "" {
		since, err := strconv.ParseInt(v, 10, 64)
		if err != nil || since < 0 {
			writeBadRequest(w, "since must be Unix milliseconds")
			return
		}
		filter.Since = since
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		filter.Limit = min(limit, maxCommandLimit)
	}

	entries, err := s.store.Commands(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list commands", "error", err)
		writeInternalError(w, "failed to list commands")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commands": entries, "count": len(entries)})
}
