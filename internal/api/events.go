package api

import (
	"net/http"
	"strconv"

	"github.com/photarc/lumacore/internal/events"
)

// handleListEvents returns the persisted event log, most recent first.
//
// Query parameters:
//   - type: filter by event type (state_transition, fault, advisory)
//   - severity: filter by fault severity
//   - signal: filter by interlock signal
//   - limit, offset: pagination (default 50, max 200)
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeInternalError(w, "event store not configured")
		return
	}

	filter := events.Filter{
		Type:     events.Type(r.URL.Query().Get("type")),
		Severity: r.URL.Query().Get("severity"),
		Signal:   r.URL.Query().Get("signal"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "limit must be an integer")
			return
		}
		filter.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "offset must be an integer")
			return
		}
		filter.Offset = n
	}

	result, err := s.events.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing events failed", "error", err)
		writeInternalError(w, "failed to list events")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
