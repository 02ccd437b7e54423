package api

import (
	"net/http"

	"github.com/photarc/lumacore/internal/interlock"
	"github.com/photarc/lumacore/internal/protocol"
	"github.com/photarc/lumacore/internal/safety"
)

// statusResponse is the combined device status returned by GET /status.
type statusResponse struct {
	State          string              `json:"state"`
	PermitEmission bool                `json:"permit_emission"`
	CommandedWatts float64             `json:"commanded_watts"`
	Interlocks     interlock.Status    `json:"interlocks"`
	Protocol       protocolSummary     `json:"protocol"`
	LastFault      *safety.FaultRecord `json:"last_fault,omitempty"`
}

type protocolSummary struct {
	State string `json:"state"`
	Line  int    `json:"line"`
	Total int    `json:"total_lines"`
}

// handleStatus returns the full device status in one round trip.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	cursor := s.engine.Progress()
	resp := statusResponse{
		State:          string(s.authority.State()),
		PermitEmission: s.authority.PermitEmission(),
		CommandedWatts: s.authority.CommandedWatts(),
		Interlocks:     s.authority.Interlocks(),
		Protocol: protocolSummary{
			State: string(cursor.State),
			Line:  cursor.Line,
			Total: cursor.TotalLines,
		},
	}
	if fault, ok := s.authority.LastFault(); ok {
		resp.LastFault = &fault
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleInterlocks returns the latest interlock snapshot.
func (s *Server) handleInterlocks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.authority.Interlocks())
}

// handleLastFault returns the most recent fault record, if any.
func (s *Server) handleLastFault(w http.ResponseWriter, _ *http.Request) {
	fault, ok := s.authority.LastFault()
	if !ok {
		writeNotFound(w, "no fault recorded")
		return
	}
	writeJSON(w, http.StatusOK, fault)
}

// commandResponse reports the state after a successful command.
type commandResponse struct {
	State string `json:"state"`
}

func (s *Server) respondState(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, commandResponse{State: string(s.authority.State())})
}

func (s *Server) handleArm(w http.ResponseWriter, _ *http.Request) {
	if err := s.authority.Arm(); err != nil {
		writeCommandError(w, err)
		return
	}
	s.respondState(w)
}

func (s *Server) handleDisarm(w http.ResponseWriter, _ *http.Request) {
	if err := s.authority.Disarm(); err != nil {
		writeCommandError(w, err)
		return
	}
	s.respondState(w)
}

func (s *Server) handleEngage(w http.ResponseWriter, _ *http.Request) {
	if err := s.authority.Engage(); err != nil {
		writeCommandError(w, err)
		return
	}
	s.respondState(w)
}

// handlePause pauses the session and freezes the running protocol. The
// authority transition comes first; the engine then disables outputs and
// records its resume point.
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.authority.Pause(); err != nil {
		writeCommandError(w, err)
		return
	}
	if err := s.engine.Pause(r.Context()); err != nil {
		// No protocol running is fine; the session still pauses.
		s.logger.Debug("engine pause skipped", "error", err)
	}
	s.respondState(w)
}

// handleResume re-enters Treating and re-issues the protocol's in-flight
// commands. The authority checks interlock freshness and the deadman before
// the transition; if the engine's re-issue is then denied, the protocol
// stays paused and the operator sees the denial.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := s.authority.Resume(); err != nil {
		writeCommandError(w, err)
		return
	}
	if s.engine.State() == protocol.ExecPaused {
		if err := s.engine.Resume(r.Context()); err != nil {
			writeCommandError(w, err)
			return
		}
	}
	s.respondState(w)
}

// handleEndTreatment ends the session from Treating or Paused. A running
// protocol is aborted first so no command outlives the session.
func (s *Server) handleEndTreatment(w http.ResponseWriter, r *http.Request) {
	if s.authority.State() == safety.StateTreating {
		if err := s.authority.Pause(); err != nil {
			writeCommandError(w, err)
			return
		}
	}
	s.engine.Abort(r.Context(), "treatment ended")
	if err := s.authority.EndTreatment(); err != nil {
		writeCommandError(w, err)
		return
	}
	s.respondState(w)
}

// handleEmergencyStop latches a critical fault. Deliberately unauthenticated
// and idempotent: repeated requests during one fault episode succeed without
// generating duplicate fault records.
func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	s.engine.Abort(r.Context(), "emergency stop")
	if err := s.authority.EmergencyStop(); err != nil {
		writeCommandError(w, err)
		return
	}
	s.respondState(w)
}

// handleSupervisorClear begins fault recovery. Reached only through the
// supervisor-role middleware.
func (s *Server) handleSupervisorClear(w http.ResponseWriter, _ *http.Request) {
	if err := s.authority.SupervisorClear(); err != nil {
		writeCommandError(w, err)
		return
	}
	s.respondState(w)
}

// handleResetComplete finishes the shutdown-and-reset sequence after a
// supervisor clear, returning the device to Safe.
func (s *Server) handleResetComplete(w http.ResponseWriter, _ *http.Request) {
	if err := s.authority.ResetComplete(); err != nil {
		writeCommandError(w, err)
		return
	}
	s.respondState(w)
}
