package api

import (
	"encoding/json"
	"net/http"

	"github.com/photarc/lumacore/internal/protocol"
)

// handleLoadProtocol validates and loads a treatment protocol. Validation
// is fail-closed: any rejected action rejects the whole protocol, and a
// load during execution is refused.
func (s *Server) handleLoadProtocol(w http.ResponseWriter, r *http.Request) {
	var p protocol.Protocol
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeBadRequest(w, "invalid protocol JSON: "+err.Error())
		return
	}

	if err := s.engine.Load(p); err != nil {
		writeCommandError(w, err)
		return
	}

	s.logger.Info("protocol loaded", "protocol_id", p.ID, "variant", p.Variant())
	writeJSON(w, http.StatusOK, map[string]any{
		"protocol_id": p.ID,
		"variant":     string(p.Variant()),
	})
}

// handleProtocolStart begins executing the loaded protocol. The session
// must already be in Treating; individual emission commands are still
// gated per tick by the authority.
func (s *Server) handleProtocolStart(w http.ResponseWriter, _ *http.Request) {
	if err := s.engine.Start(); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Progress())
}

// handleProtocolPause pauses execution and the session together.
func (s *Server) handleProtocolPause(w http.ResponseWriter, r *http.Request) {
	if err := s.authority.Pause(); err != nil {
		writeCommandError(w, err)
		return
	}
	if err := s.engine.Pause(r.Context()); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Progress())
}

// handleProtocolResume resumes the session and re-issues the frozen
// commands. If re-issue is denied the protocol stays paused.
func (s *Server) handleProtocolResume(w http.ResponseWriter, r *http.Request) {
	if err := s.authority.Resume(); err != nil {
		writeCommandError(w, err)
		return
	}
	if err := s.engine.Resume(r.Context()); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Progress())
}

// handleProtocolAbort abandons the protocol and pauses the session so the
// device does not sit in Treating with nothing running.
func (s *Server) handleProtocolAbort(w http.ResponseWriter, r *http.Request) {
	s.engine.Abort(r.Context(), "operator abort")
	if err := s.authority.Pause(); err != nil {
		s.logger.Debug("session pause after abort skipped", "error", err)
	}
	writeJSON(w, http.StatusOK, s.engine.Progress())
}

// handleProtocolProgress returns the read-only execution cursor.
func (s *Server) handleProtocolProgress(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Progress())
}
