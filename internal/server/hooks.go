package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ShayCichocki/teamlead/internal/runtime"
)

// handleHook receives a hook payload forwarded by `teamlead hook <event>`.
// Permission hooks block until the operator or policy decides.
func (s *Server) handleHook(w http.ResponseWriter, r *http.Request) {
	event := chi.URLParam(r, "event")
	sessionID := r.URL.Query().Get("session")

	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if runtime.HookKind(event) == runtime.HookPermissionRequest {
		req, err := runtime.ParsePermissionRequest(sessionID, body)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		decision, err := s.opts.Supervisor.RequestPermission(r.Context(), req)
		if err != nil {
			s.logger.Warn("permission request ended without operator decision",
				"request_id", req.RequestID, "error", err)
		}
		writeJSON(w, http.StatusOK, runtime.DecisionReply(decision))
		return
	}

	ev, err := runtime.ParseHook(event, sessionID, body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.opts.Supervisor.HandleHook(r.Context(), ev); err != nil {
		s.logger.Warn("hook rejected", "event", event, "session_id", sessionID, "error", err)
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
