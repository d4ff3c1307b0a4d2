package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ShayCichocki/teamlead/pkg/models"
)

type answerRequest struct {
	Answer string `json:"answer"`
}

func (s *Server) listPermissions(w http.ResponseWriter, r *http.Request) {
	pending := s.opts.Supervisor.PendingPermissions(r.URL.Query().Get("session"))
	if pending == nil {
		pending = []models.PendingPermission{}
	}
	writeJSON(w, http.StatusOK, pending)
}

func (s *Server) resolvePermission(w http.ResponseWriter, r *http.Request) {
	var decision models.PermissionDecision
	if err := decodeJSON(r, &decision); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !decision.Behavior.Valid() {
		writeError(w, http.StatusBadRequest, "behavior must be allow or deny")
		return
	}
	if err := s.opts.Supervisor.ResolvePermission(chi.URLParam(r, "id"), decision); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) answerQuestion(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.opts.Supervisor.AnswerQuestion(chi.URLParam(r, "id"), req.Answer); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
