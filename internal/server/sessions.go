package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ShayCichocki/teamlead/pkg/models"
)

// createRequest is a session config whose specs may also be referenced by
// name from the spec store.
type createRequest struct {
	models.SessionConfig
	Teammates []string `json:"teammates,omitempty"`
	Skills    []string `json:"skills,omitempty"`
}

type continueRequest struct {
	Prompt      string              `json:"prompt"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Supervisor.List())
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg := req.SessionConfig
	if len(req.Teammates) > 0 || len(req.Skills) > 0 {
		if s.opts.Specs == nil {
			writeError(w, http.StatusBadRequest, "spec store is not configured")
			return
		}
		teammates, skills, err := s.opts.Specs.Resolve(req.Teammates, req.Skills)
		if err != nil {
			writeErr(w, err)
			return
		}
		cfg.TeammateSpecs = append(cfg.TeammateSpecs, teammates...)
		cfg.SkillSpecs = append(cfg.SkillSpecs, skills...)
	}

	sess, err := s.opts.Supervisor.CreateSession(r.Context(), cfg)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	view, err := s.opts.Supervisor.SessionView(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) stopSession(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Supervisor.StopSession(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) continueSession(w http.ResponseWriter, r *http.Request) {
	var req continueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	if err := s.opts.Supervisor.ContinueSession(r.Context(), chi.URLParam(r, "id"), req.Prompt, req.Attachments); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type messageResponse struct {
	Recipients []string `json:"recipients"`
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var msg models.TeammateMessage
	if err := decodeJSON(r, &msg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	recipients, err := s.opts.Supervisor.SendMessage(r.Context(), chi.URLParam(r, "id"), msg)
	if err != nil {
		writeErr(w, err)
		return
	}
	if recipients == nil {
		recipients = []string{}
	}
	writeJSON(w, http.StatusAccepted, messageResponse{Recipients: recipients})
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Supervisor.DeleteSession(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
