package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ShayCichocki/teamlead/pkg/models"
)

func (s *Server) specStore(w http.ResponseWriter) bool {
	if s.opts.Specs == nil {
		writeError(w, http.StatusNotFound, "spec store is not configured")
		return false
	}
	return true
}

func (s *Server) listTeammateSpecs(w http.ResponseWriter, r *http.Request) {
	if !s.specStore(w) {
		return
	}
	list, err := s.opts.Specs.ListTeammates()
	if err != nil && len(list) == 0 {
		writeErr(w, err)
		return
	}
	if err != nil {
		s.logger.Warn("skipping unreadable teammate specs", "error", err)
	}
	if list == nil {
		list = []models.TeammateSpec{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) putTeammateSpec(w http.ResponseWriter, r *http.Request) {
	if !s.specStore(w) {
		return
	}
	var spec models.TeammateSpec
	if err := decodeJSON(r, &spec); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	spec.Name = chi.URLParam(r, "name")
	if err := s.opts.Specs.PutTeammate(spec); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, spec)
}

func (s *Server) deleteTeammateSpec(w http.ResponseWriter, r *http.Request) {
	if !s.specStore(w) {
		return
	}
	if err := s.opts.Specs.DeleteTeammate(chi.URLParam(r, "name")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listSkillSpecs(w http.ResponseWriter, r *http.Request) {
	if !s.specStore(w) {
		return
	}
	list, err := s.opts.Specs.ListSkills()
	if err != nil && len(list) == 0 {
		writeErr(w, err)
		return
	}
	if err != nil {
		s.logger.Warn("skipping unreadable skill specs", "error", err)
	}
	if list == nil {
		list = []models.SkillSpec{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) putSkillSpec(w http.ResponseWriter, r *http.Request) {
	if !s.specStore(w) {
		return
	}
	var spec models.SkillSpec
	if err := decodeJSON(r, &spec); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	spec.Name = chi.URLParam(r, "name")
	if err := s.opts.Specs.PutSkill(spec); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, spec)
}

func (s *Server) deleteSkillSpec(w http.ResponseWriter, r *http.Request) {
	if !s.specStore(w) {
		return
	}
	if err := s.opts.Specs.DeleteSkill(chi.URLParam(r, "name")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
