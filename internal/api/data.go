package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/fidde/herd_weight_dashboard/internal/access"
	"github.com/fidde/herd_weight_dashboard/pkg/models"
)

type deleteDataRequest struct {
	IDs []string `json:"ids"`
}

type deleteDataResponse struct {
	Deleted int `json:"deleted"`
}

// listData returns every record, scoped to the caller when X-User is set.
func (s *Server) listData(w http.ResponseWriter, r *http.Request) {
	all := s.records.ListAll()

	if r.Header.Get(CallerHeader) != "" {
		user, err := s.caller(r)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		all = access.Scope(all, user)
	}

	s.respondJSON(w, http.StatusOK, all)
}

func (s *Server) createData(w http.ResponseWriter, r *http.Request) {
	var rec models.TelemetryRecord
	if err := decodeJSON(w, r, &rec); err != nil {
		s.respondError(w, r, err)
		return
	}

	stored, err := s.records.Append(r.Context(), rec)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, stored)
}

func (s *Server) updateData(w http.ResponseWriter, r *http.Request) {
	var rec models.TelemetryRecord
	if err := decodeJSON(w, r, &rec); err != nil {
		s.respondError(w, r, err)
		return
	}

	updated, err := s.records.Update(r.Context(), rec)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteData(w http.ResponseWriter, r *http.Request) {
	var req deleteDataRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	ids := make([]string, 0, len(req.IDs))
	for _, id := range req.IDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		s.respondError(w, r, fmt.Errorf("%w: ids is required", models.ErrValidation))
		return
	}

	removed, err := s.records.DeleteByIDs(r.Context(), ids)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, deleteDataResponse{Deleted: removed})
}
