package api

import (
	"fmt"
	"net/http"

	"github.com/fidde/herd_weight_dashboard/pkg/models"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type permissionsRequest struct {
	Username    string              `json:"username"`
	Permissions *models.Permissions `json:"permissions"`
}

// listUsers returns every account without credentials.
func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	all := s.users.List()
	public := make([]models.PublicUser, 0, len(all))
	for _, u := range all {
		public = append(public, u.Public())
	}
	s.respondJSON(w, http.StatusOK, public)
}

func (s *Server) registerUser(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	user, err := s.users.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, user.Public())
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	user, err := s.users.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, user.Public())
}

func (s *Server) setPermissions(w http.ResponseWriter, r *http.Request) {
	var req permissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	if req.Permissions == nil {
		s.respondError(w, r, fmt.Errorf("%w: permissions is required", models.ErrValidation))
		return
	}

	user, err := s.gate.SetUserPermissions(r.Context(), req.Username, *req.Permissions)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, user.Public())
}
