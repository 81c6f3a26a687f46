package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fidde/herd_weight_dashboard/pkg/models"
)

type createSnapshotRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type restoreSnapshotResponse struct {
	Snapshot string `json:"snapshot"`
	Restored int    `json:"restored"`
}

// requireAdmin resolves the caller and rejects everyone but admins.
func (s *Server) requireAdmin(r *http.Request) error {
	user, err := s.caller(r)
	if err != nil {
		return err
	}
	if !user.IsAdmin() {
		return fmt.Errorf("%w: %s is not an administrator", models.ErrForbidden, user.Username)
	}
	return nil
}

func (s *Server) listSnapshots(w http.ResponseWriter, r *http.Request) {
	if err := s.requireAdmin(r); err != nil {
		s.respondError(w, r, err)
		return
	}

	list, err := s.snapshots.List(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, list)
}

// createSnapshot saves the current records under a new name.
func (s *Server) createSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := s.requireAdmin(r); err != nil {
		s.respondError(w, r, err)
		return
	}

	var req createSnapshotRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	meta, err := s.snapshots.Save(r.Context(), &models.Snapshot{
		ID:          req.Name,
		Description: req.Description,
		Created:     s.now().UTC(),
		Records:     s.records.ListAll(),
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	s.logger.Info("snapshot saved", "snapshot", meta.ID, "records", meta.RecordCount)
	s.respondJSON(w, http.StatusCreated, meta)
}

// restoreSnapshot replaces every record with the snapshot's records.
func (s *Server) restoreSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := s.requireAdmin(r); err != nil {
		s.respondError(w, r, err)
		return
	}

	name := chi.URLParam(r, "name")
	snap, err := s.snapshots.Load(r.Context(), name)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	restored, err := s.records.ReplaceAll(r.Context(), snap.Records)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	s.logger.Info("snapshot restored", "snapshot", name, "records", restored)
	s.respondJSON(w, http.StatusOK, restoreSnapshotResponse{Snapshot: name, Restored: restored})
}

func (s *Server) deleteSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := s.requireAdmin(r); err != nil {
		s.respondError(w, r, err)
		return
	}

	if err := s.snapshots.Delete(r.Context(), chi.URLParam(r, "name")); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
