package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/fidde/herd_weight_dashboard/pkg/models"
)

type deviceRequest struct {
	DeviceID string `json:"deviceId"`
}

type registerDeviceResponse struct {
	DeviceID string `json:"deviceId"`
	Listed   bool   `json:"listed"`
	Message  string `json:"message"`
}

// registerDevice accepts a device id ahead of its first reading. Devices
// are derived from records, so nothing is stored; permissions may name
// the id right away.
func (s *Server) registerDevice(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	deviceID := strings.TrimSpace(req.DeviceID)
	if deviceID == "" {
		s.respondError(w, r, fmt.Errorf("%w: deviceId is required", models.ErrValidation))
		return
	}

	resp := registerDeviceResponse{DeviceID: deviceID, Listed: s.directory.Contains(deviceID)}
	if resp.Listed {
		resp.Message = "device already has readings"
	} else {
		resp.Message = "device is listed once it reports a reading"
	}
	s.respondJSON(w, http.StatusCreated, resp)
}

func (s *Server) listDevices(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.directory.List())
}

// deleteDevice revokes the device from every user and removes its records.
func (s *Server) deleteDevice(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	result, err := s.gate.RemoveDevice(r.Context(), req.DeviceID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}
