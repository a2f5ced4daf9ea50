// Package api provides HTTP API handlers for facecam.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ayusman/facecam/internal/capture"
	"github.com/ayusman/facecam/internal/session"
)

// Capture starts and stops the camera session.
type Capture interface {
	StartCapture() error
	StopCapture() error
	Snapshot() session.Snapshot
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// CaptureHandler handles /api/capture/start and /api/capture/stop.
type CaptureHandler struct {
	capture Capture
}

// NewCaptureHandler creates a new CaptureHandler.
func NewCaptureHandler(c Capture) *CaptureHandler {
	return &CaptureHandler{capture: c}
}

// ServeHTTP implements the http.Handler interface.
func (h *CaptureHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	action := strings.TrimPrefix(r.URL.Path, "/api/capture")
	action = strings.Trim(action, "/")

	switch action {
	case "start":
		h.start(w)
	case "stop":
		h.stop(w)
	default:
		writeError(w, http.StatusNotFound, "Unknown capture action")
	}
}

// start handles POST /api/capture/start.
func (h *CaptureHandler) start(w http.ResponseWriter) {
	if err := h.capture.StartCapture(); err != nil {
		if errors.Is(err, capture.ErrCameraUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "Camera unavailable")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to start capture")
		return
	}
	writeJSON(w, http.StatusOK, h.capture.Snapshot())
}

// stop handles POST /api/capture/stop.
func (h *CaptureHandler) stop(w http.ResponseWriter) {
	if err := h.capture.StopCapture(); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to stop capture")
		return
	}
	writeJSON(w, http.StatusOK, h.capture.Snapshot())
}
