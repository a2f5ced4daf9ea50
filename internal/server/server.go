// Package server provides the HTTP server for facecam.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ayusman/facecam/internal/app"
	"github.com/ayusman/facecam/internal/server/api"
	"github.com/ayusman/facecam/internal/store"
)

// Config holds the server configuration.
type Config struct {
	StaticDir string
	Store     *store.Store
	App       *app.App
	// StreamFPS caps the MJPEG stream rate per client.
	StreamFPS int
	Log       logrus.FieldLogger
}

// Server represents the HTTP server for the facecam application.
type Server struct {
	config Config
	mux    *http.ServeMux
	log    logrus.FieldLogger
	start  time.Time
	http   *http.Server
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	log := config.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		log:    log.WithField("component", "server"),
		start:  time.Now(),
	}
	s.setupRoutes()
	s.http = &http.Server{
		Handler:           s.logRequests(s.mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if a := s.config.App; a != nil {
		captureHandler := api.NewCaptureHandler(a)
		s.mux.Handle("/api/capture/", captureHandler)
		s.mux.Handle("/api/settings", api.NewSettingsHandler(a, s.config.Store))

		facesHandler := api.NewFacesHandler(a.Session())
		s.mux.Handle("/api/faces", facesHandler)
		s.mux.Handle("/api/faces/", facesHandler)

		s.mux.HandleFunc("/api/status", s.handleStatus)
		s.mux.HandleFunc("/api/overlay", s.handleOverlay)
		s.mux.HandleFunc("/api/overlay.png", s.handleOverlayPNG)
		s.mux.HandleFunc("/api/debug", s.handleDebug)

		s.mux.Handle("/api/stream", NewStreamHandler(a.Session(), s.config.StreamFPS))
		s.mux.Handle("/api/detections", NewDetectionsHandler(a, s.log))
	}

	// Serve static files if StaticDir is configured
	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(s.start)

	response := map[string]interface{}{
		"status": "ok",
		"uptime": uptime.String(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// handleStatus handles GET /api/status with the session snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.config.App.Snapshot())
}

// handleOverlay handles GET /api/overlay with the shapes currently drawn.
func (s *Server) handleOverlay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	snap := s.config.App.Snapshot()
	display := snap.DisplaySize
	if display.X <= 0 || display.Y <= 0 {
		display = snap.NativeSize
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"size":   display,
		"scale":  snap.Scale,
		"shapes": s.config.App.Session().Shapes(),
		"seq":    snap.Seq,
	})
}

// handleOverlayPNG handles GET /api/overlay.png with the transparent overlay.
func (s *Server) handleOverlayPNG(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	data, err := s.config.App.OverlayPNG()
	if err != nil {
		if errors.Is(err, app.ErrNoOverlayImage) {
			writeError(w, http.StatusNotImplemented, "Overlay image not available")
			return
		}
		writeError(w, http.StatusNotFound, "Overlay not drawn yet")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(data)
}

// handleDebug handles GET /api/debug with the debug panel text.
func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(s.config.App.Session().Debug()))
}

// ListenAndServe starts the HTTP server on the given address and blocks
// until it fails or Shutdown is called.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.log.WithField("addr", ln.Addr().String()).Info("listening")

	err = s.http.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops a server started with ListenAndServe.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// logRequests logs every request except the long-lived streams.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/stream" || r.URL.Path == "/api/detections" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		entry := s.log.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     rec.status,
			"latency_ms": time.Since(start).Milliseconds(),
		})
		switch {
		case rec.status >= 500:
			entry.Error("server error")
		case rec.status >= 400:
			entry.Warn("client error")
		default:
			entry.Debug("request")
		}
	})
}
