package server

import (
	"fmt"
	"net/http"

	"golang.org/x/time/rate"
)

// DefaultStreamFPS is the MJPEG rate when none is configured.
const DefaultStreamFPS = 15

// FrameSource provides the latest encoded frame.
type FrameSource interface {
	// Frame returns the latest JPEG frame, or nil.
	Frame() []byte
	// Seq increases every time a new frame is committed.
	Seq() uint64
}

// StreamHandler serves MJPEG frames from the latest detection cycle.
type StreamHandler struct {
	frames FrameSource
	fps    int
}

// NewStreamHandler creates a new StreamHandler reading from frames.
func NewStreamHandler(frames FrameSource, fps int) *StreamHandler {
	if fps <= 0 {
		fps = DefaultStreamFPS
	}
	return &StreamHandler{frames: frames, fps: fps}
}

// ServeHTTP streams MJPEG frames to connected clients. A frame is written
// only when a new cycle has committed one.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	limiter := rate.NewLimiter(rate.Limit(h.fps), 1)
	var last uint64

	for {
		if err := limiter.Wait(r.Context()); err != nil {
			return
		}

		seq := h.frames.Seq()
		if seq == last {
			continue
		}
		frame := h.frames.Frame()
		if frame == nil {
			continue
		}
		last = seq

		if err := writePart(w, frame); err != nil {
			return
		}
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}

func writePart(w http.ResponseWriter, frame []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame)); err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	_, err := fmt.Fprint(w, "\r\n")
	return err
}
