package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ayusman/facecam/internal/crop"
	"github.com/ayusman/facecam/internal/session"
)

// Crops gives access to the current cycle's crop artifacts.
type Crops interface {
	Snapshot() session.Snapshot
	Crop(id string) (crop.Artifact, bool)
}

// FacesHandler handles GET /api/faces and GET /api/faces/{id}.jpg.
type FacesHandler struct {
	crops Crops
}

// NewFacesHandler creates a FacesHandler.
func NewFacesHandler(c Crops) *FacesHandler {
	return &FacesHandler{crops: c}
}

type listFacesResponse struct {
	Faces []session.Face `json:"faces"`
	Seq   uint64         `json:"seq"`
}

// ServeHTTP implements the http.Handler interface.
func (h *FacesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/faces")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		snap := h.crops.Snapshot()
		writeJSON(w, http.StatusOK, listFacesResponse{Faces: snap.Faces, Seq: snap.Seq})
		return
	}

	h.thumbnail(w, strings.TrimSuffix(path, ".jpg"))
}

// thumbnail handles GET /api/faces/{id}.jpg. Artifacts only live for one
// cycle, so a stale id is a 404.
func (h *FacesHandler) thumbnail(w http.ResponseWriter, id string) {
	a, ok := h.crops.Crop(id)
	if !ok || len(a.Thumbnail) == 0 {
		writeError(w, http.StatusNotFound, "Face not found")
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(a.Thumbnail)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(a.Thumbnail)
}
