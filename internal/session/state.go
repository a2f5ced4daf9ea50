// Package session holds the explicit state of one capture session: streaming
// and loading flags, the current cycle's results, the crop artifacts, the
// overlay geometry and the user-visible error.
package session

import (
	"image"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/ayusman/facecam/internal/crop"
	"github.com/ayusman/facecam/internal/detector"
	"github.com/ayusman/facecam/internal/overlay"
)

var debugJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrorKind classifies user-visible failures.
type ErrorKind string

const (
	ErrorCamera    ErrorKind = "camera"
	ErrorModel     ErrorKind = "model"
	ErrorInference ErrorKind = "inference"
)

// Error is the message shown to the user.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Face summarizes a crop artifact for listings.
type Face struct {
	ID        string          `json:"id"`
	Face      int             `json:"face"`
	Region    image.Rectangle `json:"region"`
	ThumbSize image.Point     `json:"thumbSize"`
	Landmarks int             `json:"landmarks"`
	Model     string          `json:"model,omitempty"`
	// Points are the landmarks in thumbnail pixel coordinates.
	Points []image.Point `json:"points,omitempty"`
}

// Snapshot is a read-only copy of the session.
type Snapshot struct {
	Streaming   bool                 `json:"streaming"`
	Loading     bool                 `json:"loading"`
	Error       *Error               `json:"error,omitempty"`
	NativeSize  image.Point          `json:"nativeSize"`
	DisplaySize image.Point          `json:"displaySize"`
	Scale       overlay.Scale        `json:"scale"`
	Detections  []detector.Detection `json:"detections"`
	Faces       []Face               `json:"faces"`
	Seq         uint64               `json:"seq"`
	UpdatedAt   time.Time            `json:"updatedAt"`
}

// Result is the output of one completed detection cycle.
type Result struct {
	NativeSize image.Point
	Scale      overlay.Scale
	Detections []detector.Detection
	Shapes     []overlay.Shape
	Crops      []crop.Artifact
	Frame      []byte
}

// State is safe for concurrent use. Per-cycle data is replaced wholesale.
type State struct {
	mu        sync.RWMutex
	streaming bool
	loading   bool
	err       *Error
	native    image.Point
	display   image.Point
	scale     overlay.Scale
	dets      []detector.Detection
	shapes    []overlay.Shape
	crops     []crop.Artifact
	frame     []byte
	debug     string
	seq       uint64
	updated   time.Time
}

// New returns an idle session.
func New() *State {
	return &State{scale: overlay.Identity}
}

func (s *State) SetStreaming(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streaming = v
}

func (s *State) Streaming() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streaming
}

func (s *State) SetLoading(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = v
}

// SetDisplaySize records the displayed video size. A zero size means the
// video is shown at its native size.
func (s *State) SetDisplaySize(size image.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.display = size
}

func (s *State) DisplaySize() image.Point {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.display
}

// SetError records a user-visible error. debug, when not empty, replaces the
// debug panel text.
func (s *State) SetError(kind ErrorKind, message, debug string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = &Error{Kind: kind, Message: message}
	if debug != "" {
		s.debug = debug
	}
	s.updated = time.Now()
}

// ClearError drops the current error if it is of the given kind.
func (s *State) ClearError(kind ErrorKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil && s.err.Kind == kind {
		s.err = nil
	}
}

// Err returns a copy of the current error, or nil.
func (s *State) Err() *Error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err == nil {
		return nil
	}
	e := *s.err
	return &e
}

// Commit replaces the per-cycle results. A successful cycle clears an earlier
// inference error and refreshes the debug text with the raw detections.
func (s *State) Commit(r Result) {
	debug, err := debugJSON.MarshalIndent(r.Detections, "", "  ")
	if err != nil {
		debug = []byte(err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.native = r.NativeSize
	s.scale = r.Scale
	s.dets = r.Detections
	s.shapes = r.Shapes
	s.crops = r.Crops
	if r.Frame != nil {
		s.frame = r.Frame
	}
	s.debug = string(debug)
	if s.err != nil && s.err.Kind == ErrorInference {
		s.err = nil
	}
	s.seq++
	s.updated = time.Now()
}

// Clear drops every per-cycle structure. The display size and the sequence
// counter survive.
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.native = image.Point{}
	s.scale = overlay.Identity
	s.dets = nil
	s.shapes = nil
	s.crops = nil
	s.frame = nil
	s.debug = ""
	s.updated = time.Now()
}

// Frame returns the latest captured frame as JPEG, or nil.
func (s *State) Frame() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frame
}

// Debug returns the debug panel text.
func (s *State) Debug() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.debug
}

// Shapes returns the overlay shapes of the latest cycle.
func (s *State) Shapes() []overlay.Shape {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]overlay.Shape(nil), s.shapes...)
}

// Crops returns the crop artifacts of the latest cycle.
func (s *State) Crops() []crop.Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]crop.Artifact(nil), s.crops...)
}

// Crop looks up a crop artifact by id.
func (s *State) Crop(id string) (crop.Artifact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.crops {
		if a.ID == id {
			return a, true
		}
	}
	return crop.Artifact{}, false
}

// Seq returns the number of committed cycles.
func (s *State) Seq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq
}

// Snapshot copies the session.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Streaming:   s.streaming,
		Loading:     s.loading,
		NativeSize:  s.native,
		DisplaySize: s.display,
		Scale:       s.scale,
		Detections:  append([]detector.Detection{}, s.dets...),
		Faces:       make([]Face, 0, len(s.crops)),
		Seq:         s.seq,
		UpdatedAt:   s.updated,
	}
	if s.err != nil {
		e := *s.err
		snap.Error = &e
	}
	for _, a := range s.crops {
		f := Face{
			ID:        a.ID,
			Face:      a.Face,
			Region:    a.Region,
			ThumbSize: a.ThumbSize,
			Landmarks: a.Landmarks.Len(),
			Points:    append([]image.Point(nil), a.Points...),
		}
		if a.Landmarks != nil {
			f.Model = a.Landmarks.Model
		}
		snap.Faces = append(snap.Faces, f)
	}
	return snap
}
