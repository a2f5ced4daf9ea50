package overlay

import (
	"image"
	"image/color"
	"sync"

	"github.com/ayusman/facecam/internal/detector"
)

// Renderer draws detections onto a Canvas. It keeps no state of its own.
type Renderer struct {
	style Style
}

// NewRenderer creates a Renderer with the given style.
func NewRenderer(style Style) *Renderer {
	return &Renderer{style: style}
}

// Render clears the canvas and draws every detection scaled by scale.
// It returns the shapes it drew.
func (r *Renderer) Render(c Canvas, dets []detector.Detection, scale Scale) []Shape {
	c.Clear()

	shapes := Layout(dets, scale, r.style)
	for _, s := range shapes {
		switch s.Kind {
		case KindBox:
			c.Rectangle(s.Rect, r.style.Box, r.style.Thickness)
		case KindLandmark:
			c.Circle(s.Center, s.Radius, r.style.Landmark)
		}
	}
	return shapes
}

// Op is one recorded Canvas call.
type Op struct {
	Name   string
	Rect   image.Rectangle
	Center image.Point
	Radius int
	Size   image.Point
}

// Recorder is a Canvas that records calls instead of drawing pixels.
type Recorder struct {
	mu   sync.Mutex
	size image.Point
	ops  []Op
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Resize(size image.Point) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.size = size
	r.ops = append(r.ops, Op{Name: "resize", Size: size})
}

func (r *Recorder) Size() image.Point {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, Op{Name: "clear"})
}

func (r *Recorder) Rectangle(rect image.Rectangle, _ color.RGBA, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, Op{Name: "rect", Rect: rect})
}

func (r *Recorder) Circle(center image.Point, radius int, _ color.RGBA) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, Op{Name: "circle", Center: center, Radius: radius})
}

// Ops returns a copy of every recorded call.
func (r *Recorder) Ops() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Op(nil), r.ops...)
}

// Visible returns the drawing calls made since the last clear or resize.
func (r *Recorder) Visible() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := 0
	for i, op := range r.ops {
		if op.Name == "clear" || op.Name == "resize" {
			start = i + 1
		}
	}
	return append([]Op(nil), r.ops[start:]...)
}

// Count returns how many calls named name were recorded.
func (r *Recorder) Count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, op := range r.ops {
		if op.Name == name {
			n++
		}
	}
	return n
}
