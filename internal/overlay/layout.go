// Package overlay maps detections from native video space onto the displayed
// video size and draws them on a transparent canvas.
package overlay

import (
	"image"
	"image/color"
	"math"

	"github.com/ayusman/facecam/internal/detector"
)

// Scale maps native video pixels to displayed pixels, per axis.
type Scale struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Identity is the scale used when display and native sizes match.
var Identity = Scale{X: 1, Y: 1}

// ScaleFor returns display/native independently for each axis. Non-uniform
// scales are expected. An axis with a zero size on either side maps 1:1.
func ScaleFor(native, display image.Point) Scale {
	s := Identity
	if native.X > 0 && display.X > 0 {
		s.X = float64(display.X) / float64(native.X)
	}
	if native.Y > 0 && display.Y > 0 {
		s.Y = float64(display.Y) / float64(native.Y)
	}
	return s
}

// ShapeKind tells rectangles from landmark dots.
type ShapeKind string

const (
	KindBox      ShapeKind = "box"
	KindLandmark ShapeKind = "landmark"
)

// Shape is one primitive of the overlay in display pixel coordinates.
type Shape struct {
	Kind   ShapeKind       `json:"kind"`
	Face   int             `json:"face"`
	Rect   image.Rectangle `json:"rect,omitempty"`
	Center image.Point     `json:"center,omitempty"`
	Radius int             `json:"radius,omitempty"`
	Name   string          `json:"name,omitempty"`
}

// Style controls colors and stroke sizes.
type Style struct {
	Box       color.RGBA
	Landmark  color.RGBA
	Thickness int
	Radius    int
}

// DefaultStyle returns the standard overlay style.
func DefaultStyle() Style {
	return Style{
		Box:       color.RGBA{R: 0, G: 255, B: 128, A: 255},
		Landmark:  color.RGBA{R: 255, G: 64, B: 64, A: 255},
		Thickness: 2,
		Radius:    3,
	}
}

// Layout converts detections into display-space shapes: one box per face,
// positioned at corner*scale with size extent*scale, followed by one dot per
// landmark at point*scale.
func Layout(dets []detector.Detection, scale Scale, style Style) []Shape {
	shapes := make([]Shape, 0, len(dets)*7)
	for i, d := range dets {
		x := round(d.TopLeft.X * scale.X)
		y := round(d.TopLeft.Y * scale.Y)
		w := round(d.Width() * scale.X)
		h := round(d.Height() * scale.Y)

		shapes = append(shapes, Shape{
			Kind: KindBox,
			Face: i,
			Rect: image.Rect(x, y, x+w, y+h),
		})

		for _, l := range d.Landmarks {
			shapes = append(shapes, Shape{
				Kind:   KindLandmark,
				Face:   i,
				Center: image.Pt(round(l.X*scale.X), round(l.Y*scale.Y)),
				Radius: style.Radius,
				Name:   l.Name,
			})
		}
	}
	return shapes
}

func round(v float64) int {
	return int(math.Round(v))
}
