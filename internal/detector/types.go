package detector

import (
	"image"
	"math"
)

// Landmark names reported by the face backends. Backends that produce other
// points (dlib shapes) use their own names.
const (
	RightEye = "rightEye"
	LeftEye  = "leftEye"
	Nose     = "nose"
	Mouth    = "mouth"
	RightEar = "rightEar"
	LeftEar  = "leftEar"
)

// blazeFaceKeypoints is the keypoint order of the MediaPipe short-range face detector.
var blazeFaceKeypoints = []string{RightEye, LeftEye, Nose, Mouth, RightEar, LeftEar}

// Point is a 2D position in native video pixel space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Point3D is a mesh point; Z is relative depth as reported by the model.
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Landmark is a named anatomical point within a detected face.
type Landmark struct {
	Name string `json:"name"`
	Point
}

// Detection is one face found in one frame.
type Detection struct {
	TopLeft     Point      `json:"topLeft"`
	BottomRight Point      `json:"bottomRight"`
	Probability float64    `json:"probability"`
	Landmarks   []Landmark `json:"landmarks"`
	Descriptor  []float32  `json:"descriptor,omitempty"`
}

// Width returns the box width in native pixels.
func (d Detection) Width() float64 {
	return d.BottomRight.X - d.TopLeft.X
}

// Height returns the box height in native pixels.
func (d Detection) Height() float64 {
	return d.BottomRight.Y - d.TopLeft.Y
}

// Rect returns the box rounded to integer pixel coordinates.
func (d Detection) Rect() image.Rectangle {
	return image.Rect(
		int(math.Round(d.TopLeft.X)), int(math.Round(d.TopLeft.Y)),
		int(math.Round(d.BottomRight.X)), int(math.Round(d.BottomRight.Y)),
	)
}

// Landmark returns the named landmark, if present.
func (d Detection) Landmark(name string) (Point, bool) {
	for _, l := range d.Landmarks {
		if l.Name == name {
			return l.Point, true
		}
	}
	return Point{}, false
}

// fromRect builds a Detection from an integer rectangle.
func fromRect(r image.Rectangle, probability float64) Detection {
	return Detection{
		TopLeft:     Point{X: float64(r.Min.X), Y: float64(r.Min.Y)},
		BottomRight: Point{X: float64(r.Max.X), Y: float64(r.Max.Y)},
		Probability: probability,
	}
}

// LandmarkSet is the refined per-face point set produced by a landmark model
// over a cropped face. Points are in crop pixel coordinates.
type LandmarkSet struct {
	Model  string    `json:"model"`
	Points []Point3D `json:"points"`
}

// Len returns the number of points, treating a nil set as empty.
func (s *LandmarkSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Points)
}
