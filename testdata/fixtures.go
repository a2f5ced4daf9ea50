// Package testdata builds synthetic camera frames for tests.
package testdata

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// NativeSize is the default webcam resolution used by fixtures.
var NativeSize = image.Pt(640, 480)

// Frame returns a mid-gray BGR frame of the given size.
func Frame(w, h int) *gocv.Mat {
	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(96, 96, 96, 0), h, w, gocv.MatTypeCV8UC3)
	return &mat
}

// FaceFrame returns a frame with a bright ellipse filling face, roughly where
// a detector would box a face.
func FaceFrame(w, h int, face image.Rectangle) *gocv.Mat {
	mat := Frame(w, h)
	center := image.Pt((face.Min.X+face.Max.X)/2, (face.Min.Y+face.Max.Y)/2)
	axes := image.Pt(face.Dx()/2, face.Dy()/2)
	gocv.Ellipse(mat, center, axes, 0, 0, 360, color.RGBA{R: 224, G: 188, B: 160, A: 255}, -1)
	return mat
}

// Sequence returns n frames of the given size with the face box shifted
// right by step pixels per frame.
func Sequence(n, w, h int, face image.Rectangle, step int) []*gocv.Mat {
	frames := make([]*gocv.Mat, 0, n)
	for i := 0; i < n; i++ {
		frames = append(frames, FaceFrame(w, h, face.Add(image.Pt(i*step, 0))))
	}
	return frames
}

// Decode decodes an encoded image (JPEG, PNG) into a frame.
func Decode(data []byte) (*gocv.Mat, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("decode frame: empty image")
	}
	return &mat, nil
}

// CloseAll releases every frame.
func CloseAll(frames []*gocv.Mat) {
	for _, f := range frames {
		if f != nil {
			f.Close()
		}
	}
}
