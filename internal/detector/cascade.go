package detector

import (
	"fmt"
	"image"
	"sort"
	"sync"

	"gocv.io/x/gocv"
)

// CascadeDetector finds faces with an OpenCV Haar cascade. When an eye cascade
// is loaded, eye centers found in the upper half of each face are reported as
// landmarks. Cascades produce no score, so every detection has probability 1.
type CascadeDetector struct {
	config Config
	face   gocv.CascadeClassifier
	eyes   *gocv.CascadeClassifier
	mu     sync.Mutex
}

// NewCascadeDetector loads the face cascade at facePath and, if eyePath is
// not empty, the eye cascade at eyePath.
func NewCascadeDetector(config Config, facePath, eyePath string) (*CascadeDetector, error) {
	face := gocv.NewCascadeClassifier()
	if !face.Load(facePath) {
		face.Close()
		return nil, fmt.Errorf("load face cascade %s", facePath)
	}

	d := &CascadeDetector{config: config, face: face}

	if eyePath != "" {
		eyes := gocv.NewCascadeClassifier()
		if !eyes.Load(eyePath) {
			eyes.Close()
			face.Close()
			return nil, fmt.Errorf("load eye cascade %s", eyePath)
		}
		d.eyes = &eyes
	}

	return d, nil
}

// Detect runs the cascade over a grayscale copy of frame.
func (d *CascadeDetector) Detect(frame *gocv.Mat) ([]Detection, error) {
	if frame == nil || frame.Empty() {
		return nil, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	gray := gocv.NewMat()
	defer gray.Close()
	if frame.Channels() > 1 {
		gocv.CvtColor(*frame, &gray, gocv.ColorBGRToGray)
	} else {
		frame.CopyTo(&gray)
	}

	rects := d.face.DetectMultiScale(gray)
	sort.Slice(rects, func(i, j int) bool {
		return rects[i].Dx()*rects[i].Dy() > rects[j].Dx()*rects[j].Dy()
	})

	dets := make([]Detection, 0, len(rects))
	for _, r := range rects {
		det := fromRect(r, 1)
		if d.eyes != nil {
			det.Landmarks = d.findEyes(gray, r)
		}
		dets = append(dets, det)
	}

	return d.config.limit(dets), nil
}

// findEyes searches the upper half of face for at most two eyes.
func (d *CascadeDetector) findEyes(gray gocv.Mat, face image.Rectangle) []Landmark {
	upper := image.Rect(face.Min.X, face.Min.Y, face.Max.X, face.Min.Y+face.Dy()/2)
	roi := gray.Region(upper)
	defer roi.Close()

	eyes := d.eyes.DetectMultiScale(roi)
	if len(eyes) > 2 {
		sort.Slice(eyes, func(i, j int) bool {
			return eyes[i].Dx()*eyes[i].Dy() > eyes[j].Dx()*eyes[j].Dy()
		})
		eyes = eyes[:2]
	}
	// Image left is the subject's right eye.
	sort.Slice(eyes, func(i, j int) bool { return eyes[i].Min.X < eyes[j].Min.X })

	names := []string{RightEye, LeftEye}
	if len(eyes) == 1 {
		// A single eye is named by which side of the face it sits on.
		if eyes[0].Min.X+eyes[0].Dx()/2 > face.Dx()/2 {
			names = []string{LeftEye}
		}
	}

	landmarks := make([]Landmark, 0, len(eyes))
	for i, e := range eyes {
		landmarks = append(landmarks, Landmark{
			Name: names[i],
			Point: Point{
				X: float64(upper.Min.X) + float64(e.Min.X) + float64(e.Dx())/2,
				Y: float64(upper.Min.Y) + float64(e.Min.Y) + float64(e.Dy())/2,
			},
		})
	}
	return landmarks
}

// Close releases the classifiers.
func (d *CascadeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.eyes != nil {
		d.eyes.Close()
		d.eyes = nil
	}
	return d.face.Close()
}
