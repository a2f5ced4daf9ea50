package detector

import (
	"fmt"
	"image"
	"sync"

	"github.com/Kagami/go-face"
	"gocv.io/x/gocv"
)

// dlibShapeNames labels the points of dlib's 5-point shape predictor.
var dlibShapeNames = []string{"rightEyeOuter", "rightEyeInner", "leftEyeOuter", "leftEyeInner", Nose}

// dlibRecognizer serializes access to one go-face recognizer shared by the
// face and landmark backends.
type dlibRecognizer struct {
	rec  *face.Recognizer
	mu   sync.Mutex
	refs int
}

func newDlibRecognizer(modelDir string) (*dlibRecognizer, error) {
	rec, err := face.NewRecognizer(modelDir)
	if err != nil {
		return nil, fmt.Errorf("init dlib recognizer: %w", err)
	}
	return &dlibRecognizer{rec: rec, refs: 1}, nil
}

func (r *dlibRecognizer) recognize(img *gocv.Mat) ([]face.Face, error) {
	buf, err := gocv.IMEncode(".jpg", *img)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rec == nil {
		return nil, fmt.Errorf("dlib recognizer closed")
	}
	return r.rec.Recognize(buf.GetBytes())
}

func (r *dlibRecognizer) acquire() *dlibRecognizer {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refs++
	return r
}

func (r *dlibRecognizer) release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refs--
	if r.refs == 0 && r.rec != nil {
		r.rec.Close()
		r.rec = nil
	}
}

// DlibDetector implements Detector with go-face (dlib HOG detector, 5-point
// shape predictor and ResNet descriptors). dlib reports no score, so every
// detection has probability 1.
type DlibDetector struct {
	config Config
	rec    *dlibRecognizer
}

// NewDlibDetector loads the dlib models from modelDir.
func NewDlibDetector(config Config, modelDir string) (*DlibDetector, error) {
	rec, err := newDlibRecognizer(modelDir)
	if err != nil {
		return nil, err
	}
	return &DlibDetector{config: config, rec: rec}, nil
}

// Detect returns boxes, shape landmarks and descriptors for each face.
func (d *DlibDetector) Detect(frame *gocv.Mat) ([]Detection, error) {
	if frame == nil || frame.Empty() {
		return nil, nil
	}

	faces, err := d.rec.recognize(frame)
	if err != nil {
		return nil, err
	}

	dets := make([]Detection, 0, len(faces))
	for _, f := range faces {
		det := fromRect(f.Rectangle, 1)
		det.Landmarks = shapeLandmarks(f.Shapes)
		det.Descriptor = append([]float32(nil), f.Descriptor[:]...)
		dets = append(dets, det)
	}
	return d.config.limit(dets), nil
}

// Landmarks returns a LandmarkDetector sharing this detector's models.
func (d *DlibDetector) Landmarks() *DlibLandmarks {
	return &DlibLandmarks{rec: d.rec.acquire()}
}

// Close releases the recognizer once no landmark detector still uses it.
func (d *DlibDetector) Close() error {
	d.rec.release()
	return nil
}

// DlibLandmarks implements LandmarkDetector by re-running dlib on the crop.
type DlibLandmarks struct {
	rec *dlibRecognizer
}

// NewDlibLandmarks loads the dlib models from modelDir.
func NewDlibLandmarks(modelDir string) (*DlibLandmarks, error) {
	rec, err := newDlibRecognizer(modelDir)
	if err != nil {
		return nil, err
	}
	return &DlibLandmarks{rec: rec}, nil
}

// DetectLandmarks returns the shape of the largest face in crop.
func (l *DlibLandmarks) DetectLandmarks(crop *gocv.Mat) (*LandmarkSet, error) {
	if crop == nil || crop.Empty() {
		return nil, nil
	}

	faces, err := l.rec.recognize(crop)
	if err != nil {
		return nil, err
	}
	if len(faces) == 0 {
		return nil, nil
	}

	best := faces[0]
	for _, f := range faces[1:] {
		if area(f.Rectangle) > area(best.Rectangle) {
			best = f
		}
	}

	set := &LandmarkSet{Model: "dlib-shape"}
	for _, p := range best.Shapes {
		set.Points = append(set.Points, Point3D{X: float64(p.X), Y: float64(p.Y)})
	}
	return set, nil
}

// Close releases this detector's reference to the recognizer.
func (l *DlibLandmarks) Close() error {
	l.rec.release()
	return nil
}

func shapeLandmarks(shapes []image.Point) []Landmark {
	landmarks := make([]Landmark, 0, len(shapes))
	for i, p := range shapes {
		name := fmt.Sprintf("shape%d", i)
		if len(shapes) == len(dlibShapeNames) {
			name = dlibShapeNames[i]
		}
		landmarks = append(landmarks, Landmark{
			Name:  name,
			Point: Point{X: float64(p.X), Y: float64(p.Y)},
		})
	}
	return landmarks
}

func area(r image.Rectangle) int {
	return r.Dx() * r.Dy()
}
