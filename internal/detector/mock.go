package detector

import (
	"sync"

	"gocv.io/x/gocv"
)

// MockDetector is a test implementation of the Detector interface.
// It allows tests to control the detection results.
type MockDetector struct {
	mu    sync.Mutex
	dets  []Detection
	err   error
	calls int
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetDetections sets the detections that will be returned by Detect.
func (m *MockDetector) SetDetections(dets []Detection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dets = dets
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times Detect has been invoked.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Detect returns the pre-configured detections or error.
func (m *MockDetector) Detect(frame *gocv.Mat) ([]Detection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if m.dets == nil {
		return nil, nil
	}
	out := make([]Detection, len(m.dets))
	copy(out, m.dets)
	return out, nil
}

// Close is a no-op for the mock detector.
func (m *MockDetector) Close() error {
	return nil
}

// MockLandmarkDetector is a LandmarkDetector returning a fixed set.
type MockLandmarkDetector struct {
	mu    sync.Mutex
	set   *LandmarkSet
	err   error
	sizes [][2]int
}

// NewMockLandmarkDetector creates a MockLandmarkDetector returning set.
func NewMockLandmarkDetector(set *LandmarkSet) *MockLandmarkDetector {
	return &MockLandmarkDetector{set: set}
}

// SetError sets the error that will be returned by DetectLandmarks.
func (m *MockLandmarkDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// CropSizes returns the (cols, rows) of every crop passed in so far.
func (m *MockLandmarkDetector) CropSizes() [][2]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][2]int(nil), m.sizes...)
}

// DetectLandmarks records the crop size and returns the configured set.
func (m *MockLandmarkDetector) DetectLandmarks(crop *gocv.Mat) (*LandmarkSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if crop != nil {
		m.sizes = append(m.sizes, [2]int{crop.Cols(), crop.Rows()})
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.set, nil
}

// Close is a no-op.
func (m *MockLandmarkDetector) Close() error {
	return nil
}

// SampleDetection returns a frontal face in a 640x480 frame with the six
// BlazeFace keypoints filled in.
func SampleDetection() Detection {
	return Detection{
		TopLeft:     Point{X: 100, Y: 100},
		BottomRight: Point{X: 200, Y: 200},
		Probability: 0.97,
		Landmarks: []Landmark{
			{Name: RightEye, Point: Point{X: 125, Y: 130}},
			{Name: LeftEye, Point: Point{X: 175, Y: 130}},
			{Name: Nose, Point: Point{X: 150, Y: 155}},
			{Name: Mouth, Point: Point{X: 150, Y: 180}},
			{Name: RightEar, Point: Point{X: 102, Y: 140}},
			{Name: LeftEar, Point: Point{X: 198, Y: 140}},
		},
	}
}
