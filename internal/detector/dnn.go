package detector

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// res10 SSD input geometry and BGR mean.
var (
	dnnInputSize = image.Pt(300, 300)
	dnnMean      = gocv.NewScalar(104, 177, 123, 0)
)

// DNNDetector runs the OpenCV res10 SSD face detector. It reports boxes and
// confidences but no landmarks.
type DNNDetector struct {
	config Config
	net    gocv.Net
	mu     sync.Mutex
}

// NewDNNDetector loads a Caffe or TensorFlow face detection network.
func NewDNNDetector(config Config, modelPath, configPath string) (*DNNDetector, error) {
	net := gocv.ReadNet(modelPath, configPath)
	if net.Empty() {
		return nil, fmt.Errorf("read network %s (%s)", modelPath, configPath)
	}
	return &DNNDetector{config: config, net: net}, nil
}

// Detect forwards one blob through the network and collects the detections
// that pass MinConfidence.
func (d *DNNDetector) Detect(frame *gocv.Mat) ([]Detection, error) {
	if frame == nil || frame.Empty() {
		return nil, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	blob := gocv.BlobFromImage(*frame, 1.0, dnnInputSize, dnnMean, false, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	prob := d.net.Forward("")
	defer prob.Close()

	w, h := float64(frame.Cols()), float64(frame.Rows())

	// Output rows are [batch, class, confidence, left, top, right, bottom].
	var dets []Detection
	for i := 0; i+6 < prob.Total(); i += 7 {
		confidence := float64(prob.GetFloatAt(0, i+2))
		if confidence < d.config.MinConfidence {
			continue
		}
		dets = append(dets, Detection{
			TopLeft: Point{
				X: float64(prob.GetFloatAt(0, i+3)) * w,
				Y: float64(prob.GetFloatAt(0, i+4)) * h,
			},
			BottomRight: Point{
				X: float64(prob.GetFloatAt(0, i+5)) * w,
				Y: float64(prob.GetFloatAt(0, i+6)) * h,
			},
			Probability: confidence,
		})
	}

	return d.config.limit(dets), nil
}

// Close releases the network.
func (d *DNNDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}
