// Package detector provides face detection interfaces, result types and the
// model backends that produce them.
package detector

import "gocv.io/x/gocv"

// Detector defines the interface for face detection implementations.
type Detector interface {
	// Detect analyzes a video frame and returns one Detection per face.
	// Returns an empty slice if no faces are detected.
	Detect(frame *gocv.Mat) ([]Detection, error)

	// Close releases any resources held by the detector.
	Close() error
}

// LandmarkDetector runs a landmark-focused model over a cropped face image.
type LandmarkDetector interface {
	// DetectLandmarks returns the landmark set for the face in crop, or nil
	// when the model finds no face in it.
	DetectLandmarks(crop *gocv.Mat) (*LandmarkSet, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Config holds tuning options shared by the face backends.
type Config struct {
	// MaxFaces is the maximum number of faces to report (0 means unlimited).
	MaxFaces int

	// MinConfidence is the minimum detection confidence threshold (0.0-1.0).
	MinConfidence float64
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		MaxFaces:      8,
		MinConfidence: 0.5,
	}
}

// limit trims dets to the configured maximum.
func (c Config) limit(dets []Detection) []Detection {
	if c.MaxFaces > 0 && len(dets) > c.MaxFaces {
		return dets[:c.MaxFaces]
	}
	return dets
}
