package crop

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/ayusman/facecam/internal/detector"
)

// Thumbnail defaults.
const (
	DefaultThumbSize = 160
	DefaultMaxFaces  = 8
	thumbnailQuality = 85

	// maxAreaFactor bounds a crop region to this many frames of area.
	maxAreaFactor  = 16
	landmarkRadius = 2
)

var landmarkColor = color.NRGBA{R: 0, G: 255, B: 0, A: 255}

// Artifact is one cropped face of the current cycle.
type Artifact struct {
	ID        string                `json:"id"`
	Face      int                   `json:"face"`
	Region    image.Rectangle       `json:"region"`
	Thumbnail []byte                `json:"-"`
	ThumbSize image.Point           `json:"thumbSize"`
	Landmarks *detector.LandmarkSet `json:"landmarks,omitempty"`
	// Points are the landmarks in thumbnail pixel coordinates. They are also
	// drawn onto Thumbnail.
	Points []image.Point `json:"points,omitempty"`
}

// Config configures a Pipeline.
type Config struct {
	Policy    Policy
	MaxFaces  int
	ThumbSize int
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		Policy:    DefaultPolicy(),
		MaxFaces:  DefaultMaxFaces,
		ThumbSize: DefaultThumbSize,
	}
}

// Pipeline crops each detected face, refines it with a landmark model and
// produces thumbnails. Faces are processed one after another.
type Pipeline struct {
	mu        sync.RWMutex
	config    Config
	landmarks detector.LandmarkDetector
	log       logrus.FieldLogger
}

// NewPipeline creates a Pipeline. landmarks may be nil, in which case only
// thumbnails are produced.
func NewPipeline(config Config, landmarks detector.LandmarkDetector, log logrus.FieldLogger) *Pipeline {
	if config.ThumbSize <= 0 {
		config.ThumbSize = DefaultThumbSize
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Pipeline{
		config:    config,
		landmarks: landmarks,
		log:       log.WithField("component", "crop"),
	}
}

// Policy returns the current crop policy.
func (p *Pipeline) Policy() Policy {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.config.Policy
}

// SetPolicy replaces the crop policy used by later runs.
func (p *Pipeline) SetPolicy(policy Policy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.config.Policy = policy
}

// Run produces one artifact per detection, up to MaxFaces. A landmark
// failure on one face is logged and leaves that artifact without landmarks.
func (p *Pipeline) Run(frame *gocv.Mat, dets []detector.Detection) []Artifact {
	p.mu.RLock()
	cfg := p.config
	p.mu.RUnlock()

	if cfg.MaxFaces > 0 && len(dets) > cfg.MaxFaces {
		dets = dets[:cfg.MaxFaces]
	}

	artifacts := make([]Artifact, 0, len(dets))
	for i, d := range dets {
		region := cfg.Policy.Region(d)
		a, err := p.process(frame, i, region, cfg.ThumbSize)
		if err != nil {
			p.log.WithError(err).WithField("face", i).Warn("crop failed")
			continue
		}
		artifacts = append(artifacts, a)
	}
	return artifacts
}

func (p *Pipeline) process(frame *gocv.Mat, face int, region image.Rectangle, thumbSize int) (Artifact, error) {
	crop, err := Extract(frame, region)
	if err != nil {
		return Artifact{}, err
	}
	defer crop.Close()

	a := Artifact{
		ID:     uuid.NewString(),
		Face:   face,
		Region: region,
	}

	if p.landmarks != nil {
		set, err := p.landmarks.DetectLandmarks(&crop)
		if err != nil {
			p.log.WithError(err).WithField("face", face).Warn("landmark model failed")
		} else {
			a.Landmarks = set
		}
	}

	a.Thumbnail, a.ThumbSize, a.Points, err = thumbnail(crop, thumbSize, a.Landmarks)
	if err != nil {
		return Artifact{}, err
	}
	return a, nil
}

// Extract copies region out of frame into a new region-sized Mat. Parts of
// region outside the frame stay black, the way a canvas draw silently clips.
// Regions larger than maxAreaFactor frames are refused. The caller must
// Close the result.
func Extract(frame *gocv.Mat, region image.Rectangle) (gocv.Mat, error) {
	if region.Empty() {
		return gocv.NewMat(), fmt.Errorf("empty crop region %v", region)
	}
	if frame == nil || frame.Empty() {
		return gocv.NewMat(), fmt.Errorf("empty frame")
	}
	area := int64(region.Dx()) * int64(region.Dy())
	if limit := maxAreaFactor * int64(frame.Cols()) * int64(frame.Rows()); area > limit {
		return gocv.NewMat(), fmt.Errorf("crop region %v exceeds %d frames of area", region, maxAreaFactor)
	}

	dst := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), region.Dy(), region.Dx(), frame.Type())

	bounds := image.Rect(0, 0, frame.Cols(), frame.Rows())
	visible := region.Intersect(bounds)
	if visible.Empty() {
		return dst, nil
	}

	src := frame.Region(visible)
	defer src.Close()

	target := dst.Region(visible.Sub(region.Min))
	defer target.Close()

	src.CopyTo(&target)
	return dst, nil
}

// thumbnail fits crop into a size x size box, draws the landmarks scaled
// into it and encodes it as JPEG. It returns the scaled landmark points.
func thumbnail(crop gocv.Mat, size int, marks *detector.LandmarkSet) ([]byte, image.Point, []image.Point, error) {
	img, err := crop.ToImage()
	if err != nil {
		return nil, image.Point{}, nil, fmt.Errorf("convert crop: %w", err)
	}

	thumb := imaging.Fit(img, size, size, imaging.Lanczos)
	thumbSize := thumb.Bounds().Size()

	points := ScalePoints(marks, image.Pt(crop.Cols(), crop.Rows()), thumbSize)
	for _, pt := range points {
		drawDot(thumb, pt, landmarkRadius, landmarkColor)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(thumbnailQuality)); err != nil {
		return nil, image.Point{}, nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), thumbSize, points, nil
}

// ScalePoints maps landmark points from a crop of size from into an image of
// size to, per axis, rounded to the nearest pixel.
func ScalePoints(marks *detector.LandmarkSet, from, to image.Point) []image.Point {
	if marks.Len() == 0 || from.X <= 0 || from.Y <= 0 {
		return nil
	}
	sx := float64(to.X) / float64(from.X)
	sy := float64(to.Y) / float64(from.Y)

	points := make([]image.Point, len(marks.Points))
	for i, p := range marks.Points {
		points[i] = image.Pt(int(math.Round(p.X*sx)), int(math.Round(p.Y*sy)))
	}
	return points
}

// drawDot fills a square of the given radius around center, clipped to img.
func drawDot(img *image.NRGBA, center image.Point, radius int, c color.NRGBA) {
	r := image.Rect(center.X-radius, center.Y-radius, center.X+radius+1, center.Y+radius+1).Intersect(img.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
}
