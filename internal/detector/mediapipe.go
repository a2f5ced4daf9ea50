package detector

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// mediapipeScript is the Python helper that hosts the MediaPipe face models.
const mediapipeScript = "face_service.py"

// idleShutdown stops an unused helper process.
const idleShutdown = 30 * time.Second

// mediapipeService talks to one Python MediaPipe process: a 4-byte big-endian
// length and a JPEG go in, one JSON line comes out.
type mediapipeService struct {
	mode      string
	script    string
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	mu        sync.Mutex
	started   bool
	idleTimer *time.Timer
}

func newMediapipeService(mode, script string) (*mediapipeService, error) {
	if script == "" {
		script = findMediaPipeScript()
	}
	if script == "" {
		return nil, fmt.Errorf("%s not found", mediapipeScript)
	}
	if _, err := os.Stat(script); err != nil {
		return nil, fmt.Errorf("mediapipe script: %w", err)
	}
	return &mediapipeService{mode: mode, script: script}, nil
}

// call sends frame to the helper and decodes its reply into v.
func (s *mediapipeService) call(frame *gocv.Mat, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureStarted(); err != nil {
		return err
	}

	buf, err := gocv.IMEncode(".jpg", *frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	data := buf.GetBytes()

	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(data)))

	if _, err := s.stdin.Write(length); err != nil {
		return fmt.Errorf("write length: %w", err)
	}
	if _, err := s.stdin.Write(data); err != nil {
		return fmt.Errorf("write data: %w", err)
	}

	line, err := s.stdout.ReadString('\n')
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal([]byte(line), v); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}

	s.resetIdleTimer()
	return nil
}

func (s *mediapipeService) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown()
}

func (s *mediapipeService) ensureStarted() error {
	if s.started {
		return nil
	}

	pythonPath := findVenvPython()
	if pythonPath == "" {
		pythonPath = "python3"
	}

	s.cmd = exec.Command(pythonPath, s.script, "--mode", s.mode)

	stdin, err := s.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := s.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	s.cmd.Stderr = os.Stderr

	if err := s.cmd.Start(); err != nil {
		return fmt.Errorf("start mediapipe %s service: %w", s.mode, err)
	}

	s.stdin = stdin
	s.stdout = bufio.NewReader(stdout)
	s.started = true

	return nil
}

func (s *mediapipeService) shutdown() error {
	if !s.started {
		return nil
	}

	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}

	if s.stdin != nil {
		s.stdin.Close()
	}

	err := s.cmd.Wait()
	s.started = false
	s.cmd = nil
	s.stdin = nil
	s.stdout = nil

	return err
}

func (s *mediapipeService) resetIdleTimer() {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleTimer = time.AfterFunc(idleShutdown, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.shutdown()
	})
}

func findMediaPipeScript() string {
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		filepath.Join("scripts", mediapipeScript),
		filepath.Join("..", "scripts", mediapipeScript),
		filepath.Join(execDir, "scripts", mediapipeScript),
		filepath.Join(os.Getenv("HOME"), ".facecam", "scripts", mediapipeScript),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}

// findVenvPython looks for a Python interpreter in a virtual environment.
func findVenvPython() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	candidates := []string{
		"venv/bin/python",
		"../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".facecam/venv/bin/python"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}

// MediaPipeDetector implements Detector with the MediaPipe BlazeFace model.
// The Python process is started lazily on first detection.
type MediaPipeDetector struct {
	config  Config
	service *mediapipeService
}

// NewMediaPipeDetector creates a detector backed by script; an empty script
// path searches the usual install locations.
func NewMediaPipeDetector(config Config, script string) (*MediaPipeDetector, error) {
	svc, err := newMediapipeService("detect", script)
	if err != nil {
		return nil, err
	}
	return &MediaPipeDetector{config: config, service: svc}, nil
}

// Detect analyzes a frame and returns detected faces in pixel coordinates.
func (d *MediaPipeDetector) Detect(frame *gocv.Mat) ([]Detection, error) {
	var response struct {
		Faces []jsonFace `json:"faces"`
	}
	if err := d.service.call(frame, &response); err != nil {
		return nil, err
	}

	w, h := float64(frame.Cols()), float64(frame.Rows())
	result := make([]Detection, 0, len(response.Faces))
	for _, f := range response.Faces {
		if f.Score < d.config.MinConfidence {
			continue
		}
		result = append(result, f.toDetection(w, h))
	}
	return d.config.limit(result), nil
}

// Close shuts down the Python process.
func (d *MediaPipeDetector) Close() error {
	return d.service.close()
}

// MediaPipeMesh implements LandmarkDetector with the MediaPipe face mesh model.
type MediaPipeMesh struct {
	service *mediapipeService
}

// NewMediaPipeMesh creates a face mesh landmark detector.
func NewMediaPipeMesh(script string) (*MediaPipeMesh, error) {
	svc, err := newMediapipeService("mesh", script)
	if err != nil {
		return nil, err
	}
	return &MediaPipeMesh{service: svc}, nil
}

// DetectLandmarks returns the mesh of the first face in crop.
func (m *MediaPipeMesh) DetectLandmarks(crop *gocv.Mat) (*LandmarkSet, error) {
	var response struct {
		Faces []struct {
			Points []jsonPoint `json:"points"`
		} `json:"faces"`
	}
	if err := m.service.call(crop, &response); err != nil {
		return nil, err
	}
	if len(response.Faces) == 0 {
		return nil, nil
	}

	w, h := float64(crop.Cols()), float64(crop.Rows())
	set := &LandmarkSet{Model: "mediapipe-facemesh"}
	for _, p := range response.Faces[0].Points {
		set.Points = append(set.Points, Point3D{X: p.X * w, Y: p.Y * h, Z: p.Z * w})
	}
	return set, nil
}

// Close shuts down the Python process.
func (m *MediaPipeMesh) Close() error {
	return m.service.close()
}

// jsonFace is one face from the detect mode; coordinates are relative (0-1).
type jsonFace struct {
	Box struct {
		XMin   float64 `json:"xmin"`
		YMin   float64 `json:"ymin"`
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	} `json:"box"`
	Score     float64     `json:"score"`
	Keypoints []jsonPoint `json:"keypoints"`
}

type jsonPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (f jsonFace) toDetection(w, h float64) Detection {
	d := Detection{
		TopLeft:     Point{X: f.Box.XMin * w, Y: f.Box.YMin * h},
		BottomRight: Point{X: (f.Box.XMin + f.Box.Width) * w, Y: (f.Box.YMin + f.Box.Height) * h},
		Probability: f.Score,
	}
	for i, kp := range f.Keypoints {
		if i >= len(blazeFaceKeypoints) {
			break
		}
		d.Landmarks = append(d.Landmarks, Landmark{
			Name:  blazeFaceKeypoints[i],
			Point: Point{X: kp.X * w, Y: kp.Y * h},
		})
	}
	return d
}
