// Package app orchestrates a capture session: model loading, the camera, the
// scheduled detection task, overlay rendering and the crop pipeline.
package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/ayusman/facecam/internal/capture"
	"github.com/ayusman/facecam/internal/crop"
	"github.com/ayusman/facecam/internal/detector"
	"github.com/ayusman/facecam/internal/overlay"
	"github.com/ayusman/facecam/internal/session"
)

// Loop timing defaults.
const (
	DefaultInterval      = 100 * time.Millisecond
	DefaultRetryInterval = 20 * time.Millisecond
)

// User-visible messages. Details go to the debug panel.
const (
	msgCamera    = "Camera unavailable. Check that a camera is connected and that access is allowed."
	msgModel     = "Face detection models could not be loaded. Restart to try again."
	msgInference = "Face detection failed on the last frame."
)

// ErrNoOverlayImage is returned when the canvas cannot be encoded as an image.
var ErrNoOverlayImage = errors.New("overlay canvas has no image encoding")

// Config holds configuration options for the application.
type Config struct {
	Interval      time.Duration
	RetryInterval time.Duration
	// Crop enables the secondary pipeline at startup.
	Crop  bool
	Crops crop.Config
	Style overlay.Style
	// Canvas receives the overlay drawing. Defaults to a MatCanvas.
	Canvas overlay.Canvas
	Log    logrus.FieldLogger
}

// Settings are the runtime-adjustable options exposed over the API.
type Settings struct {
	DisplayWidth  int         `json:"displayWidth" validate:"gte=0,lte=16384"`
	DisplayHeight int         `json:"displayHeight" validate:"gte=0,lte=16384"`
	IntervalMs    int         `json:"intervalMs" validate:"gte=10,lte=60000"`
	Crop          bool        `json:"crop"`
	Policy        crop.Policy `json:"policy"`
}

// App is the main application that ties a camera to the detection models.
type App struct {
	config     Config
	log        logrus.FieldLogger
	controller *capture.Controller
	loader     *detector.Loader
	session    *session.State
	renderer   *overlay.Renderer
	canvas     overlay.Canvas
	validate   *validator.Validate

	loadOnce sync.Once
	ready    chan struct{}

	mu       sync.Mutex
	models   *detector.Models
	pipeline *crop.Pipeline
	task     *Task
	gen      uint64
	interval time.Duration
	cropOn   bool
	policy   crop.Policy

	subMu sync.Mutex
	subs  map[chan session.Snapshot]struct{}
}

// New creates an App for camera. Models come from loader once Load is called.
func New(config Config, camera capture.Camera, loader *detector.Loader) *App {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = DefaultRetryInterval
	}
	if config.Crops == (crop.Config{}) {
		config.Crops = crop.DefaultConfig()
	}
	if config.Style == (overlay.Style{}) {
		config.Style = overlay.DefaultStyle()
	}
	if config.Canvas == nil {
		config.Canvas = overlay.NewMatCanvas(image.Point{})
	}
	log := config.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &App{
		config:     config,
		log:        log.WithField("component", "app"),
		controller: capture.NewController(camera, log),
		loader:     loader,
		session:    session.New(),
		renderer:   overlay.NewRenderer(config.Style),
		canvas:     config.Canvas,
		validate:   validator.New(),
		ready:      make(chan struct{}),
		interval:   config.Interval,
		cropOn:     config.Crop,
		policy:     config.Crops.Policy,
		subs:       make(map[chan session.Snapshot]struct{}),
	}
}

// Load starts model loading. The detection loop starts once models are ready
// and capture is streaming, whichever happens last. A failed load is terminal.
func (a *App) Load(ctx context.Context) {
	a.loadOnce.Do(func() {
		a.loader.Load(ctx)
		a.session.SetLoading(true)
		go a.awaitModels()
	})
}

func (a *App) awaitModels() {
	defer close(a.ready)
	<-a.loader.Done()
	a.session.SetLoading(false)

	models, err := a.loader.Models()
	if err != nil {
		a.log.WithError(err).Error("model loading failed")
		a.session.SetError(session.ErrorModel, msgModel, err.Error())
		a.notify()
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	cfg := a.config.Crops
	cfg.Policy = a.policy
	a.models = models
	a.pipeline = crop.NewPipeline(cfg, models.Landmarks, a.log)
	a.log.WithField("landmarks", models.Landmarks != nil).Info("models loaded")

	if a.controller.Streaming() && a.task == nil {
		a.startLocked()
	}
	a.notify()
}

// Ready is closed when model loading has finished, successfully or not.
func (a *App) Ready() <-chan struct{} {
	return a.ready
}

// StartCapture acquires the camera. On failure a camera error is recorded
// and the session stays not streaming.
func (a *App) StartCapture() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.controller.Start(); err != nil {
		a.session.SetStreaming(false)
		a.session.SetError(session.ErrorCamera, msgCamera, err.Error())
		a.notify()
		return err
	}

	a.session.SetStreaming(true)
	a.session.ClearError(session.ErrorCamera)
	if a.models != nil && a.task == nil {
		a.startLocked()
	}
	a.notify()
	return nil
}

// StopCapture stops the loop, releases the camera and clears every detection
// structure. Nothing is drawn or committed after it returns.
func (a *App) StopCapture() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.task != nil {
		a.task.Stop()
		a.task = nil
	}
	a.gen++

	err := a.controller.Stop()
	a.session.SetStreaming(false)
	a.session.Clear()
	a.session.ClearError(session.ErrorInference)
	a.canvas.Clear()
	a.notify()

	if err != nil {
		return fmt.Errorf("stop capture: %w", err)
	}
	return nil
}

// Streaming reports whether capture is active.
func (a *App) Streaming() bool {
	return a.controller.Streaming()
}

func (a *App) startLocked() {
	a.gen++
	gen := a.gen
	a.task = Schedule(context.Background(), func(ctx context.Context) time.Duration {
		return a.cycle(ctx, gen)
	})
	a.log.Info("detection loop started")
}

// Settings returns the current runtime settings.
func (a *App) Settings() Settings {
	display := a.session.DisplaySize()

	a.mu.Lock()
	defer a.mu.Unlock()
	return Settings{
		DisplayWidth:  display.X,
		DisplayHeight: display.Y,
		IntervalMs:    int(a.interval / time.Millisecond),
		Crop:          a.cropOn,
		Policy:        a.policy,
	}
}

// ApplySettings validates s and applies it to the running session.
func (a *App) ApplySettings(s Settings) error {
	if err := a.validate.Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	a.session.SetDisplaySize(image.Pt(s.DisplayWidth, s.DisplayHeight))

	a.mu.Lock()
	defer a.mu.Unlock()
	a.interval = time.Duration(s.IntervalMs) * time.Millisecond
	a.cropOn = s.Crop
	a.policy = s.Policy
	if a.pipeline != nil {
		a.pipeline.SetPolicy(s.Policy)
	}
	return nil
}

// SetDisplaySize records the size the video is displayed at.
func (a *App) SetDisplaySize(size image.Point) {
	a.session.SetDisplaySize(size)
}

// Session returns the session state.
func (a *App) Session() *session.State {
	return a.session
}

// Snapshot returns a copy of the session state.
func (a *App) Snapshot() session.Snapshot {
	return a.session.Snapshot()
}

// OverlayPNG encodes the current overlay canvas.
func (a *App) OverlayPNG() ([]byte, error) {
	enc, ok := a.canvas.(interface{ PNG() ([]byte, error) })
	if !ok {
		return nil, ErrNoOverlayImage
	}
	return enc.PNG()
}

// Subscribe returns a channel receiving a snapshot after every change. Slow
// subscribers only see the latest snapshot. Call cancel to unsubscribe.
func (a *App) Subscribe() (<-chan session.Snapshot, func()) {
	ch := make(chan session.Snapshot, 1)

	a.subMu.Lock()
	a.subs[ch] = struct{}{}
	a.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			a.subMu.Lock()
			delete(a.subs, ch)
			a.subMu.Unlock()
		})
	}
	return ch, cancel
}

func (a *App) notify() {
	snap := a.session.Snapshot()

	a.subMu.Lock()
	defer a.subMu.Unlock()
	for ch := range a.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

// Close stops capture and releases the models and the canvas.
func (a *App) Close() error {
	a.mu.Lock()
	task := a.task
	a.mu.Unlock()

	errs := []error{a.StopCapture()}
	if task != nil {
		<-task.Done()
	}
	errs = append(errs, a.loader.Close())
	if c, ok := a.canvas.(interface{ Close() error }); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
