package detector

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrModelsUnavailable is returned when model loading failed.
	ErrModelsUnavailable = errors.New("detection models unavailable")
	// ErrModelsLoading is returned when models are requested before loading finished.
	ErrModelsLoading = errors.New("detection models still loading")
)

// Models is the set of loaded models used for one session.
type Models struct {
	// Faces is the primary face detector. Never nil once loaded.
	Faces Detector
	// Landmarks runs on cropped faces; nil disables landmark refinement.
	Landmarks LandmarkDetector
}

// Close releases every model.
func (m *Models) Close() error {
	if m == nil {
		return nil
	}
	var errs []error
	if m.Landmarks != nil {
		errs = append(errs, m.Landmarks.Close())
	}
	if m.Faces != nil {
		errs = append(errs, m.Faces.Close())
	}
	return errors.Join(errs...)
}

// LoadFunc constructs the session's models.
type LoadFunc func(ctx context.Context) (*Models, error)

// Loader loads models asynchronously exactly once. A failed load is terminal.
type Loader struct {
	load    LoadFunc
	once    sync.Once
	done    chan struct{}
	mu      sync.RWMutex
	loading bool
	models  *Models
	err     error
}

// NewLoader creates a Loader that will call fn on the first Load.
func NewLoader(fn LoadFunc) *Loader {
	return &Loader{
		load: fn,
		done: make(chan struct{}),
	}
}

// Load starts loading in the background. Calls after the first are no-ops.
func (l *Loader) Load(ctx context.Context) {
	l.once.Do(func() {
		l.mu.Lock()
		l.loading = true
		l.mu.Unlock()

		go l.run(ctx)
	})
}

func (l *Loader) run(ctx context.Context) {
	models, err := l.load(ctx)
	if err == nil && (models == nil || models.Faces == nil) {
		err = errors.New("no face detector loaded")
	}

	l.mu.Lock()
	l.loading = false
	if err != nil {
		if models != nil {
			models.Close()
		}
		l.err = err
	} else {
		l.models = models
	}
	l.mu.Unlock()

	close(l.done)
}

// Wait blocks until loading completes or ctx is done.
func (l *Loader) Wait(ctx context.Context) (*Models, error) {
	select {
	case <-l.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return l.Models()
}

// Done is closed when loading completes.
func (l *Loader) Done() <-chan struct{} {
	return l.done
}

// Loading reports whether a load is in progress.
func (l *Loader) Loading() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loading
}

// Err returns the load failure, if any.
func (l *Loader) Err() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.err
}

// Models returns the loaded models. It returns ErrModelsLoading before
// completion and an error wrapping ErrModelsUnavailable after a failure.
func (l *Loader) Models() (*Models, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	switch {
	case l.err != nil:
		return nil, errors.Join(ErrModelsUnavailable, l.err)
	case l.models == nil:
		return nil, ErrModelsLoading
	default:
		return l.models, nil
	}
}

// Close releases loaded models.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	m := l.models
	l.models = nil
	return m.Close()
}

// Static returns a LoadFunc that hands back already constructed models.
func Static(faces Detector, landmarks LandmarkDetector) LoadFunc {
	return func(context.Context) (*Models, error) {
		return &Models{Faces: faces, Landmarks: landmarks}, nil
	}
}

// Failing returns a LoadFunc that always fails with err.
func Failing(err error) LoadFunc {
	return func(context.Context) (*Models, error) {
		return nil, err
	}
}
