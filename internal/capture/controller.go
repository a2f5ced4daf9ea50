package capture

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Controller owns the camera's start/stop lifecycle and the streaming flag.
type Controller struct {
	camera    Camera
	log       logrus.FieldLogger
	mu        sync.Mutex
	streaming bool
}

// NewController creates a Controller for camera.
func NewController(camera Camera, log logrus.FieldLogger) *Controller {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Controller{
		camera: camera,
		log:    log.WithField("component", "capture"),
	}
}

// Start acquires the camera and marks the session streaming. On failure the
// session stays not streaming and the error wraps ErrCameraUnavailable.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.streaming {
		return nil
	}

	if err := c.camera.Open(); err != nil {
		c.log.WithError(err).Warn("camera start failed")
		return err
	}

	c.streaming = true
	c.log.Info("camera streaming")
	return nil
}

// Stop halts the camera and marks the session not streaming.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	wasStreaming := c.streaming
	c.streaming = false

	err := c.camera.Close()
	if err != nil {
		c.log.WithError(err).Warn("camera close failed")
	}
	if wasStreaming {
		c.log.Info("camera stopped")
	}
	return err
}

// Streaming reports whether the camera is acquired.
func (c *Controller) Streaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streaming
}

// Camera returns the controlled camera.
func (c *Controller) Camera() Camera {
	return c.camera
}
