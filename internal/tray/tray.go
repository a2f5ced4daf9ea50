// Package tray provides a system tray menu for starting and stopping the
// facecam overlay.
package tray

import (
	"fmt"
	"sync"

	"github.com/getlantern/systray"

	"github.com/ayusman/facecam/internal/session"
)

// Capture is the part of the application the tray controls.
type Capture interface {
	StartCapture() error
	StopCapture() error
	Subscribe() (<-chan session.Snapshot, func())
}

// Tray represents the system tray application.
type Tray struct {
	capture    Capture
	onSettings func()
	onQuit     func()
	streaming  bool
	mu         sync.RWMutex

	// Menu items stored for later updates
	menuToggle *systray.MenuItem
	menuStatus *systray.MenuItem
}

// New creates a Tray controlling c.
func New(c Capture) *Tray {
	return &Tray{capture: c}
}

// OnSettings sets the callback function to be called when the settings menu item is clicked.
func (t *Tray) OnSettings(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onSettings = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until Quit is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit closes the tray and unblocks Run.
func (t *Tray) Quit() {
	systray.Quit()
}

// onReady is called when the system tray is ready.
// It sets up the menu structure.
func (t *Tray) onReady() {
	systray.SetTitle("Facecam")
	systray.SetTooltip("Facecam face overlay")

	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem("Start camera", "Start or stop the camera")
	systray.AddSeparator()

	t.menuStatus = systray.AddMenuItem(StatusTitle(session.Snapshot{}), "Detection status")
	t.menuStatus.Disable()
	t.mu.Unlock()
	systray.AddSeparator()

	menuSettings := systray.AddMenuItem("Open Settings...", "Open settings in browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit Facecam")

	updates, cancel := t.capture.Subscribe()

	// Handle menu item clicks in a separate goroutine
	go func() {
		defer cancel()
		for {
			select {
			case snap, ok := <-updates:
				if !ok {
					return
				}
				t.update(snap)
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-menuSettings.ClickedCh:
				t.handleSettings()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

// handleToggle starts the camera when it is stopped and stops it otherwise.
func (t *Tray) handleToggle() {
	t.mu.RLock()
	streaming := t.streaming
	t.mu.RUnlock()

	// Failures reach the menu through the next snapshot.
	if streaming {
		t.capture.StopCapture()
		return
	}
	t.capture.StartCapture()
}

// handleSettings handles the settings menu item click.
func (t *Tray) handleSettings() {
	t.mu.RLock()
	callback := t.onSettings
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// handleQuit handles the quit menu item click.
func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// update reflects snap in the menu.
func (t *Tray) update(snap session.Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.streaming = snap.Streaming
	if t.menuToggle != nil {
		t.menuToggle.SetTitle(ToggleTitle(snap.Streaming))
	}
	if t.menuStatus != nil {
		t.menuStatus.SetTitle(StatusTitle(snap))
	}
}

// Streaming reports the last streaming state seen by the tray.
func (t *Tray) Streaming() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.streaming
}

// ToggleTitle is the toggle item label for the given streaming state.
func ToggleTitle(streaming bool) string {
	if streaming {
		return "● Stop camera"
	}
	return "○ Start camera"
}

// StatusTitle summarizes snap in one line.
func StatusTitle(snap session.Snapshot) string {
	switch {
	case snap.Error != nil:
		return "Error: " + snap.Error.Message
	case snap.Loading:
		return "Loading models..."
	case !snap.Streaming:
		return "Camera off"
	case len(snap.Detections) == 1:
		return "1 face"
	default:
		return fmt.Sprintf("%d faces", len(snap.Detections))
	}
}
