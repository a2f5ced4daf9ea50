package app

import (
	"context"
	"errors"
	"image"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/facecam/internal/capture"
	"github.com/ayusman/facecam/internal/crop"
	"github.com/ayusman/facecam/internal/overlay"
	"github.com/ayusman/facecam/internal/session"
)

// cycle is one pass of the detection loop. It returns the delay before the
// next pass.
//
// Cycle logic:
//  1. Read a frame; retry shortly when the camera has nothing yet
//  2. Derive the native size from the frame and the scale from the display size
//  3. Run the face detector
//  4. Run the crop pipeline when enabled
//  5. Under the app lock, drop the result if capture was stopped meanwhile,
//     otherwise render the overlay and commit the session
func (a *App) cycle(ctx context.Context, gen uint64) time.Duration {
	a.mu.Lock()
	models := a.models
	pipeline := a.pipeline
	cropOn := a.cropOn
	interval := a.interval
	a.mu.Unlock()

	frame, err := a.controller.Camera().ReadFrame()
	if err != nil {
		if !errors.Is(err, capture.ErrFrameNotReady) {
			a.log.WithError(err).Debug("frame read failed")
		}
		return a.config.RetryInterval
	}
	defer frame.Close()

	native := image.Pt(frame.Cols(), frame.Rows())
	display := a.session.DisplaySize()
	if display.X <= 0 || display.Y <= 0 {
		display = native
	}
	scale := overlay.ScaleFor(native, display)

	dets, err := models.Faces.Detect(frame)
	if err != nil {
		a.mu.Lock()
		defer a.mu.Unlock()
		if gen != a.gen || ctx.Err() != nil {
			return interval
		}
		a.log.WithError(err).Warn("face detection failed")
		a.session.SetError(session.ErrorInference, msgInference, err.Error())
		a.notify()
		return interval
	}

	var crops []crop.Artifact
	if cropOn && pipeline != nil {
		crops = pipeline.Run(frame, dets)
	}

	jpeg, err := encodeJPEG(frame)
	if err != nil {
		a.log.WithError(err).Debug("frame encode failed")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if gen != a.gen || ctx.Err() != nil {
		return interval
	}

	// Resizing clears the canvas, so it waits until a result is ready to draw.
	if a.canvas.Size() != display {
		a.canvas.Resize(display)
	}
	shapes := a.renderer.Render(a.canvas, dets, scale)

	a.session.Commit(session.Result{
		NativeSize: native,
		Scale:      scale,
		Detections: dets,
		Shapes:     shapes,
		Crops:      crops,
		Frame:      jpeg,
	})
	a.notify()
	return interval
}

func encodeJPEG(frame *gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *frame)
	if err != nil {
		return nil, err
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), nil
}
