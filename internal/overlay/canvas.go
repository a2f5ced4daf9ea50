package overlay

import (
	"fmt"
	"image"
	"image/color"
	"sync"

	"gocv.io/x/gocv"
)

// Canvas is a drawing surface aligned with the displayed video.
type Canvas interface {
	// Resize sets the surface size. Resizing discards previous drawing.
	Resize(size image.Point)
	Size() image.Point
	// Clear erases all drawing, leaving the surface fully transparent.
	Clear()
	Rectangle(r image.Rectangle, c color.RGBA, thickness int)
	// Circle draws a filled circle.
	Circle(center image.Point, radius int, c color.RGBA)
}

// MatCanvas draws on a transparent BGRA gocv Mat.
type MatCanvas struct {
	mu   sync.RWMutex
	mat  gocv.Mat
	size image.Point
}

// NewMatCanvas creates a transparent canvas of the given size.
func NewMatCanvas(size image.Point) *MatCanvas {
	c := &MatCanvas{mat: gocv.NewMat()}
	c.Resize(size)
	return c
}

func (c *MatCanvas) Resize(size image.Point) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if size == c.size && !c.mat.Empty() {
		c.clear()
		return
	}

	c.mat.Close()
	c.size = size
	if size.X <= 0 || size.Y <= 0 {
		c.mat = gocv.NewMat()
		return
	}
	c.mat = gocv.NewMatWithSize(size.Y, size.X, gocv.MatTypeCV8UC4)
	c.clear()
}

func (c *MatCanvas) Size() image.Point {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.size
}

func (c *MatCanvas) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clear()
}

func (c *MatCanvas) clear() {
	if c.mat.Empty() {
		return
	}
	c.mat.SetTo(gocv.NewScalar(0, 0, 0, 0))
}

func (c *MatCanvas) Rectangle(r image.Rectangle, col color.RGBA, thickness int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mat.Empty() {
		return
	}
	gocv.Rectangle(&c.mat, r, col, thickness)
}

func (c *MatCanvas) Circle(center image.Point, radius int, col color.RGBA) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mat.Empty() {
		return
	}
	gocv.Circle(&c.mat, center, radius, col, -1)
}

// Alpha returns the alpha value of the pixel at (x, y), or 0 outside the canvas.
func (c *MatCanvas) Alpha(x, y int) uint8 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.mat.Empty() || !image.Pt(x, y).In(image.Rectangle{Max: c.size}) {
		return 0
	}
	return c.mat.GetVecbAt(y, x)[3]
}

// Painted counts pixels with a non-zero alpha channel.
func (c *MatCanvas) Painted() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.mat.Empty() {
		return 0
	}

	alpha := gocv.NewMat()
	defer alpha.Close()
	gocv.ExtractChannel(c.mat, &alpha, 3)
	return gocv.CountNonZero(alpha)
}

// PNG encodes the canvas with its transparency.
func (c *MatCanvas) PNG() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.mat.Empty() {
		return nil, fmt.Errorf("overlay canvas is empty")
	}

	buf, err := gocv.IMEncode(gocv.PNGFileExt, c.mat)
	if err != nil {
		return nil, fmt.Errorf("encode overlay: %w", err)
	}
	defer buf.Close()

	return append([]byte(nil), buf.GetBytes()...), nil
}

// Close releases the underlying Mat.
func (c *MatCanvas) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mat.Close()
}
