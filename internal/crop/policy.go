// Package crop extracts enlarged face regions from a frame, runs a landmark
// model over each one and keeps displayable thumbnails.
package crop

import (
	"fmt"
	"image"
	"math"

	"github.com/ayusman/facecam/internal/detector"
)

// Anchor selects how the enlargement and vertical offset are applied. The
// anchors differ in where the box grows from and in what the vertical offset
// is a fraction of.
type Anchor string

const (
	// AnchorCenter grows the box around its center and shifts it up by
	// OffsetY times the enlarged height.
	AnchorCenter Anchor = "center"
	// AnchorCorner grows the box from its top-left corner and shifts it up
	// by OffsetY times the original height.
	AnchorCorner Anchor = "corner"
)

// Policy is the crop geometry. Factors are plain multipliers and are not
// bounds checked: a region that leaves the frame is clipped at extraction.
type Policy struct {
	Enlarge float64 `json:"enlarge" validate:"gt=0"`
	OffsetY float64 `json:"offsetY"`
	Anchor  Anchor  `json:"anchor" validate:"oneof=center corner"`
}

// DefaultPolicy widens faces by 40% and lifts the crop by a tenth of its
// height to keep the forehead.
func DefaultPolicy() Policy {
	return Policy{
		Enlarge: 1.4,
		OffsetY: 0.1,
		Anchor:  AnchorCenter,
	}
}

// ParseAnchor validates an anchor name.
func ParseAnchor(s string) (Anchor, error) {
	switch Anchor(s) {
	case AnchorCenter, AnchorCorner:
		return Anchor(s), nil
	default:
		return "", fmt.Errorf("unknown crop anchor %q", s)
	}
}

// maxRegionCoord keeps rounded region coordinates inside int range.
const maxRegionCoord = math.MaxInt32

// Region returns the crop rectangle for d in native frame coordinates. The
// rectangle may extend past the frame. It is empty for a non-positive
// enlargement or when the geometry does not fit in int32 coordinates.
func (p Policy) Region(d detector.Detection) image.Rectangle {
	bw, bh := d.Width(), d.Height()
	w, h := bw*p.Enlarge, bh*p.Enlarge

	var x, y float64
	switch p.Anchor {
	case AnchorCorner:
		x = d.TopLeft.X
		y = d.TopLeft.Y - p.OffsetY*bh
	default:
		x = d.TopLeft.X - (w-bw)/2
		y = d.TopLeft.Y - (h-bh)/2 - p.OffsetY*h
	}

	if w <= 0 || h <= 0 {
		return image.Rectangle{}
	}
	for _, v := range []float64{x, y, w, h, x + w, y + h} {
		if math.IsNaN(v) || math.Abs(v) > maxRegionCoord {
			return image.Rectangle{}
		}
	}

	x0, y0 := int(math.Round(x)), int(math.Round(y))
	return image.Rect(x0, y0, x0+int(math.Round(w)), y0+int(math.Round(h)))
}
