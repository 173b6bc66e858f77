// Package l4distance resolves classified lane lines into a single distance
// from the reference point (the wheel position) to the nearest lane boundary
// above it.
package l4distance

import (
	"fmt"
	"image"
	"math"

	"github.com/banshee-data/lane.report/internal/lane/l3lines"
)

// ReferencePoint is the fixed pixel position the distance is measured from,
// in ROI coordinates. y grows downward, so "above" means smaller y.
type ReferencePoint struct {
	X int
	Y int
}

// Point returns the reference point as an image.Point.
func (r ReferencePoint) Point() image.Point {
	return image.Pt(r.X, r.Y)
}

// Measurement is the outcome of resolving one frame.
type Measurement struct {
	// Defined is false when no line qualifies. That is a normal outcome.
	Defined bool

	// LineIndex is the index of the selected line in the resolver input,
	// or -1 when undefined.
	LineIndex int

	// IntersectY is the sub-pixel y where the selected line crosses x_ref.
	IntersectY float64

	// PixelDistance is y_ref - IntersectY.
	PixelDistance float64

	// Centimeters is PixelDistance scaled to cm, NaN when undefined.
	Centimeters float64
}

// Undefined is the measurement for a frame with no qualifying line.
func Undefined() Measurement {
	return Measurement{LineIndex: -1, IntersectY: math.NaN(), PixelDistance: math.NaN(), Centimeters: math.NaN()}
}

func (m Measurement) String() string {
	if !m.Defined {
		return "undefined"
	}
	return fmt.Sprintf("%.2fcm (%.2fpx, line %d at y=%.2f)", m.Centimeters, m.PixelDistance, m.LineIndex, m.IntersectY)
}

// Intersect returns the sub-pixel y at which line crosses the vertical
// x = ref.X. ok is false if the line's x-span does not contain ref.X or
// the line is vertical.
func Intersect(line l3lines.Segment, ref ReferencePoint) (y float64, ok bool) {
	if !line.SpansX(ref.X) {
		return 0, false
	}
	return line.YAt(ref.X)
}

// Resolve picks the nearest line crossing x_ref strictly above y_ref and
// converts its vertical gap to centimetres with scale (cm per pixel).
//
// Ties on distance keep the earliest line in lines, so the result only
// depends on input order, never on map or goroutine ordering.
func Resolve(lines []l3lines.Segment, ref ReferencePoint, scale float64) Measurement {
	best := Undefined()

	for i, line := range lines {
		y, ok := Intersect(line, ref)
		if !ok {
			continue
		}
		if y >= float64(ref.Y) {
			continue
		}
		gap := float64(ref.Y) - y
		if !best.Defined || gap < best.PixelDistance {
			best = Measurement{
				Defined:       true,
				LineIndex:     i,
				IntersectY:    y,
				PixelDistance: gap,
			}
		}
	}

	if best.Defined {
		best.Centimeters = best.PixelDistance * scale
	}
	return best
}
