package l3lines

import (
	"fmt"
	"math"
)

// Segment is a detected line segment in ROI pixel coordinates.
type Segment struct {
	X1, Y1, X2, Y2 int
}

// Vertical reports whether the segment has no horizontal extent.
func (s Segment) Vertical() bool {
	return s.X1 == s.X2
}

// Slope returns |dy/dx|. It returns +Inf for vertical segments.
func (s Segment) Slope() float64 {
	if s.Vertical() {
		return math.Inf(1)
	}
	return math.Abs(float64(s.Y2-s.Y1) / float64(s.X2-s.X1))
}

// Angle returns the direction of the segment in degrees, in (-180, 180].
func (s Segment) Angle() float64 {
	return math.Atan2(float64(s.Y2-s.Y1), float64(s.X2-s.X1)) * 180 / math.Pi
}

// MinX returns the smaller x endpoint.
func (s Segment) MinX() int {
	if s.X1 < s.X2 {
		return s.X1
	}
	return s.X2
}

// MaxX returns the larger x endpoint.
func (s Segment) MaxX() int {
	if s.X1 > s.X2 {
		return s.X1
	}
	return s.X2
}

// SpansX reports whether x lies within [MinX, MaxX].
func (s Segment) SpansX(x int) bool {
	return s.MinX() <= x && x <= s.MaxX()
}

// YAt linearly interpolates the segment's y at x without rounding.
// ok is false for vertical segments.
func (s Segment) YAt(x int) (y float64, ok bool) {
	if s.Vertical() {
		return 0, false
	}
	dx := float64(s.X2 - s.X1)
	dy := float64(s.Y2 - s.Y1)
	return float64(s.Y1) + float64(x-s.X1)*dy/dx, true
}

func (s Segment) String() string {
	return fmt.Sprintf("(%d,%d)-(%d,%d)", s.X1, s.Y1, s.X2, s.Y2)
}

// SlopeRange accepts segments whose absolute slope lies in [Min, Max].
// The default range encodes that lane markings appear nearly horizontal in
// the undistorted ROI for the calibrated camera mounting.
type SlopeRange struct {
	Min float64
	Max float64
}

// DefaultSlopeRange is the calibrated acceptance range.
var DefaultSlopeRange = SlopeRange{Min: 0.05, Max: 0.3}

// Accepts reports whether s is a lane-line candidate. Vertical segments are
// rejected before any division.
func (r SlopeRange) Accepts(s Segment) bool {
	if s.Vertical() {
		return false
	}
	slope := math.Abs(float64(s.Y2-s.Y1) / float64(s.X2-s.X1))
	return r.Min <= slope && slope <= r.Max
}

// Filter returns the accepted segments in their original order.
func (r SlopeRange) Filter(segments []Segment) []Segment {
	accepted := make([]Segment, 0, len(segments))
	for _, s := range segments {
		if r.Accepts(s) {
			accepted = append(accepted, s)
		}
	}
	return accepted
}
