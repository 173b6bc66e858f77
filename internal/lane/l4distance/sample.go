package l4distance

import (
	"fmt"
	"math"
)

// Sample is one row of the per-frame time series. DistanceCM is NaN when the
// frame had no qualifying lane line.
type Sample struct {
	FrameIndex       int
	TimestampSeconds float64
	DistanceCM       float64
}

// NewSample builds the sample for a resolved frame.
func NewSample(frameIndex int, timestampSeconds float64, m Measurement) Sample {
	d := math.NaN()
	if m.Defined {
		d = m.Centimeters
	}
	return Sample{FrameIndex: frameIndex, TimestampSeconds: timestampSeconds, DistanceCM: d}
}

// Defined reports whether the sample carries a distance.
func (s Sample) Defined() bool {
	return !math.IsNaN(s.DistanceCM)
}

func (s Sample) String() string {
	if !s.Defined() {
		return fmt.Sprintf("frame=%d t=%.3fs distance=NaN", s.FrameIndex, s.TimestampSeconds)
	}
	return fmt.Sprintf("frame=%d t=%.3fs distance=%.2fcm", s.FrameIndex, s.TimestampSeconds, s.DistanceCM)
}
