// Package testutil provides image fixtures shared by the lane package tests.
package testutil

import (
	"sync/atomic"

	"gocv.io/x/gocv"
)

// IdentityLens is a lens model with no distortion. It copies the source
// frame and counts calls, and is safe for concurrent workers.
type IdentityLens struct {
	calls atomic.Int64
}

// Undistort copies src into dst.
func (l *IdentityLens) Undistort(src gocv.Mat, dst *gocv.Mat) error {
	l.calls.Add(1)
	return src.CopyTo(dst)
}

// Calls is the number of frames undistorted so far.
func (l *IdentityLens) Calls() int {
	return int(l.calls.Load())
}

// FailingLens is a lens model whose correction always fails with Err.
type FailingLens struct {
	Err error
}

// Undistort returns l.Err without touching dst.
func (l FailingLens) Undistort(gocv.Mat, *gocv.Mat) error {
	return l.Err
}

// BlankFrame returns a black BGR frame. The caller closes it.
func BlankFrame(rows, cols int) gocv.Mat {
	return FilledFrame(rows, cols, 0, 0, 0)
}

// FilledFrame returns a BGR frame of one colour. The caller closes it.
func FilledFrame(rows, cols int, b, g, r float64) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(b, g, r, 0), rows, cols, gocv.MatTypeCV8UC3)
}

// BGRAt reads the pixel at column x, row y of a CV_8UC3 Mat.
func BGRAt(m gocv.Mat, x, y int) [3]uint8 {
	v := m.GetVecbAt(y, x)
	return [3]uint8{v[0], v[1], v[2]}
}
