// Package l1frames is the first processing layer: it reads raw frames from a
// video source and turns each one into the calibrated region of interest the
// rest of the pipeline analyses.
//
// The ROI is the bottom-left quadrant of the raw frame. Cropping happens
// before undistortion because the calibration was established against that
// sub-region.
package l1frames

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// ErrEmptyFrame is returned when a frame has no pixels.
var ErrEmptyFrame = errors.New("empty frame")

// Undistorter corrects lens distortion. *calibration.Model implements it.
type Undistorter interface {
	Undistort(src gocv.Mat, dst *gocv.Mat) error
}

// ROI returns the bottom-left quadrant of a width x height frame:
// rows [height/2, height) and columns [0, width/2), with integer truncation.
// The result is (height - height/2) rows by width/2 columns.
func ROI(width, height int) image.Rectangle {
	return image.Rect(0, height/2, width/2, height)
}

// ROISize returns the dimensions of ROI(width, height) as (cols, rows).
func ROISize(width, height int) image.Point {
	return ROI(width, height).Size()
}

// Preprocessor crops frames to the ROI and undistorts the crop.
type Preprocessor struct {
	undistorter Undistorter
}

// NewPreprocessor returns a Preprocessor using u for lens correction.
func NewPreprocessor(u Undistorter) *Preprocessor {
	return &Preprocessor{undistorter: u}
}

// Prepare returns the undistorted ROI of frame. The caller owns the
// returned Mat.
func (p *Preprocessor) Prepare(frame gocv.Mat) (gocv.Mat, error) {
	if frame.Empty() {
		return gocv.NewMat(), ErrEmptyFrame
	}

	rect := ROI(frame.Cols(), frame.Rows())
	if rect.Empty() {
		return gocv.NewMat(), fmt.Errorf("%w: %dx%d frame has no ROI", ErrEmptyFrame, frame.Cols(), frame.Rows())
	}

	region := frame.Region(rect)
	defer region.Close()

	// Region shares memory with frame; undistort reads it into a fresh Mat.
	roi := gocv.NewMat()
	if err := p.undistorter.Undistort(region, &roi); err != nil {
		return roi, fmt.Errorf("undistort: %w", err)
	}
	return roi, nil
}
