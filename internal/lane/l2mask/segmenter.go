// Package l2mask turns a colour ROI into a binary edge map of candidate
// lane-marking pixels.
//
// Steps: HSV white-paint threshold, morphological close then open with a
// square kernel (close first so a line stays continuous before open removes
// speckle), Gaussian blur, and Canny edge extraction.
package l2mask

import (
	"fmt"
	"image"

	"github.com/banshee-data/lane.report/internal/config"

	"gocv.io/x/gocv"
)

// Params configures the segmenter. Values are deployment-specific tuning.
type Params struct {
	HSVLower    [3]float64
	HSVUpper    [3]float64
	MorphKernel int
	BlurKernel  int
	CannyLow    float32
	CannyHigh   float32
}

// ParamsFromConfig extracts segmenter params from the pipeline config.
func ParamsFromConfig(cfg *config.PipelineConfig) Params {
	return Params{
		HSVLower:    cfg.GetHSVLower(),
		HSVUpper:    cfg.GetHSVUpper(),
		MorphKernel: cfg.GetMorphKernel(),
		BlurKernel:  cfg.GetBlurKernel(),
		CannyLow:    float32(cfg.GetCannyLow()),
		CannyHigh:   float32(cfg.GetCannyHigh()),
	}
}

// DefaultParams returns the calibrated white-paint defaults.
func DefaultParams() Params {
	return ParamsFromConfig(config.EmptyPipelineConfig())
}

// Segmenter is stateless apart from its params and is safe for concurrent use.
type Segmenter struct {
	params Params
}

// NewSegmenter returns a Segmenter with the given params.
func NewSegmenter(params Params) *Segmenter {
	return &Segmenter{params: params}
}

// Params returns the segmenter configuration.
func (s *Segmenter) Params() Params {
	return s.params
}

// Mask returns the cleaned binary white-paint mask of a BGR ROI.
// The caller owns the returned Mat, including on error.
func (s *Segmenter) Mask(roi gocv.Mat) (gocv.Mat, error) {
	mask := gocv.NewMat()
	if roi.Empty() {
		return mask, nil
	}

	hsv := gocv.NewMat()
	defer hsv.Close()
	if err := gocv.CvtColor(roi, &hsv, gocv.ColorBGRToHSV); err != nil {
		return mask, fmt.Errorf("hsv conversion: %w", err)
	}

	lo, hi := s.params.HSVLower, s.params.HSVUpper
	if err := gocv.InRangeWithScalar(hsv,
		gocv.NewScalar(lo[0], lo[1], lo[2], 0),
		gocv.NewScalar(hi[0], hi[1], hi[2], 0),
		&mask); err != nil {
		return mask, fmt.Errorf("hsv threshold: %w", err)
	}

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(s.params.MorphKernel, s.params.MorphKernel))
	defer kernel.Close()

	if err := gocv.MorphologyEx(mask, &mask, gocv.MorphClose, kernel); err != nil {
		return mask, fmt.Errorf("morphological close: %w", err)
	}
	if err := gocv.MorphologyEx(mask, &mask, gocv.MorphOpen, kernel); err != nil {
		return mask, fmt.Errorf("morphological open: %w", err)
	}
	return mask, nil
}

// Segment returns the single-channel edge map for a BGR ROI, with the same
// dimensions as roi. The caller owns the returned Mat, including on error.
func (s *Segmenter) Segment(roi gocv.Mat) (gocv.Mat, error) {
	edges := gocv.NewMat()

	mask, err := s.Mask(roi)
	defer mask.Close()
	if err != nil || mask.Empty() {
		return edges, err
	}

	blurred := gocv.NewMat()
	defer blurred.Close()
	k := image.Pt(s.params.BlurKernel, s.params.BlurKernel)
	if err := gocv.GaussianBlur(mask, &blurred, k, 0, 0, gocv.BorderDefault); err != nil {
		return edges, fmt.Errorf("blur: %w", err)
	}

	if err := gocv.Canny(blurred, &edges, s.params.CannyLow, s.params.CannyHigh); err != nil {
		return edges, fmt.Errorf("canny: %w", err)
	}
	return edges, nil
}
