// Package l3lines fits line segments to an edge map with the probabilistic
// Hough transform and keeps the ones shaped like lane markings.
package l3lines

import (
	"fmt"

	"github.com/banshee-data/lane.report/internal/config"

	"gocv.io/x/gocv"
)

// HoughParams configures the probabilistic Hough transform.
type HoughParams struct {
	Rho       float32 // distance resolution in pixels
	Theta     float32 // angular resolution in radians
	Threshold int     // minimum accumulator votes
	MinLength float32 // shortest segment kept
	MaxGap    float32 // largest gap bridged between collinear fragments
}

// ExtractorParams bundles the Hough fit and the slope classifier.
type ExtractorParams struct {
	Hough  HoughParams
	Slopes SlopeRange
}

// ParamsFromConfig extracts extractor params from the pipeline config.
func ParamsFromConfig(cfg *config.PipelineConfig) ExtractorParams {
	return ExtractorParams{
		Hough: HoughParams{
			Rho:       float32(cfg.GetHoughRho()),
			Theta:     float32(cfg.GetHoughTheta()),
			Threshold: cfg.GetHoughThreshold(),
			MinLength: float32(cfg.GetHoughMinLength()),
			MaxGap:    float32(cfg.GetHoughMaxGap()),
		},
		Slopes: SlopeRange{Min: cfg.GetSlopeMin(), Max: cfg.GetSlopeMax()},
	}
}

// DefaultParams returns the calibrated defaults.
func DefaultParams() ExtractorParams {
	return ParamsFromConfig(config.EmptyPipelineConfig())
}

// Extractor runs the Hough fit and slope classification. It holds no
// per-frame state.
type Extractor struct {
	params ExtractorParams
}

// NewExtractor returns an Extractor with the given params.
func NewExtractor(params ExtractorParams) *Extractor {
	return &Extractor{params: params}
}

// Params returns the extractor configuration.
func (e *Extractor) Params() ExtractorParams {
	return e.params
}

// Detect returns every Hough segment in detector output order, unfiltered.
func (e *Extractor) Detect(edges gocv.Mat) ([]Segment, error) {
	if edges.Empty() {
		return nil, nil
	}

	lines := gocv.NewMat()
	defer lines.Close()

	h := e.params.Hough
	if err := gocv.HoughLinesPWithParams(edges, &lines, h.Rho, h.Theta, h.Threshold, h.MinLength, h.MaxGap); err != nil {
		return nil, fmt.Errorf("hough transform: %w", err)
	}

	segments := make([]Segment, 0, lines.Rows())
	for i := 0; i < lines.Rows(); i++ {
		v := lines.GetVeciAt(i, 0)
		segments = append(segments, Segment{
			X1: int(v[0]),
			Y1: int(v[1]),
			X2: int(v[2]),
			Y2: int(v[3]),
		})
	}
	return segments, nil
}

// Extract returns the accepted lane-line candidates in detector order.
func (e *Extractor) Extract(edges gocv.Mat) ([]Segment, error) {
	raw, err := e.Detect(edges)
	if err != nil {
		return nil, err
	}
	return e.params.Slopes.Filter(raw), nil
}
