// Package pipeline composes the lane layers into a per-frame measurement and
// drives it over a frame source.
//
// Pipeline is the pure per-frame function: crop and undistort (l1frames),
// segment (l2mask), fit and classify lines (l3lines), resolve the distance
// (l4distance) and annotate. Runner reads a Source, fans frames out to a
// worker pool and delivers results to sinks in frame order. None of the
// layer packages import pipeline.
package pipeline

import (
	"fmt"
	"image"
	"image/color"

	"github.com/banshee-data/lane.report/internal/config"
	"github.com/banshee-data/lane.report/internal/lane/l1frames"
	"github.com/banshee-data/lane.report/internal/lane/l2mask"
	"github.com/banshee-data/lane.report/internal/lane/l3lines"
	"github.com/banshee-data/lane.report/internal/lane/l4distance"

	"gocv.io/x/gocv"
)

// Annotation colours. gocv converts color.RGBA to OpenCV's BGR order.
var (
	lineColor        = color.RGBA{G: 255}
	referenceColor   = color.RGBA{B: 255}
	measurementColor = color.RGBA{R: 255}
)

const (
	lineThickness        = 2
	referenceThickness   = 1
	measurementThickness = 2
)

// Processor turns one raw frame into a Result.
type Processor interface {
	Process(frame gocv.Mat) (*Result, error)
}

// Result is the output of processing one frame.
type Result struct {
	// Annotated is the undistorted ROI with overlays drawn. The receiver
	// owns it and must Close it.
	Annotated gocv.Mat

	// Lines are the accepted lane-line candidates in detector order.
	Lines []l3lines.Segment

	Measurement l4distance.Measurement
}

// Close releases the annotated frame.
func (r *Result) Close() error {
	if r == nil {
		return nil
	}
	return r.Annotated.Close()
}

// Pipeline holds the immutable per-run configuration. It is safe for
// concurrent Process calls: every call allocates its own Mats and the
// calibration Mats are only read.
type Pipeline struct {
	pre   *l1frames.Preprocessor
	seg   *l2mask.Segmenter
	ext   *l3lines.Extractor
	ref   l4distance.ReferencePoint
	scale float64
}

// New builds a Pipeline from cfg and a lens model. *calibration.Model
// satisfies l1frames.Undistorter.
func New(cfg *config.PipelineConfig, model l1frames.Undistorter) *Pipeline {
	return &Pipeline{
		pre: l1frames.NewPreprocessor(model),
		seg: l2mask.NewSegmenter(l2mask.ParamsFromConfig(cfg)),
		ext: l3lines.NewExtractor(l3lines.ParamsFromConfig(cfg)),
		ref: l4distance.ReferencePoint{
			X: cfg.GetReferenceX(),
			Y: cfg.GetReferenceY(),
		},
		scale: cfg.GetPixelToCM(),
	}
}

// Reference returns the configured reference point.
func (p *Pipeline) Reference() l4distance.ReferencePoint {
	return p.ref
}

// Process measures one raw frame. On error no Mats are leaked and the
// Result is nil.
func (p *Pipeline) Process(frame gocv.Mat) (*Result, error) {
	roi, err := p.pre.Prepare(frame)
	if err != nil {
		roi.Close()
		return nil, err
	}

	lines, err := p.detect(roi)
	if err != nil {
		roi.Close()
		return nil, err
	}

	m := l4distance.Resolve(lines, p.ref, p.scale)
	if m.Defined {
		l := lines[m.LineIndex]
		tracef("nearest of %d lines: %s at %.1f deg", len(lines), l, l.Angle())
	}

	if err := Annotate(&roi, lines, p.ref, m); err != nil {
		roi.Close()
		return nil, err
	}

	return &Result{Annotated: roi, Lines: lines, Measurement: m}, nil
}

func (p *Pipeline) detect(roi gocv.Mat) ([]l3lines.Segment, error) {
	edges, err := p.seg.Segment(roi)
	defer edges.Close()
	if err != nil {
		return nil, fmt.Errorf("segment: %w", err)
	}

	lines, err := p.ext.Extract(edges)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	return lines, nil
}

// Annotate draws the accepted lines in green, the reference ray in blue from
// the reference point straight up to row 0, and, when the measurement is
// defined, the measured gap in red from the reference point to the
// intersection.
func Annotate(img *gocv.Mat, lines []l3lines.Segment, ref l4distance.ReferencePoint, m l4distance.Measurement) error {
	for _, l := range lines {
		if err := gocv.Line(img, image.Pt(l.X1, l.Y1), image.Pt(l.X2, l.Y2), lineColor, lineThickness); err != nil {
			return fmt.Errorf("draw line %s: %w", l, err)
		}
	}

	origin := ref.Point()
	if err := gocv.Line(img, origin, image.Pt(ref.X, 0), referenceColor, referenceThickness); err != nil {
		return fmt.Errorf("draw reference: %w", err)
	}

	if m.Defined {
		if err := gocv.Line(img, origin, image.Pt(ref.X, int(m.IntersectY)), measurementColor, measurementThickness); err != nil {
			return fmt.Errorf("draw measurement: %w", err)
		}
	}
	return nil
}
