package pipeline

import (
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/banshee-data/lane.report/internal/config"
	"github.com/banshee-data/lane.report/internal/lane/calibration"
	"github.com/banshee-data/lane.report/internal/lane/l1frames"
	"github.com/banshee-data/lane.report/internal/lane/l3lines"
	"github.com/banshee-data/lane.report/internal/lane/l4distance"
	"github.com/banshee-data/lane.report/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

var white = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// Raw frame 1920x1080 gives a 960x540 ROI, so the default reference point
// (605, 444) lies inside it.
const (
	rawWidth  = 1920
	rawHeight = 1080
	roiTop    = rawHeight / 2
)

// laneFrame draws a 12px white stripe across the ROI from (0, 250) to
// (959, 334) in ROI coordinates. The stripe is thick enough to survive the
// 9x9 opening.
func laneFrame() gocv.Mat {
	frame := testutil.BlankFrame(rawHeight, rawWidth)
	gocv.Line(&frame, image.Pt(0, roiTop+250), image.Pt(959, roiTop+334), white, 12)
	return frame
}

// edgeFrame fills ROI rows [300, 312) white across the full width, so the
// stripe's lower boundary lies between rows 311 and 312.
func edgeFrame() gocv.Mat {
	frame := testutil.BlankFrame(rawHeight, rawWidth)
	gocv.Rectangle(&frame, image.Rect(0, roiTop+300, rawWidth, roiTop+312), white, -1)
	return frame
}

func TestProcessMeasuresStripeEdge(t *testing.T) {
	cfg := config.EmptyPipelineConfig()
	flat := 0.0
	cfg.SlopeMin = &flat
	p := New(cfg, &testutil.IdentityLens{})

	frame := edgeFrame()
	defer frame.Close()

	res, err := p.Process(frame)
	require.NoError(t, err)
	defer res.Close()

	m := res.Measurement
	require.True(t, m.Defined)

	// Canny marks the last white or the first black row; either is within a
	// pixel of the boundary.
	const lowerEdge = 311.5
	scale := cfg.GetPixelToCM()
	assert.InDelta(t, lowerEdge, m.IntersectY, 1)
	assert.InDelta(t, 444-lowerEdge, m.PixelDistance, 1)
	assert.InDelta(t, (444-lowerEdge)*scale, m.Centimeters, scale)
}

func TestProcessMeasuresSyntheticLane(t *testing.T) {
	cfg := config.EmptyPipelineConfig()
	p := New(cfg, &testutil.IdentityLens{})

	frame := laneFrame()
	defer frame.Close()

	res, err := p.Process(frame)
	require.NoError(t, err)
	defer res.Close()

	assert.Equal(t, 960, res.Annotated.Cols())
	assert.Equal(t, 540, res.Annotated.Rows())

	require.NotEmpty(t, res.Lines)
	for _, l := range res.Lines {
		assert.True(t, l3lines.DefaultSlopeRange.Accepts(l), "line %v", l)
	}

	m := res.Measurement
	require.True(t, m.Defined)

	// The stripe centre at x=605 is 250 + 605*84/959 and its lower edge is
	// half the stroke width over cos(angle) below that. The nearest boundary
	// to the reference point must be the lower edge, not the upper one.
	centre := 250 + 605*84.0/959
	halfHeight := 6 / math.Cos(math.Atan(84.0/959))
	assert.Greater(t, m.IntersectY, centre)
	assert.LessOrEqual(t, m.IntersectY, centre+halfHeight+2)
	assert.Equal(t, m.PixelDistance*cfg.GetPixelToCM(), m.Centimeters)
}

func TestProcessAnnotatesOverlays(t *testing.T) {
	p := New(config.EmptyPipelineConfig(), &testutil.IdentityLens{})

	frame := laneFrame()
	defer frame.Close()

	res, err := p.Process(frame)
	require.NoError(t, err)
	defer res.Close()
	require.True(t, res.Measurement.Defined)

	// Above the stripe only the blue reference ray is drawn.
	assert.Equal(t, [3]uint8{255, 0, 0}, testutil.BGRAt(res.Annotated, 605, 100))
	// Between the stripe and the reference point the red measurement
	// covers the ray.
	assert.Equal(t, [3]uint8{0, 0, 255}, testutil.BGRAt(res.Annotated, 605, 400))
	// Away from x_ref the background is untouched.
	assert.Equal(t, [3]uint8{0, 0, 0}, testutil.BGRAt(res.Annotated, 300, 500))
}

func TestProcessBlankFrameIsUndefined(t *testing.T) {
	p := New(config.EmptyPipelineConfig(), &testutil.IdentityLens{})

	frame := testutil.BlankFrame(rawHeight, rawWidth)
	defer frame.Close()

	res, err := p.Process(frame)
	require.NoError(t, err)
	defer res.Close()

	assert.Empty(t, res.Lines)
	assert.False(t, res.Measurement.Defined)
	assert.True(t, math.IsNaN(res.Measurement.Centimeters))

	// Reference ray only, no measurement.
	assert.Equal(t, [3]uint8{255, 0, 0}, testutil.BGRAt(res.Annotated, 605, 400))
}

func TestProcessEmptyFrame(t *testing.T) {
	p := New(config.EmptyPipelineConfig(), &testutil.IdentityLens{})

	empty := gocv.NewMat()
	defer empty.Close()

	res, err := p.Process(empty)
	assert.ErrorIs(t, err, l1frames.ErrEmptyFrame)
	assert.Nil(t, res)
}

func TestProcessLensFailure(t *testing.T) {
	boom := errors.New("lens offline")
	p := New(config.EmptyPipelineConfig(), testutil.FailingLens{Err: boom})

	frame := laneFrame()
	defer frame.Close()

	res, err := p.Process(frame)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, res)
}

func TestProcessSegmenterFailure(t *testing.T) {
	cfg := config.EmptyPipelineConfig()
	even := 8
	cfg.BlurKernel = &even
	p := New(cfg, &testutil.IdentityLens{})

	frame := laneFrame()
	defer frame.Close()

	res, err := p.Process(frame)
	assert.ErrorContains(t, err, "segment: blur")
	assert.Nil(t, res)
}

func TestProcessWithCalibrationModel(t *testing.T) {
	params := &calibration.Parameters{
		CameraMatrix: [3][3]float64{{1000, 0, 480}, {0, 1000, 270}, {0, 0, 1}},
		DistCoeffs:   []float64{0, 0, 0, 0, 0},
	}
	model, err := calibration.NewModel(params)
	require.NoError(t, err)
	defer model.Close()

	p := New(config.EmptyPipelineConfig(), model)

	frame := laneFrame()
	defer frame.Close()

	res, err := p.Process(frame)
	require.NoError(t, err)
	defer res.Close()

	assert.Equal(t, image.Pt(960, 540), image.Pt(res.Annotated.Cols(), res.Annotated.Rows()))
	assert.True(t, res.Measurement.Defined)
}

func TestPipelineUsesConfiguredReference(t *testing.T) {
	cfg := config.EmptyPipelineConfig()
	x, y := 100, 200
	cfg.ReferenceX = &x
	cfg.ReferenceY = &y

	p := New(cfg, &testutil.IdentityLens{})
	assert.Equal(t, l4distance.ReferencePoint{X: 100, Y: 200}, p.Reference())
}

func TestAnnotateUndefinedDrawsNoMeasurement(t *testing.T) {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 100, 100, gocv.MatTypeCV8UC3)
	defer img.Close()

	ref := l4distance.ReferencePoint{X: 50, Y: 80}
	lines := []l3lines.Segment{{X1: 0, Y1: 10, X2: 99, Y2: 20}}
	require.NoError(t, Annotate(&img, lines, ref, l4distance.Undefined()))

	assert.Equal(t, [3]uint8{255, 0, 0}, testutil.BGRAt(img, 50, 60))
	assert.Equal(t, [3]uint8{0, 255, 0}, testutil.BGRAt(img, 10, 11))
	assert.Equal(t, [3]uint8{0, 0, 0}, testutil.BGRAt(img, 50, 90))
}

func TestResultCloseNil(t *testing.T) {
	var r *Result
	assert.NoError(t, r.Close())
}
