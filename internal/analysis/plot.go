package analysis

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"math"

	"github.com/banshee-data/lane.report/internal/fsutil"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// ErrNoData is returned when a chart would contain no defined points.
var ErrNoData = errors.New("no defined values to plot")

const (
	plotWidth  = 14 * vg.Inch
	plotHeight = 6 * vg.Inch
)

var (
	distanceColor  = color.RGBA{B: 200, A: 255}
	frequencyColor = color.RGBA{R: 200, A: 255}
)

// points drops rows whose x or y is NaN. gonum/plot rejects NaN values.
func points(xs, ys []float64) plotter.XYs {
	n := len(xs)
	if len(ys) < n {
		n = len(ys)
	}
	pts := make(plotter.XYs, 0, n)
	for i := 0; i < n; i++ {
		if math.IsNaN(xs[i]) || math.IsNaN(ys[i]) || math.IsInf(ys[i], 0) {
			continue
		}
		pts = append(pts, plotter.XY{X: xs[i], Y: ys[i]})
	}
	return pts
}

func linePlot(title, yLabel, legend string, c color.Color, xs, ys []float64) (*plot.Plot, error) {
	pts := points(xs, ys)
	if len(pts) == 0 {
		return nil, ErrNoData
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Time (seconds)"
	p.Y.Label.Text = yLabel
	p.Add(plotter.NewGrid())

	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, fmt.Errorf("failed to build line: %w", err)
	}
	line.Color = c
	line.Width = vg.Points(1)
	p.Add(line)
	if legend != "" {
		p.Legend.Top = true
		p.Legend.Add(legend, line)
	}
	return p, nil
}

// PlotDistance charts distance against time. unit labels the y axis. Gaps
// are interpolated, and rows after the last detection hold its value; rows
// before the first detection are left out.
func PlotDistance(s Series, unit string) (*plot.Plot, error) {
	return linePlot(
		"Distance from Lane Line Over Time",
		fmt.Sprintf("Distance (%s)", unit),
		"", distanceColor, s.Seconds, Interpolate(s.DistanceCM),
	)
}

// PlotFrequency charts the change frequency series against time.
func PlotFrequency(seconds, freq []float64, p FrequencyParams) (*plot.Plot, error) {
	return linePlot(
		"Frequency of Position Changes",
		"Frequency (Hz)",
		fmt.Sprintf("> %.1f cm over %.1f s", p.ThresholdCM, p.WindowSeconds),
		frequencyColor, seconds, freq,
	)
}

// WritePNG renders p as a PNG at the default chart size.
func WritePNG(w io.Writer, p *plot.Plot) error {
	wt, err := p.WriterTo(plotWidth, plotHeight, "png")
	if err != nil {
		return fmt.Errorf("failed to render plot: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write plot: %w", err)
	}
	return nil
}

// SavePNG renders p to path on fsys.
func SavePNG(fsys fsutil.FileSystem, path string, p *plot.Plot) error {
	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := WritePNG(f, p); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
