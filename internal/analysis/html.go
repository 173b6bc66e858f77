package analysis

import (
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// missingValue is how echarts marks a gap in a line series.
const missingValue = "-"

func lineData(values []float64) []opts.LineData {
	data := make([]opts.LineData, len(values))
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			data[i] = opts.LineData{Value: missingValue}
			continue
		}
		data[i] = opts.LineData{Value: v}
	}
	return data
}

func secondsAxis(seconds []float64) []string {
	labels := make([]string, len(seconds))
	for i, s := range seconds {
		labels[i] = strconv.FormatFloat(s, 'f', 3, 64)
	}
	return labels
}

func newLineChart(title, subtitle, yName string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Time (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: yName, NameLocation: "middle", NameGap: 40}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	return line
}

// DistanceChart builds an interactive distance chart. Missing samples are
// left as gaps.
func DistanceChart(s Series, unit string) *charts.Line {
	sum := Summarize(s.DistanceCM)
	line := newLineChart(
		"Distance from Lane Line",
		fmt.Sprintf("samples=%d missing=%d", s.Len(), sum.Missing),
		fmt.Sprintf("Distance (%s)", unit),
	)
	line.SetXAxis(secondsAxis(s.Seconds)).
		AddSeries("distance", lineData(s.DistanceCM))
	return line
}

// FrequencyChart builds an interactive change frequency chart.
func FrequencyChart(seconds, freq []float64, p FrequencyParams) *charts.Line {
	line := newLineChart(
		"Frequency of Position Changes",
		fmt.Sprintf("threshold=%.1fcm window=%.1fs", p.ThresholdCM, p.WindowSeconds),
		"Frequency (Hz)",
	)
	line.SetXAxis(secondsAxis(seconds)).
		AddSeries("frequency", lineData(freq))
	return line
}

// RenderHTML writes a page with the distance and frequency charts.
// s holds distances in the display unit; freq is computed from centimetres
// by the caller.
func RenderHTML(w io.Writer, s Series, unit string, freq []float64, p FrequencyParams) error {
	page := components.NewPage()
	page.PageTitle = "Lane Distance Report"
	page.AddCharts(
		DistanceChart(s, unit),
		FrequencyChart(s.Seconds, freq, p),
	)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	return nil
}
