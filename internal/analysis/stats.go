// Package analysis turns a per-frame distance series into summary
// statistics, a lane-change frequency series, and charts.
package analysis

import (
	"fmt"
	"math"
	"sort"

	"github.com/banshee-data/lane.report/internal/config"
	"github.com/banshee-data/lane.report/internal/lane/l4distance"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Series is a distance time series. DistanceCM holds NaN for frames without
// a measurement.
type Series struct {
	Seconds    []float64
	DistanceCM []float64
}

// FromSamples builds a Series in sample order.
func FromSamples(samples []l4distance.Sample) Series {
	s := Series{
		Seconds:    make([]float64, len(samples)),
		DistanceCM: make([]float64, len(samples)),
	}
	for i, sample := range samples {
		s.Seconds[i] = sample.TimestampSeconds
		s.DistanceCM[i] = sample.DistanceCM
	}
	return s
}

// Len is the number of rows.
func (s Series) Len() int {
	return len(s.Seconds)
}

// Interpolate fills NaN gaps by linear interpolation over row position.
// Leading NaNs are left as NaN; trailing NaNs take the last valid value.
// The input is not modified.
func Interpolate(values []float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)

	prev := -1
	for i, v := range out {
		if math.IsNaN(v) {
			continue
		}
		if prev >= 0 && i-prev > 1 {
			step := (v - out[prev]) / float64(i-prev)
			for j := prev + 1; j < i; j++ {
				out[j] = out[prev] + step*float64(j-prev)
			}
		}
		prev = i
	}
	if prev >= 0 {
		for j := prev + 1; j < len(out); j++ {
			out[j] = out[prev]
		}
	}
	return out
}

// Summary describes the defined values of a series.
type Summary struct {
	Count   int
	Missing int
	Mean    float64
	Min     float64
	Max     float64
	Median  float64
	StdDev  float64 // sample standard deviation (n-1)
}

// Summarize computes statistics over the non-NaN values. With no defined
// values every statistic is NaN; with one, StdDev is NaN.
func Summarize(values []float64) Summary {
	valid := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			valid = append(valid, v)
		}
	}

	s := Summary{Count: len(valid), Missing: len(values) - len(valid)}
	if len(valid) == 0 {
		nan := math.NaN()
		s.Mean, s.Min, s.Max, s.Median, s.StdDev = nan, nan, nan, nan, nan
		return s
	}

	s.Mean = stat.Mean(valid, nil)
	s.Min = floats.Min(valid)
	s.Max = floats.Max(valid)
	s.StdDev = math.NaN()
	if len(valid) > 1 {
		s.StdDev = stat.StdDev(valid, nil)
	}

	sort.Float64s(valid)
	mid := len(valid) / 2
	if len(valid)%2 == 1 {
		s.Median = valid[mid]
	} else {
		s.Median = (valid[mid-1] + valid[mid]) / 2
	}
	return s
}

// DetectionRate is the fraction of rows with a defined value.
func (s Summary) DetectionRate() float64 {
	total := s.Count + s.Missing
	if total == 0 {
		return 0
	}
	return float64(s.Count) / float64(total)
}

// Convert returns the summary with every distance passed through conv.
func (s Summary) Convert(conv func(float64) float64) Summary {
	s.Mean = conv(s.Mean)
	s.Min = conv(s.Min)
	s.Max = conv(s.Max)
	s.Median = conv(s.Median)
	s.StdDev = conv(s.StdDev)
	return s
}

// Format renders the summary in the given unit label.
func (s Summary) Format(unit string) string {
	return fmt.Sprintf(
		"Distance from Lane Line Summary Statistics:\n"+
			"Samples: %d (%d missing, %.1f%% detected)\n"+
			"Mean: %.2f %s\n"+
			"Minimum: %.2f %s\n"+
			"Maximum: %.2f %s\n"+
			"Median: %.2f %s\n"+
			"Standard Deviation: %.2f %s\n",
		s.Count+s.Missing, s.Missing, 100*s.DetectionRate(),
		s.Mean, unit,
		s.Min, unit,
		s.Max, unit,
		s.Median, unit,
		s.StdDev, unit,
	)
}

// FrequencyParams configures ChangeFrequency.
type FrequencyParams struct {
	SampleRateHz  float64
	WindowSeconds float64
	ThresholdCM   float64
}

// FrequencyParamsFromConfig extracts the analysis settings.
func FrequencyParamsFromConfig(cfg *config.PipelineConfig) FrequencyParams {
	return FrequencyParams{
		SampleRateHz:  cfg.GetSampleRateHz(),
		WindowSeconds: cfg.GetWindowSeconds(),
		ThresholdCM:   cfg.GetChangeThresholdCM(),
	}
}

// DefaultFrequencyParams is 30 Hz, 1 s windows, 5 cm threshold.
func DefaultFrequencyParams() FrequencyParams {
	return FrequencyParamsFromConfig(config.EmptyPipelineConfig())
}

// WindowRows is the rolling window length in rows, at least 1.
func (p FrequencyParams) WindowRows() int {
	n := int(math.Round(p.WindowSeconds * p.SampleRateHz))
	if n < 1 {
		return 1
	}
	return n
}

// ChangeFrequency returns, per row, the rate in Hz of significant position
// changes over the trailing window. A change is a jump of more than
// ThresholdCM between consecutive interpolated values. Rows before the
// first full window are NaN.
func ChangeFrequency(values []float64, p FrequencyParams) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}

	interp := Interpolate(values)
	changes := make([]float64, len(values))
	for i := 1; i < len(interp); i++ {
		// NaN differences compare false and never count.
		if math.Abs(interp[i]-interp[i-1]) > p.ThresholdCM {
			changes[i] = 1
		}
	}

	window := p.WindowRows()
	sum := 0.0
	for i := range changes {
		sum += changes[i]
		if i >= window {
			sum -= changes[i-window]
		}
		if i < window-1 {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum / p.WindowSeconds
	}
	return out
}
