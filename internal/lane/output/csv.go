// Package output holds the pipeline sinks: the per-frame CSV, the annotated
// video and the SQLite run store.
package output

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/banshee-data/lane.report/internal/fsutil"
	"github.com/banshee-data/lane.report/internal/lane/l4distance"

	"gocv.io/x/gocv"
)

// CSV column names, in file order.
const (
	ColumnFrame    = "frame"
	ColumnSeconds  = "seconds"
	ColumnDistance = "cm_from_lane_line"
)

// NaNToken is written for frames without a qualifying lane line.
const NaNToken = "NaN"

// Header is the CSV header row.
var Header = []string{ColumnFrame, ColumnSeconds, ColumnDistance}

// csvFlushRows is how many rows are buffered before a flush.
const csvFlushRows = 64

// CSVSink writes one row per frame.
type CSVSink struct {
	file    io.WriteCloser
	w       *csv.Writer
	pending int
	closed  bool
}

// NewCSVSink creates path on fs and writes the header.
func NewCSVSink(fs fsutil.FileSystem, path string) (*CSVSink, error) {
	f, err := fs.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create csv %s: %w", path, err)
	}
	s := NewCSVWriterSink(f)
	if err := s.w.Write(Header); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}
	return s, nil
}

// NewCSVWriterSink wraps an already open writer. The header is not written.
func NewCSVWriterSink(wc io.WriteCloser) *CSVSink {
	return &CSVSink{file: wc, w: csv.NewWriter(wc)}
}

// WriteFrame implements pipeline.Sink. The annotated frame is ignored.
func (s *CSVSink) WriteFrame(sample l4distance.Sample, _ gocv.Mat) error {
	return s.Write(sample)
}

// Write appends one sample row.
func (s *CSVSink) Write(sample l4distance.Sample) error {
	if s.closed {
		return errors.New("csv sink is closed")
	}
	if err := s.w.Write(FormatRow(sample)); err != nil {
		return fmt.Errorf("failed to write csv row %d: %w", sample.FrameIndex, err)
	}
	s.pending++
	if s.pending >= csvFlushRows {
		return s.Flush()
	}
	return nil
}

// Flush writes any buffered rows.
func (s *CSVSink) Flush() error {
	s.pending = 0
	s.w.Flush()
	return s.w.Error()
}

// Close flushes and closes the underlying file.
func (s *CSVSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	flushErr := s.Flush()
	closeErr := s.file.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// FormatRow renders a sample as CSV fields.
func FormatRow(sample l4distance.Sample) []string {
	distance := NaNToken
	if sample.Defined() {
		distance = strconv.FormatFloat(sample.DistanceCM, 'f', -1, 64)
	}
	return []string{
		strconv.Itoa(sample.FrameIndex),
		strconv.FormatFloat(sample.TimestampSeconds, 'f', -1, 64),
		distance,
	}
}

// WriteSamples writes a header and every sample to w.
func WriteSamples(w io.Writer, samples []l4distance.Sample) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, s := range samples {
		if err := cw.Write(FormatRow(s)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadSamples parses a per-frame CSV. Columns are located by header name.
// A distance cell that is NaN (any case), empty or not a number is read as
// undefined; malformed frame or seconds cells are errors.
func ReadSamples(r io.Reader) ([]l4distance.Sample, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, errors.New("csv is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	idx := map[string]int{}
	for i, name := range header {
		idx[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	cols := make([]int, len(Header))
	for i, name := range Header {
		c, ok := idx[name]
		if !ok {
			return nil, fmt.Errorf("csv is missing column %q", name)
		}
		cols[i] = c
	}

	var samples []l4distance.Sample
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv line %d: %w", line, err)
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}

		cell := func(i int) string {
			if cols[i] >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[cols[i]])
		}

		frame, err := strconv.Atoi(cell(0))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid frame %q", line, cell(0))
		}
		seconds, err := strconv.ParseFloat(cell(1), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid seconds %q", line, cell(1))
		}

		samples = append(samples, l4distance.Sample{
			FrameIndex:       frame,
			TimestampSeconds: seconds,
			DistanceCM:       coerceDistance(cell(2)),
		})
	}
	return samples, nil
}

// ReadSamplesFile reads a per-frame CSV from fs.
func ReadSamplesFile(fs fsutil.FileSystem, path string) ([]l4distance.Sample, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open csv %s: %w", path, err)
	}
	defer f.Close()
	return ReadSamples(f)
}

func coerceDistance(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(v, 0) {
		return math.NaN()
	}
	return v
}
