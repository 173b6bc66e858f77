package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/banshee-data/lane.report/internal/lane/l4distance"
	"github.com/banshee-data/lane.report/internal/timeutil"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

// sliceSource replays in-memory frames at 30 fps.
type sliceSource struct {
	frames []gocv.Mat
	next   int
	closed bool
}

func newSliceSource(frames ...gocv.Mat) *sliceSource {
	return &sliceSource{frames: frames}
}

// tokenSource returns n 1x1 frames whose single pixel holds the frame number.
func tokenSource(n int) *sliceSource {
	frames := make([]gocv.Mat, n)
	for i := range frames {
		frames[i] = gocv.NewMatWithSizeFromScalar(gocv.NewScalar(float64(i), 0, 0, 0), 1, 1, gocv.MatTypeCV8U)
	}
	return newSliceSource(frames...)
}

func (s *sliceSource) Read(dst *gocv.Mat) bool {
	if s.next >= len(s.frames) {
		return false
	}
	s.frames[s.next].CopyTo(dst)
	s.next++
	return true
}

func (s *sliceSource) PositionSeconds() float64 { return float64(s.next-1) / 30 }
func (s *sliceSource) FPS() float64             { return 30 }
func (s *sliceSource) FrameSize() image.Point {
	if len(s.frames) == 0 {
		return image.Point{}
	}
	return image.Pt(s.frames[0].Cols(), s.frames[0].Rows())
}

func (s *sliceSource) Close() error {
	for i := range s.frames {
		s.frames[i].Close()
	}
	s.closed = true
	return nil
}

// tokenProcessor decodes the frame number from the pixel value. Every fourth
// frame has no line; frame numbers listed in fail return an error. Later
// frames finish sooner so a pool completes them out of order.
type tokenProcessor struct {
	fail map[int]bool
}

func (p tokenProcessor) Process(frame gocv.Mat) (*Result, error) {
	n := int(frame.GetUCharAt(0, 0))
	time.Sleep(time.Duration(3-n%4) * time.Millisecond)

	if p.fail[n] {
		return nil, fmt.Errorf("frame %d is corrupt", n)
	}
	m := l4distance.Undefined()
	if n%4 != 3 {
		m = l4distance.Measurement{Defined: true, LineIndex: 0, IntersectY: 0, PixelDistance: float64(n), Centimeters: float64(n) / 2}
	}
	return &Result{Annotated: gocv.NewMat(), Measurement: m}, nil
}

// gatedProcessor holds frame 0 until gate is closed.
type gatedProcessor struct {
	tokenProcessor
	gate chan struct{}
}

func (p gatedProcessor) Process(frame gocv.Mat) (*Result, error) {
	if frame.GetUCharAt(0, 0) == 0 {
		<-p.gate
	}
	return p.tokenProcessor.Process(frame)
}

// countingSource counts successful reads for observers on other goroutines.
type countingSource struct {
	*sliceSource
	reads atomic.Int64
}

func (s *countingSource) Read(dst *gocv.Mat) bool {
	if !s.sliceSource.Read(dst) {
		return false
	}
	s.reads.Add(1)
	return true
}

type recordingSink struct {
	samples []l4distance.Sample
	empty   []bool
	onWrite func(l4distance.Sample) error
}

func (s *recordingSink) WriteFrame(sample l4distance.Sample, annotated gocv.Mat) error {
	if s.onWrite != nil {
		if err := s.onWrite(sample); err != nil {
			return err
		}
	}
	s.samples = append(s.samples, sample)
	s.empty = append(s.empty, annotated.Empty())
	return nil
}

func expectedTokenSamples(n int) []l4distance.Sample {
	want := make([]l4distance.Sample, n)
	for i := range want {
		d := float64(i) / 2
		if i%4 == 3 {
			d = math.NaN()
		}
		want[i] = l4distance.Sample{FrameIndex: i, TimestampSeconds: float64(i) / 30, DistanceCM: d}
	}
	return want
}

func TestRunnerSequential(t *testing.T) {
	src := tokenSource(12)
	defer src.Close()

	sink := &recordingSink{}
	r := &Runner{Processor: tokenProcessor{}, Workers: 1}

	stats, err := r.Run(context.Background(), src, sink)
	require.NoError(t, err)

	if diff := cmp.Diff(expectedTokenSamples(12), sink.samples, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("samples mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 12, stats.Frames)
	assert.Equal(t, 9, stats.Detections)
	assert.InDelta(t, 0.75, stats.DetectionRate(), 1e-12)
}

func TestRunnerWorkerPoolPreservesOrder(t *testing.T) {
	for _, workers := range []int{2, 4, 8} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			src := tokenSource(40)
			defer src.Close()

			a, b := &recordingSink{}, &recordingSink{}
			r := &Runner{Processor: tokenProcessor{}, Workers: workers}

			stats, err := r.Run(context.Background(), src, a, b)
			require.NoError(t, err)
			assert.Equal(t, 40, stats.Frames)

			want := expectedTokenSamples(40)
			if diff := cmp.Diff(want, a.samples, cmpopts.EquateNaNs()); diff != "" {
				t.Errorf("first sink mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(want, b.samples, cmpopts.EquateNaNs()); diff != "" {
				t.Errorf("second sink mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRunnerBoundsFramesInFlight(t *testing.T) {
	src := &countingSource{sliceSource: tokenSource(20)}
	defer src.Close()

	gate := make(chan struct{})
	sink := &recordingSink{}
	r := &Runner{Processor: gatedProcessor{gate: gate}, Workers: 2, MaxInFlight: 4}

	done := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background(), src, sink)
		done <- err
	}()

	require.Eventually(t, func() bool { return src.reads.Load() == 4 }, time.Second, time.Millisecond)
	// Frame 0 is stalled, so frames 1-3 wait in the reorder buffer and the
	// reader must not run further ahead.
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 4, src.reads.Load())

	close(gate)
	require.NoError(t, <-done)
	if diff := cmp.Diff(expectedTokenSamples(20), sink.samples, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("samples mismatch (-want +got):\n%s", diff)
	}
}

func TestRunnerProcessErrorYieldsUndefinedSample(t *testing.T) {
	src := tokenSource(5)
	defer src.Close()

	sink := &recordingSink{}
	r := &Runner{Processor: tokenProcessor{fail: map[int]bool{2: true}}, Workers: 2}

	stats, err := r.Run(context.Background(), src, sink)
	require.NoError(t, err)
	require.Len(t, sink.samples, 5)

	assert.False(t, sink.samples[2].Defined())
	assert.True(t, sink.empty[2])
	assert.True(t, sink.samples[1].Defined())
	assert.Equal(t, 3, stats.Detections)
}

func TestRunnerSinkErrorAborts(t *testing.T) {
	src := tokenSource(30)
	defer src.Close()

	errDiskFull := errors.New("disk full")
	sink := &recordingSink{onWrite: func(s l4distance.Sample) error {
		if s.FrameIndex == 5 {
			return errDiskFull
		}
		return nil
	}}
	r := &Runner{Processor: tokenProcessor{}, Workers: 3}

	stats, err := r.Run(context.Background(), src, sink)
	require.Error(t, err)
	assert.ErrorIs(t, err, errDiskFull)
	assert.Equal(t, 5, stats.Frames)
	assert.Len(t, sink.samples, 5)
}

func TestRunnerCancelledContext(t *testing.T) {
	src := tokenSource(10)
	defer src.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := &recordingSink{}
	r := &Runner{Processor: tokenProcessor{}, Workers: 2}

	stats, err := r.Run(ctx, src, sink)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, stats.Frames)
	assert.Empty(t, sink.samples)
}

func TestRunnerCancelMidStreamKeepsPrefix(t *testing.T) {
	src := tokenSource(50)
	defer src.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := &recordingSink{onWrite: func(s l4distance.Sample) error {
		if s.FrameIndex == 9 {
			cancel()
		}
		return nil
	}}
	r := &Runner{Processor: tokenProcessor{}, Workers: 4}

	_, err := r.Run(ctx, src, sink)
	assert.ErrorIs(t, err, context.Canceled)

	// Whatever was delivered is a gap-free prefix.
	require.GreaterOrEqual(t, len(sink.samples), 10)
	for i, s := range sink.samples {
		assert.Equal(t, i, s.FrameIndex)
	}
}

func TestRunnerElapsedUsesClock(t *testing.T) {
	src := tokenSource(8)
	defer src.Close()

	clock := timeutil.NewMockClock(time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC))
	sink := &recordingSink{onWrite: func(l4distance.Sample) error {
		clock.Advance(25 * time.Millisecond)
		return nil
	}}
	r := &Runner{Processor: tokenProcessor{}, Workers: 2, Clock: clock, ProgressInterval: 50 * time.Millisecond}

	stats, err := r.Run(context.Background(), src, sink)
	require.NoError(t, err)

	assert.Equal(t, 200*time.Millisecond, stats.Elapsed)
	assert.InDelta(t, 40.0, stats.FramesPerSecond(), 1e-9)
	assert.Equal(t, 1, clock.Tickers())
}

func TestRunnerWithoutProcessor(t *testing.T) {
	_, err := (&Runner{}).Run(context.Background(), newSliceSource())
	assert.Error(t, err)
}

func TestRunnerEmptySource(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	stats, err := (&Runner{Processor: tokenProcessor{}, Clock: clock}).Run(context.Background(), newSliceSource())
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
	assert.Equal(t, 0.0, stats.DetectionRate())
	assert.Equal(t, 0.0, stats.FramesPerSecond())
}

func TestStatsString(t *testing.T) {
	s := Stats{Frames: 4, Detections: 3, Elapsed: 1500 * time.Millisecond}
	assert.Equal(t, "4 frames, 3 detections (75.0%) in 1.5s", s.String())
}
