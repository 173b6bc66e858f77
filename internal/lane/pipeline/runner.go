package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/lane.report/internal/lane/l1frames"
	"github.com/banshee-data/lane.report/internal/lane/l4distance"
	"github.com/banshee-data/lane.report/internal/timeutil"

	"gocv.io/x/gocv"
)

const (
	// DefaultProgressInterval is how often Run logs progress to the diag stream.
	DefaultProgressInterval = 10 * time.Second

	// DefaultInFlightPerWorker bounds how far the reader runs ahead of the
	// oldest unemitted frame, per worker.
	DefaultInFlightPerWorker = 4
)

// Sink receives per-frame output in strictly increasing frame order.
// annotated is only valid for the duration of the call; it may be empty
// when the frame could not be processed.
type Sink interface {
	WriteFrame(sample l4distance.Sample, annotated gocv.Mat) error
}

// Stats summarises a run.
type Stats struct {
	Frames     int
	Detections int
	Elapsed    time.Duration
}

// DetectionRate is the fraction of frames with a defined distance.
func (s Stats) DetectionRate() float64 {
	if s.Frames == 0 {
		return 0
	}
	return float64(s.Detections) / float64(s.Frames)
}

// FramesPerSecond is the processing throughput of the run.
func (s Stats) FramesPerSecond() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Frames) / s.Elapsed.Seconds()
}

func (s Stats) String() string {
	return fmt.Sprintf("%d frames, %d detections (%.1f%%) in %s",
		s.Frames, s.Detections, 100*s.DetectionRate(), s.Elapsed.Round(time.Millisecond))
}

// Runner drives a Processor over a Source.
type Runner struct {
	Processor Processor

	// Workers is the size of the processing pool. Values below 1 run a
	// single worker, which reproduces strictly sequential processing.
	Workers int

	// Clock times the run. Nil uses the real clock.
	Clock timeutil.Clock

	// ProgressInterval is the diag logging period. Zero uses
	// DefaultProgressInterval.
	ProgressInterval time.Duration

	// MaxInFlight caps the frames read but not yet emitted, so one slow
	// frame cannot make the reorder buffer grow without bound. Zero uses
	// DefaultInFlightPerWorker per worker.
	MaxInFlight int
}

type job struct {
	index   int
	seconds float64
	frame   gocv.Mat
}

type outcome struct {
	index   int
	seconds float64
	result  *Result
	err     error
}

func (o outcome) close() {
	if o.result != nil {
		o.result.Close()
	}
}

// Run reads src to the end, processes every frame and hands each sample to
// all sinks in frame order. It returns when the stream ends, when ctx is
// cancelled (returning ctx.Err()), or when a sink fails.
func (r *Runner) Run(ctx context.Context, src l1frames.Source, sinks ...Sink) (Stats, error) {
	if r.Processor == nil {
		return Stats{}, fmt.Errorf("runner has no processor")
	}

	clock := r.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	interval := r.ProgressInterval
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	workers := r.Workers
	if workers < 1 {
		workers = 1
	}
	inFlight := r.MaxInFlight
	if inFlight < 1 {
		inFlight = DefaultInFlightPerWorker * workers
	}

	parent := ctx
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	start := clock.Now()
	jobs := make(chan job, workers)
	outcomes := make(chan outcome, workers)
	// One token per frame between read and emit.
	slots := make(chan struct{}, inFlight)

	go r.read(ctx, src, slots, jobs)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.work(ctx, jobs, outcomes)
		}()
	}
	go func() {
		wg.Wait()
		close(outcomes)
	}()

	diagf("run started with %d worker(s)", workers)

	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	var (
		stats   Stats
		runErr  error
		next    int
		pending = make(map[int]outcome)
	)

loop:
	for {
		select {
		case o, ok := <-outcomes:
			if !ok {
				break loop
			}
			if runErr != nil || ctx.Err() != nil {
				o.close()
				<-slots
				continue
			}
			pending[o.index] = o
			for {
				ready, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				next++
				<-slots

				if err := emit(ready, sinks, &stats); err != nil {
					runErr = err
					opsf("run aborted at frame %d: %v", ready.index, err)
					cancel()
					break
				}
			}
		case <-ticker.C():
			diagf("progress: %d frames, %d detections", stats.Frames, stats.Detections)
		}
	}

	for _, o := range pending {
		o.close()
	}

	stats.Elapsed = clock.Since(start)

	if runErr != nil {
		return stats, runErr
	}
	if err := parent.Err(); err != nil {
		diagf("run cancelled: %s", stats)
		return stats, err
	}
	diagf("run finished: %s", stats)
	return stats, nil
}

// read assigns frame indices in source order and records the playback
// position after each successful read. It takes a slot before every read
// and blocks while all slots are held.
func (r *Runner) read(ctx context.Context, src l1frames.Source, slots chan<- struct{}, jobs chan<- job) {
	defer close(jobs)

	for index := 0; ; index++ {
		if ctx.Err() != nil {
			return
		}
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			return
		}

		frame := gocv.NewMat()
		if !src.Read(&frame) {
			frame.Close()
			return
		}
		j := job{index: index, seconds: src.PositionSeconds(), frame: frame}

		select {
		case jobs <- j:
		case <-ctx.Done():
			frame.Close()
			return
		}
	}
}

func (r *Runner) work(ctx context.Context, jobs <-chan job, outcomes chan<- outcome) {
	for j := range jobs {
		res, err := r.Processor.Process(j.frame)
		j.frame.Close()

		o := outcome{index: j.index, seconds: j.seconds, result: res, err: err}
		select {
		case outcomes <- o:
		case <-ctx.Done():
			o.close()
		}
	}
}

// emit turns an outcome into a sample, passes it to every sink and releases
// the annotated frame. A frame that failed to process yields an undefined
// sample and an empty annotated frame.
func emit(o outcome, sinks []Sink, stats *Stats) error {
	defer o.close()

	m := l4distance.Undefined()
	var annotated gocv.Mat
	if o.err != nil {
		opsf("frame %d: %v", o.index, o.err)
		annotated = gocv.NewMat()
		defer annotated.Close()
	} else {
		m = o.result.Measurement
		annotated = o.result.Annotated
	}

	sample := l4distance.NewSample(o.index, o.seconds, m)
	tracef("%s", sample)

	for _, sink := range sinks {
		if err := sink.WriteFrame(sample, annotated); err != nil {
			return fmt.Errorf("failed to write frame %d: %w", o.index, err)
		}
	}

	stats.Frames++
	if sample.Defined() {
		stats.Detections++
	}
	return nil
}
