package output

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/lane.report/internal/lane/l4distance"

	"gocv.io/x/gocv"
)

const (
	// DefaultStoreBatch is the number of samples written per transaction.
	DefaultStoreBatch = 256

	// DefaultStoreTimeout bounds each batch write made by WriteFrame or Close.
	DefaultStoreTimeout = 30 * time.Second
)

// SampleStore persists sample batches for a run. *db.DB implements it.
type SampleStore interface {
	InsertSamples(ctx context.Context, runID string, samples []l4distance.Sample) error
}

// StoreSink batches samples into a SampleStore.
//
// Sinks are called without a context. WriteFrame and Close give every batch
// write its own deadline that does not follow the run's cancellation, so an
// interrupted run still records the frames it emitted. Flush takes the
// caller's context.
type StoreSink struct {
	store     SampleStore
	runID     string
	batchSize int
	batch     []l4distance.Sample
	written   int
	closed    bool

	// Timeout bounds each batch write made by WriteFrame or Close.
	Timeout time.Duration
}

// NewStoreSink returns a sink writing to runID. batchSize <= 0 uses
// DefaultStoreBatch.
func NewStoreSink(store SampleStore, runID string, batchSize int) *StoreSink {
	if batchSize <= 0 {
		batchSize = DefaultStoreBatch
	}
	return &StoreSink{
		Timeout:   DefaultStoreTimeout,
		store:     store,
		runID:     runID,
		batchSize: batchSize,
		batch:     make([]l4distance.Sample, 0, batchSize),
	}
}

// WriteFrame implements pipeline.Sink. The annotated frame is ignored.
func (s *StoreSink) WriteFrame(sample l4distance.Sample, _ gocv.Mat) error {
	if s.closed {
		return errors.New("store sink is closed")
	}
	s.batch = append(s.batch, sample)
	if len(s.batch) >= s.batchSize {
		return s.flushWithTimeout()
	}
	return nil
}

func (s *StoreSink) flushWithTimeout() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()
	return s.Flush(ctx)
}

// Flush writes the pending batch.
func (s *StoreSink) Flush(ctx context.Context) error {
	if len(s.batch) == 0 {
		return nil
	}
	if err := s.store.InsertSamples(ctx, s.runID, s.batch); err != nil {
		return fmt.Errorf("failed to store samples for run %s: %w", s.runID, err)
	}
	s.written += len(s.batch)
	s.batch = s.batch[:0]
	return nil
}

// Written is the number of samples committed so far.
func (s *StoreSink) Written() int {
	return s.written
}

// Close flushes the remaining samples.
func (s *StoreSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.flushWithTimeout()
}
