package pipeline

import (
	"io"
	"log"

	"github.com/banshee-data/lane.report/internal/monitoring"
)

var (
	opsLogger   *log.Logger
	diagLogger  *log.Logger
	traceLogger *log.Logger
)

// SetLogWriters configures the three logging streams for the pipeline package.
// Pass nil for any writer to disable that stream.
func SetLogWriters(ops, diag, trace io.Writer) {
	opsLogger = newLogger("[lane] ", ops)
	diagLogger = newLogger("[lane] ", diag)
	traceLogger = newLogger("[lane] ", trace)
}

// newLogger stamps each line unless w is a monitoring.LineWriter, whose
// lines are already stamped by the package logger.
func newLogger(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	flags := log.LstdFlags | log.Lmicroseconds
	if _, ok := w.(*monitoring.LineWriter); ok {
		flags = 0
	}
	return log.New(w, prefix, flags)
}

// opsf logs to the ops stream (frame errors, aborted runs).
func opsf(format string, args ...interface{}) {
	if opsLogger != nil {
		opsLogger.Printf(format, args...)
	}
}

// diagf logs to the diag stream (run start/finish, progress).
func diagf(format string, args ...interface{}) {
	if diagLogger != nil {
		diagLogger.Printf(format, args...)
	}
}

// tracef logs to the trace stream (one line per frame).
func tracef(format string, args ...interface{}) {
	if traceLogger != nil {
		traceLogger.Printf(format, args...)
	}
}
