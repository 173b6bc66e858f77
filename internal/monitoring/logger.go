// Package monitoring holds the process-wide diagnostic logger shared by the
// store, the sinks, and the command line tools.
package monitoring

import (
	"bytes"
	"log"
	"sync"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// LineWriter is an io.Writer that forwards each complete line to Logf.
// It lets components that take a writer share the package logger.
type LineWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// Writer returns a new LineWriter.
func Writer() *LineWriter {
	return &LineWriter{}
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadBytes('\n')
		if err != nil {
			// Partial line; keep it for the next write.
			w.buf.Reset()
			w.buf.Write(line)
			return len(p), nil
		}
		Logf("%s", bytes.TrimRight(line, "\r\n"))
	}
}
