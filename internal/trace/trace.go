// Package trace implements an optional low-overhead trace sink: a single
// goroutine appends timestamped lines read off a buffered channel to a
// file, independent of the structured slog logger every other part of the
// connector uses.
package trace

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"
)

const bufferDepth = 256

// Sink is a file-backed trace writer. Nil-safe: a nil *Sink's Trace is a
// no-op, so callers can hold an optional sink without checking for nil
// everywhere.
type Sink struct {
	file   *os.File
	writer *bufio.Writer
	lines  chan string
	done   chan struct{}

	closeOnce sync.Once
}

// NewSink opens path for appending and starts the writer goroutine.
func NewSink(path string) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("trace: open %s: %w", path, err)
	}

	s := &Sink{
		file:   f,
		writer: bufio.NewWriter(f),
		lines:  make(chan string, bufferDepth),
		done:   make(chan struct{}),
	}
	go s.run()
	return s, nil
}

// Trace appends one timestamped line built from format/args. Non-blocking:
// if the internal buffer is full, the line is dropped rather than
// backpressuring the caller (tracing must never slow down the pipeline).
func (s *Sink) Trace(format string, args ...any) {
	if s == nil {
		return
	}
	line := fmt.Sprintf("%s %s", time.Now().UTC().Format(time.RFC3339Nano), fmt.Sprintf(format, args...))
	select {
	case s.lines <- line:
	default:
	}
}

func (s *Sink) run() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case line, ok := <-s.lines:
			if !ok {
				s.writer.Flush()
				s.file.Close()
				close(s.done)
				return
			}
			fmt.Fprintln(s.writer, line)
		case <-ticker.C:
			s.writer.Flush()
		}
	}
}

// Close flushes and closes the underlying file. Idempotent.
func (s *Sink) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		close(s.lines)
		<-s.done
	})
}
