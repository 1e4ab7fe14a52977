package trace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSinkWritesLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.log")

	s, err := NewSink(path)
	if err != nil {
		t.Fatalf("NewSink() error = %v", err)
	}

	s.Trace("hello %s", "world")
	s.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "hello world") {
		t.Fatalf("expected trace file to contain %q, got %q", "hello world", string(data))
	}
}

func TestNilSinkTraceIsNoop(t *testing.T) {
	var s *Sink
	s.Trace("should not panic")
	s.Close()
}

func TestSinkDropsWhenBufferFull(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.log")

	s, err := NewSink(path)
	if err != nil {
		t.Fatalf("NewSink() error = %v", err)
	}
	defer s.Close()

	for i := 0; i < bufferDepth*2; i++ {
		s.Trace("line %d", i)
	}

	time.Sleep(50 * time.Millisecond)
}
