// Package report carries the user-facing report stream of a run: one line
// per notable event plus a machine-readable result file.
package report

import (
	"fmt"
	"io"
	"sync"
)

// Sink receives report lines. Implementations must be safe to call from the
// worker goroutine and must not block indefinitely.
type Sink interface {
	Line(text string)
}

// WriterSink writes every line to an io.Writer
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter creates a sink writing to w
func NewWriter(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) Line(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.w, text)
}

// NullSink discards everything
type NullSink struct{}

func (NullSink) Line(text string) {}

// Collector keeps lines in memory
type Collector struct {
	mu    sync.Mutex
	lines []string
}

func (c *Collector) Line(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, text)
}

// Lines returns a copy of the collected lines
func (c *Collector) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}
