// Package terminal holds the append-only output panel that mirrors every
// shell command the manager runs, along with its captured output.
package terminal

import (
	"fmt"
	"io"
	"sync"
)

// Sink receives terminal lines in order.
type Sink interface {
	Print(line string)
}

// Writer prints each line to an io.Writer.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (t *Writer) Print(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.w, line)
}

// Buffer keeps lines in memory until cleared.
type Buffer struct {
	mu    sync.Mutex
	lines []string
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

func (b *Buffer) Print(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, line)
}

// Lines returns a copy of the buffered lines.
func (b *Buffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}

// Discard drops every line.
var Discard Sink = discard{}

type discard struct{}

func (discard) Print(string) {}
