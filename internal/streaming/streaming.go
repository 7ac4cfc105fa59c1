// Package streaming turns raw terminal byte streams into output lines.
package streaming

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
)

// ReadChunkSize is the read size used by Pump
const ReadChunkSize = 4096

// DefaultMaxLine caps a line that never sees a newline
const DefaultMaxLine = 64 * 1024

// LineSplitter buffers written bytes and emits each complete line without its
// terminator. Carriage returns before a newline are dropped.
type LineSplitter struct {
	mu      sync.Mutex
	buf     []byte
	maxLine int
	emit    func(line string)
	lines   int
}

// NewLineSplitter creates a splitter that calls emit for every line
func NewLineSplitter(emit func(line string)) *LineSplitter {
	return &LineSplitter{
		maxLine: DefaultMaxLine,
		emit:    emit,
	}
}

// SetMaxLine changes the forced-break length for unterminated lines
func (s *LineSplitter) SetMaxLine(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > 0 {
		s.maxLine = n
	}
}

// Write implements io.Writer
func (s *LineSplitter) Write(p []byte) (int, error) {
	s.mu.Lock()
	s.buf = append(s.buf, p...)

	var ready []string
	for {
		i := bytes.IndexByte(s.buf, '\n')
		if i < 0 {
			break
		}
		ready = append(ready, trimCR(s.buf[:i]))
		s.buf = s.buf[i+1:]
	}
	for len(s.buf) >= s.maxLine {
		ready = append(ready, string(s.buf[:s.maxLine]))
		s.buf = s.buf[s.maxLine:]
	}
	// Drop the consumed prefix so the backing array does not grow forever
	s.buf = append([]byte(nil), s.buf...)
	s.lines += len(ready)
	s.mu.Unlock()

	for _, line := range ready {
		s.emit(line)
	}
	return len(p), nil
}

// Flush emits any buffered partial line
func (s *LineSplitter) Flush() {
	s.mu.Lock()
	if len(s.buf) == 0 {
		s.mu.Unlock()
		return
	}
	line := trimCR(s.buf)
	s.buf = nil
	s.lines++
	s.mu.Unlock()

	s.emit(line)
}

// Pending returns the buffered partial line
func (s *LineSplitter) Pending() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.buf)
}

// Lines returns how many lines have been emitted
func (s *LineSplitter) Lines() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lines
}

func trimCR(b []byte) string {
	return strings.TrimSuffix(string(b), "\r")
}

// Pump copies r into w in ReadChunkSize reads until EOF, a read error or ctx
// cancellation. EOF is not an error. A read blocked in r only returns once r is
// closed, so callers cancel by closing the reader.
func Pump(ctx context.Context, r io.Reader, w io.Writer) error {
	buf := make([]byte, ReadChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
