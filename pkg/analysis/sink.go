package analysis

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/julianshen/coverclient/pkg/cover"
)

// Sink receives streamed results in arrival order. Close is called once
// the analysis has ended.
type Sink interface {
	Write(cover.Result) error
	Close() error
}

// JSONLinesSink writes each result as one JSON object per line.
type JSONLinesSink struct {
	mu  sync.Mutex
	w   io.Writer
	enc *json.Encoder
}

// NewJSONLinesSink returns a sink writing to w. If w is an io.Closer it is
// closed with the sink.
func NewJSONLinesSink(w io.Writer) *JSONLinesSink {
	return &JSONLinesSink{w: w, enc: json.NewEncoder(w)}
}

// Write encodes r followed by a newline.
func (s *JSONLinesSink) Write(r cover.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(r)
}

// Close closes the underlying writer when it is an io.Closer.
func (s *JSONLinesSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// SinkFunc adapts a function to a Sink whose Close does nothing.
type SinkFunc func(cover.Result) error

// Write calls f(r).
func (f SinkFunc) Write(r cover.Result) error { return f(r) }

// Close does nothing.
func (f SinkFunc) Close() error { return nil }

// isNilSink reports whether s is nil or wraps a nil value of one of the
// sinks defined here.
func isNilSink(s Sink) bool {
	switch v := s.(type) {
	case nil:
		return true
	case *JSONLinesSink:
		return v == nil
	case SinkFunc:
		return v == nil
	}
	return false
}
