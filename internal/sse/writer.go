package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// Writer frames events as `data: <json>\n\n` and flushes after every frame.
type Writer struct {
	w     io.Writer
	flush func()
	mu    sync.Mutex
}

// NewWriter sets the event-stream headers on w. The caller must not have written the status yet.
func NewWriter(w http.ResponseWriter) *Writer {
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")

	var flushFn func()
	if f, ok := w.(http.Flusher); ok {
		flushFn = f.Flush
	}
	return &Writer{w: w, flush: flushFn}
}

// NewStreamWriter writes frames to an arbitrary writer (tests, pipes).
func NewStreamWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (s *Writer) Send(evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", evt.Type, err)
	}
	return s.write(body)
}

// Done writes the terminating sentinel frame.
func (s *Writer) Done() error {
	return s.write([]byte(DoneSentinel))
}

func (s *Writer) write(payload []byte) error {
	if s == nil || s.w == nil {
		return errors.New("sse writer not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	frame := make([]byte, 0, len(payload)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, payload...)
	frame = append(frame, '\n', '\n')

	if _, err := s.w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if s.flush != nil {
		s.flush()
	}
	return nil
}
