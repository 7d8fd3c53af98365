package sse

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	chatErrors "github.com/harunnryd/wikichat/internal/errors"
)

// Frame is one decoded stream frame: either an event or the end-of-stream sentinel.
type Frame struct {
	Event Event
	Done  bool
}

// Decoder splits a byte stream into frames. Reads may end anywhere, including inside a frame;
// a frame is only decoded once its terminating blank line has arrived.
type Decoder struct {
	scanner *bufio.Scanner
	data    []string
}

func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 8<<20)
	return &Decoder{scanner: scanner}
}

// Next returns the next frame, io.EOF once the stream ends, or an ErrMalformedFrame error for a
// frame whose payload is not valid JSON. Malformed frames are consumed, so callers may keep
// calling Next to skip them.
func (d *Decoder) Next() (Frame, error) {
	for d.scanner.Scan() {
		line := strings.TrimRight(d.scanner.Text(), "\r")
		if line == "" {
			if len(d.data) == 0 {
				continue
			}
			return d.flush()
		}

		if strings.HasPrefix(line, ":") {
			continue
		}
		if strings.HasPrefix(line, "data:") {
			payload := strings.TrimPrefix(line, "data:")
			if strings.HasPrefix(payload, " ") {
				payload = payload[1:]
			}
			d.data = append(d.data, payload)
		}
	}

	if err := d.scanner.Err(); err != nil {
		return Frame{}, fmt.Errorf("read stream: %w", err)
	}
	// An unterminated trailing frame is incomplete and dropped.
	d.data = d.data[:0]
	return Frame{}, io.EOF
}

func (d *Decoder) flush() (Frame, error) {
	payload := strings.Join(d.data, "\n")
	d.data = d.data[:0]

	if strings.TrimSpace(payload) == DoneSentinel {
		return Frame{Done: true}, nil
	}

	var evt Event
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", chatErrors.ErrMalformedFrame, err)
	}
	return Frame{Event: evt}, nil
}
