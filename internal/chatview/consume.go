package chatview

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	chatErrors "github.com/harunnryd/wikichat/internal/errors"
	"github.com/harunnryd/wikichat/internal/sse"
)

// Consume reads a response stream into the state, calling onUpdate after every applied event.
// It returns when the [DONE] frame arrives or the stream ends; either way the returned state is
// finished. Malformed frames are skipped.
func Consume(ctx context.Context, r io.Reader, s State, onUpdate func(State)) (State, error) {
	dec := sse.NewDecoder(r)

	for {
		if err := ctx.Err(); err != nil {
			return Finish(s), err
		}

		frame, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return Finish(s), nil
		}
		if errors.Is(err, chatErrors.ErrMalformedFrame) {
			slog.Debug("Skipping malformed frame", "error", err)
			continue
		}
		if err != nil {
			return Finish(s), fmt.Errorf("consume stream: %w", err)
		}

		if frame.Done {
			s = Finish(s)
			if onUpdate != nil {
				onUpdate(s)
			}
			return s, nil
		}

		s = Reduce(s, frame.Event)
		if onUpdate != nil {
			onUpdate(s)
		}
	}
}
