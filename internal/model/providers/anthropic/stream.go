package anthropic

import (
	"fmt"

	"github.com/harunnryd/wikichat/internal/model/contract"

	anthropic "github.com/anthropics/anthropic-sdk-go"
)

// eventSource is the part of the SDK's SSE stream the adapter needs.
type eventSource interface {
	Next() bool
	Current() anthropic.MessageStreamEventUnion
	Err() error
	Close() error
}

type stream struct {
	src     eventSource
	current contract.StreamEvent
}

func (s *stream) Next() bool {
	for s.src.Next() {
		if ev, ok := translate(s.src.Current()); ok {
			s.current = ev
			return true
		}
	}
	return false
}

func (s *stream) Event() contract.StreamEvent {
	return s.current
}

func (s *stream) Err() error {
	if err := s.src.Err(); err != nil {
		return fmt.Errorf("anthropic stream failed: %w", err)
	}
	return nil
}

func (s *stream) Close() error {
	return s.src.Close()
}

// translate maps an SDK event onto the provider-neutral contract. Events the chat loop does
// not act on (message_start, content_block_stop, message_stop, ping) are dropped.
func translate(event anthropic.MessageStreamEventUnion) (contract.StreamEvent, bool) {
	switch ev := event.AsAny().(type) {
	case anthropic.ContentBlockStartEvent:
		out := contract.StreamEvent{
			Type:      contract.EventBlockStart,
			Index:     int(ev.Index),
			BlockType: ev.ContentBlock.Type,
		}
		if block, ok := ev.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
			out.BlockType = contract.BlockToolUse
			out.ID = block.ID
			out.Name = block.Name
		}
		return out, true

	case anthropic.ContentBlockDeltaEvent:
		switch delta := ev.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			return contract.StreamEvent{Type: contract.EventTextDelta, Index: int(ev.Index), Text: delta.Text}, true
		case anthropic.InputJSONDelta:
			return contract.StreamEvent{Type: contract.EventInputDelta, Index: int(ev.Index), PartialJSON: delta.PartialJSON}, true
		}

	case anthropic.MessageDeltaEvent:
		return contract.StreamEvent{Type: contract.EventMessageDelta, StopReason: string(ev.Delta.StopReason)}, true
	}

	return contract.StreamEvent{}, false
}
