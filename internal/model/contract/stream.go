package contract

const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
	StopSequence  = "stop_sequence"
)

type StreamEventType string

const (
	EventBlockStart   StreamEventType = "block_start"
	EventTextDelta    StreamEventType = "text_delta"
	EventInputDelta   StreamEventType = "input_delta"
	EventMessageDelta StreamEventType = "message_delta"
)

// StreamEvent is the provider-neutral decoding of one model stream event.
//
//	block_start:   Index, BlockType, ID, Name (ID and Name only for tool_use blocks)
//	text_delta:    Index, Text
//	input_delta:   Index, PartialJSON
//	message_delta: StopReason
type StreamEvent struct {
	Type        StreamEventType
	Index       int
	BlockType   string
	ID          string
	Name        string
	Text        string
	PartialJSON string
	StopReason  string
}

type StreamRequest struct {
	Model     string
	System    string
	MaxTokens int
	Messages  []Message
	Tools     []ToolDef
}

// Stream is an iterator over one model response. Next blocks until an event is available and
// returns false at the end of the stream or on error; Err reports which.
type Stream interface {
	Next() bool
	Event() StreamEvent
	Err() error
	Close() error
}

// SliceStream replays a fixed event list. Used by fakes and tests.
type SliceStream struct {
	Events []StreamEvent
	Fail   error
	pos    int
	closed bool
}

func (s *SliceStream) Next() bool {
	if s.closed || s.pos >= len(s.Events) {
		return false
	}
	s.pos++
	return true
}

func (s *SliceStream) Event() StreamEvent {
	if s.pos == 0 {
		return StreamEvent{}
	}
	return s.Events[s.pos-1]
}

func (s *SliceStream) Err() error {
	if s.pos >= len(s.Events) {
		return s.Fail
	}
	return nil
}

func (s *SliceStream) Close() error {
	s.closed = true
	return nil
}

func (s *SliceStream) Closed() bool {
	return s.closed
}
