package sse

import (
	"encoding/json"
)

type EventType string

const (
	TypeText       EventType = "text"
	TypeToolUse    EventType = "tool_use"
	TypeToolResult EventType = "tool_result"
	TypeError      EventType = "error"
)

// DoneSentinel is the payload of the frame that terminates every stream.
const DoneSentinel = "[DONE]"

// Event is one frame payload sent to the client. Which fields are set depends on Type:
//
//	text:        Content (string)
//	tool_use:    Name, Input
//	tool_result: Content (the tool's JSON result)
//	error:       Content (string)
type Event struct {
	Type    EventType       `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
	Name    string          `json:"name,omitempty"`
	Input   json.RawMessage `json:"input,omitempty"`
}

func Text(text string) Event {
	return Event{Type: TypeText, Content: quote(text)}
}

func ToolUse(name string, input json.RawMessage) Event {
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	return Event{Type: TypeToolUse, Name: name, Input: input}
}

func ToolResult(content json.RawMessage) Event {
	if len(content) == 0 {
		content = json.RawMessage(`null`)
	}
	return Event{Type: TypeToolResult, Content: content}
}

func Error(message string) Event {
	return Event{Type: TypeError, Content: quote(message)}
}

// ContentText returns Content as a string. JSON strings are unquoted; other payloads come back as
// their JSON text.
func (e Event) ContentText() string {
	if len(e.Content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Content, &s); err == nil {
		return s
	}
	return string(e.Content)
}

func quote(s string) json.RawMessage {
	raw, _ := json.Marshal(s)
	return raw
}
