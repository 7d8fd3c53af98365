package chatview

import (
	"encoding/json"

	"github.com/harunnryd/wikichat/internal/model/contract"
	"github.com/harunnryd/wikichat/internal/sse"

	"github.com/oklog/ulid/v2"
)

// TransportErrorMessage is shown when the request itself fails, as opposed to an error event
// reported inside the stream.
const TransportErrorMessage = "Sorry, an error occurred while processing your request."

type ToolUse struct {
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// Message is one entry of the conversation as the user sees it.
type Message struct {
	Role       string   `json:"role"`
	Content    string   `json:"content"`
	ToolUse    *ToolUse `json:"tool_use,omitempty"`
	ResponseID string   `json:"response_id,omitempty"`
	IsError    bool     `json:"is_error,omitempty"`
}

// State is the whole client view. Reduce never mutates a State it was given; every transition
// returns a new value that shares no mutable data with the old one.
type State struct {
	Messages []Message

	// ResponseID identifies the response currently streaming. The assistant message it owns is
	// found by this key, never by its position in Messages.
	ResponseID string
	// Buffer holds all text received for the current response.
	Buffer      string
	ToolResults []json.RawMessage
	Streaming   bool
	Finished    bool
}

// Begin appends the user's message and opens a new response.
func Begin(s State, userText string) State {
	next := s.clone()
	next.Messages = append(next.Messages, Message{Role: contract.RoleUser, Content: userText})
	next.ResponseID = ulid.Make().String()
	next.Buffer = ""
	next.ToolResults = nil
	next.Streaming = true
	next.Finished = false
	return next
}

// Reduce applies one stream event.
func Reduce(s State, evt sse.Event) State {
	next := s.clone()
	if next.ResponseID == "" && (evt.Type == sse.TypeText || evt.Type == sse.TypeToolUse) {
		next.ResponseID = ulid.Make().String()
	}

	switch evt.Type {
	case sse.TypeText:
		next.Buffer += evt.ContentText()
		i := next.responseIndex()
		if i < 0 {
			next.Messages = append(next.Messages, Message{Role: contract.RoleAssistant, ResponseID: next.ResponseID})
			i = len(next.Messages) - 1
		}
		next.Messages[i].Content = next.Buffer

	case sse.TypeToolUse:
		use := &ToolUse{Name: evt.Name, Input: append(json.RawMessage(nil), evt.Input...)}
		i := next.responseIndex()
		if i < 0 {
			next.Messages = append(next.Messages, Message{
				Role:       contract.RoleAssistant,
				Content:    next.Buffer,
				ResponseID: next.ResponseID,
			})
			i = len(next.Messages) - 1
		}
		next.Messages[i].ToolUse = use

	case sse.TypeToolResult:
		next.ToolResults = append(next.ToolResults, append(json.RawMessage(nil), evt.Content...))

	case sse.TypeError:
		next.Messages = append(next.Messages, Message{
			Role:    contract.RoleAssistant,
			Content: "Error: " + evt.ContentText(),
			IsError: true,
		})
	}

	return next
}

// Finish marks the current response complete.
func Finish(s State) State {
	next := s.clone()
	next.Streaming = false
	next.Finished = true
	return next
}

// Fail records a failed request and closes the response.
func Fail(s State) State {
	next := s.clone()
	next.Messages = append(next.Messages, Message{
		Role:    contract.RoleAssistant,
		Content: TransportErrorMessage,
		IsError: true,
	})
	next.Streaming = false
	next.Finished = true
	return next
}

// Transcript is the message list posted to the server: role and content only.
func Transcript(s State) []contract.Message {
	out := make([]contract.Message, 0, len(s.Messages))
	for _, m := range s.Messages {
		out = append(out, contract.TextMessage(m.Role, m.Content))
	}
	return out
}

// Last returns the most recent message, if any.
func (s State) Last() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

func (s State) responseIndex() int {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		m := s.Messages[i]
		if m.ResponseID == s.ResponseID && m.Role == contract.RoleAssistant && !m.IsError {
			return i
		}
	}
	return -1
}

func (s State) clone() State {
	next := s
	next.Messages = make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		if m.ToolUse != nil {
			use := *m.ToolUse
			m.ToolUse = &use
		}
		next.Messages[i] = m
	}
	next.ToolResults = append([]json.RawMessage(nil), s.ToolResults...)
	return next
}
