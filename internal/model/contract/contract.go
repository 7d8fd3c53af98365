package contract

import (
	"encoding/json"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// Message is one transcript entry. Client-posted messages carry plain Content; messages
// appended during a tool round carry Blocks instead.
type Message struct {
	Role    string         `json:"role"`
	Content string         `json:"content,omitempty"`
	Blocks  []ContentBlock `json:"blocks,omitempty"`
}

// ContentBlock is a tagged union over text, tool_use and tool_result blocks.
type ContentBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	ToolUseID string `json:"tool_use_id,omitempty"`
	Result    string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// ToolUseBlock is a tool request observed in the model stream. Input holds the last
// fully parseable version of the streamed arguments.
type ToolUseBlock struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult correlates a tool's output with the ToolUseBlock that requested it.
type ToolResult struct {
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error,omitempty"`
}

type ToolDef struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema,omitempty"`
}

func TextMessage(role, text string) Message {
	return Message{Role: role, Content: text}
}

// AssistantToolMessage builds the assistant half of a tool round: optional text, then every
// tool_use block in observation order.
func AssistantToolMessage(text string, uses []ToolUseBlock) Message {
	blocks := make([]ContentBlock, 0, len(uses)+1)
	if text != "" {
		blocks = append(blocks, ContentBlock{Type: BlockText, Text: text})
	}
	for _, u := range uses {
		blocks = append(blocks, ContentBlock{Type: BlockToolUse, ID: u.ID, Name: u.Name, Input: u.Input})
	}
	return Message{Role: RoleAssistant, Blocks: blocks}
}

// ToolResultMessage builds the user half of a tool round. Successful payloads are passed to the
// model as their JSON text; error payloads are plain strings.
func ToolResultMessage(results []ToolResult) Message {
	blocks := make([]ContentBlock, 0, len(results))
	for _, r := range results {
		blocks = append(blocks, ContentBlock{
			Type:      BlockToolResult,
			ToolUseID: r.ToolUseID,
			Result:    ResultText(r.Content),
			IsError:   r.IsError,
		})
	}
	return Message{Role: RoleUser, Blocks: blocks}
}

// ResultText renders a tool payload for the model: JSON strings are unquoted, anything else
// is kept as JSON text.
func ResultText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// Text concatenates the plain content and all text blocks of a message.
func (m Message) Text() string {
	out := m.Content
	for _, b := range m.Blocks {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}
