package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/harunnryd/wikichat/internal/model/contract"

	"github.com/sashabaranov/go-openai"
)

// Provider streams chat completions from OpenAI-compatible endpoints (OpenAI, Ollama).
type Provider struct {
	client *openai.Client
	name   string
}

func New(name, apiKey, baseURL string) *Provider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}

	return &Provider{client: openai.NewClientWithConfig(cfg), name: name}
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) Stream(ctx context.Context, req contract.StreamRequest) (contract.Stream, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		Messages:  toChatMessages(req.System, req.Messages),
		Tools:     toTools(req.Tools),
	}

	s, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("openai request failed: %w", err)
	}
	return &stream{src: s}, nil
}

func toChatMessages(system string, msgs []contract.Message) []openai.ChatCompletionMessage {
	var out []openai.ChatCompletionMessage
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}

	for _, m := range msgs {
		if m.Role == contract.RoleAssistant {
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Text()}
			for _, b := range m.Blocks {
				if b.Type != contract.BlockToolUse {
					continue
				}
				args := string(b.Input)
				if args == "" {
					args = "{}"
				}
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:       b.ID,
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: b.Name, Arguments: args},
				})
			}
			out = append(out, msg)
			continue
		}

		// Tool results travel as one "tool" message each; any plain text stays a user message.
		if text := m.Text(); text != "" {
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: text})
		}
		for _, b := range m.Blocks {
			if b.Type == contract.BlockToolResult {
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    b.Result,
					ToolCallID: b.ToolUseID,
				})
			}
		}
	}
	return out
}

func toTools(defs []contract.ToolDef) []openai.Tool {
	var tools []openai.Tool
	for _, t := range defs {
		params := t.InputSchema
		if params == nil {
			params = map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			}
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return tools
}

type chunkSource interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
	Close() error
}

// stream flattens chat completion chunks into contract events. A single chunk can carry text,
// several tool call fragments and a finish reason, so translated events are queued.
type stream struct {
	src     chunkSource
	pending []contract.StreamEvent
	current contract.StreamEvent
	err     error
	done    bool
}

func (s *stream) Next() bool {
	for len(s.pending) == 0 {
		if s.done {
			return false
		}
		resp, err := s.src.Recv()
		if errors.Is(err, io.EOF) {
			s.done = true
			return false
		}
		if err != nil {
			s.err = fmt.Errorf("openai stream failed: %w", err)
			s.done = true
			return false
		}
		s.pending = translate(resp)
	}

	s.current = s.pending[0]
	s.pending = s.pending[1:]
	return true
}

func (s *stream) Event() contract.StreamEvent {
	return s.current
}

func (s *stream) Err() error {
	return s.err
}

func (s *stream) Close() error {
	return s.src.Close()
}

// Tool calls are offset by one so index 0 stays the text block, matching the Anthropic layout.
func translate(resp openai.ChatCompletionStreamResponse) []contract.StreamEvent {
	var events []contract.StreamEvent
	for _, choice := range resp.Choices {
		if choice.Delta.Content != "" {
			events = append(events, contract.StreamEvent{Type: contract.EventTextDelta, Text: choice.Delta.Content})
		}
		for i, call := range choice.Delta.ToolCalls {
			index := i
			if call.Index != nil {
				index = *call.Index
			}
			index++
			if call.ID != "" {
				events = append(events, contract.StreamEvent{
					Type:      contract.EventBlockStart,
					Index:     index,
					BlockType: contract.BlockToolUse,
					ID:        call.ID,
					Name:      call.Function.Name,
				})
			}
			if call.Function.Arguments != "" {
				events = append(events, contract.StreamEvent{
					Type:        contract.EventInputDelta,
					Index:       index,
					PartialJSON: call.Function.Arguments,
				})
			}
		}
		if choice.FinishReason != "" {
			events = append(events, contract.StreamEvent{
				Type:       contract.EventMessageDelta,
				StopReason: stopReason(choice.FinishReason),
			})
		}
	}
	return events
}

func stopReason(reason openai.FinishReason) string {
	switch reason {
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return contract.StopToolUse
	case openai.FinishReasonStop:
		return contract.StopEndTurn
	case openai.FinishReasonLength:
		return contract.StopMaxTokens
	default:
		return string(reason)
	}
}
