package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"

	"github.com/harunnryd/wikichat/internal/model/contract"

	"github.com/oklog/ulid/v2"
	"google.golang.org/genai"
)

type Provider struct {
	client *genai.Client
}

func New(ctx context.Context, apiKey, baseURL string) (*Provider, error) {
	cfg := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if baseURL != "" {
		cfg.HTTPOptions.BaseURL = baseURL
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Provider{client: client}, nil
}

func (p *Provider) Name() string {
	return "gemini"
}

func (p *Provider) Stream(ctx context.Context, req contract.StreamRequest) (contract.Stream, error) {
	contents, err := toContents(req.Messages)
	if err != nil {
		return nil, err
	}
	if len(contents) == 0 {
		return nil, fmt.Errorf("gemini request has no messages")
	}

	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(req.MaxTokens),
		Tools:           toTools(req.Tools),
	}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}

	next, stop := iter.Pull2(p.client.Models.GenerateContentStream(ctx, req.Model, contents, cfg))
	return &stream{next: next, stop: stop}, nil
}

func toContents(msgs []contract.Message) ([]*genai.Content, error) {
	// Function responses must name the function; the transcript only carries the call ID.
	names := map[string]string{}
	out := make([]*genai.Content, 0, len(msgs))

	for _, m := range msgs {
		var parts []*genai.Part
		if text := m.Text(); text != "" {
			parts = append(parts, &genai.Part{Text: text})
		}

		for _, b := range m.Blocks {
			switch b.Type {
			case contract.BlockToolUse:
				args := map[string]any{}
				if len(b.Input) > 0 {
					if err := json.Unmarshal(b.Input, &args); err != nil {
						return nil, fmt.Errorf("tool call %s arguments: %w", b.ID, err)
					}
				}
				names[b.ID] = b.Name
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: b.ID, Name: b.Name, Args: args}})

			case contract.BlockToolResult:
				key := "output"
				if b.IsError {
					key = "error"
				}
				parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
					ID:       b.ToolUseID,
					Name:     names[b.ToolUseID],
					Response: map[string]any{key: b.Result},
				}})
			}
		}

		if len(parts) == 0 {
			continue
		}
		role := string(genai.RoleUser)
		if m.Role == contract.RoleAssistant {
			role = string(genai.RoleModel)
		}
		out = append(out, &genai.Content{Role: role, Parts: parts})
	}
	return out, nil
}

func toTools(defs []contract.ToolDef) []*genai.Tool {
	if len(defs) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, t := range defs {
		schema := t.InputSchema
		if schema == nil {
			schema = map[string]interface{}{"type": "object"}
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 t.Name,
			Description:          t.Description,
			ParametersJsonSchema: schema,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// stream turns response chunks into contract events. Gemini sends each function call whole, so
// a call becomes a block_start followed by a single input_delta.
type stream struct {
	next func() (*genai.GenerateContentResponse, error, bool)
	stop func()

	pending   []contract.StreamEvent
	current   contract.StreamEvent
	err       error
	done      bool
	calls     int
	sawCall   bool
	finishing string
}

func (s *stream) Next() bool {
	for len(s.pending) == 0 {
		if s.done {
			return false
		}
		resp, err, ok := s.next()
		if !ok {
			s.done = true
			if s.finishing != "" || s.sawCall {
				s.pending = append(s.pending, contract.StreamEvent{Type: contract.EventMessageDelta, StopReason: s.stopReason()})
				continue
			}
			return false
		}
		if err != nil {
			s.err = fmt.Errorf("gemini stream failed: %w", err)
			s.done = true
			return false
		}
		s.pending = s.translate(resp)
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
	s.stop()
	return nil
}

// Calls are offset by one so index 0 stays the text block.
func (s *stream) translate(resp *genai.GenerateContentResponse) []contract.StreamEvent {
	var events []contract.StreamEvent
	if resp == nil {
		return events
	}
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				switch {
				case part.FunctionCall != nil:
					s.calls++
					s.sawCall = true
					id := part.FunctionCall.ID
					if id == "" {
						id = "call_" + ulid.Make().String()
					}
					args, _ := json.Marshal(part.FunctionCall.Args)
					if part.FunctionCall.Args == nil {
						args = []byte("{}")
					}
					events = append(events,
						contract.StreamEvent{Type: contract.EventBlockStart, Index: s.calls, BlockType: contract.BlockToolUse, ID: id, Name: part.FunctionCall.Name},
						contract.StreamEvent{Type: contract.EventInputDelta, Index: s.calls, PartialJSON: string(args)},
					)
				case part.Text != "" && !part.Thought:
					events = append(events, contract.StreamEvent{Type: contract.EventTextDelta, Text: part.Text})
				}
			}
		}
		if cand.FinishReason != "" && cand.FinishReason != genai.FinishReasonUnspecified {
			s.finishing = string(cand.FinishReason)
		}
	}
	return events
}

// Gemini reports STOP even when it asks for functions.
func (s *stream) stopReason() string {
	switch {
	case s.sawCall:
		return contract.StopToolUse
	case s.finishing == string(genai.FinishReasonMaxTokens):
		return contract.StopMaxTokens
	case s.finishing == string(genai.FinishReasonStop):
		return contract.StopEndTurn
	default:
		return s.finishing
	}
}
