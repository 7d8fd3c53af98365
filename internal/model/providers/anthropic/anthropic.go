package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/harunnryd/wikichat/internal/model/contract"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type Provider struct {
	client anthropic.Client
}

// New builds a provider for the Messages API. Retries are disabled: a failed round fails
// the chat request.
func New(apiKey, baseURL string, opts ...option.RequestOption) *Provider {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	reqOpts = append(reqOpts, opts...)

	return &Provider{client: anthropic.NewClient(reqOpts...)}
}

func (p *Provider) Name() string {
	return "anthropic"
}

func (p *Provider) Stream(ctx context.Context, req contract.StreamRequest) (contract.Stream, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
		Messages:  toMessageParams(req.Messages),
		Tools:     toToolParams(req.Tools),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(params.Messages) == 0 {
		return nil, fmt.Errorf("anthropic request has no messages")
	}

	return &stream{src: p.client.Messages.NewStreaming(ctx, params)}, nil
}

func toMessageParams(msgs []contract.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		var blocks []anthropic.ContentBlockParamUnion
		if m.Content != "" {
			blocks = append(blocks, anthropic.NewTextBlock(m.Content))
		}
		for _, b := range m.Blocks {
			switch b.Type {
			case contract.BlockText:
				if b.Text != "" {
					blocks = append(blocks, anthropic.NewTextBlock(b.Text))
				}
			case contract.BlockToolUse:
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    b.ID,
						Name:  b.Name,
						Input: toolInput(b.Input),
					},
				})
			case contract.BlockToolResult:
				blocks = append(blocks, anthropic.NewToolResultBlock(b.ToolUseID, b.Result, b.IsError))
			}
		}
		// The API rejects empty content; such messages carry nothing for the model anyway.
		if len(blocks) == 0 {
			continue
		}

		if m.Role == contract.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

func toolInput(raw json.RawMessage) any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	return raw
}

func toToolParams(defs []contract.ToolDef) []anthropic.ToolUnionParam {
	var tools []anthropic.ToolUnionParam
	for _, t := range defs {
		tool := anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: toInputSchema(t.InputSchema),
		}
		tools = append(tools, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return tools
}

// toInputSchema forwards an MCP input schema. Keys other than properties/required travel as
// extra fields so the schema reaches the model unchanged.
func toInputSchema(schema map[string]interface{}) anthropic.ToolInputSchemaParam {
	param := anthropic.ToolInputSchemaParam{Properties: map[string]interface{}{}}
	extra := map[string]any{}
	for key, value := range schema {
		switch key {
		case "type":
		case "properties":
			if props, ok := value.(map[string]interface{}); ok {
				param.Properties = props
			}
		case "required":
			param.Required = toStrings(value)
		default:
			extra[key] = value
		}
	}
	if len(extra) > 0 {
		param.ExtraFields = extra
	}
	return param
}

func toStrings(value interface{}) []string {
	switch v := value.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
