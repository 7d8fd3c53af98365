package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/wikichat/internal/config"
	chatErrors "github.com/harunnryd/wikichat/internal/errors"
	"github.com/harunnryd/wikichat/internal/logger"
	"github.com/harunnryd/wikichat/internal/model/contract"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Connector opens one tool session per chat request. Sessions are never pooled.
type Connector interface {
	Connect(ctx context.Context) (Session, error)
}

// Session is a live connection to the tool process.
type Session interface {
	ListTools(ctx context.Context) ([]contract.ToolDef, error)
	CallTool(ctx context.Context, name string, input json.RawMessage) (json.RawMessage, error)
	Close() error
}

type MCPConnector struct {
	command       string
	clientName    string
	clientVersion string
	callTimeout   time.Duration
}

func NewMCPConnector(cfg config.ToolConfig) (*MCPConnector, error) {
	callTimeout, err := config.OptionalDuration(cfg.CallTimeout)
	if err != nil {
		return nil, chatErrors.InvalidInput(fmt.Sprintf("tool.call_timeout: %v", err))
	}
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, chatErrors.InvalidInput("tool.command is required")
	}

	return &MCPConnector{
		command:       cfg.Command,
		clientName:    cfg.ClientName,
		clientVersion: cfg.ClientVersion,
		callTimeout:   callTimeout,
	}, nil
}

// Connect launches the tool process and completes the MCP handshake. Any failure here is a
// connection failure and nothing needs closing.
func (c *MCPConnector) Connect(ctx context.Context) (Session, error) {
	transport, err := transportBuilder(ctx, c.command)
	if err != nil {
		return nil, chatErrors.ToolConnection(err, "build transport")
	}

	client := mcp.NewClient(&mcp.Implementation{Name: c.clientName, Version: c.clientVersion}, nil)
	start := time.Now()
	cs, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, chatErrors.ToolConnection(err, "mcp handshake")
	}

	logger.FromContext(ctx).Debug("Tool session connected", "command", c.command, "duration", time.Since(start))
	return &MCPSession{session: cs, callTimeout: c.callTimeout}, nil
}

type MCPSession struct {
	mu          sync.Mutex
	session     *mcp.ClientSession
	callTimeout time.Duration
}

// ListTools pages through the advertised tools. Discovery is part of the handshake, so a
// failure is reported as a connection error.
func (s *MCPSession) ListTools(ctx context.Context) ([]contract.ToolDef, error) {
	cs := s.current()
	if cs == nil {
		return nil, chatErrors.ToolConnection(errors.New("session closed"), "list tools")
	}

	var defs []contract.ToolDef
	for t, err := range cs.Tools(ctx, nil) {
		if err != nil {
			return nil, chatErrors.ToolConnection(err, "list tools")
		}
		defs = append(defs, toToolDef(t))
	}
	return defs, nil
}

// CallTool invokes one tool and returns the raw JSON content array of its result. Results the
// server flags as errors are returned as invocation errors carrying the result text.
func (s *MCPSession) CallTool(ctx context.Context, name string, input json.RawMessage) (json.RawMessage, error) {
	cs := s.current()
	if cs == nil {
		return nil, chatErrors.ToolInvocation(errors.New("session closed"), "call "+name)
	}

	if s.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.callTimeout)
		defer cancel()
	}

	var args any = map[string]any{}
	if len(input) > 0 {
		args = input
	}

	start := time.Now()
	res, err := cs.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s", s.callTimeout)
		}
		return nil, chatErrors.ToolInvocation(err, "call "+name)
	}
	if res.IsError {
		return nil, chatErrors.ToolInvocation(errors.New(contentText(res.Content)), "call "+name)
	}

	content := res.Content
	if content == nil {
		content = []mcp.Content{}
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, chatErrors.ToolInvocation(err, "encode result of "+name)
	}

	logger.FromContext(ctx).Debug("Tool call finished", "tool", name, "duration", time.Since(start), "bytes", len(raw))
	return raw, nil
}

// Close ends the session and stops the tool process. Safe to call more than once and on a nil
// session.
func (s *MCPSession) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	cs := s.session
	s.session = nil
	s.mu.Unlock()

	if cs == nil {
		return nil
	}
	if err := cs.Close(); err != nil {
		slog.Debug("Tool session close failed", "error", err)
		return err
	}
	return nil
}

func (s *MCPSession) current() *mcp.ClientSession {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

func toToolDef(t *mcp.Tool) contract.ToolDef {
	if t == nil {
		return contract.ToolDef{}
	}
	return contract.ToolDef{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: toSchemaMap(t.InputSchema),
	}
}

// toSchemaMap normalizes the schema the SDK decoded (map, raw JSON or a typed schema) into a
// plain map so providers can forward it.
func toSchemaMap(schema any) map[string]interface{} {
	switch v := schema.(type) {
	case nil:
		return nil
	case map[string]interface{}:
		return v
	}

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func contentText(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		if text, ok := c.(*mcp.TextContent); ok && text.Text != "" {
			parts = append(parts, text.Text)
		}
	}
	if len(parts) == 0 {
		return "tool reported an error"
	}
	return strings.Join(parts, "\n")
}
