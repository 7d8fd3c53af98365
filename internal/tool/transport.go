package tool

import (
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"strings"

	"github.com/google/shlex"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// transportBuilder is overridden in tests to connect to an in-memory server.
var transportBuilder = buildTransport

// buildTransport turns the configured tool command into an MCP transport. A command line is
// launched as a child process speaking stdio; an http(s) URL is treated as a streamable HTTP
// endpoint.
func buildTransport(ctx context.Context, command string) (mcp.Transport, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, fmt.Errorf("tool command is empty")
	}

	lowered := strings.ToLower(command)
	if strings.HasPrefix(lowered, "http://") || strings.HasPrefix(lowered, "https://") {
		endpoint, err := url.Parse(command)
		if err != nil || endpoint.Host == "" {
			return nil, fmt.Errorf("invalid tool endpoint %q", command)
		}
		return &mcp.StreamableClientTransport{Endpoint: endpoint.String()}, nil
	}

	parts, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("split tool command: %w", err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("tool command is empty")
	}

	// #nosec G204 -- the command comes from operator configuration
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	return &mcp.CommandTransport{Command: cmd}, nil
}
