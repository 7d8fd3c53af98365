package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/harunnryd/wikichat/internal/chatview"
	"github.com/harunnryd/wikichat/internal/model/contract"

	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"
)

var (
	purple    = lipgloss.Color("99")
	gray      = lipgloss.Color("245")
	lightGray = lipgloss.Color("241")
	red       = lipgloss.Color("203")

	promptStyle = lipgloss.NewStyle().Foreground(purple).Bold(true)
	toolStyle   = lipgloss.NewStyle().Foreground(gray).Italic(true)
	errorStyle  = lipgloss.NewStyle().Foreground(red)
	titleStyle  = lipgloss.NewStyle().Foreground(purple).Bold(true)
)

// streamPrinter writes a response to the terminal as the reducer state grows: only the text
// not yet printed, plus one line per tool lookup and per error.
type streamPrinter struct {
	w          io.Writer
	responseID string
	printed    int
	lastTool   string
	seen       int
	midLine    bool
}

// newStreamPrinter prints messages after the first `known` ones, which are already on screen.
func newStreamPrinter(w io.Writer, known int) *streamPrinter {
	return &streamPrinter{w: w, seen: known}
}

func (p *streamPrinter) Update(s chatview.State) {
	if s.ResponseID != p.responseID {
		p.responseID = s.ResponseID
		p.printed = 0
		p.lastTool = ""
	}

	for i := p.seen; i < len(s.Messages); i++ {
		if m := s.Messages[i]; m.IsError {
			p.endLine()
			fmt.Fprintln(p.w, errorStyle.Render(m.Content))
		}
	}
	p.seen = len(s.Messages)

	for _, m := range s.Messages {
		if m.ResponseID != s.ResponseID || m.Role != contract.RoleAssistant || m.IsError {
			continue
		}
		if m.ToolUse != nil {
			if line := formatToolUse(m.ToolUse); line != p.lastTool {
				p.lastTool = line
				p.endLine()
				fmt.Fprintln(p.w, toolStyle.Render(line))
			}
		}
		if len(m.Content) > p.printed {
			fmt.Fprint(p.w, m.Content[p.printed:])
			p.printed = len(m.Content)
			p.midLine = !strings.HasSuffix(m.Content, "\n")
		}
	}
}

// Finish ends the response on a fresh line.
func (p *streamPrinter) Finish() {
	p.endLine()
}

func (p *streamPrinter) endLine() {
	if p.midLine {
		fmt.Fprintln(p.w)
		p.midLine = false
	}
}

func formatToolUse(use *chatview.ToolUse) string {
	input := strings.TrimSpace(string(use.Input))
	if input == "" {
		input = "{}"
	}
	return fmt.Sprintf("[looking up %s %s]", use.Name, input)
}

type toolRow struct {
	Name        string
	Description string
	Params      string
}

func formatToolTable(rows []toolRow) string {
	if len(rows) == 0 {
		return "No tools advertised"
	}

	headerStyle := lipgloss.NewStyle().Foreground(purple).Bold(true).Align(lipgloss.Center).Padding(0, 1)
	oddRowStyle := lipgloss.NewStyle().Foreground(gray).Padding(0, 1)
	evenRowStyle := lipgloss.NewStyle().Foreground(lightGray).Padding(0, 1)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(purple)).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case row%2 == 0:
				return evenRowStyle
			default:
				return oddRowStyle
			}
		}).
		Headers("Name", "Description", "Parameters")

	for _, r := range rows {
		t.Row(r.Name, truncate(r.Description, 60), truncate(r.Params, 30))
	}
	return t.String()
}

func truncate(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
