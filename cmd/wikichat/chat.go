package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/harunnryd/wikichat/internal/chatview"
	"github.com/harunnryd/wikichat/internal/client"
	"github.com/harunnryd/wikichat/internal/config"

	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session against a wikichat server",
	RunE: func(cmd *cobra.Command, args []string) error {
		sig := NewSignalHandler(cmd.Context())
		sig.Start()
		defer sig.Stop()

		repl := NewREPL(client.New(serverURL(cfg), nil), cmd.InOrStdin(), cmd.OutOrStdout())
		return repl.Start(sig.Context())
	},
}

// REPL keeps the conversation state between turns; the whole transcript is posted every turn.
type REPL struct {
	client *client.Client
	reader *bufio.Reader
	out    io.Writer
	state  chatview.State
}

func NewREPL(c *client.Client, in io.Reader, out io.Writer) *REPL {
	return &REPL{client: c, reader: bufio.NewReader(in), out: out}
}

func (r *REPL) Start(ctx context.Context) error {
	fmt.Fprintln(r.out, titleStyle.Render("Wikipedia chat"))
	fmt.Fprintln(r.out, "Type '/exit' to quit, '/reset' to start over.")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := r.readLine(ctx); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			slog.Debug("Chat turn failed", "error", err)
		}
	}
}

func (r *REPL) readLine(ctx context.Context) error {
	fmt.Fprint(r.out, promptStyle.Render("> "))
	text, err := r.reader.ReadString('\n')
	if err != nil && (text == "" || !errors.Is(err, io.EOF)) {
		return err
	}

	text = strings.TrimSpace(text)
	switch text {
	case "":
		return err
	case "/exit":
		return io.EOF
	case "/reset":
		r.state = chatview.State{}
		fmt.Fprintln(r.out, "Conversation cleared.")
		return nil
	}

	printer := newStreamPrinter(r.out, len(r.state.Messages)+1)
	state, sendErr := r.client.Send(ctx, r.state, text, printer.Update)
	printer.Update(state)
	printer.Finish()
	r.state = state
	if sendErr != nil {
		return sendErr
	}
	return err
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().String("client.server_url", config.DefaultClientServerURL, "wikichat server URL")
}
