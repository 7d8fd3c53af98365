package main

import (
	"strings"

	"github.com/harunnryd/wikichat/internal/chatview"
	"github.com/harunnryd/wikichat/internal/client"
	"github.com/harunnryd/wikichat/internal/config"

	"github.com/spf13/cobra"
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask one question and stream the answer",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sig := NewSignalHandler(cmd.Context())
		sig.Start()
		defer sig.Stop()

		c := client.New(serverURL(cfg), nil)
		printer := newStreamPrinter(cmd.OutOrStdout(), 1)

		state, err := c.Send(sig.Context(), chatview.State{}, strings.Join(args, " "), printer.Update)
		printer.Update(state)
		printer.Finish()
		return err
	},
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().String("client.server_url", config.DefaultClientServerURL, "wikichat server URL")
}
