package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/harunnryd/wikichat/internal/config"
	"github.com/harunnryd/wikichat/internal/ingress"
	"github.com/harunnryd/wikichat/internal/model"
	"github.com/harunnryd/wikichat/internal/orchestrator"
	"github.com/harunnryd/wikichat/internal/store"
	"github.com/harunnryd/wikichat/internal/tool"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the streaming chat endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}

		loop, err := buildLoop(cfg)
		if err != nil {
			return err
		}

		server, err := ingress.NewHTTPServer(cfg.Server, loop)
		if err != nil {
			return fmt.Errorf("init http server: %w", err)
		}

		runtime, err := store.NewRuntime(cfg.Runtime)
		if err != nil {
			return err
		}
		if err := runtime.Acquire(cmd.Context()); err != nil {
			return err
		}
		defer runtime.Release()

		sig := NewSignalHandler(cmd.Context())
		sig.Start()
		defer sig.Stop()

		if err := server.Start(); err != nil {
			return err
		}
		info := store.ServerInfo{PID: os.Getpid(), Addr: server.Addr(), URL: advertisedURL(server.Addr()), StartedAt: time.Now().UTC()}
		if err := runtime.Publish(info); err != nil {
			slog.Warn("Failed to publish server info", "dir", runtime.Dir(), "error", err)
		}
		slog.Info("wikichat ready", "url", info.URL, "provider", cfg.Model.Provider, "model", cfg.Model.Name, "tool", cfg.Tool.Command)

		<-sig.Context().Done()
		return server.Stop(context.Background())
	},
}

// advertisedURL turns a listener address into a URL local clients can dial.
func advertisedURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func buildLoop(cfg *config.Config) (*orchestrator.Loop, error) {
	provider, err := model.New(cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("init model provider: %w", err)
	}
	connector, err := tool.NewMCPConnector(cfg.Tool)
	if err != nil {
		return nil, fmt.Errorf("init tool connector: %w", err)
	}
	return orchestrator.NewLoopFromConfig(cfg, provider, connector)
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Int("server.port", config.DefaultServerPort, "server port")
	serveCmd.Flags().String("model.provider", config.DefaultModelProvider, "model provider (anthropic, openai, ollama, gemini)")
	serveCmd.Flags().String("model.name", config.DefaultModelName, "model name")
	serveCmd.Flags().String("tool.command", config.DefaultToolCommand, "command line (or http URL) of the MCP tool server")
	serveCmd.Flags().Int("orchestrator.max_rounds", config.DefaultOrchestratorMaxRounds, "maximum tool rounds per request")
}
