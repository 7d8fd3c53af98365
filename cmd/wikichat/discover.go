package main

import (
	"log/slog"

	"github.com/harunnryd/wikichat/internal/config"
	"github.com/harunnryd/wikichat/internal/store"
)

// serverURL prefers an explicitly configured URL, then the address published by a local
// `wikichat serve`, then the default.
func serverURL(cfg *config.Config) string {
	if cfg.Client.ServerURL != "" && cfg.Client.ServerURL != config.DefaultClientServerURL {
		return cfg.Client.ServerURL
	}

	runtime, err := store.NewRuntime(cfg.Runtime)
	if err != nil {
		slog.Debug("Server discovery unavailable", "error", err)
		return config.DefaultClientServerURL
	}
	info, err := runtime.Lookup()
	if err != nil || info.URL == "" {
		slog.Debug("No published server", "dir", runtime.Dir(), "error", err)
		return config.DefaultClientServerURL
	}

	slog.Debug("Using published server", "url", info.URL, "pid", info.PID)
	return info.URL
}
