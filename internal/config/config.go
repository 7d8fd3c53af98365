package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	chatErrors "github.com/harunnryd/wikichat/internal/errors"
	"github.com/harunnryd/wikichat/internal/pathutil"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Model        ModelConfig        `koanf:"model"`
	Tool         ToolConfig         `koanf:"tool"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Client       ClientConfig       `koanf:"client"`
	Runtime      RuntimeConfig      `koanf:"runtime"`
}

type ServerConfig struct {
	Port            int    `koanf:"port"`
	LogLevel        string `koanf:"log_level"`
	ReadTimeout     string `koanf:"read_timeout"`
	WriteTimeout    string `koanf:"write_timeout"`
	IdleTimeout     string `koanf:"idle_timeout"`
	ShutdownTimeout string `koanf:"shutdown_timeout"`
}

type ModelConfig struct {
	Provider     string `koanf:"provider"`
	Name         string `koanf:"name"`
	BaseURL      string `koanf:"base_url"`
	APIKey       string `koanf:"api_key"`
	MaxTokens    int    `koanf:"max_tokens"`
	SystemPrompt string `koanf:"system_prompt"`
}

// ToolConfig describes the external tool process launched once per chat request.
type ToolConfig struct {
	Command       string `koanf:"command"`
	ClientName    string `koanf:"client_name"`
	ClientVersion string `koanf:"client_version"`
	CallTimeout   string `koanf:"call_timeout"`
}

type OrchestratorConfig struct {
	MaxRounds    int    `koanf:"max_rounds"`
	ModelTimeout string `koanf:"model_timeout"`
}

type ClientConfig struct {
	ServerURL string `koanf:"server_url"`
}

// RuntimeConfig locates the directory where a running server publishes its address.
type RuntimeConfig struct {
	Dir         string `koanf:"dir"`
	LockTimeout string `koanf:"lock_timeout"`
	LockRetry   string `koanf:"lock_retry"`
}

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderGemini    = "gemini"
)

const (
	EnvPrefix                       = "WIKICHAT_"
	DefaultServerPort               = 8080
	DefaultServerLogLevel           = "info"
	DefaultServerReadTimeout        = "10s"
	DefaultServerWriteTimeout       = "0s" // streams stay open for the whole tool loop
	DefaultServerIdleTimeout        = "60s"
	DefaultServerShutdownTimeout    = "5s"
	DefaultModelProvider            = ProviderAnthropic
	DefaultModelName                = "claude-sonnet-4-5"
	DefaultModelMaxTokens           = 4096
	DefaultOpenAIBaseURL            = "https://api.openai.com/v1"
	DefaultOllamaBaseURL            = "http://localhost:11434/v1"
	DefaultOllamaAPIKey             = "ollama"
	DefaultToolCommand              = "npx -y wikipedia-mcp"
	DefaultToolClientName           = "wikipedia-chat-client"
	DefaultToolClientVersion        = "1.0.0"
	DefaultToolCallTimeout          = ""
	DefaultOrchestratorMaxRounds    = 10
	DefaultOrchestratorModelTimeout = ""
	DefaultClientServerURL          = "http://localhost:8080"
	DefaultRuntimeDir               = "~/.wikichat"
	DefaultRuntimeLockTimeout       = "1s"
	DefaultRuntimeLockRetry         = "100ms"
)

func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	// .env next to the binary, as the web app did; existing env vars win.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Debug("Ignoring unreadable .env file", "error", err)
	}

	defaults := map[string]interface{}{
		"server.port":                DefaultServerPort,
		"server.log_level":           DefaultServerLogLevel,
		"server.read_timeout":        DefaultServerReadTimeout,
		"server.write_timeout":       DefaultServerWriteTimeout,
		"server.idle_timeout":        DefaultServerIdleTimeout,
		"server.shutdown_timeout":    DefaultServerShutdownTimeout,
		"model.provider":             DefaultModelProvider,
		"model.name":                 DefaultModelName,
		"model.max_tokens":           DefaultModelMaxTokens,
		"tool.command":               DefaultToolCommand,
		"tool.client_name":           DefaultToolClientName,
		"tool.client_version":        DefaultToolClientVersion,
		"tool.call_timeout":          DefaultToolCallTimeout,
		"orchestrator.max_rounds":    DefaultOrchestratorMaxRounds,
		"orchestrator.model_timeout": DefaultOrchestratorModelTimeout,
		"client.server_url":          DefaultClientServerURL,
		"runtime.dir":                DefaultRuntimeDir,
		"runtime.lock_timeout":       DefaultRuntimeLockTimeout,
		"runtime.lock_retry":         DefaultRuntimeLockRetry,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	configPath := ""
	if cmd != nil {
		if flag := cmd.Flags().Lookup("config"); flag != nil {
			configPath = strings.TrimSpace(flag.Value.String())
		}
	}

	if configPath != "" {
		resolved, err := pathutil.Expand(configPath)
		if err != nil {
			return nil, err
		}
		if err := k.Load(file.Provider(resolved), yaml.Parser()); err != nil {
			return nil, err
		}
	} else {
		home, err := pathutil.HomeDir()
		if err == nil {
			globalPath := filepath.Join(home, ".wikichat", "config.yaml")
			if err := k.Load(file.Provider(globalPath), yaml.Parser()); err != nil {
				slog.Debug("Global config not found or invalid", "path", globalPath, "error", err)
			}
		}
	}

	// WIKICHAT_MODEL_BASE_URL -> model.base_url
	k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".", 1)
	}), nil)

	if cmd != nil {
		k.Load(posflag.Provider(cmd.Flags(), ".", k), nil)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Model.Provider = strings.ToLower(strings.TrimSpace(cfg.Model.Provider))
	injectProviderDefaults(&cfg.Model)

	return &cfg, nil
}

// injectProviderDefaults fills the API key and base URL from the provider's standard env vars.
func injectProviderDefaults(m *ModelConfig) {
	switch m.Provider {
	case ProviderAnthropic:
		if m.APIKey == "" {
			m.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	case ProviderOpenAI:
		if m.APIKey == "" {
			m.APIKey = os.Getenv("OPENAI_API_KEY")
		}
		if m.BaseURL == "" {
			m.BaseURL = DefaultOpenAIBaseURL
		}
	case ProviderGemini:
		if m.APIKey == "" {
			m.APIKey = os.Getenv("GEMINI_API_KEY")
		}
	case ProviderOllama:
		if m.APIKey == "" {
			m.APIKey = DefaultOllamaAPIKey
		}
		if m.BaseURL == "" {
			m.BaseURL = DefaultOllamaBaseURL
		}
	}
}

// Validate checks the values the server needs before it accepts requests.
func (c *Config) Validate() error {
	switch c.Model.Provider {
	case ProviderAnthropic, ProviderOpenAI, ProviderOllama, ProviderGemini:
	default:
		return chatErrors.InvalidInput(fmt.Sprintf("unknown model provider %q", c.Model.Provider))
	}
	if strings.TrimSpace(c.Model.Name) == "" {
		return chatErrors.InvalidInput("model.name is required")
	}
	if c.Model.MaxTokens <= 0 {
		return chatErrors.InvalidInput("model.max_tokens must be positive")
	}
	if strings.TrimSpace(c.Tool.Command) == "" {
		return chatErrors.InvalidInput("tool.command is required")
	}
	if c.Orchestrator.MaxRounds <= 0 {
		return chatErrors.InvalidInput("orchestrator.max_rounds must be positive")
	}
	if _, err := OptionalDuration(c.Tool.CallTimeout); err != nil {
		return chatErrors.InvalidInput(fmt.Sprintf("tool.call_timeout: %v", err))
	}
	if _, err := OptionalDuration(c.Orchestrator.ModelTimeout); err != nil {
		return chatErrors.InvalidInput(fmt.Sprintf("orchestrator.model_timeout: %v", err))
	}
	if _, err := DurationOrDefault(c.Runtime.LockTimeout, DefaultRuntimeLockTimeout); err != nil {
		return chatErrors.InvalidInput(fmt.Sprintf("runtime.lock_timeout: %v", err))
	}
	return nil
}
