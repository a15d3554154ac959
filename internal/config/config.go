// Package config loads the gateway's static configuration: upstream
// endpoints, default models, server binding, and the pricing table used for
// verbose-mode cost reporting.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/rakunlabs/logi"
	"github.com/rakunlabs/tell"

	"github.com/rakunlabs/deepclaude-at/internal/compose"
	"github.com/rakunlabs/deepclaude-at/internal/upstream"
)

// envPrefix is the prefix this deployment's environment-variable overlay
// uses, mirroring the teacher's loaderenv.WithPrefix("AT_") convention.
const envPrefix = "AT_"

// Config is the full static configuration snapshot.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level"`

	// Mode selects the reasoning-forwarding policy: "normal" or "full".
	Mode string `toml:"mode"`

	Server   Server             `toml:"server"`
	Upstream Upstream           `toml:"upstream"`
	Pricing  map[string]Pricing `toml:"pricing"`

	// Telemetry is decoded from the [telemetry] table, matching the
	// teacher's top-level tell.Config embedding. The server installs the
	// mtelemetry middleware without reading this field.
	Telemetry tell.Config `toml:"telemetry"`
}

// Server configures the HTTP listener.
type Server struct {
	Host     string `toml:"host"`
	Port     string `toml:"port"`
	BasePath string `toml:"base_path"`
}

// Upstream configures the two composed providers' endpoints and default
// model names.
type Upstream struct {
	DeepSeekURL          string `toml:"deepseek_url"`
	ClaudeOpenAIURL      string `toml:"claude_openai_url"`
	AnthropicURL         string `toml:"anthropic_url"`
	DeepSeekDefaultModel string `toml:"deepseek_default_model"`
	ClaudeDefaultModel   string `toml:"claude_default_model"`

	// EnvPath is the path to the runtime-mutable .env credential file.
	EnvPath string `toml:"env_path"`
}

// Pricing is the per-million-token rate for one model, keyed by model name
// in Config.Pricing.
type Pricing struct {
	InputPerMillion  float64 `toml:"input_per_million"`
	OutputPerMillion float64 `toml:"output_per_million"`
}

// Load decodes the TOML file at path, applies the AT_-prefixed environment
// overlay, sets the process log level, and logs the resolved configuration.
func Load(ctx context.Context, path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}

	applyEnvOverlay(&cfg)
	setDefaults(&cfg)

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if err := logi.SetLogLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("set log level %s: %w", cfg.LogLevel, err)
	}

	slog.InfoContext(ctx, "loaded configuration",
		"mode", cfg.Mode,
		"server_port", cfg.Server.Port,
		"deepseek_url", cfg.Upstream.DeepSeekURL,
		"anthropic_url", cfg.Upstream.AnthropicURL,
	)

	return &cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Mode == "" {
		cfg.Mode = "normal"
	}
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Upstream.AnthropicURL == "" {
		cfg.Upstream.AnthropicURL = "https://api.anthropic.com/v1/messages"
	}
	if cfg.Upstream.DeepSeekURL == "" {
		cfg.Upstream.DeepSeekURL = "https://api.deepseek.com/chat/completions"
	}
	if cfg.Upstream.DeepSeekDefaultModel == "" {
		cfg.Upstream.DeepSeekDefaultModel = "deepseek-reasoner"
	}
	if cfg.Upstream.ClaudeDefaultModel == "" {
		cfg.Upstream.ClaudeDefaultModel = "claude-haiku-4-5"
	}
	if cfg.Upstream.EnvPath == "" {
		cfg.Upstream.EnvPath = ".env"
	}
}

// applyEnvOverlay overrides TOML-loaded fields from AT_-prefixed
// environment variables, a deliberately small explicit mapping rather than
// the teacher's reflection-driven loaderenv: this configuration struct is
// shallow enough that naming each override directly is clearer than a
// generic path-to-field walker.
func applyEnvOverlay(cfg *Config) {
	if v, ok := lookupEnv("LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := lookupEnv("MODE"); ok {
		cfg.Mode = v
	}
	if v, ok := lookupEnv("SERVER_HOST"); ok {
		cfg.Server.Host = v
	}
	if v, ok := lookupEnv("SERVER_PORT"); ok {
		cfg.Server.Port = v
	}
	if v, ok := lookupEnv("SERVER_BASE_PATH"); ok {
		cfg.Server.BasePath = v
	}
	if v, ok := lookupEnv("UPSTREAM_DEEPSEEK_URL"); ok {
		cfg.Upstream.DeepSeekURL = v
	}
	if v, ok := lookupEnv("UPSTREAM_CLAUDE_OPENAI_URL"); ok {
		cfg.Upstream.ClaudeOpenAIURL = v
	}
	if v, ok := lookupEnv("UPSTREAM_ANTHROPIC_URL"); ok {
		cfg.Upstream.AnthropicURL = v
	}
	if v, ok := lookupEnv("UPSTREAM_DEEPSEEK_DEFAULT_MODEL"); ok {
		cfg.Upstream.DeepSeekDefaultModel = v
	}
	if v, ok := lookupEnv("UPSTREAM_CLAUDE_DEFAULT_MODEL"); ok {
		cfg.Upstream.ClaudeDefaultModel = v
	}
	if v, ok := lookupEnv("UPSTREAM_ENV_PATH"); ok {
		cfg.Upstream.EnvPath = v
	}
}

func lookupEnv(suffix string) (string, bool) {
	return os.LookupEnv(envPrefix + suffix)
}

// UpstreamConfig converts the TOML-loaded upstream settings into the shape
// the Upstream Clients' endpoint resolution consumes.
func (c *Config) UpstreamConfig() upstream.Config {
	return upstream.Config{
		DeepSeekURL:          c.Upstream.DeepSeekURL,
		ClaudeOpenAIURL:      c.Upstream.ClaudeOpenAIURL,
		AnthropicURL:         c.Upstream.AnthropicURL,
		DeepSeekDefaultModel: c.Upstream.DeepSeekDefaultModel,
		ClaudeDefaultModel:   c.Upstream.ClaudeDefaultModel,
	}
}

// PricingTable converts the TOML-loaded pricing map into the shape the
// Non-streaming Aggregator consumes.
func (c *Config) PricingTable() compose.PricingTable {
	table := make(compose.PricingTable, len(c.Pricing))
	for model, p := range c.Pricing {
		table[model] = compose.ProviderPricing{
			InputPerMillion:  p.InputPerMillion,
			OutputPerMillion: p.OutputPerMillion,
		}
	}
	return table
}
