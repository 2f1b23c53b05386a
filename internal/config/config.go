// Package config reads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"ghostwriter-relay/internal/auth"
	"ghostwriter-relay/internal/autocomplete"
	"ghostwriter-relay/internal/llm"
	"ghostwriter-relay/pkg/utils"
)

// Defaults for settings not covered by a package-level default.
const (
	DefaultPort       = 3000
	DefaultCORSOrigin = "http://localhost:5173"
)

// Config is the complete service configuration.
type Config struct {
	Port       int
	CORSOrigin string
	LogLevel   slog.Level

	Auth   auth.Config
	OpenAI llm.OpenAIConfig
	Ollama llm.OllamaConfig

	ContextWindowSize int
	MaxStreamDuration time.Duration
	SystemPromptPath  string
	ExamplesPath      string

	OTLPEndpoint string
}

// Load reads the configuration from environment variables. Values that are
// set but malformed are reported together.
func Load() (*Config, error) {
	var errs []error
	cfg := &Config{
		CORSOrigin:       utils.GetEnvWithDefault("CORS_ORIGIN", DefaultCORSOrigin),
		SystemPromptPath: utils.GetEnvWithDefault("SYSTEM_PROMPT_PATH", ""),
		ExamplesPath:     utils.GetEnvWithDefault("EXAMPLES_PATH", ""),
		OTLPEndpoint:     utils.GetEnvWithDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		Auth: auth.Config{
			Secret:        utils.GetEnvWithDefault("JWT_SECRET", ""),
			AdminPassword: utils.GetEnvWithDefault("ADMIN_PASSWORD", ""),
			Disabled:      utils.GetEnvBool("DISABLE_AUTH"),
		},
		OpenAI: llm.OpenAIConfig{
			APIKey:  utils.GetEnvWithDefault("OPENAI_API_KEY", ""),
			BaseURL: utils.GetEnvWithDefault("OPENAI_BASE_URL", llm.DefaultOpenAIBaseURL),
			Model:   utils.GetEnvWithDefault("OPENAI_MODEL", llm.DefaultOpenAIModel),
		},
		Ollama: llm.OllamaConfig{
			Host:  utils.GetEnvWithDefault("OLLAMA_HOST", llm.DefaultOllamaHost),
			Model: utils.GetEnvWithDefault("OLLAMA_MODEL", llm.DefaultOllamaModel),
		},
	}

	var err error
	if cfg.Port, err = utils.GetEnvInt("PORT", DefaultPort); err != nil {
		errs = append(errs, fmt.Errorf("PORT: %w", err))
	}
	if cfg.ContextWindowSize, err = utils.GetEnvInt("CONTEXT_WINDOW_SIZE", autocomplete.DefaultWindowSize); err != nil {
		errs = append(errs, fmt.Errorf("CONTEXT_WINDOW_SIZE: %w", err))
	}
	if cfg.Auth.TokenTTL, err = utils.GetEnvDuration("TOKEN_TTL", auth.DefaultTokenLifetime); err != nil {
		errs = append(errs, fmt.Errorf("TOKEN_TTL: %w", err))
	}
	if cfg.MaxStreamDuration, err = utils.GetEnvDuration("MAX_STREAM_DURATION", 0); err != nil {
		errs = append(errs, fmt.Errorf("MAX_STREAM_DURATION: %w", err))
	}
	if cfg.OpenAI.StartTimeout, err = utils.GetEnvDuration("PROVIDER_START_TIMEOUT", llm.DefaultStartTimeout); err != nil {
		errs = append(errs, fmt.Errorf("PROVIDER_START_TIMEOUT: %w", err))
	}
	cfg.Ollama.StartTimeout = cfg.OpenAI.StartTimeout

	if err := cfg.LogLevel.UnmarshalText([]byte(utils.GetEnvWithDefault("LOG_LEVEL", "info"))); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Validate checks settings that would make the server unusable.
// A missing OpenAI key is not fatal; that endpoint fails per request.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", c.Port))
	}
	if c.ContextWindowSize <= 0 {
		errs = append(errs, fmt.Errorf("CONTEXT_WINDOW_SIZE must be positive, got %d", c.ContextWindowSize))
	}
	if c.MaxStreamDuration < 0 {
		errs = append(errs, errors.New("MAX_STREAM_DURATION must not be negative"))
	}
	if !c.Auth.Disabled {
		if c.Auth.Secret == "" {
			errs = append(errs, errors.New("JWT_SECRET is required unless DISABLE_AUTH is set"))
		}
		if c.Auth.AdminPassword == "" {
			errs = append(errs, errors.New("ADMIN_PASSWORD is required unless DISABLE_AUTH is set"))
		}
	}
	for name, raw := range map[string]string{"OPENAI_BASE_URL": c.OpenAI.BaseURL, "OLLAMA_HOST": c.Ollama.Host} {
		if u, err := url.Parse(raw); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s %q is not an http(s) URL", name, raw))
		}
	}
	if c.CORSOrigin != "*" && !strings.Contains(c.CORSOrigin, "://") {
		errs = append(errs, fmt.Errorf("CORS_ORIGIN %q must be an origin URL or *", c.CORSOrigin))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// LogValue hides secrets when the config is logged.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("port", c.Port),
		slog.String("cors_origin", c.CORSOrigin),
		slog.Bool("auth_disabled", c.Auth.Disabled),
		slog.String("jwt_secret", utils.MaskToken(c.Auth.Secret)),
		slog.Duration("token_ttl", c.Auth.TokenTTL),
		slog.String("openai_base_url", c.OpenAI.BaseURL),
		slog.String("openai_model", c.OpenAI.Model),
		slog.String("openai_api_key", utils.MaskToken(c.OpenAI.APIKey)),
		slog.String("ollama_host", c.Ollama.Host),
		slog.String("ollama_model", c.Ollama.Model),
		slog.Int("context_window", c.ContextWindowSize),
		slog.Duration("max_stream_duration", c.MaxStreamDuration),
	)
}
