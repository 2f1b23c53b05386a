package llm

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

// Defaults for the hosted and local providers.
const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "gpt-4o-mini"
	DefaultOllamaHost    = "http://127.0.0.1:11434"
	DefaultOllamaModel   = "llama3.2"

	// DefaultStartTimeout bounds connect + response headers. It does not
	// bound the stream itself.
	DefaultStartTimeout = 30 * time.Second
)

// OpenAIConfig configures the hosted-API provider.
type OpenAIConfig struct {
	// APIKey is sent as a bearer credential.
	APIKey string
	// BaseURL is the API root, e.g. https://api.openai.com/v1
	BaseURL string
	// Model is the chat model identifier.
	Model string
	// StartTimeout bounds the wait for response headers.
	StartTimeout time.Duration
}

func (c OpenAIConfig) withDefaults() OpenAIConfig {
	if c.BaseURL == "" {
		c.BaseURL = DefaultOpenAIBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Model == "" {
		c.Model = DefaultOpenAIModel
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = DefaultStartTimeout
	}
	return c
}

// Validate reports configuration the provider cannot run with.
func (c OpenAIConfig) Validate() error {
	if c.APIKey == "" {
		return errors.New("openai: API key not configured")
	}
	return nil
}

// OllamaConfig configures the locally hosted model provider.
type OllamaConfig struct {
	// Host is the model server root, e.g. http://127.0.0.1:11434
	Host         string
	Model        string
	StartTimeout time.Duration
}

func (c OllamaConfig) withDefaults() OllamaConfig {
	if c.Host == "" {
		c.Host = DefaultOllamaHost
	}
	c.Host = strings.TrimRight(c.Host, "/")
	if c.Model == "" {
		c.Model = DefaultOllamaModel
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = DefaultStartTimeout
	}
	return c
}

// newStreamingClient returns a pooled client suitable for long-lived streams:
// no overall timeout, only a response-header deadline.
func newStreamingClient(startTimeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = startTimeout
	return &http.Client{Transport: transport}
}
