package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Ollama is the local-model provider speaking Ollama's /api/chat protocol
// (newline-delimited JSON). It sends no credential.
type Ollama struct {
	config OllamaConfig
	client *http.Client
}

// NewOllama creates a local-model provider.
func NewOllama(cfg OllamaConfig) *Ollama {
	cfg = cfg.withDefaults()
	return &Ollama{
		config: cfg,
		client: newStreamingClient(cfg.StartTimeout),
	}
}

// Name implements Provider.
func (p *Ollama) Name() string { return "ollama" }

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []Message     `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
}

// ollamaChunk is one NDJSON line of a streaming /api/chat response.
type ollamaChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

// Start implements Provider.
func (p *Ollama) Start(ctx context.Context, req Request) (Stream, error) {
	payload := ollamaChatRequest{
		Model:    p.config.Model,
		Messages: BuildConversation(req),
		Stream:   true,
		Options:  ollamaOptions{Temperature: req.Temperature},
	}
	headers := http.Header{}
	headers.Set("Accept", "application/x-ndjson")

	return startLineStream(ctx, p.client, p.Name(), p.config.Host+"/api/chat", payload, headers, p.frame, p.FragmentText)
}

// FragmentText extracts message.content from one streaming chunk.
func (p *Ollama) FragmentText(chunk []byte) string {
	var c ollamaChunk
	if err := json.Unmarshal(chunk, &c); err != nil {
		return ""
	}
	return c.Message.Content
}

// frame validates one NDJSON line. The line with "done": true is terminal
// and may still carry content.
func (p *Ollama) frame(line []byte) ([]byte, bool, error) {
	var c ollamaChunk
	if err := json.Unmarshal(line, &c); err != nil {
		return nil, false, fmt.Errorf("malformed chunk: %w", err)
	}
	if c.Error != "" {
		return nil, false, errors.New("upstream error: " + c.Error)
	}
	return line, c.Done, nil
}
