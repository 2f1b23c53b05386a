package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
)

// maxErrorBodySize caps how much of a failed response is read for the message.
const maxErrorBodySize = 64 * 1024

// OpenAI is the hosted-API provider speaking the OpenAI streaming
// chat-completions protocol (SSE framing).
type OpenAI struct {
	config OpenAIConfig
	client *http.Client
}

// NewOpenAI creates a hosted-API provider. The HTTP client is shared by all
// requests made through the provider.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	cfg = cfg.withDefaults()
	return &OpenAI{
		config: cfg,
		client: newStreamingClient(cfg.StartTimeout),
	}
}

// Name implements Provider.
func (p *OpenAI) Name() string { return "openai" }

// chatRequest is the request body for /chat/completions.
type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream"`
}

// chatStreamChunk is one SSE data payload.
type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Start implements Provider.
func (p *OpenAI) Start(ctx context.Context, req Request) (Stream, error) {
	payload := chatRequest{
		Model:       p.config.Model,
		Messages:    BuildConversation(req),
		Temperature: req.Temperature,
		Stream:      true,
	}
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+p.config.APIKey)
	headers.Set("Accept", "text/event-stream")
	headers.Set("X-Request-ID", uuid.NewString())

	return startLineStream(ctx, p.client, p.Name(), p.config.BaseURL+"/chat/completions", payload, headers, p.frame, p.FragmentText)
}

// FragmentText extracts the delta text from one chat.completion.chunk.
// Chunks without choices (e.g. usage-only) yield "".
func (p *OpenAI) FragmentText(chunk []byte) string {
	var c chatStreamChunk
	if err := json.Unmarshal(chunk, &c); err != nil || len(c.Choices) == 0 {
		return ""
	}
	return c.Choices[0].Delta.Content
}

// frame splits SSE lines: comments and non-data fields are skipped,
// "[DONE]" ends the stream, anything else must be a JSON chunk.
func (p *OpenAI) frame(line []byte) ([]byte, bool, error) {
	if bytes.HasPrefix(line, []byte(":")) {
		return nil, false, nil
	}
	data, ok := bytes.CutPrefix(line, []byte("data:"))
	if !ok {
		return nil, false, nil
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, false, nil
	}
	if string(data) == "[DONE]" {
		return nil, true, nil
	}

	var c chatStreamChunk
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, false, fmt.Errorf("malformed chunk: %w", err)
	}
	if c.Error != nil {
		return nil, false, fmt.Errorf("upstream error: %s", c.Error.Message)
	}
	return data, false, nil
}

// startLineStream posts payload and wraps a 2xx body in a lineStream.
// Non-2xx and connection failures are returned wrapped in ErrProviderStart.
func startLineStream(ctx context.Context, client *http.Client, provider, url string, payload any, headers http.Header, frame frameFunc, text func([]byte) string) (Stream, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: marshal request: %w", ErrProviderStart, provider, err)
	}

	callCtx, cancel := context.WithCancel(ctx)
	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %s: create request: %w", ErrProviderStart, provider, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header[k] = v
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %s: %w", ErrProviderStart, provider, mapConnectionError(err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer cancel()
		defer func() { _ = resp.Body.Close() }()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, mapHTTPError(provider, resp.StatusCode, errBody)
	}

	return newLineStream(callCtx, cancel, provider, resp.Body, frame, text), nil
}
