package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
)

// Sentinel errors for provider operations.
var (
	// ErrProviderStart indicates the provider was unreachable or rejected the
	// request before any fragment was produced.
	ErrProviderStart = errors.New("provider start failed")

	// ErrProviderStream indicates the fragment sequence failed mid-stream.
	ErrProviderStream = errors.New("provider stream failed")

	// ErrProviderDown indicates a network-level failure talking to the provider.
	ErrProviderDown = errors.New("provider unavailable")

	// errTruncated is reported when the body ends without a terminal marker.
	errTruncated = errors.New("stream ended before completion marker")
)

// HTTPError is a non-2xx answer from a provider endpoint.
type HTTPError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Message)
}

// apiError is the error body shape shared by OpenAI-compatible servers.
type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// ollamaError is the error body shape of Ollama.
type ollamaError struct {
	Error string `json:"error"`
}

// mapHTTPError builds the start error for a non-2xx response.
func mapHTTPError(provider string, statusCode int, body []byte) error {
	msg := string(body)
	var oaiErr apiError
	var olErr ollamaError
	switch {
	case json.Unmarshal(body, &oaiErr) == nil && oaiErr.Error.Message != "":
		msg = oaiErr.Error.Message
	case json.Unmarshal(body, &olErr) == nil && olErr.Error != "":
		msg = olErr.Error
	}
	return fmt.Errorf("%w: %w", ErrProviderStart, &HTTPError{
		Provider:   provider,
		StatusCode: statusCode,
		Message:    msg,
	})
}

// mapConnectionError maps network-level errors to ErrProviderDown.
// Context errors pass through unchanged.
func mapConnectionError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", ErrProviderDown, err)
	}
	return err
}
