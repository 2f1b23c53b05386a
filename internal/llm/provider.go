package llm

import (
	"context"
)

// Role identifies the sender of a conversation turn.
type Role string

// Role constants for conversation turns.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation turn sent to a provider.
type Message struct {
	Role    Role   `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

// Fragment is one incremental piece of generated text. Text may be empty.
type Fragment struct {
	Text string
}

// Request carries everything a provider needs to start one completion.
type Request struct {
	// Identity tags user turns in the metadata envelope. Must be non-empty.
	Identity     string
	SystemPrompt string
	Examples     []Message
	UserText     string
	Temperature  float64
}

// Stream is a lazy, finite, non-restartable sequence of fragments owned by a
// single in-flight request.
//
// Recv blocks until the next fragment is available. It returns io.EOF after
// the provider signalled a clean end, and an error wrapping ErrProviderStream
// on any other termination. Recv is not safe for concurrent use.
//
// Cancel aborts the underlying call. It is idempotent and safe to call from
// any goroutine, including while Recv is blocked.
type Stream interface {
	Recv() (Fragment, error)
	Cancel()
}

// Provider turns a completion request into a Stream. Implementations do not
// retry; a failure before the first fragment is returned from Start wrapped
// in ErrProviderStart.
type Provider interface {
	Name() string
	Start(ctx context.Context, req Request) (Stream, error)
}

// Interface guards.
var (
	_ Provider = (*OpenAI)(nil)
	_ Provider = (*Ollama)(nil)
	_ Stream   = (*lineStream)(nil)
)
