/*
Package llm implements the streaming completion providers used by the relay.

# Architecture Overview

The package follows a small layered layout:

1. Contract (provider.go)
  - Provider starts one completion and returns a Stream
  - Stream yields Fragments lazily and can be cancelled once, from any goroutine

2. Conversation assembly (conversation.go)
  - Builds [system] + few-shot examples + [user] in a fixed order
  - Wraps user-authored turns in a metadata envelope naming the writer

3. Adapters
  - OpenAI (openai.go): hosted chat completions, SSE framing, bearer credential
  - Ollama (ollama.go): local /api/chat, newline-delimited JSON, no credential

4. Transport (stream.go)
  - A shared line-framed body reader; each adapter only supplies how to frame
    a line and how to pull text out of a chunk (FragmentText)

# Failure Model

Errors before the first fragment are wrapped in ErrProviderStart. That covers
connection refused, header timeouts and any non-2xx status, with the status
carried in *HTTPError. Errors after streaming began are wrapped in
ErrProviderStream. That covers transport resets, malformed or in-band error
chunks, and a body that ends without its terminal marker. A clean end is
io.EOF.

Providers never retry. Retrying is a caller decision.

# Cancellation

Start derives a per-call context from the caller's. Stream.Cancel cancels it
and closes the response body, which unblocks a pending Recv. The HTTP client
is pooled per provider and shared by all requests; cancelling one call does
not affect others.
*/
package llm
