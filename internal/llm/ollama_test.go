package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func ollamaServer(t *testing.T, handler http.HandlerFunc) *Ollama {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOllama(OllamaConfig{Host: srv.URL})
}

func TestOllamaStart_StreamsFragments(t *testing.T) {
	var got ollamaChatRequest
	var auth string
	p := ollamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s, want /api/chat", r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)

		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = io.WriteString(w, `{"model":"llama3.2","message":{"role":"assistant","content":"quickly"},"done":false}
{"model":"llama3.2","message":{"role":"assistant","content":" over"},"done":false}

{"model":"llama3.2","message":{"role":"assistant","content":" the fence"},"done":true,"done_reason":"stop"}
`)
	})

	s, err := p.Start(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	text, err := collect(t, s)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if text != "quickly over the fence" {
		t.Errorf("text = %q", text)
	}
	if auth != "" {
		t.Errorf("local provider sent a credential: %q", auth)
	}
	if got.Model != DefaultOllamaModel || !got.Stream || got.Options.Temperature != 0.5 {
		t.Errorf("request = %+v", got)
	}
	if len(got.Messages) != 4 || got.Messages[3].Role != RoleUser {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestOllamaStart_ModelNotFound(t *testing.T) {
	p := ollamaServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"model \"llama3.2\" not found, try pulling it first"}`)
	})

	_, err := p.Start(context.Background(), testRequest())
	var httpErr *HTTPError
	if !errors.Is(err, ErrProviderStart) || !errors.As(err, &httpErr) {
		t.Fatalf("err = %v, want ErrProviderStart with *HTTPError", err)
	}
	if httpErr.StatusCode != http.StatusNotFound || httpErr.Provider != "ollama" {
		t.Errorf("HTTPError = %+v", httpErr)
	}
}

func TestOllamaStream_Failures(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "in-band error", body: `{"message":{"content":"Hi"},"done":false}
{"error":"out of memory"}
`},
		{name: "missing done", body: `{"message":{"content":"Hi"},"done":false}
`},
		{name: "malformed line", body: `{"message":{"content":"Hi"},"done":false}
not-json
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ollamaServer(t, func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, tt.body)
			})
			s, err := p.Start(context.Background(), testRequest())
			if err != nil {
				t.Fatalf("Start: %v", err)
			}
			text, err := collect(t, s)
			if text != "Hi" {
				t.Errorf("text = %q, want Hi", text)
			}
			if !errors.Is(err, ErrProviderStream) {
				t.Errorf("err = %v, want ErrProviderStream", err)
			}
		})
	}
}

func TestOllamaFragmentText(t *testing.T) {
	p := NewOllama(OllamaConfig{})
	if got := p.FragmentText([]byte(`{"message":{"content":"x"},"done":false}`)); got != "x" {
		t.Errorf("FragmentText = %q, want x", got)
	}
	if got := p.FragmentText([]byte(`{"done":true}`)); got != "" {
		t.Errorf("FragmentText(done) = %q, want empty", got)
	}
	if got := p.FragmentText([]byte(`nope`)); got != "" {
		t.Errorf("FragmentText(garbage) = %q, want empty", got)
	}
}
