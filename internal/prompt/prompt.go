// Package prompt loads the system prompt and few-shot examples shared by all
// completion requests. A Set is loaded once at startup and only read after.
package prompt

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"ghostwriter-relay/internal/llm"
)

//go:embed defaults/system_prompt.md
var defaultSystemPrompt string

//go:embed defaults/examples.yaml
var defaultExamples []byte

// Sentinel errors for prompt loading.
var (
	ErrEmptySystemPrompt = errors.New("prompt: system prompt is empty")
	ErrInvalidRole       = errors.New("prompt: example role must be user or assistant")
	ErrEmptyExample      = errors.New("prompt: example content is empty")
)

// Set is the read-only prompt material threaded into the relay.
type Set struct {
	SystemPrompt string
	Examples     []llm.Message
}

// Default returns the embedded prompt set.
func Default() (Set, error) {
	examples, err := ParseExamples(defaultExamples, "embedded examples.yaml")
	if err != nil {
		return Set{}, err
	}
	return Set{
		SystemPrompt: strings.TrimSpace(defaultSystemPrompt),
		Examples:     examples,
	}, nil
}

// Load builds a Set, replacing the embedded system prompt and examples with
// the given files when their paths are non-empty.
func Load(systemPromptPath, examplesPath string) (Set, error) {
	set, err := Default()
	if err != nil {
		return Set{}, err
	}

	if systemPromptPath != "" {
		raw, err := os.ReadFile(systemPromptPath)
		if err != nil {
			return Set{}, fmt.Errorf("prompt: reading %s: %w", systemPromptPath, err)
		}
		set.SystemPrompt = strings.TrimSpace(string(raw))
		if set.SystemPrompt == "" {
			return Set{}, fmt.Errorf("%w: %s", ErrEmptySystemPrompt, systemPromptPath)
		}
	}

	if examplesPath != "" {
		raw, err := os.ReadFile(examplesPath)
		if err != nil {
			return Set{}, fmt.Errorf("prompt: reading %s: %w", examplesPath, err)
		}
		set.Examples, err = ParseExamples(raw, examplesPath)
		if err != nil {
			return Set{}, err
		}
	}

	return set, nil
}

// ParseExamples decodes a YAML list of {role, content} turns. Only user and
// assistant roles are accepted.
func ParseExamples(raw []byte, source string) ([]llm.Message, error) {
	var examples []llm.Message
	if err := yaml.Unmarshal(raw, &examples); err != nil {
		return nil, fmt.Errorf("prompt: invalid YAML in %s: %w", source, err)
	}
	for i, ex := range examples {
		if ex.Role != llm.RoleUser && ex.Role != llm.RoleAssistant {
			return nil, fmt.Errorf("%w: %s entry %d has %q", ErrInvalidRole, source, i, ex.Role)
		}
		if strings.TrimSpace(ex.Content) == "" {
			return nil, fmt.Errorf("%w: %s entry %d", ErrEmptyExample, source, i)
		}
	}
	return examples, nil
}
