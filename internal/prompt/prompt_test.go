package prompt

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ghostwriter-relay/internal/llm"
)

func TestDefault(t *testing.T) {
	set, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if !strings.Contains(set.SystemPrompt, "[[cursor]]") {
		t.Error("system prompt should describe the cursor marker")
	}
	if len(set.Examples) != 20 {
		t.Fatalf("examples = %d, want 20", len(set.Examples))
	}
	for i, ex := range set.Examples {
		want := llm.RoleUser
		if i%2 == 1 {
			want = llm.RoleAssistant
		}
		if ex.Role != want {
			t.Errorf("examples[%d].Role = %s, want %s", i, ex.Role, want)
		}
		if want == llm.RoleUser && !strings.Contains(ex.Content, "[[cursor]]") {
			t.Errorf("user example %d has no cursor marker", i)
		}
	}
}

func TestLoad_Overrides(t *testing.T) {
	dir := t.TempDir()
	sysPath := filepath.Join(dir, "system.md")
	exPath := filepath.Join(dir, "examples.yaml")
	if err := os.WriteFile(sysPath, []byte("  custom prompt\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(exPath, []byte("- role: user\n  content: \"a [[cursor]]\"\n- role: assistant\n  content: b\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	set, err := Load(sysPath, exPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if set.SystemPrompt != "custom prompt" {
		t.Errorf("SystemPrompt = %q", set.SystemPrompt)
	}
	if len(set.Examples) != 2 || set.Examples[1].Content != "b" {
		t.Errorf("Examples = %+v", set.Examples)
	}
}

func TestLoad_EmptyPathsKeepDefaults(t *testing.T) {
	set, err := Load("", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def, _ := Default()
	if set.SystemPrompt != def.SystemPrompt || len(set.Examples) != len(def.Examples) {
		t.Error("Load with empty paths should equal Default")
	}
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.md")
	if err := os.WriteFile(empty, []byte("\n\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(empty, ""); !errors.Is(err, ErrEmptySystemPrompt) {
		t.Errorf("empty prompt: err = %v", err)
	}
	if _, err := Load(filepath.Join(dir, "missing.md"), ""); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing prompt: err = %v", err)
	}
}

func TestParseExamples(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr error
	}{
		{name: "valid", yaml: "- role: user\n  content: x\n"},
		{name: "system role", yaml: "- role: system\n  content: x\n", wantErr: ErrInvalidRole},
		{name: "empty content", yaml: "- role: assistant\n  content: \"  \"\n", wantErr: ErrEmptyExample},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseExamples([]byte(tt.yaml), "test")
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if _, err := ParseExamples([]byte("not: [a list"), "test"); err == nil {
		t.Error("expected YAML error")
	}
}
