// Package latency benchmarks the hosted and local autocomplete endpoints of
// a running relay against the same prompts.
package latency

import (
	"bufio"
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

//go:embed prompts.txt
var defaultPrompts string

// Endpoint paths measured by a run.
const (
	HostedPath = "/api/gpt/autocomplete"
	LocalPath  = "/api/llama/autocomplete"
	loginPath  = "/api/auth/login"
)

// DefaultPrompts returns the built-in prompt list, one completion request
// per entry, each containing the cursor marker.
func DefaultPrompts() []string {
	var prompts []string
	sc := bufio.NewScanner(strings.NewReader(defaultPrompts))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			prompts = append(prompts, line)
		}
	}
	return prompts
}

// Config controls a benchmark run.
type Config struct {
	BaseURL     string
	Username    string
	Password    string
	Temperature float64
	// Delay separates the hosted and local request for one prompt; Pause
	// separates prompts.
	Delay   time.Duration
	Pause   time.Duration
	Prompts []string
	Client  *http.Client
	Logger  *slog.Logger
}

// Measurement is one timed request.
type Measurement struct {
	TTFB   time.Duration `json:"ttfb"`
	Total  time.Duration `json:"total"`
	Bytes  int           `json:"bytes"`
	Status int           `json:"status"`
}

// Result pairs the hosted and local measurements for one prompt.
type Result struct {
	RunID      string        `json:"run_id"`
	Prompt     string        `json:"prompt"`
	Timestamp  time.Time     `json:"timestamp"`
	Hosted     Measurement   `json:"hosted"`
	Local      Measurement   `json:"local"`
	Difference time.Duration `json:"difference"`
	Error      string        `json:"error,omitempty"`
}

// Runner executes benchmark runs.
type Runner struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// NewRunner creates a runner. An empty prompt list uses DefaultPrompts.
func NewRunner(cfg Config) *Runner {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if len(cfg.Prompts) == 0 {
		cfg.Prompts = DefaultPrompts()
	}
	r := &Runner{cfg: cfg, client: cfg.Client, logger: cfg.Logger}
	if r.client == nil {
		r.client = &http.Client{Timeout: 2 * time.Minute}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Login exchanges the configured credentials for a bearer token.
func (r *Runner) Login(ctx context.Context) (string, error) {
	body, _ := json.Marshal(map[string]string{"username": r.cfg.Username, "password": r.cfg.Password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+loginPath, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login: authentication failed with status %d", resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("login: decode response: %w", err)
	}
	if out.Token == "" {
		return "", errors.New("login: empty token")
	}
	return out.Token, nil
}

// Run measures every prompt against both endpoints in turn. A failed prompt
// is recorded in its Result and the run continues; only context
// cancellation stops it early.
func (r *Runner) Run(ctx context.Context, token string) ([]Result, error) {
	runID := uuid.NewString()
	started := time.Now().UTC()
	results := make([]Result, 0, len(r.cfg.Prompts))

	for i, p := range r.cfg.Prompts {
		r.logger.Info("testing prompt", "run", runID, "n", i+1, "of", len(r.cfg.Prompts), "prompt", truncate(p, 50))
		res := Result{RunID: runID, Prompt: p, Timestamp: started}

		hosted, err := r.measure(ctx, HostedPath, token, p)
		if err == nil {
			if err = sleep(ctx, r.cfg.Delay); err == nil {
				res.Local, err = r.measure(ctx, LocalPath, token, p)
			}
		}
		res.Hosted = hosted
		if err != nil {
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			r.logger.Warn("prompt failed", "run", runID, "error", err)
			res.Hosted, res.Local = Measurement{}, Measurement{}
			res.Error = err.Error()
		} else {
			res.Difference = res.Hosted.Total - res.Local.Total
		}
		results = append(results, res)

		if i < len(r.cfg.Prompts)-1 {
			if err := sleep(ctx, r.cfg.Pause); err != nil {
				return results, err
			}
		}
	}
	return results, nil
}

func (r *Runner) measure(ctx context.Context, path, token, text string) (Measurement, error) {
	body, _ := json.Marshal(map[string]any{"text": text, "temperature": r.cfg.Temperature})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return Measurement{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return Measurement{}, fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	m := Measurement{Status: resp.StatusCode}
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if m.Bytes == 0 {
				m.TTFB = time.Since(start)
			}
			m.Bytes += n
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return m, fmt.Errorf("%s: read body: %w", path, err)
		}
	}
	m.Total = time.Since(start)
	if m.Bytes == 0 {
		m.TTFB = m.Total
	}

	if resp.StatusCode != http.StatusOK {
		return m, fmt.Errorf("%s: status %d", path, resp.StatusCode)
	}
	return m, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
