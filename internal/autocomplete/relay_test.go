package autocomplete

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"ghostwriter-relay/internal/llm"
	"ghostwriter-relay/internal/llm/llmtest"
	"ghostwriter-relay/internal/metrics"
	"ghostwriter-relay/internal/prompt"
)

// recordingSink records writes and closes. onWrite, when set, runs after
// each successful write with the number of writes so far.
type recordingSink struct {
	mu      sync.Mutex
	writes  []string
	closes  int
	failOn  int
	onWrite func(n int)
}

func (s *recordingSink) WriteFragment(text string) error {
	s.mu.Lock()
	if s.closes > 0 {
		s.mu.Unlock()
		return errors.New("write after close")
	}
	if s.failOn > 0 && len(s.writes)+1 == s.failOn {
		s.mu.Unlock()
		return errors.New("broken pipe")
	}
	s.writes = append(s.writes, text)
	n := len(s.writes)
	cb := s.onWrite
	s.mu.Unlock()
	if cb != nil {
		cb(n)
	}
	return nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *recordingSink) Writes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.writes...)
}

func (s *recordingSink) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPrompts() prompt.Set {
	return prompt.Set{
		SystemPrompt: "complete it",
		Examples: []llm.Message{
			{Role: llm.RoleUser, Content: "The [[cursor]] barked"},
			{Role: llm.RoleAssistant, Content: "dog"},
		},
	}
}

func newTestRelay(maxDuration time.Duration) *Relay {
	return NewRelay(RelayConfig{
		Prompts:     testPrompts(),
		Logger:      testLogger(),
		Metrics:     metrics.New(),
		MaxDuration: maxDuration,
	})
}

func testJob(p llm.Provider) Job {
	req, err := NewValidator(0).Validate(Payload{Text: "The cat [[cursor]] jumped", Temperature: 0.5})
	if err != nil {
		panic(err)
	}
	return Job{Identity: "alice", Request: req, Provider: p}
}

func TestRun_Completes(t *testing.T) {
	p := &llmtest.FakeProvider{Steps: llmtest.Texts("quickly", " over", "", " the", " fence")}
	sink := &recordingSink{}

	res, err := newTestRelay(0).Run(context.Background(), testJob(p), sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeCompleted {
		t.Errorf("Outcome = %s, want completed", res.Outcome)
	}
	if got := strings.Join(sink.Writes(), ""); got != "quickly over the fence" {
		t.Errorf("output = %q", got)
	}
	if res.Fragments != 4 || res.Bytes != len("quickly over the fence") {
		t.Errorf("Fragments = %d, Bytes = %d", res.Fragments, res.Bytes)
	}
	if res.Session == "" || res.TimeToFirstFragment <= 0 {
		t.Errorf("Result = %+v", res)
	}
	if sink.Closes() != 1 {
		t.Errorf("sink closed %d times, want 1", sink.Closes())
	}
	if c := p.LastStream().CancelCalls(); c != 0 {
		t.Errorf("finished stream cancelled %d times, want 0", c)
	}
}

func TestRun_BuildsProviderRequest(t *testing.T) {
	p := &llmtest.FakeProvider{Steps: llmtest.Texts("x")}
	job := testJob(p)

	if _, err := newTestRelay(0).Run(context.Background(), job, &recordingSink{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	reqs := p.Requests()
	if len(reqs) != 1 {
		t.Fatalf("Start called %d times", len(reqs))
	}
	got := reqs[0]
	if got.Identity != "alice" || got.Temperature != 0.5 {
		t.Errorf("request = %+v", got)
	}
	if got.UserText != job.Request.Window.Text {
		t.Errorf("UserText = %q, want the context window", got.UserText)
	}
	if got.SystemPrompt != "complete it" || len(got.Examples) != 2 {
		t.Errorf("prompt set not threaded through: %+v", got)
	}
}

func TestRun_PreservesOrder(t *testing.T) {
	p := &llmtest.FakeProvider{Steps: []llmtest.Step{
		{Text: "A", Delay: 15 * time.Millisecond},
		{Text: "B", Delay: 5 * time.Millisecond},
		{Text: "C", Delay: 1 * time.Millisecond},
	}}
	sink := &recordingSink{}

	if _, err := newTestRelay(0).Run(context.Background(), testJob(p), sink); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := sink.Writes()
	if strings.Join(got, ",") != "A,B,C" {
		t.Errorf("writes = %v, want [A B C]", got)
	}
}

func TestRun_MissingIdentity(t *testing.T) {
	p := &llmtest.FakeProvider{Steps: llmtest.Texts("x")}
	job := testJob(p)
	job.Identity = ""
	sink := &recordingSink{}

	_, err := newTestRelay(0).Run(context.Background(), job, sink)
	if !errors.Is(err, ErrMissingIdentity) {
		t.Fatalf("err = %v, want ErrMissingIdentity", err)
	}
	if p.StartCalls() != 0 {
		t.Errorf("provider started %d times without identity", p.StartCalls())
	}
	if len(sink.Writes()) != 0 {
		t.Error("sink written without identity")
	}
}

func TestRun_StartError(t *testing.T) {
	p := &llmtest.FakeProvider{StartErr: fmt.Errorf("%w: connection refused", llm.ErrProviderStart)}
	sink := &recordingSink{}

	res, err := newTestRelay(0).Run(context.Background(), testJob(p), sink)
	if !errors.Is(err, llm.ErrProviderStart) {
		t.Fatalf("err = %v, want ErrProviderStart", err)
	}
	if res.Outcome != OutcomeProviderError {
		t.Errorf("Outcome = %s", res.Outcome)
	}
	if sink.Closes() != 1 || len(sink.Writes()) != 0 {
		t.Errorf("closes = %d, writes = %v", sink.Closes(), sink.Writes())
	}
}

func TestRun_MidStreamError(t *testing.T) {
	p := &llmtest.FakeProvider{Steps: []llmtest.Step{
		{Text: "Hi"},
		{Err: fmt.Errorf("%w: connection reset", llm.ErrProviderStream)},
		{Text: "never"},
	}}
	sink := &recordingSink{}

	res, err := newTestRelay(0).Run(context.Background(), testJob(p), sink)
	if !errors.Is(err, llm.ErrProviderStream) {
		t.Fatalf("err = %v, want ErrProviderStream", err)
	}
	if res.Outcome != OutcomeProviderError || res.Fragments != 1 {
		t.Errorf("Result = %+v", res)
	}
	if got := sink.Writes(); len(got) != 1 || got[0] != "Hi" {
		t.Errorf("writes = %v", got)
	}
	if sink.Closes() != 1 {
		t.Errorf("closes = %d", sink.Closes())
	}
}

// A client that disconnects after 2 of 5 fragments cancels the provider
// exactly once and receives nothing more.
func TestRun_DisconnectMidStream(t *testing.T) {
	steps := llmtest.Texts("one", "two", "three", "four", "five")
	for i := 2; i < len(steps); i++ {
		steps[i].Delay = 50 * time.Millisecond
	}
	p := &llmtest.FakeProvider{Steps: steps}

	ctx, disconnect := context.WithCancel(context.Background())
	defer disconnect()
	sink := &recordingSink{onWrite: func(n int) {
		if n == 2 {
			disconnect()
		}
	}}

	res, err := newTestRelay(0).Run(ctx, testJob(p), sink)
	if err != nil {
		t.Fatalf("disconnect is not an error, got %v", err)
	}
	if res.Outcome != OutcomeDisconnected {
		t.Errorf("Outcome = %s, want disconnected", res.Outcome)
	}
	if got := sink.Writes(); strings.Join(got, ",") != "one,two" {
		t.Errorf("writes = %v, want [one two]", got)
	}
	if c := p.LastStream().CancelCalls(); c != 1 {
		t.Errorf("Cancel called %d times, want 1", c)
	}
	if sink.Closes() != 1 {
		t.Errorf("closes = %d, want 1", sink.Closes())
	}

	// Nothing is written after Run returns either.
	time.Sleep(80 * time.Millisecond)
	if len(sink.Writes()) != 2 {
		t.Errorf("late write: %v", sink.Writes())
	}
}

func TestRun_DisconnectWhileWaiting(t *testing.T) {
	p := &llmtest.FakeProvider{Steps: llmtest.Texts("first"), Block: true}
	ctx, disconnect := context.WithCancel(context.Background())
	sink := &recordingSink{onWrite: func(int) {
		go func() {
			time.Sleep(10 * time.Millisecond)
			disconnect()
		}()
	}}

	done := make(chan struct{})
	var res Result
	go func() {
		defer close(done)
		res, _ = newTestRelay(0).Run(ctx, testJob(p), sink)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after disconnect")
	}
	if res.Outcome != OutcomeDisconnected {
		t.Errorf("Outcome = %s", res.Outcome)
	}
	if c := p.LastStream().CancelCalls(); c != 1 {
		t.Errorf("Cancel called %d times, want 1", c)
	}
}

// Completion followed by a disconnect cleans up once and does not cancel a
// stream that already finished.
func TestRun_CompleteThenDisconnect(t *testing.T) {
	p := &llmtest.FakeProvider{Steps: llmtest.Texts("a", "b")}
	ctx, disconnect := context.WithCancel(context.Background())
	sink := &recordingSink{}

	res, err := newTestRelay(0).Run(ctx, testJob(p), sink)
	disconnect()
	time.Sleep(10 * time.Millisecond)

	if err != nil || res.Outcome != OutcomeCompleted {
		t.Fatalf("Run = %+v, %v", res, err)
	}
	if c := p.LastStream().CancelCalls(); c != 0 {
		t.Errorf("Cancel called %d times, want 0", c)
	}
	if sink.Closes() != 1 {
		t.Errorf("closes = %d, want 1", sink.Closes())
	}
}

func TestRun_SinkWriteFailure(t *testing.T) {
	p := &llmtest.FakeProvider{Steps: llmtest.Texts("a", "b", "c"), Block: true}
	sink := &recordingSink{failOn: 2}

	res, err := newTestRelay(0).Run(context.Background(), testJob(p), sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeDisconnected || res.Fragments != 1 {
		t.Errorf("Result = %+v", res)
	}
	if c := p.LastStream().CancelCalls(); c != 1 {
		t.Errorf("Cancel called %d times, want 1", c)
	}
}

func TestRun_MaxDuration(t *testing.T) {
	p := &llmtest.FakeProvider{Steps: llmtest.Texts("slow"), Block: true}
	sink := &recordingSink{}

	start := time.Now()
	res, err := newTestRelay(30*time.Millisecond).Run(context.Background(), testJob(p), sink)
	if !errors.Is(err, ErrStreamTimeout) {
		t.Fatalf("err = %v, want ErrStreamTimeout", err)
	}
	if res.Outcome != OutcomeTimedOut {
		t.Errorf("Outcome = %s, want timed_out", res.Outcome)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Run took %v", elapsed)
	}
	if c := p.LastStream().CancelCalls(); c != 1 {
		t.Errorf("Cancel called %d times, want 1", c)
	}
	if got := sink.Writes(); len(got) != 1 || got[0] != "slow" {
		t.Errorf("writes = %v", got)
	}
}

// Concurrent terminations run cleanup exactly once.
func TestSessionTerminate_Idempotent(t *testing.T) {
	stream := llmtest.NewFakeStream(nil, true)
	sink := &recordingSink{}
	sess := &session{stream: stream, sink: sink}

	outcomes := []Outcome{OutcomeDisconnected, OutcomeCompleted, OutcomeTimedOut, OutcomeProviderError}
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(o Outcome) {
			defer wg.Done()
			sess.terminate(o)
		}(outcomes[i%len(outcomes)])
	}
	wg.Wait()

	if sink.Closes() != 1 {
		t.Errorf("closes = %d, want 1", sink.Closes())
	}
	if c := stream.CancelCalls(); c > 1 {
		t.Errorf("Cancel called %d times, want at most 1", c)
	}
	if wrote, _ := sess.write("late"); wrote {
		t.Error("write accepted after termination")
	}
}
