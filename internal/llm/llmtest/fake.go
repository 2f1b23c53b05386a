// Package llmtest provides test doubles for the llm package.
package llmtest

import (
	"context"
	"io"
	"sync"
	"time"

	"ghostwriter-relay/internal/llm"
)

// Step is one scripted element of a FakeStream. Exactly one of Text or Err
// is meaningful; Delay is waited before the step is delivered.
type Step struct {
	Text  string
	Err   error
	Delay time.Duration
}

// Texts builds steps yielding the given fragments without delay.
func Texts(fragments ...string) []Step {
	steps := make([]Step, len(fragments))
	for i, f := range fragments {
		steps[i] = Step{Text: f}
	}
	return steps
}

// FakeProvider is a configurable test double for llm.Provider.
// All methods are safe for concurrent use.
type FakeProvider struct {
	// ProviderName defaults to "fake".
	ProviderName string
	// Steps scripts the stream returned by Start.
	Steps []Step
	// StartErr, when set, is returned by Start instead of a stream.
	StartErr error
	// Block makes the stream wait for cancellation after the scripted steps
	// instead of ending with io.EOF.
	Block bool

	mu         sync.Mutex
	startCalls int
	requests   []llm.Request
	streams    []*FakeStream
}

// Name implements llm.Provider.
func (p *FakeProvider) Name() string {
	if p.ProviderName == "" {
		return "fake"
	}
	return p.ProviderName
}

// Start implements llm.Provider and records the request.
func (p *FakeProvider) Start(_ context.Context, req llm.Request) (llm.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startCalls++
	p.requests = append(p.requests, req)
	if p.StartErr != nil {
		return nil, p.StartErr
	}
	s := NewFakeStream(p.Steps, p.Block)
	p.streams = append(p.streams, s)
	return s, nil
}

// StartCalls reports how many times Start was invoked.
func (p *FakeProvider) StartCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startCalls
}

// Requests returns a copy of the recorded requests.
func (p *FakeProvider) Requests() []llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.Request(nil), p.requests...)
}

// LastStream returns the most recent stream handed out, or nil.
func (p *FakeProvider) LastStream() *FakeStream {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.streams) == 0 {
		return nil
	}
	return p.streams[len(p.streams)-1]
}

// FakeStream replays scripted steps and counts Cancel calls.
type FakeStream struct {
	steps     []Step
	block     bool
	pos       int
	cancelled chan struct{}

	mu          sync.Mutex
	cancelCalls int
	delivered   int
}

// NewFakeStream creates a stream replaying steps. With block set, Recv waits
// for Cancel once the steps are exhausted.
func NewFakeStream(steps []Step, block bool) *FakeStream {
	return &FakeStream{
		steps:     steps,
		block:     block,
		cancelled: make(chan struct{}),
	}
}

// Recv implements llm.Stream.
func (s *FakeStream) Recv() (llm.Fragment, error) {
	if s.pos >= len(s.steps) {
		if !s.block {
			return llm.Fragment{}, io.EOF
		}
		<-s.cancelled
		return llm.Fragment{}, context.Canceled
	}

	step := s.steps[s.pos]
	s.pos++
	if step.Delay > 0 {
		select {
		case <-time.After(step.Delay):
		case <-s.cancelled:
			return llm.Fragment{}, context.Canceled
		}
	}
	if step.Err != nil {
		return llm.Fragment{}, step.Err
	}

	s.mu.Lock()
	s.delivered++
	s.mu.Unlock()
	return llm.Fragment{Text: step.Text}, nil
}

// Cancel implements llm.Stream. Every call is counted; only the first one
// unblocks Recv.
func (s *FakeStream) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelCalls++
	if s.cancelCalls == 1 {
		close(s.cancelled)
	}
}

// CancelCalls reports how many times Cancel was invoked.
func (s *FakeStream) CancelCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelCalls
}

// Delivered reports how many fragments Recv has returned.
func (s *FakeStream) Delivered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delivered
}

// Interface guards.
var (
	_ llm.Provider = (*FakeProvider)(nil)
	_ llm.Stream   = (*FakeStream)(nil)
)
