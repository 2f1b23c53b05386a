package autocomplete

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ghostwriter-relay/internal/llm"
	"ghostwriter-relay/internal/metrics"
	"ghostwriter-relay/internal/prompt"
)

// Relay errors.
var (
	// ErrMissingIdentity is returned before any provider call when the job
	// carries no identity.
	ErrMissingIdentity = errors.New("missing identity")

	// ErrStreamTimeout is returned when a session exceeds MaxDuration.
	ErrStreamTimeout = errors.New("stream exceeded maximum duration")
)

// Outcome is the trigger that terminated a relay session.
type Outcome string

// Session outcomes.
const (
	OutcomeCompleted     Outcome = "completed"
	OutcomeDisconnected  Outcome = "disconnected"
	OutcomeProviderError Outcome = "provider_error"
	OutcomeTimedOut      Outcome = "timed_out"
)

// Sink receives fragment text in order. Close is called exactly once per
// session, after the last write.
type Sink interface {
	WriteFragment(text string) error
	Close() error
}

// Job is one validated completion to relay.
type Job struct {
	Identity string
	Request  CompletionRequest
	Provider llm.Provider
}

// Result summarizes a finished session.
type Result struct {
	Session             string
	Outcome             Outcome
	Fragments           int
	Bytes               int
	TimeToFirstFragment time.Duration
	Duration            time.Duration
}

// RelayConfig wires a Relay. Only Prompts is required.
type RelayConfig struct {
	Prompts prompt.Set
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Tracer  trace.Tracer
	// MaxDuration bounds a session; zero means unbounded.
	MaxDuration time.Duration
}

// Relay pumps provider fragments to a sink. It holds no per-request state
// and is safe for concurrent use.
type Relay struct {
	prompts     prompt.Set
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	maxDuration time.Duration
}

// NewRelay creates a relay.
func NewRelay(cfg RelayConfig) *Relay {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("ghostwriter-relay/autocomplete")
	}
	return &Relay{
		prompts:     cfg.Prompts,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		tracer:      cfg.Tracer,
		maxDuration: cfg.MaxDuration,
	}
}

// session is the per-request termination state. The first call to terminate
// wins; later calls are no-ops.
type session struct {
	stream llm.Stream
	sink   Sink

	once       sync.Once
	mu         sync.Mutex
	terminated bool
	outcome    Outcome
	closeErr   error
}

// terminate cancels the stream unless it ended on its own, then closes the
// sink. Cancel runs outside mu so a write blocked on a slow client cannot
// delay it.
func (s *session) terminate(o Outcome) {
	s.once.Do(func() {
		s.outcome = o
		if s.stream != nil && o != OutcomeCompleted && o != OutcomeProviderError {
			s.stream.Cancel()
		}
		s.mu.Lock()
		s.terminated = true
		s.closeErr = s.sink.Close()
		s.mu.Unlock()
	})
}

// write forwards text unless the session already terminated.
func (s *session) write(text string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminated {
		return false, nil
	}
	return true, s.sink.WriteFragment(text)
}

type received struct {
	frag llm.Fragment
	err  error
}

// Run relays one job. Cancelling ctx is the disconnect signal. A client
// disconnect is not an error: Run returns a nil error with
// OutcomeDisconnected. Provider failures are returned wrapped in
// llm.ErrProviderStart or llm.ErrProviderStream.
func (r *Relay) Run(ctx context.Context, job Job, sink Sink) (Result, error) {
	res := Result{Session: uuid.NewString()}
	if job.Identity == "" {
		return res, ErrMissingIdentity
	}

	provider := job.Provider.Name()
	log := r.logger.With("session", res.Session, "provider", provider, "user", job.Identity)

	ctx, span := r.tracer.Start(ctx, "relay.run", trace.WithAttributes(
		attribute.String("relay.session", res.Session),
		attribute.String("relay.provider", provider),
		attribute.Float64("relay.temperature", job.Request.Temperature),
		attribute.Int("relay.window_chars", len(job.Request.Window.Text)),
	))
	defer span.End()

	if r.maxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, r.maxDuration, ErrStreamTimeout)
		defer cancel()
	}

	started := time.Now()
	r.metrics.StreamStarted(provider)

	sess := &session{sink: sink}
	stream, err := job.Provider.Start(ctx, llm.Request{
		Identity:     job.Identity,
		SystemPrompt: r.prompts.SystemPrompt,
		Examples:     r.prompts.Examples,
		UserText:     job.Request.Window.Text,
		Temperature:  job.Request.Temperature,
	})
	if err != nil {
		outcome := OutcomeProviderError
		if ctx.Err() != nil {
			outcome = r.cancelOutcome(ctx)
		}
		sess.terminate(outcome)
		return r.finish(span, log, provider, sess, res, started, err)
	}
	sess.stream = stream

	// Disconnect and timeout cancel the stream right away, even while the
	// loop below is blocked writing to a slow client.
	stop := context.AfterFunc(ctx, func() { sess.terminate(r.cancelOutcome(ctx)) })
	defer stop()

	frags := make(chan received)
	quit := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			f, err := stream.Recv()
			select {
			case frags <- received{frag: f, err: err}:
			case <-quit:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	var streamErr error
loop:
	for {
		select {
		case <-ctx.Done():
			sess.terminate(r.cancelOutcome(ctx))
			break loop
		case rcv := <-frags:
			if rcv.err != nil {
				if errors.Is(rcv.err, io.EOF) {
					sess.terminate(OutcomeCompleted)
				} else {
					streamErr = rcv.err
					sess.terminate(OutcomeProviderError)
				}
				break loop
			}
			if ctx.Err() != nil {
				sess.terminate(r.cancelOutcome(ctx))
				break loop
			}
			if rcv.frag.Text == "" {
				continue
			}
			wrote, err := sess.write(rcv.frag.Text)
			if !wrote {
				break loop
			}
			if err != nil {
				// A failed write means the client is gone.
				log.Debug("sink write failed", "error", err)
				sess.terminate(OutcomeDisconnected)
				break loop
			}
			if res.Fragments == 0 {
				res.TimeToFirstFragment = time.Since(started)
				span.AddEvent("first_fragment")
			}
			res.Fragments++
			res.Bytes += len(rcv.frag.Text)
		}
	}

	close(quit)
	wg.Wait()
	return r.finish(span, log, provider, sess, res, started, streamErr)
}

// cancelOutcome tells a deadline set by MaxDuration apart from a disconnect.
func (r *Relay) cancelOutcome(ctx context.Context) Outcome {
	if errors.Is(context.Cause(ctx), ErrStreamTimeout) {
		return OutcomeTimedOut
	}
	return OutcomeDisconnected
}

func (r *Relay) finish(span trace.Span, log *slog.Logger, provider string, sess *session, res Result, started time.Time, cause error) (Result, error) {
	// Every path has terminated the session already; this call only
	// synchronizes with the once so outcome is safe to read.
	sess.terminate(OutcomeCompleted)
	res.Outcome = sess.outcome
	res.Duration = time.Since(started)

	r.metrics.StreamFinished(provider, string(res.Outcome), res.Fragments, res.TimeToFirstFragment, res.Duration)
	span.SetAttributes(
		attribute.String("relay.outcome", string(res.Outcome)),
		attribute.Int("relay.fragments", res.Fragments),
		attribute.Int("relay.bytes", res.Bytes),
	)

	attrs := []any{
		"outcome", res.Outcome,
		"fragments", res.Fragments,
		"bytes", res.Bytes,
		"ttff", res.TimeToFirstFragment,
		"duration", res.Duration,
	}

	var err error
	switch res.Outcome {
	case OutcomeCompleted:
		span.SetStatus(codes.Ok, "")
		log.Info("relay completed", attrs...)
	case OutcomeDisconnected:
		log.Info("client disconnected", attrs...)
	case OutcomeTimedOut:
		err = fmt.Errorf("%w after %s", ErrStreamTimeout, r.maxDuration)
		span.SetStatus(codes.Error, "timed out")
		log.Warn("relay timed out", attrs...)
	case OutcomeProviderError:
		err = cause
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider failed")
		log.Error("provider failed", append(attrs, "error", err)...)
	}
	if sess.closeErr != nil {
		log.Debug("sink close failed", "error", sess.closeErr)
	}
	return res, err
}
