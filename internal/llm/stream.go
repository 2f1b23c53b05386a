package llm

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// scannerBufferSize is the max line size for streaming bodies. The default
// bufio.Scanner limit of 64 KiB is too small for some chunks.
const scannerBufferSize = 1 * 1024 * 1024 // 1 MB

// frameFunc interprets one non-empty line of a streaming body. It returns the
// raw chunk to hand to the text extractor (nil for lines carrying no chunk)
// and done when the line is the terminal marker.
type frameFunc func(line []byte) (chunk []byte, done bool, err error)

// lineStream is a Stream over a line-framed HTTP body (SSE or NDJSON).
type lineStream struct {
	provider string
	ctx      context.Context
	cancel   context.CancelFunc
	body     io.ReadCloser
	scanner  *bufio.Scanner
	frame    frameFunc
	text     func(chunk []byte) string

	// err is the sticky terminal result; only touched by Recv.
	err error

	cancelOnce sync.Once
	closeOnce  sync.Once
}

func newLineStream(ctx context.Context, cancel context.CancelFunc, provider string, body io.ReadCloser, frame frameFunc, text func([]byte) string) *lineStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), scannerBufferSize)
	return &lineStream{
		provider: provider,
		ctx:      ctx,
		cancel:   cancel,
		body:     body,
		scanner:  scanner,
		frame:    frame,
		text:     text,
	}
}

// Recv implements Stream.
func (s *lineStream) Recv() (Fragment, error) {
	if s.err != nil {
		return Fragment{}, s.err
	}

	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		chunk, done, err := s.frame(line)
		if err != nil {
			return Fragment{}, s.fail(err)
		}
		if done {
			s.finish(io.EOF)
			if chunk != nil {
				return Fragment{Text: s.text(chunk)}, nil
			}
			return Fragment{}, io.EOF
		}
		if chunk == nil {
			continue
		}
		return Fragment{Text: s.text(chunk)}, nil
	}

	// Cancellation closes the body, which surfaces here as a read error.
	if err := s.ctx.Err(); err != nil {
		return Fragment{}, s.fail(err)
	}
	if err := s.scanner.Err(); err != nil {
		return Fragment{}, s.fail(mapConnectionError(err))
	}
	return Fragment{}, s.fail(errTruncated)
}

// Cancel implements Stream.
func (s *lineStream) Cancel() {
	s.cancelOnce.Do(func() {
		s.cancel()
		s.closeBody()
	})
}

func (s *lineStream) fail(err error) error {
	s.finish(fmt.Errorf("%w: %s: %w", ErrProviderStream, s.provider, err))
	return s.err
}

// finish records the terminal result and releases the connection.
func (s *lineStream) finish(err error) {
	s.err = err
	s.closeBody()
	s.cancel()
}

func (s *lineStream) closeBody() {
	s.closeOnce.Do(func() {
		_ = s.body.Close()
	})
}
