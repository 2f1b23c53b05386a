package autocomplete

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"ghostwriter-relay/internal/auth"
	"ghostwriter-relay/internal/llm"
	"ghostwriter-relay/internal/metrics"
)

// Client-facing error messages.
const (
	msgInvalidPayload = "Invalid request payload"
	msgAuthentication = "Authentication error"
	msgProviderFailed = "An error occurred while processing the request."
)

// maxBodyBytes bounds the request body. The window keeps provider requests
// small, but the raw document is read whole before extraction.
const maxBodyBytes = 4 << 20

// Handler serves one autocomplete endpoint bound to a single provider.
type Handler struct {
	relay     *Relay
	validator Validator
	provider  llm.Provider
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewHandler binds a relay to a provider.
func NewHandler(relay *Relay, validator Validator, provider llm.Provider, logger *slog.Logger, m *metrics.Metrics) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		relay:     relay,
		validator: validator,
		provider:  provider,
		logger:    logger.With("provider", provider.Name()),
		metrics:   m,
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var payload Payload
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&payload); err != nil {
		h.metrics.Rejected("invalid_payload")
		writeJSONError(w, http.StatusBadRequest, msgInvalidPayload)
		return
	}

	req, err := h.validator.Validate(payload)
	if err != nil {
		var vErr *ValidationError
		if errors.As(err, &vErr) {
			h.metrics.Rejected(vErr.Kind.String())
			writeJSONError(w, http.StatusBadRequest, vErr.Error())
			return
		}
		writeJSONError(w, http.StatusBadRequest, msgInvalidPayload)
		return
	}

	identity, _ := auth.IdentityFrom(r.Context())
	sink := newHTTPSink(w)
	res, err := h.relay.Run(r.Context(), Job{
		Identity: identity,
		Request:  req,
		Provider: h.provider,
	}, sink)

	switch {
	case errors.Is(err, ErrMissingIdentity):
		h.metrics.Rejected("missing_identity")
		h.logger.Error("autocomplete called without identity")
		writeJSONError(w, http.StatusInternalServerError, msgAuthentication)
	case err != nil:
		if sink.Committed() {
			// Status and headers are on the wire; dropping the connection is
			// the only way left to tell the client the body is incomplete.
			panic(http.ErrAbortHandler)
		}
		writeJSONError(w, http.StatusInternalServerError, msgProviderFailed)
	case res.Outcome == OutcomeCompleted && !sink.Committed():
		// Provider finished without any text.
		sink.commit()
	}
}

// httpSink writes fragments to a chunked text/plain response. Headers are
// committed by the first write, so a failure before that can still be
// reported with a status code.
type httpSink struct {
	w         http.ResponseWriter
	rc        *http.ResponseController
	committed bool
	closed    bool
}

func newHTTPSink(w http.ResponseWriter) *httpSink {
	return &httpSink{w: w, rc: http.NewResponseController(w)}
}

func (s *httpSink) commit() {
	if s.committed {
		return
	}
	h := s.w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Content-Type-Options", "nosniff")
	s.w.WriteHeader(http.StatusOK)
	s.committed = true
}

// WriteFragment implements Sink.
func (s *httpSink) WriteFragment(text string) error {
	if s.closed {
		return errSinkClosed
	}
	s.commit()
	if _, err := io.WriteString(s.w, text); err != nil {
		return err
	}
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

// Close implements Sink. The response itself ends when the handler returns.
func (s *httpSink) Close() error {
	s.closed = true
	return nil
}

// Committed reports whether the status line has been written.
func (s *httpSink) Committed() bool {
	return s.committed
}

var errSinkClosed = errors.New("sink closed")

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: msg})
}
