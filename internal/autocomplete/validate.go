package autocomplete

import (
	"encoding/json"
	"math"
)

// ValidationKind identifies why a payload was rejected.
type ValidationKind int

const (
	// KindMissingCursor means the text is absent or lacks the cursor marker.
	KindMissingCursor ValidationKind = iota + 1
	// KindTemperatureOutOfRange means the temperature is not a number in [0, 1].
	KindTemperatureOutOfRange
)

func (k ValidationKind) String() string {
	switch k {
	case KindMissingCursor:
		return "missing_cursor"
	case KindTemperatureOutOfRange:
		return "temperature_out_of_range"
	default:
		return "unknown"
	}
}

// ValidationError is a client input defect. It never reaches a provider.
type ValidationError struct {
	Kind   ValidationKind
	Marker string
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case KindMissingCursor:
		return "Input text must contain " + e.Marker + "."
	case KindTemperatureOutOfRange:
		return "Temperature must be a number between 0 and 1."
	default:
		return "Invalid request"
	}
}

// Payload is the decoded request body. Fields stay untyped so that wrong JSON
// types are reported as validation errors instead of decode errors.
type Payload struct {
	Text        any `json:"text"`
	Temperature any `json:"temperature"`
}

// CompletionRequest is a validated request. Only Validate produces one.
type CompletionRequest struct {
	RawText     string
	Temperature float64
	Window      ContextWindow
}

// Validator checks payloads against a cursor marker and window size.
type Validator struct {
	Marker     string
	WindowSize int
}

// NewValidator returns a validator with the default marker and window.
func NewValidator(windowSize int) Validator {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return Validator{Marker: CursorMarker, WindowSize: windowSize}
}

// Validate checks the cursor first and the temperature second.
func (v Validator) Validate(p Payload) (CompletionRequest, error) {
	text, ok := p.Text.(string)
	if !ok {
		return CompletionRequest{}, &ValidationError{Kind: KindMissingCursor, Marker: v.Marker}
	}
	window, found := Extract(text, v.Marker, v.WindowSize)
	if !found {
		return CompletionRequest{}, &ValidationError{Kind: KindMissingCursor, Marker: v.Marker}
	}

	temp, ok := number(p.Temperature)
	if !ok || math.IsNaN(temp) || temp < 0 || temp > 1 {
		return CompletionRequest{}, &ValidationError{Kind: KindTemperatureOutOfRange, Marker: v.Marker}
	}

	return CompletionRequest{RawText: text, Temperature: temp, Window: window}, nil
}

// number accepts JSON numbers only; numeric strings are rejected.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
