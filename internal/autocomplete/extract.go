package autocomplete

import "strings"

// CursorMarker is the literal the editor embeds at the caret position.
const CursorMarker = "[[cursor]]"

// DefaultWindowSize is the number of characters kept on each side of the
// marker.
const DefaultWindowSize = 500

// ContextWindow is the slice of the document sent to the provider.
type ContextWindow struct {
	Text string
}

// Extract returns the text around the first occurrence of marker, keeping up
// to windowSize characters on each side. The boolean is false when the marker
// is absent. Offsets count runes, so the window never splits a UTF-8 sequence.
func Extract(text, marker string, windowSize int) (ContextWindow, bool) {
	if marker == "" {
		return ContextWindow{}, false
	}
	idx := strings.Index(text, marker)
	if idx < 0 {
		return ContextWindow{}, false
	}
	if windowSize < 0 {
		windowSize = 0
	}

	before := []rune(text[:idx])
	after := []rune(text[idx+len(marker):])

	start := max(0, len(before)-windowSize)
	end := min(len(after), windowSize)

	var sb strings.Builder
	sb.Grow(len(text))
	sb.WriteString(string(before[start:]))
	sb.WriteString(marker)
	sb.WriteString(string(after[:end]))
	return ContextWindow{Text: sb.String()}, true
}
