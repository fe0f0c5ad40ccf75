package generate

import "strings"

// Span is a run of text voiced by a single voice.
type Span struct {
	Text     string
	Dialogue bool
}

// Voice returns the voice that reads the span.
func (s Span) Voice(v Voices) string {
	if s.Dialogue && v.Dialogue != "" {
		return v.Dialogue
	}
	return v.Narrator
}

var closingQuote = map[rune]rune{
	'"': '"',
	'“': '”',
}

// SplitDialogue splits text into narrator and dialogue spans. Quoted text,
// including its quote marks, is dialogue. An opening quote without a match
// runs to the end of the text. Whitespace-only spans are dropped.
func SplitDialogue(text string) []Span {
	var spans []Span
	var buf strings.Builder
	var closer rune
	inQuote := false

	flush := func(dialogue bool) {
		if strings.TrimSpace(buf.String()) != "" {
			spans = append(spans, Span{Text: strings.TrimSpace(buf.String()), Dialogue: dialogue})
		}
		buf.Reset()
	}

	for _, r := range text {
		switch {
		case !inQuote:
			if c, ok := closingQuote[r]; ok {
				flush(false)
				inQuote = true
				closer = c
			}
			buf.WriteRune(r)
		case r == closer:
			buf.WriteRune(r)
			flush(true)
			inQuote = false
		default:
			buf.WriteRune(r)
		}
	}
	flush(inQuote)
	return spans
}
