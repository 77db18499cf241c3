package grading

import (
	"fmt"
	"strings"
)

// ResponseSanitizer cleans raw model output before it is parsed as JSON.
type ResponseSanitizer interface {
	Sanitize(raw string) string
}

// NewSanitizer returns the sanitizer registered under name: "ascii" (the
// default) or "fence".
func NewSanitizer(name string) (ResponseSanitizer, error) {
	switch name {
	case "", "ascii":
		return ASCIISanitizer{}, nil
	case "fence":
		return FenceSanitizer{}, nil
	default:
		return nil, fmt.Errorf("unknown sanitizer %q", name)
	}
}

// FenceSanitizer only unwraps a Markdown code fence. It keeps non-ASCII
// text, so feedback written in other languages survives.
type FenceSanitizer struct{}

func (FenceSanitizer) Sanitize(raw string) string {
	return extractFenced(raw)
}

// ASCIISanitizer unwraps a code fence, folds typographic punctuation to
// ASCII and then drops every remaining non-ASCII and control character.
// Any non-English text in the reply is lost.
//
// Sanitize is idempotent for replies whose fence markers are intact. A
// fence split by zero-width characters is only recognized after they are
// removed, so a second pass unwraps it further.
type ASCIISanitizer struct{}

var punctuation = strings.NewReplacer(
	"\u2018", "'", "\u2019", "'",
	"\u201c", `"`, "\u201d", `"`,
	"\u2013", "-", "\u2014", "-",
)

func (ASCIISanitizer) Sanitize(raw string) string {
	s := extractFenced(raw)
	s = punctuation.Replace(s)

	// Invisible formatting characters go first, then the two spaces that
	// should survive as ASCII spaces.
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 0x200b && r <= 0x200f, r >= 0x202a && r <= 0x202e, r == 0x2060, r == 0xfeff:
			return -1
		case r == 0x202f, r == 0x00a0:
			return ' '
		}
		return r
	}, s)

	return strings.Map(func(r rune) rune {
		if r > 0x7f || r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}

// extractFenced returns the body of the first ```json fence, or failing that
// the first ``` fence. An unterminated fence runs to the end of the text.
// Text without a fence is returned unchanged.
func extractFenced(s string) string {
	for _, open := range []string{"```json", "```"} {
		_, rest, ok := strings.Cut(s, open)
		if !ok {
			continue
		}
		body, _, _ := strings.Cut(rest, "```")
		return strings.TrimSpace(body)
	}
	return s
}
