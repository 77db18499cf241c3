package grading

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Result is a parsed grading reply.
type Result struct {
	Scores         Scores   `json:"scores"`
	Feedback       Feedback `json:"feedback"`
	SampleResponse Text     `json:"sample_response"`
}

type Scores struct {
	Content  Score `json:"content"`
	Accuracy Score `json:"accuracy"`
	Delivery Score `json:"delivery"`
	Total    Score `json:"total"`
}

type Feedback struct {
	Content  Text `json:"content"`
	Accuracy Text `json:"accuracy"`
	Delivery Text `json:"delivery"`
}

// Score is a rubric score as reported by the model. It accepts a JSON
// number, a numeric string ("0.8" or "0.8/0.9") or null. Range is not
// checked.
type Score float64

func (s *Score) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if string(b) == "null" {
		*s = 0
		return nil
	}

	var f float64
	if len(b) > 0 && b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		str, _, _ = strings.Cut(strings.TrimSpace(str), "/")
		v, err := strconv.ParseFloat(strings.TrimSpace(str), 64)
		if err != nil {
			return fmt.Errorf("score %s is not a number", b)
		}
		f = v
	} else if err := json.Unmarshal(b, &f); err != nil {
		return err
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("score %s is not finite", b)
	}
	*s = Score(f)
	return nil
}

// String formats the score with the fewest digits that represent it.
func (s Score) String() string {
	return strconv.FormatFloat(float64(s), 'f', -1, 64)
}

// Text is free-form feedback. Models sometimes answer with bullet lists or
// Strengths/Weaknesses objects instead of a string; those are flattened to
// lines of text in their original order.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	var lines []string
	if err := flattenJSON(b, false, &lines); err != nil {
		return err
	}
	*t = Text(strings.Join(lines, "\n"))
	return nil
}

func flattenJSON(raw []byte, bullet bool, out *[]string) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}

	switch raw[0] {
	case 'n':
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		if bullet {
			s = "- " + s
		}
		*out = append(*out, s)
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return err
		}
		for _, item := range items {
			if err := flattenJSON(item, true, out); err != nil {
				return err
			}
		}
	case '{':
		dec := json.NewDecoder(bytes.NewReader(raw))
		if _, err := dec.Token(); err != nil {
			return err
		}
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return err
			}
			key, _ := tok.(string)
			var v json.RawMessage
			if err := dec.Decode(&v); err != nil {
				return err
			}
			if isScalar(v) {
				var line []string
				if err := flattenJSON(v, false, &line); err != nil {
					return err
				}
				*out = append(*out, key+": "+strings.Join(line, ""))
				continue
			}
			*out = append(*out, key+":")
			if err := flattenJSON(v, true, out); err != nil {
				return err
			}
		}
	default:
		s := string(raw)
		if bullet {
			s = "- " + s
		}
		*out = append(*out, s)
	}
	return nil
}

func isScalar(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || (raw[0] != '[' && raw[0] != '{')
}

// ParseResult decodes a sanitized reply. The scores and feedback objects
// must be present.
func ParseResult(s string) (*Result, error) {
	var wire struct {
		Scores         *Scores   `json:"scores"`
		Feedback       *Feedback `json:"feedback"`
		SampleResponse Text      `json:"sample_response"`
	}
	if err := json.Unmarshal([]byte(s), &wire); err != nil {
		return nil, err
	}
	if wire.Scores == nil {
		return nil, errors.New("reply has no scores")
	}
	if wire.Feedback == nil {
		return nil, errors.New("reply has no feedback")
	}
	return &Result{
		Scores:         *wire.Scores,
		Feedback:       *wire.Feedback,
		SampleResponse: wire.SampleResponse,
	}, nil
}
