package llm

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"labeler_server/core/domain"
)

// extractJSONObject returns the first balanced {...} span in s.
// Braces inside JSON strings are ignored. A '{' that never closes is skipped
// and the scan resumes at the next one.
func extractJSONObject(s string) (string, bool) {
	for from := 0; from < len(s); {
		off := strings.IndexByte(s[from:], '{')
		if off < 0 {
			return "", false
		}
		start := from + off
		if end, ok := balancedEnd(s, start); ok {
			return s[start : end+1], true
		}
		from = start + 1
	}
	return "", false
}

// balancedEnd returns the index of the '}' closing the '{' at start.
func balancedEnd(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// classificationWire is the exact shape the model must return.
// Pointer fields distinguish "missing" from zero values.
type classificationWire struct {
	SuggestedLabels    *[]string `json:"suggestedLabels"`
	Confidence         *float64  `json:"confidence"`
	Reasoning          *string   `json:"reasoning"`
	NeedsReply         *bool     `json:"needsReply"`
	SuggestedReplyText *string   `json:"suggestedReplyText"`
}

// parseClassification validates a raw model answer. It never coerces:
// unknown fields, wrong types and out-of-range values are rejected.
func parseClassification(raw string) (*domain.ClassificationResult, error) {
	obj, ok := extractJSONObject(raw)
	if !ok {
		return nil, &domain.ClassificationFormatError{Reason: "no JSON object in response", Raw: raw}
	}

	var wire classificationWire
	dec := json.NewDecoder(bytes.NewReader([]byte(obj)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&wire); err != nil {
		return nil, &domain.ClassificationFormatError{Reason: "invalid JSON", Raw: raw, Err: err}
	}

	if wire.SuggestedLabels == nil {
		return nil, &domain.ClassificationFormatError{Reason: "missing suggestedLabels", Raw: raw}
	}
	if wire.Confidence == nil {
		return nil, &domain.ClassificationFormatError{Reason: "missing confidence", Raw: raw}
	}
	if c := *wire.Confidence; c < 0 || c > 1 {
		return nil, &domain.ClassificationFormatError{Reason: fmt.Sprintf("confidence %v out of range [0,1]", c), Raw: raw}
	}

	labels := *wire.SuggestedLabels
	if len(labels) > domain.MaxSuggestedLabels {
		return nil, &domain.ClassificationFormatError{
			Reason: fmt.Sprintf("%d labels suggested, at most %d allowed", len(labels), domain.MaxSuggestedLabels),
			Raw:    raw,
		}
	}

	result := &domain.ClassificationResult{
		SuggestedLabels: make([]string, 0, len(labels)),
		Confidence:      *wire.Confidence,
	}
	for i, name := range labels {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, &domain.ClassificationFormatError{Reason: fmt.Sprintf("label %d is empty", i), Raw: raw}
		}
		result.SuggestedLabels = append(result.SuggestedLabels, name)
	}
	if wire.Reasoning != nil {
		result.Reasoning = *wire.Reasoning
	}
	if wire.NeedsReply != nil {
		result.NeedsReply = *wire.NeedsReply
	}
	if wire.SuggestedReplyText != nil {
		result.SuggestedReply = strings.TrimSpace(*wire.SuggestedReplyText)
	}

	return result, nil
}
