package shared

import (
	"encoding/json"
	"strings"
)

// ParseStructuredModelOutput decodes JSON that a model was asked to produce into out.
//
// Models often wrap JSON in markdown fences or surround it with prose. The text is
// tried as-is, then with code fences stripped, then as the span between the first
// '{' and the last '}'. If nothing decodes, out is set to fallback and false is returned.
func ParseStructuredModelOutput[T any](text string, fallback T, out *T) bool {
	for _, candidate := range structuredCandidates(text) {
		var v T
		if err := json.Unmarshal([]byte(candidate), &v); err == nil {
			*out = v
			return true
		}
	}
	*out = fallback
	return false
}

func structuredCandidates(text string) []string {
	text = strings.TrimSpace(text)
	candidates := []string{text}

	stripped := stripCodeFences(text)
	if stripped != text {
		candidates = append(candidates, stripped)
	}

	start := strings.Index(stripped, "{")
	end := strings.LastIndex(stripped, "}")
	if start >= 0 && end > start {
		candidates = append(candidates, stripped[start:end+1])
	}
	return candidates
}

func stripCodeFences(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	// Drop an optional language tag such as ```json.
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
