package ocr

import (
	"encoding/json"
	"strings"
)

// Normalize trims every line of extracted text and drops the blank ones.
func Normalize(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// ParseContent splits a note's content into its quote and memo parts. Content
// is either a JSON object {"quote": ..., "memo": ...} or free text, which is
// taken as the memo.
func ParseContent(content *string) (quote, memo *string) {
	if content == nil || strings.TrimSpace(*content) == "" {
		return nil, nil
	}

	var raw any
	if err := json.Unmarshal([]byte(*content), &raw); err != nil {
		text := *content
		return nil, &text
	}

	fields, ok := raw.(map[string]any)
	if !ok {
		return nil, nil
	}
	return stringField(fields, "quote"), stringField(fields, "memo")
}

func stringField(m map[string]any, key string) *string {
	s, ok := m[key].(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}
