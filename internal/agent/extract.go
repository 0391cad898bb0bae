package agent

import (
	"encoding/json"
	"strings"
)

var resultKeys = []string{"result", "output", "text"}

// ExtractText unwraps the text of a structured CLI result. Output that is
// not JSON is returned trimmed. An empty string means no usable text.
func ExtractText(stdout string) string {
	var payload any
	if err := json.Unmarshal([]byte(stdout), &payload); err != nil {
		return strings.TrimSpace(stdout)
	}
	obj, ok := payload.(map[string]any)
	if !ok {
		return ""
	}

	for _, key := range resultKeys {
		if s, ok := obj[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}

	items, ok := obj["content"].([]any)
	if !ok {
		return ""
	}
	lines := make([]string, 0, len(items))
	for _, item := range items {
		block, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if s, ok := block["text"].(string); ok && strings.TrimSpace(s) != "" {
			lines = append(lines, strings.TrimSpace(s))
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func trimmedOutput(stdout string) string {
	return strings.TrimSpace(stdout)
}
