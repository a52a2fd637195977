package usecase

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/Yuanja/watch-tracker-sub002/internal/biz/domain"
)

// strictToolCall matches a reply that is exactly one tool-call object on a
// single line, the format the agent prompt asks for.
var strictToolCall = regexp.MustCompile(`^\s*\{\s*"tool"\s*:\s*"[^"]+"\s*,\s*"params"\s*:\s*\{.*\}\s*\}\s*$`)

// ParseToolCall extracts a tool call from an LLM reply. The strict single-line
// form is tried first; failing that, the reply is scanned for an embedded JSON
// object carrying both "tool" and "params" keys, since models routinely wrap
// the call in prose or a markdown fence despite instructions. Returns nil when
// the reply contains no tool call, which means it is a direct answer.
func ParseToolCall(reply string) *domain.ToolCall {
	cleaned := stripFence(reply)

	if strictToolCall.MatchString(cleaned) {
		if call := decodeToolCall(cleaned); call != nil {
			return call
		}
	}

	for _, candidate := range scanJSONObjects(cleaned) {
		if call := decodeToolCall(candidate); call != nil {
			return call
		}
	}
	return nil
}

func decodeToolCall(s string) *domain.ToolCall {
	var raw struct {
		Tool   string         `json:"tool"`
		Params map[string]any `json:"params"`
	}
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil
	}
	if raw.Tool == "" || raw.Params == nil {
		return nil
	}
	return &domain.ToolCall{Tool: raw.Tool, Params: raw.Params}
}

// scanJSONObjects returns every top-level {...} span in the text that mentions
// both required keys. Brace depth is tracked with string and escape state so
// braces inside JSON strings do not truncate the span.
func scanJSONObjects(text string) []string {
	var objects []string

	depth := 0
	start := -1
	inString := false
	escaped := false

	for i, r := range text {
		if escaped {
			escaped = false
			continue
		}
		if inString {
			switch r {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				span := text[start : i+1]
				if strings.Contains(span, `"tool"`) && strings.Contains(span, `"params"`) {
					objects = append(objects, span)
				}
				start = -1
			}
		}
	}
	return objects
}
