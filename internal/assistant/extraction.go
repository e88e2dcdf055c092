package assistant

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// actionBlock is the fenced-JSON fallback protocol some OpenAI-compatible
// backends (notably plain Ollama models with no native tool-calling) use
// instead of the wire-level tools/tool_calls fields.
type actionBlock struct {
	Actions []struct {
		Type       string          `json:"type"`
		Parameters json.RawMessage `json:"parameters"`
	} `json:"actions"`
}

var fencedActionBlock = regexp.MustCompile("(?is)`{2,3}json:action\\s*\\n(.*?)`{2,3}")

// ExtractFencedToolCalls scans content for ```json:action fenced blocks,
// parses any found as {"actions":[{"type","parameters"}, ...]}, and
// returns the content with those blocks stripped alongside the calls they
// named. It never returns an error: a malformed block is left untouched
// in the returned content and simply yields no calls, since a chat
// response is still worth showing even if one of its action blocks was
// garbled by the model.
func ExtractFencedToolCalls(content string) (string, []NativeToolCall) {
	var calls []NativeToolCall

	cleaned := fencedActionBlock.ReplaceAllStringFunc(content, func(block string) string {
		match := fencedActionBlock.FindStringSubmatch(block)
		if len(match) != 2 {
			return block
		}
		var parsed actionBlock
		if err := json.Unmarshal([]byte(match[1]), &parsed); err != nil {
			return block
		}
		for i, action := range parsed.Actions {
			if action.Type == "" {
				continue
			}
			calls = append(calls, NativeToolCall{
				ID:        syntheticCallID(len(calls), i),
				Name:      action.Type,
				Arguments: action.Parameters,
			})
		}
		return ""
	})

	return strings.TrimSpace(cleaned), calls
}

func syntheticCallID(callIdx, actionIdx int) string {
	return "fenced-" + strconv.Itoa(callIdx) + "-" + strconv.Itoa(actionIdx)
}
