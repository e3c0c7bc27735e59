package tools

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pysugar/llm-proxy/internal/envelope"
	"github.com/pysugar/llm-proxy/internal/proxy/mappers"
	"github.com/tidwall/gjson"
)

// toolCallTagRe matches Hermes-style tool calls embedded in content.
var toolCallTagRe = regexp.MustCompile(`(?is)<tool_call>\s*(\{.*?\})\s*</tool_call>`)

// DetectCalls finds tool invocations in a completion, in priority order:
// native structured calls, <tool_call> XML tags, then (only when tools
// were injected by the gateway) a bare-JSON body. The returned text is
// the content with any recognized call markup removed.
func DetectCalls(comp *mappers.Completion, toolsInjected bool) ([]envelope.ToolCall, string) {
	// 1. Native structured tool calls.
	if len(comp.ToolCalls) > 0 {
		return comp.ToolCalls, comp.Text
	}

	text := comp.Text

	// 2. XML-tagged calls embedded in content.
	if matches := toolCallTagRe.FindAllStringSubmatch(text, -1); len(matches) > 0 {
		var calls []envelope.ToolCall
		for i, m := range matches {
			var parsed struct {
				Name      string                 `json:"name"`
				Arguments map[string]interface{} `json:"arguments"`
			}
			if err := json.Unmarshal([]byte(m[1]), &parsed); err != nil || parsed.Name == "" {
				continue
			}
			calls = append(calls, envelope.ToolCall{
				ID:        newCallID(i),
				Name:      parsed.Name,
				Arguments: parsed.Arguments,
			})
		}
		if len(calls) > 0 {
			return calls, strings.TrimSpace(toolCallTagRe.ReplaceAllString(text, ""))
		}
	}

	// 3. Bare-JSON fallback: the whole trimmed body is one JSON object
	// with a name string AND an arguments object. Heuristic, so only when
	// we injected tools ourselves.
	if toolsInjected {
		trimmed := strings.TrimSpace(text)
		if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") && gjson.Valid(trimmed) {
			name := gjson.Get(trimmed, "name")
			args := gjson.Get(trimmed, "arguments")
			if name.Type == gjson.String && name.String() != "" && args.IsObject() {
				arguments := map[string]interface{}{}
				_ = json.Unmarshal([]byte(args.Raw), &arguments)
				call := envelope.ToolCall{ID: newCallID(0), Name: name.String(), Arguments: arguments}
				return []envelope.ToolCall{call}, ""
			}
		}
	}

	return nil, text
}

func newCallID(i int) string {
	return "call_" + uuid.New().String()[:8] + "_" + strconv.Itoa(i)
}
