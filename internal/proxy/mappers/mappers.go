// Package mappers converts between the three chat-completion dialects and
// the internal envelope. Each dialect gets a total pair of functions per
// direction; streaming goes through the StreamTranslator state machine.
package mappers

import (
	"fmt"
	"regexp"

	"github.com/pysugar/llm-proxy/internal/backend"
	"github.com/pysugar/llm-proxy/internal/envelope"
)

// Completion is the dialect-neutral form of one model response.
type Completion struct {
	Model            string
	Text             string
	ReasoningContent string
	ToolCalls        []envelope.ToolCall
	StopReason       string // stop | tool_calls | length
	InputTokens      int
	OutputTokens     int
}

// ParseRequest decodes a client request body into the envelope.
func ParseRequest(dialect backend.Dialect, body []byte, env *envelope.Envelope) error {
	switch dialect {
	case backend.DialectChatCompletions:
		return parseChatRequest(body, env)
	case backend.DialectMessages:
		return parseMessagesRequest(body, env)
	case backend.DialectResponses:
		return parseResponsesRequest(body, env)
	}
	return fmt.Errorf("unknown dialect %q", dialect)
}

// EncodeRequest renders the envelope as a request body in the target
// backend's dialect.
func EncodeRequest(dialect backend.Dialect, env *envelope.Envelope, model string) ([]byte, error) {
	switch dialect {
	case backend.DialectChatCompletions:
		return encodeChatRequest(env, model)
	case backend.DialectMessages:
		return encodeMessagesRequest(env, model)
	case backend.DialectResponses:
		return encodeResponsesRequest(env, model)
	}
	return nil, fmt.Errorf("unknown dialect %q", dialect)
}

// ParseResponse decodes an upstream buffered response body.
func ParseResponse(dialect backend.Dialect, body []byte) (*Completion, error) {
	switch dialect {
	case backend.DialectChatCompletions:
		return parseChatResponse(body)
	case backend.DialectMessages:
		return parseMessagesResponse(body)
	case backend.DialectResponses:
		return parseResponsesResponse(body)
	}
	return nil, fmt.Errorf("unknown dialect %q", dialect)
}

// EncodeResponse renders a completion as a buffered response in the
// client's dialect, appending the attribution footer.
func EncodeResponse(dialect backend.Dialect, env *envelope.Envelope, comp *Completion) ([]byte, error) {
	switch dialect {
	case backend.DialectChatCompletions:
		return encodeChatResponse(env, comp)
	case backend.DialectMessages:
		return encodeMessagesResponse(env, comp)
	case backend.DialectResponses:
		return encodeResponsesResponse(env, comp)
	}
	return nil, fmt.Errorf("unknown dialect %q", dialect)
}

// quantSuffix matches trailing quantization/format markers on model ids
// ("llama3:q4_K_M", "mistral-7b-Q5_0", "phi-4-GGUF", "qwen-32b-awq").
var quantSuffix = regexp.MustCompile(`(?i)[-:.](q\d[\w]*|gguf|awq|gptq|fp16|bf16|int[48]|\d+bit)$`)

// ShortModelName strips the quantization/format suffix from a model id.
func ShortModelName(model string) string {
	for {
		stripped := quantSuffix.ReplaceAllString(model, "")
		if stripped == model {
			return model
		}
		model = stripped
	}
}

// AttributionFooter is the short footer appended to user-visible text.
func AttributionFooter(model string) string {
	if model == "" {
		return ""
	}
	return "\n\n_[via " + ShortModelName(model) + "]_"
}

// visibleText applies the reasoning filter and attribution footer to a
// completion, returning what the client should see.
func visibleText(comp *Completion) string {
	text := StripReasoning(comp.Text, comp.ReasoningContent, comp.Model)
	if len(comp.ToolCalls) > 0 && text == "" {
		return ""
	}
	return text + AttributionFooter(comp.Model)
}
