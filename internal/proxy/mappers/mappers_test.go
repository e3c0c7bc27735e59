package mappers

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/pysugar/llm-proxy/internal/backend"
	"github.com/pysugar/llm-proxy/internal/envelope"
)

func TestShortModelName(t *testing.T) {
	cases := []struct{ in, want string }{
		{"llama3:q4_K_M", "llama3"},
		{"mistral-7b-Q5_0", "mistral-7b"},
		{"phi-4-GGUF", "phi-4"},
		{"qwen-32b-awq", "qwen-32b"},
		{"deepseek-r1", "deepseek-r1"},
		{"gpt-4o", "gpt-4o"},
	}
	for _, tc := range cases {
		if got := ShortModelName(tc.in); got != tc.want {
			t.Errorf("ShortModelName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestAttributionFooter(t *testing.T) {
	if got := AttributionFooter("llama3:q4_K_M"); got != "\n\n_[via llama3]_" {
		t.Errorf("AttributionFooter() = %q", got)
	}
	if got := AttributionFooter(""); got != "" {
		t.Errorf("AttributionFooter(\"\") = %q, want empty", got)
	}
}

// normalizedTurns renders an envelope's conversation in a
// dialect-independent form for round-trip comparison.
func normalizedTurns(env *envelope.Envelope) []string {
	out := []string{"system:" + env.System}
	for i := range env.Turns {
		t := &env.Turns[i]
		line := string(t.Role) + ":" + t.FlatText()
		for _, tc := range t.ToolCalls {
			line += "|call:" + tc.Name
		}
		out = append(out, line)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// A semantically-equivalent request expressed in any dialect must parse
// to the same normalized message list, and survive encode→parse through
// every other dialect.
func TestRequestRoundTripAcrossDialects(t *testing.T) {
	env := envelope.New(backend.DialectChatCompletions)
	env.System = "Be terse."
	env.ModelHint = "test-model"
	env.Turns = []envelope.Turn{
		{Role: envelope.RoleUser, Text: "What is a monad?"},
		{Role: envelope.RoleAssistant, Text: "A monoid in the category of endofunctors."},
		{Role: envelope.RoleUser, Text: "Say it simpler."},
	}
	want := normalizedTurns(env)

	dialects := []backend.Dialect{
		backend.DialectChatCompletions,
		backend.DialectMessages,
		backend.DialectResponses,
	}
	for _, src := range dialects {
		body, err := EncodeRequest(src, env, "test-model")
		if err != nil {
			t.Fatalf("EncodeRequest(%s) error = %v", src, err)
		}
		reparsed := envelope.New(src)
		if err := ParseRequest(src, body, reparsed); err != nil {
			t.Fatalf("ParseRequest(%s) error = %v", src, err)
		}
		if got := normalizedTurns(reparsed); !equalStrings(got, want) {
			t.Errorf("round trip via %s:\n got %v\nwant %v", src, got, want)
		}
		if reparsed.ModelHint != "test-model" {
			t.Errorf("%s: model hint = %q", src, reparsed.ModelHint)
		}
	}
}

func TestRequestRoundTripWithTools(t *testing.T) {
	env := envelope.New(backend.DialectChatCompletions)
	env.Tools = []envelope.ToolDef{{
		Name:        "web_search",
		Description: "search the web",
		Parameters: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"query": map[string]interface{}{"type": "string"}},
		},
	}}
	env.Turns = []envelope.Turn{
		{Role: envelope.RoleUser, Text: "look this up"},
		{Role: envelope.RoleAssistant, ToolCalls: []envelope.ToolCall{{ID: "call_1", Name: "web_search", Arguments: map[string]interface{}{"query": "btc"}}}},
		{Role: envelope.RoleTool, Parts: []envelope.Part{{Type: envelope.PartToolResult, ToolResult: &envelope.ToolResult{CallID: "call_1", Content: "BTC: 97000 USD"}}}},
	}

	for _, d := range []backend.Dialect{backend.DialectChatCompletions, backend.DialectMessages, backend.DialectResponses} {
		body, err := EncodeRequest(d, env, "m")
		if err != nil {
			t.Fatalf("EncodeRequest(%s) error = %v", d, err)
		}
		reparsed := envelope.New(d)
		if err := ParseRequest(d, body, reparsed); err != nil {
			t.Fatalf("ParseRequest(%s) error = %v", d, err)
		}
		if len(reparsed.Tools) != 1 || reparsed.Tools[0].Name != "web_search" {
			t.Errorf("%s: tools = %+v", d, reparsed.Tools)
		}
		foundCall, foundResult := false, false
		for i := range reparsed.Turns {
			for _, tc := range reparsed.Turns[i].ToolCalls {
				if tc.Name == "web_search" && tc.ID == "call_1" {
					foundCall = true
				}
			}
			for _, p := range reparsed.Turns[i].Parts {
				if p.Type == envelope.PartToolResult && p.ToolResult.CallID == "call_1" && strings.Contains(p.ToolResult.Content, "97000") {
					foundResult = true
				}
			}
		}
		if !foundCall || !foundResult {
			t.Errorf("%s: call=%v result=%v", d, foundCall, foundResult)
		}
	}
}

// A buffered response translated X → envelope → Y → envelope reconstructs
// the user-visible text modulo the attribution footer.
func TestResponseRoundTripAcrossDialects(t *testing.T) {
	env := envelope.New(backend.DialectChatCompletions)
	comp := &Completion{
		Model:        "test-model",
		Text:         "The capital of France is Paris.",
		StopReason:   "stop",
		InputTokens:  12,
		OutputTokens: 8,
	}
	for _, d := range []backend.Dialect{backend.DialectChatCompletions, backend.DialectMessages, backend.DialectResponses} {
		body, err := EncodeResponse(d, env, comp)
		if err != nil {
			t.Fatalf("EncodeResponse(%s) error = %v", d, err)
		}
		back, err := ParseResponse(d, body)
		if err != nil {
			t.Fatalf("ParseResponse(%s) error = %v", d, err)
		}
		wantText := comp.Text + AttributionFooter("test-model")
		if back.Text != wantText {
			t.Errorf("%s: text = %q, want %q", d, back.Text, wantText)
		}
		if back.InputTokens != 12 || back.OutputTokens != 8 {
			t.Errorf("%s: usage = %d/%d", d, back.InputTokens, back.OutputTokens)
		}
	}
}

func TestParseChatRequest_MultimodalContent(t *testing.T) {
	body := []byte(`{"model":"m","messages":[{"role":"user","content":[{"type":"text","text":"describe"},{"type":"image_url","image_url":{"url":"http://img"}},{"type":"text","text":"this"}]}]}`)
	env := envelope.New(backend.DialectChatCompletions)
	if err := ParseRequest(backend.DialectChatCompletions, body, env); err != nil {
		t.Fatalf("ParseRequest error = %v", err)
	}
	if len(env.Turns) != 1 {
		t.Fatalf("turns = %d", len(env.Turns))
	}
	if got := env.Turns[0].FlatText(); got != "describe\nthis" {
		t.Errorf("FlatText() = %q", got)
	}
	hasImage := false
	for _, p := range env.Turns[0].Parts {
		if p.Type == envelope.PartImage && p.ImageURL == "http://img" {
			hasImage = true
		}
	}
	if !hasImage {
		t.Error("image part lost")
	}
}

func TestParseMessagesRequest_SystemBlocks(t *testing.T) {
	body := []byte(`{"model":"m","system":[{"type":"text","text":"one"},{"type":"text","text":"two"}],"messages":[{"role":"user","content":"hi"}]}`)
	env := envelope.New(backend.DialectMessages)
	if err := ParseRequest(backend.DialectMessages, body, env); err != nil {
		t.Fatalf("ParseRequest error = %v", err)
	}
	if env.System != "one\ntwo" {
		t.Errorf("System = %q", env.System)
	}
}

func TestParseResponsesRequest_StringInput(t *testing.T) {
	body := []byte(`{"model":"m","input":"plain question","instructions":"be brief"}`)
	env := envelope.New(backend.DialectResponses)
	if err := ParseRequest(backend.DialectResponses, body, env); err != nil {
		t.Fatalf("ParseRequest error = %v", err)
	}
	if env.System != "be brief" {
		t.Errorf("System = %q", env.System)
	}
	if env.LastUserText() != "plain question" {
		t.Errorf("LastUserText() = %q", env.LastUserText())
	}
}

func TestEncodeChatResponse_ToolCallsSetFinishReason(t *testing.T) {
	env := envelope.New(backend.DialectChatCompletions)
	comp := &Completion{
		Model:     "m",
		ToolCalls: []envelope.ToolCall{{ID: "c1", Name: "web_search", Arguments: map[string]interface{}{"query": "x"}}},
	}
	body, err := EncodeResponse(backend.DialectChatCompletions, env, comp)
	if err != nil {
		t.Fatal(err)
	}
	var resp ChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatal(err)
	}
	if *resp.Choices[0].FinishReason != "tool_calls" {
		t.Errorf("finish_reason = %s", *resp.Choices[0].FinishReason)
	}
	if len(resp.Choices[0].Message.ToolCalls) != 1 {
		t.Errorf("tool_calls = %v", resp.Choices[0].Message.ToolCalls)
	}
	if resp.Choices[0].Message.ToolCalls[0].Function.Arguments != `{"query":"x"}` {
		t.Errorf("arguments = %s", resp.Choices[0].Message.ToolCalls[0].Function.Arguments)
	}
}

func TestParseChatResponse_ReasoningContent(t *testing.T) {
	body := []byte(`{"model":"deepseek-r1","choices":[{"index":0,"message":{"role":"assistant","content":"","reasoning_content":"The user is asking about tanks. Let me provide a recommendation. For a 50-gallon tank use a 200W heater."},"finish_reason":"stop"}]}`)
	comp, err := ParseResponse(backend.DialectChatCompletions, body)
	if err != nil {
		t.Fatal(err)
	}
	got := StripReasoning(comp.Text, comp.ReasoningContent, comp.Model)
	if !strings.HasPrefix(got, "For a 50-gallon tank") {
		t.Errorf("StripReasoning() = %q, want prefix \"For a 50-gallon tank\"", got)
	}
}
