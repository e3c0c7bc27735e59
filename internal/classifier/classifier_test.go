package classifier

import (
	"context"
	"errors"
	"testing"

	"github.com/pysugar/llm-proxy/internal/backend"
	"github.com/pysugar/llm-proxy/internal/config"
	"github.com/pysugar/llm-proxy/internal/envelope"
)

func testRegistry(t *testing.T) *backend.Registry {
	t.Helper()
	cfg := &config.Config{
		Backends: map[string]config.BackendConfig{
			"fastchat": {URL: "http://x", Dialect: "chat-completions", Specialties: []string{"conversation"}, ContextWindow: 16384, Speed: "fast"},
			"scholar":  {URL: "http://y", Dialect: "messages", Specialties: []string{"research"}, ContextWindow: 200000, Speed: "slow", Premium: true},
		},
		DefaultBackend: "fastchat",
	}
	reg, err := backend.NewRegistry(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

type stubAsker struct {
	answer string
	err    error
	asked  int
}

func (s *stubAsker) Ask(_ context.Context, _ *backend.Backend, _, _ string, _ int, _ float64) (string, error) {
	s.asked++
	return s.answer, s.err
}

func userEnv(text string) *envelope.Envelope {
	env := envelope.New(backend.DialectChatCompletions)
	env.Turns = []envelope.Turn{{Role: envelope.RoleUser, Text: text}}
	return env
}

func TestQuickTierTable(t *testing.T) {
	cases := []struct {
		text         string
		category     string
		minConf      float64
		retrySearch  bool
	}{
		{"Hi!", envelope.CategoryGreetings, 0.99, false},
		{"good morning", envelope.CategoryGreetings, 0.99, false},
		{"", envelope.CategoryConversation, 0.85, false},
		{"thanks a lot", envelope.CategoryConversation, 0.85, false},
		{"Do I need an umbrella in Paris today?", envelope.CategoryRealtime, 0.95, false},
		{"what's the weather forecast for Berlin", envelope.CategoryRealtime, 0.95, false},
		{"is github down right now?", envelope.CategoryRealtime, 0.94, false},
		{"what's the bitcoin price", envelope.CategoryRealtime, 0.95, false},
		{"price of gold today please", envelope.CategoryRealtime, 0.95, false},
		{"show me the latest news headlines from around the world", envelope.CategoryRealtime, 0.93, false},
		{"that's outdated, look it up", envelope.CategoryRealtime, 0.93, true},
		{"```go\nfunc main() {}\n```", envelope.CategoryCode, 0.95, false},
		{"why does my python traceback show a KeyError in this function", envelope.CategoryCode, 0.95, false},
		{"I need a comprehensive overview of the state of the art in battery chemistry", envelope.CategoryResearch, 0.91, false},
	}
	for _, tc := range cases {
		v := classifyQuick(tc.text)
		if v == nil {
			t.Errorf("classifyQuick(%q) = nil, want %s", tc.text, tc.category)
			continue
		}
		if v.Category != tc.category {
			t.Errorf("classifyQuick(%q) category = %s, want %s", tc.text, v.Category, tc.category)
		}
		if v.Confidence < tc.minConf {
			t.Errorf("classifyQuick(%q) confidence = %v, want >= %v", tc.text, v.Confidence, tc.minConf)
		}
		if v.RetryWithSearch != tc.retrySearch {
			t.Errorf("classifyQuick(%q) retryWithSearch = %v", tc.text, v.RetryWithSearch)
		}
		if v.Source != envelope.SourceQuickRegex {
			t.Errorf("classifyQuick(%q) source = %s", tc.text, v.Source)
		}
	}
}

func TestQuickTierDefersLongMessages(t *testing.T) {
	long := "Could you walk me through the tradeoffs between event sourcing and CRUD for a mid-size ecommerce platform over the next five years"
	if v := classifyQuick(long); v != nil {
		t.Errorf("classifyQuick(long prose) = %+v, want nil (defer)", v)
	}
}

func TestFastModelProbe_Yes(t *testing.T) {
	reg := testRegistry(t)
	asker := &stubAsker{answer: "YES"}
	c := New(reg, asker, nil, "")
	env := userEnv("when does the next solar eclipse happen over the atlantic and is it visible")
	v := c.Classify(context.Background(), env)
	if v == nil || v.Category != envelope.CategoryRealtime || v.Source != envelope.SourceFastModel {
		t.Fatalf("Classify() = %+v, want realtime via fast-model", v)
	}
}

func TestFastModelProbe_SkippedWhenClientHasTools(t *testing.T) {
	reg := testRegistry(t)
	asker := &stubAsker{answer: "YES"}
	c := New(reg, asker, nil, "")
	env := userEnv("when does the next solar eclipse happen over the atlantic and is it visible")
	env.Tools = []envelope.ToolDef{{Name: "my_tool"}}
	c.Classify(context.Background(), env)
	// No Ask is expected: the probe is skipped and the llm tier is off
	// (empty classifier backend).
	if asker.asked != 0 {
		t.Errorf("probe ran %d times, want 0 when client declares tools", asker.asked)
	}
}

func TestLLMTierParsesEmbeddedJSON(t *testing.T) {
	reg := testRegistry(t)
	asker := &stubAsker{answer: "Sure, here's the result:\n{\"category\":\"research\",\"confidence\":0.8,\"complexity\":\"complex\",\"keywords\":[\"survey\"],\"suggested_backends\":[\"scholar\"],\"reasoning\":\"multi-source\"}"}
	c := New(reg, asker, nil, "fastchat")
	env := userEnv("please assemble a broad comparison of grid storage technologies and their adoption curves")
	v := c.Classify(context.Background(), env)
	if v == nil {
		t.Fatal("Classify() = nil")
	}
	if v.Category != envelope.CategoryResearch || v.Source != envelope.SourceLLM {
		t.Errorf("Classify() = %+v", v)
	}
	if len(v.SuggestedBackends) != 1 || v.SuggestedBackends[0] != "scholar" {
		t.Errorf("SuggestedBackends = %v", v.SuggestedBackends)
	}
}

func TestLLMTierFailureDowngradesToNil(t *testing.T) {
	reg := testRegistry(t)
	asker := &stubAsker{err: errors.New("connection refused")}
	c := New(reg, asker, nil, "fastchat")
	env := userEnv("please assemble a broad comparison of grid storage technologies and their adoption curves")
	if v := c.Classify(context.Background(), env); v != nil {
		t.Errorf("Classify() = %+v, want nil on tier failures", v)
	}
}

func TestExtractJSONBlock(t *testing.T) {
	cases := []struct{ in, want string }{
		{`prefix {"a":1} suffix`, `{"a":1}`},
		{`{"nested":{"b":2}}`, `{"nested":{"b":2}}`},
		{`{"s":"brace } in string"} tail`, `{"s":"brace } in string"}`},
		{`no json here`, ``},
		{`{"unterminated":`, ``},
	}
	for _, tc := range cases {
		if got := extractJSONBlock(tc.in); got != tc.want {
			t.Errorf("extractJSONBlock(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

type stubPrefs struct {
	overrides map[string]string
	quality   string
}

func (p *stubPrefs) Preference(string) (map[string]string, string, bool) {
	return p.overrides, p.quality, true
}

func TestPreferenceOverrideRewritesSuggestions(t *testing.T) {
	reg := testRegistry(t)
	prefs := &stubPrefs{overrides: map[string]string{envelope.CategoryGreetings: "scholar"}}
	c := New(reg, nil, prefs, "")
	env := userEnv("Hello!")
	env.UserID = "u1"
	v := c.Classify(context.Background(), env)
	if v == nil || len(v.SuggestedBackends) != 1 || v.SuggestedBackends[0] != "scholar" {
		t.Fatalf("Classify() = %+v, want override to scholar", v)
	}
	if v.Source != envelope.SourceOverride {
		t.Errorf("Source = %s, want override", v.Source)
	}
}

func TestHighQualityAddsPremium(t *testing.T) {
	reg := testRegistry(t)
	prefs := &stubPrefs{quality: "high"}
	c := New(reg, nil, prefs, "")
	env := userEnv("```python\nprint(1)\n```")
	env.UserID = "u1"
	v := c.Classify(context.Background(), env)
	if v == nil {
		t.Fatal("Classify() = nil")
	}
	found := false
	for _, b := range v.SuggestedBackends {
		if b == "scholar" {
			found = true
		}
	}
	if !found {
		t.Errorf("high quality preference should add premium; got %v", v.SuggestedBackends)
	}
}
