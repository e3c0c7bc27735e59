package router

import (
	"path/filepath"
	"testing"

	"github.com/pysugar/llm-proxy/internal/backend"
	"github.com/pysugar/llm-proxy/internal/config"
	"github.com/pysugar/llm-proxy/internal/envelope"
)

func testRegistry(t *testing.T) *backend.Registry {
	t.Helper()
	cfg := &config.Config{
		Backends: map[string]config.BackendConfig{
			"fastchat":   {URL: "http://a", Dialect: "chat-completions", Specialties: []string{"conversation", "greetings"}, ContextWindow: 16384, Speed: "fast"},
			"coder":      {URL: "http://b", Dialect: "chat-completions", Specialties: []string{"code", "complex"}, ContextWindow: 65536, Speed: "medium"},
			"scholar":    {URL: "http://c", Dialect: "messages", Specialties: []string{"research", "complex"}, ContextWindow: 200000, Speed: "slow", Premium: true},
			"generalist": {URL: "http://d", Dialect: "responses", Specialties: []string{"conversation", "research"}, ContextWindow: 128000, Speed: "medium"},
		},
		DefaultBackend: "fastchat",
		Router:         config.RouterConfig{Enabled: true},
	}
	reg, err := backend.NewRegistry(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

func newTestRouter(t *testing.T) (*Router, *History) {
	t.Helper()
	hist := NewHistory(filepath.Join(t.TempDir(), "history.json"))
	return New(testRegistry(t), hist), hist
}

func TestRoute_NilVerdictUsesDefault(t *testing.T) {
	r, _ := newTestRouter(t)
	d := r.Route(nil, 100, "", false)
	if d.Primary != "fastchat" {
		t.Errorf("Primary = %s, want fastchat", d.Primary)
	}
	if d.Reason != "no classification" {
		t.Errorf("Reason = %q", d.Reason)
	}
	if !containsName(d.AllBackends, d.Primary) {
		t.Error("primary must appear in allBackends")
	}
}

func TestRoute_SpecialtyWins(t *testing.T) {
	r, _ := newTestRouter(t)
	v := &envelope.Verdict{Category: envelope.CategoryCode, Confidence: 0.95, Complexity: envelope.ComplexityModerate}
	d := r.Route(v, 100, "", false)
	if d.Primary != "coder" {
		t.Errorf("Primary = %s, want coder", d.Primary)
	}
	if len(d.Candidates) == 0 || d.Candidates[0].Backend != "coder" {
		t.Errorf("Candidates = %v", d.Candidates)
	}
	if len(d.Candidates) > 4 {
		t.Errorf("candidate list should cap at 4, got %d", len(d.Candidates))
	}
}

func TestRoute_UnknownSuggestionsDropped(t *testing.T) {
	r, _ := newTestRouter(t)
	v := &envelope.Verdict{
		Category:          envelope.CategoryConversation,
		Confidence:        0.9,
		Complexity:        envelope.ComplexitySimple,
		SuggestedBackends: []string{"ghost", "fastchat"},
	}
	d := r.Route(v, 10, "", false)
	if d.Primary != "fastchat" {
		t.Errorf("Primary = %s, want fastchat", d.Primary)
	}
}

func TestRoute_MultiModelExpansion(t *testing.T) {
	r, _ := newTestRouter(t)
	v := &envelope.Verdict{
		Category:          envelope.CategoryMulti,
		Confidence:        0.85,
		Complexity:        envelope.ComplexityComplex,
		SuggestedBackends: []string{"fastchat", "coder", "scholar", "generalist"},
	}
	d := r.Route(v, 10, "", false)
	if !d.MultiModel {
		t.Fatal("MultiModel should be set")
	}
	if len(d.AllBackends) < 3 {
		t.Errorf("AllBackends = %v, want top 3 of suggested", d.AllBackends)
	}
	if !containsName(d.AllBackends, d.Primary) {
		t.Error("primary must appear in allBackends")
	}
}

func TestRoute_ExpertLowConfidenceFansOut(t *testing.T) {
	r, _ := newTestRouter(t)
	v := &envelope.Verdict{
		Category:          envelope.CategoryComplex,
		Confidence:        0.6,
		Complexity:        envelope.ComplexityExpert,
		SuggestedBackends: []string{"coder", "scholar"},
	}
	d := r.Route(v, 10, "", false)
	if !d.MultiModel {
		t.Error("expert+low-confidence should fan out")
	}
}

func TestRoute_ContextWindowForcing(t *testing.T) {
	r, _ := newTestRouter(t)
	v := &envelope.Verdict{Category: envelope.CategoryConversation, Confidence: 0.9, Complexity: envelope.ComplexitySimple}
	d := r.Route(v, 50000, "", false)
	// fastchat (16k) cannot hold 50k tokens; coder (65k) is first by name
	if d.Primary != "coder" {
		t.Errorf("Primary = %s, want coder (window forced)", d.Primary)
	}
}

func TestRoute_ToolsOverrideToPremium(t *testing.T) {
	r, _ := newTestRouter(t)
	v := &envelope.Verdict{Category: envelope.CategoryConversation, Confidence: 0.95, Complexity: envelope.ComplexitySimple}
	d := r.Route(v, 10, "", true)
	if d.Primary != "scholar" {
		t.Errorf("Primary = %s, want scholar (premium)", d.Primary)
	}
	if !d.ToolsRouted {
		t.Error("ToolsRouted should be set")
	}
}

// Tools override applies after the user's preferred model: a preference
// cannot keep foreign tool schemas off the premium backend.
func TestRoute_ToolsOverrideBeatsPreference(t *testing.T) {
	r, hist := newTestRouter(t)
	hist.SetPreference("u1", PreferenceRecord{PreferredModels: map[string]string{envelope.CategoryCode: "coder"}})
	v := &envelope.Verdict{
		Category:          envelope.CategoryCode,
		Confidence:        0.95,
		Complexity:        envelope.ComplexityModerate,
		SuggestedBackends: []string{"coder"},
	}
	d := r.Route(v, 10, "u1", true)
	if d.Primary != "scholar" || !d.ToolsRouted {
		t.Errorf("decision = %+v, want premium override", d)
	}
}

// Window forcing applies before the user preference: the preference only
// sticks when the preferred backend is in the suggested set, and it can
// re-pick after forcing.
func TestRoute_PreferenceAppliesAfterWindowForcing(t *testing.T) {
	r, hist := newTestRouter(t)
	hist.SetPreference("u2", PreferenceRecord{PreferredModels: map[string]string{envelope.CategoryConversation: "scholar"}})
	// fastchat scores highest, is forced to coder by the 50k window, and
	// the preference then re-picks scholar.
	v := &envelope.Verdict{
		Category:          envelope.CategoryConversation,
		Confidence:        0.9,
		Complexity:        envelope.ComplexityComplex,
		SuggestedBackends: []string{"fastchat", "scholar"},
	}
	d := r.Route(v, 50000, "u2", false)
	if d.Primary != "scholar" {
		t.Errorf("Primary = %s, want scholar (preference after forcing)", d.Primary)
	}
}

func TestRoute_DecisionRecorded(t *testing.T) {
	r, hist := newTestRouter(t)
	r.Route(&envelope.Verdict{Category: envelope.CategoryCode, Confidence: 0.95, Complexity: envelope.ComplexityModerate}, 10, "", false)
	recent := hist.Recent(10)
	if len(recent) != 1 || recent[0].Backend != "coder" {
		t.Errorf("Recent() = %v", recent)
	}
}

func TestRoute_PrimaryAlwaysConfigured(t *testing.T) {
	r, _ := newTestRouter(t)
	reg := testRegistry(t)
	verdicts := []*envelope.Verdict{
		nil,
		{Category: envelope.CategoryGreetings, Confidence: 0.99, Complexity: envelope.ComplexitySimple},
		{Category: envelope.CategoryMulti, Confidence: 0.5, Complexity: envelope.ComplexityExpert, SuggestedBackends: []string{"ghost"}},
		{Category: envelope.CategoryUnclassified, Confidence: 0, Complexity: envelope.ComplexityModerate},
	}
	for _, v := range verdicts {
		d := r.Route(v, 10, "", false)
		if _, ok := reg.Get(d.Primary); !ok {
			t.Errorf("Primary %q not in descriptor set (verdict %+v)", d.Primary, v)
		}
		if !containsName(d.AllBackends, d.Primary) {
			t.Errorf("primary %q missing from allBackends %v", d.Primary, d.AllBackends)
		}
	}
}
