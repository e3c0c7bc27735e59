// Package classifier produces a category verdict for the latest user
// turn. Three tiers run in order — quick regex rules, a fast-model
// realtime probe, and a structured-JSON LLM classification — and the
// first tier reaching the confidence gate wins. Classification never
// fails a request: every error degrades to the next tier or to a nil
// verdict.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/pysugar/llm-proxy/internal/backend"
	"github.com/pysugar/llm-proxy/internal/envelope"
	"github.com/pysugar/llm-proxy/internal/util"
)

// confidenceGate is the threshold at which a tier's verdict is final.
const confidenceGate = 0.9

// Asker performs a single bounded completion against a backend. The
// pipeline provides the implementation so the classifier stays free of
// wire-format concerns.
type Asker interface {
	Ask(ctx context.Context, b *backend.Backend, system, user string, maxTokens int, temperature float64) (string, error)
}

// PreferenceProvider exposes the per-user preference records kept by the
// router history.
type PreferenceProvider interface {
	Preference(userID string) (categoryOverrides map[string]string, quality string, ok bool)
}

// Classifier runs the tiered classification.
type Classifier struct {
	reg    *backend.Registry
	asker  Asker
	prefs  PreferenceProvider
	cbName string // classifier backend for the LLM tier
}

// New creates a classifier. asker and prefs may be nil (tiers degrade).
func New(reg *backend.Registry, asker Asker, prefs PreferenceProvider, classifierBackend string) *Classifier {
	return &Classifier{reg: reg, asker: asker, prefs: prefs, cbName: classifierBackend}
}

// Classify returns a verdict for the envelope, or nil to defer to the
// default backend.
func (c *Classifier) Classify(ctx context.Context, env *envelope.Envelope) *envelope.Verdict {
	text := env.LastUserText()

	verdict := classifyQuick(text)
	if verdict != nil && verdict.Confidence >= confidenceGate {
		c.applyPreferences(env.UserID, verdict)
		return verdict
	}

	// Fast-model realtime probe. Skipped when the client brought its own
	// tools or the quick tier already said realtime.
	alreadyRealtime := verdict != nil && verdict.Category == envelope.CategoryRealtime
	if !alreadyRealtime && len(env.Tools) == 0 {
		if rt := c.probeRealtime(ctx, text); rt != nil {
			c.applyPreferences(env.UserID, rt)
			return rt
		}
	}

	if llm := c.classifyLLM(ctx, text); llm != nil {
		c.applyPreferences(env.UserID, llm)
		return llm
	}

	// Fall back to whatever the quick tier produced, even under the gate.
	if verdict != nil {
		c.applyPreferences(env.UserID, verdict)
	}
	return verdict
}

// probeRealtime asks the smallest backend a YES/NO question about
// currency of information. Any failure is a silent nil.
func (c *Classifier) probeRealtime(ctx context.Context, text string) *envelope.Verdict {
	if c.asker == nil {
		return nil
	}
	small := c.reg.Smallest()
	if small == nil {
		return nil
	}
	prompt := fmt.Sprintf(
		"Does answering the following require current, up-to-the-minute information (weather, prices, news, service status)? Reply with exactly YES or NO.\n\n%s",
		util.TruncateLog(text, 500))
	answer, err := c.asker.Ask(ctx, small, "You answer with a single word: YES or NO.", prompt, 4, 0.0)
	if err != nil {
		log.Printf("⚠️ classifier: fast-model probe failed: %v", err)
		return nil
	}
	if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(answer)), "YES") {
		return &envelope.Verdict{
			Category:   envelope.CategoryRealtime,
			Confidence: 0.9,
			Complexity: envelope.ComplexitySimple,
			Source:     envelope.SourceFastModel,
			Reasoning:  "fast-model realtime probe",
		}
	}
	return nil
}

// llmVerdict is the JSON shape the LLM tier is asked to emit.
type llmVerdict struct {
	Category          string   `json:"category"`
	Confidence        float64  `json:"confidence"`
	Complexity        string   `json:"complexity"`
	Keywords          []string `json:"keywords"`
	SuggestedBackends []string `json:"suggested_backends"`
	Reasoning         string   `json:"reasoning"`
}

var validCategories = map[string]bool{
	envelope.CategoryGreetings:    true,
	envelope.CategoryConversation: true,
	envelope.CategoryCode:         true,
	envelope.CategoryResearch:     true,
	envelope.CategoryComplex:      true,
	envelope.CategoryRealtime:     true,
	envelope.CategoryMulti:        true,
	envelope.CategoryUnclassified: true,
}

// classifyLLM runs the structured-JSON tier against the configured
// classifier backend. Parse failures return nil.
func (c *Classifier) classifyLLM(ctx context.Context, text string) *envelope.Verdict {
	if c.asker == nil || c.cbName == "" {
		return nil
	}
	cb, ok := c.reg.Get(c.cbName)
	if !ok {
		return nil
	}

	answer, err := c.asker.Ask(ctx, cb, "You are a routing classifier. Return ONLY a JSON object.", c.buildPrompt(text), 300, 0.1)
	if err != nil {
		log.Printf("⚠️ classifier: llm tier failed: %v", err)
		return nil
	}

	block := extractJSONBlock(answer)
	if block == "" {
		log.Printf("⚠️ classifier: llm tier returned no JSON block")
		return nil
	}
	var parsed llmVerdict
	if err := json.Unmarshal([]byte(block), &parsed); err != nil {
		log.Printf("⚠️ classifier: llm tier parse error: %v", err)
		return nil
	}
	if !validCategories[parsed.Category] {
		parsed.Category = envelope.CategoryUnclassified
	}
	if parsed.Confidence < 0 {
		parsed.Confidence = 0
	}
	if parsed.Confidence > 1 {
		parsed.Confidence = 1
	}
	if parsed.Complexity == "" {
		parsed.Complexity = envelope.ComplexityModerate
	}
	return &envelope.Verdict{
		Category:          parsed.Category,
		Confidence:        parsed.Confidence,
		Complexity:        parsed.Complexity,
		Keywords:          parsed.Keywords,
		SuggestedBackends: parsed.SuggestedBackends,
		Reasoning:         parsed.Reasoning,
		Source:            envelope.SourceLLM,
	}
}

// buildPrompt enumerates the live backend set so the model can suggest
// concrete destinations.
func (c *Classifier) buildPrompt(text string) string {
	var sb strings.Builder
	sb.WriteString("Classify the user message into exactly one category of: greetings, conversation, code, research, complex, realtime, multi, unclassified.\n")
	sb.WriteString("Return JSON: {\"category\":\"...\",\"confidence\":0-1,\"complexity\":\"simple|moderate|complex|expert\",\"keywords\":[...],\"suggested_backends\":[...],\"reasoning\":\"...\"}\n\n")
	sb.WriteString("Available backends:\n")
	for _, b := range c.reg.All() {
		sb.WriteString(fmt.Sprintf("- %s (specialties: %s, speed: %s)\n", b.Name, strings.Join(b.Specialties, ", "), b.Speed))
	}
	sb.WriteString("\nUser message:\n")
	sb.WriteString(util.TruncateLog(text, 2000))
	return sb.String()
}

// extractJSONBlock pulls the first balanced {...} block out of free text.
func extractJSONBlock(s string) string {
	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}

// applyPreferences rewrites the verdict's suggestions from the user's
// preference record.
func (c *Classifier) applyPreferences(userID string, v *envelope.Verdict) {
	if c.prefs == nil || userID == "" || v == nil {
		return
	}
	overrides, quality, ok := c.prefs.Preference(userID)
	if !ok {
		return
	}
	if b, ok := overrides[v.Category]; ok {
		v.SuggestedBackends = []string{b}
		v.Source = envelope.SourceOverride
	}
	if quality == "high" && v.Complexity != envelope.ComplexitySimple {
		if p := c.reg.Premium(); p != nil && !contains(v.SuggestedBackends, p.Name) {
			v.SuggestedBackends = append(v.SuggestedBackends, p.Name)
		}
	}
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
