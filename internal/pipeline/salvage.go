package pipeline

import (
	"context"
	"log"
	"regexp"

	"github.com/pysugar/llm-proxy/internal/backend"
	"github.com/pysugar/llm-proxy/internal/envelope"
	"github.com/pysugar/llm-proxy/internal/proxy/mappers"
)

// refusalPhrases recognize "I can't see current data" answers. The table
// is deliberately aggressive; the whole feature sits behind the
// salvage_enabled flag.
var refusalPhrases = []*regexp.Regexp{
	regexp.MustCompile(`(?i)i (do not|don'?t) have (real[- ]?time|current|live) (access|information|data)`),
	regexp.MustCompile(`(?i)i (cannot|can'?t) (access|browse|check) (the internet|real[- ]?time|current|live)`),
	regexp.MustCompile(`(?i)check (a|your) (weather|news|financial) (site|website|app|service)`),
	regexp.MustCompile(`(?i)my (knowledge|training) (data )?(has a )?cut[- ]?off`),
	regexp.MustCompile(`(?i)as of my last (update|training)`),
}

func looksLikeRefusal(text string) bool {
	for _, re := range refusalPhrases {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// trySalvage recovers a refusal by running web_search on the user's
// question and asking the model again with the results. Best effort:
// every failure returns the original completion unchanged.
func (p *Pipeline) trySalvage(ctx context.Context, env *envelope.Envelope, b *backend.Backend, model string, comp *mappers.Completion) *mappers.Completion {
	if !looksLikeRefusal(comp.Text) {
		return comp
	}
	topic := env.LastUserText()
	if topic == "" {
		return comp
	}
	log.Printf("🛟 [%s] refusal detected; salvaging with web_search", env.ID)

	result := p.Tools.Execute(ctx, envelope.ToolCall{
		Name:      "web_search",
		Arguments: map[string]interface{}{"query": topic},
	})

	env.Turns = append(env.Turns,
		envelope.Turn{Role: envelope.RoleAssistant, Text: comp.Text},
		envelope.Turn{Role: envelope.RoleUser, Text: "Here is current data:\n\n" + result + "\n\nPlease answer my question again using it."},
	)
	next, err := p.redispatch(ctx, env, b, model)
	if err != nil {
		log.Printf("⚠️ [%s] salvage dispatch failed: %v", env.ID, err)
		return comp
	}
	env.AddTokens(next.InputTokens, next.OutputTokens)
	return next
}
