package mappers

import (
	"regexp"
	"strings"
)

// Reasoning models emit chain-of-thought before the answer, either in a
// separate reasoning_content field or as a preamble to the content. The
// tables below are data on purpose: they track model behavior, not ours.

// thinkingBufferCap bounds how much delta text the streaming filter will
// hold before giving up and flushing everything.
const thinkingBufferCap = 3000

// transitionPhrases mark where the chain-of-thought ends and the answer
// begins. Matched case-insensitively.
var transitionPhrases = []string{
	"Let me provide",
	"Here's my recommendation",
	"Here is my recommendation",
	"Here's what I recommend",
	"My recommendation:",
	"To summarize:",
	"In short:",
	"The answer is",
	"Final answer:",
}

// transitionPatterns catch structural answer starts: markdown headers,
// bold lead-ins and enumerated lists at the start of a line.
var transitionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^#{1,3} `),
	regexp.MustCompile(`(?m)^\*\*[A-Z][^*]{2,40}\*\*`),
	regexp.MustCompile(`(?m)^1[.)] `),
}

// selfNarrationPrefixes identify lines that are the model talking to
// itself. Used by the line-level fallback.
var selfNarrationPrefixes = []string{
	"The user is asking",
	"The user wants",
	"I should",
	"I need to think",
	"Let me think",
	"Okay, so",
	"Hmm,",
	"First, I'll consider",
}

// reasoningModelMarkers flag model ids whose streams need the transition
// filter. Default is no-op stripping for unknown models.
var reasoningModelMarkers = []string{"r1", "reasoner", "reasoning", "think", "qwq"}

// IsReasoningModel reports whether the model id matches the known
// reasoning-model set.
func IsReasoningModel(model string) bool {
	m := strings.ToLower(model)
	for _, marker := range reasoningModelMarkers {
		if strings.Contains(m, marker) {
			return true
		}
	}
	return false
}

// FindTransition returns the byte offset where the answer begins, or -1.
func FindTransition(s string) int {
	best := -1
	lower := strings.ToLower(s)
	for _, phrase := range transitionPhrases {
		if idx := strings.Index(lower, strings.ToLower(phrase)); idx != -1 {
			if best == -1 || idx < best {
				best = idx
			}
		}
	}
	for _, pat := range transitionPatterns {
		if loc := pat.FindStringIndex(s); loc != nil {
			if best == -1 || loc[0] < best {
				best = loc[0]
			}
		}
	}
	return best
}

// afterTransitionPhrase advances past a matched lead-in phrase so that
// "Let me provide a recommendation. For a 50-gallon tank…" yields the
// substring starting at the sentence after the phrase.
func afterTransitionPhrase(s string, idx int) string {
	rest := s[idx:]
	// Structural transitions (headers, lists) keep the marker itself.
	for _, pat := range transitionPatterns {
		if loc := pat.FindStringIndex(rest); loc != nil && loc[0] == 0 {
			return rest
		}
	}
	// Phrase transitions drop the lead-in sentence.
	if end := strings.IndexAny(rest, ".:\n"); end != -1 && end < 120 {
		return strings.TrimLeft(rest[end+1:], " \n")
	}
	return rest
}

// StripReasoning returns the user-visible text for a buffered response.
// If content is empty and reasoning_content is not, the reasoning text is
// filtered and used instead.
func StripReasoning(content, reasoningContent, model string) string {
	if content == "" && reasoningContent != "" {
		return filterThinking(reasoningContent)
	}
	if content != "" && IsReasoningModel(model) {
		return filterThinking(content)
	}
	return content
}

// filterThinking applies the transition cut, then the line-level
// self-narration fallback.
func filterThinking(text string) string {
	if idx := FindTransition(text); idx != -1 {
		return strings.TrimSpace(afterTransitionPhrase(text, idx))
	}
	return strings.TrimSpace(dropNarrationLines(text))
}

func dropNarrationLines(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		narration := false
		for _, prefix := range selfNarrationPrefixes {
			if strings.HasPrefix(trimmed, prefix) {
				narration = true
				break
			}
		}
		if !narration {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
