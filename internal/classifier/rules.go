package classifier

import (
	"regexp"
	"strings"

	"github.com/pysugar/llm-proxy/internal/envelope"
)

// quickRule is one entry of the regex tier. The first matching rule wins,
// so order is specificity-descending within each concern.
type quickRule struct {
	pattern         *regexp.Regexp
	category        string
	confidence      float64
	complexity      string
	keywords        []string
	retryWithSearch bool
}

var quickRules = []quickRule{
	// Dissatisfaction / "look it up" retries on a previous answer.
	{
		pattern:         regexp.MustCompile(`(?i)\b(look it up|search for it|that'?s (wrong|outdated|not right)|check (online|the web)|are you sure|google it)\b`),
		category:        envelope.CategoryRealtime,
		confidence:      0.93,
		complexity:      envelope.ComplexitySimple,
		keywords:        []string{"retry", "search"},
		retryWithSearch: true,
	},
	// Greetings and short pleasantries.
	{
		pattern:    regexp.MustCompile(`(?i)^\s*(hi|hello|hey|yo|howdy|good (morning|afternoon|evening)|what'?s up|how are you)\b[\s!,.?]*$`),
		category:   envelope.CategoryGreetings,
		confidence: 0.99,
		complexity: envelope.ComplexitySimple,
	},
	// Fenced code blocks are an unambiguous code signal.
	{
		pattern:    regexp.MustCompile("(?s)```"),
		category:   envelope.CategoryCode,
		confidence: 0.97,
		complexity: envelope.ComplexityModerate,
		keywords:   []string{"code"},
	},
	// Code markers and language keywords.
	{
		pattern:    regexp.MustCompile(`(?i)\b(func |def |class |import |package |console\.log|printf|segfault|stack trace|traceback|compile error|unit test|refactor|debug|regex|goroutine|nullpointer|typescript|python|golang|rust|javascript|sql query)\b`),
		category:   envelope.CategoryCode,
		confidence: 0.95,
		complexity: envelope.ComplexityModerate,
		keywords:   []string{"code", "programming"},
	},
	// Service status queries.
	{
		pattern:    regexp.MustCompile(`(?i)\b(is|are)\s+\S+\s+(down|up|offline|working)\b|\bservice status\b|\boutage\b`),
		category:   envelope.CategoryRealtime,
		confidence: 0.94,
		complexity: envelope.ComplexitySimple,
		keywords:   []string{"status", "service"},
	},
	// Explicit weather.
	{
		pattern:    regexp.MustCompile(`(?i)\b(weather|forecast|temperature|humidity|wind speed)\b`),
		category:   envelope.CategoryRealtime,
		confidence: 0.96,
		complexity: envelope.ComplexitySimple,
		keywords:   []string{"weather"},
	},
	// Implicit weather: umbrellas, jackets, "is it raining in X".
	{
		pattern:    regexp.MustCompile(`(?i)\b(umbrella|raincoat|need a jacket|is it (raining|snowing|sunny|cold|hot)( in [\w\s]+)?)\b`),
		category:   envelope.CategoryRealtime,
		confidence: 0.95,
		complexity: envelope.ComplexitySimple,
		keywords:   []string{"weather"},
	},
	// Crypto and commodity price queries.
	{
		pattern:    regexp.MustCompile(`(?i)\b(bitcoin|btc|ethereum|eth|dogecoin|solana|crypto|gold price|silver price|price of (gold|silver|oil|bitcoin|ethereum)|exchange rate|stock price)\b`),
		category:   envelope.CategoryRealtime,
		confidence: 0.95,
		complexity: envelope.ComplexitySimple,
		keywords:   []string{"price", "market"},
	},
	// News and current events.
	{
		pattern:    regexp.MustCompile(`(?i)\b(latest news|today'?s news|current events|what happened (today|yesterday)|breaking news|headlines)\b`),
		category:   envelope.CategoryRealtime,
		confidence: 0.93,
		complexity: envelope.ComplexityModerate,
		keywords:   []string{"news"},
	},
	// Research framings.
	{
		pattern:    regexp.MustCompile(`(?i)\b(research|in depth|literature|survey of|state of the art|compare and contrast|pros and cons of|deep dive|comprehensive (overview|analysis))\b`),
		category:   envelope.CategoryResearch,
		confidence: 0.91,
		complexity: envelope.ComplexityComplex,
		keywords:   []string{"research"},
	},
}

const shortMessageLimit = 30

// classifyQuick runs the regex tier over the latest user turn. Returns
// nil when no rule fires and the message is long enough to deserve a
// smarter tier.
func classifyQuick(text string) *envelope.Verdict {
	trimmed := strings.TrimSpace(text)

	for _, rule := range quickRules {
		if rule.pattern.MatchString(trimmed) {
			return &envelope.Verdict{
				Category:        rule.category,
				Confidence:      rule.confidence,
				Complexity:      rule.complexity,
				Keywords:        rule.keywords,
				Source:          envelope.SourceQuickRegex,
				RetryWithSearch: rule.retryWithSearch,
				Reasoning:       "matched quick rule",
			}
		}
	}

	// Very short non-code messages are small talk.
	if len(trimmed) < shortMessageLimit {
		return &envelope.Verdict{
			Category:   envelope.CategoryConversation,
			Confidence: 0.85,
			Complexity: envelope.ComplexitySimple,
			Source:     envelope.SourceQuickRegex,
			Reasoning:  "short message",
		}
	}
	return nil
}
