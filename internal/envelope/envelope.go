// Package envelope defines the internal representation of a single
// request/response cycle. It is a union of the three dialects'
// capabilities rather than a copy of any one of them.
package envelope

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pysugar/llm-proxy/internal/backend"
)

// Role of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType discriminates the typed parts of a structured turn.
type PartType string

const (
	PartText       PartType = "text"
	PartImage      PartType = "image"
	PartToolCall   PartType = "tool_call"
	PartToolResult PartType = "tool_result"
)

// Part is one element of a structured turn body.
type Part struct {
	Type       PartType
	Text       string
	ImageURL   string
	ToolCall   *ToolCall
	ToolResult *ToolResult
}

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]interface{}
}

// ToolResult binds a textual result to the call that produced it.
type ToolResult struct {
	CallID  string
	Content string
}

// Turn is one message in the conversation. Text and Parts are mutually
// exclusive: Parts == nil means the content is the plain Text string.
type Turn struct {
	Role      Role
	Text      string
	Parts     []Part
	ToolCalls []ToolCall // assistant turns only
}

// FlatText renders the turn's content as plain text.
func (t *Turn) FlatText() string {
	if t.Parts == nil {
		return t.Text
	}
	var sb strings.Builder
	for _, p := range t.Parts {
		switch p.Type {
		case PartText:
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(p.Text)
		case PartToolResult:
			if p.ToolResult != nil {
				if sb.Len() > 0 {
					sb.WriteString("\n")
				}
				sb.WriteString(p.ToolResult.Content)
			}
		}
	}
	return sb.String()
}

// ToolDef is a declared tool: name, description and JSON-schema params.
type ToolDef struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// Categories the classifier may produce. Closed set.
const (
	CategoryGreetings    = "greetings"
	CategoryConversation = "conversation"
	CategoryCode         = "code"
	CategoryResearch     = "research"
	CategoryComplex      = "complex"
	CategoryRealtime     = "realtime"
	CategoryMulti        = "multi"
	CategoryUnclassified = "unclassified"
)

// Complexity levels.
const (
	ComplexitySimple   = "simple"
	ComplexityModerate = "moderate"
	ComplexityComplex  = "complex"
	ComplexityExpert   = "expert"
)

// Verdict sources.
const (
	SourceQuickRegex = "quick-regex"
	SourceFastModel  = "fast-model"
	SourceLLM        = "llm"
	SourceOverride   = "override"
)

// Verdict is the classifier's output for one request.
type Verdict struct {
	Category          string   `json:"category"`
	Confidence        float64  `json:"confidence"`
	Complexity        string   `json:"complexity"`
	Keywords          []string `json:"keywords,omitempty"`
	SuggestedBackends []string `json:"suggestedBackends,omitempty"`
	Reasoning         string   `json:"reasoning,omitempty"`
	Source            string   `json:"source"`
	RetryWithSearch   bool     `json:"retryWithSearch,omitempty"`
}

// Candidate is one scored backend considered by the router.
type Candidate struct {
	Backend string  `json:"backend"`
	Score   float64 `json:"score"`
}

// Decision is the router's output for one request.
type Decision struct {
	Primary     string      `json:"primary"`
	AllBackends []string    `json:"allBackends"`
	Reason      string      `json:"reason"`
	Confidence  float64     `json:"confidence"`
	Candidates  []Candidate `json:"candidates,omitempty"`
	ToolsRouted bool        `json:"toolsRouted"`
	MultiModel  bool        `json:"multiModel"`
}

// Timing marks for one request, all in milliseconds.
type Timing struct {
	ClassifyMs int64
	RouteMs    int64
	UpstreamMs int64
	TotalMs    int64
}

// Envelope is the internal record the pipeline carries end to end.
type Envelope struct {
	ID            string
	Start         time.Time
	ClientDialect backend.Dialect
	UserID        string

	Turns       []Turn
	System      string // consolidated system prompt text
	Tools       []ToolDef
	Stream      bool
	ModelHint   string
	MaxTokens   int
	Temperature *float64

	Verdict  *Verdict
	Decision *Decision
	Timing   Timing

	InputTokens  int
	OutputTokens int

	Error            string
	Cancelled        bool
	FormatConversion bool // true when translation fell back to passthrough

	ToolsInjected bool
}

// New creates an envelope for an inbound request in the given dialect.
func New(dialect backend.Dialect) *Envelope {
	return &Envelope{
		ID:            "req-" + uuid.New().String(),
		Start:         time.Now(),
		ClientDialect: dialect,
	}
}

// LastUserText returns the text of the most recent user turn.
func (e *Envelope) LastUserText() string {
	for i := len(e.Turns) - 1; i >= 0; i-- {
		if e.Turns[i].Role == RoleUser {
			return e.Turns[i].FlatText()
		}
	}
	return ""
}

// EstimateContextTokens approximates the prompt length in tokens using
// the common 4-bytes-per-token heuristic.
func (e *Envelope) EstimateContextTokens() int {
	total := len(e.System)
	for i := range e.Turns {
		total += len(e.Turns[i].FlatText())
	}
	return total / 4
}

// AddTokens bumps the monotonic token counters. Negative deltas are
// ignored so mid-stream updates can never decrement.
func (e *Envelope) AddTokens(input, output int) {
	if input > 0 {
		e.InputTokens += input
	}
	if output > 0 {
		e.OutputTokens += output
	}
}

// SetTokens raises the counters to the given totals if larger. Streaming
// usage events report running totals, not deltas.
func (e *Envelope) SetTokens(input, output int) {
	if input > e.InputTokens {
		e.InputTokens = input
	}
	if output > e.OutputTokens {
		e.OutputTokens = output
	}
}
