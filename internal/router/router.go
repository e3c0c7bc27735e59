// Package router maps a classification verdict onto a backend decision.
package router

import (
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/pysugar/llm-proxy/internal/backend"
	"github.com/pysugar/llm-proxy/internal/envelope"
)

// contextForceThreshold is the estimated prompt length (tokens) above
// which the router checks the chosen backend's window.
const contextForceThreshold = 30000

// maxCandidates caps the scored candidate list carried on the decision.
const maxCandidates = 4

// Router scores backends against verdicts.
type Router struct {
	reg  *backend.Registry
	hist *History
}

// New creates a router. hist may be nil.
func New(reg *backend.Registry, hist *History) *Router {
	return &Router{reg: reg, hist: hist}
}

// Route produces a decision for the verdict. hasClientTools triggers the
// premium tools override. The applied order is: suggested-filter → score →
// multi-model expansion → context-window forcing → user preferred model →
// tools override.
func (r *Router) Route(verdict *envelope.Verdict, contextTokens int, userID string, hasClientTools bool) *envelope.Decision {
	defaultName := r.reg.Default().Name

	if verdict == nil {
		d := &envelope.Decision{
			Primary:     defaultName,
			AllBackends: []string{defaultName},
			Reason:      "no classification",
			Confidence:  0,
		}
		r.record(d, verdict, userID)
		return d
	}

	// Keep only suggestions that actually exist.
	suggested := make([]string, 0, len(verdict.SuggestedBackends))
	for _, name := range verdict.SuggestedBackends {
		if _, ok := r.reg.Get(name); ok {
			suggested = append(suggested, name)
		} else {
			log.Printf("⚠️ router: dropping unknown suggested backend %q", name)
		}
	}
	if len(suggested) == 0 {
		suggested = []string{defaultName}
	}

	candidates := r.score(verdict, suggested)
	primary := candidates[0].Backend
	reason := fmt.Sprintf("category=%s top score %.2f", verdict.Category, candidates[0].Score)

	d := &envelope.Decision{
		Primary:    primary,
		Reason:     reason,
		Confidence: verdict.Confidence,
		Candidates: candidates,
	}

	// Multi-model expansion.
	if verdict.Category == envelope.CategoryMulti ||
		(verdict.Complexity == envelope.ComplexityExpert && verdict.Confidence < 0.8) {
		d.MultiModel = true
		n := len(suggested)
		if n > 3 {
			n = 3
		}
		d.AllBackends = append([]string{}, suggested[:n]...)
		if !containsName(d.AllBackends, d.Primary) {
			d.AllBackends = append([]string{d.Primary}, d.AllBackends...)
		}
		d.Reason = "multi-model fan-out: " + d.Reason
	}

	// Context-window forcing.
	if contextTokens > contextForceThreshold {
		if chosen, ok := r.reg.Get(d.Primary); ok && chosen.ContextWindow < contextTokens {
			if bigger := r.reg.FirstWithWindow(contextTokens); bigger != nil {
				d.Primary = bigger.Name
				d.Reason = fmt.Sprintf("context %d tokens exceeds %s window; forced to %s", contextTokens, chosen.Name, bigger.Name)
			}
		}
	}

	// Historical preferred model for this category, if still suggested.
	if r.hist != nil && userID != "" {
		if preferred, ok := r.hist.PreferredModel(userID, verdict.Category); ok && containsName(suggested, preferred) {
			if preferred != d.Primary {
				d.Primary = preferred
				d.Reason = fmt.Sprintf("user preferred model for %s", verdict.Category)
			}
		}
	}

	// Tools override: foreign tool schemas go to the premium backend.
	if hasClientTools {
		if p := r.reg.Premium(); p != nil && d.Primary != p.Name {
			d.Primary = p.Name
			d.ToolsRouted = true
			d.Reason = "client tools routed to premium backend"
		}
	}

	if !containsName(d.AllBackends, d.Primary) {
		d.AllBackends = append([]string{d.Primary}, d.AllBackends...)
	}

	r.record(d, verdict, userID)
	return d
}

// score rates every known backend and returns the top candidates,
// best first.
func (r *Router) score(verdict *envelope.Verdict, suggested []string) []envelope.Candidate {
	all := r.reg.All()
	candidates := make([]envelope.Candidate, 0, len(all))
	for _, b := range all {
		s := 0.0
		if b.HasSpecialty(verdict.Category) {
			s += 0.5
		}
		if b.HasSpecialty(verdict.Complexity) {
			s += 0.2
		}
		for _, kw := range verdict.Keywords {
			if b.HasSpecialty(strings.ToLower(kw)) {
				s += 0.1
			}
		}
		if containsName(suggested, b.Name) {
			s += 0.3 * verdict.Confidence
		}
		if s > 1.0 {
			s = 1.0
		}
		candidates = append(candidates, envelope.Candidate{Backend: b.Name, Score: s})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > maxCandidates {
		candidates = candidates[:maxCandidates]
	}
	return candidates
}

func (r *Router) record(d *envelope.Decision, v *envelope.Verdict, userID string) {
	if r.hist == nil {
		return
	}
	category := envelope.CategoryUnclassified
	if v != nil {
		category = v.Category
	}
	r.hist.Record(DecisionRecord{
		Backend:    d.Primary,
		Category:   category,
		Reason:     d.Reason,
		Confidence: d.Confidence,
		UserID:     userID,
		MultiModel: d.MultiModel,
	})
}

func containsName(list []string, name string) bool {
	for _, x := range list {
		if x == name {
			return true
		}
	}
	return false
}
