package pipeline

import (
	"context"
	"io"
	"log"
	"time"

	"github.com/pysugar/llm-proxy/internal/backend"
	"github.com/pysugar/llm-proxy/internal/envelope"
	"github.com/pysugar/llm-proxy/internal/proxy/mappers"
	"github.com/pysugar/llm-proxy/internal/tools"
	"github.com/tidwall/sjson"
)

// runToolLoop executes detected tool calls and re-dispatches with the
// results, at most maxToolRounds times. Follow-up requests carry no tool
// definitions so the model is forced to use the results rather than
// iterate. Residual calls past the last round are left in the visible
// content and logged.
func (p *Pipeline) runToolLoop(ctx context.Context, env *envelope.Envelope, b *backend.Backend, model string, comp *mappers.Completion) *mappers.Completion {
	for round := 0; round < maxToolRounds; round++ {
		// Cooperative cancellation between rounds.
		if ctx.Err() != nil {
			env.Cancelled = true
			return comp
		}

		calls, cleaned := tools.DetectCalls(comp, true)
		if len(calls) == 0 {
			return comp
		}
		log.Printf("🔧 [%s] tool round %d: %d call(s)", env.ID, round+1, len(calls))

		// The assistant's turn, with markup stripped, then one tool turn
		// per executed call.
		env.Turns = append(env.Turns, envelope.Turn{
			Role:      envelope.RoleAssistant,
			Text:      cleaned,
			ToolCalls: calls,
		})
		var resultParts []envelope.Part
		for _, call := range calls {
			result := p.Tools.Execute(ctx, call)
			resultParts = append(resultParts, envelope.Part{
				Type:       envelope.PartToolResult,
				ToolResult: &envelope.ToolResult{CallID: call.ID, Content: result},
			})
		}
		env.Turns = append(env.Turns, envelope.Turn{Role: envelope.RoleTool, Parts: resultParts})

		next, err := p.redispatch(ctx, env, b, model)
		if err != nil {
			log.Printf("⚠️ [%s] tool follow-up dispatch failed: %v", env.ID, err)
			// Keep the best answer we have: the cleaned text, with the
			// tool calls dropped.
			comp.Text = cleaned
			comp.ToolCalls = nil
			return comp
		}
		env.AddTokens(next.InputTokens, next.OutputTokens)
		comp = next
	}

	// Round budget exhausted. Any residual calls stay as-is in the text.
	if residual, _ := tools.DetectCalls(comp, true); len(residual) > 0 {
		log.Printf("⚠️ [%s] tool loop hit %d rounds with calls remaining; leaving content untouched", env.ID, maxToolRounds)
		comp.ToolCalls = nil
	}
	return comp
}

// redispatch sends the envelope's current conversation to the backend,
// with tool definitions stripped from the wire body.
func (p *Pipeline) redispatch(ctx context.Context, env *envelope.Envelope, b *backend.Backend, model string) (*mappers.Completion, error) {
	savedTools := env.Tools
	env.Tools = nil
	body, err := mappers.EncodeRequest(b.Dialect, env, model)
	env.Tools = savedTools
	if err != nil {
		return nil, err
	}
	// Belt and braces: drop the tool array even if a mapper grows one.
	body, _ = sjson.DeleteBytes(body, "tools")
	body, _ = sjson.SetBytes(body, "stream", false)

	start := time.Now()
	resp, err := p.Client.Do(ctx, b, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	env.Timing.UpstreamMs += time.Since(start).Milliseconds()
	if err != nil {
		return nil, err
	}
	comp, err := mappers.ParseResponse(b.Dialect, respBody)
	if err != nil {
		return nil, err
	}
	if comp.Model == "" {
		comp.Model = model
	}
	return comp, nil
}
