// Package pipeline composes the request flow: classify → route →
// translate → dispatch → tool loop → translate → emit. Each step takes
// the request context and returns a result; streaming rides the
// translator state machine end to end.
package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pysugar/llm-proxy/internal/backend"
	"github.com/pysugar/llm-proxy/internal/classifier"
	"github.com/pysugar/llm-proxy/internal/envelope"
	"github.com/pysugar/llm-proxy/internal/logging"
	"github.com/pysugar/llm-proxy/internal/proxy/mappers"
	"github.com/pysugar/llm-proxy/internal/proxy/monitor"
	"github.com/pysugar/llm-proxy/internal/router"
	"github.com/pysugar/llm-proxy/internal/tools"
	"github.com/pysugar/llm-proxy/internal/upstream"
	"github.com/pysugar/llm-proxy/internal/util"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// maxToolRounds bounds the tool-execution loop.
const maxToolRounds = 3

// maxInboundBody caps what we read from clients.
const maxInboundBody = 10 << 20

// Pipeline owns the composed request flow.
type Pipeline struct {
	Reg        *backend.Registry
	Classifier *classifier.Classifier
	Router     *router.Router
	Client     *upstream.Client
	Tools      *tools.Registry
	Monitor    *monitor.Monitor
	History    *router.History
	Salvage    bool
}

// requestRecord accumulates what the single ring-buffer write needs.
type requestRecord struct {
	method   string
	path     string
	status   int
	reqBody  string
	respBody string
	written  bool
}

// Handle runs one request end to end. forcedBackend, when non-empty,
// bypasses classification and routing.
func (p *Pipeline) Handle(w http.ResponseWriter, r *http.Request, dialect backend.Dialect, forcedBackend string) {
	env := envelope.New(dialect)
	env.ID = logging.RequestIDFromHeader(r)
	ctx, cancel := context.WithTimeout(r.Context(), upstream.DefaultTimeout)
	defer cancel()
	ctx = logging.WithRequestID(ctx, env.ID)

	rec := &requestRecord{method: r.Method, path: r.URL.Path, status: http.StatusOK}
	defer p.flushRecord(env, rec)

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxInboundBody))
	if err != nil {
		rec.status = http.StatusBadRequest
		env.Error = "failed to read request body"
		p.writeError(w, env, rec, http.StatusBadRequest, "failed to read request body")
		return
	}
	rec.reqBody = string(raw)

	// Cheap probe before the full parse so even unparseable requests get
	// a model attribution in the ring.
	env.ModelHint = gjson.GetBytes(raw, "model").String()

	if err := mappers.ParseRequest(dialect, raw, env); err != nil {
		log.Printf("⚠️ [%s] parse error on %s: %v", env.ID, r.URL.Path, err)
		rec.status = http.StatusBadRequest
		env.Error = err.Error()
		p.writeError(w, env, rec, http.StatusBadRequest, err.Error())
		return
	}
	if env.UserID == "" {
		env.UserID = r.Header.Get("X-User-Id")
	}
	clientWantsStream := env.Stream

	if util.IsVerbose() {
		log.Printf("📥 [VERBOSE] [%s] %s %s request:\n%s", env.ID, string(dialect), r.URL.Path, util.TruncateBytes(raw))
	}

	// In-band CLI short-circuits before any upstream work.
	if cmd, ok := cliCommand(env); ok {
		p.handleCLI(w, env, rec, cmd)
		return
	}

	// Classify.
	if forcedBackend == "" && p.Reg.SmartRouting() {
		start := time.Now()
		env.Verdict = p.Classifier.Classify(ctx, env)
		env.Timing.ClassifyMs = time.Since(start).Milliseconds()
	}

	// Route.
	start := time.Now()
	if forcedBackend != "" {
		if _, ok := p.Reg.Get(forcedBackend); !ok {
			rec.status = http.StatusBadGateway
			env.Error = fmt.Sprintf("forced backend %q is not configured", forcedBackend)
			p.writeError(w, env, rec, http.StatusBadGateway, env.Error)
			return
		}
		env.Decision = &envelope.Decision{
			Primary:     forcedBackend,
			AllBackends: []string{forcedBackend},
			Reason:      "forced by path",
		}
	} else {
		env.Decision = p.Router.Route(env.Verdict, env.EstimateContextTokens(), env.UserID, len(env.Tools) > 0)
	}
	env.Timing.RouteMs = time.Since(start).Milliseconds()

	b, ok := p.Reg.Get(env.Decision.Primary)
	if !ok {
		rec.status = http.StatusBadGateway
		env.Error = fmt.Sprintf("routed backend %q is not configured", env.Decision.Primary)
		p.writeError(w, env, rec, http.StatusBadGateway, env.Error)
		return
	}

	// Server-side tool injection: realtime, non-premium, no client tools.
	forceUnary := false
	if p.shouldInjectTools(env, b) {
		p.injectTools(env)
		forceUnary = true
	}

	model := env.ModelHint
	if model == "" {
		model = b.Name
	}

	// Fan-out runs all backends unary and combines.
	if env.Decision.MultiModel && len(env.Decision.AllBackends) > 1 {
		p.handleFanout(ctx, w, env, rec, model, clientWantsStream)
		return
	}

	if clientWantsStream && !forceUnary {
		p.handleStreaming(ctx, w, env, rec, b, model)
		return
	}

	env.Stream = false
	p.handleUnary(ctx, w, env, rec, b, model, clientWantsStream)
}

// shouldInjectTools: realtime request, non-premium backend, and the
// client brought no tools of its own.
func (p *Pipeline) shouldInjectTools(env *envelope.Envelope, b *backend.Backend) bool {
	if b.Premium || len(env.Tools) > 0 || env.Verdict == nil {
		return false
	}
	return env.Verdict.Category == envelope.CategoryRealtime
}

// injectTools adds web_search plus a system paragraph telling the model
// when to call it, and disables streaming for the parseable round trip.
func (p *Pipeline) injectTools(env *envelope.Envelope) {
	tool, ok := p.Tools.Get("web_search")
	if !ok {
		return
	}
	env.Tools = append(env.Tools, tool.Def())
	instructions := "You have a web_search tool for current information (weather, news, prices, service status). " +
		"When the user's question needs up-to-the-minute data, respond with a call to web_search instead of guessing. " +
		"After receiving results, answer using them."
	if env.System == "" {
		env.System = instructions
	} else {
		env.System += "\n\n" + instructions
	}
	env.ToolsInjected = true
	env.Stream = false
	log.Printf("🔧 [%s] injected web_search (realtime on non-premium backend)", env.ID)
}

// handleUnary is the buffered path, including the tool loop and salvage.
func (p *Pipeline) handleUnary(ctx context.Context, w http.ResponseWriter, env *envelope.Envelope, rec *requestRecord, b *backend.Backend, model string, clientWantsStream bool) {
	body, err := mappers.EncodeRequest(b.Dialect, env, model)
	if err != nil {
		rec.status = http.StatusBadGateway
		env.Error = err.Error()
		p.writeError(w, env, rec, http.StatusBadGateway, err.Error())
		return
	}
	// The stream flag is already off in the envelope; pin the wire form
	// too so a backend cannot be tricked by a stale field.
	body, _ = sjson.SetBytes(body, "stream", false)

	upstreamStart := time.Now()
	resp, err := p.Client.Do(ctx, b, body)
	if err != nil {
		env.Timing.UpstreamMs = time.Since(upstreamStart).Milliseconds()
		p.transportError(w, env, rec, b, err)
		return
	}
	respBody, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	env.Timing.UpstreamMs = time.Since(upstreamStart).Milliseconds()
	if readErr != nil {
		p.transportError(w, env, rec, b, readErr)
		return
	}

	// Non-2xx passes through verbatim.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		rec.status = resp.StatusCode
		rec.respBody = string(respBody)
		env.Error = fmt.Sprintf("upstream returned %d", resp.StatusCode)
		p.writeProxyHeaders(w, env)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.StatusCode)
		w.Write(respBody)
		return
	}

	comp, err := mappers.ParseResponse(b.Dialect, respBody)
	if err != nil {
		// Forward untranslated; mark the failed conversion.
		log.Printf("⚠️ [%s] response translation failed for %s: %v", env.ID, b.Name, err)
		env.FormatConversion = true
		rec.status = resp.StatusCode
		rec.respBody = string(respBody)
		p.writeProxyHeaders(w, env)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.StatusCode)
		w.Write(respBody)
		return
	}
	if comp.Model == "" {
		comp.Model = model
	}
	env.SetTokens(comp.InputTokens, comp.OutputTokens)

	// Tool loop for gateway-injected tools.
	if env.ToolsInjected {
		comp = p.runToolLoop(ctx, env, b, model, comp)
	}

	// Best-effort salvage of "I can't access real-time data" refusals.
	if !env.ToolsInjected && p.Salvage {
		comp = p.trySalvage(ctx, env, b, model, comp)
	}

	p.respondBuffered(w, env, rec, comp, clientWantsStream)
	if env.Verdict != nil && p.History != nil {
		p.History.RecordSuccess(b.Name, env.Verdict.Category)
	}
}

// respondBuffered writes a completed response in the client dialect,
// using the streaming envelope when the client asked for SSE.
func (p *Pipeline) respondBuffered(w http.ResponseWriter, env *envelope.Envelope, rec *requestRecord, comp *mappers.Completion, clientWantsStream bool) {
	p.writeProxyHeaders(w, env)
	if clientWantsStream {
		setSSEHeaders(w)
		out := mappers.EncodeStreamedResponse(env.ClientDialect, env, comp)
		rec.status = http.StatusOK
		rec.respBody = comp.Text
		w.Write(out)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		return
	}
	out, err := mappers.EncodeResponse(env.ClientDialect, env, comp)
	if err != nil {
		rec.status = http.StatusBadGateway
		env.Error = err.Error()
		p.writeError(w, env, rec, http.StatusBadGateway, err.Error())
		return
	}
	rec.status = http.StatusOK
	rec.respBody = string(out)
	w.Header().Set("Content-Type", "application/json")
	w.Write(out)
}

// handleStreaming pumps upstream SSE through the translator.
func (p *Pipeline) handleStreaming(ctx context.Context, w http.ResponseWriter, env *envelope.Envelope, rec *requestRecord, b *backend.Backend, model string) {
	body, err := mappers.EncodeRequest(b.Dialect, env, model)
	if err != nil {
		rec.status = http.StatusBadGateway
		env.Error = err.Error()
		p.writeError(w, env, rec, http.StatusBadGateway, err.Error())
		return
	}
	body, _ = sjson.SetBytes(body, "stream", true)

	upstreamStart := time.Now()
	resp, err := p.Client.Stream(ctx, b, body)
	if err != nil {
		p.transportError(w, env, rec, b, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		rec.status = resp.StatusCode
		rec.respBody = string(respBody)
		env.Error = fmt.Sprintf("upstream returned %d", resp.StatusCode)
		p.writeProxyHeaders(w, env)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.StatusCode)
		w.Write(respBody)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		rec.status = http.StatusInternalServerError
		env.Error = "streaming not supported"
		p.writeError(w, env, rec, http.StatusInternalServerError, "streaming not supported")
		return
	}

	p.writeProxyHeaders(w, env)
	setSSEHeaders(w)
	rec.status = http.StatusOK

	st := mappers.NewStreamTranslator(env.ClientDialect, b.Dialect, model, env.ID)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if out := st.Feed([]byte(data)); len(out) > 0 {
			if _, werr := w.Write(out); werr != nil {
				env.Cancelled = true
				env.Error = "client disconnected"
				break
			}
			flusher.Flush()
		}
		if data == "[DONE]" {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
			env.Cancelled = true
			env.Error = "client disconnected"
		} else {
			env.Error = err.Error()
			log.Printf("⚠️ [%s] stream scanner error from %s: %v", env.ID, b.Name, err)
		}
	}

	// Always close the client stream, even reconstructing from partial
	// state after an abort.
	if out := st.Finish(); len(out) > 0 && !env.Cancelled {
		w.Write(out)
		flusher.Flush()
	}

	in, outTok := st.Usage()
	env.SetTokens(in, outTok)
	env.Timing.UpstreamMs = time.Since(upstreamStart).Milliseconds()
	rec.respBody = st.VisibleText()
	if env.Verdict != nil && p.History != nil && !env.Cancelled {
		p.History.RecordSuccess(b.Name, env.Verdict.Category)
	}
}

// handleFanout dispatches to every backend in the decision and combines.
func (p *Pipeline) handleFanout(ctx context.Context, w http.ResponseWriter, env *envelope.Envelope, rec *requestRecord, model string, clientWantsStream bool) {
	var targets []*backend.Backend
	bodies := make(map[string][]byte, len(env.Decision.AllBackends))
	env.Stream = false
	for _, name := range env.Decision.AllBackends {
		b, ok := p.Reg.Get(name)
		if !ok {
			continue
		}
		body, err := mappers.EncodeRequest(b.Dialect, env, model)
		if err != nil {
			log.Printf("⚠️ [%s] fan-out encode failed for %s: %v", env.ID, name, err)
			continue
		}
		body, _ = sjson.SetBytes(body, "stream", false)
		targets = append(targets, b)
		bodies[b.Name] = body
	}
	if len(targets) == 0 {
		rec.status = http.StatusBadGateway
		env.Error = "no dispatchable fan-out backends"
		p.writeError(w, env, rec, http.StatusBadGateway, env.Error)
		return
	}

	upstreamStart := time.Now()
	results := p.Client.FanOut(ctx, targets, bodies)
	env.Timing.UpstreamMs = time.Since(upstreamStart).Milliseconds()

	dialectOf := make(map[string]backend.Dialect, len(targets))
	for _, b := range targets {
		dialectOf[b.Name] = b.Dialect
	}
	combined, contributors := upstream.CombineFanout(results, func(body []byte, name string) string {
		comp, err := mappers.ParseResponse(dialectOf[name], body)
		if err != nil {
			return ""
		}
		env.AddTokens(comp.InputTokens, comp.OutputTokens)
		return mappers.StripReasoning(comp.Text, comp.ReasoningContent, comp.Model)
	})
	if combined == "" {
		rec.status = http.StatusBadGateway
		env.Error = "all fan-out backends failed"
		p.writeError(w, env, rec, http.StatusBadGateway, env.Error)
		return
	}
	log.Printf("🔀 [%s] fan-out combined %d/%d backends: %s", env.ID, len(contributors), len(targets), strings.Join(contributors, ", "))

	comp := &mappers.Completion{
		Model:        model,
		Text:         combined,
		StopReason:   "stop",
		InputTokens:  env.InputTokens,
		OutputTokens: env.OutputTokens,
	}
	p.respondBuffered(w, env, rec, comp, clientWantsStream)
}

// transportError emits the 502 proxy_error shape.
func (p *Pipeline) transportError(w http.ResponseWriter, env *envelope.Envelope, rec *requestRecord, b *backend.Backend, err error) {
	if errors.Is(err, context.Canceled) {
		env.Cancelled = true
	}
	rec.status = http.StatusBadGateway
	env.Error = err.Error()
	log.Printf("❌ [%s] upstream %s failed: %v", env.ID, b.Name, err)
	p.writeError(w, env, rec, http.StatusBadGateway, fmt.Sprintf("upstream %s: %v", b.Name, err))
}

// flushRecord performs the single ring-buffer write for the request.
func (p *Pipeline) flushRecord(env *envelope.Envelope, rec *requestRecord) {
	if rec.written {
		return
	}
	rec.written = true
	env.Timing.TotalMs = time.Since(env.Start).Milliseconds()
	e := monitor.Entry{
		ID:           env.ID,
		Method:       rec.method,
		Path:         rec.path,
		Dialect:      string(env.ClientDialect),
		Status:       rec.status,
		DurationMs:   env.Timing.TotalMs,
		Model:        env.ModelHint,
		UserID:       env.UserID,
		Error:        env.Error,
		Cancelled:    env.Cancelled,
		InputTokens:  env.InputTokens,
		OutputTokens: env.OutputTokens,
		RequestBody:  rec.reqBody,
		ResponseBody: rec.respBody,
	}
	if env.Decision != nil {
		e.Backend = env.Decision.Primary
		e.RoutingReason = env.Decision.Reason
	}
	if env.Verdict != nil {
		e.Category = env.Verdict.Category
	}
	p.Monitor.Record(e)
}

// writeProxyHeaders sets the response headers every proxied reply carries.
func (p *Pipeline) writeProxyHeaders(w http.ResponseWriter, env *envelope.Envelope) {
	w.Header().Set("X-Request-Id", env.ID)
	if env.Decision != nil {
		w.Header().Set("X-Backend", env.Decision.Primary)
		if env.Decision.Reason != "" {
			w.Header().Set("X-Routing-Reason", env.Decision.Reason)
		}
	}
	w.Header().Set("X-Timing-Ms", strconv.FormatInt(time.Since(env.Start).Milliseconds(), 10))
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}
