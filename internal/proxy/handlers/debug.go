package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pysugar/llm-proxy/internal/archive"
	"github.com/pysugar/llm-proxy/internal/backend"
	"github.com/pysugar/llm-proxy/internal/classifier"
	"github.com/pysugar/llm-proxy/internal/envelope"
	"github.com/pysugar/llm-proxy/internal/proxy/mappers"
	"github.com/pysugar/llm-proxy/internal/proxy/monitor"
	"github.com/pysugar/llm-proxy/internal/router"
	"github.com/pysugar/llm-proxy/internal/upstream"
	"github.com/pysugar/llm-proxy/internal/version"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeDebugError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"error": message})
}

// HealthHandler serves GET /debug/health.
func HealthHandler(reg *backend.Registry) http.HandlerFunc {
	started := time.Now()
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":         "ok",
			"version":        version.Version,
			"uptime_seconds": int64(time.Since(started).Seconds()),
			"default":        reg.Default().Name,
			"smart_routing":  reg.SmartRouting(),
			"backends":       reg.Names(),
		})
	}
}

// LogsHandler serves GET /debug/logs?limit=&backend=&status=.
func LogsHandler(mon *monitor.Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		status, _ := strconv.Atoi(r.URL.Query().Get("status"))
		entries := mon.Recent(limit, r.URL.Query().Get("backend"), status)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"count": len(entries),
			"logs":  entries,
		})
	}
}

// StatsHandler serves GET /debug/stats.
func StatsHandler(mon *monitor.Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := mon.Stats()
		avg := 0.0
		if s.LatencyCount > 0 {
			avg = float64(s.LatencySumMs) / float64(s.LatencyCount)
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"requests_total": s.Requests,
			"errors_total":   s.Errors,
			"latency_avg_ms": avg,
			"by_backend":     s.ByBackend,
			"by_status":      s.ByStatus,
		})
	}
}

// TokensHandler serves GET /debug/tokens.
func TokensHandler(mon *monitor.Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, mon.Tokens())
	}
}

// DebugModelsHandler serves GET /debug/models with full descriptors.
func DebugModelsHandler(reg *backend.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type desc struct {
			Name          string   `json:"name"`
			URL           string   `json:"url"`
			Dialect       string   `json:"dialect"`
			Specialties   []string `json:"specialties"`
			ContextWindow int      `json:"context_window"`
			Speed         string   `json:"speed"`
			Premium       bool     `json:"premium"`
			Default       bool     `json:"default"`
		}
		defaultName := reg.Default().Name
		var out []desc
		for _, b := range reg.All() {
			out = append(out, desc{
				Name:          b.Name,
				URL:           b.URL,
				Dialect:       string(b.Dialect),
				Specialties:   b.Specialties,
				ContextWindow: b.ContextWindow,
				Speed:         b.Speed,
				Premium:       b.Premium,
				Default:       b.Name == defaultName,
			})
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"models": out})
	}
}

// SwitchHandler serves POST /debug/switch {backend}.
func SwitchHandler(reg *backend.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Backend string `json:"backend"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Backend == "" {
			writeDebugError(w, http.StatusBadRequest, "body must be {\"backend\":\"<name>\"}")
			return
		}
		if err := reg.SetDefault(req.Backend); err != nil {
			writeDebugError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("🔀 default backend switched to %s", req.Backend)
		writeJSON(w, http.StatusOK, map[string]interface{}{"default": req.Backend})
	}
}

// RouterHandler serves GET|POST /debug/router.
func RouterHandler(reg *backend.Registry, cls *classifier.Classifier, hist *router.History) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"enabled":   reg.SmartRouting(),
				"decisions": hist.Recent(50),
				"success":   hist.SuccessCounts(),
			})
			return
		}
		var req struct {
			Action     string                  `json:"action"`
			Text       string                  `json:"text,omitempty"`
			UserID     string                  `json:"userId,omitempty"`
			Preference *router.PreferenceRecord `json:"preference,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeDebugError(w, http.StatusBadRequest, "invalid body: "+err.Error())
			return
		}
		switch req.Action {
		case "classify":
			env := envelope.New(backend.DialectChatCompletions)
			env.UserID = req.UserID
			env.Turns = []envelope.Turn{{Role: envelope.RoleUser, Text: req.Text}}
			verdict := cls.Classify(r.Context(), env)
			writeJSON(w, http.StatusOK, map[string]interface{}{"verdict": verdict})
		case "setPreference":
			if req.UserID == "" || req.Preference == nil {
				writeDebugError(w, http.StatusBadRequest, "setPreference needs userId and preference")
				return
			}
			hist.SetPreference(req.UserID, *req.Preference)
			writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
		case "clearHistory":
			hist.Clear()
			writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
		case "enable":
			reg.SetSmartRouting(true)
			writeJSON(w, http.StatusOK, map[string]interface{}{"enabled": true})
		case "disable":
			reg.SetSmartRouting(false)
			writeJSON(w, http.StatusOK, map[string]interface{}{"enabled": false})
		default:
			writeDebugError(w, http.StatusBadRequest, fmt.Sprintf("unknown action %q", req.Action))
		}
	}
}

// CompareHandler serves POST /debug/compare: the same payload runs
// against every configured backend and the answers come back side by
// side.
func CompareHandler(reg *backend.Registry, client *upstream.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Prompt == "" {
			writeDebugError(w, http.StatusBadRequest, "body must be {\"prompt\":\"...\"}")
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), upstream.FanoutBudget)
		defer cancel()

		backends := reg.All()
		bodies := make(map[string][]byte, len(backends))
		env := envelope.New(backend.DialectChatCompletions)
		env.Turns = []envelope.Turn{{Role: envelope.RoleUser, Text: req.Prompt}}
		env.MaxTokens = 512
		for _, b := range backends {
			body, err := mappers.EncodeRequest(b.Dialect, env, b.Name)
			if err != nil {
				continue
			}
			bodies[b.Name] = body
		}
		results := client.FanOut(ctx, backends, bodies)

		type comparison struct {
			Backend    string `json:"backend"`
			Status     int    `json:"status"`
			DurationMs int64  `json:"duration_ms"`
			Answer     string `json:"answer,omitempty"`
			Error      string `json:"error,omitempty"`
		}
		dialectOf := make(map[string]backend.Dialect, len(backends))
		for _, b := range backends {
			dialectOf[b.Name] = b.Dialect
		}
		var out []comparison
		for _, res := range results {
			c := comparison{Backend: res.Backend, Status: res.Status, DurationMs: res.DurationMs}
			if res.Err != nil {
				c.Error = res.Err.Error()
			} else if comp, err := mappers.ParseResponse(dialectOf[res.Backend], res.Body); err == nil {
				c.Answer = mappers.StripReasoning(comp.Text, comp.ReasoningContent, comp.Model)
			}
			out = append(out, c)
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"prompt": req.Prompt, "results": out})
	}
}

// HistoryHandler serves GET /debug/history over the archive.
func HistoryHandler(arc *archive.Archive) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if arc == nil {
			writeDebugError(w, http.StatusServiceUnavailable, "archive disabled")
			return
		}
		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))
		offset, _ := strconv.Atoi(q.Get("offset"))
		docs, total := arc.History(limit, offset, q.Get("q"), q.Get("backend"), q.Get("userId"))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"total":     total,
			"documents": docs,
		})
	}
}

// HistoryItemHandler serves GET /debug/history/{id}.
func HistoryItemHandler(arc *archive.Archive) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if arc == nil {
			writeDebugError(w, http.StatusServiceUnavailable, "archive disabled")
			return
		}
		doc, ok := arc.Get(chi.URLParam(r, "id"))
		if !ok {
			writeDebugError(w, http.StatusNotFound, "no such request")
			return
		}
		writeJSON(w, http.StatusOK, doc)
	}
}

// AnalyticsHandler serves GET /debug/analytics?days=N.
func AnalyticsHandler(arc *archive.Archive) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if arc == nil {
			writeDebugError(w, http.StatusServiceUnavailable, "archive disabled")
			return
		}
		days, _ := strconv.Atoi(r.URL.Query().Get("days"))
		if days <= 0 {
			days = 7
		}
		rows, err := arc.Analytics(days)
		if err != nil {
			writeDebugError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"days": days, "rows": rows})
	}
}
