package pipeline

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/pysugar/llm-proxy/internal/envelope"
	"github.com/pysugar/llm-proxy/internal/proxy/mappers"
	"github.com/pysugar/llm-proxy/internal/version"
)

// cliPrefix is the reserved in-band command marker.
const cliPrefix = "proxy-cli"

// cliCommand extracts the command line when the last user turn starts
// with the reserved prefix.
func cliCommand(env *envelope.Envelope) (string, bool) {
	text := strings.TrimSpace(env.LastUserText())
	if !strings.HasPrefix(text, cliPrefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(text, cliPrefix)), true
}

// handleCLI answers a proxy-cli command with a synthesized assistant
// message. No upstream dispatch occurs.
func (p *Pipeline) handleCLI(w http.ResponseWriter, env *envelope.Envelope, rec *requestRecord, cmd string) {
	fields := strings.Fields(cmd)
	sub := "help"
	if len(fields) > 0 {
		sub = fields[0]
	}

	var out string
	switch sub {
	case "status":
		s := p.Monitor.Stats()
		avg := int64(0)
		if s.LatencyCount > 0 {
			avg = s.LatencySumMs / s.LatencyCount
		}
		out = fmt.Sprintf(
			"llm-proxy %s\ndefault backend: %s\nsmart routing: %v\nrequests: %d (errors %d)\navg latency: %d ms",
			version.Version, p.Reg.Default().Name, p.Reg.SmartRouting(), s.Requests, s.Errors, avg)
	case "models":
		var sb strings.Builder
		sb.WriteString("configured backends:\n")
		for _, b := range p.Reg.All() {
			marker := " "
			if b.Name == p.Reg.Default().Name {
				marker = "*"
			}
			sb.WriteString(fmt.Sprintf("%s %s  dialect=%s window=%d specialties=%s\n",
				marker, b.Name, b.Dialect, b.ContextWindow, strings.Join(b.Specialties, ",")))
		}
		out = strings.TrimRight(sb.String(), "\n")
	case "use":
		if len(fields) < 2 {
			out = "usage: proxy-cli use <backend>"
		} else if err := p.Reg.SetDefault(fields[1]); err != nil {
			out = "error: " + err.Error()
		} else {
			out = "default backend switched to " + fields[1]
		}
	case "smart":
		if len(fields) >= 2 {
			p.Reg.SetSmartRouting(fields[1] == "on" || fields[1] == "enable")
		} else {
			p.Reg.SetSmartRouting(!p.Reg.SmartRouting())
		}
		out = fmt.Sprintf("smart routing: %v", p.Reg.SmartRouting())
	case "logs":
		limit := 5
		if len(fields) >= 2 {
			if n, err := strconv.Atoi(fields[1]); err == nil && n > 0 {
				limit = n
			}
		}
		entries := p.Monitor.Recent(limit, "", 0)
		if len(entries) == 0 {
			out = "no requests logged yet"
		} else {
			var sb strings.Builder
			for _, e := range entries {
				sb.WriteString(fmt.Sprintf("%s  %-12s %d %5dms %s\n", e.ID, e.Backend, e.Status, e.DurationMs, e.Path))
			}
			out = strings.TrimRight(sb.String(), "\n")
		}
	case "help":
		out = "proxy-cli commands:\n  status          show gateway status\n  models          list configured backends\n  use <backend>   switch the default backend\n  smart [on|off]  toggle smart routing\n  logs [N]        show recent requests\n  help            this text"
	default:
		out = fmt.Sprintf("unknown command %q; try proxy-cli help", sub)
	}

	comp := &mappers.Completion{Model: cliPrefix, Text: out, StopReason: "stop"}
	env.Decision = &envelope.Decision{Primary: cliPrefix, AllBackends: []string{cliPrefix}, Reason: "in-band cli"}
	p.respondBuffered(w, env, rec, comp, env.Stream)
}
