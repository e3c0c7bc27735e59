package pipeline

import (
	"encoding/json"
	"net/http"

	"github.com/pysugar/llm-proxy/internal/backend"
	"github.com/pysugar/llm-proxy/internal/envelope"
)

// writeError emits the client dialect's error envelope and captures the
// body for the ring.
func (p *Pipeline) writeError(w http.ResponseWriter, env *envelope.Envelope, rec *requestRecord, status int, message string) {
	p.writeProxyHeaders(w, env)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	var payload interface{}
	switch env.ClientDialect {
	case backend.DialectMessages:
		payload = map[string]interface{}{
			"type": "error",
			"error": map[string]interface{}{
				"type":    "proxy_error",
				"message": message,
			},
		}
	default: // chat-completions and responses share the error object shape
		payload = map[string]interface{}{
			"error": map[string]interface{}{
				"message":    message,
				"type":       "proxy_error",
				"code":       status,
				"request_id": env.ID,
			},
		}
	}
	data, _ := json.Marshal(payload)
	rec.respBody = string(data)
	w.Write(data)
}
