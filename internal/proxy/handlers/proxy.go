// Package handlers exposes the inbound HTTP surface: the three dialect
// endpoints, forced-backend routing, the model list and the /debug
// control plane.
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pysugar/llm-proxy/internal/backend"
	"github.com/pysugar/llm-proxy/internal/pipeline"
)

// ChatCompletionsHandler serves dialect B at /v1/chat/completions.
func ChatCompletionsHandler(p *pipeline.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p.Handle(w, r, backend.DialectChatCompletions, "")
	}
}

// MessagesHandler serves dialect A at /v1/messages.
func MessagesHandler(p *pipeline.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p.Handle(w, r, backend.DialectMessages, "")
	}
}

// ResponsesHandler serves dialect C at /v1/responses.
func ResponsesHandler(p *pipeline.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p.Handle(w, r, backend.DialectResponses, "")
	}
}

// ForcedHandler serves /{backend}/v1/... paths, pinning the route.
func ForcedHandler(p *pipeline.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "backend")
		dialect := dialectForPath(r.URL.Path)
		p.Handle(w, r, dialect, name)
	}
}

// dialectForPath maps a pathname onto the client dialect by substring,
// defaulting to chat-completions.
func dialectForPath(path string) backend.Dialect {
	switch {
	case strings.Contains(path, "/v1/messages"):
		return backend.DialectMessages
	case strings.Contains(path, "/v1/responses"):
		return backend.DialectResponses
	default:
		return backend.DialectChatCompletions
	}
}

// ModelsHandler synthesizes an OpenAI-style model list from the backend
// registry.
func ModelsHandler(reg *backend.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var data []map[string]interface{}
		for _, b := range reg.All() {
			data = append(data, map[string]interface{}{
				"id":       b.Name,
				"object":   "model",
				"created":  time.Now().Unix(),
				"owned_by": "llm-proxy",
			})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"data":   data,
		})
	}
}
