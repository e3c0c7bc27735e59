package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/pysugar/llm-proxy/internal/archive"
	"github.com/pysugar/llm-proxy/internal/classifier"
	"github.com/pysugar/llm-proxy/internal/pipeline"
	"github.com/pysugar/llm-proxy/internal/router"
)

// Routes assembles the inbound HTTP surface.
func Routes(p *pipeline.Pipeline, cls *classifier.Classifier, hist *router.History, arc *archive.Archive) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	// Dialect endpoints
	r.Post("/v1/chat/completions", ChatCompletionsHandler(p))
	r.Post("/v1/messages", MessagesHandler(p))
	r.Post("/v1/responses", ResponsesHandler(p))
	r.Get("/v1/models", ModelsHandler(p.Reg))

	// Control plane
	r.Route("/debug", func(r chi.Router) {
		r.Get("/health", HealthHandler(p.Reg))
		r.Get("/logs", LogsHandler(p.Monitor))
		r.Get("/stats", StatsHandler(p.Monitor))
		r.Get("/tokens", TokensHandler(p.Monitor))
		r.Get("/models", DebugModelsHandler(p.Reg))
		r.Post("/switch", SwitchHandler(p.Reg))
		r.Get("/router", RouterHandler(p.Reg, cls, hist))
		r.Post("/router", RouterHandler(p.Reg, cls, hist))
		r.Post("/compare", CompareHandler(p.Reg, p.Client))
		r.Get("/history", HistoryHandler(arc))
		r.Get("/history/{id}", HistoryItemHandler(arc))
		r.Get("/analytics", AnalyticsHandler(arc))
	})

	// Forced routing: /{backend}/v1/...
	r.Post("/{backend}/v1/chat/completions", ForcedHandler(p))
	r.Post("/{backend}/v1/messages", ForcedHandler(p))
	r.Post("/{backend}/v1/responses", ForcedHandler(p))
	r.Get("/{backend}/v1/models", ModelsHandler(p.Reg))

	return r
}
