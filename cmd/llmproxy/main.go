package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pysugar/llm-proxy/internal/archive"
	"github.com/pysugar/llm-proxy/internal/backend"
	"github.com/pysugar/llm-proxy/internal/classifier"
	"github.com/pysugar/llm-proxy/internal/config"
	"github.com/pysugar/llm-proxy/internal/metrics"
	"github.com/pysugar/llm-proxy/internal/pipeline"
	"github.com/pysugar/llm-proxy/internal/proxy/handlers"
	"github.com/pysugar/llm-proxy/internal/proxy/monitor"
	"github.com/pysugar/llm-proxy/internal/router"
	"github.com/pysugar/llm-proxy/internal/tools"
	"github.com/pysugar/llm-proxy/internal/upstream"
	"github.com/pysugar/llm-proxy/internal/version"
)

func main() {
	cfgPath := config.EnvOrDefault(config.EnvConfigPath, "config.yaml")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	reg, err := backend.NewRegistry(cfg)
	if err != nil {
		log.Fatalf("Failed to build backend registry: %v", err)
	}

	arc, err := archive.Open(cfg.Archive)
	if err != nil {
		log.Fatalf("Failed to open archive: %v", err)
	}
	defer arc.Close()

	mon := monitor.New(cfg.Logging.CaptureBodies, cfg.Logging.MaxBodyBytes, arc)
	hist := router.NewHistory(cfg.Router.HistoryFile)

	p := &pipeline.Pipeline{
		Reg:     reg,
		Router:  router.New(reg, hist),
		Client:  upstream.NewClient(os.Getenv(config.EnvPremiumKey)),
		Tools:   tools.NewRegistry(),
		Monitor: mon,
		History: hist,
		Salvage: cfg.SalvageEnabled,
	}
	cls := classifier.New(reg, p, hist, cfg.Router.ClassifierBackend)
	p.Classifier = cls

	// Metrics listener on its own port.
	metricsPort := config.EnvOrDefault(config.EnvMetricsPort, "9090")
	go func() {
		if err := metrics.Serve(metricsPort, mon); err != nil {
			log.Printf("⚠️ metrics listener failed: %v", err)
		}
	}()

	// Flush router history on shutdown.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Printf("👋 shutting down, flushing router history")
		if err := hist.Snapshot(); err != nil {
			log.Printf("⚠️ history flush failed: %v", err)
		}
		arc.Close()
		os.Exit(0)
	}()

	port := config.EnvOrDefault(config.EnvPort, "8080")
	addr := ":" + port
	log.Printf("🚀 llm-proxy %s listening on %s", version.Version, addr)
	log.Printf("🔌 dialects: /v1/chat/completions /v1/messages /v1/responses")
	log.Printf("🧭 default backend: %s (smart routing %v)", reg.Default().Name, reg.SmartRouting())

	if err := http.ListenAndServe(addr, handlers.Routes(p, cls, hist, arc)); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
