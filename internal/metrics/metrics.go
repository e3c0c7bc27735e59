// Package metrics exposes the monitor's counters in Prometheus text
// format on a dedicated listener.
package metrics

import (
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pysugar/llm-proxy/internal/proxy/monitor"
)

var (
	descRequestsTotal = prometheus.NewDesc("llm_proxy_requests_total", "Total proxied requests", nil, nil)
	descErrorsTotal   = prometheus.NewDesc("llm_proxy_errors_total", "Total failed requests", nil, nil)
	descLatencyAvg    = prometheus.NewDesc("llm_proxy_latency_avg_ms", "Average request latency in milliseconds", nil, nil)
	descByBackend     = prometheus.NewDesc("llm_proxy_requests_by_backend", "Requests per backend", []string{"backend"}, nil)
	descByStatus      = prometheus.NewDesc("llm_proxy_requests_by_status", "Requests per HTTP status", []string{"status"}, nil)
	descTokensIn      = prometheus.NewDesc("llm_proxy_tokens_input_total", "Total input tokens", nil, nil)
	descTokensOut     = prometheus.NewDesc("llm_proxy_tokens_output_total", "Total output tokens", nil, nil)
	descTokensInBy    = prometheus.NewDesc("llm_proxy_tokens_by_backend_input", "Input tokens per backend", []string{"backend"}, nil)
	descTokensOutBy   = prometheus.NewDesc("llm_proxy_tokens_by_backend_output", "Output tokens per backend", []string{"backend"}, nil)
)

// Collector adapts the monitor's snapshots to Prometheus.
type Collector struct {
	mon *monitor.Monitor
}

// NewCollector wraps a monitor.
func NewCollector(mon *monitor.Monitor) *Collector {
	return &Collector{mon: mon}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descRequestsTotal
	ch <- descErrorsTotal
	ch <- descLatencyAvg
	ch <- descByBackend
	ch <- descByStatus
	ch <- descTokensIn
	ch <- descTokensOut
	ch <- descTokensInBy
	ch <- descTokensOutBy
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.mon.Stats()
	tok := c.mon.Tokens()

	ch <- prometheus.MustNewConstMetric(descRequestsTotal, prometheus.CounterValue, float64(s.Requests))
	ch <- prometheus.MustNewConstMetric(descErrorsTotal, prometheus.CounterValue, float64(s.Errors))

	avg := 0.0
	if s.LatencyCount > 0 {
		avg = float64(s.LatencySumMs) / float64(s.LatencyCount)
	}
	ch <- prometheus.MustNewConstMetric(descLatencyAvg, prometheus.GaugeValue, avg)

	for backend, v := range s.ByBackend {
		ch <- prometheus.MustNewConstMetric(descByBackend, prometheus.CounterValue, float64(v), backend)
	}
	for status, v := range s.ByStatus {
		ch <- prometheus.MustNewConstMetric(descByStatus, prometheus.CounterValue, float64(v), strconv.Itoa(status))
	}
	ch <- prometheus.MustNewConstMetric(descTokensIn, prometheus.CounterValue, float64(tok.InputTotal))
	ch <- prometheus.MustNewConstMetric(descTokensOut, prometheus.CounterValue, float64(tok.OutputTotal))
	for backend, v := range tok.InputByBackend {
		ch <- prometheus.MustNewConstMetric(descTokensInBy, prometheus.CounterValue, float64(v), backend)
	}
	for backend, v := range tok.OutputByBackend {
		ch <- prometheus.MustNewConstMetric(descTokensOutBy, prometheus.CounterValue, float64(v), backend)
	}
}

// Handler builds the scrape handler on its own registry so the process
// default registry's Go runtime metrics stay off this surface.
func Handler(mon *monitor.Monitor) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(mon))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Serve runs the metrics listener; it blocks like http.ListenAndServe.
func Serve(port string, mon *monitor.Monitor) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(mon))
	addr := ":" + port
	log.Printf("📈 metrics listening on %s/metrics", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	return nil
}
