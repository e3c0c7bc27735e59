// Package monitor keeps the in-memory observability state: a bounded
// ring of recent requests plus the counters the metrics listener and the
// /debug endpoints read.
package monitor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pysugar/llm-proxy/internal/util"
)

// RingCapacity is the fixed size of the recent-request ring.
const RingCapacity = 100

// UnroutedBackend attributes requests that failed before routing (body
// read, parse, unknown forced backend). Keeping them in by_backend means
// requests_total always equals the sum over backends.
const UnroutedBackend = "unrouted"

// Entry is one completed request as captured for observability.
type Entry struct {
	ID            string `json:"id"`
	Timestamp     int64  `json:"timestamp"`
	Method        string `json:"method"`
	Path          string `json:"path"`
	Dialect       string `json:"dialect"`
	Backend       string `json:"backend"`
	Status        int    `json:"status"`
	DurationMs    int64  `json:"duration_ms"`
	Model         string `json:"model,omitempty"`
	Category      string `json:"category,omitempty"`
	RoutingReason string `json:"routing_reason,omitempty"`
	UserID        string `json:"user_id,omitempty"`
	Error         string `json:"error,omitempty"`
	Cancelled     bool   `json:"cancelled,omitempty"`
	InputTokens   int    `json:"input_tokens"`
	OutputTokens  int    `json:"output_tokens"`
	RequestBody   string `json:"request_body,omitempty"`
	ResponseBody  string `json:"response_body,omitempty"`
}

// Stats is the counter snapshot served by /debug/stats and scraped for
// metrics.
type Stats struct {
	Requests     int64            `json:"requests_total"`
	Errors       int64            `json:"errors_total"`
	LatencySumMs int64            `json:"latency_sum_ms"`
	LatencyCount int64            `json:"latency_count"`
	ByBackend    map[string]int64 `json:"by_backend"`
	ByStatus     map[int]int64    `json:"by_status"`
}

// Tokens is the token-counter snapshot.
type Tokens struct {
	InputTotal      int64            `json:"input_total"`
	OutputTotal     int64            `json:"output_total"`
	InputByBackend  map[string]int64 `json:"input_by_backend"`
	OutputByBackend map[string]int64 `json:"output_by_backend"`
}

// ArchiveSink receives a copy of every recorded entry, asynchronously.
type ArchiveSink interface {
	Write(Entry)
}

// Monitor is safe for concurrent use. Scalar counters are atomics; the
// ring and the per-key maps share one mutex held only for the insertion.
type Monitor struct {
	captureBodies bool
	maxBodyBytes  int
	archive       ArchiveSink

	requests     atomic.Int64
	errors       atomic.Int64
	latencySumMs atomic.Int64
	latencyCount atomic.Int64
	tokensIn     atomic.Int64
	tokensOut    atomic.Int64

	mu           sync.Mutex
	ring         []Entry // newest last; bounded by RingCapacity
	byBackend    map[string]int64
	byStatus     map[int]int64
	inByBackend  map[string]int64
	outByBackend map[string]int64
}

// New creates a monitor. archive may be nil.
func New(captureBodies bool, maxBodyBytes int, archive ArchiveSink) *Monitor {
	return &Monitor{
		captureBodies: captureBodies,
		maxBodyBytes:  maxBodyBytes,
		archive:       archive,
		ring:          make([]Entry, 0, RingCapacity),
		byBackend:     make(map[string]int64),
		byStatus:      make(map[int]int64),
		inByBackend:   make(map[string]int64),
		outByBackend:  make(map[string]int64),
	}
}

// Record captures one completed request. Called exactly once per request
// regardless of outcome; the pipeline guarantees the discipline, the
// monitor just stores what it is given.
func (m *Monitor) Record(e Entry) {
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixMilli()
	}
	if e.Backend == "" {
		e.Backend = UnroutedBackend
	}
	if !m.captureBodies {
		e.RequestBody = ""
		e.ResponseBody = ""
	} else {
		e.RequestBody = util.TruncateBody(e.RequestBody, m.maxBodyBytes)
		e.ResponseBody = util.TruncateBody(e.ResponseBody, m.maxBodyBytes)
	}

	m.requests.Add(1)
	if e.Error != "" || e.Status >= 400 {
		m.errors.Add(1)
	}
	m.latencySumMs.Add(e.DurationMs)
	m.latencyCount.Add(1)
	m.tokensIn.Add(int64(e.InputTokens))
	m.tokensOut.Add(int64(e.OutputTokens))

	m.mu.Lock()
	m.ring = append(m.ring, e)
	if len(m.ring) > RingCapacity {
		m.ring = m.ring[len(m.ring)-RingCapacity:]
	}
	m.byBackend[e.Backend]++
	m.inByBackend[e.Backend] += int64(e.InputTokens)
	m.outByBackend[e.Backend] += int64(e.OutputTokens)
	m.byStatus[e.Status]++
	m.mu.Unlock()

	if m.archive != nil {
		go m.archive.Write(e)
	}
}

// Recent returns up to limit entries, newest first, optionally filtered
// by backend and status.
func (m *Monitor) Recent(limit int, backendFilter string, statusFilter int) []Entry {
	if limit <= 0 || limit > RingCapacity {
		limit = RingCapacity
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, 0, limit)
	for i := len(m.ring) - 1; i >= 0 && len(out) < limit; i-- {
		e := m.ring[i]
		if backendFilter != "" && e.Backend != backendFilter {
			continue
		}
		if statusFilter != 0 && e.Status != statusFilter {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Find returns the ring entry with the given request id.
func (m *Monitor) Find(id string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.ring) - 1; i >= 0; i-- {
		if m.ring[i].ID == id {
			return m.ring[i], true
		}
	}
	return Entry{}, false
}

// Stats returns a counter snapshot.
func (m *Monitor) Stats() Stats {
	s := Stats{
		Requests:     m.requests.Load(),
		Errors:       m.errors.Load(),
		LatencySumMs: m.latencySumMs.Load(),
		LatencyCount: m.latencyCount.Load(),
		ByBackend:    make(map[string]int64),
		ByStatus:     make(map[int]int64),
	}
	m.mu.Lock()
	for k, v := range m.byBackend {
		s.ByBackend[k] = v
	}
	for k, v := range m.byStatus {
		s.ByStatus[k] = v
	}
	m.mu.Unlock()
	return s
}

// Tokens returns a token-counter snapshot.
func (m *Monitor) Tokens() Tokens {
	t := Tokens{
		InputTotal:      m.tokensIn.Load(),
		OutputTotal:     m.tokensOut.Load(),
		InputByBackend:  make(map[string]int64),
		OutputByBackend: make(map[string]int64),
	}
	m.mu.Lock()
	for k, v := range m.inByBackend {
		t.InputByBackend[k] = v
	}
	for k, v := range m.outByBackend {
		t.OutputByBackend[k] = v
	}
	m.mu.Unlock()
	return t
}
