package monitor

import (
	"fmt"
	"sync"
	"testing"
)

func TestRecordAndRecent(t *testing.T) {
	m := New(true, 1024, nil)
	m.Record(Entry{ID: "a", Backend: "fastchat", Status: 200, DurationMs: 10, InputTokens: 5, OutputTokens: 3})
	m.Record(Entry{ID: "b", Backend: "coder", Status: 502, Error: "upstream", DurationMs: 20})

	recent := m.Recent(10, "", 0)
	if len(recent) != 2 || recent[0].ID != "b" {
		t.Fatalf("Recent() = %v", recent)
	}
	if got := m.Recent(10, "fastchat", 0); len(got) != 1 || got[0].ID != "a" {
		t.Errorf("backend filter = %v", got)
	}
	if got := m.Recent(10, "", 502); len(got) != 1 || got[0].ID != "b" {
		t.Errorf("status filter = %v", got)
	}
	if _, ok := m.Find("a"); !ok {
		t.Error("Find(a) should succeed")
	}
}

func TestRingEvictsOldest(t *testing.T) {
	m := New(false, 0, nil)
	for i := 0; i < RingCapacity+25; i++ {
		m.Record(Entry{ID: fmt.Sprintf("r%d", i), Backend: "fastchat", Status: 200})
	}
	recent := m.Recent(RingCapacity, "", 0)
	if len(recent) != RingCapacity {
		t.Fatalf("ring = %d entries", len(recent))
	}
	if recent[0].ID != fmt.Sprintf("r%d", RingCapacity+24) {
		t.Errorf("newest = %s", recent[0].ID)
	}
	if _, ok := m.Find("r0"); ok {
		t.Error("oldest entry should have been evicted")
	}
}

func TestCounterConservation(t *testing.T) {
	m := New(false, 0, nil)
	var wg sync.WaitGroup
	// An empty backend models a request that failed before routing
	// (unreadable body, parse error, unknown forced backend).
	backends := []string{"fastchat", "coder", "scholar", ""}
	for i := 0; i < 120; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := 200
			if i%7 == 0 {
				status = 502
			}
			if i%4 == 3 {
				status = 400
			}
			m.Record(Entry{
				ID:           fmt.Sprintf("x%d", i),
				Backend:      backends[i%4],
				Status:       status,
				InputTokens:  i % 5,
				OutputTokens: i % 3,
			})
		}(i)
	}
	wg.Wait()

	s := m.Stats()
	var byBackend, byStatus int64
	for _, v := range s.ByBackend {
		byBackend += v
	}
	for _, v := range s.ByStatus {
		byStatus += v
	}
	if s.Requests != 120 || byBackend != 120 || byStatus != 120 {
		t.Errorf("conservation broken: total=%d byBackend=%d byStatus=%d", s.Requests, byBackend, byStatus)
	}

	tok := m.Tokens()
	var inSum, outSum int64
	for _, v := range tok.InputByBackend {
		inSum += v
	}
	for _, v := range tok.OutputByBackend {
		outSum += v
	}
	if tok.InputTotal != inSum || tok.OutputTotal != outSum {
		t.Errorf("token conservation broken: %d/%d vs %d/%d", tok.InputTotal, tok.OutputTotal, inSum, outSum)
	}
	if s.ByBackend[UnroutedBackend] != 30 {
		t.Errorf("unrouted bucket = %d, want 30", s.ByBackend[UnroutedBackend])
	}
}

func TestUnroutedRequestsKeepTotalsConsistent(t *testing.T) {
	m := New(false, 0, nil)
	// A parse-error request never reaches routing: no backend, status 400.
	m.Record(Entry{ID: "bad", Status: 400, Error: "invalid request body"})

	s := m.Stats()
	var byBackend, byStatus int64
	for _, v := range s.ByBackend {
		byBackend += v
	}
	for _, v := range s.ByStatus {
		byStatus += v
	}
	if s.Requests != 1 || byBackend != 1 || byStatus != 1 {
		t.Errorf("totals diverged: total=%d byBackend=%d byStatus=%d", s.Requests, byBackend, byStatus)
	}
	if s.ByBackend[UnroutedBackend] != 1 {
		t.Errorf("ByBackend = %v, want unrouted sentinel", s.ByBackend)
	}
	if e, ok := m.Find("bad"); !ok || e.Backend != UnroutedBackend {
		t.Errorf("ring entry = %+v, want sentinel backend", e)
	}
}

func TestBodyCaptureRespectsBudget(t *testing.T) {
	m := New(true, 8, nil)
	m.Record(Entry{ID: "big", Status: 200, RequestBody: "0123456789abcdef", ResponseBody: "xyz"})
	e, _ := m.Find("big")
	if e.RequestBody != "01234567...[truncated]" {
		t.Errorf("RequestBody = %q", e.RequestBody)
	}
	if e.ResponseBody != "xyz" {
		t.Errorf("ResponseBody = %q", e.ResponseBody)
	}

	off := New(false, 8, nil)
	off.Record(Entry{ID: "quiet", Status: 200, RequestBody: "secret"})
	e, _ = off.Find("quiet")
	if e.RequestBody != "" {
		t.Error("capture disabled should drop bodies")
	}
}

type captureSink struct {
	mu      sync.Mutex
	entries []Entry
	done    chan struct{}
}

func (s *captureSink) Write(e Entry) {
	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()
	s.done <- struct{}{}
}

func TestArchiveSinkReceivesCopy(t *testing.T) {
	sink := &captureSink{done: make(chan struct{}, 1)}
	m := New(false, 0, sink)
	m.Record(Entry{ID: "arch", Backend: "coder", Status: 200})
	<-sink.done
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.entries) != 1 || sink.entries[0].ID != "arch" {
		t.Errorf("sink = %v", sink.entries)
	}
}
