package upstream

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pysugar/llm-proxy/internal/backend"
)

func TestDo_PremiumAuthHeaders(t *testing.T) {
	var gotKey, gotVersion, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Api-Key")
		gotVersion = r.Header.Get("Anthropic-Version")
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient("sk-premium")
	b := &backend.Backend{Name: "scholar", URL: srv.URL, Dialect: backend.DialectMessages, Premium: true}
	resp, err := c.Do(context.Background(), b, []byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if gotKey != "sk-premium" || gotVersion == "" {
		t.Errorf("premium headers = key %q version %q", gotKey, gotVersion)
	}
	if gotAuth != "" {
		t.Errorf("premium should not send bearer, got %q", gotAuth)
	}
}

func TestDo_PlaceholderBearerAndPath(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient("")
	b := &backend.Backend{Name: "fastchat", URL: srv.URL, Dialect: backend.DialectChatCompletions}
	resp, err := c.Do(context.Background(), b, []byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if gotAuth != "Bearer not-needed" {
		t.Errorf("auth = %q", gotAuth)
	}
	if gotPath != "/v1/chat/completions" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestFanOut_PartialFailure(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.Write([]byte(`{"answer":"fine"}`))
	}))
	defer ok.Close()
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer failing.Close()

	c := NewClient("")
	backends := []*backend.Backend{
		{Name: "good", URL: ok.URL, Dialect: backend.DialectChatCompletions},
		{Name: "bad", URL: failing.URL, Dialect: backend.DialectChatCompletions},
	}
	bodies := map[string][]byte{"good": []byte(`{}`), "bad": []byte(`{}`)}
	results := c.FanOut(context.Background(), backends, bodies)
	if len(results) != 2 {
		t.Fatalf("results = %d", len(results))
	}
	if results[0].Status != http.StatusOK || results[1].Status != http.StatusInternalServerError {
		t.Errorf("statuses = %d, %d", results[0].Status, results[1].Status)
	}

	combined, contributors := CombineFanout(results, func(body []byte, _ string) string {
		return strings.TrimSpace(string(body))
	})
	if len(contributors) != 1 || contributors[0] != "good" {
		t.Errorf("contributors = %v", contributors)
	}
	if !strings.Contains(combined, "### good") || !strings.Contains(combined, "Answers combined from: good") {
		t.Errorf("combined = %q", combined)
	}
	if strings.Contains(combined, "### bad") {
		t.Error("failed leg leaked into combined body")
	}
}

func TestFanOut_TimeoutLegTolerated(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer slow.Close()
	fast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`quick`))
	}))
	defer fast.Close()

	c := NewClient("")
	c.httpClient.Timeout = 300 * time.Millisecond
	backends := []*backend.Backend{
		{Name: "slow", URL: slow.URL, Dialect: backend.DialectChatCompletions},
		{Name: "fast", URL: fast.URL, Dialect: backend.DialectChatCompletions},
	}
	results := c.FanOut(context.Background(), backends, map[string][]byte{"slow": []byte(`{}`), "fast": []byte(`{}`)})
	var fastOK, slowErr bool
	for _, res := range results {
		if res.Backend == "fast" && res.Status == http.StatusOK {
			fastOK = true
		}
		if res.Backend == "slow" && res.Err != nil {
			slowErr = true
		}
	}
	if !fastOK || !slowErr {
		t.Errorf("results = %+v", results)
	}
}
