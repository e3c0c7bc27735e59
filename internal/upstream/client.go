// Package upstream is the HTTP dispatcher for configured backends:
// unary and streaming dispatch plus the multi-backend fan-out.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/pysugar/llm-proxy/internal/backend"
	"github.com/pysugar/llm-proxy/internal/util"
)

const (
	// DefaultTimeout is the per-request deadline.
	DefaultTimeout = 120 * time.Second
	// FanoutBudget is the wall-clock budget for a multi-backend dispatch.
	FanoutBudget = 90 * time.Second
	// placeholderBearer satisfies local OpenAI-compatible servers that
	// insist on an Authorization header.
	placeholderBearer = "not-needed"
)

// Client dispatches requests to backends.
type Client struct {
	httpClient *http.Client
	premiumKey string
}

// NewClient creates a dispatcher. premiumKey authenticates against the
// premium backend; other backends get the placeholder bearer.
func NewClient(premiumKey string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		premiumKey: premiumKey,
	}
}

// endpointPath maps a backend's dialect to its inference path.
func endpointPath(b *backend.Backend) string {
	switch b.Dialect {
	case backend.DialectMessages:
		return "/v1/messages"
	case backend.DialectResponses:
		return "/v1/responses"
	default:
		return "/v1/chat/completions"
	}
}

// Do performs a unary dispatch. The caller owns the response body.
func (c *Client) Do(ctx context.Context, b *backend.Backend, body []byte) (*http.Response, error) {
	return c.dispatch(ctx, b, body)
}

// Stream performs a streaming dispatch; the caller scans resp.Body as
// SSE. Identical wire-wise to Do — the stream flag lives in the body.
func (c *Client) Stream(ctx context.Context, b *backend.Backend, body []byte) (*http.Response, error) {
	return c.dispatch(ctx, b, body)
}

func (c *Client) dispatch(ctx context.Context, b *backend.Backend, body []byte) (*http.Response, error) {
	url := strings.TrimRight(b.URL, "/") + endpointPath(b)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	// Premium backends use a keyed header pair; everything else takes the
	// placeholder bearer local servers expect.
	if b.Premium {
		req.Header.Set("X-Api-Key", c.premiumKey)
		req.Header.Set("Anthropic-Version", "2023-06-01")
	} else {
		req.Header.Set("Authorization", "Bearer "+placeholderBearer)
	}

	if util.IsVerbose() {
		log.Printf("📤 [VERBOSE] upstream %s %s:\n%s", b.Name, url, util.TruncateBytes(body))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream %s: %w", b.Name, err)
	}
	return resp, nil
}

// Result is one fan-out leg's outcome.
type Result struct {
	Backend    string
	Status     int
	Body       []byte
	Err        error
	DurationMs int64
}

// FanOut dispatches the per-backend bodies concurrently and joins under
// the fan-out budget. Partial failures are tolerated; every leg reports.
func (c *Client) FanOut(ctx context.Context, backends []*backend.Backend, bodies map[string][]byte) []Result {
	ctx, cancel := context.WithTimeout(ctx, FanoutBudget)
	defer cancel()

	results := make([]Result, len(backends))
	done := make(chan int, len(backends))
	for i, b := range backends {
		go func(i int, b *backend.Backend) {
			defer func() { done <- i }()
			start := time.Now()
			res := Result{Backend: b.Name}
			resp, err := c.Do(ctx, b, bodies[b.Name])
			if err != nil {
				res.Err = err
			} else {
				defer resp.Body.Close()
				res.Status = resp.StatusCode
				res.Body, res.Err = io.ReadAll(resp.Body)
			}
			res.DurationMs = time.Since(start).Milliseconds()
			results[i] = res
		}(i, b)
	}
	for range backends {
		<-done
	}
	return results
}

// CombineFanout renders successful legs as one labeled document with a
// trailing attribution line.
func CombineFanout(results []Result, extractText func([]byte, string) string) (string, []string) {
	var sb strings.Builder
	var contributors []string
	for _, res := range results {
		if res.Err != nil || res.Status != http.StatusOK {
			log.Printf("⚠️ fan-out leg %s failed: status=%d err=%v", res.Backend, res.Status, res.Err)
			continue
		}
		text := extractText(res.Body, res.Backend)
		if text == "" {
			continue
		}
		contributors = append(contributors, res.Backend)
		sb.WriteString(fmt.Sprintf("### %s\n\n%s\n\n", res.Backend, text))
	}
	if len(contributors) == 0 {
		return "", nil
	}
	sb.WriteString("---\n_Answers combined from: " + strings.Join(contributors, ", ") + "_")
	return sb.String(), contributors
}
