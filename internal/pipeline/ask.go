package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/pysugar/llm-proxy/internal/backend"
	"github.com/pysugar/llm-proxy/internal/envelope"
	"github.com/pysugar/llm-proxy/internal/proxy/mappers"
)

// Ask performs one bounded completion against a backend, in the
// backend's own dialect. Implements classifier.Asker so the classifier
// tiers ride the same dispatcher as everything else.
func (p *Pipeline) Ask(ctx context.Context, b *backend.Backend, system, user string, maxTokens int, temperature float64) (string, error) {
	mini := envelope.New(b.Dialect)
	mini.System = system
	mini.MaxTokens = maxTokens
	mini.Temperature = &temperature
	mini.Turns = []envelope.Turn{{Role: envelope.RoleUser, Text: user}}

	body, err := mappers.EncodeRequest(b.Dialect, mini, b.Name)
	if err != nil {
		return "", err
	}
	resp, err := p.Client.Do(ctx, b, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("backend %s returned %d", b.Name, resp.StatusCode)
	}
	comp, err := mappers.ParseResponse(b.Dialect, respBody)
	if err != nil {
		return "", err
	}
	return comp.Text, nil
}
