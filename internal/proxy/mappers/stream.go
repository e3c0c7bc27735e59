package mappers

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pysugar/llm-proxy/internal/backend"
	"github.com/pysugar/llm-proxy/internal/envelope"
)

// StreamState is the translator's explicit lifecycle.
type StreamState int

const (
	StateInit StreamState = iota
	StateThinking
	StateStreaming
	StateDone
)

// StreamTranslator is a per-request state machine that consumes upstream
// SSE payloads in one dialect and produces client SSE bytes in another,
// including the lifecycle events the client dialect requires. It also
// buffers reasoning-model output until a transition phrase is seen.
type StreamTranslator struct {
	client    backend.Dialect
	upstream  backend.Dialect
	model     string
	requestID string

	state        StreamState
	filterActive bool
	thinking     strings.Builder
	visible      strings.Builder
	itemID       string

	inputTokens  int
	outputTokens int
	stopReason   string
}

// NewStreamTranslator builds the state machine for one request.
func NewStreamTranslator(client, upstream backend.Dialect, model, requestID string) *StreamTranslator {
	return &StreamTranslator{
		client:       client,
		upstream:     upstream,
		model:        model,
		requestID:    requestID,
		state:        StateInit,
		filterActive: IsReasoningModel(model),
		itemID:       "item_" + requestID,
	}
}

// State exposes the current lifecycle state.
func (st *StreamTranslator) State() StreamState { return st.state }

// Usage returns the token totals observed so far.
func (st *StreamTranslator) Usage() (input, output int) {
	return st.inputTokens, st.outputTokens
}

// VisibleText returns everything emitted to the client so far; after
// Finish this includes the attribution footer.
func (st *StreamTranslator) VisibleText() string { return st.visible.String() }

// Feed consumes one upstream SSE data payload and returns client bytes.
func (st *StreamTranslator) Feed(data []byte) []byte {
	if st.state == StateDone {
		return nil
	}
	payload := strings.TrimSpace(string(data))
	if payload == "" || payload == "[DONE]" {
		return nil
	}
	delta := st.parseUpstreamChunk([]byte(payload))
	return st.FeedText(delta)
}

// FeedText pushes visible delta text through the thinking filter and
// returns client bytes. Used directly when a buffered body is replayed
// as a synthetic stream.
func (st *StreamTranslator) FeedText(delta string) []byte {
	if delta == "" || st.state == StateDone {
		return nil
	}
	var out []byte

	if st.state == StateInit {
		if st.filterActive {
			st.state = StateThinking
		} else {
			out = append(out, st.emitPrelude()...)
			st.state = StateStreaming
		}
	}

	switch st.state {
	case StateThinking:
		st.thinking.WriteString(delta)
		buffered := st.thinking.String()
		if idx := FindTransition(buffered); idx != -1 {
			answer := strings.TrimSpace(afterTransitionPhrase(buffered, idx))
			st.thinking.Reset()
			out = append(out, st.emitPrelude()...)
			st.state = StateStreaming
			if answer != "" {
				out = append(out, st.emitDelta(answer)...)
			}
		} else if st.thinking.Len() > thinkingBufferCap {
			// Give up: no transition found, flush everything.
			st.thinking.Reset()
			out = append(out, st.emitPrelude()...)
			st.state = StateStreaming
			out = append(out, st.emitDelta(buffered)...)
		}
	case StateStreaming:
		out = append(out, st.emitDelta(delta)...)
	}
	return out
}

// Finish emits the terminal events for the client dialect. Safe to call
// after an upstream abort: it reconstructs the close from partial state.
func (st *StreamTranslator) Finish() []byte {
	if st.state == StateDone {
		return nil
	}
	var out []byte
	if st.state == StateInit {
		out = append(out, st.emitPrelude()...)
		st.state = StateStreaming
	}
	if st.state == StateThinking {
		// Stream ended inside the thinking buffer: emit the filtered rest.
		buffered := strings.TrimSpace(dropNarrationLines(st.thinking.String()))
		st.thinking.Reset()
		out = append(out, st.emitPrelude()...)
		st.state = StateStreaming
		if buffered != "" {
			out = append(out, st.emitDelta(buffered)...)
		}
	}
	if footer := AttributionFooter(st.model); footer != "" {
		out = append(out, st.emitDelta(footer)...)
	}
	out = append(out, st.emitTerminal()...)
	st.state = StateDone
	return out
}

// parseUpstreamChunk extracts the text delta (and any usage/stop info)
// from one upstream payload.
func (st *StreamTranslator) parseUpstreamChunk(data []byte) string {
	switch st.upstream {
	case backend.DialectChatCompletions:
		var chunk ChatResponse
		if err := json.Unmarshal(data, &chunk); err != nil {
			return ""
		}
		if chunk.Usage != nil {
			st.setUsage(chunk.Usage.PromptTokens, chunk.Usage.CompletionTokens)
		}
		if len(chunk.Choices) == 0 {
			return ""
		}
		choice := chunk.Choices[0]
		if choice.FinishReason != nil {
			st.stopReason = *choice.FinishReason
		}
		if choice.Delta == nil {
			return ""
		}
		// reasoning_content deltas never reach the client
		return choice.Delta.Content

	case backend.DialectMessages:
		var event struct {
			Type    string `json:"type"`
			Message *struct {
				Usage MessagesUsage `json:"usage"`
			} `json:"message"`
			Delta *struct {
				Type       string `json:"type"`
				Text       string `json:"text"`
				StopReason string `json:"stop_reason"`
			} `json:"delta"`
			Usage *MessagesUsage `json:"usage"`
		}
		if err := json.Unmarshal(data, &event); err != nil {
			return ""
		}
		switch event.Type {
		case "message_start":
			if event.Message != nil {
				st.setUsage(event.Message.Usage.InputTokens, event.Message.Usage.OutputTokens)
			}
		case "content_block_delta":
			if event.Delta != nil && event.Delta.Type == "text_delta" {
				return event.Delta.Text
			}
		case "message_delta":
			if event.Usage != nil {
				st.setUsage(0, event.Usage.OutputTokens)
			}
			if event.Delta != nil && event.Delta.StopReason != "" {
				st.stopReason = event.Delta.StopReason
			}
		}
		return ""

	case backend.DialectResponses:
		var event struct {
			Type     string `json:"type"`
			Delta    string `json:"delta"`
			Response *struct {
				Usage *ResponsesUsage `json:"usage"`
			} `json:"response"`
		}
		if err := json.Unmarshal(data, &event); err != nil {
			return ""
		}
		switch event.Type {
		case "response.output_text.delta":
			return event.Delta
		case "response.done", "response.completed":
			if event.Response != nil && event.Response.Usage != nil {
				st.setUsage(event.Response.Usage.InputTokens, event.Response.Usage.OutputTokens)
			}
		}
		return ""
	}
	return ""
}

// setUsage raises token totals monotonically; streamed usage arrives as
// running totals.
func (st *StreamTranslator) setUsage(input, output int) {
	if input > st.inputTokens {
		st.inputTokens = input
	}
	if output > st.outputTokens {
		st.outputTokens = output
	}
}

// emitPrelude produces the client dialect's stream-opening events.
func (st *StreamTranslator) emitPrelude() []byte {
	switch st.client {
	case backend.DialectChatCompletions:
		role := "assistant"
		chunk := ChatResponse{
			ID:      "chatcmpl-" + st.requestID,
			Object:  "chat.completion.chunk",
			Created: time.Now().Unix(),
			Model:   st.model,
			Choices: []ChatChoice{{Index: 0, Delta: &ChatMessage{Role: role}}},
		}
		return sseData(chunk)

	case backend.DialectMessages:
		start := MessagesResponse{
			ID:      "msg-" + st.requestID,
			Type:    "message",
			Role:    "assistant",
			Model:   st.model,
			Content: []MessagesBlock{},
		}
		var out []byte
		out = append(out, sseEvent("message_start", map[string]interface{}{
			"type":    "message_start",
			"message": start,
		})...)
		out = append(out, sseEvent("content_block_start", map[string]interface{}{
			"type":          "content_block_start",
			"index":         0,
			"content_block": map[string]interface{}{"type": "text", "text": ""},
		})...)
		return out

	case backend.DialectResponses:
		resp := ResponsesResponse{
			ID:        "resp_" + st.requestID,
			Object:    "response",
			Status:    "in_progress",
			CreatedAt: time.Now().Unix(),
			Model:     st.model,
			Output:    []ResponsesOutputItem{},
		}
		var out []byte
		out = append(out, sseEvent("response.created", map[string]interface{}{
			"type":     "response.created",
			"response": resp,
		})...)
		out = append(out, sseEvent("response.output_item.added", map[string]interface{}{
			"type":         "response.output_item.added",
			"output_index": 0,
			"item": map[string]interface{}{
				"id":   st.itemID,
				"type": "message",
				"role": "assistant",
			},
		})...)
		return out
	}
	return nil
}

// emitDelta produces one incremental text event in the client dialect.
func (st *StreamTranslator) emitDelta(text string) []byte {
	st.visible.WriteString(text)
	switch st.client {
	case backend.DialectChatCompletions:
		chunk := ChatResponse{
			ID:      "chatcmpl-" + st.requestID,
			Object:  "chat.completion.chunk",
			Created: time.Now().Unix(),
			Model:   st.model,
			Choices: []ChatChoice{{Index: 0, Delta: &ChatMessage{Content: text}}},
		}
		return sseData(chunk)

	case backend.DialectMessages:
		return sseEvent("content_block_delta", map[string]interface{}{
			"type":  "content_block_delta",
			"index": 0,
			"delta": map[string]interface{}{"type": "text_delta", "text": text},
		})

	case backend.DialectResponses:
		return sseEvent("response.output_text.delta", map[string]interface{}{
			"type":         "response.output_text.delta",
			"item_id":      st.itemID,
			"output_index": 0,
			"delta":        text,
		})
	}
	return nil
}

// emitTerminal produces the client dialect's stream-closing events.
func (st *StreamTranslator) emitTerminal() []byte {
	switch st.client {
	case backend.DialectChatCompletions:
		finish := "stop"
		if st.stopReason == "length" {
			finish = "length"
		}
		chunk := ChatResponse{
			ID:      "chatcmpl-" + st.requestID,
			Object:  "chat.completion.chunk",
			Created: time.Now().Unix(),
			Model:   st.model,
			Choices: []ChatChoice{{Index: 0, Delta: &ChatMessage{}, FinishReason: &finish}},
		}
		if st.inputTokens > 0 || st.outputTokens > 0 {
			chunk.Usage = &ChatUsage{
				PromptTokens:     st.inputTokens,
				CompletionTokens: st.outputTokens,
				TotalTokens:      st.inputTokens + st.outputTokens,
			}
		}
		out := sseData(chunk)
		out = append(out, []byte("data: [DONE]\n\n")...)
		return out

	case backend.DialectMessages:
		var out []byte
		out = append(out, sseEvent("content_block_stop", map[string]interface{}{
			"type":  "content_block_stop",
			"index": 0,
		})...)
		out = append(out, sseEvent("message_delta", map[string]interface{}{
			"type":  "message_delta",
			"delta": map[string]interface{}{"stop_reason": "end_turn"},
			"usage": MessagesUsage{InputTokens: st.inputTokens, OutputTokens: st.outputTokens},
		})...)
		out = append(out, sseEvent("message_stop", map[string]interface{}{
			"type": "message_stop",
		})...)
		return out

	case backend.DialectResponses:
		text := st.visible.String()
		var out []byte
		out = append(out, sseEvent("response.output_text.done", map[string]interface{}{
			"type":         "response.output_text.done",
			"item_id":      st.itemID,
			"output_index": 0,
			"text":         text,
		})...)
		out = append(out, sseEvent("response.output_item.done", map[string]interface{}{
			"type":         "response.output_item.done",
			"output_index": 0,
			"item": map[string]interface{}{
				"id":     st.itemID,
				"type":   "message",
				"role":   "assistant",
				"status": "completed",
				"content": []ResponsesContent{{
					Type: "output_text",
					Text: text,
				}},
			},
		})...)
		final := ResponsesResponse{
			ID:        "resp_" + st.requestID,
			Object:    "response",
			Status:    "completed",
			CreatedAt: time.Now().Unix(),
			Model:     st.model,
			Usage: &ResponsesUsage{
				InputTokens:  st.inputTokens,
				OutputTokens: st.outputTokens,
				TotalTokens:  st.inputTokens + st.outputTokens,
			},
		}
		out = append(out, sseEvent("response.done", map[string]interface{}{
			"type":     "response.done",
			"response": final,
		})...)
		return out
	}
	return nil
}

// EncodeStreamedResponse replays a buffered completion as a full client
// stream transcript. Used when streaming was force-disabled for the tool
// loop but the client asked for SSE.
func EncodeStreamedResponse(client backend.Dialect, env *envelope.Envelope, comp *Completion) []byte {
	st := NewStreamTranslator(client, client, comp.Model, env.ID)
	st.filterActive = false // buffered text is already filtered
	st.setUsage(comp.InputTokens, comp.OutputTokens)
	st.stopReason = comp.StopReason
	text := StripReasoning(comp.Text, comp.ReasoningContent, comp.Model)
	var out []byte
	out = append(out, st.FeedText(text)...)
	out = append(out, st.Finish()...)
	return out
}

func sseData(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return []byte(fmt.Sprintf("data: %s\n\n", data))
}

func sseEvent(event string, v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event, data))
}
