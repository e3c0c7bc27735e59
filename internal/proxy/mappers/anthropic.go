package mappers

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pysugar/llm-proxy/internal/envelope"
)

// Dialect A: messages-style wire structures.

type MessagesRequest struct {
	Model       string           `json:"model"`
	System      json.RawMessage  `json:"system,omitempty"` // string or []block
	Messages    []MessagesTurn   `json:"messages"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Stream      bool             `json:"stream,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	Tools       []MessagesTool   `json:"tools,omitempty"`
	Metadata    *MessagesMetadata `json:"metadata,omitempty"`
}

type MessagesMetadata struct {
	UserID string `json:"user_id,omitempty"`
}

type MessagesTurn struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"` // string or []block
}

type MessagesTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema,omitempty"`
}

// MessagesBlock is one element of structured content.
type MessagesBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	// tool_use
	ID    string                 `json:"id,omitempty"`
	Name  string                 `json:"name,omitempty"`
	Input map[string]interface{} `json:"input,omitempty"`
	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	// image
	Source *MessagesImageSource `json:"source,omitempty"`
}

type MessagesImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type MessagesResponse struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Role         string          `json:"role"`
	Content      []MessagesBlock `json:"content"`
	Model        string          `json:"model"`
	StopReason   string          `json:"stop_reason,omitempty"`
	StopSequence *string         `json:"stop_sequence,omitempty"`
	Usage        MessagesUsage   `json:"usage"`
}

type MessagesUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// parseMessagesRequest fills the envelope from a dialect-A request body.
func parseMessagesRequest(body []byte, env *envelope.Envelope) error {
	var req MessagesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("invalid messages request: %w", err)
	}
	env.ModelHint = req.Model
	env.Stream = req.Stream
	env.Temperature = req.Temperature
	env.MaxTokens = req.MaxTokens
	if req.Metadata != nil {
		env.UserID = req.Metadata.UserID
	}
	env.System = messagesSystemText(req.System)

	for _, tool := range req.Tools {
		env.Tools = append(env.Tools, envelope.ToolDef{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.InputSchema,
		})
	}

	for _, msg := range req.Messages {
		turn, toolResults := messagesTurnToEnvelope(msg)
		// tool_result blocks become their own tool turn ahead of any text,
		// matching how the wire format interleaves them.
		if len(toolResults) > 0 {
			env.Turns = append(env.Turns, envelope.Turn{Role: envelope.RoleTool, Parts: toolResults})
		}
		if turn != nil {
			env.Turns = append(env.Turns, *turn)
		}
	}
	return nil
}

func messagesSystemText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	var blocks []MessagesBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var texts []string
		for _, b := range blocks {
			if b.Type == "text" && b.Text != "" {
				texts = append(texts, b.Text)
			}
		}
		return strings.Join(texts, "\n")
	}
	return ""
}

func messagesTurnToEnvelope(msg MessagesTurn) (*envelope.Turn, []envelope.Part) {
	role := envelope.RoleUser
	if msg.Role == "assistant" {
		role = envelope.RoleAssistant
	}

	var str string
	if err := json.Unmarshal(msg.Content, &str); err == nil {
		return &envelope.Turn{Role: role, Text: str}, nil
	}

	var blocks []MessagesBlock
	if err := json.Unmarshal(msg.Content, &blocks); err != nil {
		return &envelope.Turn{Role: role, Text: string(msg.Content)}, nil
	}

	turn := envelope.Turn{Role: role}
	var toolResults []envelope.Part
	var parts []envelope.Part
	for _, b := range blocks {
		switch b.Type {
		case "text":
			parts = append(parts, envelope.Part{Type: envelope.PartText, Text: b.Text})
		case "image":
			if b.Source != nil {
				parts = append(parts, envelope.Part{Type: envelope.PartImage, ImageURL: b.Source.URL})
			}
		case "tool_use":
			turn.ToolCalls = append(turn.ToolCalls, envelope.ToolCall{ID: b.ID, Name: b.Name, Arguments: b.Input})
		case "tool_result":
			toolResults = append(toolResults, envelope.Part{
				Type:       envelope.PartToolResult,
				ToolResult: &envelope.ToolResult{CallID: b.ToolUseID, Content: messagesResultText(b.Content)},
			})
		}
	}
	if len(parts) > 0 {
		turn.Parts = parts
	}
	if len(parts) == 0 && len(turn.ToolCalls) == 0 {
		return nil, toolResults
	}
	return &turn, toolResults
}

func messagesResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	var blocks []MessagesBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var texts []string
		for _, b := range blocks {
			if b.Type == "text" {
				texts = append(texts, b.Text)
			}
		}
		return strings.Join(texts, "\n")
	}
	return string(raw)
}

func rawString(s string) json.RawMessage {
	data, _ := json.Marshal(s)
	return data
}

// encodeMessagesRequest renders the envelope for a messages backend.
func encodeMessagesRequest(env *envelope.Envelope, model string) ([]byte, error) {
	maxTokens := env.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	req := MessagesRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Stream:      env.Stream,
		Temperature: env.Temperature,
	}
	if env.System != "" {
		req.System = rawString(env.System)
	}
	if env.UserID != "" {
		req.Metadata = &MessagesMetadata{UserID: env.UserID}
	}
	for _, def := range env.Tools {
		req.Tools = append(req.Tools, MessagesTool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.Parameters,
		})
	}
	for i := range env.Turns {
		turn := &env.Turns[i]
		switch turn.Role {
		case envelope.RoleTool:
			var blocks []MessagesBlock
			for _, p := range turn.Parts {
				if p.Type == envelope.PartToolResult && p.ToolResult != nil {
					blocks = append(blocks, MessagesBlock{
						Type:      "tool_result",
						ToolUseID: p.ToolResult.CallID,
						Content:   rawString(p.ToolResult.Content),
					})
				}
			}
			if len(blocks) > 0 {
				data, _ := json.Marshal(blocks)
				req.Messages = append(req.Messages, MessagesTurn{Role: "user", Content: data})
			}
		case envelope.RoleAssistant:
			var blocks []MessagesBlock
			if text := turn.FlatText(); text != "" {
				blocks = append(blocks, MessagesBlock{Type: "text", Text: text})
			}
			for _, tc := range turn.ToolCalls {
				blocks = append(blocks, MessagesBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: tc.Arguments})
			}
			if len(blocks) == 0 {
				continue
			}
			data, _ := json.Marshal(blocks)
			req.Messages = append(req.Messages, MessagesTurn{Role: "assistant", Content: data})
		default:
			req.Messages = append(req.Messages, MessagesTurn{Role: "user", Content: rawString(turn.FlatText())})
		}
	}
	return json.Marshal(req)
}

// parseMessagesResponse decodes a buffered dialect-A response.
func parseMessagesResponse(body []byte) (*Completion, error) {
	var resp MessagesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("invalid messages response: %w", err)
	}
	comp := &Completion{
		Model:        resp.Model,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}
	switch resp.StopReason {
	case "tool_use":
		comp.StopReason = "tool_calls"
	case "max_tokens":
		comp.StopReason = "length"
	default:
		comp.StopReason = "stop"
	}
	var texts []string
	for _, b := range resp.Content {
		switch b.Type {
		case "text":
			texts = append(texts, b.Text)
		case "thinking":
			comp.ReasoningContent += b.Text
		case "tool_use":
			comp.ToolCalls = append(comp.ToolCalls, envelope.ToolCall{ID: b.ID, Name: b.Name, Arguments: b.Input})
		}
	}
	comp.Text = strings.Join(texts, "\n")
	return comp, nil
}

// encodeMessagesResponse renders a completion as a dialect-A response.
func encodeMessagesResponse(env *envelope.Envelope, comp *Completion) ([]byte, error) {
	stopReason := "end_turn"
	switch comp.StopReason {
	case "tool_calls":
		stopReason = "tool_use"
	case "length":
		stopReason = "max_tokens"
	}
	if len(comp.ToolCalls) > 0 {
		stopReason = "tool_use"
	}
	var blocks []MessagesBlock
	if text := visibleText(comp); text != "" {
		blocks = append(blocks, MessagesBlock{Type: "text", Text: text})
	}
	for _, tc := range comp.ToolCalls {
		blocks = append(blocks, MessagesBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: tc.Arguments})
	}
	if blocks == nil {
		blocks = []MessagesBlock{{Type: "text", Text: ""}}
	}
	resp := MessagesResponse{
		ID:         "msg-" + env.ID,
		Type:       "message",
		Role:       "assistant",
		Content:    blocks,
		Model:      comp.Model,
		StopReason: stopReason,
		Usage:      MessagesUsage{InputTokens: comp.InputTokens, OutputTokens: comp.OutputTokens},
	}
	return json.Marshal(resp)
}
