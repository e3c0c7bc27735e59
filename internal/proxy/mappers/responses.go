package mappers

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pysugar/llm-proxy/internal/envelope"
)

// Dialect C: responses-style wire structures.

type ResponsesRequest struct {
	Model           string          `json:"model"`
	Input           json.RawMessage `json:"input"` // string or []ResponsesInput
	Instructions    string          `json:"instructions,omitempty"`
	Tools           []ResponsesTool `json:"tools,omitempty"`
	MaxOutputTokens *int            `json:"max_output_tokens,omitempty"`
	Temperature     *float64        `json:"temperature,omitempty"`
	Stream          bool            `json:"stream,omitempty"`
	User            string          `json:"user,omitempty"`
}

// ResponsesTool carries name/parameters directly on the tool object.
type ResponsesTool struct {
	Type        string                 `json:"type"`
	Name        string                 `json:"name,omitempty"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// ResponsesInput is one item of the input array: a message or a
// function_call_output binding.
type ResponsesInput struct {
	Type    string          `json:"type,omitempty"`
	Role    string          `json:"role,omitempty"`
	Content json.RawMessage `json:"content,omitempty"` // string or []ResponsesContent
	// function_call_output
	CallID string `json:"call_id,omitempty"`
	Output string `json:"output,omitempty"`
	// function_call
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type ResponsesContent struct {
	Type string `json:"type"` // input_text, output_text, text
	Text string `json:"text,omitempty"`
}

type ResponsesResponse struct {
	ID        string               `json:"id"`
	Object    string               `json:"object"`
	Status    string               `json:"status"`
	CreatedAt int64                `json:"created_at"`
	Model     string               `json:"model"`
	Output    []ResponsesOutputItem `json:"output"`
	Usage     *ResponsesUsage      `json:"usage,omitempty"`
}

type ResponsesOutputItem struct {
	ID      string             `json:"id"`
	Type    string             `json:"type"` // message | function_call
	Role    string             `json:"role,omitempty"`
	Status  string             `json:"status,omitempty"`
	Content []ResponsesContent `json:"content,omitempty"`
	// function_call
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"` // JSON string
}

type ResponsesUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// parseResponsesRequest fills the envelope from a dialect-C request body.
func parseResponsesRequest(body []byte, env *envelope.Envelope) error {
	var req ResponsesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("invalid responses request: %w", err)
	}
	env.ModelHint = req.Model
	env.Stream = req.Stream
	env.Temperature = req.Temperature
	if req.MaxOutputTokens != nil {
		env.MaxTokens = *req.MaxOutputTokens
	}
	env.UserID = req.User
	env.System = req.Instructions

	for _, tool := range req.Tools {
		if tool.Type == "function" && tool.Name != "" {
			env.Tools = append(env.Tools, envelope.ToolDef{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			})
		}
	}

	if len(req.Input) == 0 {
		return nil
	}

	// Input may be a bare string…
	var simple string
	if err := json.Unmarshal(req.Input, &simple); err == nil {
		env.Turns = append(env.Turns, envelope.Turn{Role: envelope.RoleUser, Text: simple})
		return nil
	}

	// …or an array of items.
	var items []ResponsesInput
	if err := json.Unmarshal(req.Input, &items); err != nil {
		return fmt.Errorf("invalid responses input: %w", err)
	}
	for _, item := range items {
		if item.Type == "function_call_output" {
			env.Turns = append(env.Turns, envelope.Turn{
				Role: envelope.RoleTool,
				Parts: []envelope.Part{{
					Type:       envelope.PartToolResult,
					ToolResult: &envelope.ToolResult{CallID: item.CallID, Content: item.Output},
				}},
			})
			continue
		}
		if item.Type == "function_call" {
			env.Turns = append(env.Turns, envelope.Turn{
				Role: envelope.RoleAssistant,
				ToolCalls: []envelope.ToolCall{{
					ID:        item.CallID,
					Name:      item.Name,
					Arguments: decodeArguments(item.Arguments),
				}},
			})
			continue
		}
		role := envelope.RoleUser
		switch item.Role {
		case "assistant":
			role = envelope.RoleAssistant
		case "system", "developer":
			if env.System == "" {
				env.System = responsesContentText(item.Content)
			} else {
				env.System += "\n" + responsesContentText(item.Content)
			}
			continue
		}
		env.Turns = append(env.Turns, envelope.Turn{Role: role, Text: responsesContentText(item.Content)})
	}
	return nil
}

func responsesContentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	var items []ResponsesContent
	if err := json.Unmarshal(raw, &items); err == nil {
		var texts []string
		for _, it := range items {
			switch it.Type {
			case "input_text", "output_text", "text":
				texts = append(texts, it.Text)
			}
		}
		return strings.Join(texts, "\n")
	}
	return ""
}

// encodeResponsesRequest renders the envelope for a responses backend.
func encodeResponsesRequest(env *envelope.Envelope, model string) ([]byte, error) {
	req := ResponsesRequest{
		Model:        model,
		Stream:       env.Stream,
		Temperature:  env.Temperature,
		Instructions: env.System,
		User:         env.UserID,
	}
	if env.MaxTokens > 0 {
		mt := env.MaxTokens
		req.MaxOutputTokens = &mt
	}
	for _, def := range env.Tools {
		req.Tools = append(req.Tools, ResponsesTool{
			Type:        "function",
			Name:        def.Name,
			Description: def.Description,
			Parameters:  def.Parameters,
		})
	}
	var items []ResponsesInput
	for i := range env.Turns {
		turn := &env.Turns[i]
		switch turn.Role {
		case envelope.RoleTool:
			for _, p := range turn.Parts {
				if p.Type == envelope.PartToolResult && p.ToolResult != nil {
					items = append(items, ResponsesInput{
						Type:   "function_call_output",
						CallID: p.ToolResult.CallID,
						Output: p.ToolResult.Content,
					})
				}
			}
		case envelope.RoleAssistant:
			if text := turn.FlatText(); text != "" {
				items = append(items, ResponsesInput{Role: "assistant", Content: rawString(text)})
			}
			for _, tc := range turn.ToolCalls {
				items = append(items, ResponsesInput{
					Type:      "function_call",
					CallID:    tc.ID,
					Name:      tc.Name,
					Arguments: encodeArguments(tc.Arguments),
				})
			}
		default:
			items = append(items, ResponsesInput{Role: "user", Content: rawString(turn.FlatText())})
		}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	req.Input = data
	return json.Marshal(req)
}

// parseResponsesResponse decodes a buffered dialect-C response.
func parseResponsesResponse(body []byte) (*Completion, error) {
	var resp ResponsesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("invalid responses response: %w", err)
	}
	comp := &Completion{Model: resp.Model, StopReason: "stop"}
	if resp.Usage != nil {
		comp.InputTokens = resp.Usage.InputTokens
		comp.OutputTokens = resp.Usage.OutputTokens
	}
	var texts []string
	for _, item := range resp.Output {
		switch item.Type {
		case "message":
			for _, c := range item.Content {
				if c.Type == "output_text" || c.Type == "text" {
					texts = append(texts, c.Text)
				}
			}
		case "function_call":
			comp.ToolCalls = append(comp.ToolCalls, envelope.ToolCall{
				ID:        item.CallID,
				Name:      item.Name,
				Arguments: decodeArguments(item.Arguments),
			})
			comp.StopReason = "tool_calls"
		case "reasoning":
			for _, c := range item.Content {
				comp.ReasoningContent += c.Text
			}
		}
	}
	comp.Text = strings.Join(texts, "\n")
	return comp, nil
}

// encodeResponsesResponse renders a completion as a dialect-C response.
func encodeResponsesResponse(env *envelope.Envelope, comp *Completion) ([]byte, error) {
	resp := ResponsesResponse{
		ID:        "resp_" + env.ID,
		Object:    "response",
		Status:    "completed",
		CreatedAt: time.Now().Unix(),
		Model:     comp.Model,
		Usage: &ResponsesUsage{
			InputTokens:  comp.InputTokens,
			OutputTokens: comp.OutputTokens,
			TotalTokens:  comp.InputTokens + comp.OutputTokens,
		},
	}
	if text := visibleText(comp); text != "" || len(comp.ToolCalls) == 0 {
		resp.Output = append(resp.Output, ResponsesOutputItem{
			ID:      "item_" + uuid.New().String()[:8],
			Type:    "message",
			Role:    "assistant",
			Status:  "completed",
			Content: []ResponsesContent{{Type: "output_text", Text: text}},
		})
	}
	for _, tc := range comp.ToolCalls {
		resp.Output = append(resp.Output, ResponsesOutputItem{
			ID:        "item_" + uuid.New().String()[:8],
			Type:      "function_call",
			CallID:    tc.ID,
			Name:      tc.Name,
			Arguments: encodeArguments(tc.Arguments),
		})
	}
	return json.Marshal(resp)
}
