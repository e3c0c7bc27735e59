package mappers

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pysugar/llm-proxy/internal/envelope"
)

// Dialect B: chat-completions wire structures.

type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Stream      bool          `json:"stream,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Tools       []ChatTool    `json:"tools,omitempty"`
	ToolChoice  interface{}   `json:"tool_choice,omitempty"`
	User        string        `json:"user,omitempty"`
}

type ChatMessage struct {
	Role             string         `json:"role"`
	Content          string         `json:"content"`
	Parts            []ChatPart     `json:"-"`
	ToolCalls        []ChatToolCall `json:"tool_calls,omitempty"`
	ToolCallID       string         `json:"tool_call_id,omitempty"`
	ReasoningContent string         `json:"reasoning_content,omitempty"`
}

type ChatPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

// UnmarshalJSON accepts both string and array content.
func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	type alias struct {
		Role             string          `json:"role"`
		Content          json.RawMessage `json:"content"`
		ToolCalls        []ChatToolCall  `json:"tool_calls"`
		ToolCallID       string          `json:"tool_call_id"`
		ReasoningContent string          `json:"reasoning_content"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	m.Role = a.Role
	m.ToolCalls = a.ToolCalls
	m.ToolCallID = a.ToolCallID
	m.ReasoningContent = a.ReasoningContent

	if len(a.Content) == 0 || string(a.Content) == "null" {
		return nil
	}
	var str string
	if err := json.Unmarshal(a.Content, &str); err == nil {
		m.Content = str
		return nil
	}
	var parts []ChatPart
	if err := json.Unmarshal(a.Content, &parts); err == nil {
		m.Parts = parts
		return nil
	}
	m.Content = string(a.Content)
	return nil
}

type ChatTool struct {
	Type     string           `json:"type"`
	Function *ChatFunctionDef `json:"function,omitempty"`
}

type ChatFunctionDef struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type ChatToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ChatFunctionCall `json:"function"`
}

type ChatFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON string
}

type ChatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   *ChatUsage   `json:"usage,omitempty"`
}

type ChatChoice struct {
	Index        int          `json:"index"`
	Message      *ChatMessage `json:"message,omitempty"`
	Delta        *ChatMessage `json:"delta,omitempty"`
	FinishReason *string      `json:"finish_reason,omitempty"`
}

type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// parseChatRequest fills the envelope from a dialect-B request body.
func parseChatRequest(body []byte, env *envelope.Envelope) error {
	var req ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("invalid chat-completions request: %w", err)
	}
	env.ModelHint = req.Model
	env.Stream = req.Stream
	env.Temperature = req.Temperature
	if req.MaxTokens != nil {
		env.MaxTokens = *req.MaxTokens
	}
	env.UserID = req.User

	for _, tool := range req.Tools {
		if tool.Type == "function" && tool.Function != nil {
			env.Tools = append(env.Tools, envelope.ToolDef{
				Name:        tool.Function.Name,
				Description: tool.Function.Description,
				Parameters:  tool.Function.Parameters,
			})
		}
	}

	var systemParts []string
	for _, msg := range req.Messages {
		switch msg.Role {
		case "system", "developer":
			systemParts = append(systemParts, chatMessageText(&msg))
		case "tool":
			env.Turns = append(env.Turns, envelope.Turn{
				Role: envelope.RoleTool,
				Parts: []envelope.Part{{
					Type:       envelope.PartToolResult,
					ToolResult: &envelope.ToolResult{CallID: msg.ToolCallID, Content: chatMessageText(&msg)},
				}},
			})
		case "assistant":
			turn := envelope.Turn{Role: envelope.RoleAssistant, Text: chatMessageText(&msg)}
			for _, tc := range msg.ToolCalls {
				turn.ToolCalls = append(turn.ToolCalls, envelope.ToolCall{
					ID:        tc.ID,
					Name:      tc.Function.Name,
					Arguments: decodeArguments(tc.Function.Arguments),
				})
			}
			env.Turns = append(env.Turns, turn)
		default:
			env.Turns = append(env.Turns, chatTurn(&msg, envelope.RoleUser))
		}
	}
	if len(systemParts) > 0 {
		env.System = strings.Join(systemParts, "\n")
	}
	return nil
}

func chatMessageText(m *ChatMessage) string {
	if m.Parts == nil {
		return m.Content
	}
	var texts []string
	for _, p := range m.Parts {
		if p.Type == "text" && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

func chatTurn(m *ChatMessage, role envelope.Role) envelope.Turn {
	if m.Parts == nil {
		return envelope.Turn{Role: role, Text: m.Content}
	}
	parts := make([]envelope.Part, 0, len(m.Parts))
	for _, p := range m.Parts {
		switch p.Type {
		case "text":
			parts = append(parts, envelope.Part{Type: envelope.PartText, Text: p.Text})
		case "image_url":
			if p.ImageURL != nil {
				parts = append(parts, envelope.Part{Type: envelope.PartImage, ImageURL: p.ImageURL.URL})
			}
		}
	}
	return envelope.Turn{Role: role, Parts: parts}
}

func decodeArguments(raw string) map[string]interface{} {
	args := map[string]interface{}{}
	if raw == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		args["_raw"] = raw
	}
	return args
}

func encodeArguments(args map[string]interface{}) string {
	if raw, ok := args["_raw"].(string); ok && len(args) == 1 {
		return raw
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// encodeChatRequest renders the envelope for a chat-completions backend.
func encodeChatRequest(env *envelope.Envelope, model string) ([]byte, error) {
	req := ChatRequest{
		Model:       model,
		Stream:      env.Stream,
		Temperature: env.Temperature,
		User:        env.UserID,
	}
	if env.MaxTokens > 0 {
		mt := env.MaxTokens
		req.MaxTokens = &mt
	}
	if env.System != "" {
		req.Messages = append(req.Messages, ChatMessage{Role: "system", Content: env.System})
	}
	for i := range env.Turns {
		turn := &env.Turns[i]
		switch turn.Role {
		case envelope.RoleTool:
			for _, p := range turn.Parts {
				if p.Type == envelope.PartToolResult && p.ToolResult != nil {
					req.Messages = append(req.Messages, ChatMessage{
						Role:       "tool",
						Content:    p.ToolResult.Content,
						ToolCallID: p.ToolResult.CallID,
					})
				}
			}
		case envelope.RoleAssistant:
			msg := ChatMessage{Role: "assistant", Content: turn.FlatText()}
			for _, tc := range turn.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, ChatToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: ChatFunctionCall{
						Name:      tc.Name,
						Arguments: encodeArguments(tc.Arguments),
					},
				})
			}
			req.Messages = append(req.Messages, msg)
		default:
			req.Messages = append(req.Messages, ChatMessage{Role: string(turn.Role), Content: turn.FlatText()})
		}
	}
	for _, def := range env.Tools {
		req.Tools = append(req.Tools, ChatTool{
			Type:     "function",
			Function: &ChatFunctionDef{Name: def.Name, Description: def.Description, Parameters: def.Parameters},
		})
	}
	return json.Marshal(req)
}

// parseChatResponse decodes a buffered dialect-B response.
func parseChatResponse(body []byte) (*Completion, error) {
	var resp ChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("invalid chat-completions response: %w", err)
	}
	comp := &Completion{Model: resp.Model}
	if resp.Usage != nil {
		comp.InputTokens = resp.Usage.PromptTokens
		comp.OutputTokens = resp.Usage.CompletionTokens
	}
	if len(resp.Choices) == 0 {
		return comp, nil
	}
	choice := resp.Choices[0]
	if choice.FinishReason != nil {
		comp.StopReason = *choice.FinishReason
	}
	if choice.Message == nil {
		return comp, nil
	}
	comp.Text = chatMessageText(choice.Message)
	comp.ReasoningContent = choice.Message.ReasoningContent
	for _, tc := range choice.Message.ToolCalls {
		comp.ToolCalls = append(comp.ToolCalls, envelope.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: decodeArguments(tc.Function.Arguments),
		})
	}
	return comp, nil
}

// encodeChatResponse renders a completion as a dialect-B response.
func encodeChatResponse(env *envelope.Envelope, comp *Completion) ([]byte, error) {
	finish := "stop"
	if comp.StopReason == "length" {
		finish = "length"
	}
	msg := &ChatMessage{Role: "assistant", Content: visibleText(comp)}
	for _, tc := range comp.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, ChatToolCall{
			ID:       tc.ID,
			Type:     "function",
			Function: ChatFunctionCall{Name: tc.Name, Arguments: encodeArguments(tc.Arguments)},
		})
	}
	if len(msg.ToolCalls) > 0 {
		finish = "tool_calls"
	}
	resp := ChatResponse{
		ID:      "chatcmpl-" + env.ID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   comp.Model,
		Choices: []ChatChoice{{Index: 0, Message: msg, FinishReason: &finish}},
		Usage: &ChatUsage{
			PromptTokens:     comp.InputTokens,
			CompletionTokens: comp.OutputTokens,
			TotalTokens:      comp.InputTokens + comp.OutputTokens,
		},
	}
	return json.Marshal(resp)
}
