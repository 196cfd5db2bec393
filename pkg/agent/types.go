package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/harun/agui-bridge/pkg/agui"
	"github.com/openai/openai-go"
)

// ToolCall represents a tool invocation requested by the model
type ToolCall struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters"`
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// AgentMessage represents a message in the conversation sent to a provider
type AgentMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	IsError    bool       `json:"is_error,omitempty"` // tool result reported a tool-level failure
}

// ToolSpec describes a tool offered to the model
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// FromAGUI converts a thread's history into provider messages. System and
// developer messages are folded into the returned system prompt.
func FromAGUI(messages []agui.Message) ([]AgentMessage, string) {
	out := make([]AgentMessage, 0, len(messages))
	var system []string

	for _, msg := range messages {
		switch msg.Role {
		case agui.RoleSystem, agui.RoleDeveloper:
			if msg.Content != "" {
				system = append(system, msg.Content)
			}
		case agui.RoleTool:
			out = append(out, AgentMessage{Role: "tool", Content: msg.Content, ToolCallID: msg.ToolCallID})
		case agui.RoleAssistant:
			am := AgentMessage{Role: "assistant", Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				am.ToolCalls = append(am.ToolCalls, ToolCall{
					ID:         tc.ID,
					Name:       tc.Function.Name,
					Parameters: parseArguments(tc.Function.Arguments),
				})
			}
			out = append(out, am)
		default:
			out = append(out, AgentMessage{Role: "user", Content: msg.Content})
		}
	}

	return out, strings.Join(system, "\n\n")
}

// parseArguments decodes a JSON object, yielding an empty map for anything else
func parseArguments(raw string) map[string]any {
	params := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return params
	}
	if err := json.Unmarshal([]byte(raw), &params); err != nil || params == nil {
		return map[string]any{}
	}
	return params
}

// SchemaFromJSON decodes a JSON schema, defaulting to an empty object schema.
func SchemaFromJSON(raw json.RawMessage) map[string]any {
	schema := map[string]any{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &schema)
	}
	if schema == nil {
		schema = map[string]any{}
	}
	if _, ok := schema["type"]; !ok {
		schema["type"] = "object"
	}
	return schema
}

// IsRetryableError reports whether a provider error is worth another
// attempt: rate limits, server errors and dropped connections.
func IsRetryableError(err error) bool {
	if err == nil || errors.Is(err, errMaxTurns) || errors.Is(err, context.Canceled) {
		return false
	}

	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return retryableStatus(anthropicErr.StatusCode)
	}
	var openaiErr *openai.Error
	if errors.As(err, &openaiErr) {
		return retryableStatus(openaiErr.StatusCode)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"econnreset", "etimedout", "connection reset", "connection refused", "rate limit", "429", "500", "502", "503", "504", "529"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
