package agent

import (
	"context"
	"fmt"
)

// LLMProvider sends one model turn. Implementations must not retry on their
// own; LLMAgent decides with IsRetryableError.
type LLMProvider interface {
	Call(ctx context.Context, request LLMRequest) (*LLMResponse, error)
	Provider() string
}

// LLMRequest is one model turn: the conversation so far plus the tools the
// model may call.
type LLMRequest struct {
	Model        string
	SystemPrompt string
	Messages     []AgentMessage
	Tools        []ToolSpec
	MaxTokens    int
	Temperature  float64
}

// LLMResponse is the model's reply. ToolCalls is empty when the model only
// produced text.
type LLMResponse struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *TokenUsage
}

// NewProvider returns the provider registered under name. An empty baseURL
// uses the vendor's public endpoint.
func NewProvider(name, apiKey, baseURL string) (LLMProvider, error) {
	switch name {
	case "anthropic":
		return NewAnthropicProvider(apiKey, baseURL), nil
	case "openai":
		return NewOpenAIProvider(apiKey, baseURL), nil
	}
	return nil, fmt.Errorf("unsupported provider: %s", name)
}
