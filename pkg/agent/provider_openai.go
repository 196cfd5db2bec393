package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"
)

// OpenAIProvider calls the OpenAI Chat Completions API, or any endpoint
// compatible with it when a base URL is set.
type OpenAIProvider struct {
	client openai.Client
}

// NewOpenAIProvider creates a provider with SDK retries disabled.
func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	opts := []openaioption.RequestOption{openaioption.WithAPIKey(apiKey), openaioption.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, openaioption.WithBaseURL(baseURL))
	}
	return &OpenAIProvider{client: openai.NewClient(opts...)}
}

func (p *OpenAIProvider) Provider() string { return "openai" }

// Call sends one turn and returns the first choice.
func (p *OpenAIProvider) Call(ctx context.Context, request LLMRequest) (*LLMResponse, error) {
	messages, err := openaiMessages(request.SystemPrompt, request.Messages)
	if err != nil {
		return nil, err
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(request.Model),
		Messages: messages,
		Tools:    openaiTools(request.Tools),
	}
	if request.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(request.MaxTokens))
	}
	if request.Temperature > 0 {
		params.Temperature = openai.Float(request.Temperature)
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned")
	}

	reply := completion.Choices[0].Message
	resp := &LLMResponse{
		Content: reply.Content,
		Usage: &TokenUsage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
	}
	for _, tc := range reply.ToolCalls {
		args := map[string]any{}
		if strings.TrimSpace(tc.Function.Arguments) != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("failed to parse arguments for %s: %w", tc.Function.Name, err)
			}
		}
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Parameters: args})
	}
	return resp, nil
}

func openaiMessages(system string, messages []AgentMessage) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.SystemMessage(system))
	}

	for _, msg := range messages {
		switch msg.Role {
		case "user":
			out = append(out, openai.UserMessage(msg.Content))
		case "tool":
			out = append(out, openai.ToolMessage(msg.Content, msg.ToolCallID))
		case "assistant":
			if len(msg.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(msg.Content))
				continue
			}

			calls := make([]openai.ChatCompletionMessageToolCall, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				args, err := json.Marshal(tc.Parameters)
				if err != nil {
					return nil, fmt.Errorf("failed to encode arguments for %s: %w", tc.Name, err)
				}
				calls = append(calls, openai.ChatCompletionMessageToolCall{
					ID:       tc.ID,
					Type:     "function",
					Function: openai.ChatCompletionMessageToolCallFunction{Name: tc.Name, Arguments: string(args)},
				})
			}
			reply := openai.ChatCompletionMessage{Role: "assistant", Content: msg.Content, ToolCalls: calls}
			out = append(out, reply.ToParam())
		}
	}
	return out, nil
}

func openaiTools(specs []ToolSpec) []openai.ChatCompletionToolParam {
	if len(specs) == 0 {
		return nil
	}
	tools := make([]openai.ChatCompletionToolParam, 0, len(specs))
	for _, spec := range specs {
		fn := openai.FunctionDefinitionParam{
			Name:       spec.Name,
			Parameters: openai.FunctionParameters(spec.InputSchema),
		}
		if spec.Description != "" {
			fn.Description = openai.String(spec.Description)
		}
		tools = append(tools, openai.ChatCompletionToolParam{Function: fn})
	}
	return tools
}
