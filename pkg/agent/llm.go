package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/harun/agui-bridge/internal/tracing"
	"github.com/harun/agui-bridge/pkg/agui"
	"github.com/rs/zerolog"
)

var errMaxTurns = errors.New("maximum tool execution turns exceeded")

// LLMAgent runs a model in a tool loop. Backend tools from the tool set are
// executed here; frontend tools from the request end the run so the client
// can execute them.
type LLMAgent struct {
	provider LLMProvider
	tools    *ToolSet
	config   Config
	logger   zerolog.Logger
	backoff  func(attempt int) time.Duration
}

// NewLLMAgent creates an agent over provider. tools may be nil.
func NewLLMAgent(provider LLMProvider, tools *ToolSet, cfg Config, logger zerolog.Logger) *LLMAgent {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	return &LLMAgent{
		provider: provider,
		tools:    tools,
		config:   cfg,
		logger:   logger,
		backoff: func(attempt int) time.Duration {
			// 1s, 2s, 4s
			return time.Duration(1000*(1<<attempt)) * time.Millisecond
		},
	}
}

func (a *LLMAgent) Run(ctx context.Context, input *agui.RunAgentInput) *Stream {
	return NewStream(ctx, func(ctx context.Context, emit Emit) error {
		return a.run(ctx, input, emit)
	})
}

func (a *LLMAgent) run(ctx context.Context, input *agui.RunAgentInput, emit Emit) error {
	logger := tracing.LoggerFromContext(ctx, a.logger)

	if err := emit(agui.NewRunStarted(input.ThreadID, input.RunID)); err != nil {
		return err
	}

	messages, system := FromAGUI(input.Messages)
	systemPrompt := joinNonEmpty(a.config.SystemPrompt, system, contextPrompt(input.Context))

	var backend []ToolSpec
	if a.tools != nil {
		backend = a.tools.Specs(ctx)
	}
	frontend := make(map[string]bool, len(input.Tools))
	tools := append([]ToolSpec{}, backend...)
	for _, t := range input.Tools {
		frontend[t.Name] = true
		tools = append(tools, ToolSpec{Name: t.Name, Description: t.Description, InputSchema: SchemaFromJSON(t.Parameters)})
	}

	for turn := 0; turn < a.config.MaxTurns; turn++ {
		step := fmt.Sprintf("turn_%d", turn+1)
		if err := emit(agui.NewStepStarted(step)); err != nil {
			return err
		}

		response, err := a.callLLMWithRetry(ctx, logger, LLMRequest{
			Model:        a.config.Model,
			Messages:     messages,
			Tools:        tools,
			Temperature:  a.config.Temperature,
			MaxTokens:    a.config.MaxTokens,
			SystemPrompt: systemPrompt,
		})
		if err != nil {
			return err
		}

		messageID := newID("msg")
		if response.Content != "" {
			if err := emitText(emit, messageID, []string{response.Content}); err != nil {
				return err
			}
		}

		for _, tc := range response.ToolCalls {
			args, _ := json.Marshal(tc.Parameters)
			if err := emitAll(emit,
				agui.NewToolCallStart(tc.ID, tc.Name, messageID),
				agui.NewToolCallArgs(tc.ID, string(args)),
				agui.NewToolCallEnd(tc.ID),
			); err != nil {
				return err
			}
		}

		if err := emit(agui.NewStepFinished(step)); err != nil {
			return err
		}

		// No tool calls - we're done
		if len(response.ToolCalls) == 0 {
			return emit(agui.NewRunFinished(input.ThreadID, input.RunID))
		}

		messages = append(messages, AgentMessage{
			Role:      "assistant",
			Content:   response.Content,
			ToolCalls: response.ToolCalls,
		})

		handOff := false
		for _, tc := range response.ToolCalls {
			if frontend[tc.Name] || a.tools == nil || !a.tools.Owns(tc.Name) {
				handOff = true
				continue
			}

			content, isError, err := a.executeTool(ctx, tc)
			if err != nil {
				return err
			}
			if err := emit(agui.NewToolCallResult(newID("msg"), tc.ID, content)); err != nil {
				return err
			}
			messages = append(messages, AgentMessage{Role: "tool", Content: content, ToolCallID: tc.ID, IsError: isError})
		}

		if handOff {
			logger.Debug().Int("turn", turn+1).Msg("Handing tool calls to the client")
			return emit(agui.NewRunFinished(input.ThreadID, input.RunID))
		}
	}

	return errMaxTurns
}

// executeTool runs a backend tool. Only failures to reach the provider are
// returned as errors; tool-level errors become the result content with
// isError set.
func (a *LLMAgent) executeTool(ctx context.Context, tc ToolCall) (content string, isError bool, err error) {
	provider, tool, _ := SplitToolName(tc.Name)

	result, err := a.tools.Call(ctx, provider, tool, tc.Parameters)
	if err != nil {
		return "", false, err
	}

	content = ResultText(result)
	if result.IsError && content == "" {
		content = "tool reported an error"
	}
	return content, result.IsError, nil
}

// callLLMWithRetry calls the provider with exponential backoff on retryable errors
func (a *LLMAgent) callLLMWithRetry(ctx context.Context, logger zerolog.Logger, request LLMRequest) (*LLMResponse, error) {
	maxRetries := a.config.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		response, err := a.provider.Call(ctx, request)
		if err == nil {
			return response, nil
		}

		lastErr = err

		// Don't retry on permanent errors
		if !IsRetryableError(err) {
			return nil, fmt.Errorf("%s call failed: %w", a.provider.Provider(), err)
		}

		// Last attempt - don't wait
		if attempt == maxRetries-1 {
			break
		}

		delay := a.backoff(attempt)
		logger.Info().
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Err(err).
			Msg("Retrying after error")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", maxRetries, lastErr)
}

func contextPrompt(items []agui.Context) string {
	if len(items) == 0 {
		return ""
	}
	out := "Context:"
	for _, c := range items {
		out += fmt.Sprintf("\n- %s: %s", c.Description, c.Value)
	}
	return out
}

func joinNonEmpty(parts ...string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out != "" {
			out += "\n\n"
		}
		out += p
	}
	return out
}
