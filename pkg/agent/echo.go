package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/harun/agui-bridge/pkg/agui"
	"github.com/rs/zerolog"
)

const callPrefix = "/call "

// EchoAgent streams the last user message back word by word. A message of
// the form "/call <provider>.<tool> <json-args>" runs that tool instead.
type EchoAgent struct {
	tools  *ToolSet
	delay  time.Duration
	logger zerolog.Logger
}

// NewEchoAgent creates an echo agent. tools may be nil, in which case /call
// messages are echoed like any other text.
func NewEchoAgent(tools *ToolSet, delay time.Duration, logger zerolog.Logger) *EchoAgent {
	return &EchoAgent{tools: tools, delay: delay, logger: logger}
}

func (a *EchoAgent) Run(ctx context.Context, input *agui.RunAgentInput) *Stream {
	return NewStream(ctx, func(ctx context.Context, emit Emit) error {
		return a.run(ctx, input, emit)
	})
}

func (a *EchoAgent) run(ctx context.Context, input *agui.RunAgentInput, emit Emit) error {
	if err := emit(agui.NewRunStarted(input.ThreadID, input.RunID)); err != nil {
		return err
	}

	if msg, ok := input.LastUserMessage(); ok {
		var err error
		if a.tools != nil && strings.HasPrefix(msg.Content, callPrefix) {
			err = a.callTool(ctx, strings.TrimPrefix(msg.Content, callPrefix), emit)
		} else {
			err = a.echo(ctx, msg.Content, emit)
		}
		if err != nil {
			return err
		}
	}

	return emit(agui.NewRunFinished(input.ThreadID, input.RunID))
}

func (a *EchoAgent) echo(ctx context.Context, text string, emit Emit) error {
	messageID := newID("msg")
	if err := emit(agui.NewTextMessageStart(messageID)); err != nil {
		return err
	}

	for _, word := range strings.SplitAfter(text, " ") {
		if word == "" {
			continue
		}
		if a.delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(a.delay):
			}
		}
		if err := emit(agui.NewTextMessageContent(messageID, word)); err != nil {
			return err
		}
	}

	return emit(agui.NewTextMessageEnd(messageID))
}

// callTool parses "<provider>.<tool> <json-args>" and runs it through the
// tool set. Failures to reach the provider end the run with an error; tool
// level errors are reported in the result.
func (a *EchoAgent) callTool(ctx context.Context, command string, emit Emit) error {
	target, rawArgs, _ := strings.Cut(strings.TrimSpace(command), " ")
	provider, tool, ok := strings.Cut(target, ".")
	if !ok || provider == "" || tool == "" {
		return a.echo(ctx, "usage: /call <provider>.<tool> <json-args>", emit)
	}

	rawArgs = strings.TrimSpace(rawArgs)
	if rawArgs == "" {
		rawArgs = "{}"
	}
	args := map[string]any{}
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return a.echo(ctx, fmt.Sprintf("invalid tool arguments: %v", err), emit)
	}

	toolCallID := newID("call")
	if err := emitAll(emit,
		agui.NewToolCallStart(toolCallID, provider+ToolNameSeparator+tool, ""),
		agui.NewToolCallArgs(toolCallID, rawArgs),
		agui.NewToolCallEnd(toolCallID),
	); err != nil {
		return err
	}

	result, err := a.tools.Call(ctx, provider, tool, args)
	if err != nil {
		return err
	}

	a.logger.Debug().
		Str("provider_id", provider).
		Str("tool", tool).
		Bool("is_error", result.IsError).
		Msg("Echo agent tool call completed")

	return emit(agui.NewToolCallResult(newID("msg"), toolCallID, ResultText(result)))
}
