package agent

import (
	"context"

	"github.com/harun/agui-bridge/pkg/agui"
)

// Agent answers one run with a stream of events.
type Agent interface {
	Run(ctx context.Context, input *agui.RunAgentInput) *Stream
}

// Func adapts a producer function to Agent.
type Func func(ctx context.Context, input *agui.RunAgentInput, emit Emit) error

func (f Func) Run(ctx context.Context, input *agui.RunAgentInput) *Stream {
	return NewStream(ctx, func(ctx context.Context, emit Emit) error {
		return f(ctx, input, emit)
	})
}

// emitAll stops at the first failed emit.
func emitAll(emit Emit, evts ...agui.Event) error {
	for _, evt := range evts {
		if err := emit(evt); err != nil {
			return err
		}
	}
	return nil
}

// emitText streams one assistant message, one chunk per content event.
// Empty chunks are dropped.
func emitText(emit Emit, messageID string, chunks []string) error {
	if err := emit(agui.NewTextMessageStart(messageID)); err != nil {
		return err
	}
	for _, chunk := range chunks {
		if chunk == "" {
			continue
		}
		if err := emit(agui.NewTextMessageContent(messageID, chunk)); err != nil {
			return err
		}
	}
	return emit(agui.NewTextMessageEnd(messageID))
}
