package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/harun/agui-bridge/pkg/agui"
	"github.com/harun/agui-bridge/pkg/mcpregistry"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runAll(t *testing.T, a Agent, input *agui.RunAgentInput) ([]agui.Event, error) {
	t.Helper()
	s := a.Run(context.Background(), input)
	defer s.Close()

	var evts []agui.Event
	for s.Next() {
		evts = append(evts, s.Current())
	}
	return evts, s.Err()
}

func userInput(text string) *agui.RunAgentInput {
	return &agui.RunAgentInput{
		ThreadID: "t1",
		RunID:    "r1",
		Messages: []agui.Message{{ID: "m1", Role: agui.RoleUser, Content: text}},
	}
}

func TestEchoAgentStreamsWords(t *testing.T) {
	a := NewEchoAgent(nil, 0, zerolog.Nop())

	evts, err := runAll(t, a, userInput("hello brave new world"))
	require.NoError(t, err)
	require.Len(t, evts, 8)

	assert.Equal(t, agui.EventRunStarted, evts[0].Type())
	assert.Equal(t, agui.EventTextMessageStart, evts[1].Type())

	var text strings.Builder
	for _, e := range evts[2:6] {
		c, ok := e.(*agui.TextMessageContent)
		require.True(t, ok)
		assert.NotEmpty(t, c.Delta)
		text.WriteString(c.Delta)
	}
	assert.Equal(t, "hello brave new world", text.String())

	assert.Equal(t, agui.EventTextMessageEnd, evts[6].Type())
	finished, ok := evts[7].(*agui.RunFinished)
	require.True(t, ok)
	assert.Equal(t, "t1", finished.ThreadID)
	assert.Equal(t, "r1", finished.RunID)
}

func TestEchoAgentWithoutUserMessage(t *testing.T) {
	a := NewEchoAgent(nil, 0, zerolog.Nop())

	evts, err := runAll(t, a, &agui.RunAgentInput{ThreadID: "t1", RunID: "r1", Messages: []agui.Message{}})
	require.NoError(t, err)
	require.Len(t, evts, 2)
	assert.Equal(t, agui.EventRunStarted, evts[0].Type())
	assert.Equal(t, agui.EventRunFinished, evts[1].Type())
}

func TestEchoAgentCallsTool(t *testing.T) {
	tools := newTestToolSet(t)
	a := NewEchoAgent(tools, 0, zerolog.Nop())

	evts, err := runAll(t, a, userInput(`/call math.add {"a": 2, "b": 3}`))
	require.NoError(t, err)

	var types []agui.EventType
	for _, e := range evts {
		types = append(types, e.Type())
	}
	assert.Equal(t, []agui.EventType{
		agui.EventRunStarted,
		agui.EventToolCallStart,
		agui.EventToolCallArgs,
		agui.EventToolCallEnd,
		agui.EventToolCallResult,
		agui.EventRunFinished,
	}, types)

	start := evts[1].(*agui.ToolCallStart)
	assert.Equal(t, "math__add", start.ToolCallName)

	result := evts[4].(*agui.ToolCallResult)
	assert.Equal(t, start.ToolCallID, result.ToolCallID)
	assert.Equal(t, "5", result.Content)

	assert.True(t, tools.Registry().IsConnected("math"))
}

func TestEchoAgentUnknownProviderFailsRun(t *testing.T) {
	a := NewEchoAgent(newTestToolSet(t), 0, zerolog.Nop())

	evts, err := runAll(t, a, userInput(`/call nowhere.tool {}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownProvider)
	// the tool call was announced before it failed
	assert.Equal(t, agui.EventToolCallEnd, evts[len(evts)-1].Type())
}

func TestEchoAgentBrokenProviderFailsRun(t *testing.T) {
	a := NewEchoAgent(newTestToolSet(t), 0, zerolog.Nop())

	_, err := runAll(t, a, userInput(`/call broken.tool {}`))
	var cfe *mcpregistry.ConnectFailedError
	assert.ErrorAs(t, err, &cfe)
}

func TestEchoAgentBadCallSyntaxIsEchoed(t *testing.T) {
	a := NewEchoAgent(newTestToolSet(t), 0, zerolog.Nop())

	evts, err := runAll(t, a, userInput(`/call nodot`))
	require.NoError(t, err)
	assert.Equal(t, agui.EventTextMessageStart, evts[1].Type())

	evts, err = runAll(t, a, userInput(`/call math.add {broken`))
	require.NoError(t, err)
	content := evts[2].(*agui.TextMessageContent)
	assert.Contains(t, content.Delta, "invalid")
}
