package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/harun/agui-bridge/pkg/agent"
	"github.com/harun/agui-bridge/pkg/agui"
	"github.com/harun/agui-bridge/pkg/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeFactory hands out the same agent and counts how often it was asked.
type fakeFactory struct {
	agent agent.Agent
	err   error
	calls atomic.Int32
}

func (f *fakeFactory) New(ctx context.Context, input *agui.RunAgentInput) (agent.Agent, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.agent, nil
}

// scripted emits evts and then returns err.
func scripted(err error, evts ...func(input *agui.RunAgentInput) agui.Event) agent.Func {
	return func(ctx context.Context, input *agui.RunAgentInput, emit agent.Emit) error {
		for _, mk := range evts {
			if e := emit(mk(input)); e != nil {
				return e
			}
		}
		return err
	}
}

func runStarted(in *agui.RunAgentInput) agui.Event  { return agui.NewRunStarted(in.ThreadID, in.RunID) }
func runFinished(in *agui.RunAgentInput) agui.Event { return agui.NewRunFinished(in.ThreadID, in.RunID) }
func text(kind agui.EventType, delta string) func(*agui.RunAgentInput) agui.Event {
	return func(*agui.RunAgentInput) agui.Event {
		switch kind {
		case agui.EventTextMessageStart:
			return agui.NewTextMessageStart("m1")
		case agui.EventTextMessageEnd:
			return agui.NewTextMessageEnd("m1")
		default:
			return agui.NewTextMessageContent("m1", delta)
		}
	}
}

// failingStore fails every write.
type failingStore struct {
	session.Store
}

func (failingStore) GetOrCreate(ctx context.Context, threadID string) (*session.Session, error) {
	return nil, errors.New("disk full")
}

// syncBuffer is a log sink safe for concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// lines returns every logged line as a decoded JSON object.
func (b *syncBuffer) lines(t *testing.T) []map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(b.buf.Bytes()))
	for sc.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		out = append(out, line)
	}
	return out
}

type driverFixture struct {
	driver  *Driver
	store   session.Store
	factory *fakeFactory
	logs    *syncBuffer
}

func newDriverFixture(t *testing.T, a agent.Agent, strict bool) *driverFixture {
	t.Helper()

	logs := &syncBuffer{}
	store := session.NewMemoryStore(session.Options{Logger: zerolog.Nop()})
	factory := &fakeFactory{agent: a}

	d, err := NewDriver(DriverOptions{
		Sessions:           store,
		Agents:             factory,
		StrictClientErrors: strict,
		Logger:             zerolog.New(logs),
	})
	require.NoError(t, err)

	return &driverFixture{driver: d, store: store, factory: factory, logs: logs}
}

// sseEvents splits an SSE body into its retry directive and decoded events.
func sseEvents(t *testing.T, body string) (string, []map[string]any) {
	t.Helper()

	frames := strings.Split(strings.TrimSuffix(body, "\n\n"), "\n\n")
	require.NotEmpty(t, frames)

	var evts []map[string]any
	for _, frame := range frames[1:] {
		require.True(t, strings.HasPrefix(frame, "data: "), frame)
		var evt map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frame, "data: ")), &evt))
		evts = append(evts, evt)
	}
	return frames[0], evts
}

func types(evts []map[string]any) []string {
	out := make([]string, len(evts))
	for i, e := range evts {
		out[i], _ = e["type"].(string)
	}
	return out
}

const validBody = `{
	"threadId": "t1",
	"runId": "r1",
	"messages": [{"id": "m1", "role": "user", "content": "hi"}],
	"tools": [{"name": "confirm", "description": "Ask the user"}]
}`
