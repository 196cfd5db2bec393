package agui

import "time"

// EventType is the "type" discriminator of an AG-UI event.
type EventType string

const (
	EventRunStarted         EventType = "RUN_STARTED"
	EventRunFinished        EventType = "RUN_FINISHED"
	EventRunError           EventType = "RUN_ERROR"
	EventStepStarted        EventType = "STEP_STARTED"
	EventStepFinished       EventType = "STEP_FINISHED"
	EventTextMessageStart   EventType = "TEXT_MESSAGE_START"
	EventTextMessageContent EventType = "TEXT_MESSAGE_CONTENT"
	EventTextMessageEnd     EventType = "TEXT_MESSAGE_END"
	EventToolCallStart      EventType = "TOOL_CALL_START"
	EventToolCallArgs       EventType = "TOOL_CALL_ARGS"
	EventToolCallEnd        EventType = "TOOL_CALL_END"
	EventToolCallResult     EventType = "TOOL_CALL_RESULT"
	EventStateSnapshot      EventType = "STATE_SNAPSHOT"
	EventMessagesSnapshot   EventType = "MESSAGES_SNAPSHOT"
)

// Event is implemented by every event a run emits.
type Event interface {
	Type() EventType
}

// BaseEvent carries the fields shared by all events.
type BaseEvent struct {
	EventType EventType `json:"type"`
	Timestamp int64     `json:"timestamp,omitempty"` // unix millis
}

func (e BaseEvent) Type() EventType { return e.EventType }

func base(t EventType) BaseEvent {
	return BaseEvent{EventType: t, Timestamp: time.Now().UnixMilli()}
}

// RunStarted opens a run.
type RunStarted struct {
	BaseEvent
	ThreadID string `json:"threadId"`
	RunID    string `json:"runId"`
}

func NewRunStarted(threadID, runID string) *RunStarted {
	return &RunStarted{BaseEvent: base(EventRunStarted), ThreadID: threadID, RunID: runID}
}

// RunFinished closes a run successfully.
type RunFinished struct {
	BaseEvent
	ThreadID string `json:"threadId"`
	RunID    string `json:"runId"`
	Result   any    `json:"result,omitempty"`
}

func NewRunFinished(threadID, runID string) *RunFinished {
	return &RunFinished{BaseEvent: base(EventRunFinished), ThreadID: threadID, RunID: runID}
}

// RunError terminates a run that failed. No events follow it.
type RunError struct {
	BaseEvent
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func NewRunError(message, code string) *RunError {
	return &RunError{BaseEvent: base(EventRunError), Message: message, Code: code}
}

type StepStarted struct {
	BaseEvent
	StepName string `json:"stepName"`
}

func NewStepStarted(name string) *StepStarted {
	return &StepStarted{BaseEvent: base(EventStepStarted), StepName: name}
}

type StepFinished struct {
	BaseEvent
	StepName string `json:"stepName"`
}

func NewStepFinished(name string) *StepFinished {
	return &StepFinished{BaseEvent: base(EventStepFinished), StepName: name}
}

// TextMessageStart begins a streamed assistant message.
type TextMessageStart struct {
	BaseEvent
	MessageID string `json:"messageId"`
	Role      Role   `json:"role"`
}

func NewTextMessageStart(messageID string) *TextMessageStart {
	return &TextMessageStart{BaseEvent: base(EventTextMessageStart), MessageID: messageID, Role: RoleAssistant}
}

// TextMessageContent is one chunk of a streamed message. Delta is never empty.
type TextMessageContent struct {
	BaseEvent
	MessageID string `json:"messageId"`
	Delta     string `json:"delta"`
}

func NewTextMessageContent(messageID, delta string) *TextMessageContent {
	return &TextMessageContent{BaseEvent: base(EventTextMessageContent), MessageID: messageID, Delta: delta}
}

type TextMessageEnd struct {
	BaseEvent
	MessageID string `json:"messageId"`
}

func NewTextMessageEnd(messageID string) *TextMessageEnd {
	return &TextMessageEnd{BaseEvent: base(EventTextMessageEnd), MessageID: messageID}
}

// ToolCallStart announces a tool call. ParentMessageID links it to the
// assistant message that requested it.
type ToolCallStart struct {
	BaseEvent
	ToolCallID      string `json:"toolCallId"`
	ToolCallName    string `json:"toolCallName"`
	ParentMessageID string `json:"parentMessageId,omitempty"`
}

func NewToolCallStart(toolCallID, name, parentMessageID string) *ToolCallStart {
	return &ToolCallStart{
		BaseEvent:       base(EventToolCallStart),
		ToolCallID:      toolCallID,
		ToolCallName:    name,
		ParentMessageID: parentMessageID,
	}
}

type ToolCallArgs struct {
	BaseEvent
	ToolCallID string `json:"toolCallId"`
	Delta      string `json:"delta"`
}

func NewToolCallArgs(toolCallID, delta string) *ToolCallArgs {
	return &ToolCallArgs{BaseEvent: base(EventToolCallArgs), ToolCallID: toolCallID, Delta: delta}
}

type ToolCallEnd struct {
	BaseEvent
	ToolCallID string `json:"toolCallId"`
}

func NewToolCallEnd(toolCallID string) *ToolCallEnd {
	return &ToolCallEnd{BaseEvent: base(EventToolCallEnd), ToolCallID: toolCallID}
}

// ToolCallResult carries the output of a tool executed by the backend.
type ToolCallResult struct {
	BaseEvent
	MessageID  string `json:"messageId"`
	ToolCallID string `json:"toolCallId"`
	Content    string `json:"content"`
	Role       Role   `json:"role,omitempty"`
}

func NewToolCallResult(messageID, toolCallID, content string) *ToolCallResult {
	return &ToolCallResult{
		BaseEvent:  base(EventToolCallResult),
		MessageID:  messageID,
		ToolCallID: toolCallID,
		Content:    content,
		Role:       RoleTool,
	}
}

type StateSnapshot struct {
	BaseEvent
	Snapshot any `json:"snapshot"`
}

func NewStateSnapshot(snapshot any) *StateSnapshot {
	return &StateSnapshot{BaseEvent: base(EventStateSnapshot), Snapshot: snapshot}
}

type MessagesSnapshot struct {
	BaseEvent
	Messages []Message `json:"messages"`
}

func NewMessagesSnapshot(messages []Message) *MessagesSnapshot {
	if messages == nil {
		messages = []Message{}
	}
	return &MessagesSnapshot{BaseEvent: base(EventMessagesSnapshot), Messages: messages}
}
