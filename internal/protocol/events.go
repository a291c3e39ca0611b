// Package protocol defines the wire format for the workspace agent connection.
// Frames are newline-delimited JSON objects over a persistent WebSocket, each
// carrying a "type" discriminator. Inbound frames are decoded into one variant
// of a closed Event union before they reach the session reducer; outbound
// frames are built with the New*Frame constructors below.
package protocol

import (
	"time"
)

// EventType identifies the kind of inbound frame received from the agent.
// The decoder normalizes historical hyphenated spellings to these canonical
// underscore forms (see aliases in decode.go).
type EventType string

const (
	// EventConnectionEstablished confirms the backend bound this connection
	// to a workspace. Variant: ConnectionEstablished
	EventConnectionEstablished EventType = "connection_established"

	// EventProcessingStatus signals the agent started or finished working
	// on the current turn. Variant: ProcessingStatus
	EventProcessingStatus EventType = "processing_status"

	// EventThinkingUpdate carries an incremental chunk of the diagnostic
	// thinking trace for a message. Variant: ThinkingUpdate
	EventThinkingUpdate EventType = "thinking_update"

	// EventText carries an incremental chunk of the streamed answer text.
	// The wire also uses "text_update" for the same payload shape.
	// Variant: TextChunk
	EventText EventType = "text"

	// EventNewMessage carries a complete message for the conversation.
	// Variant: NewMessage
	EventNewMessage EventType = "new_message"

	// EventStreamComplete terminates the active answer stream.
	// Variant: StreamComplete
	EventStreamComplete EventType = "stream_complete"

	// EventError reports a backend error. The wire also uses "ai_error"
	// for errors raised inside the model pipeline. Variant: ErrorEvent
	EventError EventType = "error"

	// EventAIError is the model-pipeline flavor of EventError.
	// Variant: ErrorEvent (Kind distinguishes the two)
	EventAIError EventType = "ai_error"

	// EventFileUpdate carries full content for a single workspace file.
	// Sent in response to a request_file_content frame, or proactively
	// after a write. Variant: FileUpdate
	EventFileUpdate EventType = "file_update"

	// EventFileActionBroadcast announces a file mutation performed by the
	// agent (create/update/delete). Content may be omitted, in which case
	// the client must follow up with request_file_content.
	// Variant: FileActionBroadcast
	EventFileActionBroadcast EventType = "file_action_broadcast"

	// EventToolStatusUpdate carries a lifecycle transition for a tool call.
	// Variant: ToolStatusUpdate
	EventToolStatusUpdate EventType = "tool_status_update"

	// EventToolRequest asks the client to run a tool on the agent's behalf.
	// Variant: ToolRequest
	EventToolRequest EventType = "tool_request"

	// EventToolResponse carries the correlated result of a tool dispatch.
	// Variant: ToolResponse
	EventToolResponse EventType = "tool_response"

	// EventPong answers a tracked ping frame. Variant: Pong
	EventPong EventType = "pong"

	// EventUnrecognized is the catch-all variant for frames whose type is
	// unknown or ambiguous. The dispatcher forwards these only on the
	// any-event channel; the reducer ignores them. Variant: Unrecognized
	EventUnrecognized EventType = "unrecognized"
)

// Event is the closed union of decoded inbound frames.
// Every variant is a struct in this package; Decode never returns anything
// outside this set.
type Event interface {
	// Type returns the canonical event type of this variant.
	Type() EventType
}

// Sender identifies who authored a conversation message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
	SenderSystem    Sender = "system"
)

// ToolStatus is the lifecycle state of a tool call.
// Transitions are monotonic: pending -> running -> completed|failed.
type ToolStatus string

const (
	ToolPending   ToolStatus = "pending"
	ToolRunning   ToolStatus = "running"
	ToolCompleted ToolStatus = "completed"
	ToolFailed    ToolStatus = "failed"
)

// FileAction is the kind of mutation announced by a file_action_broadcast.
type FileAction string

const (
	FileActionCreate FileAction = "create"
	FileActionUpdate FileAction = "update"
	FileActionDelete FileAction = "delete"
)

// ConnectionEstablished confirms the connection is bound to a workspace.
type ConnectionEstablished struct {
	// WorkspaceID is the workspace this connection now serves.
	WorkspaceID string
}

func (ConnectionEstablished) Type() EventType { return EventConnectionEstablished }

// ProcessingStatus signals a change in the agent's processing state.
type ProcessingStatus struct {
	// Status is "started" or "complete".
	Status string

	// Message is an optional human-readable progress note.
	Message string
}

// Complete reports whether this status ends the current turn.
func (p ProcessingStatus) Complete() bool { return p.Status == "complete" }

func (ProcessingStatus) Type() EventType { return EventProcessingStatus }

// ThinkingUpdate carries an incremental thinking-trace chunk.
type ThinkingUpdate struct {
	// MessageID keys the thinking buffer this chunk extends.
	MessageID string

	// Thinking is the incremental trace text.
	Thinking string
}

func (ThinkingUpdate) Type() EventType { return EventThinkingUpdate }

// TextChunk carries an incremental chunk of the streamed answer.
type TextChunk struct {
	// MessageID is the backend-assigned id for the in-progress message.
	// May be empty on early chunks before the backend assigns one.
	MessageID string

	// Content is the incremental text.
	Content string
}

func (TextChunk) Type() EventType { return EventText }

// NewMessage carries a complete conversation message.
type NewMessage struct {
	// MessageID is the dedup key. May be empty on some backends; the
	// reducer falls back to (content, sender) matching within a window.
	MessageID string

	// Sender is who authored the message.
	Sender Sender

	// Content is the full message text.
	Content string

	// Timestamp is when the backend produced the message. Zero when the
	// backend omitted it; the reducer substitutes arrival time.
	Timestamp time.Time

	// Thinking is an optional consolidated thinking trace.
	Thinking string

	// ToolCallIDs references tool calls attached to this message.
	ToolCallIDs []string
}

func (NewMessage) Type() EventType { return EventNewMessage }

// StreamComplete terminates the active answer stream.
type StreamComplete struct {
	// MessageID identifies the stream being finalized. May be empty;
	// there is at most one active stream per workspace.
	MessageID string
}

func (StreamComplete) Type() EventType { return EventStreamComplete }

// ErrorEvent reports a backend error frame.
type ErrorEvent struct {
	// Kind is EventError or EventAIError, preserving the wire flavor.
	Kind EventType

	// Message is the backend-provided error text. The session layer
	// rewrites messages that leak credential material before display.
	Message string
}

func (e ErrorEvent) Type() EventType { return e.Kind }

// FileUpdate carries full content for one file.
type FileUpdate struct {
	// Path is the workspace-relative file path.
	Path string

	// Content is the complete file content.
	Content string
}

func (FileUpdate) Type() EventType { return EventFileUpdate }

// FileActionBroadcast announces an agent-side file mutation.
type FileActionBroadcast struct {
	// ActionType is create, update, or delete.
	ActionType FileAction

	// Path is the workspace-relative path the action applies to.
	Path string

	// Content is the inline file content, when the backend included it.
	// Empty for delete actions and for create/update broadcasts that
	// expect a follow-up request_file_content.
	Content string

	// HasContent distinguishes "content present but empty" from
	// "content omitted" so the client knows whether to fetch.
	HasContent bool

	// IsFolder marks directory entries.
	IsFolder bool
}

func (FileActionBroadcast) Type() EventType { return EventFileActionBroadcast }

// ToolStatusUpdate carries a tool-call lifecycle transition.
type ToolStatusUpdate struct {
	// ToolID correlates with a previously dispatched tool call.
	ToolID string

	// Status is the new lifecycle state.
	Status ToolStatus

	// Result is the tool output, present on completed.
	Result string

	// Error is the failure description, present on failed.
	Error string
}

func (ToolStatusUpdate) Type() EventType { return EventToolStatusUpdate }

// ToolRequest asks the client to dispatch a tool.
type ToolRequest struct {
	// ToolID is the backend-assigned correlation id.
	ToolID string

	// ToolName is the tool to run.
	ToolName string

	// Parameters are the tool arguments.
	Parameters map[string]any
}

func (ToolRequest) Type() EventType { return EventToolRequest }

// ToolResponse carries the correlated result of a tool dispatch.
type ToolResponse struct {
	// ToolID correlates with the original dispatch.
	ToolID string

	// Result is the tool output.
	Result string

	// Error is set when the tool failed.
	Error string
}

func (ToolResponse) Type() EventType { return EventToolResponse }

// Pong answers a tracked ping.
type Pong struct {
	// OperationID echoes the ping's operation_id for pending-op matching.
	OperationID string
}

func (Pong) Type() EventType { return EventPong }

// Unrecognized wraps a frame whose type is unknown.
// The raw bytes are preserved for cross-cutting observers (logging, metrics).
type Unrecognized struct {
	// WireType is the unrecognized "type" value from the frame.
	WireType string

	// Raw is the original frame payload.
	Raw []byte
}

func (Unrecognized) Type() EventType { return EventUnrecognized }
