// Package session holds the canonical client-side view of one
// workspace conversation and is the only place that view is mutated.
// Inbound protocol events and outbound user intents both funnel into
// the reducer; everything else reads immutable snapshots.
package session

import (
	"time"

	"github.com/wpagent/workbench/internal/files"
	"github.com/wpagent/workbench/internal/protocol"
)

// Message is one settled conversation entry.
type Message struct {
	// ID is the backend-assigned id, or a locally generated one for
	// messages created on this client.
	ID string

	// Sender is who authored the message.
	Sender protocol.Sender

	// Content is the full message text.
	Content string

	// Thinking is the consolidated thinking trace, if any.
	Thinking string

	// Timestamp orders the conversation. Local arrival time when the
	// backend omitted one.
	Timestamp time.Time

	// ToolCallIDs references tool calls attached to this message.
	ToolCallIDs []string
}

// ToolCall tracks one dispatched tool invocation. Status moves
// forward only: pending, running, then completed or failed.
type ToolCall struct {
	ID         string
	MessageID  string
	Name       string
	Status     protocol.ToolStatus
	Parameters map[string]any
	Result     string
	Error      string
	StartedAt  time.Time
	EndedAt    time.Time
}

// StreamView is the in-progress answer stream as seen in a snapshot.
type StreamView struct {
	Active    bool
	MessageID string
	Content   string
	Paused    bool
}

// State is an immutable snapshot of the session. Slices and maps are
// copies; holding a State never observes later mutation.
type State struct {
	// WorkspaceID is the connected workspace, or "" before connect.
	WorkspaceID string

	// ConnectionStatus mirrors the connection manager's state so the
	// UI can always render it.
	ConnectionStatus string

	// IsProcessing is true from the moment a user message is sent
	// until the backend signals completion or a final assistant
	// message lands.
	IsProcessing bool

	// Messages is the deduplicated conversation, oldest first.
	Messages []Message

	// ToolCalls is every tool invocation seen this session.
	ToolCalls map[string]ToolCall

	// Stream is the in-progress answer, if any.
	Stream StreamView

	// Files is the mirrored workspace file tree.
	Files []files.Entry

	// LastError is the most recent backend error, sanitized for
	// display. Empty when the last operation succeeded.
	LastError string

	// ReconnectExhausted is true once the reconnect budget ran out;
	// only an explicit Reconnect call clears it.
	ReconnectExhausted bool
}
