package protocol

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/wpagent/workbench/internal/errors"
)

// typeAliases maps historical wire spellings to canonical event types.
// Older backends emitted hyphenated types and a few synonyms; both forms
// remain in the wild, so the decoder accepts all of them.
var typeAliases = map[string]EventType{
	"connection_established": EventConnectionEstablished,
	"connection-established": EventConnectionEstablished,
	"processing_status":      EventProcessingStatus,
	"processing-status":      EventProcessingStatus,
	"thinking_update":        EventThinkingUpdate,
	"thinking-update":        EventThinkingUpdate,
	"text":                   EventText,
	"text_update":            EventText,
	"text-update":            EventText,
	"new_message":            EventNewMessage,
	"new-message":            EventNewMessage,
	"stream_complete":        EventStreamComplete,
	"stream-complete":        EventStreamComplete,
	"error":                  EventError,
	"ai_error":               EventAIError,
	"ai-error":               EventAIError,
	"file_update":            EventFileUpdate,
	"file-update":            EventFileUpdate,
	"file_action_broadcast":  EventFileActionBroadcast,
	"file-action-broadcast":  EventFileActionBroadcast,
	"tool_status_update":     EventToolStatusUpdate,
	"tool-status-update":     EventToolStatusUpdate,
	"tool_request":           EventToolRequest,
	"tool-request":           EventToolRequest,
	"tool_response":          EventToolResponse,
	"tool-response":          EventToolResponse,
	"pong":                   EventPong,
}

// rawFrame is the superset of fields any inbound frame may carry.
// Decoding into this single shape replaces the old per-handler field
// sniffing: every optional-field decision happens here, once, and the
// rest of the client only ever sees typed Event variants.
type rawFrame struct {
	Type        string         `json:"type"`
	WorkspaceID string         `json:"workspace_id"`
	MessageID   string         `json:"message_id"`
	Status      string         `json:"status"`
	Message     string         `json:"message"`
	Content     string         `json:"content"`
	Text        string         `json:"text"`
	Thinking    string         `json:"thinking"`
	Sender      string         `json:"sender"`
	Role        string         `json:"role"`
	Timestamp   int64          `json:"timestamp"`
	Error       string         `json:"error"`
	Path        string         `json:"path"`
	FilePath    string         `json:"file_path"`
	ActionType  string         `json:"action_type"`
	IsFolder    bool           `json:"is_folder"`
	FileContent *string        `json:"file_content"`
	ToolID      string         `json:"tool_id"`
	ToolName    string         `json:"tool_name"`
	Parameters  map[string]any `json:"parameters"`
	Result      string         `json:"result"`
	OperationID string         `json:"operation_id"`
	ToolCalls   []rawToolRef   `json:"tool_calls"`
}

// rawToolRef is the minimal tool-call reference attached to a new_message.
type rawToolRef struct {
	ID string `json:"id"`
}

// Decode maps one inbound frame into a variant of the closed Event union.
//
// A frame that is not valid JSON returns a nil Event and a
// protocol.malformed_frame error; the caller logs and drops it. A frame
// that is valid JSON but carries an unknown type decodes successfully
// into the Unrecognized variant - unknown types are data, not errors,
// because the backend adds frame types faster than clients update.
func Decode(data []byte) (Event, error) {
	var f rawFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errors.MalformedFrame(err)
	}
	kind, ok := typeAliases[strings.ToLower(strings.TrimSpace(f.Type))]
	if !ok {
		return Unrecognized{WireType: f.Type, Raw: data}, nil
	}

	switch kind {
	case EventConnectionEstablished:
		return ConnectionEstablished{WorkspaceID: f.WorkspaceID}, nil

	case EventProcessingStatus:
		return ProcessingStatus{Status: f.Status, Message: f.Message}, nil

	case EventThinkingUpdate:
		return ThinkingUpdate{MessageID: f.MessageID, Thinking: f.Thinking}, nil

	case EventText:
		return TextChunk{MessageID: f.MessageID, Content: firstNonEmpty(f.Content, f.Text)}, nil

	case EventNewMessage:
		return decodeNewMessage(f), nil

	case EventStreamComplete:
		return StreamComplete{MessageID: f.MessageID}, nil

	case EventError, EventAIError:
		return ErrorEvent{Kind: kind, Message: firstNonEmpty(f.Error, f.Message)}, nil

	case EventFileUpdate:
		return FileUpdate{Path: firstNonEmpty(f.Path, f.FilePath), Content: f.Content}, nil

	case EventFileActionBroadcast:
		return decodeFileAction(f), nil

	case EventToolStatusUpdate:
		return ToolStatusUpdate{
			ToolID: f.ToolID,
			Status: ToolStatus(f.Status),
			Result: f.Result,
			Error:  f.Error,
		}, nil

	case EventToolRequest:
		return ToolRequest{ToolID: f.ToolID, ToolName: f.ToolName, Parameters: f.Parameters}, nil

	case EventToolResponse:
		return ToolResponse{ToolID: f.ToolID, Result: f.Result, Error: f.Error}, nil

	case EventPong:
		return Pong{OperationID: f.OperationID}, nil
	}

	// Unreachable while typeAliases and the switch stay in sync.
	return Unrecognized{WireType: f.Type, Raw: data}, nil
}

// decodeNewMessage maps a new_message frame, resolving the content and
// sender field fallbacks that different backend versions have used.
func decodeNewMessage(f rawFrame) NewMessage {
	sender := Sender(firstNonEmpty(f.Sender, f.Role))
	switch sender {
	case SenderUser, SenderAssistant, SenderSystem:
	default:
		// Unlabeled messages historically came from the assistant.
		sender = SenderAssistant
	}

	var ts time.Time
	if f.Timestamp > 0 {
		ts = time.UnixMilli(f.Timestamp)
	}

	var toolIDs []string
	for _, ref := range f.ToolCalls {
		if ref.ID != "" {
			toolIDs = append(toolIDs, ref.ID)
		}
	}

	return NewMessage{
		MessageID:   f.MessageID,
		Sender:      sender,
		Content:     firstNonEmpty(f.Text, f.Content, f.Message),
		Timestamp:   ts,
		Thinking:    f.Thinking,
		ToolCallIDs: toolIDs,
	}
}

// decodeFileAction maps a file_action_broadcast frame, distinguishing
// omitted content from present-but-empty content via the pointer field.
func decodeFileAction(f rawFrame) FileActionBroadcast {
	ev := FileActionBroadcast{
		ActionType: FileAction(f.ActionType),
		Path:       firstNonEmpty(f.Path, f.FilePath),
		IsFolder:   f.IsFolder,
	}
	if f.FileContent != nil {
		ev.Content = *f.FileContent
		ev.HasContent = true
	} else if f.Content != "" {
		ev.Content = f.Content
		ev.HasContent = true
	}
	return ev
}

// firstNonEmpty returns the first non-empty string argument.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
