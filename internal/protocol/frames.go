package protocol

// Outbound frame types. These are the only frames the client sends.
const (
	// FrameUserMessage submits a chat message for the agent to answer.
	FrameUserMessage = "user_message"

	// FrameQueryAgent asks the agent to resume or re-evaluate the current
	// turn without adding a new user message.
	FrameQueryAgent = "query_agent"

	// FrameTool dispatches a tool invocation with correlation id.
	FrameTool = "tool_name"

	// FrameRequestFileContent asks for the full content of one file,
	// used when a file_action_broadcast arrived without inline content.
	FrameRequestFileContent = "request_file_content"

	// FramePing probes connection liveness; answered by a pong carrying
	// the same operation_id.
	FramePing = "ping"
)

// UserMessageFrame submits a chat message to the agent.
type UserMessageFrame struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	MessageID   string `json:"message_id"`
	WorkspaceID string `json:"workspace_id"`
}

// QueryAgentFrame prompts the agent without appending a user message.
type QueryAgentFrame struct {
	Type        string `json:"type"`
	WorkspaceID string `json:"workspace_id"`
}

// ToolFrame dispatches a tool invocation.
type ToolFrame struct {
	Type       string         `json:"type"`
	ToolName   string         `json:"tool_name"`
	ToolID     string         `json:"tool_id"`
	Parameters map[string]any `json:"parameters"`
}

// FileContentRequestFrame asks for the content of a single file.
type FileContentRequestFrame struct {
	Type        string `json:"type"`
	Path        string `json:"path"`
	WorkspaceID string `json:"workspace_id"`
}

// PingFrame probes liveness. The operation_id correlates the pong.
type PingFrame struct {
	Type        string `json:"type"`
	OperationID string `json:"operation_id"`
}

// NewUserMessageFrame creates a user_message frame.
func NewUserMessageFrame(workspaceID, messageID, message string) UserMessageFrame {
	return UserMessageFrame{
		Type:        FrameUserMessage,
		Message:     message,
		MessageID:   messageID,
		WorkspaceID: workspaceID,
	}
}

// NewQueryAgentFrame creates a query_agent frame.
func NewQueryAgentFrame(workspaceID string) QueryAgentFrame {
	return QueryAgentFrame{
		Type:        FrameQueryAgent,
		WorkspaceID: workspaceID,
	}
}

// NewToolFrame creates a tool dispatch frame.
func NewToolFrame(toolID, toolName string, parameters map[string]any) ToolFrame {
	return ToolFrame{
		Type:       FrameTool,
		ToolName:   toolName,
		ToolID:     toolID,
		Parameters: parameters,
	}
}

// NewFileContentRequestFrame creates a request_file_content frame.
func NewFileContentRequestFrame(workspaceID, path string) FileContentRequestFrame {
	return FileContentRequestFrame{
		Type:        FrameRequestFileContent,
		Path:        path,
		WorkspaceID: workspaceID,
	}
}

// NewPingFrame creates a ping frame with the given operation id.
func NewPingFrame(operationID string) PingFrame {
	return PingFrame{
		Type:        FramePing,
		OperationID: operationID,
	}
}
