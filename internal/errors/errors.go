// Package errors provides standardized error codes for the workbench client.
//
// Error codes follow the format {domain}.{error} where:
//   - domain: The subsystem that generated the error (conn, protocol, session, workspace, storage, extract)
//   - error: The specific error type within that domain
//
// These codes are stable and can be used by UI layers for programmatic
// error handling. Human-readable messages are provided alongside codes.
package errors

import (
	"errors"
	"fmt"
)

// Error codes by domain.
// These are stable identifiers that UI layers can rely on for error handling.
const (
	// Conn domain - transport connection errors
	CodeConnInvalidWorkspace = "conn.invalid_workspace" // Workspace id is empty or malformed
	CodeConnDialFailed       = "conn.dial_failed"       // WebSocket dial/handshake failed
	CodeConnTimeout          = "conn.timeout"           // Connect attempt exceeded its deadline
	CodeConnNotConnected     = "conn.not_connected"     // Operation requires an open connection
	CodeConnClosed           = "conn.closed"            // Connection closed while operation in flight
	CodeConnReconnectFailed  = "conn.reconnect_failed"  // Reconnect attempt budget exhausted

	// Operation domain - tracked outbound request errors
	CodeOperationTimeout = "operation.timeout" // Tracked operation received no response in time

	// Protocol domain - frame decode errors
	CodeProtocolMalformedFrame = "protocol.malformed_frame" // Frame is not valid JSON
	CodeProtocolUnknownType    = "protocol.unknown_type"    // Frame type is not recognized

	// Session domain - reducer and intent errors
	CodeSessionBackendError = "session.backend_error" // Backend reported an explicit error frame
	CodeSessionRateLimited  = "session.rate_limited"  // Outbound intent rejected by flood limiter
	CodeSessionNotStarted   = "session.not_started"   // Session used before Start

	// Workspace domain - HTTP CRUD API errors
	CodeWorkspaceCreateFailed  = "workspace.create_failed"  // Create request failed
	CodeWorkspaceListFailed    = "workspace.list_failed"    // List request failed
	CodeWorkspaceDeleteFailed  = "workspace.delete_failed"  // Delete request failed
	CodeWorkspaceHistoryFailed = "workspace.history_failed" // History fetch failed
	CodeWorkspaceNotFound      = "workspace.not_found"      // Workspace id does not exist

	// Storage domain - local cache errors
	CodeStorageOpenFailed  = "storage.open_failed"  // Database open failed
	CodeStorageQueryFailed = "storage.query_failed" // Database query failed
	CodeStorageSaveFailed  = "storage.save_failed"  // Failed to save data

	// Extract domain - prose extraction errors
	CodeExtractParseFailed = "extract.parse_failed" // A single extraction format failed to parse

	// General domain - catch-all errors
	CodeUnknown  = "error.unknown"  // Unknown error
	CodeInternal = "error.internal" // Internal client error
)

// CodedError wraps an error with a stable error code.
// This allows errors to carry both a code for programmatic handling
// and a message for human consumption.
type CodedError struct {
	Code    string // Stable error code (e.g., "conn.timeout")
	Message string // Human-readable error message
	Cause   error  // Underlying error (may be nil)
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// New creates a new CodedError with the given code and message.
func New(code, message string) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new CodedError wrapping an existing error.
func Wrap(code, message string, cause error) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// GetCode extracts the error code from an error.
// If the error is a CodedError, returns its code.
// Falls back to CodeUnknown for unrecognized errors.
func GetCode(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}

	return CodeUnknown
}

// GetMessage extracts a human-readable message from an error.
// If the error is a CodedError, returns its message.
// Otherwise, returns the error's Error() string.
func GetMessage(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Message
	}

	return err.Error()
}

// ToCodeAndMessage extracts both code and message from an error.
// This is the primary function for converting errors to UI-facing state.
func ToCodeAndMessage(err error) (code, message string) {
	if err == nil {
		return "", ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code, coded.Message
	}

	return CodeUnknown, err.Error()
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code string) bool {
	return GetCode(err) == code
}

// Common error constructors for frequently used error types.

// InvalidWorkspace creates a "conn.invalid_workspace" error.
func InvalidWorkspace(id string) *CodedError {
	return New(CodeConnInvalidWorkspace, fmt.Sprintf("invalid workspace id: %q", id))
}

// DialFailed creates a "conn.dial_failed" error.
func DialFailed(url string, cause error) *CodedError {
	return Wrap(CodeConnDialFailed, fmt.Sprintf("failed to connect to %s", url), cause)
}

// ConnectTimeout creates a "conn.timeout" error.
func ConnectTimeout(workspaceID string) *CodedError {
	return New(CodeConnTimeout, fmt.Sprintf("connect to workspace %s timed out", workspaceID))
}

// NotConnected creates a "conn.not_connected" error.
func NotConnected() *CodedError {
	return New(CodeConnNotConnected, "not connected")
}

// ReconnectFailed creates a "conn.reconnect_failed" error.
// This indicates the reconnect budget is exhausted and the caller must
// surface a user-facing error requiring an explicit retry.
func ReconnectFailed(workspaceID string, attempts int) *CodedError {
	msg := fmt.Sprintf("reconnect to workspace %s failed after %d attempts", workspaceID, attempts)
	return New(CodeConnReconnectFailed, msg)
}

// OperationTimeout creates an "operation.timeout" error.
func OperationTimeout(opID string) *CodedError {
	return New(CodeOperationTimeout, fmt.Sprintf("operation %s timed out", opID))
}

// MalformedFrame creates a "protocol.malformed_frame" error.
// Frame decode failures are contained per-frame and never fatal to the
// connection, but callers may still want the cause for logging.
func MalformedFrame(cause error) *CodedError {
	return Wrap(CodeProtocolMalformedFrame, "malformed frame", cause)
}

// RateLimited creates a "session.rate_limited" error.
func RateLimited(intent string) *CodedError {
	return New(CodeSessionRateLimited, fmt.Sprintf("%s rejected: too many requests", intent))
}

// WorkspaceNotFound creates a "workspace.not_found" error.
func WorkspaceNotFound(id string) *CodedError {
	return New(CodeWorkspaceNotFound, fmt.Sprintf("workspace %s not found", id))
}

// Internal creates an "error.internal" error.
func Internal(message string, cause error) *CodedError {
	return Wrap(CodeInternal, message, cause)
}
