// Package claudecode provides a client for the Claude Code CLI stream-json protocol.
// Claude Code uses a streaming JSON format over stdin/stdout with control requests
// for lifecycle operations (initialize, interrupt) and permissions.
package claudecode

import "encoding/json"

// Message types from Claude Code CLI
const (
	// MessageTypeSystem is the initial system message with session info
	MessageTypeSystem = "system"
	// MessageTypeAssistant contains text or tool content from the assistant
	MessageTypeAssistant = "assistant"
	// MessageTypeUser carries tool results echoed back through the stream
	MessageTypeUser = "user"
	// MessageTypeResult is the final result message for a turn
	MessageTypeResult = "result"
	// MessageTypeControlRequest is a control request (permission, hook)
	MessageTypeControlRequest = "control_request"
	// MessageTypeControlResponse is a response to a control request
	MessageTypeControlResponse = "control_response"
)

// Control request subtypes
const (
	// SubtypeInitialize initializes the session
	SubtypeInitialize = "initialize"
	// SubtypeInterrupt interrupts the current turn
	SubtypeInterrupt = "interrupt"
)

// CLIMessage represents messages from Claude Code CLI stdout.
// The message type determines which fields are populated.
type CLIMessage struct {
	// Type is the message type (system, assistant, result, control_request, etc.)
	Type string `json:"type"`

	// For control_request messages
	RequestID string          `json:"request_id,omitempty"`
	Request   *ControlRequest `json:"request,omitempty"`

	// For control_response messages
	Response *IncomingControlResponse `json:"response,omitempty"`

	// For system messages
	SessionID string `json:"session_id,omitempty"`

	// For assistant and user messages
	Message *AssistantMessage `json:"message,omitempty"`

	// For result messages.
	// Result can be either a string (final text) or an object.
	Result           json.RawMessage `json:"result,omitempty"`
	Subtype          string          `json:"subtype,omitempty"`
	TotalCostUSD     float64         `json:"total_cost_usd,omitempty"`
	DurationMS       int64           `json:"duration_ms,omitempty"`
	IsError          bool            `json:"is_error,omitempty"`
	NumTurns         int             `json:"num_turns,omitempty"`
	StructuredOutput map[string]any  `json:"structured_output,omitempty"`
}

// GetResultString returns the Result field as a string.
func (m *CLIMessage) GetResultString() string {
	if len(m.Result) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(m.Result, &s); err != nil {
		// Not a string
		return ""
	}
	return s
}

// AssistantMessage contains the assistant's response content.
type AssistantMessage struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content,omitempty"`
	Model   string         `json:"model,omitempty"`
}

// ContentBlock represents a block of content in an assistant message.
type ContentBlock struct {
	Type string `json:"type"`

	// For text blocks
	Text string `json:"text,omitempty"`

	// For tool_use blocks
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// For tool_result blocks
	ToolUseID string `json:"tool_use_id,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// Content block types within assistant messages.
const (
	BlockTypeText       = "text"
	BlockTypeToolUse    = "tool_use"
	BlockTypeToolResult = "tool_result"
)

// ControlRequest represents a control request from Claude Code CLI,
// e.g. a tool permission request.
type ControlRequest struct {
	Subtype  string         `json:"subtype"`
	ToolName string         `json:"tool_name,omitempty"`
	Input    map[string]any `json:"input,omitempty"`
}

// ControlResponseMessage is the message sent to respond to control requests.
type ControlResponseMessage struct {
	Type      string           `json:"type"` // "control_response"
	RequestID string           `json:"request_id"`
	Response  *ControlResponse `json:"response"`
}

// ControlResponse is the response to a control request.
type ControlResponse struct {
	// Subtype is the response type (success, error)
	Subtype string `json:"subtype"`

	// For error responses
	Error string `json:"error,omitempty"`
}

// IncomingControlResponse is a control response received from the CLI,
// correlated back to a request we sent.
type IncomingControlResponse struct {
	RequestID string `json:"request_id"`
	Subtype   string `json:"subtype"`
	Error     string `json:"error,omitempty"`
}

// SDKControlRequest is a control request sent to Claude Code CLI.
// Used for initialize and interrupt.
type SDKControlRequest struct {
	Type      string                `json:"type"` // "control_request"
	RequestID string                `json:"request_id"`
	Request   SDKControlRequestBody `json:"request"`
}

// SDKControlRequestBody contains the body of an SDK control request.
type SDKControlRequestBody struct {
	// Subtype identifies the operation (initialize, interrupt)
	Subtype string `json:"subtype"`

	// For initialize requests: requested structured output configuration.
	OutputFormat map[string]any `json:"outputFormat,omitempty"`
}

// UserMessage is sent to provide a prompt to Claude Code.
type UserMessage struct {
	Type    string          `json:"type"` // "user"
	Message UserMessageBody `json:"message"`
}

// UserMessageBody contains the user message content.
type UserMessageBody struct {
	Role    string `json:"role"` // "user"
	Content string `json:"content"`
}

// Event is one item of a turn's response sequence, translated from the
// CLI's wire messages. The concrete types below are the only variants.
type Event interface {
	event()
}

// TextEvent carries one assistant text block.
type TextEvent struct {
	Text string
}

// ToolUseEvent reports that the agent invoked a tool.
type ToolUseEvent struct {
	ID    string
	Name  string
	Input map[string]any
}

// ToolResultEvent reports completion of a prior tool invocation.
type ToolResultEvent struct {
	ToolUseID string
	IsError   bool
}

// ResultEvent terminates a turn's sequence.
type ResultEvent struct {
	Result           string
	SessionID        string
	IsError          bool
	TotalCostUSD     float64
	DurationMS       int64
	StructuredOutput map[string]any
	Subtype          string
}

// ErrorEvent reports a transport failure while the turn was in flight.
// It terminates the sequence in place of a ResultEvent.
type ErrorEvent struct {
	Err error
}

func (TextEvent) event()       {}
func (ToolUseEvent) event()    {}
func (ToolResultEvent) event() {}
func (ResultEvent) event()     {}
func (ErrorEvent) event()      {}
