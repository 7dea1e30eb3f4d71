// Package streaming turns one agent turn into an ordered, finite frame
// sequence suitable for SSE or websocket delivery.
package streaming

import (
	"github.com/agentgate/agentd/pkg/claudecode"
)

// FrameType identifies the kind of a frame.
type FrameType string

const (
	FrameText       FrameType = "text"
	FrameToolUse    FrameType = "tool_use"
	FrameToolResult FrameType = "tool_result"
	FrameResult     FrameType = "result"
	FrameError      FrameType = "error"
)

// Frame is one element of a streamed response. The terminal frame has
// Sentinel set and carries no payload; transports render it as [DONE].
type Frame struct {
	Type             FrameType      `json:"type,omitempty"`
	Text             string         `json:"text,omitempty"`
	Name             string         `json:"name,omitempty"`
	Input            map[string]any `json:"input,omitempty"`
	ToolUseID        string         `json:"tool_use_id,omitempty"`
	Result           string         `json:"result,omitempty"`
	SessionID        string         `json:"session_id,omitempty"`
	IsError          bool           `json:"is_error,omitempty"`
	TotalCostUSD     float64        `json:"total_cost_usd,omitempty"`
	DurationMS       int64          `json:"duration_ms,omitempty"`
	StructuredOutput map[string]any `json:"structured_output,omitempty"`
	Subtype          string         `json:"subtype,omitempty"`
	Error            string         `json:"error,omitempty"`

	Sentinel bool `json:"-"`
}

// fromEvent maps an agent event onto its wire frame.
func fromEvent(ev claudecode.Event) Frame {
	switch e := ev.(type) {
	case claudecode.TextEvent:
		return Frame{Type: FrameText, Text: e.Text}
	case claudecode.ToolUseEvent:
		return Frame{Type: FrameToolUse, Name: e.Name, ToolUseID: e.ID, Input: e.Input}
	case claudecode.ToolResultEvent:
		return Frame{Type: FrameToolResult, ToolUseID: e.ToolUseID, IsError: e.IsError}
	case claudecode.ResultEvent:
		return Frame{
			Type:             FrameResult,
			Result:           e.Result,
			SessionID:        e.SessionID,
			IsError:          e.IsError,
			TotalCostUSD:     e.TotalCostUSD,
			DurationMS:       e.DurationMS,
			StructuredOutput: e.StructuredOutput,
			Subtype:          e.Subtype,
		}
	case claudecode.ErrorEvent:
		return Frame{Type: FrameError, Error: e.Err.Error()}
	default:
		return Frame{}
	}
}
