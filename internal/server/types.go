package server

// QueryRequest is the body of POST /query and POST /query/stream.
type QueryRequest struct {
	Prompt         string         `json:"prompt" binding:"required"`
	SystemPrompt   string         `json:"system_prompt"`
	MaxTurns       int            `json:"max_turns"`
	AllowedTools   []string       `json:"allowed_tools"`
	PermissionMode string         `json:"permission_mode"`
	Cwd            string         `json:"cwd"`
	OutputFormat   map[string]any `json:"output_format"`
}

// QueryResponse is the body of a successful POST /query.
type QueryResponse struct {
	Result           string         `json:"result"`
	SessionID        string         `json:"session_id,omitempty"`
	IsError          bool           `json:"is_error"`
	TotalCostUSD     float64        `json:"total_cost_usd,omitempty"`
	DurationMS       int64          `json:"duration_ms,omitempty"`
	StructuredOutput map[string]any `json:"structured_output,omitempty"`
}

// CreateSessionRequest is the body of POST /sessions.
type CreateSessionRequest struct {
	SessionID      string         `json:"session_id"`
	SystemPrompt   string         `json:"system_prompt"`
	MaxTurns       int            `json:"max_turns"`
	AllowedTools   []string       `json:"allowed_tools"`
	PermissionMode string         `json:"permission_mode"`
	Cwd            string         `json:"cwd"`
	OutputFormat   map[string]any `json:"output_format"`
}

// CreateSessionResponse is the body of a successful POST /sessions.
type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
	Workspace string `json:"workspace"`
}

// SessionListResponse is the body of GET /sessions.
type SessionListResponse struct {
	Sessions []string `json:"sessions"`
	Count    int      `json:"count"`
}

// ChatRequest is the body of the chat endpoints.
type ChatRequest struct {
	Message string `json:"message" binding:"required"`
}

// ChatResponse is the body of a successful POST /sessions/:id/chat.
type ChatResponse struct {
	Response         string         `json:"response"`
	SessionID        string         `json:"session_id,omitempty"`
	IsError          bool           `json:"is_error"`
	TotalCostUSD     float64        `json:"total_cost_usd,omitempty"`
	DurationMS       int64          `json:"duration_ms,omitempty"`
	StructuredOutput map[string]any `json:"structured_output,omitempty"`
}
