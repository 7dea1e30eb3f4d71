package claudecode

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// DefaultConnectTimeout bounds the initialize handshake when Options does not
// override it.
const DefaultConnectTimeout = 30 * time.Second

// MCPServerConfig describes one MCP server passed to the CLI.
type MCPServerConfig struct {
	Type string `json:"type"` // "sse" or "stdio"
	URL  string `json:"url,omitempty"`
}

// Options configures a single CLI process. The zero value spawns `claude`
// with no restrictions in the current directory.
type Options struct {
	// BinaryPath is the CLI binary to spawn. Default: claude.
	BinaryPath string

	// SystemPrompt replaces the CLI's default system prompt when set.
	SystemPrompt string

	// MaxTurns caps agentic turns for one query; 0 means no cap.
	MaxTurns int

	// AllowedTools is the tool allowlist passed to the CLI.
	AllowedTools []string

	// PermissionMode is one of default, acceptEdits, plan, bypassPermissions.
	PermissionMode string

	// Cwd is the working directory the agent operates in.
	Cwd string

	// SettingSources selects where the CLI loads settings (and skills) from:
	// "user", "project".
	SettingSources []string

	// OutputFormat requests structured output; expected shape is
	// {"type": "json_schema", "schema": {...}}. Sent in the initialize
	// control request rather than as a CLI flag.
	OutputFormat map[string]any

	// MCPServers configures external MCP servers by name.
	MCPServers map[string]MCPServerConfig

	// Model overrides the CLI's default model when set.
	Model string

	// ConnectTimeout bounds the initialize handshake.
	ConnectTimeout time.Duration
}

func (o *Options) binary() string {
	if o.BinaryPath == "" {
		return "claude"
	}
	return o.BinaryPath
}

func (o *Options) connectTimeout() time.Duration {
	if o.ConnectTimeout <= 0 {
		return DefaultConnectTimeout
	}
	return o.ConnectTimeout
}

// buildArgs translates Options into CLI arguments. The stream-json flags are
// always present: the client only speaks the streaming protocol.
func (o *Options) buildArgs() []string {
	args := []string{
		"--input-format", "stream-json",
		"--output-format", "stream-json",
		"--verbose",
	}

	if o.SystemPrompt != "" {
		args = append(args, "--system-prompt", o.SystemPrompt)
	}
	if o.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(o.MaxTurns))
	}
	if len(o.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(o.AllowedTools, ","))
	}
	if o.PermissionMode != "" {
		args = append(args, "--permission-mode", o.PermissionMode)
	}
	if len(o.SettingSources) > 0 {
		args = append(args, "--setting-sources", strings.Join(o.SettingSources, ","))
	}
	if o.Model != "" {
		args = append(args, "--model", o.Model)
	}
	if len(o.MCPServers) > 0 {
		cfg, err := json.Marshal(map[string]any{"mcpServers": o.MCPServers})
		if err == nil {
			args = append(args, "--mcp-config", string(cfg))
		}
	}

	return args
}
