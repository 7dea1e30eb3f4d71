package claudecode

import (
	"strings"
	"testing"
)

func TestBuildArgsAlwaysStreams(t *testing.T) {
	var opts Options
	args := strings.Join(opts.buildArgs(), " ")

	for _, want := range []string{
		"--input-format stream-json",
		"--output-format stream-json",
		"--verbose",
	} {
		if !strings.Contains(args, want) {
			t.Errorf("args %q missing %q", args, want)
		}
	}
}

func TestBuildArgsOptions(t *testing.T) {
	opts := Options{
		SystemPrompt:   "be brief",
		MaxTurns:       3,
		AllowedTools:   []string{"Read", "Bash"},
		PermissionMode: "acceptEdits",
		SettingSources: []string{"user", "project"},
		Model:          "opus",
		MCPServers: map[string]MCPServerConfig{
			"agentd": {Type: "sse", URL: "http://localhost:9090/sse"},
		},
	}
	args := strings.Join(opts.buildArgs(), " ")

	for _, want := range []string{
		"--system-prompt be brief",
		"--max-turns 3",
		"--allowedTools Read,Bash",
		"--permission-mode acceptEdits",
		"--setting-sources user,project",
		"--model opus",
		"--mcp-config",
		`"url":"http://localhost:9090/sse"`,
	} {
		if !strings.Contains(args, want) {
			t.Errorf("args %q missing %q", args, want)
		}
	}
}

func TestBinaryDefault(t *testing.T) {
	var opts Options
	if got := opts.binary(); got != "claude" {
		t.Errorf("binary() = %q, want claude", got)
	}

	opts.BinaryPath = "/usr/local/bin/claude"
	if got := opts.binary(); got != "/usr/local/bin/claude" {
		t.Errorf("binary() = %q", got)
	}
}
