package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/relaybot/relay/internal/agent"
	"github.com/relaybot/relay/pkg/models"
)

const (
	defaultShellTimeout = 30 * time.Second
	maxShellOutputBytes = 16 * 1024
)

// ShellConfig controls the shell tool.
type ShellConfig struct {
	// Enabled registers the tool at all. Off unless the operator opts in.
	Enabled bool
	// Timeout caps each command run.
	Timeout time.Duration
	// WorkDir is the working directory for commands. Empty uses the
	// daemon's working directory.
	WorkDir string
}

// ShellArgs are the arguments of shell_exec.
type ShellArgs struct {
	Command        string `json:"command" jsonschema:"required,description=Shell command to execute"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" jsonschema:"minimum=0,description=Timeout in seconds. 0 uses the configured default."`
}

type shellResult struct {
	ExitCode int    `json:"exit_code"`
	Output   string `json:"output"`
	TimedOut bool   `json:"timed_out,omitempty"`
}

// ShellTool runs shell commands on the host. Every call goes through
// user confirmation before it executes.
type ShellTool struct {
	cfg ShellConfig
}

// NewShellTool creates the shell_exec tool.
func NewShellTool(cfg ShellConfig) *ShellTool {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultShellTimeout
	}
	return &ShellTool{cfg: cfg}
}

func (t *ShellTool) Definition() models.ToolDefinition {
	return models.ToolDefinition{
		Name:                 "shell_exec",
		Description:          "Run a shell command on the host and return its output.",
		InputSchema:          reflectSchema(ShellArgs{}),
		Capability:           "exec",
		RequiresConfirmation: true,
	}
}

func (t *ShellTool) Execute(ctx context.Context, input json.RawMessage) (*agent.ToolResult, error) {
	var args ShellArgs
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	command := strings.TrimSpace(args.Command)
	if command == "" {
		return nil, errors.New("command is required")
	}

	timeout := t.cfg.Timeout
	if args.TimeoutSeconds > 0 {
		timeout = time.Duration(args.TimeoutSeconds) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = t.cfg.WorkDir
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	runErr := cmd.Run()
	result := shellResult{Output: truncateOutput(buf.String())}
	if runCtx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
	}
	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
	case errors.As(runErr, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	case result.TimedOut:
		result.ExitCode = -1
	default:
		return nil, fmt.Errorf("run command: %w", runErr)
	}

	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}

func truncateOutput(s string) string {
	if len(s) <= maxShellOutputBytes {
		return s
	}
	return s[:maxShellOutputBytes] + "\n... (output truncated)"
}
