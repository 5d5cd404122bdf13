package tools

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/shannonlabs/shannon/internal/auth"
)

const (
	shellDefaultTimeout = 30 * time.Second
	shellMaxTimeout     = 300 * time.Second
	shellMaxOutput      = 4000
)

// Commands that are always blocked, regardless of sender level.
var shellDenyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\brm\s+-rf\s+/\s*$`),
	regexp.MustCompile(`(?i)\bmkfs\b`),
	regexp.MustCompile(`(?i)\bdd\s+.*of=/dev/`),
	regexp.MustCompile(`(?i)>\s*/dev/sd[a-z]`),
	regexp.MustCompile(`(?i)\bformat\s+[a-zA-Z]:`),
	regexp.MustCompile(`:\(\)\s*\{\s*:\|:&\s*\};:`), // fork bomb
}

// ShellTool executes host shell commands. OPERATOR and above only.
type ShellTool struct {
	BaseTool
	shell string
}

// NewShellTool creates the shell tool using /bin/sh.
func NewShellTool() *ShellTool {
	return &ShellTool{shell: "/bin/sh"}
}

func (t *ShellTool) Name() string { return "shell" }

func (t *ShellTool) Description() string {
	return "Execute a shell command on the host system. " +
		"Returns stdout, stderr, and exit code. " +
		"Use for system tasks, file operations, and running programs."
}

func (t *ShellTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "The shell command to execute.",
			},
			"timeout": map[string]interface{}{
				"type":        "integer",
				"description": "Timeout in seconds (default 30, max 300).",
			},
			"working_dir": map[string]interface{}{
				"type":        "string",
				"description": "Working directory for the command.",
			},
		},
		"required": []string{"command"},
	}
}

func (t *ShellTool) RequiredPermission() auth.PermissionLevel { return auth.LevelOperator }

func (t *ShellTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	command := argString(args, "command")
	if command == "" {
		return Errf("command is required")
	}
	for _, pattern := range shellDenyPatterns {
		if pattern.MatchString(command) {
			slog.Warn("blocked command", "command", command)
			return Errf("Command blocked by safety filter: %s", command)
		}
	}

	timeout := time.Duration(argInt(args, "timeout", int(shellDefaultTimeout/time.Second))) * time.Second
	if timeout > shellMaxTimeout {
		timeout = shellMaxTimeout
	}
	workingDir := argString(args, "working_dir")

	slog.Info("shell exec", "command", command, "timeout", timeout)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.shell, "-c", command)
	cmd.Dir = workingDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return Errf("Command timed out after %s", timeout)
	}

	exitCode := 0
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		} else {
			return Errf("%v", err)
		}
	}

	outStr := truncateOutput(strings.TrimSpace(stdout.String()))
	errStr := truncateOutput(strings.TrimSpace(stderr.String()))

	var parts []string
	if outStr != "" {
		parts = append(parts, outStr)
	}
	if errStr != "" {
		parts = append(parts, "STDERR:\n"+errStr)
	}
	parts = append(parts, fmt.Sprintf("Exit code: %d", exitCode))

	if exitCode != 0 {
		return &Result{Success: false, Output: strings.Join(parts, "\n"), Error: errStr}
	}
	return Ok(strings.Join(parts, "\n"))
}

func truncateOutput(s string) string {
	if len(s) <= shellMaxOutput {
		return s
	}
	return s[:shellMaxOutput] + fmt.Sprintf("\n... (truncated, %d total chars)", len(s))
}
