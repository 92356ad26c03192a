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
)

const (
	commandMaxOutput      = 48 * 1024
	commandDefaultTimeout = 120 * time.Second
)

// CommandRunner executes a shell command. Split out as a port so the
// gateway tests can run without spawning processes.
type CommandRunner interface {
	Run(ctx context.Context, command string) (stdout, stderr string, exitCode int, err error)
}

// ExecRunner runs commands through sh -c in a fixed working directory.
type ExecRunner struct {
	Dir string
}

func (r ExecRunner) Run(ctx context.Context, command string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = r.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return stdout.String(), stderr.String(), -1, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.String(), stderr.String(), exitErr.ExitCode(), nil
	}
	if err != nil {
		return stdout.String(), stderr.String(), -1, err
	}
	return stdout.String(), stderr.String(), 0, nil
}

// RunCommandTool executes shell commands inside the workspace. Always
// approval-gated; pre-authorization lifts the gate per deployment.
type RunCommandTool struct {
	runner CommandRunner
}

func NewRunCommand(runner CommandRunner) *RunCommandTool {
	return &RunCommandTool{runner: runner}
}

type commandParams struct {
	Command        string `json:"command"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

type commandResult struct {
	Stdout      string `json:"stdout"`
	Stderr      string `json:"stderr"`
	ExitCode    int    `json:"exit_code"`
	Interrupted bool   `json:"interrupted,omitempty"`
}

func (t *RunCommandTool) Name() string { return "run_command" }

func (t *RunCommandTool) Description() string {
	return "Run a shell command in the workspace root and return its output and exit code."
}

func (t *RunCommandTool) JSONSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "Shell command to execute",
			},
			"timeout_seconds": map[string]any{
				"type":        "integer",
				"description": "Optional timeout in seconds (default 120)",
			},
		},
		"required": []string{"command"},
	}
}

func (t *RunCommandTool) RequiresApproval() bool { return true }

func (t *RunCommandTool) Validate(raw json.RawMessage) (any, error) {
	var p commandParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, Invalidf("run_command: %v", err)
	}
	if strings.TrimSpace(p.Command) == "" {
		return nil, Invalidf("run_command: command is required")
	}
	if p.TimeoutSeconds < 0 {
		return nil, Invalidf("run_command: timeout_seconds must be positive")
	}
	return p, nil
}

func (t *RunCommandTool) Execute(ctx context.Context, params any) (any, error) {
	p := params.(commandParams)
	timeout := commandDefaultTimeout
	if p.TimeoutSeconds > 0 {
		timeout = time.Duration(p.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout, stderr, exitCode, err := t.runner.Run(ctx, p.Command)
	result := commandResult{
		Stdout:   truncateOutput(stdout),
		Stderr:   truncateOutput(stderr),
		ExitCode: exitCode,
	}
	if errors.Is(err, context.Canceled) {
		// Whatever the process printed before the interrupt still reaches
		// the model.
		result.Interrupted = true
		return result, err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, Execf("command timed out after %s", timeout)
	}
	if err != nil {
		return nil, Execf("run command: %v", err)
	}
	return result, nil
}

func (t *RunCommandTool) Stringify(_, result any) (string, error) {
	r := result.(commandResult)
	var b strings.Builder
	if r.Stdout != "" {
		b.WriteString(r.Stdout)
	}
	if r.Stderr != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("stderr:\n")
		b.WriteString(r.Stderr)
	}
	if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "exit code: %d", r.ExitCode)
	return b.String(), nil
}

func truncateOutput(s string) string {
	if len(s) <= commandMaxOutput {
		return s
	}
	return s[:commandMaxOutput] + "\n... (output truncated)"
}
