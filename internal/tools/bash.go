package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"syscall"
	"time"
)

// DefaultBashTimeout bounds command runtime when the caller sets none.
const DefaultBashTimeout = 120 * time.Second

// BashTool runs shell commands. Commands run in their own process group
// so the whole subprocess tree dies on cancellation or timeout.
type BashTool struct {
	timeout time.Duration
}

// NewBash creates the bash tool. timeoutMS <= 0 selects the default.
func NewBash(timeoutMS int) *BashTool {
	timeout := DefaultBashTimeout
	if timeoutMS > 0 {
		timeout = time.Duration(timeoutMS) * time.Millisecond
	}
	return &BashTool{timeout: timeout}
}

func (t *BashTool) Name() string { return "bash" }
func (t *BashTool) Description() string {
	return "Execute a shell command and return its combined output."
}
func (t *BashTool) Parallel() bool { return false }

func (t *BashTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The shell command to execute",
			},
			"timeout": map[string]any{
				"type":        "number",
				"description": "Timeout in milliseconds",
			},
			"description": map[string]any{
				"type":        "string",
				"description": "Short human-readable description of what the command does",
			},
		},
		"required": []string{"command"},
	}
}

func (t *BashTool) Execute(ctx context.Context, call Call, args map[string]any) *Result {
	command := strArg(args, "command")

	ok, err := call.Allow(ctx, "bash", command, map[string]any{
		"description": strArg(args, "description"),
	})
	if err != nil {
		return Errorf("permission check: %v", err)
	}
	if !ok {
		return Denied("bash")
	}

	timeout := t.timeout
	if ms := intArg(args, "timeout", 0); ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}

	var out bytes.Buffer
	cmd := exec.Command("bash", "-c", command)
	cmd.Dir = call.Dir
	cmd.Stdout = &out
	cmd.Stderr = &out
	// New process group so cancellation can kill the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return Errorf("start command: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var cancelled string
	select {
	case err = <-done:
	case <-ctx.Done():
		killGroup(cmd)
		<-done
		cancelled = "user"
	case <-timer.C:
		killGroup(cmd)
		<-done
		cancelled = "timeout"
	}

	meta := map[string]any{
		"output":      out.String(),
		"description": strArg(args, "description"),
	}
	switch cancelled {
	case "user":
		meta["cancelled"] = "user"
		return &Result{Output: "User aborted", Error: "User aborted", IsError: true, Metadata: meta}
	case "timeout":
		meta["cancelled"] = "timeout"
		return &Result{
			Output:   fmt.Sprintf("Command timed out after %s\n%s", timeout, out.String()),
			Error:    "timeout",
			IsError:  true,
			Metadata: meta,
		}
	}

	exitCode := 0
	if exitErr, isExit := err.(*exec.ExitError); isExit {
		exitCode = exitErr.ExitCode()
	} else if err != nil {
		return Errorf("command failed: %v\n%s", err, out.String())
	}
	meta["exit"] = exitCode

	res := &Result{Output: out.String(), Title: command, Metadata: meta}
	if exitCode != 0 {
		res.IsError = true
		res.Error = fmt.Sprintf("exit status %d", exitCode)
	}
	return res
}

func killGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	// Negative pid signals the process group.
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
