package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	errprocess "video_processing_service/pkg/err"
)

// Runner 執行外部工具的單一阻塞呼叫
type Runner interface {
	Run(ctx context.Context, dir, program string, args ...string) ([]byte, error)
}

// ToolError external tool exited non-zero, timed out or could not start
type ToolError struct {
	Program  string
	Args     []string
	ExitCode int
	Stderr   string
	TimedOut bool
	Err      error
}

func (e *ToolError) Error() string {
	var reason string
	switch {
	case e.TimedOut:
		reason = "timed out"
	case e.ExitCode >= 0:
		reason = fmt.Sprintf("exited with code %d", e.ExitCode)
	default:
		reason = fmt.Sprintf("failed to run: %v", e.Err)
	}
	tail := stderrTail(e.Stderr, 3)
	if tail == "" {
		return fmt.Sprintf("%s %s", e.Program, reason)
	}
	return fmt.Sprintf("%s %s: %s", e.Program, reason, tail)
}

// Is lets callers match errors.Is(err, errprocess.ErrToolExecution)
func (e *ToolError) Is(target error) bool {
	return target == errprocess.ErrToolExecution
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

func stderrTail(stderr string, n int) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, " | "))
}

// ExecRunner runs programs with os/exec, draining stdout and stderr into memory
type ExecRunner struct {
	// Timeout 0 表示只受 ctx 限制
	Timeout time.Duration
}

// Run execute program in dir and return its stdout
func (r ExecRunner) Run(ctx context.Context, dir, program string, args ...string) ([]byte, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, program, args...)
	cmd.Dir = dir
	// 子程序若仍握著 pipe，Wait 最多再等這麼久
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		toolErr := &ToolError{
			Program:  program,
			Args:     args,
			ExitCode: -1,
			Stderr:   stderr.String(),
			Err:      err,
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			toolErr.ExitCode = exitErr.ExitCode()
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			toolErr.TimedOut = true
		}
		return stdout.Bytes(), toolErr
	}

	return stdout.Bytes(), nil
}
