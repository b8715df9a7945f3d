package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// Execution timeout bounds. Commands without an explicit timeout get the
// default; nothing runs longer than the maximum, the context kills it.
const (
	DefaultExecTimeout = 30 * time.Second
	MaxExecTimeout     = 10 * time.Minute
	maxCaptureBytes    = 64 * 1024
)

// ExecutionError reports a command that could not run to completion:
// spawn failure or timeout. A non-zero exit code is not an
// ExecutionError; the exit code is part of the captured result.
type ExecutionError struct {
	CommandID string
	Cause     string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution error for command %q: %s", e.CommandID, e.Cause)
}

// Executor runs command bodies as local shell processes with captured
// output and a hard kill on timeout.
type Executor struct {
	// Shell defaults to /bin/sh.
	Shell string
}

// Run executes the command in dir, bounded by timeout. Stdout, stderr
// and the exit code are captured into the result; output beyond the
// capture limit is truncated.
func (e Executor) Run(ctx context.Context, commandID, command, dir string, timeout time.Duration) (ExecResult, error) {
	shell := e.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	if timeout <= 0 {
		timeout = DefaultExecTimeout
	}
	if timeout > MaxExecTimeout {
		timeout = MaxExecTimeout
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, shell, "-c", command)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitWriter{w: &stdout, limit: maxCaptureBytes}
	cmd.Stderr = &limitWriter{w: &stderr, limit: maxCaptureBytes}

	err := cmd.Run()
	result := ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}

	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		return result, &ExecutionError{CommandID: commandID, Cause: fmt.Sprintf("execution timed out after %s", timeout)}
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// The process ran; a non-zero exit is a result, not a failure.
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, &ExecutionError{CommandID: commandID, Cause: err.Error()}
	}
	return result, nil
}

// limitWriter caps captured output without failing the write.
type limitWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitWriter) Write(p []byte) (int, error) {
	if lw.w.Len() >= lw.limit {
		return len(p), nil
	}
	room := lw.limit - lw.w.Len()
	if len(p) > room {
		lw.w.Write(p[:room])
		return len(p), nil
	}
	return lw.w.Write(p)
}
