package command

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestExecutorCapturesOutput(t *testing.T) {
	var ex Executor
	res, err := ex.Run(context.Background(), "c1", "echo hello; echo oops >&2", t.TempDir(), 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(res.Stdout) != "hello" {
		t.Fatalf("stdout = %q", res.Stdout)
	}
	if strings.TrimSpace(res.Stderr) != "oops" {
		t.Fatalf("stderr = %q", res.Stderr)
	}
	if res.ExitCode != 0 {
		t.Fatalf("exit = %d", res.ExitCode)
	}
}

func TestExecutorNonZeroExitIsAResult(t *testing.T) {
	var ex Executor
	res, err := ex.Run(context.Background(), "c1", "exit 3", t.TempDir(), 5*time.Second)
	if err != nil {
		t.Fatalf("non-zero exit should not be an error: %v", err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("exit = %d", res.ExitCode)
	}
}

func TestExecutorTimeout(t *testing.T) {
	var ex Executor
	start := time.Now()
	_, err := ex.Run(context.Background(), "c1", "sleep 10", t.TempDir(), 100*time.Millisecond)
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("want ExecutionError, got %v", err)
	}
	if !strings.Contains(execErr.Cause, "timed out") {
		t.Fatalf("cause = %q", execErr.Cause)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("process was not killed promptly")
	}
}

func TestExecutorRunsInDir(t *testing.T) {
	dir := t.TempDir()
	var ex Executor
	res, err := ex.Run(context.Background(), "c1", "pwd", dir, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(res.Stdout) != dir {
		t.Fatalf("pwd = %q, want %q", strings.TrimSpace(res.Stdout), dir)
	}
}

func TestExecutorSpawnFailure(t *testing.T) {
	ex := Executor{Shell: "/does/not/exist"}
	_, err := ex.Run(context.Background(), "c1", "echo hi", t.TempDir(), time.Second)
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("want ExecutionError, got %v", err)
	}
}

func TestLimitWriterTruncates(t *testing.T) {
	var ex Executor
	res, err := ex.Run(context.Background(), "c1", "yes x | head -c 200000", t.TempDir(), 10*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Stdout) > maxCaptureBytes {
		t.Fatalf("stdout not truncated: %d bytes", len(res.Stdout))
	}
}
