package runner

import (
	"context"
	"errors"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/vibecoding/demo2apk/internal/logging"
)

func testRunner() *ExecRunner {
	return NewExecRunner(logging.NewServerLogger())
}

func TestRunCapturesOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	res, err := testRunner().Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "echo out; echo err >&2"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "out" {
		t.Errorf("stdout = %q", res.Stdout)
	}
	if strings.TrimSpace(res.Stderr) != "err" {
		t.Errorf("stderr = %q", res.Stderr)
	}
	if res.ExitCode != 0 {
		t.Errorf("exit code = %d", res.ExitCode)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	res, err := testRunner().Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "echo boom >&2; exit 3"},
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("error type = %T", err)
	}
	if exitErr.ExitCode != 3 || res.ExitCode != 3 {
		t.Errorf("exit code = %d/%d, want 3", exitErr.ExitCode, res.ExitCode)
	}
	if !strings.Contains(exitErr.Stderr, "boom") {
		t.Errorf("stderr summary = %q, want it to contain boom", exitErr.Stderr)
	}
	if !strings.Contains(err.Error(), "exited 3") {
		t.Errorf("error text = %q", err)
	}
}

func TestRunMissingCommand(t *testing.T) {
	_, err := testRunner().Run(context.Background(), Command{Name: "definitely-not-a-real-tool-xyz"})
	if err == nil {
		t.Fatal("expected an error for a missing command")
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		t.Error("missing command must not look like a non-zero exit")
	}
}

func TestRunTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sleep")
	}
	_, err := testRunner().Run(context.Background(), Command{
		Name:    "sleep",
		Args:    []string{"5"},
		Timeout: 50 * time.Millisecond,
	})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
}

func TestRunEnvAndDir(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	dir := t.TempDir()
	res, err := testRunner().Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "echo $DEMO_VAR; pwd"},
		Dir:  dir,
		Env:  []string{"DEMO_VAR=hello"},
	})
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(res.Stdout), "\n")
	if len(lines) != 2 || lines[0] != "hello" {
		t.Errorf("stdout = %q", res.Stdout)
	}
	// pwd may resolve symlinks (e.g. /tmp on darwin); compare the leaf.
	if !strings.HasSuffix(lines[1], filepath.Base(dir)) {
		t.Errorf("cwd = %q, want %q", lines[1], dir)
	}
}

func TestInstalled(t *testing.T) {
	if !Installed("sh") && runtime.GOOS != "windows" {
		t.Error("sh should be installed")
	}
	if Installed("definitely-not-a-real-tool-xyz") {
		t.Error("phantom tool reported installed")
	}
}

func TestSummarize(t *testing.T) {
	if got := Summarize("  short  "); got != "short" {
		t.Errorf("Summarize trims: %q", got)
	}
	long := strings.Repeat("a", 3000) + "TAIL"
	got := Summarize(long)
	if len(got) > stderrSummaryLimit+3 {
		t.Errorf("summary too long: %d", len(got))
	}
	if !strings.HasSuffix(got, "TAIL") {
		t.Error("summary must keep the tail of stderr")
	}
	if !strings.HasPrefix(got, "...") {
		t.Error("truncated summary should be marked")
	}
}
