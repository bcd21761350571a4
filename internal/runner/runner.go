// Package runner executes the external toolchain commands (package
// managers, the shell and wrapper CLIs, Gradle) the build pipeline
// orchestrates. A command is a plain value: argv, working directory, extra
// environment, optional timeout. The runner captures stdout and stderr and
// turns a non-zero exit into an error carrying a stderr summary, which is
// what the job record ultimately reports to the user.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/vibecoding/demo2apk/internal/logging"
)

// stderrSummaryLimit caps how much stderr travels into error messages and
// job records.
const stderrSummaryLimit = 2000

// Command describes one external tool invocation.
type Command struct {
	Name string
	Args []string
	// Dir is the working directory; empty means the process default.
	Dir string
	// Env holds KEY=VALUE pairs appended to the inherited environment.
	Env []string
	// Timeout bounds the invocation when positive.
	Timeout time.Duration
}

// String renders the command line for logs.
func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Result captures a finished invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// ExitError reports a command that ran and exited non-zero.
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s exited %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s exited %d: %s", e.Command, e.ExitCode, e.Stderr)
}

// ErrTimeout wraps command timeouts.
var ErrTimeout = errors.New("command timed out")

// Runner runs external commands. The pipeline depends on this interface;
// tests substitute a fake so no toolchain is required.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExecRunner is the os/exec-backed Runner used in production.
type ExecRunner struct {
	log *logging.Logger
}

// NewExecRunner creates a runner that logs each invocation at debug level.
func NewExecRunner(log *logging.Logger) *ExecRunner {
	return &ExecRunner{log: log}
}

// Run executes the command and waits for it. It returns an *ExitError for
// non-zero exits and a wrapped ErrTimeout when the timeout elapsed; the
// Result is populated in both cases.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	r.log.Debug().Str("cmd", cmd.String()).Str("dir", cmd.Dir).Msg("Running command")
	start := time.Now()
	err := c.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err == nil {
		return res, nil
	}
	if ctx.Err() == context.DeadlineExceeded {
		res.ExitCode = -1
		return res, fmt.Errorf("%s after %s: %w", cmd.String(), res.Duration.Round(time.Second), ErrTimeout)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, &ExitError{
			Command:  cmd.String(),
			ExitCode: res.ExitCode,
			Stderr:   Summarize(res.Stderr),
		}
	}
	// Start failure: command not found, permission denied.
	res.ExitCode = -1
	return res, fmt.Errorf("failed to run %s: %w", cmd.Name, err)
}

// Installed reports whether a tool is available on PATH.
func Installed(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// Summarize trims stderr output to a bounded tail suitable for error
// messages and job records. The tail is kept because build tools print the
// actual failure last.
func Summarize(stderr string) string {
	s := strings.TrimSpace(stderr)
	if len(s) <= stderrSummaryLimit {
		return s
	}
	return "..." + s[len(s)-stderrSummaryLimit:]
}
