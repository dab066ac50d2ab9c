// Package runner executes external commands for the session, either to
// completion or as a streaming background process.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/alanmeadows/relay/internal/stream"
)

// ExitSpawnFailed is the exit status reported when a command never started.
const ExitSpawnFailed = 127

// Result is the outcome of a finished command.
type Result struct {
	ExitStatus int
	Output     string
}

// Success reports whether the command exited cleanly.
func (r Result) Success() bool {
	return r.ExitStatus == 0
}

// Options controls how a command is executed.
type Options struct {
	// Filter transforms stdout. Nil passes stdout through unchanged.
	Filter stream.Filter
	Dir    string
	// Env is appended to the current environment.
	Env []string
	// Timeout kills the command when exceeded. Zero means no limit.
	Timeout time.Duration
}

// SpawnError reports a command that could not be started at all
// (missing executable, permission denied, empty argv).
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("starting %s: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Result converts the failure into the structured result an executor
// reports through the completion path.
func (e *SpawnError) Result() Result {
	return Result{ExitStatus: ExitSpawnFailed, Output: e.Error()}
}

// Run executes argv to completion. stdout and stderr are captured
// separately; the filter is applied once to the whole stdout, and when
// that yields nothing usable the trimmed stderr is returned instead.
// Only a failure to start returns an error. Cancelling ctx terminates the
// command's whole process group.
func Run(ctx context.Context, argv []string, opts Options) (Result, error) {
	ctx, cancel := withTimeout(ctx, opts.Timeout)
	defer cancel()

	cmd, err := command(ctx, argv, opts)
	if err != nil {
		return Result{}, err
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Debug("running command", "argv", argv)
	if err := cmd.Start(); err != nil {
		return Result{}, &SpawnError{Command: argv[0], Err: err}
	}
	status := exitStatus(cmd.Wait())

	output := stream.Apply(opts.Filter, stdout.String())
	if strings.TrimSpace(output) == "" {
		output = strings.TrimSpace(stderr.String())
	}

	return Result{ExitStatus: status, Output: output}, nil
}

func command(ctx context.Context, argv []string, opts Options) (*exec.Cmd, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, &SpawnError{Command: "<empty>", Err: errors.New("no command given")}
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return terminate(cmd) }
	cmd.WaitDelay = GracePeriod
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = append(cmd.Environ(), opts.Env...)
	}
	return cmd, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

// exitStatus maps the error from Wait to an exit status. Processes killed
// by a signal report -1.
func exitStatus(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
