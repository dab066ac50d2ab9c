// Package executor builds session executors from configuration. Each
// executor turns one line of input into a command, runs it through the
// runner and reports the result back to the session.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/alanmeadows/relay/internal/config"
	"github.com/alanmeadows/relay/internal/runner"
	"github.com/alanmeadows/relay/internal/session"
	"github.com/alanmeadows/relay/internal/stream"
)

// InputPlaceholder is replaced with the submitted text in command
// arguments.
const InputPlaceholder = "{input}"

// Build returns the executor described by cfg.
func Build(cfg config.ExecutorConfig) (session.Executor, error) {
	filter, err := Filter(cfg.Filter)
	if err != nil {
		return nil, err
	}
	opts := runner.Options{
		Filter:  filter,
		Dir:     config.ExpandHome(cfg.Dir),
		Env:     cfg.Env,
		Timeout: cfg.ParseTimeout(),
	}

	switch cfg.Kind {
	case config.ExecutorShell, "":
		return Shell(cfg.Shell, opts, cfg.Sync), nil
	case config.ExecutorCommand:
		if len(cfg.Command) == 0 {
			return nil, errors.New("command executor requires executor.command")
		}
		return Command(cfg.Command, opts, cfg.Sync), nil
	case config.ExecutorHTTP:
		return HTTP(cfg.HTTP, opts, cfg.Sync)
	default:
		return nil, fmt.Errorf("unknown executor kind %q", cfg.Kind)
	}
}

// Filter returns the stdout filter described by cfg. A nil filter passes
// output through unchanged.
func Filter(cfg config.FilterConfig) (stream.Filter, error) {
	switch cfg.Kind {
	case config.FilterNone, "":
		return nil, nil
	case config.FilterJSON:
		return stream.JSON(stream.CompactJSON), nil
	case config.FilterJSONPath:
		if cfg.Path == "" {
			return nil, errors.New("jsonpath filter requires filter.path")
		}
		return stream.JSONPath(cfg.Path), nil
	case config.FilterFields:
		return stream.Fields(cfg.Keys...), nil
	default:
		return nil, fmt.Errorf("unknown filter kind %q", cfg.Kind)
	}
}

// Shell runs each input with "<shell> -c <input>".
func Shell(shell string, opts runner.Options, sync bool) session.Executor {
	if shell == "" {
		shell = "sh"
	}
	return func(input string, c *session.Context) {
		run(c, []string{shell, "-c", input}, opts, sync, nil)
	}
}

// Command runs argv with every "{input}" replaced by the submitted text.
// When no argument contains the placeholder the input is appended as the
// last argument.
func Command(argv []string, opts runner.Options, sync bool) session.Executor {
	return func(input string, c *session.Context) {
		run(c, expand(argv, input), opts, sync, nil)
	}
}

func expand(argv []string, input string) []string {
	out := make([]string, len(argv))
	found := false
	for i, arg := range argv {
		if strings.Contains(arg, InputPlaceholder) {
			found = true
		}
		out[i] = strings.ReplaceAll(arg, InputPlaceholder, input)
	}
	if !found {
		out = append(out, input)
	}
	return out
}

// run executes argv for the request behind c. Failures to start are
// reported as output followed by an unsuccessful finish. cleanup, if
// set, runs once the command is done.
func run(c *session.Context, argv []string, opts runner.Options, sync bool, cleanup func()) {
	done := func() {
		if cleanup != nil {
			cleanup()
		}
	}

	if sync {
		ctx, cancel := context.WithCancel(c.Context())
		defer cancel()
		// Interrupting the request cancels ctx, which stops the command.
		c.Attach(stopFunc(cancel))

		res, err := runner.Run(ctx, argv, opts)
		done()
		if err != nil {
			fail(c, err)
			return
		}
		c.WriteOutput(res.Output)
		c.FinishOutput(res.Success())
		return
	}

	proc, err := runner.Start(c.Context(), argv, opts, runner.Callbacks{
		OnOutput: c.WriteOutput,
		OnFinished: func(res runner.Result) {
			done()
			c.FinishOutput(res.Success())
		},
		Log: c.Logf,
	})
	if err != nil {
		done()
		fail(c, err)
		return
	}
	c.Attach(proc)
}

func fail(c *session.Context, err error) {
	c.Logf("executor failed: %v", err)
	c.WriteOutput(err.Error())
	c.FinishOutput(false)
}

// stopFunc adapts a cancel function to session.Process.
type stopFunc context.CancelFunc

func (f stopFunc) Stop() { f() }
