package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/alanmeadows/relay/internal/stream"
)

// GracePeriod is how long a stopped process has between SIGTERM and
// SIGKILL.
const GracePeriod = 5 * time.Second

// Callbacks receive the output of a streaming process. They are never
// invoked concurrently and fire in the order the process produced output.
type Callbacks struct {
	OnOutput   func(fragment string)
	OnFinished func(Result)
	Log        func(format string, args ...any)
}

// Process is a running command started by Start.
type Process struct {
	argv     []string
	pid      int
	cancel   context.CancelFunc
	cb       Callbacks
	pipeline *stream.Pipeline
	done     chan struct{}

	mu     sync.Mutex // serializes stdout/stderr delivery
	output strings.Builder
	result Result
}

// Start launches argv without blocking. stdout flows through a
// stream.Pipeline built from opts.Filter; stderr is delivered trimmed and
// unfiltered. OnFinished fires exactly once, after both streams drain.
// A background child that keeps the output open delays OnFinished until
// it exits, or until GracePeriod after Stop.
// Only a failure to start returns an error, and in that case no callback
// is invoked.
func Start(ctx context.Context, argv []string, opts Options, cb Callbacks) (*Process, error) {
	ctx, cancel := withTimeout(ctx, opts.Timeout)

	cmd, err := command(ctx, argv, opts)
	if err != nil {
		cancel()
		return nil, err
	}
	p := &Process{
		argv:   argv,
		cancel: cancel,
		cb:     cb,
		done:   make(chan struct{}),
	}
	p.pipeline = stream.NewPipeline(opts.Filter, p.deliver)

	// exec copies both streams and, once ctx is done, closes them after
	// WaitDelay even if a leftover grandchild still holds them open.
	cmd.Stdout = chunkWriter(p.onStdout)
	cmd.Stderr = chunkWriter(p.onStderr)

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, &SpawnError{Command: argv[0], Err: err}
	}
	p.pid = cmd.Process.Pid

	slog.Debug("process started", "argv", argv, "pid", p.pid)

	go func() {
		err := cmd.Wait()
		if errors.Is(err, exec.ErrWaitDelay) {
			p.logf("output of %s still open after stop; closed", p.argv[0])
		}
		status := exitStatus(err)
		cancel()

		p.mu.Lock()
		if status != 0 {
			// Whatever the filter could not consume is most likely an
			// error body.
			p.deliver(strings.TrimSpace(p.pipeline.Pending()))
		}
		p.result = Result{ExitStatus: status, Output: p.output.String()}
		result := p.result
		p.mu.Unlock()

		p.logf("process %d exited with status %d", p.pid, status)
		if p.cb.OnFinished != nil {
			p.cb.OnFinished(result)
		}
		close(p.done)
	}()

	return p, nil
}

// Pid returns the operating system process id.
func (p *Process) Pid() int {
	return p.pid
}

// Stop asks the process to terminate with SIGTERM; it is killed if it is
// still running after GracePeriod. Stopping a finished process is a no-op.
func (p *Process) Stop() {
	p.cancel()
}

// Done is closed after OnFinished has returned.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the process has finished and returns its result.
func (p *Process) Wait() Result {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result
}

// chunkWriter hands every write to a callback as one chunk.
type chunkWriter func(chunk string)

func (w chunkWriter) Write(b []byte) (int, error) {
	w(string(b))
	return len(b), nil
}

func (p *Process) onStdout(chunk string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pipeline.Feed(chunk)
}

func (p *Process) onStderr(chunk string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deliver(strings.TrimSpace(chunk))
}

// deliver must be called with p.mu held.
func (p *Process) deliver(fragment string) {
	if fragment == "" {
		return
	}
	p.output.WriteString(fragment)
	if p.cb.OnOutput != nil {
		p.cb.OnOutput(fragment)
	}
}

func (p *Process) logf(format string, args ...any) {
	if p.cb.Log != nil {
		p.cb.Log(format, args...)
		return
	}
	slog.Debug(fmt.Sprintf(format, args...))
}
