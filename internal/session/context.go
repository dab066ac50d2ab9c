package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanmeadows/relay/internal/transcript"
)

// Context is handed to an Executor for one request. Its methods are safe
// to call from any goroutine and become no-ops once the request is no
// longer current.
type Context struct {
	s     *Session
	id    int
	input string
}

// ID returns the request id.
func (c *Context) ID() int { return c.id }

// Input returns the submitted text.
func (c *Context) Input() string { return c.input }

// Context returns a context cancelled when the session closes.
func (c *Context) Context() context.Context { return c.s.ctx }

// History returns the entries recorded before this request.
func (c *Context) History() []transcript.Entry { return c.s.History() }

// Live reports whether the request is still current.
func (c *Context) Live() bool {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	return c.live()
}

func (c *Context) live() bool {
	return c.s.req != nil && c.s.req.id == c.id && c.s.reqID == c.id
}

// WriteOutput appends a fragment to the request's output.
func (c *Context) WriteOutput(fragment string) {
	if fragment == "" {
		return
	}
	c.s.mu.Lock()
	if !c.live() {
		c.s.mu.Unlock()
		slog.Debug("dropping stale output", "session", c.s.id, "request", c.id)
		return
	}
	c.s.req.output.WriteString(fragment)
	c.s.req.streaming = true
	c.s.mu.Unlock()

	c.s.emit(fragment)
}

// FinishOutput completes the request. Only the first call has an effect.
func (c *Context) FinishOutput(success bool) {
	c.s.finish(c.id, !success, false)
}

// Logf writes a debug log line tagged with the request.
func (c *Context) Logf(format string, args ...any) {
	slog.Debug(fmt.Sprintf(format, args...), "session", c.s.id, "request", c.id)
}

// Attach associates a running process with the request so Interrupt and
// Close can stop it. A process attached to a request that is no longer
// current is stopped immediately.
func (c *Context) Attach(p Process) {
	c.s.mu.Lock()
	if !c.live() {
		c.s.mu.Unlock()
		slog.Debug("stopping process for stale request", "session", c.s.id, "request", c.id)
		p.Stop()
		return
	}
	c.s.proc = p
	c.s.mu.Unlock()
}
