package session

import (
	"log/slog"

	"github.com/alanmeadows/relay/internal/transcript"
)

// Replay feeds entries back through Submit so the session ends up with
// the same history it would have had if the inputs were typed live. Each
// entry's recorded output stands in for the executor's response.
// Output-only entries are echoed. A malformed entry stops the replay with
// a *TranscriptError; the session's own executor and validator are
// restored either way.
func (s *Session) Replay(entries []transcript.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.busy {
		s.mu.Unlock()
		return ErrBusy
	}
	origExec, origValidate := s.executor, s.validator
	s.mu.Unlock()

	r := &replayer{s: s, queue: entries}

	s.mu.Lock()
	s.executor, s.validator = r.execute, nil
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.executor, s.validator = origExec, origValidate
		s.mu.Unlock()
	}()

	slog.Debug("replaying transcript", "session", s.id, "entries", len(entries))
	if err := r.next(); err != nil {
		return err
	}
	return r.err
}

type replayer struct {
	s     *Session
	queue []transcript.Entry
	index int
	err   error
}

// next submits the entry at the head of the queue, echoing output-only
// entries on the way.
func (r *replayer) next() error {
	for len(r.queue) > 0 {
		e := r.queue[0]
		if err := e.Validate(); err != nil {
			return &TranscriptError{Index: r.index, Entry: e, Err: err}
		}
		if e.Input == nil {
			r.pop()
			r.s.Echo(*e.Output)
			continue
		}
		if err := r.s.Submit(*e.Input); err != nil {
			return &TranscriptError{Index: r.index, Entry: e, Err: err}
		}
		return nil
	}
	return nil
}

func (r *replayer) pop() transcript.Entry {
	e := r.queue[0]
	r.queue = r.queue[1:]
	r.index++
	return e
}

func (r *replayer) execute(_ string, c *Context) {
	if len(r.queue) == 0 {
		c.FinishOutput(false)
		return
	}
	e := r.pop()
	if e.Output != nil {
		c.WriteOutput(*e.Output)
	}
	c.s.finish(c.id, e.Failed, e.Interrupted)

	if err := r.next(); err != nil {
		r.err = err
	}
}
