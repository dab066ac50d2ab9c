// Package session dispatches user input to an executor and tracks the
// resulting history.
//
// A session runs at most one request at a time. Each request gets a new
// id; callbacks carrying an id other than the current one are dropped, so
// interrupting a request is just a matter of moving the id forward.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/alanmeadows/relay/internal/transcript"
)

// Executor handles one request. It must call FinishOutput exactly once,
// either before returning or later from another goroutine.
type Executor func(input string, c *Context)

// Validator rejects input before dispatch by returning an error whose
// text is shown to the user.
type Validator func(input string) error

// Process is a running command attached to a request.
type Process interface {
	Stop()
}

// Completion is delivered to observers when a request ends.
type Completion struct {
	Input       string
	Output      string
	Success     bool
	Interrupted bool
}

// State is the dispatcher state.
type State int

const (
	Idle State = iota
	Dispatching
	Streaming
)

func (s State) String() string {
	switch s {
	case Dispatching:
		return "dispatching"
	case Streaming:
		return "streaming"
	default:
		return "idle"
	}
}

// Config configures a session.
type Config struct {
	// ID identifies the session in transcripts and the archive. A random
	// id is generated when empty.
	ID string

	Executor  Executor
	Validator Validator

	// OnOutput receives every fragment written by the live request and
	// every echoed text.
	OnOutput func(fragment string)

	// OnCompletion receives the result of each finished or interrupted
	// request.
	OnCompletion func(Completion)

	// Sinks receive each history entry as it is recorded.
	Sinks []transcript.Sink

	// KillOnInterrupt stops the attached process on Interrupt.
	KillOnInterrupt bool

	Format transcript.Format
}

type request struct {
	id        int
	input     string
	output    strings.Builder
	streaming bool
}

// Session owns the live history and the in-flight request.
type Session struct {
	id     string
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	executor       Executor
	validator      Validator
	entries        []transcript.Entry
	busy           bool
	reqID          int
	req            *request
	proc           Process
	transcriptPath string
	closed         bool

	// sinkMu keeps sink appends in history order.
	sinkMu sync.Mutex
}

// New creates an idle session.
func New(cfg Config) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	id := cfg.ID
	if id == "" {
		id = uuid.NewString()
	}
	return &Session{
		id:        id,
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
		executor:  cfg.Executor,
		validator: cfg.Validator,
	}
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// Format returns the transcript format used for save and restore.
func (s *Session) Format() transcript.Format { return s.cfg.Format }

func nextID(id int) int {
	if id == math.MaxInt {
		return 0
	}
	return id + 1
}

// Submit dispatches input to the executor. Blank input and validator
// rejections return a *ValidationError. Submitting while a request is in
// flight does nothing.
func (s *Session) Submit(input string) error {
	if strings.TrimSpace(input) == "" {
		return &ValidationError{Input: input, Reason: "empty input"}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.busy {
		s.mu.Unlock()
		slog.Debug("session busy, ignoring input", "session", s.id, "input", input)
		return nil
	}
	validate := s.validator
	s.mu.Unlock()

	if validate != nil {
		if err := validate(input); err != nil {
			return &ValidationError{Input: input, Reason: err.Error()}
		}
	}

	s.mu.Lock()
	if s.busy || s.closed {
		s.mu.Unlock()
		slog.Debug("session busy, ignoring input", "session", s.id, "input", input)
		return nil
	}
	s.reqID = nextID(s.reqID)
	s.busy = true
	s.req = &request{id: s.reqID, input: input}
	c := &Context{s: s, id: s.reqID, input: input}
	exec := s.executor
	s.mu.Unlock()

	slog.Debug("dispatching request", "session", s.id, "request", c.id)
	if exec == nil {
		c.WriteOutput("no executor configured")
		c.FinishOutput(false)
		return nil
	}
	exec(input, c)
	return nil
}

// Interrupt abandons the in-flight request. The partial entry is recorded
// as interrupted, or as failed when treatAsFailure is set. It reports
// whether a request was in flight.
func (s *Session) Interrupt(treatAsFailure bool) bool {
	s.mu.Lock()
	s.reqID = nextID(s.reqID)
	req, proc := s.req, s.proc
	s.req, s.proc, s.busy = nil, nil, false
	if req == nil {
		s.mu.Unlock()
		return false
	}

	entry := newEntry(req)
	if treatAsFailure {
		entry.Failed = true
	} else {
		entry.Interrupted = true
	}
	s.record(entry)

	if proc != nil && s.cfg.KillOnInterrupt {
		proc.Stop()
	}
	slog.Debug("request interrupted", "session", s.id, "request", req.id, "failure", treatAsFailure)
	s.notify(Completion{Input: entry.InputText(), Output: entry.OutputText(), Interrupted: true})
	return true
}

func newEntry(req *request) transcript.Entry {
	return transcript.NewEntry(strings.TrimSpace(req.input), strings.TrimSpace(req.output.String()))
}

// record appends entry to the history and the sinks. It must be called
// with s.mu held and releases it.
func (s *Session) record(entry transcript.Entry) {
	s.entries = append(s.entries, entry)
	s.sinkMu.Lock()
	s.mu.Unlock()
	defer s.sinkMu.Unlock()

	for _, sink := range s.cfg.Sinks {
		if err := sink.Append(entry); err != nil {
			slog.Warn("failed to record transcript entry", "session", s.id, "error", err)
		}
	}
}

func (s *Session) notify(c Completion) {
	if s.cfg.OnCompletion != nil {
		s.cfg.OnCompletion(c)
	}
}

func (s *Session) emit(fragment string) {
	if s.cfg.OnOutput != nil {
		s.cfg.OnOutput(fragment)
	}
}

// finish completes request id. It reports false when id is stale.
func (s *Session) finish(id int, failed, interrupted bool) bool {
	s.mu.Lock()
	if s.req == nil || s.req.id != id || s.reqID != id {
		s.mu.Unlock()
		slog.Debug("dropping stale completion", "session", s.id, "request", id)
		return false
	}
	req := s.req
	s.req, s.proc, s.busy = nil, nil, false

	entry := newEntry(req)
	entry.Failed = failed
	entry.Interrupted = interrupted
	s.record(entry)

	s.notify(Completion{
		Input:       entry.InputText(),
		Output:      entry.OutputText(),
		Success:     !failed && !interrupted,
		Interrupted: interrupted,
	})
	return true
}

// Echo records text as an output-only entry and shows it.
func (s *Session) Echo(text string) {
	entry := transcript.NewEntry("", strings.TrimSpace(text))
	if entry.Empty() {
		return
	}
	s.emit(text)
	s.mu.Lock()
	s.record(entry)
}

// Clear forgets the recorded history. An in-flight request is unaffected.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
}

// AppendHistory adds entries to the history without dispatching them.
// Blank entries are skipped.
func (s *Session) AppendHistory(entries ...transcript.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if e = e.Normalize(); !e.Empty() {
			s.entries = append(s.entries, e)
		}
	}
}

// History returns a copy of the recorded entries.
func (s *Session) History() []transcript.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]transcript.Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Busy reports whether a request is in flight.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// State returns the current dispatcher state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.req == nil:
		return Idle
	case s.req.streaming:
		return Streaming
	default:
		return Dispatching
	}
}

// TranscriptPath returns the file last saved to or restored from.
func (s *Session) TranscriptPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcriptPath
}

// SaveTranscript writes the history to path, or to the recorded
// transcript path when path is empty.
func (s *Session) SaveTranscript(path string) error {
	s.mu.Lock()
	if path == "" {
		path = s.transcriptPath
	}
	entries := make([]transcript.Entry, len(s.entries))
	copy(entries, s.entries)
	s.mu.Unlock()

	if path == "" {
		return ErrNoTranscriptPath
	}
	if err := s.cfg.Format.Save(path, entries, transcript.Meta{SessionID: s.id}); err != nil {
		return err
	}

	s.mu.Lock()
	s.transcriptPath = path
	s.mu.Unlock()
	slog.Debug("transcript saved", "session", s.id, "path", path, "entries", len(entries))
	return nil
}

// RestoreTranscript loads path and replays it into the session. If the
// replay fails the recorded transcript path is cleared so the corrupt
// file is not saved over.
func (s *Session) RestoreTranscript(path string) error {
	entries, _, err := transcript.Load(path, s.cfg.Format)
	if err != nil {
		return err
	}

	if err := s.Replay(entries); err != nil {
		s.mu.Lock()
		s.transcriptPath = ""
		s.mu.Unlock()
		return fmt.Errorf("restoring %s: %w", path, err)
	}

	s.mu.Lock()
	s.transcriptPath = path
	s.mu.Unlock()
	return nil
}

// Close interrupts any in-flight request and stops its process.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.reqID = nextID(s.reqID)
	proc := s.proc
	s.req, s.proc, s.busy = nil, nil, false
	s.mu.Unlock()

	s.cancel()
	if proc != nil {
		proc.Stop()
	}
	return nil
}
