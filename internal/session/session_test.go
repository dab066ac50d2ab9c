package session

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/alanmeadows/relay/internal/runner"
	"github.com/alanmeadows/relay/internal/stream"
	"github.com/alanmeadows/relay/internal/transcript"
)

func strp(s string) *string { return &s }

// recorder collects session callbacks.
type recorder struct {
	mu          sync.Mutex
	outputs     []string
	completions []Completion
	done        chan Completion
}

func newRecorder() *recorder {
	return &recorder{done: make(chan Completion, 16)}
}

func (r *recorder) onOutput(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs = append(r.outputs, s)
}

func (r *recorder) onCompletion(c Completion) {
	r.mu.Lock()
	r.completions = append(r.completions, c)
	r.mu.Unlock()
	r.done <- c
}

func (r *recorder) Outputs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.outputs...)
}

func (r *recorder) Completions() []Completion {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Completion(nil), r.completions...)
}

// fakeProcess records Stop calls.
type fakeProcess struct {
	mu      sync.Mutex
	stopped int
}

func (p *fakeProcess) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped++
}

func (p *fakeProcess) Stopped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// pending is an executor that hands its context to the test instead of
// finishing.
type pending struct {
	mu    sync.Mutex
	calls []*Context
}

func (p *pending) execute(_ string, c *Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, c)
}

func (p *pending) Calls() []*Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Context(nil), p.calls...)
}

func shellExecutor(input string, c *Context) {
	res, err := runner.Run(c.Context(), []string{"sh", "-c", input}, runner.Options{})
	if err != nil {
		c.WriteOutput(err.Error())
		c.FinishOutput(false)
		return
	}
	c.WriteOutput(res.Output)
	c.FinishOutput(res.Success())
}

func newTestSession(t *testing.T, exec Executor, rec *recorder, opts ...func(*Config)) *Session {
	t.Helper()
	cfg := Config{
		Executor:        exec,
		OnOutput:        rec.onOutput,
		OnCompletion:    rec.onCompletion,
		KillOnInterrupt: true,
		Format:          transcript.DefaultFormat(),
	}
	for _, o := range opts {
		o(&cfg)
	}
	s := New(cfg)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSubmit_SyncEcho(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := transcript.NewMockSink(ctrl)
	sink.EXPECT().Append(transcript.NewEntry("echo hi", "hi")).Return(nil)

	rec := newRecorder()
	s := newTestSession(t, shellExecutor, rec, func(c *Config) {
		c.Sinks = []transcript.Sink{sink}
	})

	require.NoError(t, s.Submit("echo hi"))

	assert.False(t, s.Busy())
	assert.Equal(t, Idle, s.State())
	assert.Equal(t, []transcript.Entry{transcript.NewEntry("echo hi", "hi")}, s.History())
	assert.Equal(t, []Completion{{Input: "echo hi", Output: "hi", Success: true}}, rec.Completions())
	assert.Equal(t, []string{"hi\n"}, rec.Outputs())
}

func TestSubmit_FailedCommand(t *testing.T) {
	rec := newRecorder()
	s := newTestSession(t, shellExecutor, rec)

	require.NoError(t, s.Submit("echo nope >&2; exit 3"))

	got := s.History()
	require.Len(t, got, 1)
	assert.True(t, got[0].Failed)
	assert.Equal(t, "nope", got[0].OutputText())
	assert.False(t, rec.Completions()[0].Success)
}

func TestSubmit_BlankInputIsRejected(t *testing.T) {
	p := &pending{}
	s := newTestSession(t, p.execute, newRecorder())

	for _, input := range []string{"", "   ", "\n\t"} {
		err := s.Submit(input)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "empty input", verr.Reason)
	}
	assert.Empty(t, p.Calls())
	assert.False(t, s.Busy())
	assert.Empty(t, s.History())
}

func TestSubmit_ValidatorRejects(t *testing.T) {
	p := &pending{}
	s := newTestSession(t, p.execute, newRecorder(), func(c *Config) {
		c.Validator = func(input string) error {
			if input == "rm -rf /" {
				return errors.New("refusing destructive command")
			}
			return nil
		}
	})

	err := s.Submit("rm -rf /")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "refusing destructive command", verr.Reason)
	assert.Empty(t, p.Calls())
	assert.False(t, s.Busy())

	require.NoError(t, s.Submit("ls"))
	assert.Len(t, p.Calls(), 1)
}

func TestSubmit_SingleFlight(t *testing.T) {
	p := &pending{}
	s := newTestSession(t, p.execute, newRecorder())

	require.NoError(t, s.Submit("first"))
	require.NoError(t, s.Submit("second"))

	calls := p.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "first", calls[0].Input())
	assert.True(t, s.Busy())
	assert.Equal(t, Dispatching, s.State())

	calls[0].WriteOutput("out")
	assert.Equal(t, Streaming, s.State())

	calls[0].FinishOutput(true)
	calls[0].FinishOutput(false)
	assert.Equal(t, []transcript.Entry{transcript.NewEntry("first", "out")}, s.History())
	assert.Equal(t, Idle, s.State())
}

func TestInterrupt_DropsLateCallbacks(t *testing.T) {
	rec := newRecorder()
	p := &pending{}
	s := newTestSession(t, p.execute, rec)

	require.NoError(t, s.Submit("tail -f log"))
	c := p.Calls()[0]
	c.WriteOutput("line 1\n")

	assert.True(t, s.Interrupt(false))
	before := s.History()

	c.WriteOutput("late\n")
	c.FinishOutput(true)

	assert.False(t, c.Live())
	assert.Equal(t, before, s.History())
	assert.Equal(t, []string{"line 1\n"}, rec.Outputs())
	require.Len(t, rec.Completions(), 1)
	assert.Equal(t, Completion{Input: "tail -f log", Output: "line 1", Interrupted: true}, rec.Completions()[0])
}

func TestInterrupt_RecordsInterruptedEntry(t *testing.T) {
	p := &pending{}
	s := newTestSession(t, p.execute, newRecorder())

	require.NoError(t, s.Submit("a"))
	p.Calls()[0].WriteOutput("partial")
	s.Interrupt(false)

	history := s.History()
	require.Equal(t, []transcript.Entry{{Input: strp("a"), Output: strp("partial"), Interrupted: true}}, history)

	f := transcript.DefaultFormat()
	text, err := f.Serialize(history)
	require.NoError(t, err)
	assert.Equal(t, history, f.Extract(text))
}

func TestInterrupt_AsFailureIsDroppedOnExtract(t *testing.T) {
	p := &pending{}
	s := newTestSession(t, p.execute, newRecorder())

	require.NoError(t, s.Submit("a"))
	p.Calls()[0].WriteOutput("partial")
	s.Interrupt(true)

	history := s.History()
	require.Len(t, history, 1)
	assert.True(t, history[0].Failed)
	assert.False(t, history[0].Interrupted)

	f := transcript.DefaultFormat()
	text, err := f.Serialize(history)
	require.NoError(t, err)
	assert.Empty(t, f.Extract(text))
}

func TestInterrupt_StopsAttachedProcess(t *testing.T) {
	proc := &fakeProcess{}
	s := newTestSession(t, func(_ string, c *Context) { c.Attach(proc) }, newRecorder())

	require.NoError(t, s.Submit("sleep 10"))
	s.Interrupt(false)
	assert.Equal(t, 1, proc.Stopped())
	assert.False(t, s.Busy())
}

func TestInterrupt_KeepsProcessWhenConfigured(t *testing.T) {
	proc := &fakeProcess{}
	s := newTestSession(t, func(_ string, c *Context) { c.Attach(proc) }, newRecorder(), func(c *Config) {
		c.KillOnInterrupt = false
	})

	require.NoError(t, s.Submit("sleep 10"))
	s.Interrupt(false)
	assert.Equal(t, 0, proc.Stopped())
}

func TestInterrupt_Idle(t *testing.T) {
	s := newTestSession(t, (&pending{}).execute, newRecorder())
	assert.False(t, s.Interrupt(false))
	assert.Empty(t, s.History())
}

func TestAttach_StaleRequestStopsProcess(t *testing.T) {
	p := &pending{}
	s := newTestSession(t, p.execute, newRecorder())

	require.NoError(t, s.Submit("a"))
	c := p.Calls()[0]
	s.Interrupt(false)

	proc := &fakeProcess{}
	c.Attach(proc)
	assert.Equal(t, 1, proc.Stopped())
}

func TestRequestIDWraps(t *testing.T) {
	p := &pending{}
	s := newTestSession(t, p.execute, newRecorder())
	s.reqID = math.MaxInt - 1

	require.NoError(t, s.Submit("a"))
	assert.Equal(t, math.MaxInt, p.Calls()[0].ID())
	p.Calls()[0].FinishOutput(true)

	require.NoError(t, s.Submit("b"))
	assert.Equal(t, 0, p.Calls()[1].ID())
	p.Calls()[1].FinishOutput(true)
	assert.Len(t, s.History(), 2)
}

func TestAsyncExecutor_StreamsJSON(t *testing.T) {
	rec := newRecorder()
	exec := func(input string, c *Context) {
		proc, err := runner.Start(c.Context(), []string{"sh", "-c", input}, runner.Options{
			Filter: stream.JSON(stream.CompactJSON),
		}, runner.Callbacks{
			OnOutput:   c.WriteOutput,
			OnFinished: func(r runner.Result) { c.FinishOutput(r.Success()) },
		})
		if err != nil {
			c.WriteOutput(err.Error())
			c.FinishOutput(false)
			return
		}
		c.Attach(proc)
	}
	s := newTestSession(t, exec, rec)

	require.NoError(t, s.Submit(`printf '{"a":1}'; sleep 0.1; printf '{"b":2}'`))

	select {
	case c := <-rec.done:
		assert.True(t, c.Success)
		assert.Equal(t, "{\"a\":1}\n{\"b\":2}", c.Output)
	case <-time.After(5 * time.Second):
		t.Fatal("request did not complete")
	}
	assert.Equal(t, []string{"{\"a\":1}\n", "{\"b\":2}\n"}, rec.Outputs())
}

func TestEcho(t *testing.T) {
	rec := newRecorder()
	s := newTestSession(t, nil, rec)

	s.Echo("welcome\n")
	s.Echo("   ")

	assert.Equal(t, []transcript.Entry{transcript.NewEntry("", "welcome")}, s.History())
	assert.Equal(t, []string{"welcome\n"}, rec.Outputs())
	assert.Empty(t, rec.Completions())
}

func TestNoExecutor(t *testing.T) {
	rec := newRecorder()
	s := newTestSession(t, nil, rec)

	require.NoError(t, s.Submit("a"))
	require.Len(t, rec.Completions(), 1)
	assert.False(t, rec.Completions()[0].Success)
	assert.False(t, s.Busy())
}

func TestClearAndAppendHistory(t *testing.T) {
	s := newTestSession(t, nil, newRecorder())

	s.AppendHistory(transcript.NewEntry(" a ", "1\n"), transcript.Entry{}, transcript.NewEntry("b", "2"))
	assert.Equal(t, []transcript.Entry{transcript.NewEntry("a", "1"), transcript.NewEntry("b", "2")}, s.History())

	s.Clear()
	assert.Empty(t, s.History())
}

func TestClose(t *testing.T) {
	proc := &fakeProcess{}
	s := New(Config{Executor: func(_ string, c *Context) { c.Attach(proc) }})

	require.NoError(t, s.Submit("sleep 10"))
	require.NoError(t, s.Close())
	assert.Equal(t, 1, proc.Stopped())
	assert.ErrorIs(t, s.Submit("again"), ErrClosed)
	assert.NoError(t, s.Close())

	select {
	case <-s.ctx.Done():
	default:
		t.Fatal("session context not cancelled")
	}
}

func TestSaveTranscript(t *testing.T) {
	s := newTestSession(t, shellExecutor, newRecorder())
	assert.ErrorIs(t, s.SaveTranscript(""), ErrNoTranscriptPath)

	require.NoError(t, s.Submit("echo one"))
	path := filepath.Join(t.TempDir(), "s.transcript")
	require.NoError(t, s.SaveTranscript(path))
	assert.Equal(t, path, s.TranscriptPath())

	require.NoError(t, s.Submit("echo two"))
	require.NoError(t, s.SaveTranscript(""))

	got, meta, err := transcript.Load(path, transcript.DefaultFormat())
	require.NoError(t, err)
	assert.Equal(t, s.ID(), meta.SessionID)
	assert.Equal(t, []transcript.Entry{
		transcript.NewEntry("echo one", "one"),
		transcript.NewEntry("echo two", "two"),
	}, got)
}

func writeTranscript(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "restore.transcript")
	require.NoError(t, os.WriteFile(path, []byte(text), 0644))
	return path
}
