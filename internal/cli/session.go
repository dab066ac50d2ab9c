package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/alanmeadows/relay/internal/archive"
	"github.com/alanmeadows/relay/internal/config"
	"github.com/alanmeadows/relay/internal/executor"
	"github.com/alanmeadows/relay/internal/session"
	"github.com/alanmeadows/relay/internal/transcript"
)

// newSession builds a session from cfg with the configured executor and
// transcript sinks. The returned cleanup closes the session and any
// sink resources.
func newSession(cfg *config.Config, onOutput func(string), onCompletion func(session.Completion)) (*session.Session, func(), error) {
	exec, err := executor.Build(cfg.Executor)
	if err != nil {
		return nil, nil, fmt.Errorf("building executor: %w", err)
	}

	id := uuid.NewString()
	format := transcriptFormat(cfg)

	var sinks []transcript.Sink
	var closers []func()
	if cfg.Session.Autosave {
		sinks = append(sinks, transcript.NewFileSink(defaultTranscriptPath(cfg, id), format))
	}
	if cfg.Archive.Enabled {
		a, err := archive.Open(cfg.Archive.DBPath())
		if err != nil {
			return nil, nil, fmt.Errorf("opening archive: %w", err)
		}
		sinks = append(sinks, a.Sink(id, format.Prompt))
		closers = append(closers, func() { a.Close() })
	}

	s := session.New(session.Config{
		ID:              id,
		Executor:        exec,
		OnOutput:        onOutput,
		OnCompletion:    onCompletion,
		Sinks:           sinks,
		KillOnInterrupt: !cfg.Session.DetachOnInterrupt,
		Format:          format,
	})

	cleanup := func() {
		s.Close()
		for _, c := range closers {
			c()
		}
	}
	return s, cleanup, nil
}

func transcriptFormat(cfg *config.Config) transcript.Format {
	return transcript.Format{Prompt: cfg.Prompt}
}

func defaultTranscriptPath(cfg *config.Config, sessionID string) string {
	return filepath.Join(cfg.Session.TranscriptDirPath(), sessionID+".transcript")
}

// submitAndWait submits input and waits for its completion. An interrupt
// signal received meanwhile interrupts the request, including one that is
// still running inside Submit.
func submitAndWait(s *session.Session, input string, done <-chan session.Completion, sigs <-chan os.Signal, failOnInterrupt bool) (session.Completion, error) {
	errc := make(chan error, 1)
	go func() { errc <- s.Submit(input) }()

	select {
	case err := <-errc:
		if err != nil {
			return session.Completion{}, err
		}
	case <-sigs:
		interrupted := s.Interrupt(failOnInterrupt)
		if err := <-errc; err != nil {
			return session.Completion{}, err
		}
		// The signal may have beaten the dispatch.
		if !interrupted && s.Busy() {
			s.Interrupt(failOnInterrupt)
		}
		return <-done, nil
	}

	select {
	case c := <-done:
		return c, nil
	case <-sigs:
		// A request that finished in the meantime has already sent its
		// completion, so either way one is waiting.
		s.Interrupt(failOnInterrupt)
		return <-done, nil
	}
}

func isInteractive(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// outputWriter prints streamed fragments and remembers whether the
// cursor is at the start of a line.
type outputWriter struct {
	mu          sync.Mutex
	w           io.Writer
	atLineStart bool
}

func newOutputWriter(w io.Writer) *outputWriter {
	return &outputWriter{w: w, atLineStart: true}
}

func (o *outputWriter) Write(fragment string) {
	if fragment == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprint(o.w, fragment)
	o.atLineStart = strings.HasSuffix(fragment, "\n")
}

// EndLine terminates a partial line.
func (o *outputWriter) EndLine() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.atLineStart {
		fmt.Fprintln(o.w)
		o.atLineStart = true
	}
}

// Println writes a full line, ending any partial line first.
func (o *outputWriter) Println(text string) {
	o.EndLine()
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintln(o.w, text)
}
