package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alanmeadows/relay/internal/session"
)

var (
	runFailOnInterrupt bool
	runRestore         string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start an interactive session",
	Long: `Start an interactive session. Each line read from stdin is submitted to the
configured executor and its output is streamed back as it arrives.

Ctrl-C interrupts a running request; at the prompt it exits.

Lines starting with ":" are session commands:
  :save [path]      save the transcript (defaults to the last path)
  :restore <path>   load a transcript and replay it into the session
  :history          list the recorded entries
  :clear            discard the history
  :quit             leave the session`,
	Example: `  relay run
  relay run --restore notes.transcript
  relay --config api.jsonc run --fail-on-interrupt`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r := newREPL(cmd.OutOrStdout(), appConfig.Prompt, isInteractive(cmd.InOrStdin()))
		r.failOnInterrupt = runFailOnInterrupt

		s, cleanup, err := newSession(appConfig, r.out.Write, r.onCompletion)
		if err != nil {
			return err
		}
		defer cleanup()
		r.session = s

		if runRestore != "" {
			r.restore(runRestore)
		}

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, os.Interrupt)
		defer signal.Stop(sigs)

		return r.loop(cmd.Context(), cmd.InOrStdin(), sigs)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runFailOnInterrupt, "fail-on-interrupt", false, "Record interrupted requests as failed")
	runCmd.Flags().StringVar(&runRestore, "restore", "", "Transcript to replay before reading input")
}

type repl struct {
	session         *session.Session
	out             *outputWriter
	prompt          string
	interactive     bool
	failOnInterrupt bool

	// done receives the completion of the request being waited on.
	done chan session.Completion
}

func newREPL(w io.Writer, prompt string, interactive bool) *repl {
	return &repl{
		out:         newOutputWriter(w),
		prompt:      prompt,
		interactive: interactive,
		done:        make(chan session.Completion, 1),
	}
}

func (r *repl) onCompletion(c session.Completion) {
	switch {
	case c.Interrupted:
		r.out.Println(noteStyle.Render("^C interrupted"))
	case !c.Success:
		r.out.EndLine()
		if c.Output == "" {
			r.out.Println(failStyle.Render("request failed"))
		}
	default:
		r.out.EndLine()
	}

	// Replayed entries also complete; nobody waits on those.
	select {
	case r.done <- c:
	default:
	}
}

func (r *repl) drain() {
	select {
	case <-r.done:
	default:
	}
}

func (r *repl) showPrompt() {
	if r.interactive {
		r.out.Write(promptStyle.Render(r.prompt))
	}
}

// loop reads lines until EOF, :quit, or an interrupt at the prompt.
func (r *repl) loop(ctx context.Context, in io.Reader, sigs <-chan os.Signal) error {
	if ctx == nil {
		ctx = context.Background()
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		r.showPrompt()
		select {
		case line, ok := <-lines:
			if !ok {
				r.out.EndLine()
				return nil
			}
			if quit := r.handle(line, sigs); quit {
				return nil
			}
		case <-sigs:
			r.out.Println("")
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// handle processes one line and reports whether the session should end.
func (r *repl) handle(line string, sigs <-chan os.Signal) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	if strings.HasPrefix(trimmed, ":") {
		return r.meta(trimmed)
	}

	r.drain()
	if _, err := submitAndWait(r.session, line, r.done, sigs, r.failOnInterrupt); err != nil {
		var verr *session.ValidationError
		if errors.As(err, &verr) {
			r.out.Println(failStyle.Render(verr.Error()))
			return false
		}
		r.out.Println(failStyle.Render(err.Error()))
		return errors.Is(err, session.ErrClosed)
	}
	return false
}

func (r *repl) meta(line string) bool {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case ":quit", ":exit", ":q":
		return true
	case ":save":
		r.save(arg)
	case ":restore":
		if arg == "" {
			r.out.Println(failStyle.Render("usage: :restore <path>"))
			return false
		}
		r.restore(arg)
	case ":history":
		history := r.session.History()
		if len(history) == 0 {
			r.out.Println(noteStyle.Render("no history"))
			return false
		}
		r.out.Println(entriesTable(history).String())
	case ":clear":
		r.session.Clear()
		r.out.Println(noteStyle.Render("history cleared"))
	default:
		r.out.Println(failStyle.Render(fmt.Sprintf("unknown command %s", name)))
	}
	return false
}

func (r *repl) save(path string) {
	if path == "" && r.session.TranscriptPath() == "" {
		path = defaultTranscriptPath(appConfig, r.session.ID())
	}
	if err := r.session.SaveTranscript(path); err != nil {
		r.out.Println(failStyle.Render(err.Error()))
		return
	}
	r.out.Println(noteStyle.Render("saved " + r.session.TranscriptPath()))
}

func (r *repl) restore(path string) {
	if err := r.session.RestoreTranscript(path); err != nil {
		r.out.Println(failStyle.Render(err.Error()))
		return
	}
	r.out.Println(noteStyle.Render(fmt.Sprintf("restored %d entries from %s", len(r.session.History()), path)))
}
