package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alanmeadows/relay/internal/session"
	"github.com/alanmeadows/relay/internal/transcript"
)

var transcriptCmd = &cobra.Command{
	Use:   "transcript",
	Short: "Inspect and replay saved transcripts",
}

var transcriptRawFlag bool

func init() {
	transcriptShowCmd.Flags().BoolVar(&transcriptRawFlag, "raw", false, "Print the entries in transcript format instead of a table")
	transcriptCmd.AddCommand(transcriptShowCmd)
	transcriptCmd.AddCommand(transcriptReplayCmd)
}

var transcriptShowCmd = &cobra.Command{
	Use:   "show <file>",
	Short: "List the entries a transcript file restores to",
	Long: `Parse a transcript file and list the entries a restore would produce.
Requests that failed are not restored; interrupted ones are.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, meta, err := transcript.Load(args[0], transcriptFormat(appConfig))
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if transcriptRawFlag {
			format := transcriptFormat(appConfig)
			if meta.Prompt != "" {
				format = transcript.Format{Prompt: meta.Prompt}
			}
			text, err := format.Serialize(entries)
			if err != nil {
				return err
			}
			fmt.Fprint(out, text)
			return nil
		}

		if meta.SessionID != "" {
			fmt.Fprintf(out, "Session: %s\n", meta.SessionID)
		}
		if !meta.SavedAt.IsZero() {
			fmt.Fprintf(out, "Saved:   %s\n", meta.SavedAt.Local().Format("2006-01-02 15:04:05"))
		}
		if len(entries) == 0 {
			fmt.Fprintln(out, "No entries.")
			return nil
		}
		fmt.Fprintln(out, entriesTable(entries))
		return nil
	},
}

var transcriptReplayCmd = &cobra.Command{
	Use:   "replay <file>",
	Short: "Replay a transcript through a session without running anything",
	Long: `Restore a transcript into a fresh session, printing the output of each
entry as it is replayed. No executor runs; recorded outputs are reproduced.
Fails with the index of the first malformed entry.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := newOutputWriter(cmd.OutOrStdout())
		format := transcriptFormat(appConfig)

		s := session.New(session.Config{
			Format:   format,
			OnOutput: out.Write,
			OnCompletion: func(session.Completion) {
				out.EndLine()
			},
		})
		defer s.Close()

		if err := s.RestoreTranscript(args[0]); err != nil {
			return err
		}
		out.Println(noteStyle.Render(fmt.Sprintf("replayed %d entries", len(s.History()))))
		return nil
	},
}
