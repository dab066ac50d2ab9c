package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/alanmeadows/relay/internal/archive"
	"github.com/alanmeadows/relay/internal/transcript"
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Browse archived sessions",
	Long: `Browse sessions recorded in the SQLite archive. Sessions are archived while
archive.enabled is true.`,
}

var archiveRawFlag bool

func init() {
	archiveShowCmd.Flags().BoolVar(&archiveRawFlag, "raw", false, "Print the entries in transcript format instead of a table")
	archiveCmd.AddCommand(archiveListCmd)
	archiveCmd.AddCommand(archiveShowCmd)
}

var archiveListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived sessions, most recent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := archive.Open(appConfig.Archive.DBPath())
		if err != nil {
			return err
		}
		defer a.Close()

		sessions, err := a.Sessions()
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No archived sessions.")
			return nil
		}

		rows := make([][]string, 0, len(sessions))
		for _, s := range sessions {
			rows = append(rows, []string{
				s.ID,
				s.StartedAt.Local().Format("2006-01-02 15:04"),
				s.UpdatedAt.Local().Format("2006-01-02 15:04"),
				strconv.Itoa(s.Entries),
			})
		}
		fmt.Fprintln(cmd.OutOrStdout(), newTable("SESSION", "STARTED", "UPDATED", "ENTRIES").Rows(rows...))
		return nil
	},
}

var archiveShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show the entries of an archived session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := archive.Open(appConfig.Archive.DBPath())
		if err != nil {
			return err
		}
		defer a.Close()

		sess, err := a.Get(args[0])
		if errors.Is(err, archive.ErrSessionNotFound) {
			return fmt.Errorf("no archived session %q", args[0])
		}
		if err != nil {
			return err
		}
		entries, err := a.Entries(sess.ID)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if archiveRawFlag {
			text, err := transcript.Format{Prompt: sess.Prompt}.Serialize(entries)
			if err != nil {
				return err
			}
			fmt.Fprint(out, text)
			return nil
		}
		fmt.Fprintln(out, entriesTable(entries))
		return nil
	},
}
