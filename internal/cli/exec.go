package cli

import (
	"errors"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alanmeadows/relay/internal/session"
)

// errRequestFailed is returned when the request fails or is interrupted
// so the process exits non-zero.
var errRequestFailed = errors.New("request failed")

var execFailOnInterrupt bool

var execCmd = &cobra.Command{
	Use:   "exec <input>...",
	Short: "Run a single request and exit",
	Long: `Submit one input to the configured executor, stream its output and exit.
The exit status is non-zero when the request fails or is interrupted.`,
	Example: `  relay exec 'ls -la'
  relay --config api.jsonc exec "summarize the release notes"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		input := strings.Join(args, " ")
		out := newOutputWriter(cmd.OutOrStdout())
		done := make(chan session.Completion, 1)

		s, cleanup, err := newSession(appConfig, out.Write, func(c session.Completion) {
			done <- c
		})
		if err != nil {
			return err
		}
		defer cleanup()

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, os.Interrupt)
		defer signal.Stop(sigs)

		c, err := submitAndWait(s, input, done, sigs, execFailOnInterrupt)
		if err != nil {
			return err
		}
		out.EndLine()

		if !c.Success || c.Interrupted {
			return errRequestFailed
		}
		return nil
	},
}

func init() {
	execCmd.Flags().BoolVar(&execFailOnInterrupt, "fail-on-interrupt", false, "Record an interrupted request as failed")
}
