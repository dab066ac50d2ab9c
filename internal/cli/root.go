package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alanmeadows/relay/internal/config"
	"github.com/alanmeadows/relay/internal/logging"
)

var (
	verbose    bool
	configPath string
	appConfig  *config.Config

	rootCmd = &cobra.Command{
		Use:   "relay",
		Short: "Interactive shell runtime with streaming output and replayable transcripts",
		Long: `Relay reads a line of input, hands it to a configurable executor (a shell,
a fixed command, or an HTTP endpoint through curl), streams the output back
as it arrives and records every request and response in a transcript that
can be saved, restored and replayed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Additional config file merged over user and repo config")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		logging.Setup(verbose)
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		appConfig = cfg
		return nil
	}

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(transcriptCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(initCmd)
}

func Execute() error {
	return rootCmd.Execute()
}
