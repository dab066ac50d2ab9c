package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alanmeadows/relay/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Expose a session over WebSocket",
	Long: `Start an HTTP server exposing one session to WebSocket clients at /ws.
Connected clients receive the history, live output and completions, and may
submit input or interrupt the running request. GET /status reports the
session state.`,
	Example: `  relay serve
  relay serve --port 8080`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		port := appConfig.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}
		if port <= 0 {
			return fmt.Errorf("invalid port %d", port)
		}

		bridge := server.NewBridge()
		s, cleanup, err := newSession(appConfig, bridge.OnOutput, bridge.OnCompletion)
		if err != nil {
			return err
		}
		defer cleanup()
		bridge.Attach(s)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Fprintf(cmd.OutOrStdout(), "Serving session %s on :%d\n", s.ID(), port)
		return server.New(bridge).Run(ctx, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (default from config)")
}
