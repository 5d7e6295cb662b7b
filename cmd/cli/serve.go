package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/anstrom/mcscan/internal/api"
	"github.com/anstrom/mcscan/internal/metrics"
)

var serveFlagKeys = map[string]string{
	"host": "api.listen_addr",
	"port": "api.port",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only HTTP API",
	Long: `Serve discovered servers, store statistics and Prometheus metrics over a
read-only HTTP API until interrupted.`,
	Example: `  mcscan serve
  mcscan serve --host 0.0.0.0 --port 8080`,
	Args: cobra.NoArgs,
	PreRun: func(cmd *cobra.Command, _ []string) {
		bindFlags(cmd.Flags(), serveFlagKeys)
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return withSession(ctx, func(ctx context.Context, s *session) error {
			if !s.cfg.IsAPIEnabled() {
				return fmt.Errorf("API server is disabled in configuration")
			}
			return serveAPI(ctx, s)
		})
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "listen address")
	serveCmd.Flags().Int("port", 0, "listen port")
}

// serveAPI runs the API server until ctx is done.
func serveAPI(ctx context.Context, s *session) error {
	server := api.New(api.ConfigFrom(&s.cfg.API), s.repo,
		api.WithLogger(s.logger),
		api.WithMetrics(metrics.GetGlobalMetrics()))

	fmt.Fprintf(os.Stderr, "API listening on http://%s\n", server.GetAddress())
	return server.Start(ctx)
}
