package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/anstrom/mcscan/internal/db"
	"github.com/anstrom/mcscan/internal/output"
	"github.com/anstrom/mcscan/internal/probe"
	"github.com/anstrom/mcscan/internal/scanning"
)

var (
	scanSelect string
	scanHosts  []string
	scanPorts  string
	scanPreset string
	scanJSON   bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Probe sockets for Minecraft servers",
	Long: `Probe sockets with the Server List Ping status query and store every outcome.
Without target flags the stored sockets picked by --select are scanned. With
--hosts or --preset only those targets are scanned; they are stored along with
their outcomes.

Interrupting the scan stops the workers. Results gathered before the workers
wind down are still flushed to the store before the command exits.`,
	Example: `  mcscan scan
  mcscan scan --select failed --workers 512
  mcscan scan --hosts 192.168.1.0/24 --ports 25565-25570 --output servers.txt
  mcscan scan --preset ngrok --rate 2000`,
	Args: cobra.NoArgs,
	PreRun: func(cmd *cobra.Command, _ []string) {
		bindFlags(cmd.Flags(), scanFlagKeys)
	},
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringVar(&scanSelect, "select", string(db.SelectPending),
		"stored sockets to scan: pending, failed or all")
	addTargetFlags(scanCmd, &scanHosts, &scanPorts, &scanPreset)
	addScanFlags(scanCmd.Flags())
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "print the summary as JSON")
	scanCmd.MarkFlagsMutuallyExclusive("select", "hosts")
	scanCmd.MarkFlagsMutuallyExclusive("select", "preset")
}

func runScan(cmd *cobra.Command, _ []string) error {
	selection, err := db.ParseSelection(scanSelect)
	if err != nil {
		return err
	}

	var targets []*db.Socket
	if len(scanHosts) > 0 || scanPreset != "" {
		if targets, err = expandTargets(scanHosts, scanPorts, scanPreset); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return withSession(ctx, func(ctx context.Context, s *session) error {
		stopMetrics := startMetricsServer(ctx, s.cfg.Metrics, s.logger)
		defer stopMetrics()

		opts, err := scanOptions(s)
		if err != nil {
			return err
		}
		prober := probe.NewClient(s.cfg.Scanning.Probe(), probe.NewDNSResolver())

		var summary *scanning.Summary
		if targets != nil {
			summary, err = scanning.Run(ctx, s.repo, prober, targets, opts)
		} else {
			summary, err = scanning.Rescan(ctx, s.repo, prober, selection, opts)
		}

		if summary != nil {
			if printErr := printSummary(cmd.OutOrStdout(), summary, scanJSON); printErr != nil {
				return printErr
			}
		}
		return err
	})
}

// scanOptions builds scan session options from the loaded configuration.
func scanOptions(s *session) (scanning.Options, error) {
	cfg := s.cfg
	opts := scanning.DefaultOptions()
	opts.Workers = cfg.Scanning.WorkerCount
	opts.ProgressInterval = cfg.Scanning.ProgressInterval
	opts.Scanner = scanning.ScannerConfig{
		ProbeTimeout: cfg.Scanning.ProbeTimeout,
		RateLimit:    cfg.Scanning.RateLimit,
		FailFast:     cfg.Scanning.FailFast,
	}
	opts.Persistence = cfg.Persistence.Coordinator()
	opts.Logger = s.logger

	if cfg.Persistence.OutputPath != "" {
		sink, err := output.NewFileSink(cfg.Persistence.OutputPath)
		if err != nil {
			return opts, err
		}
		opts.Sink = sink
	}
	return opts, nil
}

func printSummary(out io.Writer, summary *scanning.Summary, asJSON bool) error {
	if asJSON {
		return writeJSON(out, summary)
	}

	fmt.Fprintf(out, "Scan %s\n", summary.ScanID)
	fmt.Fprintf(out, "  Sockets scanned: %s\n", humanize.Comma(int64(summary.Sockets)))
	fmt.Fprintf(out, "  Servers found:   %s\n", humanize.Comma(int64(summary.Found)))
	fmt.Fprintf(out, "  Servers stored:  %s\n", humanize.Comma(int64(summary.Stored.Servers)))
	fmt.Fprintf(out, "  Sockets updated: %s\n", humanize.Comma(int64(summary.Stored.SocketsUpdated)))
	if summary.Stored.Dropped > 0 {
		fmt.Fprintf(out, "  Dropped:         %s\n", humanize.Comma(int64(summary.Stored.Dropped)))
	}
	fmt.Fprintf(out, "  Duration:        %s\n", summary.Duration.Round(time.Millisecond))
	return nil
}

// commandContext returns the command's context, or a background context
// when the command was executed without one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
