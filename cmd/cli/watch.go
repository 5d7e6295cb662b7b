package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/anstrom/mcscan/internal/db"
	"github.com/anstrom/mcscan/internal/logging"
	"github.com/anstrom/mcscan/internal/probe"
	"github.com/anstrom/mcscan/internal/scanning"
	"github.com/anstrom/mcscan/internal/scheduler"
)

const rescanJobName = "rescan"

var watchFlagKeys = map[string]string{
	"cron":   "schedule.cron",
	"select": "schedule.selection",
}

var (
	watchRunNow bool
	watchServe  bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Rescan stored sockets on a schedule",
	Long: `Rescan the stored sockets picked by the schedule selection every time the
cron expression fires. A rescan still running when the next one is due is
skipped. With --serve the read-only API runs alongside the scheduler.`,
	Example: `  mcscan watch
  mcscan watch --cron "@every 30m" --select failed --run-now
  mcscan watch --cron "0 */6 * * *" --select all --serve`,
	Args: cobra.NoArgs,
	PreRun: func(cmd *cobra.Command, _ []string) {
		bindFlags(cmd.Flags(), watchFlagKeys)
		bindFlags(cmd.Flags(), scanFlagKeys)
	},
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().String("cron", "", "cron expression or descriptor such as @hourly")
	watchCmd.Flags().String("select", "", "stored sockets to rescan: pending, failed or all")
	watchCmd.Flags().BoolVar(&watchRunNow, "run-now", false, "run a rescan immediately on start")
	watchCmd.Flags().BoolVar(&watchServe, "serve", false, "also serve the read-only API")
	addScanFlags(watchCmd.Flags())
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return withSession(ctx, func(ctx context.Context, s *session) error {
		if s.cfg.Schedule.Cron == "" {
			return fmt.Errorf("schedule.cron is not configured, pass --cron")
		}
		selection, err := db.ParseSelection(s.cfg.Schedule.Selection)
		if err != nil {
			return err
		}

		stopMetrics := startMetricsServer(ctx, s.cfg.Metrics, s.logger)
		defer stopMetrics()

		sched := scheduler.NewScheduler(s.logger)
		if _, err := sched.AddJob(rescanJobName, s.cfg.Schedule.Cron, rescanJob(s, selection)); err != nil {
			return err
		}

		if err := sched.Start(); err != nil {
			return err
		}
		defer sched.Stop()
		logJobs(s.logger, "Watching", sched.GetJobs())

		g, ctx := errgroup.WithContext(ctx)
		if watchRunNow {
			g.Go(func() error {
				_, err := sched.RunNow(rescanJobName)
				return err
			})
		}
		if watchServe {
			g.Go(func() error { return serveAPI(ctx, s) })
		}
		g.Go(func() error {
			<-ctx.Done()
			s.logger.Info("Shutting down scheduler")
			sched.Stop()
			logJobs(s.logger, "Scheduler stopped", sched.GetJobs())
			return nil
		})
		return g.Wait()
	})
}

// rescanJob returns the scheduled job that rescans selection.
func rescanJob(s *session, selection db.Selection) scheduler.JobFunc {
	return func(ctx context.Context) error {
		opts, err := scanOptions(s)
		if err != nil {
			return err
		}
		prober := probe.NewClient(s.cfg.Scanning.Probe(), probe.NewDNSResolver())
		_, err = scanning.Rescan(ctx, s.repo, prober, selection, opts)
		return err
	}
}

// logJobs logs one line per scheduled job.
func logJobs(logger *logging.Logger, msg string, jobs []scheduler.JobInfo) {
	for _, job := range jobs {
		fields := []any{"job", job.Name, "cron", job.CronExpr, "runs", job.Runs, "skipped", job.Skipped}
		if !job.NextRun.IsZero() {
			fields = append(fields, "next_run", job.NextRun.Format(time.RFC3339))
		}
		if job.LastErr != "" {
			fields = append(fields, "last_error", job.LastErr)
		}
		logger.Info(msg, fields...)
	}
}
