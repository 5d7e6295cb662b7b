package scanning

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/mcscan/internal/coordinator"
	"github.com/anstrom/mcscan/internal/db"
	"github.com/anstrom/mcscan/internal/errors"
	"github.com/anstrom/mcscan/internal/logging"
	"github.com/anstrom/mcscan/internal/metrics"
	"github.com/anstrom/mcscan/internal/probe"
	"github.com/anstrom/mcscan/internal/workers"
)

// Options configures a scan session.
type Options struct {
	Workers          int
	ProgressInterval time.Duration
	Scanner          ScannerConfig
	Persistence      coordinator.Config
	// Sink receives servers after each flush that stored some.
	Sink    coordinator.Sink
	Logger  *logging.Logger
	Metrics *metrics.PrometheusMetrics
}

// DefaultOptions returns the default scan session options.
func DefaultOptions() Options {
	w := workers.DefaultConfig()
	return Options{
		Workers:          w.Workers,
		ProgressInterval: w.ProgressInterval,
		Scanner: ScannerConfig{
			ProbeTimeout: 10 * time.Second,
			FailFast:     true,
		},
		Persistence: coordinator.DefaultConfig(),
	}
}

// Summary describes a finished scan session.
type Summary struct {
	ScanID   string        `json:"scan_id"`
	Sockets  int           `json:"sockets"`
	Found    int           `json:"found"`
	Stored   db.Counts     `json:"stored"`
	Duration time.Duration `json:"duration"`
}

// Run scans sockets and persists every outcome through a coordinator. The
// returned summary is valid even when err is not nil; err is the first fatal
// probe failure, the final flush failure, or ctx's error.
func Run(ctx context.Context, repo *db.Repository, prober probe.Prober, sockets []*db.Socket, opts Options) (*Summary, error) {
	summary := &Summary{ScanID: uuid.New().String(), Sockets: len(sockets)}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.WithScanID(summary.ScanID)
	if opts.Metrics == nil {
		opts.Metrics = metrics.GetGlobalMetrics()
	}

	if len(sockets) == 0 {
		logger.Warn("No sockets to scan")
		return summary, nil
	}

	success, err := repo.SuccessStatus(ctx)
	if err != nil {
		return summary, errors.WrapScanError(errors.CodeScanFailed, "failed to load success status", err)
	}

	coord := coordinator.New(repo, opts.Persistence,
		coordinator.WithSink(opts.Sink),
		coordinator.WithLogger(logger),
		coordinator.WithMetrics(opts.Metrics))
	scanner := NewScanner(prober, coord, success, opts.Scanner, logger, opts.Metrics)

	logger.Info("Starting scan",
		"sockets", len(sockets),
		"workers", min(opts.Workers, len(sockets)),
		"probe_timeout", opts.Scanner.ProbeTimeout,
		"flush_interval", opts.Persistence.FlushInterval)

	start := time.Now()
	servers, runErr := workers.Run[*db.Socket, *db.Server](ctx, sockets, scanner.ScanSocket, workers.Config{
		Workers:          opts.Workers,
		ProgressInterval: opts.ProgressInterval,
		Logger:           logger,
		Metrics:          opts.Metrics,
	}, coord)

	summary.Found = len(servers)
	summary.Stored = coord.Totals()
	summary.Duration = time.Since(start)

	logger.Info("Scan finished",
		"sockets", summary.Sockets,
		"found", summary.Found,
		"servers_stored", summary.Stored.Servers,
		"sockets_updated", summary.Stored.SocketsUpdated,
		"duration", summary.Duration.Round(time.Millisecond).String())

	return summary, runErr
}

// Rescan scans the stored sockets picked by selection.
func Rescan(ctx context.Context, repo *db.Repository, prober probe.Prober, selection db.Selection, opts Options) (*Summary, error) {
	sockets, err := repo.SelectSockets(ctx, selection)
	if err != nil {
		return nil, err
	}
	if opts.Logger != nil {
		opts.Logger = opts.Logger.WithFields("selection", string(selection))
	}
	return Run(ctx, repo, prober, sockets, opts)
}
