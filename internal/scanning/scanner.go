package scanning

import (
	"context"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/anstrom/mcscan/internal/db"
	"github.com/anstrom/mcscan/internal/errors"
	"github.com/anstrom/mcscan/internal/logging"
	"github.com/anstrom/mcscan/internal/metrics"
	"github.com/anstrom/mcscan/internal/probe"
)

// Truncation widths of the discovery log line.
const (
	logVersionWidth     = 15
	logDescriptionWidth = 25
)

// Submitter accepts scan results for persistence.
type Submitter interface {
	SubmitServer(server *db.Server)
	SubmitSocketUpdate(socket *db.Socket)
}

// Scanner probes single sockets and submits what it finds.
type Scanner struct {
	prober    probe.Prober
	submitter Submitter
	success   *db.Status
	timeout   time.Duration
	limiter   *rate.Limiter
	failFast  bool
	logger    *logging.Logger
	metrics   *metrics.PrometheusMetrics
}

// ScannerConfig holds per-probe settings.
type ScannerConfig struct {
	ProbeTimeout time.Duration
	// RateLimit caps probes per second across all workers; 0 disables it.
	RateLimit float64
	FailFast  bool
}

// NewScanner creates a scanner. success must be the stored success status.
func NewScanner(prober probe.Prober, submitter Submitter, success *db.Status, cfg ScannerConfig,
	logger *logging.Logger, m *metrics.PrometheusMetrics) *Scanner {
	if logger == nil {
		logger = logging.Default()
	}
	if m == nil {
		m = metrics.GetGlobalMetrics()
	}

	s := &Scanner{
		prober:    prober,
		submitter: submitter,
		success:   success,
		timeout:   cfg.ProbeTimeout,
		failFast:  cfg.FailFast,
		logger:    logger,
		metrics:   m,
	}
	if cfg.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(1, int(cfg.RateLimit)))
	}
	return s
}

// ScanSocket probes one socket. It returns the submitted server when one
// answered. The only error it returns is an unexpected probe failure while
// fail-fast is enabled. A canceled ctx records nothing.
func (s *Scanner) ScanSocket(ctx context.Context, socket *db.Socket) (*db.Server, bool, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, false, nil
		}
	}

	start := time.Now()
	outcome := s.prober.Probe(ctx, socket.HostName(), socket.Port, s.timeout)
	if ctx.Err() != nil {
		// The probe may have been cut short, so its outcome is not trusted.
		return nil, false, nil
	}
	// From here on the outcome is complete and is submitted even if ctx is
	// canceled meanwhile. The coordinator accepts submissions until it is
	// stopped, and its final flush stores them.
	s.metrics.RecordProbe(outcome.Kind.String(), outcome.Class, time.Since(start))

	switch outcome.Kind {
	case probe.KindSuccess:
		socket.Status = s.success
		server := &db.Server{
			Socket:      socket,
			Version:     outcome.Info.Version,
			Description: outcome.Info.Description,
			MaxPlayers:  outcome.Info.MaxPlayers,
		}
		s.submitter.SubmitServer(server)
		s.metrics.IncrementServersFound()
		s.logger.InfoScan("Found server", socket.Address(),
			"version", truncate(server.Version, logVersionWidth),
			"description", truncate(server.Description, logDescriptionWidth),
			"max_players", server.MaxPlayers)
		return server, true, nil

	case probe.KindExpectedFailure:
		socket.Status = &db.Status{Name: outcome.StatusName()}
		s.submitter.SubmitSocketUpdate(socket)
		s.logger.Debug("Probe failed", "socket", socket.Address(), "status", socket.Status.Name)
		return nil, false, nil

	default:
		err := errors.ErrUnexpectedProbe(socket.Address(), outcome.Err)
		if s.failFast {
			return nil, false, err
		}
		s.logger.ErrorScan("Unexpected probe failure, socket skipped", socket.Address(), outcome.Err)
		return nil, false, nil
	}
}

// truncate cuts s to at most width runes.
func truncate(s string, width int) string {
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	return string([]rune(s)[:width])
}
