package workers

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/anstrom/mcscan/internal/logging"
	"github.com/anstrom/mcscan/internal/metrics"
)

// monitor polls the per-worker counters and reports aggregate progress. It
// only reads; the scheduler never waits on it for completion.
type monitor struct {
	counters []atomic.Int64
	total    int64
	interval time.Duration
	logger   *logging.Logger
	metrics  *metrics.PrometheusMetrics
	start    time.Time
}

func newMonitor(counters []atomic.Int64, total int64, interval time.Duration,
	logger *logging.Logger, m *metrics.PrometheusMetrics) *monitor {
	return &monitor{
		counters: counters,
		total:    total,
		interval: interval,
		logger:   logger,
		metrics:  m,
		start:    time.Now(),
	}
}

func (m *monitor) completed() int64 {
	var sum int64
	for i := range m.counters {
		sum += m.counters[i].Load()
	}
	return sum
}

// run reports every interval until all tasks are done or ctx is canceled.
func (m *monitor) run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.metrics.SetProgress(0, m.total)

	for {
		select {
		case <-ctx.Done():
			m.report(m.completed())
			return
		case <-ticker.C:
			completed := m.completed()
			m.report(completed)
			if completed >= m.total {
				return
			}
		}
	}
}

func (m *monitor) report(completed int64) {
	m.metrics.SetProgress(completed, m.total)

	elapsed := time.Since(m.start)
	rate := 0.0
	if secs := elapsed.Seconds(); secs > 0 {
		rate = float64(completed) / secs
	}
	percent := 100.0
	if m.total > 0 {
		percent = float64(completed) * 100 / float64(m.total)
	}

	m.logger.Info(fmt.Sprintf("Scanned %s of %s sockets", humanize.Comma(completed), humanize.Comma(m.total)),
		"completed", completed,
		"total", m.total,
		"percent", fmt.Sprintf("%.1f", percent),
		"rate_per_second", fmt.Sprintf("%.1f", rate),
		"elapsed", elapsed.Round(time.Second).String())
}
