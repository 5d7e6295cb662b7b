// Package coordinator buffers scan results submitted by concurrent workers and
// periodically writes them to the store through dedup-upsert. Stopping the
// coordinator always runs one final flush over whatever is still buffered.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/anstrom/mcscan/internal/db"
	"github.com/anstrom/mcscan/internal/errors"
	"github.com/anstrom/mcscan/internal/logging"
	"github.com/anstrom/mcscan/internal/metrics"
)

// Buffer names used for metrics and logs.
const (
	bufferServers = "servers"
	bufferUpdates = "socket_updates"
	bufferSockets = "sockets"
)

// Store is the write side of the repository used by the flush loop.
type Store interface {
	WithWriter(ctx context.Context, fn func(w *db.Writer) error) (db.Counts, error)
}

// Sink receives the servers stored by a successful flush.
type Sink interface {
	WriteServers(servers []*db.Server) error
}

// Config holds flush loop settings.
type Config struct {
	FlushInterval time.Duration
	MaxRetries    int
	RetryDelay    time.Duration
}

// DefaultConfig returns the default flush loop configuration.
func DefaultConfig() Config {
	return Config{
		FlushInterval: 60 * time.Second,
		MaxRetries:    3,
		RetryDelay:    2 * time.Second,
	}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithSink sets the output sink for stored servers.
func WithSink(sink Sink) Option {
	return func(c *Coordinator) { c.sink = sink }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithMetrics sets the metrics instance.
func WithMetrics(m *metrics.PrometheusMetrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

type batch struct {
	servers []*db.Server
	updates []*db.Socket
	sockets []*db.Socket
}

func (b batch) empty() bool {
	return b.size() == 0
}

func (b batch) size() int {
	return len(b.servers) + len(b.updates) + len(b.sockets)
}

// split divides b into two halves, keeping submission order within each
// buffer. Servers go first, then status updates, then sockets.
func (b batch) split() (left, right batch) {
	k := b.size() / 2
	left.servers, right.servers, k = cut(b.servers, k)
	left.updates, right.updates, k = cut(b.updates, k)
	left.sockets, right.sockets, _ = cut(b.sockets, k)
	return left, right
}

// describe names the first entity of b for logs.
func (b batch) describe() string {
	switch {
	case len(b.servers) > 0:
		return "server " + socketAddress(b.servers[0].Socket)
	case len(b.updates) > 0:
		return "socket update " + socketAddress(b.updates[0])
	case len(b.sockets) > 0:
		return "socket " + socketAddress(b.sockets[0])
	default:
		return "none"
	}
}

func socketAddress(s *db.Socket) string {
	if s == nil {
		return "<no socket>"
	}
	return s.Address()
}

// cut takes up to k items off the front of items and returns the head, the
// tail and how many of k are left over. The head is capped so appending to it
// never writes into the tail.
func cut[T any](items []T, k int) (head, tail []T, left int) {
	n := min(k, len(items))
	return items[:n:n], items[n:], k - n
}

// Coordinator owns the pending write buffers and the flush loop.
type Coordinator struct {
	store   Store
	config  Config
	sink    Sink
	logger  *logging.Logger
	metrics *metrics.PrometheusMetrics

	mu      sync.Mutex
	pending batch

	flushMu sync.Mutex
	totals  db.Counts

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	err      error
}

// New creates a coordinator writing to store.
func New(store Store, config Config, opts ...Option) *Coordinator {
	if config.FlushInterval <= 0 {
		config.FlushInterval = DefaultConfig().FlushInterval
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}

	c := &Coordinator{
		store:  store,
		config: config,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.Default()
	}
	c.logger = c.logger.WithComponent("coordinator")
	if c.metrics == nil {
		c.metrics = metrics.GetGlobalMetrics()
	}
	return c
}

// SubmitServer buffers a discovered server. A socket carrying the success
// status is also queued for a status update so the status is written
// alongside the server.
func (c *Coordinator) SubmitServer(server *db.Server) {
	c.mu.Lock()
	c.pending.servers = append(c.pending.servers, server)
	if server.Socket != nil && server.Socket.Status.IsSuccess() {
		c.pending.updates = append(c.pending.updates, server.Socket)
	}
	c.publishDepthLocked()
	c.mu.Unlock()
}

// SubmitSocketUpdate buffers a scanned socket whose status must be written.
func (c *Coordinator) SubmitSocketUpdate(socket *db.Socket) {
	c.mu.Lock()
	c.pending.updates = append(c.pending.updates, socket)
	c.publishDepthLocked()
	c.mu.Unlock()
}

// SubmitSocket buffers a new socket to be inserted.
func (c *Coordinator) SubmitSocket(socket *db.Socket) {
	c.mu.Lock()
	c.pending.sockets = append(c.pending.sockets, socket)
	c.publishDepthLocked()
	c.mu.Unlock()
}

// Pending returns the number of buffered servers, status updates and sockets.
func (c *Coordinator) Pending() (servers, updates, sockets int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending.servers), len(c.pending.updates), len(c.pending.sockets)
}

func (c *Coordinator) publishDepthLocked() {
	c.metrics.SetBufferDepth(bufferServers, len(c.pending.servers))
	c.metrics.SetBufferDepth(bufferUpdates, len(c.pending.updates))
	c.metrics.SetBufferDepth(bufferSockets, len(c.pending.sockets))
}

func (c *Coordinator) swap() batch {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.pending
	c.pending = batch{}
	c.publishDepthLocked()
	return b
}

// requeue puts a failed batch back in front of anything submitted since.
func (c *Coordinator) requeue(b batch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending.servers = append(b.servers, c.pending.servers...)
	c.pending.updates = append(b.updates, c.pending.updates...)
	c.pending.sockets = append(b.sockets, c.pending.sockets...)
	c.publishDepthLocked()
}

// Run drives the flush loop until Stop is called, then runs the final flush
// and returns its error. When ctx is done the periodic cycles keep running on
// a context detached from ctx, so results submitted by workers that are still
// winding down are not lost; Stop remains the only way out.
func (c *Coordinator) Run(ctx context.Context) error {
	defer close(c.done)

	ticker := time.NewTicker(c.config.FlushInterval)
	defer ticker.Stop()

	c.logger.Debug("Flush loop started", "interval", c.config.FlushInterval)

	canceled := ctx.Done()
	for {
		select {
		case <-ticker.C:
			if err := c.Flush(ctx); err != nil {
				c.logger.WithError(err).Error("Flush cycle failed, batch re-queued")
			}
		case <-canceled:
			c.logger.Debug("Run context done, flushing until stopped")
			ctx = context.WithoutCancel(ctx)
			canceled = nil
		case <-c.stop:
			c.err = c.finish(ctx)
			return c.err
		}
	}
}

func (c *Coordinator) finish(ctx context.Context) error {
	start := time.Now()
	// The final flush must complete even when the run was canceled.
	err := c.Flush(context.WithoutCancel(ctx))
	if err != nil {
		servers, updates, sockets := c.Pending()
		c.metrics.RecordFlush(metrics.FlushFailed, time.Since(start))
		c.logger.Error("Final flush failed, buffered results were not stored",
			"error", err,
			"servers", servers,
			"socket_updates", updates,
			"sockets", sockets)
		return err
	}

	totals := c.Totals()
	c.logger.Info("Flush loop stopped",
		"hosts", totals.Hosts,
		"statuses", totals.Statuses,
		"sockets", totals.Sockets,
		"servers", totals.Servers,
		"sockets_updated", totals.SocketsUpdated,
		"dropped", totals.Dropped)
	return nil
}

// Stop signals the flush loop to run its final cycle and exit.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Wait blocks until Run has returned and reports the final flush error.
func (c *Coordinator) Wait() error {
	<-c.done
	return c.err
}

// Totals returns the rows created and updated by all successful flushes.
func (c *Coordinator) Totals() db.Counts {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()
	return c.totals
}

// Flush runs one cycle: swap the buffers and write them in a single
// transaction. Transient failures are retried. When the store rejects the
// data itself the batch is written in halves until the rejected entities are
// singled out, and those are dropped. Whatever could not be written is
// re-queued and the error is returned.
func (c *Coordinator) Flush(ctx context.Context) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	b := c.swap()
	if b.empty() {
		return nil
	}

	start := time.Now()
	counts, rest, err := c.flushBatch(ctx, b, start)

	c.totals.Add(counts)
	c.metrics.AddRowsCreated("hosts", counts.Hosts)
	c.metrics.AddRowsCreated("statuses", counts.Statuses)
	c.metrics.AddRowsCreated("sockets", counts.Sockets)
	c.metrics.AddRowsCreated("servers", counts.Servers)
	c.metrics.AddRowsCreated(bufferUpdates, counts.SocketsUpdated)
	c.metrics.AddRowsDropped(counts.Dropped)

	if stored := storedServers(b.servers); c.sink != nil && len(stored) > 0 {
		if err := c.sink.WriteServers(stored); err != nil {
			c.logger.Warn("Failed to write servers to output", "error", err, "servers", len(stored))
		}
	}

	if err != nil {
		for i := len(rest) - 1; i >= 0; i-- {
			c.requeue(rest[i])
		}
		c.metrics.RecordFlush(metrics.FlushRequeued, time.Since(start))
		return errors.ErrFlushFailed(err)
	}

	c.metrics.RecordFlush(metrics.FlushSuccess, time.Since(start))
	c.logger.Info("Flushed results",
		"hosts", counts.Hosts,
		"statuses", counts.Statuses,
		"sockets", counts.Sockets,
		"servers", counts.Servers,
		"sockets_updated", counts.SocketsUpdated,
		"dropped", counts.Dropped,
		"duration", time.Since(start))
	return nil
}

// flushBatch writes b, isolating rejected entities. On failure it returns
// the parts of b that were not written, in submission order.
func (c *Coordinator) flushBatch(ctx context.Context, b batch, start time.Time) (db.Counts, []batch, error) {
	counts, err := c.write(ctx, b, start)
	switch {
	case err == nil:
		return counts, nil, nil
	case errors.IsCode(err, errors.CodeValidation):
		return c.isolate(ctx, b, err, start)
	default:
		return counts, []batch{b}, err
	}
}

// isolate splits a batch the store rejected and writes each half on its own.
// A rejected single entity is logged and dropped.
func (c *Coordinator) isolate(ctx context.Context, b batch, cause error, start time.Time) (db.Counts, []batch, error) {
	if b.size() == 1 {
		c.logger.WithError(cause).Error("Dropping entity rejected by the store", "entity", b.describe())
		return db.Counts{Dropped: 1}, nil, nil
	}

	left, right := b.split()
	parts := []batch{left, right}

	var total db.Counts
	for i, part := range parts {
		counts, rest, err := c.flushBatch(ctx, part, start)
		total.Add(counts)
		if err != nil {
			return total, append(rest, parts[i+1:]...), err
		}
	}
	return total, nil, nil
}

// write applies b in one transaction, retrying while the error is transient.
func (c *Coordinator) write(ctx context.Context, b batch, start time.Time) (db.Counts, error) {
	for attempt := 0; ; attempt++ {
		counts, err := c.store.WithWriter(ctx, func(w *db.Writer) error {
			return apply(ctx, w, b)
		})
		if err == nil || !errors.IsRetryable(err) || attempt >= c.config.MaxRetries {
			return counts, err
		}

		c.metrics.RecordFlush(metrics.FlushRetry, time.Since(start))
		c.logger.Warn("Retrying flush cycle", "attempt", attempt+1, "error", err)
		if waitErr := sleepCtx(ctx, c.config.RetryDelay); waitErr != nil {
			return counts, err
		}
	}
}

// storedServers returns the servers that hold a committed row.
func storedServers(servers []*db.Server) []*db.Server {
	var stored []*db.Server
	for _, s := range servers {
		if s.ID != 0 {
			stored = append(stored, s)
		}
	}
	return stored
}

// apply writes a batch in dependency order: status updates first, then new
// sockets, then servers.
func apply(ctx context.Context, w *db.Writer, b batch) error {
	if len(b.updates) > 0 {
		if err := w.UpdateSocketStatuses(ctx, b.updates); err != nil {
			return err
		}
	}
	if len(b.sockets) > 0 {
		if err := w.UpsertSockets(ctx, b.sockets); err != nil {
			return err
		}
	}
	if len(b.servers) > 0 {
		if err := w.UpsertServers(ctx, b.servers); err != nil {
			return err
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
