package scanning

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/anstrom/mcscan/internal/coordinator"
	"github.com/anstrom/mcscan/internal/db"
	mcerrors "github.com/anstrom/mcscan/internal/errors"
	"github.com/anstrom/mcscan/internal/logging"
	"github.com/anstrom/mcscan/internal/metrics"
	"github.com/anstrom/mcscan/internal/probe"
	"github.com/anstrom/mcscan/internal/probe/mocks"
)

func newTestRepository(t *testing.T) *db.Repository {
	t.Helper()

	cfg := db.DefaultConfig()
	cfg.Path = ":memory:"

	database, err := db.ConnectAndMigrate(context.Background(), &cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return db.NewRepository(database)
}

// seedSockets stores one socket per port on host and returns them pending.
func seedSockets(t *testing.T, repo *db.Repository, host string, ports ...int) []*db.Socket {
	t.Helper()
	ctx := context.Background()

	h := &db.Host{Name: host}
	sockets := make([]*db.Socket, len(ports))
	for i, port := range ports {
		sockets[i] = db.NewSocket(h, port)
	}
	_, err := repo.WithWriter(ctx, func(w *db.Writer) error {
		return w.UpsertSockets(ctx, sockets)
	})
	require.NoError(t, err)

	pending, err := repo.SelectSockets(ctx, db.SelectPending)
	require.NoError(t, err)
	return pending
}

func testOptions(workers int, failFast bool) Options {
	return Options{
		Workers:          workers,
		ProgressInterval: 10 * time.Millisecond,
		Scanner:          ScannerConfig{ProbeTimeout: testTimeout, FailFast: failFast},
		Persistence:      coordinator.Config{FlushInterval: time.Hour},
		Logger:           logging.Discard(),
		Metrics:          metrics.NewPrometheusMetrics(),
	}
}

func statusCounts(t *testing.T, repo *db.Repository) map[string]int64 {
	t.Helper()
	counts, err := repo.StatusCounts(context.Background(), 100)
	require.NoError(t, err)
	out := make(map[string]int64, len(counts))
	for _, c := range counts {
		out[c.Name] = c.Sockets
	}
	return out
}

func TestRunPersistsAllOutcomes(t *testing.T) {
	repo := newTestRepository(t)
	sockets := seedSockets(t, repo, "play.example", 25565, 25566, 25567)

	ctrl := gomock.NewController(t)
	prober := mocks.NewMockProber(ctrl)
	prober.EXPECT().Probe(gomock.Any(), "play.example", gomock.Any(), testTimeout).
		DoAndReturn(func(_ context.Context, _ string, port int, _ time.Duration) probe.Outcome {
			switch port {
			case 25565:
				return probe.Success(probe.ServerInfo{Version: "1.21", Description: "hub", MaxPlayers: 50})
			case 25566:
				return probe.ExpectedFailure(probe.ClassTimeout, "timed out", nil)
			default:
				return probe.ExpectedFailure(probe.ClassConnectionRefused, "connection refused", nil)
			}
		}).Times(3)

	summary, err := Run(context.Background(), repo, prober, sockets, testOptions(3, true))
	require.NoError(t, err)

	assert.NotEmpty(t, summary.ScanID)
	assert.Equal(t, 3, summary.Sockets)
	assert.Equal(t, 1, summary.Found)
	assert.Equal(t, 1, summary.Stored.Servers)
	assert.Equal(t, 3, summary.Stored.SocketsUpdated)
	assert.Equal(t, 2, summary.Stored.Statuses)

	stats, err := repo.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.PendingSockets)
	assert.Equal(t, int64(1), stats.Servers)

	byStatus := statusCounts(t, repo)
	assert.Equal(t, int64(1), byStatus[db.SuccessStatusName])
	assert.Equal(t, int64(1), byStatus["Timeout timed out"])
	assert.Equal(t, int64(1), byStatus["ConnectionRefused connection refused"])

	servers, err := repo.ListServers(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, "play.example:25565", servers[0].Address())
	assert.Equal(t, "hub", servers[0].Description)
}

func TestRunFailFastStillFlushes(t *testing.T) {
	repo := newTestRepository(t)
	sockets := seedSockets(t, repo, "ff.example", 1, 2, 3)

	ctrl := gomock.NewController(t)
	prober := mocks.NewMockProber(ctrl)
	gomock.InOrder(
		prober.EXPECT().Probe(gomock.Any(), "ff.example", 1, testTimeout).
			Return(probe.Success(probe.ServerInfo{Version: "1.8"})),
		prober.EXPECT().Probe(gomock.Any(), "ff.example", 2, testTimeout).
			Return(probe.UnexpectedFailure(errors.New("decoder panic"))),
	)

	summary, err := Run(context.Background(), repo, prober, sockets, testOptions(1, true))
	require.Error(t, err)
	assert.True(t, mcerrors.IsCode(err, mcerrors.CodeProbeUnexpected))
	assert.Equal(t, 1, summary.Stored.Servers)

	stats, err := repo.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Servers)
	assert.Equal(t, int64(2), stats.PendingSockets)
}

func TestRunSkipsUnexpectedWithoutFailFast(t *testing.T) {
	repo := newTestRepository(t)
	sockets := seedSockets(t, repo, "skip.example", 1, 2)

	ctrl := gomock.NewController(t)
	prober := mocks.NewMockProber(ctrl)
	prober.EXPECT().Probe(gomock.Any(), "skip.example", 1, testTimeout).
		Return(probe.UnexpectedFailure(errors.New("boom")))
	prober.EXPECT().Probe(gomock.Any(), "skip.example", 2, testTimeout).
		Return(probe.ExpectedFailure(probe.ClassTimeout, "timed out", nil))

	_, err := Run(context.Background(), repo, prober, sockets, testOptions(2, false))
	require.NoError(t, err)

	stats, err := repo.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.PendingSockets)
	assert.Equal(t, int64(0), stats.Servers)
}

func TestRunUnsavedSockets(t *testing.T) {
	repo := newTestRepository(t)

	host := &db.Host{Name: "oneoff.example"}
	sockets := []*db.Socket{db.NewSocket(host, 1), db.NewSocket(host, 2)}

	ctrl := gomock.NewController(t)
	prober := mocks.NewMockProber(ctrl)
	prober.EXPECT().Probe(gomock.Any(), "oneoff.example", 1, testTimeout).
		Return(probe.ExpectedFailure(probe.ClassTimeout, "timed out", nil))
	prober.EXPECT().Probe(gomock.Any(), "oneoff.example", 2, testTimeout).
		Return(probe.Success(probe.ServerInfo{Version: "1.20"}))

	summary, err := Run(context.Background(), repo, prober, sockets, testOptions(2, true))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Stored.Hosts)
	assert.Equal(t, 2, summary.Stored.Sockets)
	assert.Equal(t, 1, summary.Stored.Servers)
}

func TestRunNoSockets(t *testing.T) {
	repo := newTestRepository(t)
	ctrl := gomock.NewController(t)

	summary, err := Run(context.Background(), repo, mocks.NewMockProber(ctrl), nil, testOptions(4, true))
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Sockets)
	assert.Equal(t, 0, summary.Found)
}

func TestRescanSelections(t *testing.T) {
	repo := newTestRepository(t)
	seedSockets(t, repo, "re.example", 1, 2)

	ctrl := gomock.NewController(t)
	prober := mocks.NewMockProber(ctrl)
	prober.EXPECT().Probe(gomock.Any(), "re.example", 1, testTimeout).
		Return(probe.Success(probe.ServerInfo{Version: "1.21"})).Times(2)
	prober.EXPECT().Probe(gomock.Any(), "re.example", 2, testTimeout).
		Return(probe.ExpectedFailure(probe.ClassTimeout, "timed out", nil)).Times(2)

	ctx := context.Background()

	summary, err := Rescan(ctx, repo, prober, db.SelectPending, testOptions(2, true))
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Sockets)

	// Nothing is pending any more.
	summary, err = Rescan(ctx, repo, prober, db.SelectPending, testOptions(2, true))
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Sockets)

	summary, err = Rescan(ctx, repo, prober, db.SelectFailed, testOptions(2, true))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sockets)

	summary, err = Rescan(ctx, repo, prober, db.SelectAll, testOptions(2, true))
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Sockets)
	assert.Zero(t, summary.Stored.Servers, "server already stored")
}
