package db

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/mcscan/internal/errors"
)

func newMockRepository(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	db, err := Wrap(sqlx.NewDb(mockDB, "postgres"))
	require.NoError(t, err)
	require.Equal(t, DialectPostgres, db.Dialect())

	return NewRepository(db), mock
}

func TestUpsertHostsPostgresQueries(t *testing.T) {
	repo, mock := newMockRepository(t)
	ctx := context.Background()

	existing := &Host{Name: "a.com"}
	missing := &Host{Name: "b.com"}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, name FROM hosts WHERE name IN ($1, $2)`)).
		WithArgs("a.com", "b.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(7, "a.com"))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO hosts (name) VALUES ($1) RETURNING id, name`)).
		WithArgs("b.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(8, "b.com"))
	mock.ExpectCommit()

	counts, err := repo.WithWriter(ctx, func(w *Writer) error {
		return w.UpsertHosts(ctx, []*Host{existing, missing})
	})
	require.NoError(t, err)

	assert.Equal(t, 1, counts.Hosts)
	assert.Equal(t, int64(7), existing.ID)
	assert.Equal(t, int64(8), missing.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertConflictRollsBack(t *testing.T) {
	repo, mock := newMockRepository(t)
	ctx := context.Background()

	first := &Host{Name: "a.com"}
	second := &Host{Name: "b.com"}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, name FROM hosts WHERE name IN ($1, $2)`)).
		WithArgs("a.com", "b.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(3, "a.com"))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO hosts (name) VALUES ($1) RETURNING id, name`)).
		WithArgs("b.com").
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	_, err := repo.WithWriter(ctx, func(w *Writer) error {
		return w.UpsertHosts(ctx, []*Host{first, second})
	})
	require.Error(t, err)

	assert.Equal(t, errors.CodeConflict, errors.GetCode(err))
	assert.True(t, errors.IsRetryable(err))
	assert.Zero(t, first.ID, "ids resolved inside a rolled back transaction are reverted")
	assert.Zero(t, second.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSocketStatusesPostgresQueries(t *testing.T) {
	repo, mock := newMockRepository(t)
	ctx := context.Background()

	status := &Status{ID: 4, Name: "Timeout i/o timeout"}
	sockets := []*Socket{
		{ID: 11, HostID: 1, Port: 25565, Status: status},
		{ID: 10, HostID: 1, Port: 25566, Status: status},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE sockets SET status_id = $1 WHERE id IN ($2, $3)`)).
		WithArgs(int64(4), int64(10), int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	counts, err := repo.WithWriter(ctx, func(w *Writer) error {
		return w.UpdateSocketStatuses(ctx, sockets)
	})
	require.NoError(t, err)

	assert.Equal(t, 2, counts.SocketsUpdated)
	assert.Zero(t, counts.Statuses)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSocketsPostgresLookup(t *testing.T) {
	repo, mock := newMockRepository(t)
	ctx := context.Background()

	host := &Host{ID: 5, Name: "mc.example.net"}
	known := NewSocket(host, 25565)
	unknown := NewSocket(host, 25566)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, host_id, port FROM sockets WHERE host_id IN ($1) AND port IN ($2, $3)`)).
		WithArgs(int64(5), 25565, 25566).
		WillReturnRows(sqlmock.NewRows([]string{"id", "host_id", "port"}).AddRow(20, 5, 25565))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO sockets (host_id, port, status_id) VALUES ($1, $2, $3) RETURNING id, host_id, port`)).
		WithArgs(int64(5), 25566, nil).
		WillReturnRows(sqlmock.NewRows([]string{"id", "host_id", "port"}).AddRow(21, 5, 25566))
	mock.ExpectCommit()

	counts, err := repo.WithWriter(ctx, func(w *Writer) error {
		return w.UpsertSockets(ctx, []*Socket{known, unknown})
	})
	require.NoError(t, err)

	assert.Equal(t, 1, counts.Sockets)
	assert.Equal(t, int64(20), known.ID)
	assert.Equal(t, int64(21), unknown.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
