package db

import (
	"context"
	"sync"

	"github.com/anstrom/mcscan/internal/errors"
)

// Repository provides database operations. All writes go through a single
// writer at a time; reads may run concurrently.
type Repository struct {
	db      *DB
	writeMu sync.Mutex
}

// NewRepository creates a new repository instance.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// DB returns the underlying connection.
func (r *Repository) DB() *DB {
	return r.db
}

// WithWriter runs fn inside a write transaction while holding the
// repository's write lock. The transaction commits when fn returns nil and
// rolls back otherwise; on rollback every id assigned to in-memory entities
// during fn is reverted. It returns the rows created and updated.
func (r *Repository) WithWriter(ctx context.Context, fn func(w *Writer) error) (Counts, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return Counts{}, sanitizeDBError("begin write transaction", err)
	}

	w := &Writer{tx: tx, dialect: r.db.dialect}
	if err := fn(w); err != nil {
		_ = tx.Rollback()
		w.revert()
		return Counts{}, err
	}

	if err := tx.Commit(); err != nil {
		w.revert()
		return Counts{}, sanitizeDBError("commit write transaction", err)
	}
	return w.counts, nil
}

type socketRow struct {
	ID       int64  `db:"id"`
	HostID   int64  `db:"host_id"`
	Port     int    `db:"port"`
	StatusID *int64 `db:"status_id"`
	HostName string `db:"host_name"`
}

// SelectSockets returns the stored sockets matching the selection, with their
// hosts attached. Sockets on the same host share one Host value.
func (r *Repository) SelectSockets(ctx context.Context, selection Selection) ([]*Socket, error) {
	query := `
		SELECT s.id, s.host_id, s.port, s.status_id, h.name AS host_name
		FROM sockets s
		JOIN hosts h ON h.id = s.host_id`
	var args []any

	switch selection {
	case SelectPending, "":
		query += ` WHERE s.status_id IS NULL`
	case SelectFailed:
		query += `
		JOIN statuses st ON st.id = s.status_id
		WHERE st.name <> ?`
		args = append(args, SuccessStatusName)
	case SelectAll:
	default:
		return nil, errors.ErrConfigInvalid("select", string(selection))
	}
	query += ` ORDER BY s.id`

	var rows []socketRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, sanitizeDBError("select sockets", err)
	}

	hosts := make(map[int64]*Host)
	sockets := make([]*Socket, 0, len(rows))
	for _, row := range rows {
		host, ok := hosts[row.HostID]
		if !ok {
			host = &Host{ID: row.HostID, Name: row.HostName}
			hosts[row.HostID] = host
		}
		sockets = append(sockets, &Socket{
			ID:       row.ID,
			HostID:   row.HostID,
			Port:     row.Port,
			StatusID: row.StatusID,
			Host:     host,
		})
	}
	return sockets, nil
}

// ListServers returns servers joined with their sockets, newest first.
func (r *Repository) ListServers(ctx context.Context, limit, offset int) ([]ServerView, error) {
	query := r.db.Rebind(`
		SELECT sv.id, h.name AS host, s.port, sv.version, sv.description, sv.max_players
		FROM servers sv
		JOIN sockets s ON s.id = sv.socket_id
		JOIN hosts h ON h.id = s.host_id
		ORDER BY sv.id DESC
		LIMIT ? OFFSET ?`)

	servers := []ServerView{}
	if err := r.db.SelectContext(ctx, &servers, query, limit, offset); err != nil {
		return nil, sanitizeDBError("list servers", err)
	}
	return servers, nil
}

// CountServers returns the number of stored servers.
func (r *Repository) CountServers(ctx context.Context) (int64, error) {
	var total int64
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM servers`); err != nil {
		return 0, sanitizeDBError("count servers", err)
	}
	return total, nil
}

// Stats returns row counts for every table.
func (r *Repository) Stats(ctx context.Context) (Stats, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM hosts) AS hosts,
			(SELECT COUNT(*) FROM statuses) AS statuses,
			(SELECT COUNT(*) FROM sockets) AS sockets,
			(SELECT COUNT(*) FROM sockets WHERE status_id IS NULL) AS pending_sockets,
			(SELECT COUNT(*) FROM servers) AS servers`

	var stats Stats
	if err := r.db.GetContext(ctx, &stats, query); err != nil {
		return Stats{}, sanitizeDBError("get stats", err)
	}
	return stats, nil
}

// StatusCounts returns how many sockets carry each status, most common first.
func (r *Repository) StatusCounts(ctx context.Context, limit int) ([]StatusCount, error) {
	query := r.db.Rebind(`
		SELECT st.name, COUNT(s.id) AS sockets
		FROM statuses st
		JOIN sockets s ON s.status_id = st.id
		GROUP BY st.name
		ORDER BY sockets DESC, st.name
		LIMIT ?`)

	counts := []StatusCount{}
	if err := r.db.SelectContext(ctx, &counts, query, limit); err != nil {
		return nil, sanitizeDBError("count statuses", err)
	}
	return counts, nil
}

// SuccessStatus returns the seeded status attached to live servers.
func (r *Repository) SuccessStatus(ctx context.Context) (*Status, error) {
	var status Status
	query := r.db.Rebind(`SELECT id, name, details FROM statuses WHERE name = ?`)
	if err := r.db.GetContext(ctx, &status, query, SuccessStatusName); err != nil {
		return nil, sanitizeDBError("get success status", err)
	}
	return &status, nil
}

// Ping tests the database connection.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}
