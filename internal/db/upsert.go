package db

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/anstrom/mcscan/internal/errors"
)

// Writer applies dedup-upserts inside one transaction. It is handed out by
// Repository.WithWriter and must not be retained after the callback returns.
//
// Every id or foreign key the writer assigns to an in-memory entity is
// recorded so it can be reverted when the transaction rolls back; entities
// never keep an id for a row that was not committed.
type Writer struct {
	tx      *sqlx.Tx
	dialect Dialect
	counts  Counts
	undo    []func()
}

// Counts returns the rows created or updated so far in this transaction.
func (w *Writer) Counts() Counts {
	return w.counts
}

func (w *Writer) assign(field *int64, id int64) {
	prev := *field
	if prev == id {
		return
	}
	*field = id
	w.undo = append(w.undo, func() { *field = prev })
}

func (w *Writer) assignStatus(s *Socket, id int64) {
	if s.StatusID != nil && *s.StatusID == id {
		return
	}
	prev := s.StatusID
	s.StatusID = &id
	w.undo = append(w.undo, func() { s.StatusID = prev })
}

func (w *Writer) revert() {
	for i := len(w.undo) - 1; i >= 0; i-- {
		w.undo[i]()
	}
	w.undo = nil
}

// dedupTable describes how one entity type is looked up and inserted by its
// natural key.
type dedupTable[E any, K comparable] struct {
	table     string
	columns   []string
	returning string
	// lookupParams is the number of bind parameters each key costs in lookup.
	lookupParams int

	key    func(E) K
	values func(E) []any
	id     func(E) *int64
	lookup func(keys []K) (string, []any, error)
	scan   func(rows *sqlx.Rows) (int64, K, error)
}

func (t *dedupTable[E, K]) chunkSize(d Dialect) int {
	perRow := max(len(t.columns), t.lookupParams, 1)
	return max(d.MaxParams()/perRow, 1)
}

// upsertAll resolves every unpersisted entity in items against the store,
// inserting the missing ones. Entities sharing a natural key all receive the
// id of the first occurrence. It returns the number of rows inserted.
func upsertAll[E any, K comparable](ctx context.Context, w *Writer, t *dedupTable[E, K], items []E) (int, error) {
	pending := make([]E, 0, len(items))
	for _, item := range items {
		if *t.id(item) == 0 {
			pending = append(pending, item)
		}
	}

	created := 0
	size := t.chunkSize(w.dialect)
	for start := 0; start < len(pending); start += size {
		end := min(start+size, len(pending))
		n, err := upsertChunk(ctx, w, t, pending[start:end])
		created += n
		if err != nil {
			return created, err
		}
	}
	return created, nil
}

func upsertChunk[E any, K comparable](ctx context.Context, w *Writer, t *dedupTable[E, K], chunk []E) (int, error) {
	keys := make([]K, 0, len(chunk))
	seen := make(map[K]struct{}, len(chunk))
	for _, item := range chunk {
		k := t.key(item)
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}

	existing, err := lookupExisting(ctx, w, t, keys)
	if err != nil {
		return 0, err
	}

	// First occurrence of each missing key is inserted; the rest wait for its id.
	waiting := make(map[K][]E)
	toInsert := make([]E, 0, len(keys))
	for _, item := range chunk {
		k := t.key(item)
		if id, ok := existing[k]; ok {
			w.assign(t.id(item), id)
			continue
		}
		if _, claimed := waiting[k]; !claimed {
			toInsert = append(toInsert, item)
		}
		waiting[k] = append(waiting[k], item)
	}

	if len(toInsert) == 0 {
		return 0, nil
	}

	args := make([]any, 0, len(toInsert)*len(t.columns))
	for _, item := range toInsert {
		args = append(args, t.values(item)...)
	}

	query := w.tx.Rebind(buildInsert(t.table, t.columns, len(toInsert), t.returning))
	rows, err := w.tx.QueryxContext(ctx, query, args...)
	if err != nil {
		return 0, sanitizeDBError("insert "+t.table, err)
	}
	defer func() { _ = rows.Close() }()

	inserted := 0
	for rows.Next() {
		id, k, err := t.scan(rows)
		if err != nil {
			return inserted, sanitizeDBError("scan inserted "+t.table, err)
		}
		for _, item := range waiting[k] {
			w.assign(t.id(item), id)
		}
		inserted++
	}
	if err := rows.Err(); err != nil {
		return inserted, sanitizeDBError("insert "+t.table, err)
	}

	if inserted != len(toInsert) {
		return inserted, errors.NewDatabaseError(errors.CodeDatabaseQuery,
			fmt.Sprintf("insert into %s returned %d ids for %d rows", t.table, inserted, len(toInsert)))
	}
	return inserted, nil
}

func lookupExisting[E any, K comparable](ctx context.Context, w *Writer, t *dedupTable[E, K], keys []K) (map[K]int64, error) {
	query, args, err := t.lookup(keys)
	if err != nil {
		return nil, sanitizeDBError("build "+t.table+" lookup", err)
	}

	rows, err := w.tx.QueryxContext(ctx, w.tx.Rebind(query), args...)
	if err != nil {
		return nil, sanitizeDBError("lookup "+t.table, err)
	}
	defer func() { _ = rows.Close() }()

	existing := make(map[K]int64, len(keys))
	for rows.Next() {
		id, k, err := t.scan(rows)
		if err != nil {
			return nil, sanitizeDBError("scan "+t.table, err)
		}
		existing[k] = id
	}
	if err := rows.Err(); err != nil {
		return nil, sanitizeDBError("lookup "+t.table, err)
	}
	return existing, nil
}

func buildInsert(table string, columns []string, rows int, returning string) string {
	placeholders := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", table, strings.Join(columns, ", "))
	for i := 0; i < rows; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
	}
	b.WriteString(" RETURNING ")
	b.WriteString(returning)
	return b.String()
}

type socketKey struct {
	hostID int64
	port   int
}

var hostTable = &dedupTable[*Host, string]{
	table:        "hosts",
	columns:      []string{"name"},
	returning:    "id, name",
	lookupParams: 1,
	key:          func(h *Host) string { return h.Name },
	values:       func(h *Host) []any { return []any{h.Name} },
	id:           func(h *Host) *int64 { return &h.ID },
	lookup: func(keys []string) (string, []any, error) {
		return sqlx.In(`SELECT id, name FROM hosts WHERE name IN (?)`, keys)
	},
	scan: func(rows *sqlx.Rows) (id int64, name string, err error) {
		err = rows.Scan(&id, &name)
		return id, name, err
	},
}

var statusTable = &dedupTable[*Status, string]{
	table:        "statuses",
	columns:      []string{"name", "details"},
	returning:    "id, name",
	lookupParams: 1,
	key:          func(s *Status) string { return s.Name },
	values:       func(s *Status) []any { return []any{s.Name, s.Details} },
	id:           func(s *Status) *int64 { return &s.ID },
	lookup: func(keys []string) (string, []any, error) {
		return sqlx.In(`SELECT id, name FROM statuses WHERE name IN (?)`, keys)
	},
	scan: func(rows *sqlx.Rows) (id int64, name string, err error) {
		err = rows.Scan(&id, &name)
		return id, name, err
	},
}

var socketTable = &dedupTable[*Socket, socketKey]{
	table:        "sockets",
	columns:      []string{"host_id", "port", "status_id"},
	returning:    "id, host_id, port",
	lookupParams: 2,
	key:          func(s *Socket) socketKey { return socketKey{hostID: s.HostID, port: s.Port} },
	values:       func(s *Socket) []any { return []any{s.HostID, s.Port, s.StatusID} },
	id:           func(s *Socket) *int64 { return &s.ID },
	lookup: func(keys []socketKey) (string, []any, error) {
		// Matches the cross product of hosts and ports; extra rows are ignored
		// by the caller's key map.
		hostIDs := make([]int64, 0, len(keys))
		ports := make([]int, 0, len(keys))
		seenHost := make(map[int64]struct{})
		seenPort := make(map[int]struct{})
		for _, k := range keys {
			if _, ok := seenHost[k.hostID]; !ok {
				seenHost[k.hostID] = struct{}{}
				hostIDs = append(hostIDs, k.hostID)
			}
			if _, ok := seenPort[k.port]; !ok {
				seenPort[k.port] = struct{}{}
				ports = append(ports, k.port)
			}
		}
		return sqlx.In(`SELECT id, host_id, port FROM sockets WHERE host_id IN (?) AND port IN (?)`, hostIDs, ports)
	},
	scan: func(rows *sqlx.Rows) (int64, socketKey, error) {
		var id int64
		var k socketKey
		err := rows.Scan(&id, &k.hostID, &k.port)
		return id, k, err
	},
}

var serverTable = &dedupTable[*Server, int64]{
	table:        "servers",
	columns:      []string{"socket_id", "version", "description", "max_players"},
	returning:    "id, socket_id",
	lookupParams: 1,
	key:          func(s *Server) int64 { return s.SocketID },
	values: func(s *Server) []any {
		return []any{s.SocketID, s.Version, s.Description, s.MaxPlayers}
	},
	id: func(s *Server) *int64 { return &s.ID },
	lookup: func(keys []int64) (string, []any, error) {
		return sqlx.In(`SELECT id, socket_id FROM servers WHERE socket_id IN (?)`, keys)
	},
	scan: func(rows *sqlx.Rows) (id, socketID int64, err error) {
		err = rows.Scan(&id, &socketID)
		return id, socketID, err
	},
}

// UpsertHosts resolves hosts by name, inserting the ones not yet stored.
func (w *Writer) UpsertHosts(ctx context.Context, hosts []*Host) error {
	n, err := upsertAll(ctx, w, hostTable, compact(hosts))
	w.counts.Hosts += n
	return err
}

// UpsertStatuses resolves statuses by name, inserting the ones not yet stored.
func (w *Writer) UpsertStatuses(ctx context.Context, statuses []*Status) error {
	n, err := upsertAll(ctx, w, statusTable, compact(statuses))
	w.counts.Statuses += n
	return err
}

// UpsertSockets resolves sockets by (host, port), resolving their hosts and
// statuses first. A socket inserted here carries its attached status; an
// existing socket keeps the status it has in the store.
func (w *Writer) UpsertSockets(ctx context.Context, sockets []*Socket) error {
	sockets = compact(sockets)

	var hosts []*Host
	var statuses []*Status
	for _, s := range sockets {
		if s.ID != 0 {
			continue
		}
		if s.Host != nil && s.Host.ID == 0 {
			hosts = append(hosts, s.Host)
		}
		if s.Status != nil && s.Status.ID == 0 {
			statuses = append(statuses, s.Status)
		}
	}

	if err := w.UpsertHosts(ctx, hosts); err != nil {
		return err
	}
	if err := w.UpsertStatuses(ctx, statuses); err != nil {
		return err
	}

	for _, s := range sockets {
		if s.ID != 0 {
			continue
		}
		if s.Host != nil {
			w.assign(&s.HostID, s.Host.ID)
		}
		if s.HostID == 0 {
			return errors.NewDatabaseError(errors.CodeValidation,
				fmt.Sprintf("socket %s has no host", s.Address()))
		}
		if s.Status != nil {
			w.assignStatus(s, s.Status.ID)
		}
	}

	n, err := upsertAll(ctx, w, socketTable, sockets)
	w.counts.Sockets += n
	return err
}

// UpsertServers resolves servers by socket, resolving their sockets first.
// Existing servers keep their stored metadata.
func (w *Writer) UpsertServers(ctx context.Context, servers []*Server) error {
	servers = compact(servers)

	var sockets []*Socket
	for _, s := range servers {
		if s.ID == 0 && s.Socket != nil && s.Socket.ID == 0 {
			sockets = append(sockets, s.Socket)
		}
	}
	if err := w.UpsertSockets(ctx, sockets); err != nil {
		return err
	}

	for _, s := range servers {
		if s.ID != 0 {
			continue
		}
		if s.Socket != nil {
			w.assign(&s.SocketID, s.Socket.ID)
		}
		if s.SocketID == 0 {
			return errors.NewDatabaseError(errors.CodeValidation, "server has no socket")
		}
	}

	n, err := upsertAll(ctx, w, serverTable, servers)
	w.counts.Servers += n
	return err
}

// UpdateSocketStatuses writes the attached status of every socket. Statuses
// and sockets that are not stored yet are upserted first. When a socket
// appears more than once the last status wins.
func (w *Writer) UpdateSocketStatuses(ctx context.Context, sockets []*Socket) error {
	sockets = compact(sockets)

	var statuses []*Status
	var unsaved []*Socket
	for _, s := range sockets {
		if s.Status != nil && s.Status.ID == 0 {
			statuses = append(statuses, s.Status)
		}
		if s.ID == 0 {
			unsaved = append(unsaved, s)
		}
	}
	if err := w.UpsertStatuses(ctx, statuses); err != nil {
		return err
	}
	for _, s := range sockets {
		if s.Status != nil {
			w.assignStatus(s, s.Status.ID)
		}
	}
	if err := w.UpsertSockets(ctx, unsaved); err != nil {
		return err
	}

	latest := make(map[int64]int64, len(sockets))
	for _, s := range sockets {
		if s.StatusID != nil && s.ID != 0 {
			latest[s.ID] = *s.StatusID
		}
	}

	byStatus := make(map[int64][]int64)
	for socketID, statusID := range latest {
		byStatus[statusID] = append(byStatus[statusID], socketID)
	}

	statusIDs := make([]int64, 0, len(byStatus))
	for id := range byStatus {
		statusIDs = append(statusIDs, id)
	}
	sort.Slice(statusIDs, func(i, j int) bool { return statusIDs[i] < statusIDs[j] })

	size := max(w.dialect.MaxParams()-1, 1)
	for _, statusID := range statusIDs {
		ids := byStatus[statusID]
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		for start := 0; start < len(ids); start += size {
			chunk := ids[start:min(start+size, len(ids))]
			query, args, err := sqlx.In(`UPDATE sockets SET status_id = ? WHERE id IN (?)`, statusID, chunk)
			if err != nil {
				return sanitizeDBError("build socket status update", err)
			}
			result, err := w.tx.ExecContext(ctx, w.tx.Rebind(query), args...)
			if err != nil {
				return sanitizeDBError("update socket statuses", err)
			}
			if affected, err := result.RowsAffected(); err == nil {
				w.counts.SocketsUpdated += int(affected)
			}
		}
	}
	return nil
}

func compact[T any](items []*T) []*T {
	out := items[:0:0]
	for _, item := range items {
		if item != nil {
			out = append(out, item)
		}
	}
	return out
}
