package seed

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/anstrom/mcscan/internal/db"
	"github.com/anstrom/mcscan/internal/errors"
	"github.com/anstrom/mcscan/internal/logging"
)

// DefaultChunkSize is how many entities are flushed per transaction; progress
// is reported after each chunk.
const DefaultChunkSize = 50_000

// Flusher accepts entities and writes them on Flush.
type Flusher interface {
	SubmitSocket(socket *db.Socket)
	SubmitServer(server *db.Server)
	Flush(ctx context.Context) error
	Totals() db.Counts
}

// Result summarises one load.
type Result struct {
	Parsed  int       `json:"parsed"`
	Skipped int       `json:"skipped"`
	Stored  db.Counts `json:"stored"`
}

// Loader writes seed entities through a coordinator in chunks.
type Loader struct {
	flusher   Flusher
	logger    *logging.Logger
	chunkSize int
}

// NewLoader creates a loader. A nil logger uses the default logger.
func NewLoader(flusher Flusher, logger *logging.Logger) *Loader {
	if logger == nil {
		logger = logging.Default()
	}
	return &Loader{
		flusher:   flusher,
		logger:    logger.WithComponent("seed"),
		chunkSize: DefaultChunkSize,
	}
}

// LoadSockets stores sockets, deduplicating against the store.
func (l *Loader) LoadSockets(ctx context.Context, sockets []*db.Socket) (db.Counts, error) {
	return l.load(ctx, "sockets", len(sockets), func(i int) { l.flusher.SubmitSocket(sockets[i]) })
}

// LoadServers stores servers along with their sockets and hosts.
func (l *Loader) LoadServers(ctx context.Context, servers []*db.Server) (db.Counts, error) {
	return l.load(ctx, "servers", len(servers), func(i int) { l.flusher.SubmitServer(servers[i]) })
}

func (l *Loader) load(ctx context.Context, kind string, total int, submit func(i int)) (db.Counts, error) {
	before := l.flusher.Totals()

	for start := 0; start < total; start += l.chunkSize {
		end := min(start+l.chunkSize, total)
		for i := start; i < end; i++ {
			submit(i)
		}
		if err := l.flusher.Flush(ctx); err != nil {
			return diff(l.flusher.Totals(), before), err
		}
		if total > l.chunkSize {
			l.logger.Info(fmt.Sprintf("Loaded %s of %s %s", humanize.Comma(int64(end)), humanize.Comma(int64(total)), kind))
		}
	}

	stored := diff(l.flusher.Totals(), before)
	l.logger.Info("Seed load complete",
		"kind", kind,
		"entries", total,
		"hosts_added", stored.Hosts,
		"sockets_added", stored.Sockets,
		"servers_added", stored.Servers,
		"dropped", stored.Dropped)
	return stored, nil
}

func diff(after, before db.Counts) db.Counts {
	return db.Counts{
		Hosts:          after.Hosts - before.Hosts,
		Statuses:       after.Statuses - before.Statuses,
		Sockets:        after.Sockets - before.Sockets,
		Servers:        after.Servers - before.Servers,
		SocketsUpdated: after.SocketsUpdated - before.SocketsUpdated,
		Dropped:        after.Dropped - before.Dropped,
	}
}

// openSeed opens path after checking its extension.
func openSeed(path, ext string) (*os.File, error) {
	if !strings.EqualFold(filepath.Ext(path), ext) {
		return nil, errors.NewInputError(errors.CodeFileFormat,
			fmt.Sprintf("expected a %s file", ext), path)
	}
	// #nosec G304 - seed path comes from the command line
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewInputError(errors.CodeFileNotFound, "seed file not found", path)
		}
		return nil, err
	}
	return f, nil
}

// LoadLinesFile loads "host:port" entries from a .txt file.
func (l *Loader) LoadLinesFile(ctx context.Context, path string) (*Result, error) {
	f, err := openSeed(path, LinesExt)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	l.logger.Info("Loading sockets", "path", path)
	parsed, err := ParseLines(f)
	if err != nil {
		return nil, wrapParseError(err, path)
	}
	if parsed.Skipped > 0 {
		l.logger.Warn("Skipped malformed entries", "path", path, "skipped", parsed.Skipped)
	}

	stored, err := l.LoadSockets(ctx, parsed.Sockets)
	return &Result{Parsed: len(parsed.Sockets), Skipped: parsed.Skipped, Stored: stored}, err
}

// LoadRecordsFile loads server records from a .json file. Every loaded
// socket gets the success status.
func (l *Loader) LoadRecordsFile(ctx context.Context, path string, success *db.Status) (*Result, error) {
	f, err := openSeed(path, RecordsExt)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	l.logger.Info("Loading servers", "path", path)
	parsed, err := ParseRecords(f, success)
	if err != nil {
		return nil, wrapParseError(err, path)
	}
	if parsed.Skipped > 0 {
		l.logger.Warn("Skipped records", "path", path, "skipped", parsed.Skipped)
	}

	stored, err := l.LoadServers(ctx, parsed.Servers)
	return &Result{Parsed: len(parsed.Servers), Skipped: parsed.Skipped, Stored: stored}, err
}

func wrapParseError(err error, path string) error {
	var inputErr *errors.InputError
	if errors.As(err, &inputErr) {
		inputErr.Path = path
		return inputErr
	}
	return &errors.InputError{
		Code:    errors.CodeMalformedSeed,
		Message: "failed to parse seed file",
		Path:    path,
		Cause:   err,
	}
}
