// Package output appends discovered servers to a dump file, one JSON object
// per line.
package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/anstrom/mcscan/internal/db"
	"github.com/anstrom/mcscan/internal/errors"
)

// Ext is the required extension of the dump file.
const Ext = ".txt"

const filePermissions = 0o600

// Record is the printable form of a stored server.
type Record struct {
	ID          int64  `json:"id"`
	Socket      string `json:"socket"`
	Version     string `json:"version"`
	Description string `json:"description"`
	MaxPlayers  int    `json:"max_players"`
}

// NewRecord builds the printable form of server.
func NewRecord(server *db.Server) Record {
	r := Record{
		ID:          server.ID,
		Version:     server.Version,
		Description: server.Description,
		MaxPlayers:  server.MaxPlayers,
	}
	if server.Socket != nil {
		r.Socket = server.Socket.Address()
	}
	return r
}

// FileSink appends servers to a file. It is safe for concurrent use.
type FileSink struct {
	path string
	mu   sync.Mutex
}

// ValidatePath checks that path names a .txt file in an existing directory.
func ValidatePath(path string) error {
	if !strings.EqualFold(filepath.Ext(path), Ext) {
		return errors.NewConfigFieldError(errors.CodeConfiguration,
			fmt.Sprintf("output path must end in %s", Ext), "persistence.output_path", path)
	}
	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return errors.NewConfigFieldError(errors.CodeConfiguration,
			"output directory does not exist", "persistence.output_path", dir)
	}
	return nil
}

// NewFileSink creates a sink appending to path.
func NewFileSink(path string) (*FileSink, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}
	return &FileSink{path: path}, nil
}

// Path returns the dump file path.
func (s *FileSink) Path() string {
	return s.path
}

// WriteServers appends one line per server. The file is opened for each
// batch so it can be rotated between flushes.
func (s *FileSink) WriteServers(servers []*db.Server) error {
	if len(servers) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// #nosec G304 - output path is validated configuration
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, filePermissions)
	if err != nil {
		return fmt.Errorf("failed to open output file: %w", err)
	}

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, server := range servers {
		if server == nil {
			continue
		}
		if err := enc.Encode(NewRecord(server)); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to encode server: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return f.Close()
}
