// Package seed builds sockets and servers from seed files, address ranges and
// presets, and loads them into the store through the persistence coordinator.
package seed

import (
	"bufio"
	"encoding/json"
	"io"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"github.com/anstrom/mcscan/internal/db"
	"github.com/anstrom/mcscan/internal/errors"
	"github.com/anstrom/mcscan/internal/probe"
)

// Accepted file extensions.
const (
	LinesExt   = ".txt"
	RecordsExt = ".json"
)

// Parsed holds what a seed source produced.
type Parsed struct {
	Sockets []*db.Socket
	Servers []*db.Server
	// Skipped counts malformed or rejected entries.
	Skipped int
}

// hostCache hands out one Host per name so sockets on the same host share it.
type hostCache map[string]*db.Host

func (c hostCache) get(name string) *db.Host {
	h, ok := c[name]
	if !ok {
		h = &db.Host{Name: name}
		c[name] = h
	}
	return h
}

// maxLineLength bounds one line of a seed file. Longer lines are skipped.
const maxLineLength = 4096

// splitSocket parses "host:port". IPv6 hosts must be bracketed. The host must
// be an IP address or a valid DNS name.
func splitSocket(s string) (string, int, bool) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(s))
	if err != nil || host == "" {
		return "", 0, false
	}
	if _, err := netip.ParseAddr(host); err != nil && !isHostName(host) {
		return "", 0, false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, false
	}
	return host, port, true
}

// ParseLines reads whitespace separated "host:port" entries. Duplicates are
// collapsed. Malformed entries and over-long lines are skipped and counted.
func ParseLines(r io.Reader) (*Parsed, error) {
	br := bufio.NewReaderSize(r, maxLineLength)

	hosts := make(hostCache)
	seen := make(map[string]struct{})
	parsed := &Parsed{}

	add := func(entry string) {
		host, port, ok := splitSocket(entry)
		if !ok {
			parsed.Skipped++
			return
		}
		key := net.JoinHostPort(host, strconv.Itoa(port))
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		parsed.Sockets = append(parsed.Sockets, db.NewSocket(hosts.get(host), port))
	}

	for {
		line, isPrefix, err := br.ReadLine()
		if isPrefix {
			parsed.Skipped++
			for isPrefix && err == nil {
				_, isPrefix, err = br.ReadLine()
			}
		} else {
			for _, entry := range strings.Fields(string(line)) {
				add(entry)
			}
		}

		if err == io.EOF {
			return parsed, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// allowedRecordKeys are the only fields a structured seed record may carry.
var allowedRecordKeys = map[string]bool{
	"connect":     true,
	"connection":  true,
	"version":     true,
	"description": true,
	"max_players": true,
}

// ParseRecords reads a JSON array of server records. A record is skipped when
// it has an unrecognised field, no usable connect/connection address, or a
// field of the wrong type. Every server's socket carries success.
func ParseRecords(r io.Reader, success *db.Status) (*Parsed, error) {
	dec := json.NewDecoder(r)
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return nil, errors.NewInputError(errors.CodeFileFormat, "expected a JSON array of server records", "")
	}

	hosts := make(hostCache)
	sockets := make(map[string]*db.Socket)
	parsed := &Parsed{}

	for dec.More() {
		var record map[string]json.RawMessage
		if err := dec.Decode(&record); err != nil {
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &typeErr) {
				parsed.Skipped++
				continue
			}
			return nil, err
		}

		server, ok := parseRecord(record)
		if !ok {
			parsed.Skipped++
			continue
		}

		host, port, _ := splitSocket(server.connect)
		key := net.JoinHostPort(host, strconv.Itoa(port))
		socket, dup := sockets[key]
		if !dup {
			socket = db.NewSocket(hosts.get(host), port)
			socket.Status = success
			sockets[key] = socket
			parsed.Sockets = append(parsed.Sockets, socket)
		}
		parsed.Servers = append(parsed.Servers, &db.Server{
			Socket:      socket,
			Version:     probe.CleanText(server.version),
			Description: probe.CleanText(server.description),
			MaxPlayers:  server.maxPlayers,
		})
	}

	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return parsed, nil
}

type serverRecord struct {
	connect     string
	version     string
	description string
	maxPlayers  int
}

func parseRecord(record map[string]json.RawMessage) (serverRecord, bool) {
	var out serverRecord
	for key := range record {
		if !allowedRecordKeys[key] {
			return out, false
		}
	}

	raw, ok := record["connect"]
	if !ok {
		raw, ok = record["connection"]
	}
	if !ok || json.Unmarshal(raw, &out.connect) != nil {
		return out, false
	}
	if _, _, ok := splitSocket(out.connect); !ok {
		return out, false
	}

	if raw, ok := record["version"]; ok && json.Unmarshal(raw, &out.version) != nil {
		return out, false
	}
	if raw, ok := record["description"]; ok && json.Unmarshal(raw, &out.description) != nil {
		return out, false
	}
	if raw, ok := record["max_players"]; ok {
		n, ok := parseCount(raw)
		if !ok {
			return out, false
		}
		out.maxPlayers = n
	}
	return out, true
}

// parseCount accepts a JSON number or a numeric string.
func parseCount(raw json.RawMessage) (int, bool) {
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	return n, err == nil
}
