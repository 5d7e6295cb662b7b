package db

import (
	"net"
	"strconv"
	"strings"

	"github.com/anstrom/mcscan/internal/errors"
)

// SuccessStatusName is the status seeded at migration time and attached to
// every socket that answered the status query.
const SuccessStatusName = "Minecraft Server"

// Host represents a scanned host name or address.
type Host struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

// Status represents a scan outcome shared by many sockets.
type Status struct {
	ID      int64   `db:"id" json:"id"`
	Name    string  `db:"name" json:"name"`
	Details *string `db:"details" json:"details,omitempty"`
}

// IsSuccess reports whether the status marks a live server.
func (s *Status) IsSuccess() bool {
	return s != nil && s.Name == SuccessStatusName
}

// Socket represents a host and port pair. A nil StatusID means the socket
// has not been scanned yet.
type Socket struct {
	ID       int64  `db:"id" json:"id"`
	HostID   int64  `db:"host_id" json:"host_id"`
	Port     int    `db:"port" json:"port"`
	StatusID *int64 `db:"status_id" json:"status_id,omitempty"`

	Host   *Host   `db:"-" json:"-"`
	Status *Status `db:"-" json:"-"`
}

// NewSocket builds an unpersisted socket for host.
func NewSocket(host *Host, port int) *Socket {
	return &Socket{Host: host, Port: port}
}

// HostName returns the name of the socket's host, if known.
func (s *Socket) HostName() string {
	if s.Host == nil {
		return ""
	}
	return s.Host.Name
}

// Address returns the socket in host:port form.
func (s *Socket) Address() string {
	return net.JoinHostPort(s.HostName(), strconv.Itoa(s.Port))
}

// Server holds the metadata of a socket that answered the status query.
type Server struct {
	ID          int64  `db:"id" json:"id"`
	SocketID    int64  `db:"socket_id" json:"socket_id"`
	Version     string `db:"version" json:"version"`
	Description string `db:"description" json:"description"`
	MaxPlayers  int    `db:"max_players" json:"max_players"`

	Socket *Socket `db:"-" json:"-"`
}

// ServerView is a server joined with its socket and host for listing.
type ServerView struct {
	ID          int64  `db:"id" json:"id"`
	Host        string `db:"host" json:"host"`
	Port        int    `db:"port" json:"port"`
	Version     string `db:"version" json:"version"`
	Description string `db:"description" json:"description"`
	MaxPlayers  int    `db:"max_players" json:"max_players"`
}

// Address returns the server's socket in host:port form.
func (v ServerView) Address() string {
	return net.JoinHostPort(v.Host, strconv.Itoa(v.Port))
}

// Counts holds the number of rows created, or updated, by a write.
// Dropped counts buffered entities the store rejected and that were discarded.
type Counts struct {
	Hosts          int `json:"hosts"`
	Statuses       int `json:"statuses"`
	Sockets        int `json:"sockets"`
	Servers        int `json:"servers"`
	SocketsUpdated int `json:"sockets_updated"`
	Dropped        int `json:"dropped"`
}

// Add accumulates other into c.
func (c *Counts) Add(other Counts) {
	c.Hosts += other.Hosts
	c.Statuses += other.Statuses
	c.Sockets += other.Sockets
	c.Servers += other.Servers
	c.SocketsUpdated += other.SocketsUpdated
	c.Dropped += other.Dropped
}

// Stats summarises the contents of the store.
type Stats struct {
	Hosts          int64 `db:"hosts" json:"hosts"`
	Statuses       int64 `db:"statuses" json:"statuses"`
	Sockets        int64 `db:"sockets" json:"sockets"`
	PendingSockets int64 `db:"pending_sockets" json:"pending_sockets"`
	Servers        int64 `db:"servers" json:"servers"`
}

// StatusCount is the number of sockets carrying a status.
type StatusCount struct {
	Name    string `db:"name" json:"name"`
	Sockets int64  `db:"sockets" json:"sockets"`
}

// Selection chooses which stored sockets a scan visits.
type Selection string

const (
	// SelectPending picks sockets that have never been scanned.
	SelectPending Selection = "pending"
	// SelectFailed picks sockets whose last scan did not find a server.
	SelectFailed Selection = "failed"
	// SelectAll picks every socket.
	SelectAll Selection = "all"
)

// ParseSelection validates a selection name.
func ParseSelection(s string) (Selection, error) {
	switch sel := Selection(strings.ToLower(strings.TrimSpace(s))); sel {
	case SelectPending, SelectFailed, SelectAll:
		return sel, nil
	case "":
		return SelectPending, nil
	default:
		return "", errors.ErrConfigInvalid("select", s)
	}
}
