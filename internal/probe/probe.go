// Package probe implements the Minecraft Java edition Server List Ping query
// and turns every probe into a tagged Outcome: a server answered, the socket
// failed in a known way, or something unexpected happened.
package probe

import (
	"context"
	"net"
	"strconv"
	"strings"
	"time"
)

//go:generate mockgen -destination=mocks/mock_prober.go -package=mocks github.com/anstrom/mcscan/internal/probe Prober

const (
	// DefaultPort is the Minecraft Java edition port, the only port for
	// which SRV records are consulted.
	DefaultPort = 25565
	// DefaultProtocolVersion is sent in the handshake. Servers answer status
	// requests for any version.
	DefaultProtocolVersion = 47
	// MaxStatusName bounds the length of a failure status name.
	MaxStatusName = 255
)

// Kind tags an Outcome.
type Kind int

const (
	KindSuccess Kind = iota
	KindExpectedFailure
	KindUnexpectedFailure
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindExpectedFailure:
		return "expected_failure"
	case KindUnexpectedFailure:
		return "unexpected_failure"
	default:
		return "unknown"
	}
}

// ServerInfo is the metadata reported by a live server.
type ServerInfo struct {
	Version     string
	Description string
	MaxPlayers  int
}

// Outcome is the result of one probe.
type Outcome struct {
	Kind Kind
	Info ServerInfo
	// Class and Message describe an expected failure, e.g. "Timeout" and
	// "i/o timeout". Neither contains the probed address.
	Class   string
	Message string
	Err     error
}

// Success builds a successful outcome.
func Success(info ServerInfo) Outcome {
	return Outcome{Kind: KindSuccess, Info: info}
}

// ExpectedFailure builds an outcome for a known failure class.
func ExpectedFailure(class, message string, err error) Outcome {
	return Outcome{Kind: KindExpectedFailure, Class: class, Message: message, Err: err}
}

// UnexpectedFailure builds an outcome for an error that could not be classified.
func UnexpectedFailure(err error) Outcome {
	return Outcome{Kind: KindUnexpectedFailure, Err: err}
}

// FromError classifies err into an expected or unexpected failure outcome.
func FromError(err error) Outcome {
	class, message, ok := Classify(err)
	if !ok {
		return UnexpectedFailure(err)
	}
	return ExpectedFailure(class, message, err)
}

// StatusName returns the name under which a failure is stored.
func (o Outcome) StatusName() string {
	name := o.Class
	if o.Message != "" {
		name += " " + o.Message
	}
	if len(name) > MaxStatusName {
		name = strings.ToValidUTF8(name[:MaxStatusName], "")
	}
	return name
}

// Prober queries a single socket.
type Prober interface {
	Probe(ctx context.Context, host string, port int, timeout time.Duration) Outcome
}

// Config controls the probe client.
type Config struct {
	ProtocolVersion int
	// ResolveSRV enables _minecraft._tcp SRV lookups for host names probed
	// on the default port.
	ResolveSRV bool
}

// Client is the Server List Ping prober.
type Client struct {
	protocolVersion int
	dialer          net.Dialer
	resolver        SRVResolver
}

// NewClient creates a probe client. A nil resolver disables SRV lookups
// even when cfg.ResolveSRV is set; pass NewDNSResolver() for the system one.
func NewClient(cfg Config, resolver SRVResolver) *Client {
	version := cfg.ProtocolVersion
	if version == 0 {
		version = DefaultProtocolVersion
	}
	c := &Client{protocolVersion: version}
	if cfg.ResolveSRV {
		c.resolver = resolver
	}
	return c
}

// Probe connects to host:port and performs the status query within timeout.
func (c *Client) Probe(ctx context.Context, host string, port int, timeout time.Duration) Outcome {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	dialHost, dialPort := host, port
	if c.resolver != nil && port == DefaultPort && net.ParseIP(host) == nil {
		if target, srvPort, ok := c.resolver.LookupSRV(ctx, host); ok {
			dialHost, dialPort = target, srvPort
		}
	}

	conn, err := c.dialer.DialContext(ctx, "tcp", net.JoinHostPort(dialHost, strconv.Itoa(dialPort)))
	if err != nil {
		return FromError(err)
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	// Unblock reads when the caller gives up before the deadline.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	info, err := requestStatus(conn, c.protocolVersion, host, port)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return FromError(err)
	}
	return Success(info)
}
