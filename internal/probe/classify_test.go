package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func dialError(errno syscall.Errno) error {
	return &net.OpError{
		Op:  "dial",
		Net: "tcp",
		Addr: &net.TCPAddr{
			IP:   net.ParseIP("192.0.2.10"),
			Port: 25565,
		},
		Err: os.NewSyscallError("connect", errno),
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		class   string
		message string
		ok      bool
	}{
		{"refused", dialError(syscall.ECONNREFUSED), ClassConnectionRefused, "connection refused", true},
		{"reset", dialError(syscall.ECONNRESET), ClassConnectionReset, syscall.ECONNRESET.Error(), true},
		{"unreachable", dialError(syscall.EHOSTUNREACH), ClassHostUnreachable, syscall.EHOSTUNREACH.Error(), true},
		{"deadline", context.DeadlineExceeded, ClassTimeout, "timed out", true},
		{"io timeout", &net.OpError{Op: "read", Err: os.ErrDeadlineExceeded}, ClassTimeout, "timed out", true},
		{"canceled", fmt.Errorf("dial: %w", context.Canceled), ClassCanceled, "canceled", true},
		{"dns", &net.OpError{Op: "dial", Err: &net.DNSError{Err: "no such host", Name: "nope.invalid", IsNotFound: true}},
			ClassNameNotResolved, "no such host", true},
		{"dns timeout", &net.DNSError{Err: "i/o timeout", Name: "slow.example", IsTimeout: true}, ClassTimeout, "timed out", true},
		{"bad address", &net.AddrError{Err: "missing port in address", Addr: "x"}, ClassInvalidAddress, "missing port in address", true},
		{"protocol", &ProtocolError{Msg: "unexpected packet id 0x05"}, ClassProtocolError, "unexpected packet id 0x05", true},
		{"eof", io.EOF, ClassProtocolError, "connection closed before status response", true},
		{"short read", fmt.Errorf("read: %w", io.ErrUnexpectedEOF), ClassProtocolError, "connection closed before status response", true},
		{"other net", &net.OpError{Op: "read", Err: errors.New("use of closed network connection")},
			ClassNetwork, "use of closed network connection", true},
		{"unknown", errors.New("index out of range"), "", "", false},
		{"nil", nil, "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			class, message, ok := Classify(tt.err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.class, class)
			assert.Equal(t, tt.message, message)
			assert.NotContains(t, message, "192.0.2.10")
		})
	}
}

func TestFromError(t *testing.T) {
	expected := FromError(dialError(syscall.ECONNREFUSED))
	assert.Equal(t, KindExpectedFailure, expected.Kind)
	assert.Error(t, expected.Err)

	cause := errors.New("nil map write")
	unexpected := FromError(cause)
	assert.Equal(t, KindUnexpectedFailure, unexpected.Kind)
	assert.Same(t, cause, unexpected.Err)
}
