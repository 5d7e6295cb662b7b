package probe

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"syscall"
)

// Failure classes recorded as statuses.
const (
	ClassTimeout           = "Timeout"
	ClassConnectionRefused = "ConnectionRefused"
	ClassConnectionReset   = "ConnectionReset"
	ClassHostUnreachable   = "HostUnreachable"
	ClassNameNotResolved   = "NameNotResolved"
	ClassInvalidAddress    = "InvalidAddress"
	ClassProtocolError     = "ProtocolError"
	ClassNetwork           = "NetworkError"
	ClassCanceled          = "Canceled"
)

// Classify maps a probe error to a failure class and an address-free
// message. ok is false when the error is not one a scan expects to see.
func Classify(err error) (class, message string, ok bool) {
	if err == nil {
		return "", "", false
	}

	var protoErr *ProtocolError
	var dnsErr *net.DNSError
	var addrErr *net.AddrError
	var opErr *net.OpError

	switch {
	case errors.Is(err, context.Canceled):
		return ClassCanceled, "canceled", true
	case isTimeout(err):
		return ClassTimeout, "timed out", true
	case errors.Is(err, syscall.ECONNREFUSED):
		return ClassConnectionRefused, "connection refused", true
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ECONNABORTED), errors.Is(err, syscall.EPIPE):
		return ClassConnectionReset, rootMessage(err), true
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH),
		errors.Is(err, syscall.EHOSTDOWN), errors.Is(err, syscall.ENETDOWN):
		return ClassHostUnreachable, rootMessage(err), true
	case errors.As(err, &dnsErr):
		if dnsErr.IsTimeout {
			return ClassTimeout, "timed out", true
		}
		return ClassNameNotResolved, dnsErr.Err, true
	case errors.As(err, &addrErr):
		return ClassInvalidAddress, addrErr.Err, true
	case errors.As(err, &protoErr):
		return ClassProtocolError, protoErr.Msg, true
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return ClassProtocolError, "connection closed before status response", true
	case errors.As(err, &opErr):
		return ClassNetwork, rootMessage(err), true
	default:
		return "", "", false
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// rootMessage returns the text of the innermost wrapped error, which for
// network errors is the errno text without addresses.
func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}
