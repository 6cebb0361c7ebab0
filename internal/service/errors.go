package service

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"os"
	"syscall"
)

// describeTransportError maps a transport failure to a short description
// that is safe to return to callers. Upstream host names and addresses are
// never included.
func describeTransportError(err error) string {
	var dnsErr *net.DNSError
	var tlsErr *tls.RecordHeaderError
	var certErr *tls.CertificateVerificationError

	switch {
	case err == nil:
		return defaultTransportMessage
	case errors.Is(err, context.Canceled):
		return "client disconnected"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded), isTimeout(err):
		return "upstream request timed out"
	case errors.As(err, &dnsErr):
		return "upstream host unreachable"
	case errors.Is(err, syscall.ECONNREFUSED):
		return "upstream connection refused"
	case errors.Is(err, syscall.ECONNRESET):
		return "upstream connection reset"
	case errors.As(err, &tlsErr), errors.As(err, &certErr):
		return "upstream TLS handshake failed"
	default:
		return "upstream connection failed"
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
