package fetch

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"os"
	"syscall"

	"github.com/GriffinCanCode/AgentOS/navigator/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/navigator/internal/navigation"
)

// Classify maps a transport error to the engine error code reported in
// NavigationCompleted.
func Classify(err error) navigation.ErrorCode {
	if err == nil {
		return navigation.ErrorNone
	}

	switch {
	case errors.Is(err, context.Canceled):
		return navigation.ErrorOperationCanceled
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return navigation.ErrorTimeout
	case errors.Is(err, ErrTooManyRedirects):
		return navigation.ErrorRedirectFailed
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, resilience.ErrTooManyRequests):
		return navigation.ErrorServerUnreachable
	case errors.Is(err, syscall.ECONNREFUSED):
		return navigation.ErrorCannotConnect
	case errors.Is(err, syscall.ECONNRESET):
		return navigation.ErrorConnectionReset
	case errors.Is(err, syscall.ECONNABORTED):
		return navigation.ErrorConnectionAborted
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		return navigation.ErrorServerUnreachable
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return navigation.ErrorDisconnected
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return navigation.ErrorHostNameNotResolved
	}
	if isCertificateError(err) {
		return navigation.ErrorCertificateInvalid
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return navigation.ErrorTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return navigation.ErrorCannotConnect
	}
	return navigation.ErrorUnknown
}

func isCertificateError(err error) bool {
	var (
		verify    *tls.CertificateVerificationError
		authority x509.UnknownAuthorityError
		hostname  x509.HostnameError
		invalid   x509.CertificateInvalidError
	)
	return errors.As(err, &verify) ||
		errors.As(err, &authority) ||
		errors.As(err, &hostname) ||
		errors.As(err, &invalid)
}
