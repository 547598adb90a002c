package chrome

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/go-rod/rod"

	"github.com/GriffinCanCode/AgentOS/navigator/internal/navigation"
)

var netErrorPattern = regexp.MustCompile(`net::ERR_[A-Z_]+`)

var netErrors = map[string]navigation.ErrorCode{
	"net::ERR_ABORTED":                  navigation.ErrorOperationCanceled,
	"net::ERR_NAME_NOT_RESOLVED":        navigation.ErrorHostNameNotResolved,
	"net::ERR_NAME_RESOLUTION_FAILED":   navigation.ErrorHostNameNotResolved,
	"net::ERR_CONNECTION_REFUSED":       navigation.ErrorCannotConnect,
	"net::ERR_CONNECTION_FAILED":        navigation.ErrorCannotConnect,
	"net::ERR_CONNECTION_RESET":         navigation.ErrorConnectionReset,
	"net::ERR_CONNECTION_ABORTED":       navigation.ErrorConnectionAborted,
	"net::ERR_CONNECTION_CLOSED":        navigation.ErrorDisconnected,
	"net::ERR_EMPTY_RESPONSE":           navigation.ErrorDisconnected,
	"net::ERR_INTERNET_DISCONNECTED":    navigation.ErrorDisconnected,
	"net::ERR_NETWORK_CHANGED":          navigation.ErrorDisconnected,
	"net::ERR_TIMED_OUT":                navigation.ErrorTimeout,
	"net::ERR_CONNECTION_TIMED_OUT":     navigation.ErrorTimeout,
	"net::ERR_ADDRESS_UNREACHABLE":      navigation.ErrorServerUnreachable,
	"net::ERR_TOO_MANY_REDIRECTS":       navigation.ErrorRedirectFailed,
	"net::ERR_INVALID_REDIRECT":         navigation.ErrorRedirectFailed,
	"net::ERR_UNSAFE_REDIRECT":          navigation.ErrorRedirectFailed,
	"net::ERR_BAD_SSL_CLIENT_AUTH_CERT": navigation.ErrorCertificateInvalid,
}

// Classify maps a failed Page.navigate to an engine error code. Chrome
// reports failures as net::ERR_* reason strings.
func Classify(err error) navigation.ErrorCode {
	if err == nil {
		return navigation.ErrorNone
	}
	if errors.Is(err, context.Canceled) {
		return navigation.ErrorOperationCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return navigation.ErrorTimeout
	}

	reason := err.Error()
	var navErr *rod.NavigationError
	if errors.As(err, &navErr) {
		reason = navErr.Reason
	}
	return ClassifyReason(reason)
}

// ClassifyReason maps a net::ERR_* reason string.
func ClassifyReason(reason string) navigation.ErrorCode {
	name := netErrorPattern.FindString(reason)
	if name == "" {
		return navigation.ErrorUnknown
	}
	if code, ok := netErrors[name]; ok {
		return code
	}
	if strings.HasPrefix(name, "net::ERR_CERT_") || strings.HasPrefix(name, "net::ERR_SSL_") {
		return navigation.ErrorCertificateInvalid
	}
	return navigation.ErrorUnknown
}
