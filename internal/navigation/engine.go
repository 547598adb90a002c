package navigation

import "context"

// EventKind enumerates the engine callbacks the controller consumes.
type EventKind int

const (
	EventNavigationStarting EventKind = iota
	EventSourceChanged
	EventContentLoading
	EventDOMContentLoaded
	EventNavigationCompleted
)

// String returns the string representation of the event kind
func (k EventKind) String() string {
	switch k {
	case EventNavigationStarting:
		return "navigation_starting"
	case EventSourceChanged:
		return "source_changed"
	case EventContentLoading:
		return "content_loading"
	case EventDOMContentLoaded:
		return "dom_content_loaded"
	case EventNavigationCompleted:
		return "navigation_completed"
	default:
		return "unknown"
	}
}

// ErrorCode classifies why an engine navigation failed.
type ErrorCode int

const (
	ErrorNone ErrorCode = iota
	ErrorUnknown
	ErrorOperationCanceled
	ErrorConnectionAborted
	ErrorConnectionReset
	ErrorDisconnected
	ErrorCannotConnect
	ErrorHostNameNotResolved
	ErrorTimeout
	ErrorServerUnreachable
	ErrorCertificateInvalid
	ErrorHTTPStatus
	ErrorRedirectFailed
)

// String returns the string representation of the error code
func (c ErrorCode) String() string {
	switch c {
	case ErrorNone:
		return "none"
	case ErrorOperationCanceled:
		return "operation_canceled"
	case ErrorConnectionAborted:
		return "connection_aborted"
	case ErrorConnectionReset:
		return "connection_reset"
	case ErrorDisconnected:
		return "disconnected"
	case ErrorCannotConnect:
		return "cannot_connect"
	case ErrorHostNameNotResolved:
		return "host_name_not_resolved"
	case ErrorTimeout:
		return "timeout"
	case ErrorServerUnreachable:
		return "server_unreachable"
	case ErrorCertificateInvalid:
		return "certificate_invalid"
	case ErrorHTTPStatus:
		return "http_status"
	case ErrorRedirectFailed:
		return "redirect_failed"
	default:
		return "unknown"
	}
}

// Event is a single engine callback.
type Event struct {
	Kind EventKind
	URI  string

	// Set on EventNavigationCompleted.
	Success    bool
	Code       ErrorCode
	HTTPStatus int
}

// ScriptResult is the settled value of an ExecuteScript call. Value is JSON encoded.
type ScriptResult struct {
	Value string
	Err   error
}

// Engine is the embedded browser the controller drives. Commands start work and
// return immediately; progress is reported later through subscribed handlers,
// usually from engine-owned goroutines. Implementations need not be safe for
// concurrent commands: the controller issues them from a single goroutine.
type Engine interface {
	Navigate(uri string) error
	Stop() error
	Reload(bypassCache bool) error
	GoBack() error
	GoForward() error

	// ExecuteScript evaluates code in the current document. The channel yields at
	// most one result and may never yield if the page is unresponsive.
	ExecuteScript(ctx context.Context, code string) <-chan ScriptResult

	// Subscribe registers fn for every subsequent event until unsubscribe is called.
	Subscribe(fn func(Event)) (unsubscribe func())
}
