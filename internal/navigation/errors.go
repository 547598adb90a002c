package navigation

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrTimeout        = errors.New("navigation timed out")
	ErrStall          = errors.New("page stalled")
	ErrProtocol       = errors.New("navigation failed")
	ErrCancelled      = errors.New("navigation cancelled")
	ErrDisposed       = errors.New("navigation controller disposed")
	ErrInvalidAddress = errors.New("invalid address")
	ErrEngineCommand  = errors.New("engine command failed")
)

// Kind is the failure taxonomy of a navigation attempt.
type Kind int

const (
	KindTimeout Kind = iota
	KindStall
	KindProtocol
	KindCancelled
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindStall:
		return "stall"
	case KindProtocol:
		return "protocol"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindTimeout:
		return ErrTimeout
	case KindStall:
		return ErrStall
	case KindCancelled:
		return ErrCancelled
	default:
		return ErrProtocol
	}
}

// NavigationError is returned by NavigateTo when an attempt ends without loading.
// errors.Is matches it against the sentinel of its Kind.
type NavigationError struct {
	Kind  Kind
	URI   string
	Epoch uint64
	Code  ErrorCode
	Err   error
}

func (e *NavigationError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind.sentinel(), e.URI)
	if e.Code != ErrorNone {
		msg += fmt.Sprintf(" (%s)", e.Code)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *NavigationError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel error for the failure kind. Cancelled attempts also
// match context.Canceled.
func (e *NavigationError) Is(target error) bool {
	if e.Kind == KindCancelled && target == context.Canceled {
		return true
	}
	return target == e.Kind.sentinel()
}
