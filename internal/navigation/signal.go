package navigation

import "sync/atomic"

// Disposition is the settled state of a Signal.
type Disposition int32

const (
	Pending Disposition = iota
	Succeeded
	Failed
	Cancelled
)

// String returns the string representation of the disposition
func (d Disposition) String() string {
	switch d {
	case Pending:
		return "pending"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Signal is a single-resolution completion future. The first call to Resolve or
// Cancel wins; later calls are ignored.
type Signal struct {
	state atomic.Int32
	done  chan struct{}
}

// NewSignal creates a pending signal.
func NewSignal() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Resolve settles the signal as succeeded or failed. It reports whether this call settled it.
func (s *Signal) Resolve(ok bool) bool {
	if ok {
		return s.settle(Succeeded)
	}
	return s.settle(Failed)
}

// Cancel settles the signal with a cancelled disposition.
func (s *Signal) Cancel() bool {
	return s.settle(Cancelled)
}

func (s *Signal) settle(d Disposition) bool {
	if !s.state.CompareAndSwap(int32(Pending), int32(d)) {
		return false
	}
	close(s.done)
	return true
}

// Done is closed once the signal settles.
func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// Disposition returns the current disposition.
func (s *Signal) Disposition() Disposition {
	return Disposition(s.state.Load())
}

// Settled reports whether the signal has left Pending.
func (s *Signal) Settled() bool {
	return s.Disposition() != Pending
}
