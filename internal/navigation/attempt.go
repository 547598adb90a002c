package navigation

import (
	"context"
	"time"

	"github.com/GriffinCanCode/AgentOS/navigator/internal/shared/id"
	"github.com/benbjohnson/clock"
)

// State is the lifecycle state of a navigation attempt.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateConnecting
	StateLoading
	StateDOMReady
	StateCompleted
	StateFailed
	StateCancelled
	StateStalled
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateConnecting:
		return "connecting"
	case StateLoading:
		return "loading"
	case StateDOMReady:
		return "dom_ready"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	case StateStalled:
		return "stalled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// timerSet holds the ladder timers of one attempt.
type timerSet struct {
	soft      *clock.Timer
	hard      *clock.Timer
	grace     *clock.Timer
	heartbeat *clock.Timer
}

func (t *timerSet) stop() {
	for _, timer := range []*clock.Timer{t.soft, t.hard, t.grace, t.heartbeat} {
		if timer != nil {
			timer.Stop()
		}
	}
}

// attempt is one logical page load. Every field except finished/err reads after
// finished is closed belongs to the executor goroutine.
type attempt struct {
	id      id.AttemptID
	epoch   uint64
	uri     string
	timeout time.Duration

	state      State
	startedAt  time.Time
	retryCount int

	// recovering is set once the controller itself stopped or reloaded the page;
	// engine cancellations after that point are the controller's own doing.
	recovering bool
	hardFired  bool

	outcome  *Signal
	domReady *Signal

	timers      timerSet
	unsubscribe func()

	// ctx bounds script awaits; cancelled when the attempt is released.
	ctx    context.Context
	cancel context.CancelFunc

	err      error
	finished chan struct{}
}

// resolved reports whether both completion signals succeeded. A successful
// outcome without a document still counts as unresolved for recovery.
func (a *attempt) resolved() bool {
	return a.outcome.Disposition() == Succeeded && a.domReady.Disposition() == Succeeded
}

// release detaches the attempt from the engine and stops its timers.
func (a *attempt) release() {
	a.timers.stop()
	if a.unsubscribe != nil {
		a.unsubscribe()
		a.unsubscribe = nil
	}
	a.cancel()
}

// Snapshot is a read-only view of the controller.
type Snapshot struct {
	Epoch      uint64    `json:"epoch"`
	AttemptID  string    `json:"attempt_id,omitempty"`
	URI        string    `json:"uri,omitempty"`
	Address    string    `json:"address,omitempty"`
	State      string    `json:"state"`
	RetryCount int       `json:"retry_count"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	Status     string    `json:"status"`
}
