package navigation

import "time"

// Metrics receives controller lifecycle counters. Implementations must be safe for
// concurrent use.
type Metrics interface {
	AttemptStarted()
	AttemptFinished(outcome string, elapsed time.Duration)
	Recovery(kind string)
	Reload(reason string)
	HeartbeatFailed()
	StaleEvent()
	EpochAdvanced(epoch uint64)
}

type nopMetrics struct{}

func (nopMetrics) AttemptStarted()                       {}
func (nopMetrics) AttemptFinished(string, time.Duration) {}
func (nopMetrics) Recovery(string)                       {}
func (nopMetrics) Reload(string)                         {}
func (nopMetrics) HeartbeatFailed()                      {}
func (nopMetrics) StaleEvent()                           {}
func (nopMetrics) EpochAdvanced(uint64)                  {}
