package navigation

import "sync/atomic"

// Epoch identifies the live navigation attempt. Callbacks compare the value they
// captured at scheduling time against Current before touching attempt state.
type Epoch struct {
	v atomic.Uint64
}

// Current returns the live epoch.
func (e *Epoch) Current() uint64 {
	return e.v.Load()
}

// Advance invalidates every previously issued epoch and returns the new one.
func (e *Epoch) Advance() uint64 {
	return e.v.Add(1)
}

// IsCurrent reports whether v is still the live epoch.
func (e *Epoch) IsCurrent(v uint64) bool {
	return e.v.Load() == v
}
