package resilience

import "sync"

// Group lazily creates one breaker per key, all sharing the same settings.
// The fetch engine keys it by host so one failing origin does not block others.
type Group struct {
	settings Settings

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewGroup creates an empty breaker group
func NewGroup(settings Settings) *Group {
	return &Group{settings: settings, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for key, creating it on first use
func (g *Group) Get(key string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.breakers[key]
	if !ok {
		b = New(key, g.settings)
		g.breakers[key] = b
	}
	return b
}

// States reports the state of every breaker created so far
func (g *Group) States() map[string]State {
	g.mu.Lock()
	breakers := make([]*Breaker, 0, len(g.breakers))
	for _, b := range g.breakers {
		breakers = append(breakers, b)
	}
	g.mu.Unlock()

	states := make(map[string]State, len(breakers))
	for _, b := range breakers {
		states[b.Name()] = b.State()
	}
	return states
}
