/*
Package resilience provides circuit breakers for graceful degradation.

# Overview

The fetch engine routes every document request through a per-host breaker so a
dead origin fails fast instead of tying up the navigation timeout ladder.

# States

- Closed: Normal operation, requests pass through
- Open: Requests fail immediately with ErrCircuitOpen
- Half-Open: Limited trial requests decide whether to close again

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                    [failure]
	                                           v
	                                         Open

Context cancellation is neither a success nor a failure: a navigation that
was stopped says nothing about the health of the origin.

# Usage

	hosts := resilience.NewGroup(resilience.Settings{Timeout: 30 * time.Second})

	doc, err := resilience.Do(ctx, hosts.Get(u.Host), func(ctx context.Context) (*Document, error) {
		return fetch(ctx, u)
	})
*/
package resilience
