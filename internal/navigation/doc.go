/*
Package navigation drives page loads against an embedded, asynchronous browser engine.

# Overview

A Controller owns exactly one live navigation attempt at a time. Each attempt is identified
by an epoch: a monotonically increasing counter bumped whenever an attempt starts or is
cancelled. Every engine event, timer callback and script continuation captures the epoch it
was scheduled under and becomes a no-op once that epoch is no longer current.

# Timeout Ladder

Every attempt arms three timers:

  - soft (T): stop the page, wait a grace period, escalate to the hard path if still unresolved
  - hard (2T): force a cache-bypassing reload; a reload that cannot be issued is fatal
  - heartbeat (every 5s): run a trivial script with its own sub-timeout; a probe that never
    returns marks the page as stalled

Stall recovery runs a best-effort mitigation script and reloads, at most MaxRetries times per
attempt, before surfacing a terminal stall failure.

# Threading

All engine commands and all attempt state mutations run on a single executor goroutine, the
Go equivalent of a UI thread. Timers and script awaits run elsewhere and hand their results
back through the executor. Progress and failure listeners are delivered in report order on
a separate dispatch goroutine, so a listener may call Refresh, Stop or even Dispose. A slow
listener delays later events but never the navigation itself.

# Usage

	ctrl := navigation.New(engine, navigation.DefaultOptions(), logger)
	defer ctrl.Dispose()

	ctrl.OnProgress(func(ev navigation.ProgressEvent) {
		fmt.Printf("%s %d%%\n", ev.Stage, ev.Percentage)
	})

	if err := ctrl.NavigateTo(ctx, "example.com", 30*time.Second); err != nil {
		if errors.Is(err, navigation.ErrCancelled) {
			return nil
		}
		return err
	}
*/
package navigation
