package navigation

import (
	"fmt"

	"go.uber.org/zap"
)

// armLadder starts the soft and hard timers and the heartbeat loop for a.
// Every callback is posted to the executor and re-checks its captured epoch.
func (c *Controller) armLadder(a *attempt) {
	epoch := a.epoch
	a.timers.soft = c.clock.AfterFunc(c.opts.softDeadline(a.timeout), func() {
		c.exec.post(func() { c.onSoftTimeout(epoch) })
	})
	a.timers.hard = c.clock.AfterFunc(c.opts.hardDeadline(a.timeout), func() {
		c.exec.post(func() { c.onHardTimeout(epoch) })
	})
	c.scheduleHeartbeat(a)
}

func (c *Controller) onSoftTimeout(epoch uint64) {
	a := c.active(epoch)
	if a == nil || a.resolved() {
		return
	}
	a.recovering = true
	c.metrics.Recovery("soft")
	c.logger.Warn("soft timeout elapsed, stopping page",
		zap.Uint64("epoch", epoch),
		zap.String("uri", a.uri),
		zap.Duration("timeout", a.timeout),
	)
	c.reporter.report(epoch, StageStalled, 75, "Page is slow to respond, stopping", false)
	if err := c.invoke("stop", c.engine.Stop); err != nil {
		c.logger.Warn("engine stop failed during soft recovery", zap.Uint64("epoch", epoch), zap.Error(err))
	}

	a.timers.grace = c.clock.AfterFunc(c.opts.GracePeriod, func() {
		c.exec.post(func() { c.onGraceElapsed(epoch) })
	})
}

// onGraceElapsed forces the hard path early if nothing resolved the attempt
// during the grace period and the hard timer has not fired yet.
func (c *Controller) onGraceElapsed(epoch uint64) {
	a := c.active(epoch)
	if a == nil || a.resolved() || a.hardFired {
		return
	}
	if a.timers.hard != nil {
		a.timers.hard.Stop()
	}
	c.logger.Info("grace period elapsed, escalating to hard recovery", zap.Uint64("epoch", epoch))
	c.onHardTimeout(epoch)
}

func (c *Controller) onHardTimeout(epoch uint64) {
	a := c.active(epoch)
	if a == nil || a.resolved() || a.hardFired {
		return
	}
	a.hardFired = true
	a.recovering = true
	c.metrics.Recovery("hard")
	c.logger.Warn("hard timeout elapsed, reloading without cache",
		zap.Uint64("epoch", epoch),
		zap.String("uri", a.uri),
	)
	c.reporter.report(epoch, StageStalled, 75, "Page did not load, reloading", false)

	if err := c.invoke("reload", func() error { return c.engine.Reload(true) }); err != nil {
		navErr := &NavigationError{Kind: KindTimeout, URI: a.uri, Epoch: epoch, Err: err}
		msg := fmt.Sprintf("Navigation to %s timed out", a.uri)
		c.reporter.report(epoch, StageFailed, 0, msg, true)
		c.finish(a, StateFailed, navErr, &FailureEvent{
			Epoch:     epoch,
			URI:       a.uri,
			IsTimeout: true,
			Message:   msg,
		})
		return
	}
	c.metrics.Reload("hard")
	a.state = StateLoading
}

func (c *Controller) scheduleHeartbeat(a *attempt) {
	epoch := a.epoch
	if a.timers.heartbeat != nil {
		a.timers.heartbeat.Stop()
	}
	a.timers.heartbeat = c.clock.AfterFunc(c.opts.HeartbeatInterval, func() {
		c.exec.post(func() { c.probe(epoch) })
	})
}

// probe runs the heartbeat script and waits for it off the executor. Only a
// probe that outlives its sub-timeout counts as a stall.
func (c *Controller) probe(epoch uint64) {
	a := c.active(epoch)
	if a == nil {
		return
	}
	ch := c.execute(a, c.opts.HeartbeatScript)
	ctx := a.ctx
	go func() {
		res, timedOut := awaitScript(ctx, c.clock, ch, c.opts.HeartbeatTimeout)
		c.exec.post(func() {
			a := c.active(epoch)
			if a == nil {
				return
			}
			if !timedOut {
				if res.Err != nil {
					c.logger.Debug("heartbeat script returned an error", zap.Uint64("epoch", epoch), zap.Error(res.Err))
				}
				c.scheduleHeartbeat(a)
				return
			}
			c.onStall(a)
		})
	}()
}
