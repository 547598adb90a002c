package navigation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

var errScriptAborted = errors.New("script result channel closed")

// onStall runs stall recovery: mitigation plus reload while retries remain,
// terminal failure once they are exhausted.
func (c *Controller) onStall(a *attempt) {
	epoch := a.epoch
	a.state = StateStalled
	c.metrics.HeartbeatFailed()

	if a.retryCount >= c.opts.MaxRetries {
		msg := fmt.Sprintf("Page stopped responding after %d retries", a.retryCount)
		c.reporter.report(epoch, StageFailed, 0, msg, true)
		c.finish(a, StateFailed, &NavigationError{
			Kind:  KindStall,
			URI:   a.uri,
			Epoch: epoch,
			Err:   fmt.Errorf("heartbeat exceeded %s", c.opts.HeartbeatTimeout),
		}, &FailureEvent{
			Epoch:   epoch,
			URI:     a.uri,
			IsStall: true,
			Message: msg,
		})
		return
	}

	a.retryCount++
	a.recovering = true
	c.metrics.Recovery("stall")
	c.logger.Warn("page unresponsive, recovering",
		zap.Uint64("epoch", epoch),
		zap.String("uri", a.uri),
		zap.Int("retry", a.retryCount),
		zap.Int("max_retries", c.opts.MaxRetries),
	)
	c.reporter.report(epoch, StageStalled, 75,
		fmt.Sprintf("Page unresponsive, retrying (%d/%d)", a.retryCount, c.opts.MaxRetries), false)

	ch := c.execute(a, c.opts.MitigationScript)
	ctx := a.ctx
	go func() {
		res, timedOut := awaitScript(ctx, c.clock, ch, c.opts.MitigationTimeout)
		c.exec.post(func() {
			a := c.active(epoch)
			if a == nil {
				return
			}
			switch {
			case timedOut:
				c.logger.Debug("mitigation script timed out", zap.Uint64("epoch", epoch))
			case res.Err != nil:
				c.logger.Debug("mitigation script failed", zap.Uint64("epoch", epoch), zap.Error(res.Err))
			}
			c.reloadAfterStall(a)
		})
	}()
}

func (c *Controller) reloadAfterStall(a *attempt) {
	if err := c.invoke("reload", func() error { return c.engine.Reload(true) }); err != nil {
		c.logger.Warn("reload after stall failed", zap.Uint64("epoch", a.epoch), zap.Error(err))
	} else {
		c.metrics.Reload("stall")
	}
	a.state = StateLoading
	c.scheduleHeartbeat(a)
}

// execute issues a script on the executor. A panicking or nil-returning engine
// yields a channel that reports the failure instead.
func (c *Controller) execute(a *attempt, code string) (ch <-chan ScriptResult) {
	defer func() {
		if rec := recover(); rec != nil {
			ch = failedScript(fmt.Errorf("%w: execute script: panic: %v", ErrEngineCommand, rec))
		}
	}()
	ch = c.engine.ExecuteScript(a.ctx, code)
	if ch == nil {
		return failedScript(fmt.Errorf("%w: execute script returned no result", ErrEngineCommand))
	}
	return ch
}

func failedScript(err error) <-chan ScriptResult {
	ch := make(chan ScriptResult, 1)
	ch <- ScriptResult{Err: err}
	return ch
}

// awaitScript waits up to limit for a script result. timedOut is true only when
// the limit elapsed; a cancelled ctx reports the context error instead.
func awaitScript(ctx context.Context, clk clock.Clock, ch <-chan ScriptResult, limit time.Duration) (ScriptResult, bool) {
	expired := make(chan struct{})
	t := clk.AfterFunc(limit, func() { close(expired) })
	defer t.Stop()

	select {
	case res, ok := <-ch:
		if !ok {
			return ScriptResult{Err: errScriptAborted}, false
		}
		return res, false
	case <-expired:
		return ScriptResult{}, true
	case <-ctx.Done():
		return ScriptResult{Err: ctx.Err()}, false
	}
}
