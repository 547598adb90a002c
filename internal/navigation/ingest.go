package navigation

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var errCancelledByEngine = errors.New("engine cancelled navigation")

// subscribe wires engine events for a into the executor, tagged with a's epoch.
func (c *Controller) subscribe(a *attempt) {
	epoch := a.epoch
	a.unsubscribe = c.engine.Subscribe(func(ev Event) {
		c.exec.post(func() { c.handleEvent(epoch, ev) })
	})
}

func (c *Controller) handleEvent(epoch uint64, ev Event) {
	a := c.current
	if a == nil || a.epoch != epoch || !c.epoch.IsCurrent(epoch) {
		c.metrics.StaleEvent()
		c.logger.Debug("discarding stale engine event",
			zap.Uint64("event_epoch", epoch),
			zap.Uint64("current_epoch", c.epoch.Current()),
			zap.Stringer("kind", ev.Kind),
		)
		return
	}

	switch ev.Kind {
	case EventNavigationStarting:
		if !a.state.Terminal() {
			a.state = StateStarting
			a.startedAt = c.clock.Now()
		}
		c.reporter.report(epoch, StageResolving, 10, "Resolving "+hostOf(ev.URI, a.uri), false)

	case EventSourceChanged:
		if ev.URI != "" {
			c.address = ev.URI
		}
		if !a.state.Terminal() {
			a.state = StateConnecting
		}
		c.reporter.report(epoch, StageConnecting, 30, "Connecting to "+hostOf(ev.URI, a.uri), false)

	case EventContentLoading:
		if !a.state.Terminal() {
			a.state = StateLoading
		}
		c.reporter.report(epoch, StageLoading, 50, "Loading content", false)

	case EventDOMContentLoaded:
		a.domReady.Resolve(true)
		if !a.state.Terminal() {
			a.state = StateDOMReady
		}
		c.reporter.report(epoch, StageDOMReady, 80, "Document ready", false)
		c.checkCompleted(a)

	case EventNavigationCompleted:
		if ev.Success {
			c.onCompleted(a)
			return
		}
		c.onCompletedWithError(a, ev)
	}
}

func (c *Controller) onCompleted(a *attempt) {
	a.outcome.Resolve(true)
	if !a.state.Terminal() {
		a.retryCount = 0
		a.recovering = false
	}
	c.reporter.report(a.epoch, StageCompleted, 100, "Done", false)
	c.checkCompleted(a)
}

func (c *Controller) onCompletedWithError(a *attempt, ev Event) {
	if ev.Code == ErrorOperationCanceled && a.recovering && !a.state.Terminal() {
		// the engine reports our own Stop during recovery as a cancelled navigation
		c.logger.Debug("absorbed cancellation caused by recovery", zap.Uint64("epoch", a.epoch))
		return
	}

	msg := failureMessage(a.uri, ev)
	if a.state.Terminal() {
		c.reporter.report(a.epoch, StageFailed, 0, msg, true)
		return
	}

	a.outcome.Resolve(false)
	c.reporter.report(a.epoch, StageFailed, 0, msg, true)

	if ev.Code == ErrorOperationCanceled {
		c.finish(a, StateCancelled, &NavigationError{
			Kind:  KindCancelled,
			URI:   a.uri,
			Epoch: a.epoch,
			Code:  ev.Code,
			Err:   errCancelledByEngine,
		}, nil)
		return
	}

	c.finish(a, StateFailed, &NavigationError{
		Kind:  KindProtocol,
		URI:   a.uri,
		Epoch: a.epoch,
		Code:  ev.Code,
		Err:   fmt.Errorf("%w: %s", ErrProtocol, ev.Code),
	}, &FailureEvent{
		Epoch:   a.epoch,
		URI:     a.uri,
		Message: msg,
	})
}

// checkCompleted settles a once both completion signals succeeded.
func (c *Controller) checkCompleted(a *attempt) {
	if a.state.Terminal() {
		return
	}
	if !a.resolved() {
		return
	}
	c.finish(a, StateCompleted, nil, nil)
	c.reporter.setStatus("Done")
	c.logger.Info("navigation completed",
		zap.Uint64("epoch", a.epoch),
		zap.String("attempt_id", a.id.String()),
		zap.String("uri", a.uri),
		zap.Duration("elapsed", c.clock.Since(a.startedAt)),
	)
}

func failureMessage(uri string, ev Event) string {
	if ev.HTTPStatus > 0 {
		return fmt.Sprintf("Failed to load %s: %s (HTTP %d)", uri, ev.Code, ev.HTTPStatus)
	}
	return fmt.Sprintf("Failed to load %s: %s", uri, ev.Code)
}

func hostOf(uri, fallback string) string {
	if uri == "" {
		uri = fallback
	}
	return displayHost(uri)
}
