package navigation

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/AgentOS/navigator/internal/shared/id"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Controller drives navigation attempts against an Engine and recovers them from
// slow or unresponsive pages. It is the only entry point callers use.
type Controller struct {
	engine   Engine
	opts     Options
	clock    clock.Clock
	logger   *zap.Logger
	metrics  Metrics
	exec     *executor
	reporter *reporter
	epoch    Epoch
	disposed atomic.Bool

	// owned by the executor
	current *attempt
	address string
}

// New creates a controller bound to engine.
func New(engine Engine, opts Options, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("navigation")
	return &Controller{
		engine:   engine,
		opts:     opts.normalized(),
		clock:    clock.New(),
		logger:   logger,
		metrics:  nopMetrics{},
		exec:     newExecutor(logger),
		reporter: newReporter(logger),
	}
}

// WithMetrics attaches a metrics recorder. Call before first use.
func (c *Controller) WithMetrics(m Metrics) *Controller {
	if m != nil {
		c.metrics = m
	}
	return c
}

// WithClock replaces the wall clock used by the timeout ladder. Call before first use.
func (c *Controller) WithClock(clk clock.Clock) *Controller {
	if clk != nil {
		c.clock = clk
	}
	return c
}

// OnProgress registers a ProgressChanged listener. Listeners are called in
// report order off the executor and may call back into the Controller.
func (c *Controller) OnProgress(fn ProgressHandler) (remove func()) {
	return c.reporter.onProgress(fn)
}

// OnFailure registers a NavigationFailed listener.
func (c *Controller) OnFailure(fn FailureHandler) (remove func()) {
	return c.reporter.onFailure(fn)
}

// Status returns the human-readable status of the current stage.
func (c *Controller) Status() string {
	return c.reporter.currentStatus()
}

// Epoch returns the live epoch.
func (c *Controller) Epoch() uint64 {
	return c.epoch.Current()
}

// NavigateTo loads address and blocks until the attempt completes, fails terminally
// or is cancelled. Soft timeouts and stalls are recovered without returning. A zero
// timeout uses Options.DefaultTimeout. Timeouts too large for the hard deadline
// to be represented are clamped.
func (c *Controller) NavigateTo(ctx context.Context, address string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = c.opts.DefaultTimeout
	}
	timeout = c.opts.clampTimeout(timeout)
	uri, err := NormalizeAddress(address)
	if err != nil {
		return err
	}

	var a *attempt
	err = c.exec.do(func() error {
		if c.disposed.Load() {
			return ErrDisposed
		}
		c.cancelCurrent("superseded by a new navigation")
		a = c.begin(uri, timeout)
		if err := c.engine.Navigate(uri); err != nil {
			c.failCommand(a, "navigate", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	defer c.exec.post(func() { a.timers.stop() })

	select {
	case <-a.finished:
		return a.err
	case <-ctx.Done():
	}

	_ = c.exec.do(func() error {
		if c.current == a && !a.state.Terminal() {
			c.logger.Info("navigation abandoned by caller",
				zap.Uint64("epoch", a.epoch),
				zap.String("uri", a.uri),
			)
			c.cancelCurrent("caller cancelled")
		}
		return nil
	})
	<-a.finished
	if a.err == nil {
		return nil
	}
	var navErr *NavigationError
	if errors.As(a.err, &navErr) && navErr.Kind == KindCancelled {
		return &NavigationError{Kind: KindCancelled, URI: a.uri, Epoch: a.epoch, Err: ctx.Err()}
	}
	return a.err
}

// GoBack asks the engine to move back in history.
func (c *Controller) GoBack() error {
	return c.command("go back", c.engine.GoBack)
}

// GoForward asks the engine to move forward in history.
func (c *Controller) GoForward() error {
	return c.command("go forward", c.engine.GoForward)
}

// Refresh reloads the current page with a fresh retry budget. Without a live
// attempt it starts a tracked one for the current address.
func (c *Controller) Refresh() error {
	return c.exec.do(func() error {
		if c.disposed.Load() {
			return ErrDisposed
		}
		if a := c.current; a != nil && !a.state.Terminal() {
			a.retryCount = 0
			a.recovering = true
			return c.invoke("reload", func() error { return c.engine.Reload(false) })
		}

		uri := c.address
		if uri == "" && c.current != nil {
			uri = c.current.uri
		}
		if uri == "" {
			uri = BlankPage
		}
		c.cancelCurrent("refresh")
		a := c.begin(uri, c.opts.DefaultTimeout)
		if err := c.engine.Reload(false); err != nil {
			c.failCommand(a, "reload", err)
			return a.err
		}
		return nil
	})
}

// Stop cancels the in-flight attempt without starting a new one.
func (c *Controller) Stop() error {
	return c.exec.do(func() error {
		if c.disposed.Load() {
			return ErrDisposed
		}
		if c.cancelCurrent("stopped") {
			return nil
		}
		return c.invoke("stop", c.engine.Stop)
	})
}

// Dispose cancels any in-flight attempt and releases all timers. The controller
// is unusable afterwards.
func (c *Controller) Dispose() error {
	if !c.disposed.CompareAndSwap(false, true) {
		return ErrDisposed
	}
	_ = c.exec.do(func() error {
		c.cancelCurrent("controller disposed")
		return nil
	})
	c.exec.close()
	c.reporter.close()
	c.logger.Debug("navigation controller disposed")
	return nil
}

// Snapshot returns the state of the live attempt.
func (c *Controller) Snapshot() (Snapshot, error) {
	var snap Snapshot
	err := c.exec.do(func() error {
		snap = Snapshot{
			Epoch:   c.epoch.Current(),
			Address: c.address,
			State:   StateIdle.String(),
			Status:  c.reporter.currentStatus(),
		}
		if a := c.current; a != nil {
			snap.AttemptID = a.id.String()
			snap.URI = a.uri
			snap.State = a.state.String()
			snap.RetryCount = a.retryCount
			snap.StartedAt = a.startedAt
		}
		return nil
	})
	return snap, err
}

// Address returns the last address reported by the engine.
func (c *Controller) Address() string {
	snap, _ := c.Snapshot()
	return snap.Address
}

func (c *Controller) command(name string, fn func() error) error {
	return c.exec.do(func() error {
		if c.disposed.Load() {
			return ErrDisposed
		}
		return c.invoke(name, fn)
	})
}

// invoke runs an engine command and wraps its error. Runs on the executor.
func (c *Controller) invoke(name string, fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %s: panic: %v", ErrEngineCommand, name, rec)
		}
	}()
	if err := fn(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrEngineCommand, name, err)
	}
	return nil
}

// begin starts a new attempt: fresh epoch, subscription, ladder and heartbeat.
func (c *Controller) begin(uri string, timeout time.Duration) *attempt {
	epoch := c.epoch.Advance()
	ctx, cancel := context.WithCancel(context.Background())
	a := &attempt{
		id:        id.NewAttemptID(),
		epoch:     epoch,
		uri:       uri,
		timeout:   timeout,
		state:     StateIdle,
		startedAt: c.clock.Now(),
		outcome:   NewSignal(),
		domReady:  NewSignal(),
		ctx:       ctx,
		cancel:    cancel,
		finished:  make(chan struct{}),
	}
	c.current = a
	c.metrics.EpochAdvanced(epoch)
	c.metrics.AttemptStarted()

	c.subscribe(a)
	c.armLadder(a)
	c.reporter.setStatus("Navigating to " + uri)

	c.logger.Debug("navigation attempt started",
		zap.Uint64("epoch", epoch),
		zap.String("attempt_id", a.id.String()),
		zap.String("uri", uri),
		zap.Duration("timeout", timeout),
	)
	return a
}

// cancelCurrent invalidates the live epoch. A non-terminal attempt is stopped and
// settled as cancelled. Reports whether the engine was told to stop.
func (c *Controller) cancelCurrent(reason string) bool {
	c.metrics.EpochAdvanced(c.epoch.Advance())

	a := c.current
	if a == nil {
		return false
	}
	c.current = nil

	stopped := false
	if !a.state.Terminal() {
		if err := c.invoke("stop", c.engine.Stop); err != nil {
			c.logger.Warn("engine stop failed during cancellation",
				zap.Uint64("epoch", a.epoch),
				zap.Error(err),
			)
		}
		stopped = true
		c.finish(a, StateCancelled, &NavigationError{
			Kind:  KindCancelled,
			URI:   a.uri,
			Epoch: a.epoch,
			Err:   errors.New(reason),
		}, nil)
		c.reporter.setStatus("Stopped")
	}
	a.release()

	c.logger.Debug("navigation attempt cancelled",
		zap.Uint64("epoch", a.epoch),
		zap.String("reason", reason),
	)
	return stopped
}

// finish moves a to a terminal state exactly once.
func (c *Controller) finish(a *attempt, state State, err error, failure *FailureEvent) {
	if a.state.Terminal() {
		return
	}
	a.state = state
	a.err = err
	a.timers.stop()

	switch state {
	case StateCancelled:
		a.outcome.Cancel()
		a.domReady.Cancel()
	case StateFailed:
		a.outcome.Resolve(false)
		a.domReady.Resolve(false)
	}

	c.metrics.AttemptFinished(state.String(), c.clock.Since(a.startedAt))
	if failure != nil {
		c.logger.Error("navigation failed",
			zap.Uint64("epoch", a.epoch),
			zap.String("attempt_id", a.id.String()),
			zap.String("uri", a.uri),
			zap.Int("retry", a.retryCount),
			zap.Error(err),
		)
		c.reporter.fail(*failure)
	}
	close(a.finished)
}

// failCommand surfaces a command that could not be issued for a fresh attempt.
func (c *Controller) failCommand(a *attempt, name string, cause error) {
	err := &NavigationError{
		Kind:  KindProtocol,
		URI:   a.uri,
		Epoch: a.epoch,
		Err:   fmt.Errorf("%w: %s: %v", ErrEngineCommand, name, cause),
	}
	c.reporter.report(a.epoch, StageFailed, 0, err.Error(), true)
	c.finish(a, StateFailed, err, &FailureEvent{
		Epoch:   a.epoch,
		URI:     a.uri,
		Message: err.Error(),
	})
}

// active returns the live, non-terminal attempt for epoch, or nil.
func (c *Controller) active(epoch uint64) *attempt {
	a := c.current
	if a == nil || a.epoch != epoch || !c.epoch.IsCurrent(epoch) || a.state.Terminal() {
		return nil
	}
	return a
}
