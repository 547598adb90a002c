package navigation

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

const (
	waitFor = 2 * time.Second
	tick    = 2 * time.Millisecond
)

// recorder collects listener events. sync, when set, waits for pending
// deliveries before a read.
type recorder struct {
	sync func()

	mu       sync.Mutex
	progress []ProgressEvent
	failures []FailureEvent
}

func (r *recorder) settle() {
	if r.sync != nil {
		r.sync()
	}
}

func (r *recorder) onProgress(ev ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, ev)
}

func (r *recorder) onFailure(ev FailureEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, ev)
}

func (r *recorder) Progress() []ProgressEvent {
	r.settle()
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ProgressEvent(nil), r.progress...)
}

func (r *recorder) Failures() []FailureEvent {
	r.settle()
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]FailureEvent(nil), r.failures...)
}

func (r *recorder) ProgressFor(epoch uint64) []ProgressEvent {
	var out []ProgressEvent
	for _, ev := range r.Progress() {
		if ev.Epoch == epoch {
			out = append(out, ev)
		}
	}
	return out
}

type countingMetrics struct {
	nopMetrics
	mu      sync.Mutex
	stale   int
	reloads map[string]int
	results map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{reloads: map[string]int{}, results: map[string]int{}}
}

func (m *countingMetrics) StaleEvent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stale++
}

func (m *countingMetrics) Reload(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloads[reason]++
}

func (m *countingMetrics) AttemptFinished(outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[outcome]++
}

func (m *countingMetrics) get(fn func(m *countingMetrics) int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m)
}

type harness struct {
	t       *testing.T
	ctrl    *Controller
	engine  *fakeEngine
	clock   *clock.Mock
	events  *recorder
	metrics *countingMetrics
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		engine:  newFakeEngine(),
		clock:   clock.NewMock(),
		events:  &recorder{},
		metrics: newCountingMetrics(),
	}
	h.ctrl = New(h.engine, opts, zaptest.NewLogger(t)).
		WithClock(h.clock).
		WithMetrics(h.metrics)
	h.events.sync = h.ctrl.reporter.sync
	h.ctrl.OnProgress(h.events.onProgress)
	h.ctrl.OnFailure(h.events.onFailure)
	t.Cleanup(func() { _ = h.ctrl.Dispose() })
	return h
}

// flush waits until every task queued so far has run on the executor.
func (h *harness) flush() {
	for i := 0; i < 2; i++ {
		require.NoError(h.t, h.ctrl.exec.do(func() error { return nil }))
	}
	h.ctrl.reporter.sync()
}

// advance moves the mock clock forward in steps, letting posted callbacks run
// between steps.
func (h *harness) advance(total, step time.Duration) {
	for elapsed := time.Duration(0); elapsed < total; elapsed += step {
		d := step
		if total-elapsed < step {
			d = total - elapsed
		}
		h.clock.Add(d)
		h.flush()
	}
}

// navigate runs NavigateTo in the background and waits until the engine saw it.
func (h *harness) navigate(ctx context.Context, address string, timeout time.Duration) <-chan error {
	h.t.Helper()
	before := len(h.engine.Navigates())
	done := make(chan error, 1)
	go func() { done <- h.ctrl.NavigateTo(ctx, address, timeout) }()
	require.Eventually(h.t, func() bool { return len(h.engine.Navigates()) > before }, waitFor, tick)
	h.flush()
	return done
}

func (h *harness) emit(evs ...Event) {
	for _, ev := range evs {
		h.engine.Emit(ev)
	}
	h.flush()
}

func (h *harness) snapshot() Snapshot {
	snap, err := h.ctrl.Snapshot()
	require.NoError(h.t, err)
	return snap
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(waitFor):
		t.Fatal("NavigateTo did not return")
		return nil
	}
}

func assertPending(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		t.Fatalf("NavigateTo returned early: %v", err)
	default:
	}
}

func happyEvents(uri string) []Event {
	return []Event{
		{Kind: EventNavigationStarting, URI: uri},
		{Kind: EventSourceChanged, URI: uri},
		{Kind: EventContentLoading},
		{Kind: EventDOMContentLoaded},
		{Kind: EventNavigationCompleted, Success: true},
	}
}

func TestNavigateHappyPath(t *testing.T) {
	h := newHarness(t, DefaultOptions())

	done := h.navigate(context.Background(), "example.com", 5*time.Second)
	assert.Equal(t, []string{"https://example.com"}, h.engine.Navigates())

	h.emit(happyEvents("https://example.com/")...)
	require.NoError(t, wait(t, done))

	progress := h.events.Progress()
	require.NotEmpty(t, progress)
	last := progress[len(progress)-1]
	assert.Equal(t, StageCompleted, last.Stage)
	assert.Equal(t, 100, last.Percentage)
	assert.False(t, last.IsError)

	var stages []Stage
	var percents []int
	for _, ev := range progress {
		stages = append(stages, ev.Stage)
		percents = append(percents, ev.Percentage)
	}
	assert.Equal(t, []Stage{StageResolving, StageConnecting, StageLoading, StageDOMReady, StageCompleted}, stages)
	assert.Equal(t, []int{10, 30, 50, 80, 100}, percents)
	assert.Empty(t, h.events.Failures())

	snap := h.snapshot()
	assert.Equal(t, "completed", snap.State)
	assert.Equal(t, "https://example.com/", snap.Address)
	assert.Equal(t, "Done", h.ctrl.Status())
	assert.Equal(t, 1, h.metrics.get(func(m *countingMetrics) int { return m.results["completed"] }))
}

func TestNavigateCompletionOrderIndependent(t *testing.T) {
	h := newHarness(t, DefaultOptions())

	done := h.navigate(context.Background(), "https://example.com", time.Second)
	h.emit(Event{Kind: EventNavigationCompleted, Success: true})
	assertPending(t, done)

	h.emit(Event{Kind: EventDOMContentLoaded})
	require.NoError(t, wait(t, done))
}

func TestStaleEventsAreIgnored(t *testing.T) {
	h := newHarness(t, DefaultOptions())

	first := h.navigate(context.Background(), "https://a.example", 10*time.Second)
	staleEpoch := h.ctrl.Epoch()
	staleHandler := h.engine.Handler(0)

	second := h.navigate(context.Background(), "https://b.example", 10*time.Second)
	assert.ErrorIs(t, wait(t, first), ErrCancelled)

	before := h.snapshot()
	progressBefore := len(h.events.Progress())

	for _, ev := range []Event{
		{Kind: EventNavigationStarting, URI: "https://a.example"},
		{Kind: EventSourceChanged, URI: "https://a.example/stale"},
		{Kind: EventDOMContentLoaded},
		{Kind: EventNavigationCompleted, Code: ErrorConnectionReset},
	} {
		staleHandler(ev)
	}
	h.flush()

	after := h.snapshot()
	assert.Equal(t, before, after)
	assert.Len(t, h.events.Progress(), progressBefore)
	assert.Empty(t, h.events.ProgressFor(staleEpoch))
	assert.Empty(t, h.events.Failures())
	assert.Equal(t, 4, h.metrics.get(func(m *countingMetrics) int { return m.stale }))

	h.emit(happyEvents("https://b.example/")...)
	require.NoError(t, wait(t, second))
}

func TestSignalsResolveOnce(t *testing.T) {
	h := newHarness(t, DefaultOptions())

	done := h.navigate(context.Background(), "https://example.com", 5*time.Second)
	h.emit(
		Event{Kind: EventDOMContentLoaded},
		Event{Kind: EventDOMContentLoaded},
		Event{Kind: EventNavigationCompleted, Success: true},
		Event{Kind: EventNavigationCompleted, Success: true},
	)
	require.NoError(t, wait(t, done))

	h.emit(Event{Kind: EventNavigationCompleted, Code: ErrorConnectionAborted})

	var outcome, domReady Disposition
	require.NoError(t, h.ctrl.exec.do(func() error {
		outcome = h.ctrl.current.outcome.Disposition()
		domReady = h.ctrl.current.domReady.Disposition()
		return nil
	}))
	assert.Equal(t, Succeeded, outcome)
	assert.Equal(t, Succeeded, domReady)
	assert.Equal(t, "completed", h.snapshot().State)
	assert.Empty(t, h.events.Failures())
	assert.Equal(t, 1, h.metrics.get(func(m *countingMetrics) int { return m.results["completed"] }))
}

func TestSupersededTimersAreNoOps(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	h.engine.set(func(f *fakeEngine) { f.respond = respondAll })

	first := h.navigate(context.Background(), "https://a.example", time.Second)
	staleEpoch := h.ctrl.Epoch()
	second := h.navigate(context.Background(), "https://b.example", 10*time.Second)
	assert.ErrorIs(t, wait(t, first), ErrCancelled)
	require.Equal(t, 1, h.engine.Stops(), "supersession stops the engine once")

	h.advance(3*time.Second, 100*time.Millisecond)

	assert.Equal(t, 1, h.engine.Stops())
	assert.Empty(t, h.engine.Reloads())
	assert.Empty(t, h.events.ProgressFor(staleEpoch))
	assert.Empty(t, h.events.Failures())
	assertPending(t, second)

	h.emit(happyEvents("https://b.example/")...)
	require.NoError(t, wait(t, second))
}

func TestLadderOrdering(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	h.engine.set(func(f *fakeEngine) { f.respond = respondAll })

	done := h.navigate(context.Background(), "https://slow.example", time.Second)

	h.advance(999*time.Millisecond, 999*time.Millisecond)
	assert.Equal(t, 0, h.engine.Stops())

	h.advance(time.Millisecond, time.Millisecond)
	require.Eventually(t, func() bool { return h.engine.Stops() == 1 }, waitFor, tick)
	assert.Empty(t, h.engine.Reloads())

	h.advance(998*time.Millisecond, 998*time.Millisecond)
	assert.Empty(t, h.engine.Reloads())

	h.advance(time.Millisecond, time.Millisecond)
	require.Eventually(t, func() bool { return len(h.engine.Reloads()) == 1 }, waitFor, tick)
	assert.Equal(t, []bool{true}, h.engine.Reloads())

	// the grace escalation at 6s finds the hard path already taken
	h.advance(5*time.Second, 250*time.Millisecond)
	assert.Equal(t, 1, h.engine.Stops())
	assert.Equal(t, []bool{true}, h.engine.Reloads())
	assert.Empty(t, h.events.Failures())
	assertPending(t, done)

	var stalled []ProgressEvent
	for _, ev := range h.events.Progress() {
		if ev.Stage == StageStalled {
			stalled = append(stalled, ev)
		}
	}
	require.Len(t, stalled, 2)
	assert.Equal(t, 75, stalled[0].Percentage)

	h.emit(happyEvents("https://slow.example/")...)
	require.NoError(t, wait(t, done))
}

func TestGraceEscalationForcesHardPath(t *testing.T) {
	opts := DefaultOptions()
	opts.HardMultiplier = 20
	h := newHarness(t, opts)
	h.engine.set(func(f *fakeEngine) { f.respond = respondAll })

	done := h.navigate(context.Background(), "https://slow.example", time.Second)

	h.advance(time.Second, 100*time.Millisecond)
	require.Eventually(t, func() bool { return h.engine.Stops() == 1 }, waitFor, tick)

	h.advance(4500*time.Millisecond, 100*time.Millisecond)
	assert.Empty(t, h.engine.Reloads(), "escalation waits for the grace period")

	h.advance(time.Second, 100*time.Millisecond)
	require.Eventually(t, func() bool { return len(h.engine.Reloads()) == 1 }, waitFor, tick)

	// the natural hard deadline no longer fires
	h.advance(15*time.Second, 500*time.Millisecond)
	assert.Len(t, h.engine.Reloads(), 1)
	assert.Equal(t, 1, h.metrics.get(func(m *countingMetrics) int { return m.reloads["hard"] }))

	h.emit(happyEvents("https://slow.example/")...)
	require.NoError(t, wait(t, done))
}

func TestGraceEscalationSkippedWhenResolved(t *testing.T) {
	opts := DefaultOptions()
	opts.HardMultiplier = 20
	h := newHarness(t, opts)
	h.engine.set(func(f *fakeEngine) { f.respond = respondAll })

	done := h.navigate(context.Background(), "https://slow.example", time.Second)
	h.advance(time.Second, 100*time.Millisecond)
	require.Eventually(t, func() bool { return h.engine.Stops() == 1 }, waitFor, tick)

	h.emit(Event{Kind: EventDOMContentLoaded}, Event{Kind: EventNavigationCompleted, Success: true})
	require.NoError(t, wait(t, done))
	h.advance(6*time.Second, 250*time.Millisecond)
	assert.Empty(t, h.engine.Reloads())
}

func TestCompletionWithoutDocumentStillRecovers(t *testing.T) {
	h := newHarness(t, DefaultOptions())

	done := h.navigate(context.Background(), "https://nodom.example", time.Second)
	h.emit(Event{Kind: EventNavigationStarting}, Event{Kind: EventNavigationCompleted, Success: true})
	assertPending(t, done)

	h.advance(time.Second, 100*time.Millisecond)
	require.Eventually(t, func() bool { return h.engine.Stops() == 1 }, waitFor, tick)

	h.advance(time.Second, 100*time.Millisecond)
	require.Eventually(t, func() bool { return len(h.engine.Reloads()) == 1 }, waitFor, tick)
	assert.Equal(t, []bool{true}, h.engine.Reloads())
	assertPending(t, done)

	h.emit(Event{Kind: EventDOMContentLoaded})
	require.NoError(t, wait(t, done))
	assert.Empty(t, h.events.Failures())
}

func TestBoundedStallRetries(t *testing.T) {
	h := newHarness(t, DefaultOptions())

	done := h.navigate(context.Background(), "https://frozen.example", 10*time.Minute)

	h.advance(70*time.Second, 100*time.Millisecond)

	err := wait(t, done)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStall)

	var navErr *NavigationError
	require.True(t, errors.As(err, &navErr))
	assert.Equal(t, KindStall, navErr.Kind)

	assert.Equal(t, []bool{true, true}, h.engine.Reloads())
	failures := h.events.Failures()
	require.Len(t, failures, 1)
	assert.True(t, failures[0].IsStall)
	assert.False(t, failures[0].IsTimeout)
	assert.False(t, failures[0].IsCancelled)

	mitigations := 0
	for _, code := range h.engine.Scripts() {
		if code == MitigationScript {
			mitigations++
		}
	}
	assert.Equal(t, 2, mitigations)

	h.advance(60*time.Second, 500*time.Millisecond)
	assert.Len(t, h.engine.Reloads(), 2)
	assert.Len(t, h.events.Failures(), 1)
	assert.Equal(t, "failed", h.snapshot().State)
}

func TestStallRecoveryWithMaxRetriesZero(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxRetries = 0
	h := newHarness(t, opts)

	done := h.navigate(context.Background(), "https://frozen.example", 10*time.Minute)
	h.advance(20*time.Second, 100*time.Millisecond)

	assert.ErrorIs(t, wait(t, done), ErrStall)
	assert.Empty(t, h.engine.Reloads())
}

func TestHeartbeatKeepsRespondingPageAlive(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	h.engine.set(func(f *fakeEngine) { f.respond = respondAll })

	done := h.navigate(context.Background(), "https://live.example", 10*time.Minute)
	h.advance(31*time.Second, 250*time.Millisecond)

	probes := 0
	for _, code := range h.engine.Scripts() {
		if code == HeartbeatScript {
			probes++
		}
	}
	assert.GreaterOrEqual(t, probes, 5)
	assert.Empty(t, h.engine.Reloads())
	assertPending(t, done)

	h.emit(happyEvents("https://live.example/")...)
	require.NoError(t, wait(t, done))
}

func TestHeartbeatScriptErrorIsNotAStall(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	h.engine.set(func(f *fakeEngine) {
		f.respond = func(string) (ScriptResult, bool) {
			return ScriptResult{Err: errors.New("script threw")}, true
		}
	})

	done := h.navigate(context.Background(), "https://live.example", 10*time.Minute)
	h.advance(40*time.Second, 250*time.Millisecond)

	assert.Empty(t, h.engine.Reloads())
	assertPending(t, done)
	require.NoError(t, h.ctrl.Stop())
	assert.ErrorIs(t, wait(t, done), ErrCancelled)
}

func TestStopIsSilent(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	h.engine.set(func(f *fakeEngine) { f.cancelOnStop = true })

	done := h.navigate(context.Background(), "https://example.com", 5*time.Second)
	epoch := h.ctrl.Epoch()
	handler := h.engine.Handler(0)
	h.emit(Event{Kind: EventNavigationStarting, URI: "https://example.com"})

	require.NoError(t, h.ctrl.Stop())
	err := wait(t, done)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, h.engine.Stops())
	assert.Equal(t, 0, h.engine.Subscribers())

	seen := len(h.events.ProgressFor(epoch))
	handler(Event{Kind: EventContentLoading})
	handler(Event{Kind: EventNavigationCompleted, Code: ErrorConnectionReset})
	h.advance(20*time.Second, 500*time.Millisecond)

	assert.Len(t, h.events.ProgressFor(epoch), seen)
	assert.Empty(t, h.events.Failures())
	assert.Empty(t, h.engine.Reloads())
	assert.Equal(t, "idle", h.snapshot().State)
	assert.Equal(t, "Stopped", h.ctrl.Status())
}

func TestStopWithoutAttempt(t *testing.T) {
	h := newHarness(t, DefaultOptions())

	require.NoError(t, h.ctrl.Stop())
	assert.Equal(t, 1, h.engine.Stops())
	assert.Empty(t, h.events.Failures())
}

func TestSoftStopCancellationIsAbsorbed(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	h.engine.set(func(f *fakeEngine) {
		f.respond = respondAll
		f.cancelOnStop = true
	})

	done := h.navigate(context.Background(), "https://slow.example", time.Second)
	h.advance(time.Second, 100*time.Millisecond)
	require.Eventually(t, func() bool { return h.engine.Stops() == 1 }, waitFor, tick)
	h.flush()

	assertPending(t, done)
	assert.Empty(t, h.events.Failures())
	assert.NotEqual(t, "cancelled", h.snapshot().State)

	h.advance(time.Second, 100*time.Millisecond)
	require.Eventually(t, func() bool { return len(h.engine.Reloads()) == 1 }, waitFor, tick)

	h.emit(happyEvents("https://slow.example/")...)
	require.NoError(t, wait(t, done))
}

func TestProtocolFailure(t *testing.T) {
	h := newHarness(t, DefaultOptions())

	done := h.navigate(context.Background(), "https://missing.invalid", 5*time.Second)
	h.emit(
		Event{Kind: EventNavigationStarting, URI: "https://missing.invalid"},
		Event{Kind: EventNavigationCompleted, Code: ErrorHostNameNotResolved},
	)

	err := wait(t, done)
	assert.ErrorIs(t, err, ErrProtocol)
	var navErr *NavigationError
	require.True(t, errors.As(err, &navErr))
	assert.Equal(t, ErrorHostNameNotResolved, navErr.Code)

	failures := h.events.Failures()
	require.Len(t, failures, 1)
	assert.False(t, failures[0].IsTimeout)
	assert.False(t, failures[0].IsStall)
	assert.False(t, failures[0].IsCancelled)
	assert.Contains(t, failures[0].Message, "host_name_not_resolved")

	progress := h.events.Progress()
	last := progress[len(progress)-1]
	assert.Equal(t, StageFailed, last.Stage)
	assert.Equal(t, 0, last.Percentage)
	assert.True(t, last.IsError)

	// no retry for protocol failures
	h.advance(30*time.Second, time.Second)
	assert.Empty(t, h.engine.Reloads())
}

func TestEngineCancellationIsNotAFailure(t *testing.T) {
	h := newHarness(t, DefaultOptions())

	done := h.navigate(context.Background(), "https://example.com", 5*time.Second)
	h.emit(Event{Kind: EventNavigationCompleted, Code: ErrorOperationCanceled})

	assert.ErrorIs(t, wait(t, done), ErrCancelled)
	assert.Empty(t, h.events.Failures())
	assert.Equal(t, "cancelled", h.snapshot().State)
}

func TestHardReloadFailureSurfacesTimeout(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	h.engine.set(func(f *fakeEngine) {
		f.respond = respondAll
		f.reloadErr = errors.New("webview gone")
	})

	done := h.navigate(context.Background(), "https://slow.example", time.Second)
	h.advance(2*time.Second, 100*time.Millisecond)

	err := wait(t, done)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, ErrEngineCommand)

	failures := h.events.Failures()
	require.Len(t, failures, 1)
	assert.True(t, failures[0].IsTimeout)
	assert.False(t, failures[0].IsStall)
}

func TestNavigateCommandFailure(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	h.engine.set(func(f *fakeEngine) { f.navigateErr = errors.New("no webview") })

	err := h.ctrl.NavigateTo(context.Background(), "example.com", time.Second)
	assert.ErrorIs(t, err, ErrProtocol)
	assert.ErrorIs(t, err, ErrEngineCommand)
	assert.Len(t, h.events.Failures(), 1)
}

func TestNavigateInvalidAddress(t *testing.T) {
	h := newHarness(t, DefaultOptions())

	err := h.ctrl.NavigateTo(context.Background(), "https://", time.Second)
	assert.ErrorIs(t, err, ErrInvalidAddress)
	assert.Empty(t, h.engine.Navigates())
}

func TestNavigateEmptyAddressLoadsBlankPage(t *testing.T) {
	h := newHarness(t, DefaultOptions())

	done := h.navigate(context.Background(), "", 0)
	assert.Equal(t, []string{BlankPage}, h.engine.Navigates())
	h.emit(happyEvents(BlankPage)...)
	require.NoError(t, wait(t, done))
}

func TestCallerContextCancellation(t *testing.T) {
	h := newHarness(t, DefaultOptions())

	ctx, cancel := context.WithCancel(context.Background())
	done := h.navigate(ctx, "https://example.com", 5*time.Second)
	cancel()

	err := wait(t, done)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, h.engine.Stops())
	assert.Empty(t, h.events.Failures())
}

func TestRefreshResetsRetries(t *testing.T) {
	h := newHarness(t, DefaultOptions())

	done := h.navigate(context.Background(), "https://frozen.example", 10*time.Minute)
	h.advance(18*time.Second, 100*time.Millisecond)
	require.Eventually(t, func() bool { return h.snapshot().RetryCount == 1 }, waitFor, tick)

	require.NoError(t, h.ctrl.Refresh())
	assert.Equal(t, 0, h.snapshot().RetryCount)
	reloads := h.engine.Reloads()
	assert.False(t, reloads[len(reloads)-1], "refresh keeps the cache")

	h.emit(happyEvents("https://frozen.example/")...)
	require.NoError(t, wait(t, done))
}

func TestRefreshWithoutAttemptStartsOne(t *testing.T) {
	h := newHarness(t, DefaultOptions())

	first := h.navigate(context.Background(), "https://example.com", time.Second)
	h.emit(happyEvents("https://example.com/")...)
	require.NoError(t, wait(t, first))
	epoch := h.ctrl.Epoch()

	require.NoError(t, h.ctrl.Refresh())
	assert.Equal(t, []bool{false}, h.engine.Reloads())
	assert.Greater(t, h.ctrl.Epoch(), epoch)

	snap := h.snapshot()
	assert.Equal(t, "https://example.com/", snap.URI)
	assert.Equal(t, "idle", snap.State)
	assert.NotEmpty(t, snap.AttemptID)
}

func TestHistoryCommands(t *testing.T) {
	h := newHarness(t, DefaultOptions())

	require.NoError(t, h.ctrl.GoBack())
	require.NoError(t, h.ctrl.GoForward())
	assert.Equal(t, 1, h.engine.backs)
	assert.Equal(t, 1, h.engine.forwards)

	h.engine.set(func(f *fakeEngine) { f.backErr = errors.New("no history") })
	assert.ErrorIs(t, h.ctrl.GoBack(), ErrEngineCommand)
}

func TestListenerPanicDoesNotBreakController(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	h.ctrl.OnProgress(func(ProgressEvent) { panic("listener bug") })

	done := h.navigate(context.Background(), "https://example.com", time.Second)
	h.emit(happyEvents("https://example.com/")...)
	require.NoError(t, wait(t, done))
	assert.NotEmpty(t, h.events.Progress())
}

func TestRemovedListenerStopsReceiving(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	extra := &recorder{sync: h.ctrl.reporter.sync}
	remove := h.ctrl.OnProgress(extra.onProgress)

	done := h.navigate(context.Background(), "https://example.com", time.Second)
	h.emit(Event{Kind: EventNavigationStarting})
	remove()
	h.emit(happyEvents("https://example.com/")[1:]...)
	require.NoError(t, wait(t, done))

	assert.Len(t, extra.Progress(), 1)
	assert.Len(t, h.events.Progress(), 5)
}

func TestDispose(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	engine := newFakeEngine()
	mock := clock.NewMock()
	ctrl := New(engine, DefaultOptions(), nil).WithClock(mock)
	var failures atomic.Int32
	ctrl.OnFailure(func(FailureEvent) { failures.Add(1) })

	done := make(chan error, 1)
	go func() { done <- ctrl.NavigateTo(context.Background(), "https://example.com", time.Second) }()
	require.Eventually(t, func() bool { return len(engine.Navigates()) == 1 }, waitFor, tick)

	mock.Add(5 * time.Second)
	require.NoError(t, ctrl.Dispose())
	assert.ErrorIs(t, wait(t, done), ErrCancelled)
	assert.Equal(t, 0, engine.Subscribers())

	assert.ErrorIs(t, ctrl.Dispose(), ErrDisposed)
	assert.ErrorIs(t, ctrl.NavigateTo(context.Background(), "https://example.com", time.Second), ErrDisposed)
	assert.ErrorIs(t, ctrl.Stop(), ErrDisposed)
	assert.ErrorIs(t, ctrl.Refresh(), ErrDisposed)
	_, err := ctrl.Snapshot()
	assert.ErrorIs(t, err, ErrDisposed)

	mock.Add(time.Minute)
	assert.Zero(t, failures.Load())
}

func TestFailureListenerMayCallBackIntoController(t *testing.T) {
	h := newHarness(t, DefaultOptions())

	type result struct{ refresh, dispose error }
	results := make(chan result, 1)
	var once sync.Once
	h.ctrl.OnFailure(func(FailureEvent) {
		once.Do(func() {
			var r result
			r.refresh = h.ctrl.Refresh()
			r.dispose = h.ctrl.Dispose()
			results <- r
		})
	})

	done := h.navigate(context.Background(), "https://down.example", 5*time.Second)
	h.engine.Emit(Event{Kind: EventNavigationCompleted, Code: ErrorCannotConnect})
	assert.ErrorIs(t, wait(t, done), ErrProtocol)

	select {
	case r := <-results:
		assert.NoError(t, r.refresh)
		assert.NoError(t, r.dispose)
	case <-time.After(waitFor):
		t.Fatal("listener blocked calling back into the controller")
	}
	assert.ErrorIs(t, h.ctrl.Refresh(), ErrDisposed)
	assert.Equal(t, 1, len(h.engine.Reloads()))
}

func TestProgressListenerMaySnapshot(t *testing.T) {
	h := newHarness(t, DefaultOptions())

	states := make(chan string, 16)
	h.ctrl.OnProgress(func(ProgressEvent) {
		snap, err := h.ctrl.Snapshot()
		if err == nil {
			states <- snap.State
		}
	})

	done := h.navigate(context.Background(), "https://example.com", time.Second)
	h.emit(happyEvents("https://example.com/")...)
	require.NoError(t, wait(t, done))
	h.flush()
	assert.NotEmpty(t, states)
}

func TestHugeTimeoutDoesNotFireImmediately(t *testing.T) {
	h := newHarness(t, DefaultOptions())

	done := h.navigate(context.Background(), "https://slow.example", time.Duration(math.MaxInt64/2+1))
	h.advance(time.Millisecond, time.Millisecond)

	assertPending(t, done)
	assert.Empty(t, h.engine.Reloads())
	assert.Zero(t, h.engine.Stops())
	assert.Empty(t, h.events.Failures())
	assert.NotEqual(t, "failed", h.snapshot().State)

	h.emit(happyEvents("https://slow.example/")...)
	require.NoError(t, wait(t, done))
}
