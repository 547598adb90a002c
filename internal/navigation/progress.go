package navigation

import (
	"sync"

	"go.uber.org/zap"
)

// Stage names reported through ProgressChanged.
type Stage string

const (
	StageResolving  Stage = "Resolving"
	StageConnecting Stage = "Connecting"
	StageLoading    Stage = "Loading"
	StageDOMReady   Stage = "DOMReady"
	StageCompleted  Stage = "Completed"
	StageFailed     Stage = "Failed"
	StageStalled    Stage = "Stalled"
)

// ProgressEvent is emitted on every stage transition of the live attempt.
type ProgressEvent struct {
	Epoch      uint64 `json:"epoch"`
	Stage      Stage  `json:"stage"`
	Percentage int    `json:"percentage"`
	Message    string `json:"message"`
	IsError    bool   `json:"is_error"`
}

// FailureEvent is emitted once when an attempt ends in an unrecovered failure.
// Cancellation never produces one.
type FailureEvent struct {
	Epoch       uint64 `json:"epoch"`
	URI         string `json:"uri"`
	IsTimeout   bool   `json:"is_timeout"`
	IsStall     bool   `json:"is_stall"`
	IsCancelled bool   `json:"is_cancelled"`
	Message     string `json:"message"`
}

// ProgressHandler observes ProgressEvents.
type ProgressHandler func(ProgressEvent)

// FailureHandler observes FailureEvents.
type FailureHandler func(FailureEvent)

type progressEntry struct {
	id int
	fn ProgressHandler
}

type failureEntry struct {
	id int
	fn FailureHandler
}

// reporter fans stage transitions out to listeners. It never panics.
// Listeners run in report order on a dispatch goroutine of their own, so they
// may call back into the Controller.
type reporter struct {
	logger   *zap.Logger
	dispatch *executor

	mu       sync.RWMutex
	nextID   int
	progress []progressEntry
	failures []failureEntry
	status   string
}

func newReporter(logger *zap.Logger) *reporter {
	return &reporter{logger: logger, dispatch: newExecutor(logger), status: "Idle"}
}

func (r *reporter) onProgress(fn ProgressHandler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.progress = append(r.progress, progressEntry{id: id, fn: fn})
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, e := range r.progress {
			if e.id == id {
				r.progress = append(r.progress[:i:i], r.progress[i+1:]...)
				return
			}
		}
	}
}

func (r *reporter) onFailure(fn FailureHandler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.failures = append(r.failures, failureEntry{id: id, fn: fn})
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, e := range r.failures {
			if e.id == id {
				r.failures = append(r.failures[:i:i], r.failures[i+1:]...)
				return
			}
		}
	}
}

// report translates a stage transition into a ProgressEvent.
func (r *reporter) report(epoch uint64, stage Stage, percent int, message string, isError bool) {
	if percent < 0 {
		percent = 0
	} else if percent > 100 {
		percent = 100
	}
	ev := ProgressEvent{Epoch: epoch, Stage: stage, Percentage: percent, Message: message, IsError: isError}

	r.mu.Lock()
	r.status = message
	handlers := make([]ProgressHandler, 0, len(r.progress))
	for _, e := range r.progress {
		handlers = append(handlers, e.fn)
	}
	r.mu.Unlock()

	r.dispatch.post(func() {
		for _, fn := range handlers {
			r.invoke("progress", func() { fn(ev) })
		}
	})
}

func (r *reporter) fail(ev FailureEvent) {
	r.mu.RLock()
	handlers := make([]FailureHandler, 0, len(r.failures))
	for _, e := range r.failures {
		handlers = append(handlers, e.fn)
	}
	r.mu.RUnlock()

	r.dispatch.post(func() {
		for _, fn := range handlers {
			r.invoke("failure", func() { fn(ev) })
		}
	})
}

// sync waits until every event reported so far has been delivered.
// Must not be called from a listener.
func (r *reporter) sync() {
	_ = r.dispatch.do(func() error { return nil })
}

// close delivers pending events and stops the dispatch goroutine. It does
// not wait, so a listener may dispose the Controller.
func (r *reporter) close() {
	r.dispatch.shutdown()
}

func (r *reporter) setStatus(message string) {
	r.mu.Lock()
	r.status = message
	r.mu.Unlock()
}

func (r *reporter) currentStatus() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

func (r *reporter) invoke(kind string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("navigation listener panicked",
				zap.String("listener", kind),
				zap.Any("panic", rec),
			)
		}
	}()
	fn()
}
