package navigation

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// executor runs tasks one at a time on a dedicated goroutine. It is the only
// goroutine that calls into the engine or mutates attempt state. The queue is
// unbounded so tasks may post follow-up work without deadlocking.
type executor struct {
	logger *zap.Logger

	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newExecutor(logger *zap.Logger) *executor {
	e := &executor{
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go e.run()
	return e
}

// post enqueues fn. It reports false once the executor is closed.
func (e *executor) post(fn func()) bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	e.queue = append(e.queue, fn)
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
	return true
}

// do runs fn on the executor and waits for it. Must not be called from a task.
func (e *executor) do(fn func() error) error {
	errc := make(chan error, 1)
	task := func() {
		defer func() {
			if rec := recover(); rec != nil {
				e.logger.Error("navigation task panicked", zap.Any("panic", rec))
				errc <- fmt.Errorf("navigation task panicked: %v", rec)
			}
		}()
		errc <- fn()
	}
	if !e.post(task) {
		return ErrDisposed
	}
	return <-errc
}

// close stops accepting tasks, drains the queue and waits for the loop to exit.
func (e *executor) close() {
	e.shutdown()
	<-e.done
}

// shutdown stops accepting tasks without waiting for the queue to drain.
// Safe to call from a task.
func (e *executor) shutdown() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *executor) run() {
	defer close(e.done)
	for {
		e.mu.Lock()
		for len(e.queue) == 0 && !e.closed {
			e.mu.Unlock()
			<-e.wake
			e.mu.Lock()
		}
		tasks := e.queue
		e.queue = nil
		closed := e.closed
		e.mu.Unlock()

		for _, task := range tasks {
			e.invoke(task)
		}
		if closed && len(tasks) == 0 {
			return
		}
	}
}

func (e *executor) invoke(task func()) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("navigation task panicked", zap.Any("panic", rec))
		}
	}()
	task()
}
