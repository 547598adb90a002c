package navigation

import (
	"context"
	"sync"
)

// fakeEngine records commands and lets tests drive engine events by hand.
type fakeEngine struct {
	mu sync.Mutex

	handlers map[int]func(Event)
	history  []func(Event)
	nextSub  int

	navigates []string
	stops     int
	reloads   []bool
	backs     int
	forwards  int
	scripts   []string

	navigateErr error
	reloadErr   error
	backErr     error

	// respond decides whether a script gets an answer; nil hangs every script.
	respond func(code string) (ScriptResult, bool)
	// cancelOnStop emits NavigationCompleted(false, OperationCanceled) on Stop.
	cancelOnStop bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{handlers: make(map[int]func(Event))}
}

func (f *fakeEngine) Navigate(uri string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigates = append(f.navigates, uri)
	return f.navigateErr
}

func (f *fakeEngine) Stop() error {
	f.mu.Lock()
	f.stops++
	emit := f.cancelOnStop
	f.mu.Unlock()
	if emit {
		f.Emit(Event{Kind: EventNavigationCompleted, Code: ErrorOperationCanceled})
	}
	return nil
}

func (f *fakeEngine) Reload(bypassCache bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads = append(f.reloads, bypassCache)
	return f.reloadErr
}

func (f *fakeEngine) GoBack() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backs++
	return f.backErr
}

func (f *fakeEngine) GoForward() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forwards++
	return nil
}

func (f *fakeEngine) ExecuteScript(_ context.Context, code string) <-chan ScriptResult {
	f.mu.Lock()
	f.scripts = append(f.scripts, code)
	respond := f.respond
	f.mu.Unlock()

	ch := make(chan ScriptResult, 1)
	if respond == nil {
		return ch
	}
	if res, ok := respond(code); ok {
		ch <- res
	}
	return ch
}

func (f *fakeEngine) Subscribe(fn func(Event)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSub++
	key := f.nextSub
	f.handlers[key] = fn
	f.history = append(f.history, fn)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers, key)
	}
}

// Emit delivers ev to every live subscriber.
func (f *fakeEngine) Emit(ev Event) {
	f.mu.Lock()
	handlers := make([]func(Event), 0, len(f.handlers))
	for _, fn := range f.handlers {
		handlers = append(handlers, fn)
	}
	f.mu.Unlock()
	for _, fn := range handlers {
		fn(ev)
	}
}

// Handler returns the i-th subscription ever made, even if it was since removed.
func (f *fakeEngine) Handler(i int) func(Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history[i]
}

func (f *fakeEngine) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

func (f *fakeEngine) Navigates() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.navigates...)
}

func (f *fakeEngine) Stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

func (f *fakeEngine) Reloads() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.reloads...)
}

func (f *fakeEngine) Scripts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.scripts...)
}

func (f *fakeEngine) set(fn func(f *fakeEngine)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func respondAll(code string) (ScriptResult, bool) {
	return ScriptResult{Value: "1"}, true
}
