package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/dop251/goja"
)

// ErrScriptTimeout is returned when a script runs past Config.Timeout.
var ErrScriptTimeout = errors.New("script execution timeout exceeded")

const (
	interruptTimeout   = "timeout"
	interruptCancelled = "cancelled"
)

// Runtime wraps goja VM with security controls
type Runtime struct {
	vm     *goja.Runtime
	config Config
	mu     sync.Mutex

	consoleMu sync.Mutex
	console   []LogEntry
}

// New creates a new sandboxed runtime
func New(config Config) (*Runtime, error) {
	r := &Runtime{config: config}
	if err := r.init(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Runtime) init() error {
	r.vm = goja.New()
	if r.config.MaxCallStackSize > 0 {
		r.vm.SetMaxCallStackSize(r.config.MaxCallStackSize)
	}
	r.console = nil
	return r.setupGlobals()
}

// Execute runs script against dom, which may be nil. The run is interrupted
// when the configured timeout elapses or ctx is done.
func (r *Runtime) Execute(ctx context.Context, script string, dom *DOM) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.vm == nil {
		return nil, errors.New("runtime is closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	result := &Result{JSON: "null"}

	r.consoleMu.Lock()
	r.console = nil
	r.consoleMu.Unlock()

	mark := 0
	if dom != nil && r.config.EnableDOM {
		mark = dom.changeCount()
		if err := r.injectDOM(dom); err != nil {
			return nil, fmt.Errorf("failed to inject DOM: %w", err)
		}
	}

	timeout := r.config.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-timer.C:
			r.vm.Interrupt(interruptTimeout)
		case <-ctx.Done():
			r.vm.Interrupt(interruptCancelled)
		case <-done:
		}
	}()

	val, err := r.vm.RunString(script)
	close(done)
	<-exited
	r.vm.ClearInterrupt()

	result.Duration = time.Since(start)
	r.consoleMu.Lock()
	result.Console = append([]LogEntry(nil), r.console...)
	r.consoleMu.Unlock()
	if dom != nil {
		result.Changes = dom.since(mark)
	}

	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			if interrupted.Value() == interruptCancelled && ctx.Err() != nil {
				return result, ctx.Err()
			}
			return result, ErrScriptTimeout
		}
		return result, err
	}

	result.Value = exportValue(val)
	result.JSON = encodeJSON(val, result.Value)
	return result, nil
}

// setupGlobals configures global objects and security
func (r *Runtime) setupGlobals() error {
	for _, name := range []string{"require", "process", "module", "exports"} {
		if err := r.vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}

	if r.config.EnableConsole {
		console := r.vm.NewObject()
		for _, level := range []string{"log", "info", "warn", "error", "debug"} {
			if err := console.Set(level, r.makeConsoleFunc(level)); err != nil {
				return err
			}
		}
		if err := r.vm.Set("console", console); err != nil {
			return err
		}
	}

	// timers never fire inside the sandbox
	noop := func(goja.FunctionCall) goja.Value { return goja.Undefined() }
	for _, name := range []string{"setTimeout", "setInterval", "clearTimeout", "clearInterval"} {
		if err := r.vm.Set(name, noop); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runtime) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}

		r.consoleMu.Lock()
		r.console = append(r.console, LogEntry{
			Level:   level,
			Message: strings.Join(parts, " "),
			Time:    time.Now(),
		})
		r.consoleMu.Unlock()
		return goja.Undefined()
	}
}

// injectDOM binds document and window to dom for the next run.
func (r *Runtime) injectDOM(dom *DOM) error {
	document := r.vm.NewObject()
	if err := document.Set("querySelector", func(call goja.FunctionCall) goja.Value {
		found := dom.Query(call.Argument(0).String())
		if len(found) == 0 {
			return goja.Null()
		}
		return r.elementValue(found[0])
	}); err != nil {
		return err
	}
	if err := document.Set("querySelectorAll", func(call goja.FunctionCall) goja.Value {
		return r.elementList(dom.Query(call.Argument(0).String()))
	}); err != nil {
		return err
	}
	if err := document.Set("getElementById", func(call goja.FunctionCall) goja.Value {
		found := dom.Query("#" + call.Argument(0).String())
		if len(found) == 0 {
			return goja.Null()
		}
		return r.elementValue(found[0])
	}); err != nil {
		return err
	}
	if err := document.Set("getElementsByTagName", func(call goja.FunctionCall) goja.Value {
		return r.elementList(dom.Query(call.Argument(0).String()))
	}); err != nil {
		return err
	}
	if err := document.Set("title", dom.Title()); err != nil {
		return err
	}

	window := r.vm.NewObject()
	if err := window.Set("stop", func(goja.FunctionCall) goja.Value {
		dom.Stop()
		return goja.Undefined()
	}); err != nil {
		return err
	}
	if err := window.Set("document", document); err != nil {
		return err
	}

	if err := r.vm.Set("document", document); err != nil {
		return err
	}
	return r.vm.Set("window", window)
}

func (r *Runtime) elementList(elements []*Element) goja.Value {
	items := make([]interface{}, len(elements))
	for i, el := range elements {
		items[i] = r.elementValue(el)
	}
	return r.vm.NewArray(items...)
}

// elementValue builds a JS proxy for el. Media elements get a pause method so
// feature checks like `el.pause && el.pause()` behave as in a browser.
func (r *Runtime) elementValue(el *Element) goja.Value {
	obj := r.vm.NewObject()
	_ = obj.Set("tagName", strings.ToUpper(el.TagName()))
	_ = obj.Set("id", el.ID())
	_ = obj.Set("className", el.ClassName())
	_ = obj.Set("textContent", el.Text())
	_ = obj.Set("getAttribute", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		if value := el.Attribute(name); value != "" {
			return r.vm.ToValue(value)
		}
		return goja.Null()
	})
	_ = obj.Set("setAttribute", func(call goja.FunctionCall) goja.Value {
		el.SetAttribute(call.Argument(0).String(), call.Argument(1).String())
		return goja.Undefined()
	})
	_ = obj.Set("remove", func(goja.FunctionCall) goja.Value {
		el.Remove()
		return goja.Undefined()
	})
	_ = obj.Set("querySelectorAll", func(call goja.FunctionCall) goja.Value {
		return r.elementList(el.Query(call.Argument(0).String()))
	})
	if el.Pausable() {
		_ = obj.Set("pause", func(goja.FunctionCall) goja.Value {
			el.Pause()
			return goja.Undefined()
		})
	}
	return obj
}

func exportValue(val goja.Value) interface{} {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil
	}
	return val.Export()
}

// encodeJSON mirrors what a browser hands back from a script evaluation:
// undefined and null become "null", values that cannot be encoded fall back
// to their quoted string form.
func encodeJSON(val goja.Value, exported interface{}) string {
	if exported == nil {
		return "null"
	}
	out, err := sonic.MarshalString(exported)
	if err != nil {
		return strconv.Quote(val.String())
	}
	return out
}

// Reset discards all script state
func (r *Runtime) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.vm == nil {
		return errors.New("runtime is closed")
	}
	return r.init()
}

// Close releases resources
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vm = nil
	r.console = nil
	return nil
}
