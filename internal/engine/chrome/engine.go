package chrome

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/navigator/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/navigator/internal/navigation"
)

// Name labels this engine in metrics.
const Name = "chrome"

const errorPagePrefix = "chrome-error://"

// ErrClosed is returned by commands after Close.
var ErrClosed = errors.New("chrome engine is closed")

// Config selects the browser to drive.
type Config struct {
	Bin         string // launched when DebuggerURL is empty; empty finds or downloads one
	DebuggerURL string // attach to a running browser instead of launching
	Headless    bool
}

// Engine drives one Chrome tab over the DevTools protocol.
type Engine struct {
	logger  *zap.Logger
	metrics *monitoring.Metrics

	ctx      context.Context
	cancel   context.CancelFunc
	browser  *rod.Browser
	page     *rod.Page
	launcher *launcher.Launcher
	wg       sync.WaitGroup

	emitMu sync.Mutex

	mu        sync.Mutex
	handlers  map[uint64]func(navigation.Event)
	nextID    uint64
	loading   bool
	errorPage bool
	status    int
	uri       string
	closed    bool
}

func newEngine(logger *zap.Logger, metrics *monitoring.Metrics) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		logger:   logger.Named("chrome"),
		metrics:  metrics,
		ctx:      ctx,
		cancel:   cancel,
		handlers: make(map[uint64]func(navigation.Event)),
	}
}

// New connects to cfg.DebuggerURL, or launches a browser, and opens a blank tab.
func New(cfg Config, logger *zap.Logger, metrics *monitoring.Metrics) (*Engine, error) {
	e := newEngine(logger, metrics)

	controlURL := cfg.DebuggerURL
	if controlURL == "" {
		l := launcher.New().Headless(cfg.Headless)
		if cfg.Bin != "" {
			l = l.Bin(cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			e.cancel()
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		e.launcher = l
		controlURL = u
	}

	e.browser = rod.New().ControlURL(controlURL).Context(e.ctx)
	if err := e.browser.Connect(); err != nil {
		e.shutdown()
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	page, err := e.browser.Page(proto.TargetCreateTarget{URL: navigation.BlankPage})
	if err != nil {
		e.shutdown()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	e.page = page

	if err := e.listen(); err != nil {
		e.shutdown()
		return nil, err
	}
	e.logger.Info("chrome engine ready", zap.String("control_url", controlURL))
	return e, nil
}

func (e *Engine) listen() error {
	if err := (proto.PageEnable{}).Call(e.page); err != nil {
		return fmt.Errorf("enable page domain: %w", err)
	}
	if err := (proto.NetworkEnable{}).Call(e.page); err != nil {
		return fmt.Errorf("enable network domain: %w", err)
	}

	frameID := e.page.FrameID
	wait := e.page.Context(e.ctx).EachEvent(
		func(ev *proto.PageFrameStartedLoading) {
			if ev.FrameID == frameID {
				e.started()
			}
		},
		func(ev *proto.PageFrameNavigated) {
			if ev.Frame.ParentID == "" {
				e.navigated(ev.Frame.URL)
			}
		},
		func(ev *proto.NetworkResponseReceived) {
			if ev.Type == proto.NetworkResourceTypeDocument && ev.FrameID == frameID {
				e.responded(ev.Response.Status)
			}
		},
		func(*proto.PageDomContentEventFired) {
			e.domReady()
		},
		func(*proto.PageLoadEventFired) {
			e.loaded()
		},
	)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		wait()
	}()
	return nil
}

// Navigate starts loading uri in the tab.
func (e *Engine) Navigate(uri string) error {
	if err := e.usable(); err != nil {
		return err
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		timer := monitoring.NewTimer(e.metrics, Name, "navigate")
		err := e.page.Context(e.ctx).Navigate(uri)
		timer.StopErr(err)
		if err != nil {
			e.failed(uri, err)
		}
	}()
	return nil
}

// Stop halts loading. An interrupted load completes with ErrorOperationCanceled.
func (e *Engine) Stop() error {
	if err := e.usable(); err != nil {
		return err
	}
	if err := (proto.PageStopLoading{}).Call(e.page); err != nil {
		return fmt.Errorf("stop loading: %w", err)
	}

	e.mu.Lock()
	wasLoading := e.loading
	e.loading = false
	uri := e.uri
	e.mu.Unlock()

	if wasLoading {
		e.deliver(navigation.Event{
			Kind: navigation.EventNavigationCompleted,
			URI:  uri,
			Code: navigation.ErrorOperationCanceled,
		})
	}
	return nil
}

// Reload reloads the tab, optionally bypassing the cache.
func (e *Engine) Reload(bypassCache bool) error {
	if err := e.usable(); err != nil {
		return err
	}
	return (proto.PageReload{IgnoreCache: bypassCache}).Call(e.page)
}

// GoBack navigates one history entry back.
func (e *Engine) GoBack() error {
	if err := e.usable(); err != nil {
		return err
	}
	return e.page.NavigateBack()
}

// GoForward navigates one history entry forward.
func (e *Engine) GoForward() error {
	if err := e.usable(); err != nil {
		return err
	}
	return e.page.NavigateForward()
}

// ExecuteScript evaluates code in the page. The channel stays empty while
// the renderer is hung and ctx is still live.
func (e *Engine) ExecuteScript(ctx context.Context, code string) <-chan navigation.ScriptResult {
	ch := make(chan navigation.ScriptResult, 1)
	if err := e.usable(); err != nil {
		ch <- navigation.ScriptResult{Err: err}
		return ch
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		timer := monitoring.NewTimer(e.metrics, Name, "execute_script")
		res, err := proto.RuntimeEvaluate{
			Expression:    code,
			ReturnByValue: true,
			AwaitPromise:  true,
		}.Call(e.page.Context(ctx))
		if err == nil && res.ExceptionDetails != nil {
			err = fmt.Errorf("script exception: %s", res.ExceptionDetails.Text)
		}
		timer.StopErr(err)
		if err != nil {
			ch <- navigation.ScriptResult{Err: err}
			return
		}
		ch <- navigation.ScriptResult{Value: res.Result.Value.JSON("", "")}
	}()
	return ch
}

// Subscribe registers fn for every subsequent event.
func (e *Engine) Subscribe(fn func(navigation.Event)) func() {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.handlers[id] = fn
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.handlers, id)
			e.mu.Unlock()
		})
	}
}

// Close closes the tab and the browser connection, and kills a launched browser.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	var err error
	if e.page != nil {
		err = e.page.Close()
	}
	e.shutdown()
	return err
}

func (e *Engine) shutdown() {
	if e.browser != nil {
		_ = e.browser.Close()
	}
	e.cancel()
	e.wg.Wait()
	if e.launcher != nil {
		e.launcher.Cleanup()
	}
}

func (e *Engine) usable() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.page == nil {
		return ErrClosed
	}
	return nil
}

func (e *Engine) started() {
	e.mu.Lock()
	if e.loading {
		e.mu.Unlock()
		return
	}
	e.loading = true
	e.status = 0
	uri := e.uri
	e.mu.Unlock()

	e.deliver(navigation.Event{Kind: navigation.EventNavigationStarting, URI: uri})
}

func (e *Engine) navigated(uri string) {
	e.mu.Lock()
	e.errorPage = strings.HasPrefix(uri, errorPagePrefix)
	if e.errorPage {
		e.mu.Unlock()
		return
	}
	e.uri = uri
	e.mu.Unlock()

	e.deliver(navigation.Event{Kind: navigation.EventSourceChanged, URI: uri})
	e.deliver(navigation.Event{Kind: navigation.EventContentLoading, URI: uri})
}

func (e *Engine) responded(status int) {
	e.mu.Lock()
	e.status = status
	e.mu.Unlock()
}

func (e *Engine) domReady() {
	e.mu.Lock()
	skip := e.errorPage || !e.loading
	uri := e.uri
	e.mu.Unlock()

	if !skip {
		e.deliver(navigation.Event{Kind: navigation.EventDOMContentLoaded, URI: uri})
	}
}

func (e *Engine) loaded() {
	e.mu.Lock()
	if e.errorPage || !e.loading {
		e.mu.Unlock()
		return
	}
	e.loading = false
	ev := navigation.Event{
		Kind:       navigation.EventNavigationCompleted,
		URI:        e.uri,
		Success:    true,
		HTTPStatus: e.status,
	}
	e.mu.Unlock()

	if ev.HTTPStatus >= 400 {
		ev.Success = false
		ev.Code = navigation.ErrorHTTPStatus
	}
	e.deliver(ev)
}

// failed reports a navigation the browser refused. Aborts are reported by
// Stop or superseded by the next navigation.
func (e *Engine) failed(uri string, err error) {
	code := Classify(err)
	if code == navigation.ErrorOperationCanceled {
		return
	}

	e.mu.Lock()
	e.loading = false
	e.mu.Unlock()

	e.logger.Warn("navigation failed",
		zap.String("uri", uri),
		zap.String("code", code.String()),
		zap.Error(err))
	e.deliver(navigation.Event{Kind: navigation.EventNavigationCompleted, URI: uri, Code: code})
}

func (e *Engine) deliver(ev navigation.Event) {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()

	e.mu.Lock()
	handlers := make([]func(navigation.Event), 0, len(e.handlers))
	for _, fn := range e.handlers {
		handlers = append(handlers, fn)
	}
	e.mu.Unlock()

	for _, fn := range handlers {
		fn(ev)
	}
}
