package fetch

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/navigator/internal/engine/fetch/sandbox"
	"github.com/GriffinCanCode/AgentOS/navigator/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/navigator/internal/navigation"
)

// Name labels this engine in metrics.
const Name = "fetch"

const snapshotTextLimit = 500

var (
	ErrClosed            = errors.New("fetch engine is closed")
	ErrNoHistory         = errors.New("no history entry in that direction")
	ErrUnsupportedScheme = errors.New("unsupported url scheme")
)

// Config tunes the fetch engine.
type Config struct {
	UserAgent       string
	RequestTimeout  time.Duration
	ScriptTimeout   time.Duration
	SandboxPool     int
	RequestsPerHost float64
	Retries         int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		UserAgent:       "AgentOS-Navigator/1.0",
		RequestTimeout:  20 * time.Second,
		ScriptTimeout:   5 * time.Second,
		SandboxPool:     4,
		RequestsPerHost: 10,
		Retries:         2,
	}
}

// PageInfo describes the committed document.
type PageInfo struct {
	URI          string    `json:"uri"`
	Title        string    `json:"title"`
	Status       int       `json:"status"`
	Charset      string    `json:"charset"`
	Text         string    `json:"text"`
	LoadedAt     time.Time `json:"loaded_at"`
	Loading      bool      `json:"loading"`
	CanGoBack    bool      `json:"can_go_back"`
	CanGoForward bool      `json:"can_go_forward"`
}

// Engine is an in-process page engine. It fetches documents over HTTP,
// parses them with goquery and runs scripts against them in a goja sandbox.
// Every command returns immediately; progress arrives through Subscribe.
type Engine struct {
	cfg       Config
	client    *Client
	pool      *sandbox.Pool
	sanitizer *bluemonday.Policy
	logger    *zap.Logger
	metrics   *monitoring.Metrics

	// emitMu serializes delivery so subscribers observe events in order.
	emitMu sync.Mutex

	mu       sync.Mutex
	handlers map[uint64]func(navigation.Event)
	nextID   uint64
	history  []string
	index    int
	inflight *load
	page     *page
	closed   bool
	wg       sync.WaitGroup
}

type load struct {
	uri    string
	ctx    context.Context
	cancel context.CancelFunc
}

type page struct {
	uri      string
	status   int
	charset  string
	dom      *sandbox.DOM
	loadedAt time.Time
}

// New creates a fetch engine. metrics may be nil.
func New(cfg Config, logger *zap.Logger, metrics *monitoring.Metrics) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	sbCfg := sandbox.DefaultConfig()
	if cfg.ScriptTimeout > 0 {
		sbCfg.Timeout = cfg.ScriptTimeout
	}
	pool, err := sandbox.NewPool(sbCfg, cfg.SandboxPool)
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox pool: %w", err)
	}

	return &Engine{
		cfg: cfg,
		client: NewClient(ClientConfig{
			UserAgent:       cfg.UserAgent,
			Timeout:         cfg.RequestTimeout,
			Retries:         cfg.Retries,
			RequestsPerHost: cfg.RequestsPerHost,
		}),
		pool:      pool,
		sanitizer: bluemonday.StrictPolicy().AddSpaceWhenStrippingTag(true),
		logger:    logger.Named("fetch"),
		metrics:   metrics,
		handlers:  make(map[uint64]func(navigation.Event)),
		index:     -1,
	}, nil
}

// Navigate starts loading uri as a new history entry.
func (e *Engine) Navigate(uri string) error {
	if err := validate(uri); err != nil {
		return err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.history = append(e.history[:e.index+1], uri)
	e.index = len(e.history) - 1
	e.mu.Unlock()

	e.start(uri, false)
	return nil
}

// Stop aborts the in-flight load, which then completes with
// ErrorOperationCanceled. It is a no-op when nothing is loading.
func (e *Engine) Stop() error {
	e.mu.Lock()
	l := e.inflight
	e.inflight = nil
	e.mu.Unlock()

	if l != nil {
		e.abort(l)
	}
	return nil
}

// Reload loads the current history entry again. With nothing loaded yet it
// opens the blank page.
func (e *Engine) Reload(bypassCache bool) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.index < 0 {
		e.history = []string{navigation.BlankPage}
		e.index = 0
	}
	uri := e.history[e.index]
	e.mu.Unlock()

	e.start(uri, bypassCache)
	return nil
}

// GoBack loads the previous history entry.
func (e *Engine) GoBack() error {
	return e.traverse(-1)
}

// GoForward loads the next history entry.
func (e *Engine) GoForward() error {
	return e.traverse(1)
}

func (e *Engine) traverse(delta int) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	next := e.index + delta
	if next < 0 || next >= len(e.history) {
		e.mu.Unlock()
		return ErrNoHistory
	}
	e.index = next
	uri := e.history[next]
	e.mu.Unlock()

	e.start(uri, false)
	return nil
}

// ExecuteScript runs code against the committed document in a pooled sandbox.
func (e *Engine) ExecuteScript(ctx context.Context, code string) <-chan navigation.ScriptResult {
	ch := make(chan navigation.ScriptResult, 1)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		ch <- navigation.ScriptResult{Err: ErrClosed}
		return ch
	}
	pg := e.page
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()

		dom := sandbox.NewDOM(nil, e.windowStop)
		if pg != nil {
			dom = pg.dom
		}

		timer := monitoring.NewTimer(e.metrics, Name, "execute_script")
		res, err := e.pool.Execute(ctx, code, dom)
		timer.StopErr(err)
		if err != nil {
			ch <- navigation.ScriptResult{Err: err}
			return
		}
		ch <- navigation.ScriptResult{Value: res.JSON}
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

// Snapshot describes the committed page.
func (e *Engine) Snapshot() PageInfo {
	e.mu.Lock()
	pg := e.page
	info := PageInfo{
		Loading:      e.inflight != nil,
		CanGoBack:    e.index > 0,
		CanGoForward: e.index >= 0 && e.index < len(e.history)-1,
	}
	e.mu.Unlock()

	if pg == nil {
		return info
	}
	info.URI = pg.uri
	info.Status = pg.status
	info.Charset = pg.charset
	info.LoadedAt = pg.loadedAt
	info.Title = pg.dom.Title()
	if body, err := pg.dom.HTML(); err == nil {
		info.Text = e.plainText(body)
	}
	return info
}

// BreakerStates reports the per-host circuit breaker states.
func (e *Engine) BreakerStates() map[string]string {
	states := e.client.BreakerStates()
	out := make(map[string]string, len(states))
	for host, state := range states {
		out[host] = state.String()
	}
	return out
}

// SandboxStats reports the script runtime pool.
func (e *Engine) SandboxStats() sandbox.PoolStats {
	return e.pool.Stats()
}

// Close aborts loading, waits for engine goroutines and releases the sandbox pool.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	l := e.inflight
	e.inflight = nil
	e.mu.Unlock()

	if l != nil {
		l.cancel()
	}
	e.wg.Wait()
	return e.pool.Close()
}

func (e *Engine) start(uri string, bypass bool) {
	ctx, cancel := context.WithCancel(context.Background())
	l := &load{uri: uri, ctx: ctx, cancel: cancel}

	e.mu.Lock()
	prev := e.inflight
	e.inflight = l
	e.wg.Add(1)
	e.mu.Unlock()

	if prev != nil {
		e.abort(prev)
	}

	go func() {
		defer e.wg.Done()
		defer cancel()
		e.run(l, bypass)
	}()
}

// abort cancels l and reports it. The caller must already have retired l.
func (e *Engine) abort(l *load) {
	l.cancel()
	e.logger.Debug("load aborted", zap.String("uri", l.uri))
	e.deliver(navigation.Event{
		Kind: navigation.EventNavigationCompleted,
		URI:  l.uri,
		Code: navigation.ErrorOperationCanceled,
	})
}

func (e *Engine) windowStop() {
	_ = e.Stop()
}

func (e *Engine) run(l *load, bypass bool) {
	timer := monitoring.NewTimer(e.metrics, Name, "load")
	if !e.emit(l, navigation.Event{Kind: navigation.EventNavigationStarting, URI: l.uri}, false) {
		timer.Stop("cancelled")
		return
	}
	e.logger.Debug("loading", zap.String("uri", l.uri), zap.Bool("bypass_cache", bypass))

	if l.uri == navigation.BlankPage {
		e.commit(l, &Response{URL: l.uri, Status: 200, ContentType: "text/html; charset=utf-8"})
		timer.Stop("success")
		return
	}

	resp, err := e.client.Fetch(l.ctx, l.uri, bypass)
	host := hostOf(l.uri)
	if err != nil && resp == nil {
		if l.ctx.Err() != nil {
			// whoever retired the load reports the cancellation
			timer.Stop("cancelled")
			return
		}
		code := Classify(err)
		e.recordFetch(host, "error")
		e.logger.Warn("load failed",
			zap.String("uri", l.uri),
			zap.String("code", code.String()),
			zap.Error(err))
		e.emit(l, navigation.Event{Kind: navigation.EventNavigationCompleted, URI: l.uri, Code: code}, true)
		timer.Stop("error")
		return
	}
	e.recordFetch(host, statusClass(resp.Status))

	if resp.URL != l.uri {
		e.redirected(l.uri, resp.URL)
	}
	if !e.emit(l, navigation.Event{Kind: navigation.EventSourceChanged, URI: resp.URL}, false) {
		timer.Stop("cancelled")
		return
	}
	if !e.emit(l, navigation.Event{Kind: navigation.EventContentLoading, URI: resp.URL}, false) {
		timer.Stop("cancelled")
		return
	}

	if resp.Status >= 400 {
		e.logger.Warn("load returned error status", zap.String("uri", resp.URL), zap.Int("status", resp.Status))
		e.emit(l, navigation.Event{
			Kind:       navigation.EventNavigationCompleted,
			URI:        resp.URL,
			Code:       navigation.ErrorHTTPStatus,
			HTTPStatus: resp.Status,
		}, true)
		timer.Stop("error")
		return
	}

	e.commit(l, resp)
	timer.Stop("success")
}

// commit parses resp, makes it the current page and reports DOM readiness and completion.
func (e *Engine) commit(l *load, resp *Response) {
	doc, name, err := parseHTML(resp.Body, resp.ContentType)
	if err != nil {
		e.logger.Warn("parse failed", zap.String("uri", resp.URL), zap.Error(err))
		e.emit(l, navigation.Event{Kind: navigation.EventNavigationCompleted, URI: resp.URL, Code: navigation.ErrorUnknown}, true)
		return
	}

	pg := &page{
		uri:      resp.URL,
		status:   resp.Status,
		charset:  name,
		dom:      sandbox.NewDOM(doc, e.windowStop),
		loadedAt: time.Now(),
	}
	if l.uri == navigation.BlankPage {
		if !e.emit(l, navigation.Event{Kind: navigation.EventSourceChanged, URI: resp.URL}, false) {
			return
		}
		if !e.emit(l, navigation.Event{Kind: navigation.EventContentLoading, URI: resp.URL}, false) {
			return
		}
	}

	e.mu.Lock()
	if e.inflight != l {
		e.mu.Unlock()
		return
	}
	e.page = pg
	e.mu.Unlock()

	if !e.emit(l, navigation.Event{Kind: navigation.EventDOMContentLoaded, URI: resp.URL}, false) {
		return
	}
	e.emit(l, navigation.Event{
		Kind:       navigation.EventNavigationCompleted,
		URI:        resp.URL,
		Success:    true,
		HTTPStatus: resp.Status,
	}, true)
}

// emit delivers ev if l is still the in-flight load. A final event also
// retires l, so each load reports exactly one completion.
func (e *Engine) emit(l *load, ev navigation.Event, final bool) bool {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()

	e.mu.Lock()
	if e.inflight != l {
		e.mu.Unlock()
		return false
	}
	if final {
		e.inflight = nil
	}
	handlers := e.handlerList()
	e.mu.Unlock()

	for _, fn := range handlers {
		fn(ev)
	}
	return true
}

func (e *Engine) deliver(ev navigation.Event) {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()

	e.mu.Lock()
	handlers := e.handlerList()
	e.mu.Unlock()

	for _, fn := range handlers {
		fn(ev)
	}
}

// handlerList must be called with mu held.
func (e *Engine) handlerList() []func(navigation.Event) {
	list := make([]func(navigation.Event), 0, len(e.handlers))
	for _, fn := range e.handlers {
		list = append(list, fn)
	}
	return list
}

// redirected rewrites the current history entry to the final URL.
func (e *Engine) redirected(from, to string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.index >= 0 && e.history[e.index] == from {
		e.history[e.index] = to
	}
}

func (e *Engine) recordFetch(host, class string) {
	if e.metrics != nil {
		e.metrics.RecordFetch(host, class)
	}
}

func (e *Engine) plainText(body string) string {
	text := html.UnescapeString(e.sanitizer.Sanitize(body))
	text = strings.Join(strings.Fields(text), " ")
	if runes := []rune(text); len(runes) > snapshotTextLimit {
		text = string(runes[:snapshotTextLimit])
	}
	return text
}

func validate(uri string) error {
	if uri == navigation.BlankPage {
		return nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", uri, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid url %q: missing host", uri)
	}
	return nil
}

func hostOf(uri string) string {
	if u, err := url.Parse(uri); err == nil && u.Host != "" {
		return u.Host
	}
	return "unknown"
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "other"
	}
	return strconv.Itoa(status/100) + "xx"
}
