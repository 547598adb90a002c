package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrPoolClosed is returned once the pool has been closed.
	ErrPoolClosed = errors.New("sandbox pool is closed")
	// ErrPoolExhausted is returned when no runtime frees up within Config.AcquireWait.
	ErrPoolExhausted = errors.New("no sandbox runtime available")
)

// DefaultAcquireWait bounds how long Acquire waits for an idle runtime.
const DefaultAcquireWait = 5 * time.Second

// Pool keeps a fixed set of runtimes for page scripts. A runtime that cannot
// be reset is swapped for a fresh one so the pool keeps its size.
type Pool struct {
	cfg  Config
	size int
	wait time.Duration
	idle chan *Runtime

	// mu guards closed and every send on idle.
	mu     sync.RWMutex
	closed bool

	runs      atomic.Uint64
	failures  atomic.Uint64
	replaced  atomic.Uint64
	exhausted atomic.Uint64
}

// PoolStats is the occupancy and history of a Pool.
type PoolStats struct {
	Size      int    `json:"size"`
	Idle      int    `json:"idle"`
	Busy      int    `json:"busy"`
	Runs      uint64 `json:"runs"`
	Failures  uint64 `json:"failures"`
	Replaced  uint64 `json:"replaced"`
	Exhausted uint64 `json:"exhausted"`
	Closed    bool   `json:"closed"`
}

// NewPool starts size runtimes. A non-positive size means 4.
func NewPool(cfg Config, size int) (*Pool, error) {
	if size <= 0 {
		size = 4
	}
	wait := cfg.AcquireWait
	if wait <= 0 {
		wait = DefaultAcquireWait
	}

	p := &Pool{cfg: cfg, size: size, wait: wait, idle: make(chan *Runtime, size)}
	for len(p.idle) < size {
		rt, err := New(cfg)
		if err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("start sandbox runtime %d: %w", len(p.idle), err)
		}
		p.idle <- rt
	}
	return p, nil
}

// Acquire takes an idle runtime. The caller must hand it back with Release.
func (p *Pool) Acquire(ctx context.Context) (*Runtime, error) {
	timer := time.NewTimer(p.wait)
	defer timer.Stop()

	select {
	case rt, ok := <-p.idle:
		if !ok {
			return nil, ErrPoolClosed
		}
		return rt, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		p.exhausted.Add(1)
		return nil, ErrPoolExhausted
	}
}

// Release clears the runtime's globals and returns it to the pool. After
// Close the runtime is closed instead.
func (p *Pool) Release(rt *Runtime) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return rt.Close()
	}

	var resetErr error
	if resetErr = rt.Reset(); resetErr != nil {
		_ = rt.Close()
		fresh, err := New(p.cfg)
		if err != nil {
			return errors.Join(resetErr, fmt.Errorf("replace sandbox runtime: %w", err))
		}
		p.replaced.Add(1)
		rt = fresh
	}

	select {
	case p.idle <- rt:
	default:
		_ = rt.Close()
	}
	return resetErr
}

// Execute runs script against dom on a pooled runtime.
func (p *Pool) Execute(ctx context.Context, script string, dom *DOM) (*Result, error) {
	rt, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = p.Release(rt) }()

	p.runs.Add(1)
	res, err := rt.Execute(ctx, script, dom)
	if err != nil {
		p.failures.Add(1)
	}
	return res, err
}

// Close closes every idle runtime. Runtimes still checked out are closed on Release.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	close(p.idle)

	var errs []error
	for rt := range p.idle {
		if err := rt.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats reports occupancy and counters.
func (p *Pool) Stats() PoolStats {
	p.mu.RLock()
	closed := p.closed
	idle := len(p.idle)
	p.mu.RUnlock()

	stats := PoolStats{
		Size:      p.size,
		Idle:      idle,
		Busy:      p.size - idle,
		Runs:      p.runs.Load(),
		Failures:  p.failures.Load(),
		Replaced:  p.replaced.Load(),
		Exhausted: p.exhausted.Load(),
		Closed:    closed,
	}
	if closed {
		stats.Busy = 0
	}
	return stats
}
