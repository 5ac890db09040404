// Package pool implements the connection/page lease pool (C6).
//
// Grounded in the teacher's internal/resources.Manager Acquire/Release
// semaphore slots, generalized from a bare capacity counter into a full
// lease pool with per-lease aging, retirement, and a background sweeper,
// per spec §4.6.
package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/edukz/vagas-scrapy-sub001/metrics"
)

var ErrAcquireTimeout = errors.New("pool: acquire timed out")

// Page is the resource a Lease wraps. The pool never inspects it; Factory
// produces new instances and Closer (if set) disposes retired ones.
type Page any

// Factory creates a new Page instance, e.g. opening a browser tab via the
// Fetcher boundary.
type Factory func(ctx context.Context) (Page, error)

// Lease is a handle to a pooled Page plus its bookkeeping.
type Lease struct {
	Page      Page
	createdAt time.Time
	lastUsed  time.Time
	useCount  int
	inUse     bool
	errored   bool
}

// Config mirrors spec §4.6's pool parameters.
type Config struct {
	MinSize          int
	MaxSize          int
	MaxAge           time.Duration
	MaxReuse         int
	IdleScanInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxSize <= 0 {
		c.MaxSize = 10
	}
	if c.IdleScanInterval <= 0 {
		c.IdleScanInterval = 30 * time.Second
	}
	return c
}

// Pool manages idle and leased pages under a single mutex, matching the
// teacher's resources.Manager locking granularity.
type Pool struct {
	cfg     Config
	factory Factory
	closer  func(Page)
	reg     *metrics.Registry

	mu      sync.Mutex
	idle    []*Lease
	leased  map[*Lease]struct{}
	created int

	stop chan struct{}
	wg   sync.WaitGroup
}

func New(cfg Config, factory Factory, closer func(Page), reg *metrics.Registry) *Pool {
	cfg = cfg.withDefaults()
	p := &Pool{
		cfg: cfg, factory: factory, closer: closer, reg: reg,
		leased: make(map[*Lease]struct{}),
		stop:   make(chan struct{}),
	}
	return p
}

// Start fills the pool to MinSize and launches the idle sweeper.
func (p *Pool) Start(ctx context.Context) error {
	for p.size() < p.cfg.MinSize {
		if err := p.grow(ctx); err != nil {
			return err
		}
	}
	p.wg.Add(1)
	go p.sweepLoop(ctx)
	return nil
}

func (p *Pool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle) + len(p.leased)
}

func (p *Pool) grow(ctx context.Context) error {
	pg, err := p.factory(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	p.mu.Lock()
	p.idle = append(p.idle, &Lease{Page: pg, createdAt: now, lastUsed: now})
	p.created++
	p.mu.Unlock()
	p.incr("created")
	return nil
}

// Acquire pops an idle lease, creates a new one if under MaxSize, or waits
// up to timeout.
func (p *Pool) Acquire(ctx context.Context, timeout time.Duration) (*Lease, error) {
	deadline := time.Now().Add(timeout)
	for {
		p.mu.Lock()
		if n := len(p.idle); n > 0 {
			l := p.idle[n-1]
			p.idle = p.idle[:n-1]
			l.inUse = true
			l.lastUsed = time.Now()
			p.leased[l] = struct{}{}
			p.mu.Unlock()
			p.setGauges()
			return l, nil
		}
		canCreate := len(p.leased) < p.cfg.MaxSize
		p.mu.Unlock()

		if canCreate {
			if err := p.grow(ctx); err != nil {
				return nil, err
			}
			continue
		}

		if timeout <= 0 {
			p.incr("timeouts")
			return nil, ErrAcquireTimeout
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			p.incr("timeouts")
			return nil, ErrAcquireTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(min(remaining, 10*time.Millisecond)):
		}
	}
}

func min(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// Release returns a lease to the idle set, or retires it if aged, overused,
// or errored (spec §4.6).
func (p *Pool) Release(l *Lease, hadError bool) {
	l.useCount++
	l.inUse = false
	l.errored = hadError

	retire := hadError ||
		(p.cfg.MaxAge > 0 && time.Since(l.createdAt) > p.cfg.MaxAge) ||
		(p.cfg.MaxReuse > 0 && l.useCount > p.cfg.MaxReuse)

	p.mu.Lock()
	delete(p.leased, l)
	if retire {
		p.mu.Unlock()
		p.retire(l)
		p.refillToMin(context.Background())
		return
	}
	p.idle = append(p.idle, l)
	p.mu.Unlock()
	p.setGauges()
}

func (p *Pool) retire(l *Lease) {
	if p.closer != nil {
		p.closer(l.Page)
	}
	p.incr("retired")
	p.setGauges()
}

func (p *Pool) refillToMin(ctx context.Context) {
	for p.size() < p.cfg.MinSize {
		if err := p.grow(ctx); err != nil {
			return
		}
	}
}

func (p *Pool) sweepLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.IdleScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			p.sweepIdle(ctx)
		}
	}
}

func (p *Pool) sweepIdle(ctx context.Context) {
	p.mu.Lock()
	var aged []*Lease
	fresh := p.idle[:0:0]
	now := time.Now()
	for _, l := range p.idle {
		if p.cfg.MaxAge > 0 && now.Sub(l.createdAt) > p.cfg.MaxAge {
			aged = append(aged, l)
			continue
		}
		fresh = append(fresh, l)
	}
	p.idle = fresh
	p.mu.Unlock()

	for _, l := range aged {
		p.retire(l)
	}
	p.refillToMin(ctx)
}

// Stop ends the sweeper goroutine. It does not close remaining leases; call
// CloseAll for that.
func (p *Pool) Stop() {
	close(p.stop)
	p.wg.Wait()
}

// CloseAll retires every idle page. Leased pages are left for their callers
// to Release.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()
	for _, l := range idle {
		if p.closer != nil {
			p.closer(l.Page)
		}
	}
}

func (p *Pool) incr(counter string) {
	if p.reg != nil {
		p.reg.IncrementCounter("pool."+counter, 1)
	}
}

func (p *Pool) setGauges() {
	if p.reg == nil {
		return
	}
	p.mu.Lock()
	idle, leased := len(p.idle), len(p.leased)
	p.mu.Unlock()
	p.reg.SetGauge("pool.idle", float64(idle))
	p.reg.SetGauge("pool.leased", float64(leased))
}
