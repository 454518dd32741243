// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package datasource

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/apexrules/apex/internal/errkind"
)

// PoolConfig sizes and times a connection pool.
// Invariant: 0 <= Min <= Initial <= Max.
type PoolConfig struct {
	Min     int
	Initial int
	Max     int

	ConnectionTimeout  time.Duration
	IdleTimeout        time.Duration
	MaxLifetime        time.Duration
	LeakThreshold      time.Duration
	ValidationInterval time.Duration

	TestOnBorrow  bool
	TestOnReturn  bool
	TestWhileIdle bool
}

// Validate enforces the pool sizing invariants.
func (c PoolConfig) Validate() error {
	if c.Min < 0 || c.Min > c.Initial || c.Initial > c.Max || c.Max == 0 {
		return errkind.New(errkind.Configuration,
			"pool sizes must satisfy 0 <= min <= initial <= max, got min=%d initial=%d max=%d",
			c.Min, c.Initial, c.Max)
	}
	for name, d := range map[string]time.Duration{
		"connectionTimeout": c.ConnectionTimeout,
		"idleTimeout":       c.IdleTimeout,
		"maxLifetime":       c.MaxLifetime,
	} {
		if d <= 0 {
			return errkind.New(errkind.Configuration, "pool %s must be strictly positive", name)
		}
	}
	return nil
}

// PoolObserver receives pool lifecycle events for metrics. All methods may
// be called concurrently.
type PoolObserver interface {
	ConnectionCreated()
	ConnectionFailed()
	ConnectionClosed()
	BorrowTimeout()
	LeakDetected()
	// SizeChanged reports the live and idle connection counts after any
	// change. Active connections are live minus idle.
	SizeChanged(live, idle int)
}

type nopObserver struct{}

func (nopObserver) ConnectionCreated()   {}
func (nopObserver) ConnectionFailed()    {}
func (nopObserver) ConnectionClosed()    {}
func (nopObserver) BorrowTimeout()       {}
func (nopObserver) LeakDetected()        {}
func (nopObserver) SizeChanged(int, int) {}

// pooledConn tracks one live connection's age and usage.
type pooledConn struct {
	conn          Connection
	createdAt     time.Time
	idleSince     time.Time
	lastValidated time.Time
	borrowedAt    time.Time
	leakReported  bool
}

func (pc *pooledConn) stale(maxLifetime time.Duration) bool {
	return time.Since(pc.createdAt) >= maxLifetime
}

// Pool maintains min..max live connections with initial created eagerly.
// Borrowers block up to ConnectionTimeout; an idle reaper evicts idle
// connections beyond IdleTimeout while preserving Min; connections past
// MaxLifetime are closed on release and replaced by the reaper.
type Pool struct {
	cfg      PoolConfig
	factory  Factory
	logger   *slog.Logger
	observer PoolObserver

	mu       sync.Mutex
	open     int
	borrowed map[*pooledConn]struct{}
	closed   bool

	idle   chan *pooledConn
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewPool creates and starts a pool, eagerly opening Initial connections.
// Connections that fail to open eagerly are logged and retried lazily.
func NewPool(ctx context.Context, cfg PoolConfig, factory Factory, logger *slog.Logger, observer PoolObserver) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if observer == nil {
		observer = nopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		cfg:      cfg,
		factory:  factory,
		logger:   logger,
		observer: observer,
		borrowed: map[*pooledConn]struct{}{},
		idle:     make(chan *pooledConn, cfg.Max),
		stopCh:   make(chan struct{}),
	}

	for i := 0; i < cfg.Initial; i++ {
		pc, err := p.create(ctx)
		if err != nil {
			p.logger.Warn("eager connection failed, will retry lazily",
				slog.Int("created", i), slog.Any("error", err))
			break
		}
		p.idle <- pc
	}

	p.wg.Add(1)
	go p.maintain()
	p.report()
	return p, nil
}

// Borrow acquires a connection, blocking up to ConnectionTimeout (or the
// caller's earlier deadline). Exhaustion surfaces as a Timeout error,
// caller cancellation as Cancelled.
func (p *Pool) Borrow(ctx context.Context) (Connection, error) {
	timer := time.NewTimer(p.cfg.ConnectionTimeout)
	defer timer.Stop()

	for {
		select {
		case pc := <-p.idle:
			if ok := p.vet(ctx, pc, p.cfg.TestOnBorrow); ok {
				return p.lend(pc), nil
			}
			continue
		default:
		}

		if pc, err, created := p.tryCreate(ctx); created {
			if err != nil {
				return nil, err
			}
			return p.lend(pc), nil
		}

		select {
		case pc := <-p.idle:
			if ok := p.vet(ctx, pc, p.cfg.TestOnBorrow); ok {
				return p.lend(pc), nil
			}
		case <-timer.C:
			p.observer.BorrowTimeout()
			return nil, errkind.New(errkind.Timeout,
				"no connection available within %s", p.cfg.ConnectionTimeout)
		case <-ctx.Done():
			return nil, errkind.Wrap(errkind.Cancelled, ctx.Err())
		case <-p.stopCh:
			return nil, errkind.New(errkind.Fatal, "pool is shut down")
		}
	}
}

// Release returns a borrowed connection to the pool. Connections past
// MaxLifetime (or failing the return test) are closed instead.
func (p *Pool) Release(conn Connection) {
	p.mu.Lock()
	var pc *pooledConn
	for candidate := range p.borrowed {
		if candidate.conn == conn {
			pc = candidate
			break
		}
	}
	if pc == nil {
		p.mu.Unlock()
		p.logger.Warn("release of unknown connection ignored")
		return
	}
	delete(p.borrowed, pc)
	closed := p.closed
	p.mu.Unlock()

	if closed || pc.stale(p.cfg.MaxLifetime) {
		p.destroy(pc)
		return
	}
	if p.cfg.TestOnReturn {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ConnectionTimeout)
		err := pc.conn.Ping(ctx)
		cancel()
		if err != nil {
			p.destroy(pc)
			return
		}
		pc.lastValidated = time.Now()
	}
	pc.idleSince = time.Now()
	pc.leakReported = false
	p.idle <- pc
	p.report()
}

// Stats reports current live and idle connection counts.
func (p *Pool) Stats() (live, idle int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open, len(p.idle)
}

// Close drains and closes every connection and stops maintenance. Borrowed
// connections are closed as they are released.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.stopCh)
	p.wg.Wait()

	var errs []error
	for {
		select {
		case pc := <-p.idle:
			if err := pc.conn.Close(); err != nil {
				errs = append(errs, err)
			}
			p.mu.Lock()
			p.open--
			p.mu.Unlock()
			p.observer.ConnectionClosed()
		default:
			p.report()
			return errors.Join(errs...)
		}
	}
}

// lend marks a connection borrowed.
func (p *Pool) lend(pc *pooledConn) Connection {
	p.mu.Lock()
	pc.borrowedAt = time.Now()
	p.borrowed[pc] = struct{}{}
	p.mu.Unlock()
	p.report()
	return pc.conn
}

// report pushes the current live/idle counts to the observer.
func (p *Pool) report() {
	live, idle := p.Stats()
	p.observer.SizeChanged(live, idle)
}

// vet checks staleness and optionally liveness; invalid connections are
// destroyed and false is returned.
func (p *Pool) vet(ctx context.Context, pc *pooledConn, test bool) bool {
	if pc.stale(p.cfg.MaxLifetime) {
		p.destroy(pc)
		return false
	}
	if test && time.Since(pc.lastValidated) >= p.cfg.ValidationInterval {
		if err := pc.conn.Ping(ctx); err != nil {
			p.destroy(pc)
			return false
		}
		pc.lastValidated = time.Now()
	}
	return true
}

// tryCreate opens a new connection if capacity allows. The third return
// reports whether a creation slot was taken.
func (p *Pool) tryCreate(ctx context.Context) (*pooledConn, error, bool) {
	p.mu.Lock()
	if p.closed || p.open >= p.cfg.Max {
		p.mu.Unlock()
		return nil, nil, false
	}
	p.open++
	p.mu.Unlock()

	pc, err := p.newConn(ctx)
	if err != nil {
		p.mu.Lock()
		p.open--
		p.mu.Unlock()
		return nil, err, true
	}
	return pc, nil, true
}

// create opens a connection and accounts for it; used by eager init and
// the reaper's min replenishment.
func (p *Pool) create(ctx context.Context) (*pooledConn, error) {
	p.mu.Lock()
	if p.closed || p.open >= p.cfg.Max {
		p.mu.Unlock()
		return nil, errkind.New(errkind.Internal, "pool at capacity")
	}
	p.open++
	p.mu.Unlock()

	pc, err := p.newConn(ctx)
	if err != nil {
		p.mu.Lock()
		p.open--
		p.mu.Unlock()
		return nil, err
	}
	return pc, nil
}

func (p *Pool) newConn(ctx context.Context) (*pooledConn, error) {
	conn, err := p.factory(ctx)
	if err != nil {
		p.observer.ConnectionFailed()
		return nil, err
	}
	p.observer.ConnectionCreated()
	now := time.Now()
	return &pooledConn{conn: conn, createdAt: now, idleSince: now, lastValidated: now}, nil
}

func (p *Pool) destroy(pc *pooledConn) {
	if err := pc.conn.Close(); err != nil {
		p.logger.Debug("connection close failed", slog.Any("error", err))
	}
	p.mu.Lock()
	p.open--
	p.mu.Unlock()
	p.observer.ConnectionClosed()
	p.report()
}

// maintain runs the idle reaper, min replenishment, idle validation and
// leak detection on the validation interval.
func (p *Pool) maintain() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.ValidationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

func (p *Pool) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ConnectionTimeout)
	defer cancel()

	// Rotate through current idle connections once, evicting the expired.
	for n := len(p.idle); n > 0; n-- {
		var pc *pooledConn
		select {
		case pc = <-p.idle:
		default:
			n = 0
			continue
		}

		p.mu.Lock()
		live := p.open
		p.mu.Unlock()

		if pc.stale(p.cfg.MaxLifetime) ||
			(live > p.cfg.Min && time.Since(pc.idleSince) >= p.cfg.IdleTimeout) {
			p.destroy(pc)
			continue
		}
		if p.cfg.TestWhileIdle && time.Since(pc.lastValidated) >= p.cfg.ValidationInterval {
			if err := pc.conn.Ping(ctx); err != nil {
				p.destroy(pc)
				continue
			}
			pc.lastValidated = time.Now()
		}
		p.idle <- pc
	}

	// Replenish to Min.
	for {
		p.mu.Lock()
		need := p.open < p.cfg.Min && !p.closed
		p.mu.Unlock()
		if !need {
			break
		}
		pc, err := p.create(ctx)
		if err != nil {
			p.logger.Warn("min replenishment failed", slog.Any("error", err))
			break
		}
		p.idle <- pc
		p.report()
	}

	// Leak detection: borrowed too long without return.
	p.mu.Lock()
	for pc := range p.borrowed {
		if !pc.leakReported && time.Since(pc.borrowedAt) >= p.cfg.LeakThreshold {
			pc.leakReported = true
			p.observer.LeakDetected()
			p.logger.Warn("possible connection leak",
				slog.Duration("borrowed_for", time.Since(pc.borrowedAt)),
				slog.Duration("threshold", p.cfg.LeakThreshold))
		}
	}
	p.mu.Unlock()
}
